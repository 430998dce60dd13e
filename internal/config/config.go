// Package config loads semdex configuration from a YAML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/semdex/pkg/types"
)

// Environment variables. Each SEMDEX_ name also accepts its N5_ alias.
const (
	EnvWorkspace        = "SEMDEX_WORKSPACE"
	EnvDBPath           = "SEMDEX_DB_PATH"
	EnvIndexPath        = "SEMDEX_INDEX_PATH"
	EnvProvider         = "SEMDEX_EMBEDDING_PROVIDER"
	EnvOpenAIModel      = "SEMDEX_OPENAI_MODEL"
	EnvLexical          = "SEMDEX_LEXICAL"
	EnvReranker         = "SEMDEX_RERANKER"
	EnvLogLevel         = "SEMDEX_LOG_LEVEL"
	EnvMinEmbedInterval = "SEMDEX_MIN_EMBED_INTERVAL"
	EnvUseVectorIndex   = "USE_VECTOR_INDEX"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvJinaAPIKey       = "JINA_API_KEY"
)

var aliases = map[string]string{
	EnvWorkspace:   "N5_WORKSPACE",
	EnvDBPath:      "N5_BRAIN_DB",
	EnvIndexPath:   "N5_HNSW_INDEX",
	EnvProvider:    "N5_EMBEDDING_PROVIDER",
	EnvOpenAIModel: "N5_OPENAI_EMBEDDING_MODEL",
}

// FileName is the config file looked for in the working directory
const FileName = "semdex.yaml"

var ErrInvalidConfig = fmt.Errorf("invalid config: %w", types.ErrConfiguration)

// Config is the complete runtime configuration
type Config struct {
	Workspace      string              `yaml:"workspace"`
	DBPath         string              `yaml:"db_path"`
	IndexPath      string              `yaml:"index_path"`
	UseVectorIndex bool                `yaml:"use_vector_index"`
	LogLevel       string              `yaml:"log_level"`
	Lexical        string              `yaml:"lexical"`
	Embedding      EmbeddingConfig     `yaml:"embedding"`
	Reranker       RerankerConfig      `yaml:"reranker"`
	Chunker        ChunkerConfig       `yaml:"chunker"`
	Search         SearchConfig        `yaml:"search"`
	Indexer        IndexerConfig       `yaml:"indexer"`
	Profiles       map[string][]string `yaml:"profiles"`

	// Source is the file the config was read from, empty for defaults
	Source string `yaml:"-"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	BaseURL     string        `yaml:"base_url"`
	LocalURL    string        `yaml:"local_url"`
	APIKey      string        `yaml:"api_key"`
	JinaAPIKey  string        `yaml:"jina_api_key"`
	CacheSize   int           `yaml:"cache_size"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// RerankerConfig selects the optional cross-encoder
type RerankerConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// ChunkerConfig sizes chunks in characters
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

// SearchConfig tunes the searcher
type SearchConfig struct {
	Overfetch int           `yaml:"overfetch"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// IndexerConfig tunes bulk indexing and watching
type IndexerConfig struct {
	Workers    int           `yaml:"workers"`
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// DefaultWorkspace is ~/workspace, or "workspace" when the home directory is unknown
func DefaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "workspace"
	}
	return filepath.Join(home, "workspace")
}

// Default returns the configuration used when nothing overrides it.
// Workspace-relative paths are filled in by finalize.
func Default() *Config {
	return &Config{
		UseVectorIndex: true,
		LogLevel:       "info",
		Lexical:        "bm25",
		Embedding: EmbeddingConfig{
			Provider:    "local",
			CacheSize:   1000,
			MinInterval: 100 * time.Millisecond,
		},
		Reranker: RerankerConfig{Provider: "none"},
		Chunker: ChunkerConfig{
			ChunkSize:    1000,
			MinChunkSize: 200,
		},
		Search: SearchConfig{
			Overfetch: 4,
			CacheSize: 1000,
			CacheTTL:  10 * time.Minute,
		},
		Indexer: IndexerConfig{
			Extensions: []string{".md", ".markdown", ".txt"},
			Debounce:   500 * time.Millisecond,
		},
	}
}

// DefaultProfiles are the named retrieval profiles rooted at workspace
func DefaultProfiles(workspace string) map[string][]string {
	dir := func(parts ...string) string {
		return filepath.Join(append([]string{workspace}, parts...)...) + string(filepath.Separator)
	}
	return map[string][]string{
		"documents": {dir("Documents")},
		"notes":     {dir("Notes"), dir("Knowledge")},
		"prompts":   {dir("Prompts"), dir("N5", "workflows")},
	}
}

// SearchPaths lists the config files tried when none is given, in order
func SearchPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "semdex", "config.yaml"))
	}
	return paths
}

// Load builds the configuration. When path is empty the SearchPaths are tried
// and defaults are used if none exists; an explicit path must exist. A .env
// file in the working directory is loaded first without overriding variables
// already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	c.Source = path
	return nil
}

// lookup returns the value of name or its alias, preferring name
func lookup(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	if alias, ok := aliases[name]; ok {
		if v, ok := os.LookupEnv(alias); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		EnvWorkspace:    &c.Workspace,
		EnvDBPath:       &c.DBPath,
		EnvIndexPath:    &c.IndexPath,
		EnvProvider:     &c.Embedding.Provider,
		EnvOpenAIModel:  &c.Embedding.Model,
		EnvLexical:      &c.Lexical,
		EnvReranker:     &c.Reranker.Provider,
		EnvLogLevel:     &c.LogLevel,
		EnvOpenAIAPIKey: &c.Embedding.APIKey,
		EnvJinaAPIKey:   &c.Embedding.JinaAPIKey,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(EnvUseVectorIndex); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvUseVectorIndex, v)
		}
		c.UseVectorIndex = b
	}

	if v, ok := lookup(EnvMinEmbedInterval); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvMinEmbedInterval, v)
		}
		c.Embedding.MinInterval = d
	}
	return nil
}

// finalize resolves workspace-relative defaults and validates the result
func (c *Config) finalize() error {
	if c.Workspace == "" {
		c.Workspace = DefaultWorkspace()
	}
	c.Workspace = expandHome(c.Workspace)
	// Stored paths are absolute, so a relative workspace would filter nothing
	if abs, err := filepath.Abs(c.Workspace); err == nil {
		c.Workspace = abs
	}

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.Workspace, "N5", "cognition", "brain.db")
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.Workspace, "N5", "cognition", "brain.hnsw")
	}
	c.DBPath = expandHome(c.DBPath)
	c.IndexPath = expandHome(c.IndexPath)

	// Configured profiles may reference ${workspace}; defaults fill the gaps
	profiles := DefaultProfiles(c.Workspace)
	for name, prefixes := range c.Profiles {
		expanded := make([]string, 0, len(prefixes))
		for _, p := range prefixes {
			expanded = append(expanded, c.expandWorkspace(p))
		}
		profiles[name] = expanded
	}
	c.Profiles = profiles

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Embedding.CacheSize < 0 || c.Search.CacheSize < 0 {
		return fmt.Errorf("%w: cache sizes must not be negative", ErrInvalidConfig)
	}
	if c.Search.Overfetch < 0 || c.Indexer.Workers < 0 {
		return fmt.Errorf("%w: overfetch and workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) expandWorkspace(s string) string {
	s = os.Expand(s, func(key string) string {
		if strings.EqualFold(key, "workspace") {
			return c.Workspace
		}
		return os.Getenv(key)
	})
	return expandHome(s)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return level, nil
}

// ProfileNames returns the configured profile names, sorted
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLogger returns a text logger on stderr at the configured level.
// Stdout stays free for the MCP protocol.
func (c *Config) NewLogger() *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

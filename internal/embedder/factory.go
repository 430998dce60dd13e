package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/semdex/pkg/types"
)

// Environment variable names for API keys
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// DefaultPingTimeout bounds the local provider availability check
const DefaultPingTimeout = 3 * time.Second

// Config holds embedder configuration
type Config struct {
	Provider     string // openai, jina, local, compat, hash; empty means local
	Model        string // Provider model override
	Dimension    int    // Required for unknown models; otherwise derived
	APIKey       string // OpenAI key; resolved from env and secret files when empty
	JinaAPIKey   string
	BaseURL      string // Endpoint override for openai, jina and compat
	LocalURL     string // Ollama base URL
	Workspace    string // Root used for the workspace secret file
	CacheSize    int
	MinInterval  time.Duration // Rate limit spacing; zero uses DefaultMinInterval
	PingTimeout time.Duration
}

// SecretFilePaths lists where an OpenAI key is looked for, in order
func SecretFilePaths(workspace string) []string {
	var paths []string
	if workspace != "" {
		paths = append(paths, filepath.Join(workspace, "N5", "config", "secrets", "openai.key"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "openai", "api_key"),
			filepath.Join(home, ".openai_api_key"),
		)
	}
	return paths
}

// ResolveOpenAIKey finds an OpenAI key from config, then the environment,
// then secret files. fromFile reports whether a secret file supplied it.
func ResolveOpenAIKey(cfg Config) (key string, fromFile bool) {
	if cfg.APIKey != "" {
		return cfg.APIKey, false
	}
	if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
		return key, false
	}
	for _, p := range SecretFilePaths(cfg.Workspace) {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, true
		}
	}
	return "", false
}

// NewFromConfig builds the configured embedder, wrapped in a rate limiter.
//
// When the requested provider lacks credentials or cannot be constructed, the
// substitution is logged and the local provider is tried instead. If the local
// provider is unreachable too, a ConfigurationError is returned.
func NewFromConfig(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "embedder")

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	interval := cfg.MinInterval
	if interval == 0 {
		interval = DefaultMinInterval
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderLocal
	}

	openAIKey, fromFile := ResolveOpenAIKey(cfg)
	if fromFile && provider != ProviderOpenAI {
		logger.Info("OpenAI key found in secret file, selecting openai provider", "previous", provider)
		provider = ProviderOpenAI
	}

	emb, err := newProvider(ctx, provider, cfg, openAIKey, cache)
	if err != nil && provider != ProviderLocal {
		logger.Warn("embedding provider unavailable, falling back to local",
			"provider", provider, "err", err)
		emb, err = newProvider(ctx, ProviderLocal, cfg, openAIKey, cache)
	}
	if err != nil {
		return nil, types.NewConfigurationError("embedder",
			fmt.Errorf("%w: %v", ErrNoProviderEnabled, err))
	}

	logger.Info("using embedding provider",
		"provider", emb.Provider(), "model", emb.Model(), "dimension", emb.Dimension())
	return NewLimited(emb, interval), nil
}

func newProvider(ctx context.Context, provider string, cfg Config, openAIKey string, cache *Cache) (Embedder, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:    openAIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
		}, cache)

	case ProviderJina:
		key := cfg.JinaAPIKey
		if key == "" {
			key = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaProvider(key, cfg.BaseURL, cache)

	case ProviderCompat:
		return NewCompatProvider(ctx, CompatOptions{
			BaseURL:   cfg.BaseURL,
			APIKey:    openAIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, cache)

	case ProviderHash:
		return NewHashProvider(cfg.Dimension), nil

	case ProviderLocal:
		local := NewLocalProvider(LocalOptions{
			BaseURL:   cfg.LocalURL,
			Model:     localModel(cfg),
			Dimension: localDimension(cfg),
		}, cache)
		timeout := cfg.PingTimeout
		if timeout <= 0 {
			timeout = DefaultPingTimeout
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := local.Ping(pingCtx); err != nil {
			return nil, err
		}
		return local, nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, provider)
	}
}

// localModel keeps a model override only when the local provider was asked for
func localModel(cfg Config) string {
	if strings.EqualFold(cfg.Provider, ProviderLocal) {
		return cfg.Model
	}
	return ""
}

func localDimension(cfg Config) int {
	if strings.EqualFold(cfg.Provider, ProviderLocal) {
		return cfg.Dimension
	}
	return 0
}

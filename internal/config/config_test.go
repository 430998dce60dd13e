package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semdex/pkg/types"
)

// isolate runs the test in an empty working directory with an empty home and
// every recognised variable cleared
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for name, alias := range aliases {
		t.Setenv(name, "")
		t.Setenv(alias, "")
	}
	for _, name := range []string{EnvLexical, EnvReranker, EnvLogLevel, EnvMinEmbedInterval,
		EnvUseVectorIndex, EnvOpenAIAPIKey, EnvJinaAPIKey} {
		t.Setenv(name, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	ws := filepath.Join(home, "workspace")
	assert.Empty(t, cfg.Source)
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, "N5", "cognition", "brain.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(ws, "N5", "cognition", "brain.hnsw"), cfg.IndexPath)
	assert.True(t, cfg.UseVectorIndex)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 100*time.Millisecond, cfg.Embedding.MinInterval)
	assert.Equal(t, "bm25", cfg.Lexical)
	assert.Equal(t, "none", cfg.Reranker.Provider)
	assert.Equal(t, 4, cfg.Search.Overfetch)

	assert.Equal(t, []string{"documents", "notes", "prompts"}, cfg.ProfileNames())
	assert.Equal(t, []string{
		filepath.Join(ws, "Notes") + string(filepath.Separator),
		filepath.Join(ws, "Knowledge") + string(filepath.Separator),
	}, cfg.Profiles["notes"])
}

func TestLoad_RelativeWorkspace(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, FileName), "workspace: rel/ws\n")
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := Load("")
	require.NoError(t, err)

	ws := filepath.Join(wd, "rel", "ws")
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, "N5", "cognition", "brain.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(ws, "Documents")+string(filepath.Separator), cfg.Profiles["documents"][0])
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, FileName), `
workspace: /srv/ws
use_vector_index: false
lexical: bleve
embedding:
  provider: openai
  model: text-embedding-3-small
  min_interval: 250ms
reranker:
  provider: jina
search:
  cache_ttl: 1m
profiles:
  code:
    - ${workspace}/Code/
  notes:
    - /elsewhere/
`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, FileName, cfg.Source)
	assert.Equal(t, "/srv/ws", cfg.Workspace)
	assert.Equal(t, filepath.Join("/srv/ws", "N5", "cognition", "brain.db"), cfg.DBPath)
	assert.False(t, cfg.UseVectorIndex)
	assert.Equal(t, "bleve", cfg.Lexical)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.MinInterval)
	assert.Equal(t, 1000, cfg.Embedding.CacheSize, "unset fields keep defaults")
	assert.Equal(t, "jina", cfg.Reranker.Provider)
	assert.Equal(t, time.Minute, cfg.Search.CacheTTL)

	assert.Equal(t, []string{"/srv/ws/Code/"}, cfg.Profiles["code"])
	assert.Equal(t, []string{"/elsewhere/"}, cfg.Profiles["notes"])
	assert.Contains(t, cfg.Profiles, "documents")
}

func TestLoad_UserConfig(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".config", "semdex", "config.yaml"), "lexical: none\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Lexical)
	assert.Equal(t, filepath.Join(home, ".config", "semdex", "config.yaml"), cfg.Source)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "workspace: [unterminated\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestLoad_Env(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, FileName), "workspace: /from/file\nlexical: bleve\n")

	t.Setenv(EnvWorkspace, "/from/env")
	t.Setenv(EnvLexical, "none")
	t.Setenv(EnvUseVectorIndex, "false")
	t.Setenv(EnvMinEmbedInterval, "2s")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvOpenAIAPIKey, "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Workspace)
	assert.Equal(t, "none", cfg.Lexical)
	assert.False(t, cfg.UseVectorIndex)
	assert.Equal(t, 2*time.Second, cfg.Embedding.MinInterval)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvAliases(t *testing.T) {
	isolate(t)
	t.Setenv("N5_WORKSPACE", "/n5")
	t.Setenv("N5_BRAIN_DB", "/n5/custom.db")
	t.Setenv("N5_EMBEDDING_PROVIDER", "openai")
	t.Setenv("N5_OPENAI_EMBEDDING_MODEL", "text-embedding-3-large")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/n5", cfg.Workspace)
	assert.Equal(t, "/n5/custom.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)

	t.Run("primary name wins", func(t *testing.T) {
		t.Setenv(EnvWorkspace, "/primary")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "/primary", cfg.Workspace)
	})
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "SEMDEX_RERANKER=jina\n")
	t.Cleanup(func() { _ = os.Unsetenv(EnvReranker) })
	require.NoError(t, os.Unsetenv(EnvReranker))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "jina", cfg.Reranker.Provider)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bool", EnvUseVectorIndex, "maybe"},
		{"duration", EnvMinEmbedInterval, "fast"},
		{"log level", EnvLogLevel, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := isolate(t)

	assert.Equal(t, filepath.Join(home, "x"), expandHome("~/x"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}

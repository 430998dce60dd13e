package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/semdex/internal/config"
	"github.com/dshills/semdex/internal/engine"
	"github.com/dshills/semdex/internal/storage"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "semdex",
	Short: "Hybrid semantic search over a workspace of documents",
	Long: `semdex indexes markdown and text documents into SQLite and answers
natural language queries by blending embedding similarity, BM25 keyword
relevance and content recency. Run "semdex serve" to expose it over MCP.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("semdex %s (built %s, %s build, %s driver)\n",
		version, buildTime, storage.BuildMode, storage.DriverName))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./semdex.yaml or ~/.config/semdex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
		if _, err := loaded.SlogLevel(); err != nil {
			return err
		}
	}

	cfg = loaded
	logger = cfg.NewLogger()
	slog.SetDefault(logger)
	if cfg.Source != "" {
		logger.Debug("loaded config", "path", cfg.Source)
	}
	return nil
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.Open(ctx, cfg, engine.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

// closeEngine logs instead of returning so it can be deferred
func closeEngine(e *engine.Engine) {
	if err := e.Close(); err != nil {
		logger.Warn("failed to close engine", "error", err)
	}
}

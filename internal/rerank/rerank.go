// Package rerank rescores query/document pairs with a cross-encoder.
//
// Reranking is optional. When no reranker is configured, or its credentials
// are missing, None is used and callers skip the step.
package rerank

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Reranker names
const (
	NameJina = "jina"
	NameNone = "none"
)

// Reranker scores documents against a query
type Reranker interface {
	// Rerank returns one relevance score per document, in input order
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)

	// Available reports whether reranking is possible
	Available() bool

	// Name identifies the implementation
	Name() string
}

// Config selects and configures a reranker
type Config struct {
	Provider    string // jina or none; empty means none
	APIKey      string // Falls back to JINA_API_KEY
	Model       string
	BaseURL     string
	MinInterval time.Duration
}

// New builds the configured reranker. A reranker that cannot be constructed
// is logged and replaced by None.
func New(cfg Config, logger *slog.Logger) Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reranker")

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", NameNone, "off":
		return None{}
	case NameJina:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("JINA_API_KEY")
		}
		r, err := NewJina(JinaOptions{
			APIKey:      key,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MinInterval: cfg.MinInterval,
		})
		if err != nil {
			logger.Warn("reranker unavailable, continuing without reranking", "provider", cfg.Provider, "err", err)
			return None{}
		}
		logger.Info("reranker initialized", "provider", NameJina, "model", r.model)
		return r
	default:
		logger.Warn("unknown reranker, continuing without reranking", "provider", cfg.Provider)
		return None{}
	}
}

// None is the absent reranker
type None struct{}

func (None) Rerank(context.Context, string, []string) ([]float64, error) { return nil, nil }
func (None) Available() bool                                             { return false }
func (None) Name() string                                                { return NameNone }

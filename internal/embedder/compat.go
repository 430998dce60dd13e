package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ProviderCompat names OpenAI-compatible servers (llama.cpp, LM Studio, vLLM)
const ProviderCompat = "compat"

// CompatOptions configures a CompatProvider
type CompatOptions struct {
	BaseURL   string // e.g. http://localhost:8080/v1
	APIKey    string // Many local servers accept any token
	Model     string
	Dimension int // Detected with a one-off request when zero
}

// CompatProvider implements Embedder on any OpenAI-compatible endpoint via langchaingo
type CompatProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	cache     *Cache
	logger    *slog.Logger
}

// NewCompatProvider creates a CompatProvider. When opts.Dimension is zero the
// server is asked to embed a sample string to learn the output size.
func NewCompatProvider(ctx context.Context, opts CompatOptions, cache *Cache) (*CompatProvider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: compat provider needs a base URL", ErrNoProviderEnabled)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: compat provider needs a model", ErrUnsupportedModel)
	}
	token := opts.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create compat client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create compat embedder: %w", err)
	}

	p := &CompatProvider{
		embedder:  emb,
		model:     opts.Model,
		dimension: opts.Dimension,
		cache:     cache,
		logger:    slog.Default().With("component", "compat-embedder"),
	}

	if p.dimension <= 0 {
		vecs, err := emb.EmbedDocuments(ctx, []string{"dimension check"})
		if err != nil {
			return nil, fmt.Errorf("%w: compat dimension check: %v", ErrProviderFailed, err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("%w: compat dimension check returned no vector", ErrProviderFailed)
		}
		p.dimension = len(vecs[0])
		p.logger.Info("detected embedding dimension", "model", opts.Model, "dimension", p.dimension)
	}

	return p, nil
}

func (c *CompatProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := c.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts with the configured model; req.Model is ignored
// because the langchaingo client binds its model at construction.
func (c *CompatProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embs, err := embedWithCache(ctx, c.cache, req.Texts, c.model, c.embedDocuments)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embs,
		Provider:   ProviderCompat,
		Model:      c.model,
	}, nil
}

func (c *CompatProvider) embedDocuments(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	c.logger.Debug("generating embeddings for texts", "count", len(texts))

	vecs, err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
		return c.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		c.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, fmt.Errorf("%w: compat: %v", ErrProviderFailed, err)
	}

	out := make([]*Embedding, len(vecs))
	for i, v := range vecs {
		out[i] = &Embedding{
			Vector:    v,
			Dimension: len(v),
			Provider:  ProviderCompat,
			Model:     model,
		}
	}
	return out, nil
}

func (c *CompatProvider) Dimension() int   { return c.dimension }
func (c *CompatProvider) Provider() string { return ProviderCompat }
func (c *CompatProvider) Model() string    { return c.model }
func (c *CompatProvider) Close() error     { return nil }

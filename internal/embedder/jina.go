package embedder

import (
	"context"
	"fmt"
)

// Jina configuration
const (
	ProviderJina = "jina"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultJinaBaseURL = "https://api.jina.ai/v1"
	JinaDimension      = 1024
)

// JinaProvider implements Embedder using the Jina AI embeddings API
type JinaProvider struct {
	api   *embeddingsAPI
	model string
	cache *Cache
}

// NewJinaProvider creates a new Jina AI embedder. An empty baseURL uses the public API.
func NewJinaProvider(apiKey, baseURL string, cache *Cache) (*JinaProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Jina API key not set", ErrNoProviderEnabled)
	}
	if baseURL == "" {
		baseURL = DefaultJinaBaseURL
	}

	api := newEmbeddingsAPI(baseURL+"/embeddings", apiKey, ProviderJina)
	api.extra = map[string]interface{}{
		"task":       "retrieval.passage",
		"dimensions": JinaDimension,
	}

	return &JinaProvider{
		api:   api,
		model: DefaultJinaModel,
		cache: cache,
	}, nil
}

func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := j.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = j.model
	}

	embeddings, err := embedWithCache(ctx, j.cache, req.Texts, model, j.api.embed)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderJina,
		Model:      model,
	}, nil
}

func (j *JinaProvider) Dimension() int   { return JinaDimension }
func (j *JinaProvider) Provider() string { return ProviderJina }
func (j *JinaProvider) Model() string    { return j.model }

func (j *JinaProvider) Close() error {
	j.api.close()
	return nil
}

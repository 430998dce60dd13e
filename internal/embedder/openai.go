package embedder

import (
	"context"
	"fmt"
)

// OpenAI configuration
const (
	ProviderOpenAI = "openai"

	DefaultOpenAIModel   = "text-embedding-3-large"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// openAIDimensions lists the native output size of known OpenAI models
var openAIDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIDimension returns the dimension of a known OpenAI model, or 0
func OpenAIDimension(model string) int {
	return openAIDimensions[model]
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	api       *embeddingsAPI
	model     string
	dimension int
	cache     *Cache
}

// OpenAIOptions configures an OpenAIProvider
type OpenAIOptions struct {
	APIKey    string
	Model     string // Defaults to text-embedding-3-large
	BaseURL   string // Defaults to https://api.openai.com/v1
	Dimension int    // Required for models not in the built-in table
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts OpenAIOptions, cache *Cache) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrNoProviderEnabled)
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenAIBaseURL
	}
	dim := opts.Dimension
	if dim <= 0 {
		dim = OpenAIDimension(opts.Model)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for model %s", ErrUnsupportedModel, opts.Model)
	}

	return &OpenAIProvider{
		api:       newEmbeddingsAPI(opts.BaseURL+"/embeddings", opts.APIKey, ProviderOpenAI),
		model:     opts.Model,
		dimension: dim,
		cache:     cache,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	embeddings, err := embedWithCache(ctx, o.cache, req.Texts, model, o.api.embed)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

func (o *OpenAIProvider) Dimension() int   { return o.dimension }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.model }

func (o *OpenAIProvider) Close() error {
	o.api.close()
	return nil
}

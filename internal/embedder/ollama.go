package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Local (Ollama) configuration
const (
	ProviderLocal = "local"

	DefaultLocalBaseURL = "http://localhost:11434"
	DefaultLocalModel   = "all-minilm"
	LocalDimension      = 384
)

// LocalProvider implements Embedder against a local Ollama server, which
// serves sentence-transformer models such as all-MiniLM-L6-v2.
type LocalProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// LocalOptions configures a LocalProvider
type LocalOptions struct {
	BaseURL   string
	Model     string
	Dimension int
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewLocalProvider creates a local embedder. Call Ping to check availability.
func NewLocalProvider(opts LocalOptions, cache *Cache) *LocalProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultLocalBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultLocalModel
	}
	if opts.Dimension <= 0 {
		opts.Dimension = LocalDimension
	}
	return &LocalProvider{
		baseURL:   opts.BaseURL,
		model:     opts.Model,
		dimension: opts.Dimension,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		cache: cache,
	}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = l.model
	}

	embeddings, err := embedWithCache(ctx, l.cache, req.Texts, model, l.embedEach)
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      model,
	}, nil
}

// embedEach calls the single-prompt endpoint once per text; Ollama's
// /api/embeddings has no batch form.
func (l *LocalProvider) embedEach(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	for i, text := range texts {
		vec, err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() ([]float32, error) {
			return l.call(ctx, text, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: local: embed text %d: %v", ErrProviderFailed, i, err)
		}
		out[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderLocal,
			Model:     model,
		}
	}
	return out, nil
}

func (l *LocalProvider) call(ctx context.Context, text, model string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
		if isPermanentStatus(resp.StatusCode) {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var embedResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(embedResp.Embedding))
	for i, v := range embedResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping checks that the Ollama server is reachable without running inference
func (l *LocalProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("local: failed to create ping request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("local: ping failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local: API returned status %d", resp.StatusCode)
	}
	return nil
}

func (l *LocalProvider) Dimension() int   { return l.dimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }

func (l *LocalProvider) Close() error {
	l.httpClient.CloseIdleConnections()
	return nil
}

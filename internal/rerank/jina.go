package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dshills/semdex/internal/embedder"
)

// Jina reranker defaults
const (
	DefaultJinaModel   = "jina-reranker-v2-base-multilingual"
	DefaultJinaBaseURL = "https://api.jina.ai/v1"
)

// ErrNoAPIKey is returned when the Jina reranker has no credentials
var ErrNoAPIKey = errors.New("rerank: API key not set")

// JinaOptions configures a Jina reranker
type JinaOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MinInterval time.Duration
}

// Jina scores pairs with Jina's hosted cross-encoder
type Jina struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	limiter    *embedder.RateLimiter
}

type jinaRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type jinaResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewJina creates a Jina reranker
func NewJina(opts JinaOptions) (*Jina, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if opts.Model == "" {
		opts.Model = DefaultJinaModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultJinaBaseURL
	}
	interval := opts.MinInterval
	if interval == 0 {
		interval = embedder.DefaultMinInterval
	}
	return &Jina{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		url:        opts.BaseURL + "/rerank",
		httpClient: &http.Client{Timeout: embedder.DefaultHTTPTimeout},
		limiter:    embedder.NewRateLimiter(interval),
	}, nil
}

func (j *Jina) Available() bool { return true }
func (j *Jina) Name() string    { return NameJina }

// Rerank implements Reranker
func (j *Jina) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return embedder.RetryWithBackoff(ctx, embedder.DefaultRetryConfig(), func() ([]float64, error) {
		return j.call(ctx, query, docs)
	})
}

func (j *Jina) call(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(jinaRequest{
		Model:     j.model,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp jinaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range apiResp.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("rerank response index %d out of range", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing document %d", i)
		}
	}
	return scores, nil
}

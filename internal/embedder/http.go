package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// DefaultHTTPTimeout bounds a single embedding API call
const DefaultHTTPTimeout = 30 * time.Second

// embeddingsAPI calls an endpoint speaking the OpenAI embeddings wire format,
// which Jina's API also follows.
type embeddingsAPI struct {
	url        string
	apiKey     string
	provider   string
	httpClient *http.Client
	extra      map[string]interface{} // Provider-specific request fields
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func newEmbeddingsAPI(url, apiKey, provider string) *embeddingsAPI {
	return &embeddingsAPI{
		url:      url,
		apiKey:   apiKey,
		provider: provider,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
	}
}

// embed issues one request with retry. 4xx responses other than 429 are not retried.
func (a *embeddingsAPI) embed(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	embeddings, err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() ([]*Embedding, error) {
		return a.call(ctx, texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, a.provider, err)
	}
	return embeddings, nil
}

func (a *embeddingsAPI) call(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	for k, v := range a.extra {
		reqBody[k] = v
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if isPermanentStatus(resp.StatusCode) {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	responseModel := apiResp.Model
	if responseModel == "" {
		responseModel = model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  a.provider,
			Model:     responseModel,
		}
	}
	return embeddings, nil
}

func (a *embeddingsAPI) close() {
	a.httpClient.CloseIdleConnections()
}

func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

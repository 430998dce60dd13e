package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hash provider configuration
const (
	ProviderHash         = "hash"
	DefaultHashDimension = 256
	hashModel            = "feature-hash-v1"
)

// HashProvider produces deterministic bag-of-words feature-hash vectors with
// no network or model dependency. Texts sharing words get positive cosine
// similarity, which is enough for offline smoke runs and tests. It is only
// used when selected explicitly.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a HashProvider; dimension <= 0 uses DefaultHashDimension
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

func (h *HashProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Embedding{
		Vector:    h.vector(req.Text),
		Dimension: h.dimension,
		Provider:  ProviderHash,
		Model:     hashModel,
		Hash:      ComputeHash(req.Text),
	}, nil
}

func (h *HashProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	out := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := h.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return &BatchEmbeddingResponse{Embeddings: out, Provider: ProviderHash, Model: hashModel}, nil
}

func (h *HashProvider) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		bucket := int(sum % uint64(h.dimension))
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	return NormalizeVector(vec)
}

func (h *HashProvider) Dimension() int   { return h.dimension }
func (h *HashProvider) Provider() string { return ProviderHash }
func (h *HashProvider) Model() string    { return hashModel }
func (h *HashProvider) Close() error     { return nil }

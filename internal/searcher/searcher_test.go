package searcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semdex/internal/ann"
	"github.com/dshills/semdex/internal/embedder"
	"github.com/dshills/semdex/internal/lexical"
	"github.com/dshills/semdex/internal/storage"
	"github.com/dshills/semdex/pkg/types"
)

// keywordEmbedder maps text to counts of a few keywords plus a bias term,
// so similarity is predictable in tests.
type keywordEmbedder struct {
	words []string
	err   error
	calls int
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{words: []string{"alpha", "beta", "gamma"}}
}

func (m *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(m.words)+1)
	for i, w := range m.words {
		vec[i] = float32(strings.Count(lower, w))
	}
	vec[len(m.words)] = 0.1
	return vec
}

func (m *keywordEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &embedder.Embedding{
		Vector:    m.vector(req.Text),
		Dimension: m.Dimension(),
		Provider:  "mock",
		Model:     "mock-model",
		Hash:      embedder.ComputeHash(req.Text),
	}, nil
}

func (m *keywordEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Provider: "mock", Model: "mock-model"}
	for _, text := range req.Texts {
		emb, err := m.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		resp.Embeddings = append(resp.Embeddings, emb)
	}
	return resp, nil
}

func (m *keywordEmbedder) Dimension() int   { return len(m.words) + 1 }
func (m *keywordEmbedder) Provider() string { return "mock" }
func (m *keywordEmbedder) Model() string    { return "mock-model" }
func (m *keywordEmbedder) Close() error     { return nil }

// setupTestSearcher creates a searcher with in-memory storage and the keyword embedder
func setupTestSearcher(t *testing.T, opts Options) (*Searcher, *storage.SQLiteStorage, *keywordEmbedder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := newKeywordEmbedder()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	return NewSearcher(store, emb, opts), store, emb
}

// indexDoc stores one resource whose blocks are the given texts
func indexDoc(t *testing.T, store storage.Storage, emb *keywordEmbedder, path string, tags []string, date string, texts ...string) {
	t.Helper()
	rid := types.ResourceID(path)
	blocks := make([]*types.Block, len(texts))
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		blocks[i] = &types.Block{
			ID:          types.BlockID(rid, i),
			ResourceID:  rid,
			BlockType:   types.BlockTypeText,
			Content:     text,
			StartLine:   i + 1,
			EndLine:     i + 1,
			ContentDate: date,
		}
		vectors[i] = emb.vector(text)
	}
	res := &types.Resource{Path: path, ContentHash: types.ContentHash(strings.Join(texts, "\n")), ContentDate: date, Tags: tags}
	require.NoError(t, store.ReplaceResource(context.Background(), res, blocks, vectors))
}

func seedCorpus(t *testing.T, store storage.Storage, emb *keywordEmbedder) {
	indexDoc(t, store, emb, "/ws/Notes/a.md", []string{"greek"}, "", "alpha alpha notes", "beta overview")
	indexDoc(t, store, emb, "/ws/Knowledge/b.md", nil, "", "gamma research", "alpha and gamma")
	indexDoc(t, store, emb, "/ws/Documents/c.md", []string{"greek"}, "", "beta beta report", "misc text")
}

func resultIDs(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.BlockID
	}
	return out
}

func TestNewSearchRequest(t *testing.T) {
	req := NewSearchRequest("q")
	assert.Equal(t, "q", req.Query)
	assert.Equal(t, 10, req.Limit)
	assert.Equal(t, 0.2, req.RecencyWeight)
	assert.True(t, req.UseHybrid)
	assert.Equal(t, 0.7, req.SemanticWeight)
	assert.Equal(t, 0.3, req.BM25Weight)
	assert.False(t, req.UseReranker)
	assert.Equal(t, 50, req.RerankTopK)
	assert.True(t, req.UseANN)
	assert.True(t, req.UseCache)
}

func TestValidateRequest(t *testing.T) {
	s, _, _ := setupTestSearcher(t, Options{Profiles: map[string][]string{
		"notes": {"/ws/Notes/", "/ws/Knowledge/"},
	}})

	tests := []struct {
		name    string
		mutate  func(*SearchRequest)
		wantErr error
		check   func(t *testing.T, req SearchRequest)
	}{
		{
			name:    "empty query",
			mutate:  func(r *SearchRequest) { r.Query = "   " },
			wantErr: ErrEmptyQuery,
		},
		{
			name:   "limit defaults",
			mutate: func(r *SearchRequest) { r.Limit = 0 },
			check:  func(t *testing.T, req SearchRequest) { assert.Equal(t, DefaultLimit, req.Limit) },
		},
		{
			name:   "large limit kept",
			mutate: func(r *SearchRequest) { r.Limit = 1000 },
			check:  func(t *testing.T, req SearchRequest) { assert.Equal(t, 1000, req.Limit) },
		},
		{
			name:   "rerank top k defaults",
			mutate: func(r *SearchRequest) { r.RerankTopK = -1 },
			check:  func(t *testing.T, req SearchRequest) { assert.Equal(t, DefaultRerankTopK, req.RerankTopK) },
		},
		{
			name:    "negative weight",
			mutate:  func(r *SearchRequest) { r.BM25Weight = -0.1 },
			wantErr: ErrInvalidWeight,
		},
		{
			name: "hybrid weights above one",
			mutate: func(r *SearchRequest) {
				r.SemanticWeight = 2
				r.BM25Weight = 1.5
			},
			check: func(t *testing.T, req SearchRequest) {
				assert.Equal(t, 2.0, req.SemanticWeight)
				assert.Equal(t, 1.5, req.BM25Weight)
			},
		},
		{
			name:    "NaN weight",
			mutate:  func(r *SearchRequest) { r.SemanticWeight = math.NaN() },
			wantErr: ErrInvalidWeight,
		},
		{
			name:    "recency weight above one",
			mutate:  func(r *SearchRequest) { r.RecencyWeight = 1.5 },
			wantErr: ErrInvalidWeight,
		},
		{
			name: "profile adds prefixes",
			mutate: func(r *SearchRequest) {
				r.Profile = "notes"
				r.PathPrefixes = []string{"/extra/"}
			},
			check: func(t *testing.T, req SearchRequest) {
				assert.Equal(t, []string{"/extra/", "/ws/Notes/", "/ws/Knowledge/"}, req.PathPrefixes)
			},
		},
		{
			name:   "relative prefix resolved",
			mutate: func(r *SearchRequest) { r.PathPrefixes = []string{"Notes/", "/abs/"} },
			check: func(t *testing.T, req SearchRequest) {
				abs, err := filepath.Abs("Notes")
				require.NoError(t, err)
				assert.Equal(t, []string{abs + string(filepath.Separator), "/abs/"}, req.PathPrefixes)
			},
		},
		{
			name:   "unknown profile ignored",
			mutate: func(r *SearchRequest) { r.Profile = "nope" },
			check:  func(t *testing.T, req SearchRequest) { assert.Empty(t, req.PathPrefixes) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewSearchRequest("alpha")
			tt.mutate(&req)
			err := s.validateRequest(&req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	s, _, _ := setupTestSearcher(t, Options{})

	resp, err := s.Search(context.Background(), NewSearchRequest("alpha"))
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
	assert.Equal(t, 0, resp.Candidates)
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{Lexical: lexical.NewBM25(lexical.DefaultBM25Params())})
	seedCorpus(t, store, emb)

	req := NewSearchRequest("alpha")
	req.Limit = 3
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, 6, resp.Candidates)
	assert.True(t, resp.Lexical)
	assert.False(t, resp.UsedANN)
	assert.Equal(t, types.BlockID(types.ResourceID("/ws/Notes/a.md"), 0), resp.Results[0].BlockID)
	assert.Equal(t, "/ws/Notes/a.md", resp.Results[0].Path)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, types.BlockID(types.ResourceID("/ws/Knowledge/b.md"), 1), resp.Results[1].BlockID)
	for _, r := range resp.Results {
		assert.NoError(t, r.Validate())
	}
}

func TestSearch_Filters(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{Profiles: map[string][]string{
		"notes":     {"/ws/Notes/", "/ws/Knowledge/"},
		"documents": {"/ws/Documents/"},
	}})
	seedCorpus(t, store, emb)
	ctx := context.Background()

	t.Run("tag", func(t *testing.T) {
		req := NewSearchRequest("alpha")
		req.Tag = "greek"
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 4, resp.Candidates)
		for _, r := range resp.Results {
			assert.NotEqual(t, "/ws/Knowledge/b.md", r.Path)
		}
	})

	t.Run("profile", func(t *testing.T) {
		req := NewSearchRequest("beta")
		req.Profile = "documents"
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Candidates)
		for _, r := range resp.Results {
			assert.Equal(t, "/ws/Documents/c.md", r.Path)
		}
	})

	t.Run("no match", func(t *testing.T) {
		req := NewSearchRequest("alpha")
		req.Tag = "missing"
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})
}

func TestSearch_DimensionMismatch(t *testing.T) {
	s, store, _ := setupTestSearcher(t, Options{})

	rid := types.ResourceID("/docs/x.md")
	block := &types.Block{ID: types.BlockID(rid, 0), ResourceID: rid, Content: "x", StartLine: 1, EndLine: 1}
	require.NoError(t, store.ReplaceResource(context.Background(),
		&types.Resource{Path: "/docs/x.md", ContentHash: "h"},
		[]*types.Block{block}, [][]float32{{1, 2, 3, 4, 5, 6}}))

	_, err := s.Search(context.Background(), NewSearchRequest("alpha"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorIs(t, err, embedder.ErrDimensionMismatch)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "search", cfgErr.Op)
}

func TestSearch_EmbedderError(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{})
	seedCorpus(t, store, emb)
	emb.err = errors.New("provider down")

	_, err := s.Search(context.Background(), NewSearchRequest("alpha"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.NotErrorIs(t, err, types.ErrConfiguration)
}

func TestSearch_Cache(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{})
	seedCorpus(t, store, emb)
	ctx := context.Background()

	first, err := s.Search(ctx, NewSearchRequest("alpha"))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())
	calls := emb.calls

	// Mutating a response must not leak into the cache
	first.Results[0].Content = "mutated"

	second, err := s.Search(ctx, NewSearchRequest("alpha"))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, calls, emb.calls)
	assert.NotEqual(t, "mutated", second.Results[0].Content)

	s.InvalidateCache()
	assert.Equal(t, 0, s.CacheLen())

	third, err := s.Search(ctx, NewSearchRequest("alpha"))
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, calls+1, emb.calls)
}

func TestSearch_CacheDisabled(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{})
	seedCorpus(t, store, emb)

	req := NewSearchRequest("alpha")
	req.UseCache = false
	_, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CacheLen())
}

func buildANN(t *testing.T, store storage.Storage) *ann.Index {
	t.Helper()
	records, err := store.ListVectors(context.Background())
	require.NoError(t, err)
	entries := make([]ann.Entry, len(records))
	for i, rec := range records {
		entries[i] = ann.Entry{BlockID: rec.BlockID, Vector: rec.Vector}
	}
	idx, err := ann.Build(entries)
	require.NoError(t, err)
	return idx
}

func TestSearch_ANN(t *testing.T) {
	holder := &ann.Holder{}
	s, store, emb := setupTestSearcher(t, Options{ANN: holder})
	seedCorpus(t, store, emb)
	ctx := context.Background()

	brute := NewSearchRequest("gamma")
	brute.UseANN = false
	brute.UseCache = false
	want, err := s.Search(ctx, brute)
	require.NoError(t, err)

	holder.Publish(buildANN(t, store))

	t.Run("unfiltered uses index", func(t *testing.T) {
		req := NewSearchRequest("gamma")
		req.UseCache = false
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.True(t, resp.UsedANN)
		// Small corpus: over-fetch covers every block, so ranking matches brute force
		assert.Equal(t, resultIDs(want.Results), resultIDs(resp.Results))
	})

	t.Run("filtered bypasses index", func(t *testing.T) {
		req := NewSearchRequest("gamma")
		req.UseCache = false
		req.Tag = "greek"
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.UsedANN)
	})

	t.Run("writes after publish bypass index", func(t *testing.T) {
		indexDoc(t, store, emb, "/ws/late.md", nil, "", "zeppelin hangar blueprint")
		holder.MarkWrite()

		req := NewSearchRequest("zeppelin hangar blueprint")
		req.UseCache = false
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.UsedANN)
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, "/ws/late.md", resp.Results[0].Path)

		_, err = store.DeleteResource(ctx, "/ws/late.md")
		require.NoError(t, err)
		holder.Publish(buildANN(t, store))
	})

	t.Run("stale index falls back", func(t *testing.T) {
		for _, p := range []string{"/ws/Notes/a.md", "/ws/Knowledge/b.md", "/ws/Documents/c.md"} {
			_, err := store.DeleteResource(ctx, p)
			require.NoError(t, err)
		}
		indexDoc(t, store, emb, "/ws/new.md", nil, "", "gamma fresh")

		req := NewSearchRequest("gamma")
		req.UseCache = false
		resp, err := s.Search(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.UsedANN)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "/ws/new.md", resp.Results[0].Path)
	})
}

func TestSearch_LimitAboveHundred(t *testing.T) {
	s, store, emb := setupTestSearcher(t, Options{})
	for i := 0; i < 120; i++ {
		indexDoc(t, store, emb, fmt.Sprintf("/docs/%03d.md", i), nil, "", fmt.Sprintf("alpha note %d", i))
	}

	req := NewSearchRequest("alpha")
	req.Limit = 150
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 120)

	req.Limit = 110
	resp, err = s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 110)
}

func TestSearch_ANNDimensionMismatchFallsBack(t *testing.T) {
	holder := &ann.Holder{}
	s, store, emb := setupTestSearcher(t, Options{ANN: holder})
	seedCorpus(t, store, emb)

	idx, err := ann.Build([]ann.Entry{{BlockID: "x_0", Vector: []float32{1, 0}}})
	require.NoError(t, err)
	holder.Publish(idx)

	resp, err := s.Search(context.Background(), NewSearchRequest("alpha"))
	require.NoError(t, err)
	assert.False(t, resp.UsedANN)
	assert.NotEmpty(t, resp.Results)
}

func TestSearch_RerankTruncation(t *testing.T) {
	rr := &fakeReranker{score: func(i int, _ string) float64 { return float64(i) }}
	s, store, emb := setupTestSearcher(t, Options{Reranker: rr})

	for i := 0; i < 4; i++ {
		indexDoc(t, store, emb, fmt.Sprintf("/docs/%d.md", i), nil, "",
			"alpha one", "alpha two", "alpha three")
	}

	req := NewSearchRequest("alpha")
	req.Limit = 5
	req.RerankTopK = 3
	req.UseReranker = true
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 12, resp.Candidates)
	assert.True(t, resp.Reranked)
	require.Len(t, resp.Results, 3)

	seen := map[string]bool{}
	for _, r := range resp.Results {
		assert.False(t, seen[r.BlockID])
		seen[r.BlockID] = true
		assert.NotNil(t, r.Scores.Rerank)
	}
}

func TestProfiles(t *testing.T) {
	s, _, _ := setupTestSearcher(t, Options{Profiles: map[string][]string{"b": {"/b/"}, "a": {"/a/"}}})
	assert.Equal(t, []string{"a", "b"}, s.Profiles())
}

func TestComputeQueryHash(t *testing.T) {
	base := NewSearchRequest("alpha")
	same := NewSearchRequest("alpha")
	assert.Equal(t, computeQueryHash(base), computeQueryHash(same))

	reordered := base
	reordered.PathPrefixes = []string{"/b/", "/a/"}
	ordered := base
	ordered.PathPrefixes = []string{"/a/", "/b/"}
	assert.Equal(t, computeQueryHash(ordered), computeQueryHash(reordered))

	variants := []func(*SearchRequest){
		func(r *SearchRequest) { r.Query = "beta" },
		func(r *SearchRequest) { r.Limit = 3 },
		func(r *SearchRequest) { r.Tag = "x" },
		func(r *SearchRequest) { r.PathPrefixes = []string{"/x/"} },
		func(r *SearchRequest) { r.RecencyWeight = 0 },
		func(r *SearchRequest) { r.UseHybrid = false },
		func(r *SearchRequest) { r.UseReranker = true },
		func(r *SearchRequest) { r.RerankTopK = 5 },
		func(r *SearchRequest) { r.UseANN = false },
	}
	for i, mutate := range variants {
		req := NewSearchRequest("alpha")
		mutate(&req)
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(req), "variant %d", i)
	}
}

func TestCopySearchResponse(t *testing.T) {
	lex := 0.5
	src := &SearchResponse{
		Results: []types.SearchResult{{BlockID: "a", Scores: types.Scores{Lexical: &lex}}},
		Total:   1,
	}
	dst := copySearchResponse(src)
	require.NotNil(t, dst.Results[0].Scores.Lexical)
	*dst.Results[0].Scores.Lexical = 0.9
	assert.Equal(t, 0.5, *src.Results[0].Scores.Lexical)
	assert.Nil(t, copySearchResponse(nil))
}

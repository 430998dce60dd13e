package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/semdex/internal/ann"
	"github.com/dshills/semdex/internal/embedder"
	"github.com/dshills/semdex/internal/lexical"
	"github.com/dshills/semdex/internal/rerank"
	"github.com/dshills/semdex/internal/storage"
	"github.com/dshills/semdex/pkg/types"
)

// Request defaults
const (
	DefaultLimit          = 10
	DefaultRecencyWeight  = 0.2
	DefaultSemanticWeight = 0.7
	DefaultBM25Weight     = 0.3
	DefaultRerankTopK     = 50
	DefaultOverfetch      = 4
	DefaultCacheSize      = 1000
	DefaultCacheTTL       = 10 * time.Minute
)

var (
	ErrEmptyQuery    = errors.New("query cannot be empty")
	ErrInvalidWeight = errors.New("invalid weight")
)

// SearchRequest contains parameters for a search operation.
// Start from NewSearchRequest so boolean and weight defaults are set.
type SearchRequest struct {
	Query          string
	Limit          int
	Tag            string
	PathPrefixes   []string
	Profile        string
	RecencyWeight  float64
	UseHybrid      bool
	SemanticWeight float64
	BM25Weight     float64
	UseReranker    bool
	RerankTopK     int
	UseANN         bool // Query the ANN index when it is loaded and no filter is set
	UseCache       bool
}

// NewSearchRequest returns a request for query with every default applied
func NewSearchRequest(query string) SearchRequest {
	return SearchRequest{
		Query:          query,
		Limit:          DefaultLimit,
		RecencyWeight:  DefaultRecencyWeight,
		UseHybrid:      true,
		SemanticWeight: DefaultSemanticWeight,
		BM25Weight:     DefaultBM25Weight,
		RerankTopK:     DefaultRerankTopK,
		UseANN:         true,
		UseCache:       true,
	}
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results    []types.SearchResult
	Total      int
	Candidates int
	UsedANN    bool
	Lexical    bool
	Reranked   bool
	Degraded   []string // Requested stages that were unavailable or failed
	Duration   time.Duration
	CacheHit   bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Options configures a Searcher
type Options struct {
	Lexical   lexical.Scorer
	Reranker  rerank.Reranker
	ANN       *ann.Holder
	Profiles  map[string][]string // profile name -> path prefixes
	Overfetch int
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Searcher resolves candidates and ranks them for a query
type Searcher struct {
	storage   storage.Storage
	embedder  embedder.Embedder
	ranker    *Ranker
	ann       *ann.Holder
	profiles  map[string][]string
	overfetch int
	logger    *slog.Logger

	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL time.Duration
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, opts Options) *Searcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = DefaultOverfetch
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.ANN == nil {
		opts.ANN = &ann.Holder{}
	}

	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		// Only reachable with a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:   store,
		embedder:  emb,
		ranker:    NewRanker(opts.Lexical, opts.Reranker, opts.Now, opts.Logger),
		ann:       opts.ANN,
		profiles:  opts.Profiles,
		overfetch: opts.Overfetch,
		logger:    opts.Logger.With("component", "searcher"),
		cache:     cache,
		cacheTTL:  opts.CacheTTL,
	}
}

// Search embeds the query, gathers candidates and ranks them
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, types.NewConfigurationError("search", embedder.ErrNoProviderEnabled)
	}

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	queryVec, err := embedder.Vector(ctx, s.embedder, req.Query)
	if err != nil {
		if errors.Is(err, embedder.ErrDimensionMismatch) {
			return nil, types.NewConfigurationError("search", err)
		}
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	storedDim, err := s.storage.VectorDimension(ctx)
	if err != nil {
		return nil, err
	}
	if storedDim != 0 && storedDim != len(queryVec) {
		return nil, types.NewConfigurationError("search", fmt.Errorf("%w: query has %d dimensions, store has %d",
			embedder.ErrDimensionMismatch, len(queryVec), storedDim))
	}

	cands, usedANN, err := s.candidates(ctx, req, queryVec)
	if err != nil {
		return nil, err
	}

	results, info := s.ranker.Rank(ctx, req.Query, queryVec, cands, RankOptions{
		Limit:          req.Limit,
		UseHybrid:      req.UseHybrid,
		SemanticWeight: req.SemanticWeight,
		BM25Weight:     req.BM25Weight,
		RecencyWeight:  req.RecencyWeight,
		UseReranker:    req.UseReranker,
		RerankTopK:     req.RerankTopK,
	})

	response := &SearchResponse{
		Results:    results,
		Total:      len(results),
		Candidates: len(cands),
		UsedANN:    usedANN,
		Lexical:    info.Lexical,
		Reranked:   info.Reranked,
		Duration:   time.Since(startTime),
	}
	for _, err := range info.Degraded {
		response.Degraded = append(response.Degraded, err.Error())
	}

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// candidates resolves the candidate set, through the ANN index when it can serve the request
func (s *Searcher) candidates(ctx context.Context, req SearchRequest, queryVec []float32) ([]*storage.Candidate, bool, error) {
	filter := storage.CandidateFilter{Tag: req.Tag, PathPrefixes: req.PathPrefixes}

	if req.UseANN && !filter.Active() {
		if ids := s.annCandidates(req, queryVec); len(ids) > 0 {
			annFilter := filter
			annFilter.BlockIDs = ids
			cands, err := s.storage.Candidates(ctx, annFilter)
			if err != nil {
				return nil, false, err
			}
			if len(cands) > 0 {
				return cands, true, nil
			}
			s.logger.Warn("ANN hits no longer stored, using brute force", "hits", len(ids))
		}
	}

	cands, err := s.storage.Candidates(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	return cands, false, nil
}

// annCandidates returns block ids from the published index, or nil when it can't be used
func (s *Searcher) annCandidates(req SearchRequest, queryVec []float32) []string {
	idx, stale := s.ann.Snapshot()
	if idx == nil || idx.Len() == 0 {
		return nil
	}
	if stale {
		s.logger.Debug("ANN index behind the store, using brute force")
		return nil
	}
	if idx.Dimension() != len(queryVec) {
		s.logger.Warn("ANN index dimension differs from query, using brute force",
			"index_dimension", idx.Dimension(), "query_dimension", len(queryVec))
		return nil
	}

	k := req.Limit
	if req.RerankTopK > k {
		k = req.RerankTopK
	}
	hits, err := idx.Query(queryVec, k*s.overfetch)
	if err != nil {
		s.logger.Warn("ANN query failed, using brute force", "error", err)
		return nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.BlockID
	}
	return ids
}

// validateRequest applies defaults and resolves the profile
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.RerankTopK <= 0 {
		req.RerankTopK = DefaultRerankTopK
	}

	// Hybrid weights need not sum to 1; recency mixes convexly so it stays in [0, 1]
	for _, w := range []float64{req.SemanticWeight, req.BM25Weight} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: hybrid weight %v must be a non-negative number", ErrInvalidWeight, w)
		}
	}
	if req.RecencyWeight < 0 || req.RecencyWeight > 1 || math.IsNaN(req.RecencyWeight) {
		return fmt.Errorf("%w: recency weight %v must be within [0, 1]", ErrInvalidWeight, req.RecencyWeight)
	}

	if req.Profile != "" {
		prefixes, ok := s.profiles[req.Profile]
		if !ok {
			s.logger.Warn("unknown search profile ignored", "profile", req.Profile)
		} else {
			req.PathPrefixes = append(append([]string{}, req.PathPrefixes...), prefixes...)
		}
	}

	if len(req.PathPrefixes) > 0 {
		resolved := make([]string, len(req.PathPrefixes))
		for i, p := range req.PathPrefixes {
			abs, err := absPrefix(p)
			if err != nil {
				return err
			}
			resolved[i] = abs
		}
		req.PathPrefixes = resolved
	}

	return nil
}

// absPrefix resolves a relative path prefix against the working directory,
// keeping a trailing separator so "Notes/" still excludes "Notes2/"
func absPrefix(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve prefix %s: %w", p, err)
	}
	if strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}
	return abs, nil
}

// Profiles returns the configured profile names in sorted order
func (s *Searcher) Profiles() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Called after any index write.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Degraded = slices.Clone(src.Degraded)
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		dst.Results[i].Scores.Lexical = copyFloat(result.Scores.Lexical)
		dst.Results[i].Scores.Recency = copyFloat(result.Scores.Recency)
		dst.Results[i].Scores.Rerank = copyFloat(result.Scores.Rerank)
	}
	return &dst
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// computeQueryHash computes a unique hash for a search request.
// Prefixes are order-insensitive.
func computeQueryHash(req SearchRequest) [32]byte {
	prefixes := append([]string{}, req.PathPrefixes...)
	sort.Strings(prefixes)

	var data strings.Builder
	fmt.Fprintf(&data, "%s|%d|%s|%s|%s|", req.Query, req.Limit, req.Tag, strings.Join(prefixes, ","), req.Profile)
	fmt.Fprintf(&data, "%.4f|%t|%.4f|%.4f|", req.RecencyWeight, req.UseHybrid, req.SemanticWeight, req.BM25Weight)
	fmt.Fprintf(&data, "%t|%d|%t", req.UseReranker, req.RerankTopK, req.UseANN)

	return sha256.Sum256([]byte(data.String()))
}

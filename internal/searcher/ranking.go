package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dshills/semdex/internal/lexical"
	"github.com/dshills/semdex/internal/rerank"
	"github.com/dshills/semdex/internal/storage"
	"github.com/dshills/semdex/pkg/types"
)

// recencyHorizonDays is the age at which the recency score reaches zero
const recencyHorizonDays = 365.0

// dateLayouts are the accepted content_date formats, tried in order
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// RankOptions controls how candidates are scored
type RankOptions struct {
	Limit          int
	UseHybrid      bool
	SemanticWeight float64
	BM25Weight     float64
	RecencyWeight  float64
	UseReranker    bool
	RerankTopK     int
}

// RankInfo reports which optional stages contributed to a ranking
type RankInfo struct {
	Lexical  bool
	Reranked bool
	Degraded []error // Requested stages that were skipped; each wraps types.ErrCapabilityUnavailable
}

// Ranker merges semantic, lexical, recency and rerank signals into one ordering
type Ranker struct {
	lexical  lexical.Scorer
	reranker rerank.Reranker
	now      func() time.Time
	logger   *slog.Logger
}

// NewRanker creates a ranker. Nil capabilities are replaced by their no-op variants.
func NewRanker(lex lexical.Scorer, rr rerank.Reranker, now func() time.Time, logger *slog.Logger) *Ranker {
	if lex == nil {
		lex = lexical.None{}
	}
	if rr == nil {
		rr = rerank.None{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		lexical:  lex,
		reranker: rr,
		now:      now,
		logger:   logger.With("component", "ranker"),
	}
}

// scored is a candidate moving through the ranking stages
type scored struct {
	cand   *storage.Candidate
	score  float64
	scores types.Scores
}

// Rank scores candidates against the query and returns at most opts.Limit results
func (r *Ranker) Rank(ctx context.Context, query string, queryVec []float32, cands []*storage.Candidate, opts RankOptions) ([]types.SearchResult, RankInfo) {
	var info RankInfo
	if len(cands) == 0 {
		return []types.SearchResult{}, info
	}

	items := make([]*scored, len(cands))
	for i, c := range cands {
		sem := storage.CosineSimilarity(queryVec, c.Vector)
		items[i] = &scored{cand: c, score: sem, scores: types.Scores{Semantic: sem, Base: sem}}
	}

	if opts.UseHybrid {
		lex, err := r.lexicalScores(query, cands)
		if err != nil {
			info.Degraded = append(info.Degraded, err)
		}
		if lex != nil {
			info.Lexical = true
			for _, it := range items {
				l := lex[it.cand.BlockID]
				it.scores.Lexical = &l
				it.scores.Base = opts.SemanticWeight*it.scores.Semantic + opts.BM25Weight*l
				it.score = it.scores.Base
			}
		}
	}

	if opts.RecencyWeight > 0 {
		now := r.now()
		for _, it := range items {
			rec, ok := r.recency(it.cand, now)
			if !ok {
				continue
			}
			it.scores.Recency = &rec
			it.score = (1-opts.RecencyWeight)*it.scores.Base + opts.RecencyWeight*rec
		}
	}

	sortByScore(items)

	if opts.UseReranker {
		if !r.reranker.Available() {
			info.Degraded = append(info.Degraded,
				fmt.Errorf("%w: reranker %s", types.ErrCapabilityUnavailable, r.reranker.Name()))
		} else if top, err := r.rerank(ctx, query, items, opts.RerankTopK); err != nil {
			info.Degraded = append(info.Degraded, err)
		} else {
			items = top
			info.Reranked = true
		}
	}

	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	results := make([]types.SearchResult, len(items))
	for i, it := range items {
		c := it.cand
		results[i] = types.SearchResult{
			BlockID:     c.BlockID,
			ResourceID:  c.ResourceID,
			Rank:        i + 1,
			Path:        c.Path,
			Content:     c.Content,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			ContentDate: c.ContentDate,
			Score:       it.score,
			Scores:      it.scores,
		}
	}
	return results, info
}

// lexicalScores returns nil when lexical scoring can't contribute to this
// query. The error is set only when the scorer is missing or failed.
func (r *Ranker) lexicalScores(query string, cands []*storage.Candidate) (map[string]float64, error) {
	if !r.lexical.Available() {
		return nil, fmt.Errorf("%w: lexical scorer %s", types.ErrCapabilityUnavailable, r.lexical.Name())
	}
	docs := make([]lexical.Document, len(cands))
	for i, c := range cands {
		docs[i] = lexical.Document{ID: c.BlockID, Text: c.Content}
	}
	scores, err := r.lexical.Score(query, docs)
	if err != nil {
		r.logger.Warn("lexical scoring failed, using semantic only", "scorer", r.lexical.Name(), "error", err)
		return nil, fmt.Errorf("%w: lexical scorer %s: %v", types.ErrCapabilityUnavailable, r.lexical.Name(), err)
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return scores, nil
}

// recency returns the linear-decay recency of a candidate, or false when it has no usable date
func (r *Ranker) recency(c *storage.Candidate, now time.Time) (float64, bool) {
	if strings.TrimSpace(c.ContentDate) == "" {
		return 0, false
	}
	date, err := ParseContentDate(c.ContentDate)
	if err != nil {
		r.logger.Debug("skipping recency for unparseable date", "block_id", c.BlockID, "content_date", c.ContentDate)
		return 0, false
	}
	return RecencyScore(date, now), true
}

// rerank rescores the top k items. On error the caller keeps the hybrid ordering.
func (r *Ranker) rerank(ctx context.Context, query string, items []*scored, k int) ([]*scored, error) {
	if k <= 0 || k > len(items) {
		k = len(items)
	}
	top := make([]*scored, k)
	copy(top, items[:k])

	docs := make([]string, k)
	for i, it := range top {
		docs[i] = it.cand.Content
	}

	scores, err := r.reranker.Rerank(ctx, query, docs)
	if err == nil && len(scores) != len(docs) {
		err = types.ErrData
	}
	if err != nil {
		r.logger.Warn("rerank failed, keeping hybrid order", "reranker", r.reranker.Name(), "error", err)
		return nil, fmt.Errorf("%w: reranker %s: %v", types.ErrCapabilityUnavailable, r.reranker.Name(), err)
	}

	for i, it := range top {
		s := scores[i]
		it.scores.Rerank = &s
		it.score = s
	}
	sortByScore(top)
	return top, nil
}

// sortByScore orders items by descending score, keeping input order for ties
func sortByScore(items []*scored) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
}

// ParseContentDate parses a content_date in any accepted layout. Layouts
// without a zone are read as local time.
func ParseContentDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// RecencyScore decays linearly from 1 for content dated now to 0 at one year old.
// Future dates score 1.
func RecencyScore(date, now time.Time) float64 {
	days := math.Floor(now.Sub(date).Hours() / 24)
	score := 1 - days/recencyHorizonDays
	return math.Max(0, math.Min(1, score))
}

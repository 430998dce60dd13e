// Package searcher implements hybrid document search combining vector
// similarity, BM25 keyword relevance, recency and optional reranking.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, searcher.Options{
//	    Lexical:  lexical.NewBM25(lexical.DefaultBM25Params()),
//	    Reranker: rerank.None{},
//	})
//
//	req := searcher.NewSearchRequest("q3 revenue forecast")
//	req.Tag = "finance"
//	resp, err := s.Search(ctx, req)
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.3f %s:%d-%d\n", r.Rank, r.Score, r.Path, r.StartLine, r.EndLine)
//	}
//
// # Scoring
//
// For every candidate block:
//
//	semantic = cosine(query, block)
//	base     = sw*semantic + bw*bm25     (hybrid, lexical available)
//	         = semantic                  (otherwise)
//	recency  = max(0, 1 - days_old/365)
//	final    = (1-rw)*base + rw*recency  (rw > 0 and a parseable date)
//
// Results are sorted by final score. With reranking enabled the top
// RerankTopK are rescored by the cross-encoder, whose score replaces the
// hybrid score, and only that subset is kept. The list is then cut to Limit.
//
// BM25 scores are normalized by the maximum within the candidate set, so
// they are relative to the filter, not to the whole corpus.
//
// # Candidates
//
// Without tag or path filters and with an ANN index published, the index is
// queried for max(Limit, RerankTopK) x overfetch neighbours, which are then
// joined back to the store. Filtered searches, and searches without a usable
// index, score every matching block. An index built before the latest store
// write is not usable: documents indexed since would be missed.
//
// A requested stage that can't run (no lexical scorer, a failing reranker) is
// skipped and listed in SearchResponse.Degraded.
//
// # Caching
//
// Responses are cached in an LRU keyed by every request field and expire after
// the configured TTL. Any index write must call InvalidateCache.
package searcher

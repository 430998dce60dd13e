package types

// SearchResult represents a single ranked block with its scoring breakdown
type SearchResult struct {
	// Identification
	BlockID    string `json:"block_id"`
	ResourceID string `json:"resource_id"`
	Rank       int    `json:"rank"` // Position in result set (1-based)

	// Content
	Path        string `json:"path"`
	Content     string `json:"content"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	ContentDate string `json:"content_date,omitempty"`

	// Scoring
	Score  float64 `json:"score"`
	Scores Scores  `json:"scores"`
}

// Scores holds the component scores behind a result's final score.
// Pointer fields are nil when the component did not apply.
type Scores struct {
	Semantic float64  `json:"semantic"`          // Cosine similarity in [-1, 1]
	Lexical  *float64 `json:"lexical,omitempty"` // Normalized BM25 in [0, 1]
	Base     float64  `json:"base"`              // Hybrid (or semantic-only) score
	Recency  *float64 `json:"recency,omitempty"` // Linear decay in [0, 1]
	Rerank   *float64 `json:"rerank,omitempty"`  // Cross-encoder score
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.BlockID == "" {
		return ErrInvalidBlockID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Scores.Semantic < -1 || sr.Scores.Semantic > 1 {
		return ErrInvalidSemanticScore
	}
	if sr.Path == "" {
		return ErrMissingPath
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

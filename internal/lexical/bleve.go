package lexical

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	index "github.com/blevesearch/bleve_index_api"
)

const bleveContentField = "content"

// Bleve scores candidates by building a throwaway in-memory bleve index per
// call. Tokenization follows bleve's standard analyzer rather than Tokenize.
type Bleve struct {
	indexMapping mapping.IndexMapping
}

// NewBleve creates a Bleve scorer using the BM25 scoring model
func NewBleve() *Bleve {
	m := bleve.NewIndexMapping()
	m.ScoringModel = index.BM25Scoring
	m.DefaultAnalyzer = "standard"
	return &Bleve{indexMapping: m}
}

func (s *Bleve) Available() bool { return true }
func (s *Bleve) Name() string    { return NameBleve }

// Score implements Scorer. Documents with no matching term are reported as zero.
func (s *Bleve) Score(query string, docs []Document) (map[string]float64, error) {
	if len(docs) == 0 || len(Tokenize(query)) == 0 {
		return map[string]float64{}, nil
	}

	idx, err := bleve.NewMemOnly(s.indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, map[string]interface{}{bleveContentField: doc.Text}); err != nil {
			return nil, fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index batch: %w", err)
	}

	q := bleve.NewMatchQuery(strings.ToLower(query))
	q.SetField(bleveContentField)
	req := bleve.NewSearchRequestOptions(q, len(docs), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	hitScores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		hitScores[hit.ID] = hit.Score
	}

	ids := make([]string, len(docs))
	raw := make([]float64, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		raw[i] = hitScores[doc.ID]
	}
	return normalize(ids, raw), nil
}

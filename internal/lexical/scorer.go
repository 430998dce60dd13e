package lexical

import (
	"fmt"
	"strings"
)

// Scorer names
const (
	NameBM25  = "bm25"
	NameBleve = "bleve"
	NameNone  = "none"
)

// Document is one candidate block handed to a Scorer
type Document struct {
	ID   string
	Text string
}

// Scorer computes normalised lexical relevance for a candidate set
type Scorer interface {
	// Score returns a score in [0, 1] per document ID. Documents without a
	// query term may be absent from the map; callers treat absence as zero.
	Score(query string, docs []Document) (map[string]float64, error)

	// Available reports whether the scorer does anything
	Available() bool

	// Name identifies the implementation
	Name() string
}

// New returns the scorer registered under name. An empty name selects BM25.
func New(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameBM25:
		return NewBM25(DefaultBM25Params()), nil
	case NameBleve:
		return NewBleve(), nil
	case NameNone, "off", "disabled":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown lexical scorer %q", name)
	}
}

// None is the unavailable scorer
type None struct{}

func (None) Score(string, []Document) (map[string]float64, error) { return nil, nil }
func (None) Available() bool                                       { return false }
func (None) Name() string                                          { return NameNone }

// normalize divides every score by the maximum. A non-positive maximum
// zeroes the whole set, and negative raw scores clamp to zero.
func normalize(ids []string, raw []float64) map[string]float64 {
	out := make(map[string]float64, len(ids))
	maxScore := 0.0
	for _, s := range raw {
		if s > maxScore {
			maxScore = s
		}
	}
	for i, id := range ids {
		if maxScore <= 0 {
			out[id] = 0
			continue
		}
		out[id] = max(raw[i]/maxScore, 0)
	}
	return out
}

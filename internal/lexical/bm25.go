package lexical

import "math"

// BM25Params are the Okapi BM25 tuning constants
type BM25Params struct {
	K1      float64
	B       float64
	Epsilon float64 // Negative IDF values are replaced by Epsilon * mean IDF
}

// DefaultBM25Params returns k1=1.5, b=0.75, epsilon=0.25
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// BM25 scores documents with Okapi BM25 computed over the candidate set only.
// It holds no state between calls and is safe for concurrent use.
type BM25 struct {
	params BM25Params
}

// NewBM25 creates a BM25 scorer
func NewBM25(params BM25Params) *BM25 {
	return &BM25{params: params}
}

func (s *BM25) Available() bool { return true }
func (s *BM25) Name() string    { return NameBM25 }

// Score implements Scorer
func (s *BM25) Score(query string, docs []Document) (map[string]float64, error) {
	if len(docs) == 0 {
		return map[string]float64{}, nil
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return map[string]float64{}, nil
	}

	corpus := newCorpus(docs)
	idf := corpus.idf(s.params.Epsilon)

	ids := make([]string, len(docs))
	raw := make([]float64, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		raw[i] = corpus.score(i, queryTokens, idf, s.params)
	}
	return normalize(ids, raw), nil
}

// corpus holds per-document term frequencies for one scoring call
type corpus struct {
	termFreqs []map[string]int
	lengths   []int
	docFreq   map[string]int
	avgLen    float64
}

func newCorpus(docs []Document) *corpus {
	c := &corpus{
		termFreqs: make([]map[string]int, len(docs)),
		lengths:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}
	total := 0
	for i, doc := range docs {
		tokens := Tokenize(doc.Text)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		for tok := range freqs {
			c.docFreq[tok]++
		}
		c.termFreqs[i] = freqs
		c.lengths[i] = len(tokens)
		total += len(tokens)
	}
	c.avgLen = float64(total) / float64(len(docs))
	return c
}

// idf computes inverse document frequency for every corpus term. Terms in
// more than half the documents get a negative raw IDF, which is floored to
// epsilon times the mean IDF.
func (c *corpus) idf(epsilon float64) map[string]float64 {
	n := float64(len(c.lengths))
	idf := make(map[string]float64, len(c.docFreq))
	var negative []string
	sum := 0.0
	for term, df := range c.docFreq {
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(idf) == 0 {
		return idf
	}
	floor := epsilon * sum / float64(len(idf))
	for _, term := range negative {
		idf[term] = floor
	}
	return idf
}

func (c *corpus) score(doc int, queryTokens []string, idf map[string]float64, p BM25Params) float64 {
	length := float64(c.lengths[doc])
	norm := 1 - p.B
	if c.avgLen > 0 {
		norm += p.B * length / c.avgLen
	}
	score := 0.0
	for _, tok := range queryTokens {
		tf := float64(c.termFreqs[doc][tok])
		if tf == 0 {
			continue
		}
		score += idf[tok] * (tf * (p.K1 + 1) / (tf + p.K1*norm))
	}
	return score
}

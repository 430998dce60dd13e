// Package lexical scores candidate blocks against a query by term statistics.
//
// Three Scorer implementations exist:
//
//   - BM25: Okapi BM25 computed over exactly the candidate set supplied
//     (k1=1.5, b=0.75, negative IDF floored at epsilon times the mean IDF).
//   - Bleve: an in-memory bleve index using its BM25 scoring model.
//   - None: reports the capability as unavailable so callers rank by
//     semantic similarity alone.
//
// Scores from every available scorer are normalised to [0, 1] by dividing by
// the highest score in the candidate set. When that maximum is not positive
// every document scores zero. A query that tokenizes to nothing yields an
// empty map.
package lexical

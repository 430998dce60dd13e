// Package ann provides an approximate-nearest-neighbour index over block
// vectors, used to shortlist candidates before exact scoring.
//
// The index is an HNSW graph with cosine distance. Graph keys are positions
// into an ordered list of block IDs, so the persisted form is two files:
// the binary graph at path and the JSON ID list at path + ".ids". The ID file
// also records the store revision the vectors were read at.
//
// Indexes are immutable once built. A Holder publishes the current index
// atomically; readers take a snapshot and never observe a partially loaded
// index. The Holder also counts store writes, and Snapshot reports an index
// built before the latest write as stale. Rebuilding is explicit and guarded
// by RebuildLock.
package ann

// Package storage provides SQLite-based persistence for indexed documents.
//
// # Database Schema
//
// Tables:
//   - resources: one row per document (path, content hash, content date)
//   - blocks: chunks of a resource with their line ranges
//   - vectors: one float32 embedding blob per block
//   - tags: labels attached to resources
//   - schema_version: applied migrations
//
// Blocks, vectors and tags cascade on delete from their owner.
//
// # Re-indexing
//
// ReplaceResource swaps everything stored for a document in a single
// transaction, so readers see either the old blocks or the new ones:
//
//	err := store.ReplaceResource(ctx, &types.Resource{
//	    Path:        "/notes/q3.md",
//	    ContentHash: types.ContentHash(content),
//	}, blocks, vectors)
//
// # Retrieval
//
// Candidates returns blocks joined with their resource path and vector.
// Filters combine with AND; path prefixes combine with OR among themselves:
//
//	cands, err := store.Candidates(ctx, storage.CandidateFilter{
//	    Tag:          "finance",
//	    PathPrefixes: []string{"/notes/", "/docs/"},
//	})
//
// # Build Tags
//
// Pure Go build (default): modernc.org/sqlite.
//
//	CGO_ENABLED=0 go build -tags "purego"
//
// CGO build (sqlite_vec tag): github.com/mattn/go-sqlite3.
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
package storage

// Package types provides shared type definitions for the semdex retrieval engine.
//
// This package defines the domain records used across components: resources
// (ingested documents), blocks (the chunks that get embedded), search results
// with their component scores, and the error taxonomy the engine surfaces.
//
// # Core Types
//
// Resource represents one ingested document, identified by a hash of its path:
//
//	res := &types.Resource{
//	    ID:          types.ResourceID("/notes/standup.md"),
//	    Path:        "/notes/standup.md",
//	    ContentHash: types.ContentHash(content),
//	    ContentDate: "2025-03-14",
//	}
//
// Block represents a contiguous chunk of a resource's text:
//
//	block := &types.Block{
//	    ID:         types.BlockID(res.ID, 0),
//	    ResourceID: res.ID,
//	    Content:    text,
//	    StartLine:  1,
//	    EndLine:    24,
//	}
//
// # Search Results
//
// SearchResult carries the final score together with every component score that
// produced it, so callers can explain a ranking:
//
//	for _, r := range results {
//	    fmt.Printf("%s %.3f (semantic %.3f)\n", r.Path, r.Score, r.Scores.Semantic)
//	}
//
// # Errors
//
// Errors are classified by the sentinels ErrConfiguration, ErrCapabilityUnavailable,
// ErrData and ErrNotFound. Only configuration errors are ever returned from search.
package types

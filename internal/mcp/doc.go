// Package mcp implements the Model Context Protocol (MCP) server for semdex.
//
// The server exposes the retrieval engine to AI assistants as six tools:
//   - index_document: Index a document, or every document under a directory
//   - search: Hybrid semantic, keyword and recency search over indexed blocks
//   - needs_indexing: Check whether a document changed since it was indexed
//   - delete_resource: Remove a document and its blocks
//   - get_stats: Report counts and the capabilities in use
//   - rebuild_index: Rebuild the ANN index from stored vectors
//
// The server speaks JSON-RPC 2.0 over stdio, so all logging goes to stderr.
// It is started with:
//
//	semdex serve
//
// # Tool: index_document
//
//	Request:
//	{
//	  "name": "index_document",
//	  "arguments": {
//	    "path": "/home/me/workspace/Notes/zebras.md",
//	    "tags": ["wildlife"],
//	    "content_date": "2025-06-01",
//	    "force": false
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "skipped": false,
//	  "path": "/home/me/workspace/Notes/zebras.md",
//	  "resource_id": "res_…",
//	  "blocks": 4,
//	  "strategy": "structural"
//	}
//
// Passing a directory indexes every matching document below it and returns
// bulk statistics (files_indexed, files_skipped, files_failed, blocks_created).
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "query": "zebra migration patterns",
//	    "limit": 5,
//	    "profile": "notes",
//	    "recency_weight": 0.2,
//	    "use_hybrid": true
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "path": "/home/me/workspace/Notes/zebras.md",
//	      "start_line": 1,
//	      "end_line": 12,
//	      "score": 0.81,
//	      "scores": {"semantic": 0.74, "lexical": 1, "base": 0.82, "recency": 0.99}
//	    }
//	  ],
//	  "total": 1,
//	  "used_ann": false,
//	  "lexical": true,
//	  "reranked": false
//	}
//
// # Error Handling
//
// Handlers return *MCPError values carrying one of these codes:
//   - -32602: Invalid params (missing path, relative path, bad weights)
//   - -32603: Internal error (database, provider failures)
//   - -32001: Document not found
//   - -32002: ANN rebuild already in progress
//   - -32003: Configuration error (provider or dimension mismatch)
//   - -32004: Empty query
package mcp

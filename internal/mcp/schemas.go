package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDocumentTool returns the tool definition for index_document
func indexDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_document",
		Description: "Index a document (or every document under a directory) for semantic search",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a document or a directory of documents",
				},
				"tags": map[string]interface{}{
					"type":        "array",
					"description": "Tags to attach; replaces existing tags when given",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"content_date": map[string]interface{}{
					"type":        "string",
					"description": "Content date (YYYY-MM-DD); defaults to the front matter last_edited or created date",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-index even when the content is unchanged",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search indexed documents with a natural language query, combining semantic, keyword and recency signals",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"tag": map[string]interface{}{
					"type":        "string",
					"description": "Only search documents carrying this tag",
				},
				"profile": map[string]interface{}{
					"type":        "string",
					"description": "Named retrieval profile restricting the searched paths",
				},
				"path_prefixes": map[string]interface{}{
					"type":        "array",
					"description": "Only search documents whose path starts with one of these prefixes",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"recency_weight": weightSchema("Weight of content recency in the final score", 0.2),
				"use_hybrid": map[string]interface{}{
					"type":        "boolean",
					"description": "Blend BM25 keyword relevance with semantic similarity",
					"default":     true,
				},
				"semantic_weight": weightSchema("Weight of semantic similarity in the hybrid score", 0.7),
				"bm25_weight":     weightSchema("Weight of BM25 relevance in the hybrid score", 0.3),
				"use_reranker": map[string]interface{}{
					"type":        "boolean",
					"description": "Rescore the top candidates with a cross-encoder when one is configured",
					"default":     false,
				},
				"rerank_top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of top candidates passed to the reranker",
					"default":     50,
					"minimum":     1,
				},
			},
			Required: []string{"query"},
		},
	}
}

func weightSchema(description string, def float64) map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"description": description,
		"default":     def,
		"minimum":     0.0,
		"maximum":     1.0,
	}
}

// needsIndexingTool returns the tool definition for needs_indexing
func needsIndexingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "needs_indexing",
		Description: "Report whether a document is new or changed since it was last indexed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the document",
				},
			},
			Required: []string{"path"},
		},
	}
}

// deleteResourceTool returns the tool definition for delete_resource
func deleteResourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_resource",
		Description: "Remove a document and its chunks from the index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the indexed document",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report index counts and the embedding, keyword and rerank capabilities in use",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the approximate nearest neighbour index from all stored vectors. Run after bulk indexing.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

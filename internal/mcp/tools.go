package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/semdex/internal/engine"
	"github.com/dshills/semdex/internal/indexer"
	"github.com/dshills/semdex/internal/searcher"
	"github.com/dshills/semdex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound          = -32001 // Document does not exist or was never indexed
	ErrorCodeRebuildInProgress = -32002 // Another ANN rebuild is already running
	ErrorCodeConfiguration     = -32003 // Provider or store misconfiguration
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
)

// maxSearchLimit caps the results one search call may request
const maxSearchLimit = 100

// maxReportedErrors caps the per-file errors echoed back from bulk indexing
const maxReportedErrors = 5

// handleIndexDocument handles the index_document tool invocation
func (s *Server) handleIndexDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeNotFound, "path does not exist", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	opts := indexer.IndexOptions{
		Force: getBoolDefault(args, "force", false),
	}
	if tags, present, err := getStringSlice(args, "tags"); err != nil {
		return nil, err
	} else if present {
		opts.Tags = tags
	}
	if date := getStringDefault(args, "content_date", ""); date != "" {
		if _, err := searcher.ParseContentDate(date); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid content_date", map[string]interface{}{
				"param":  "content_date",
				"value":  date,
				"reason": "expected YYYY-MM-DD",
			})
		}
		opts.ContentDate = date
	}

	if info.IsDir() {
		stats, err := s.backend.IndexPaths(ctx, []string{path}, opts)
		if err != nil {
			return nil, toMCPError("indexing failed", err)
		}

		response := map[string]interface{}{
			"indexed":        true,
			"files_indexed":  stats.FilesIndexed,
			"files_skipped":  stats.FilesSkipped,
			"files_failed":   stats.FilesFailed,
			"blocks_created": stats.BlocksCreated,
			"duration_ms":    stats.Duration.Milliseconds(),
		}
		if n := len(stats.ErrorMessages); n > 0 {
			if n > maxReportedErrors {
				response["errors"] = stats.ErrorMessages[:maxReportedErrors]
				response["error_count"] = n
			} else {
				response["errors"] = stats.ErrorMessages
			}
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	result, err := s.backend.IndexDocument(ctx, path, opts)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":     !result.Skipped,
		"skipped":     result.Skipped,
		"path":        result.Path,
		"resource_id": result.ResourceID,
		"blocks":      result.Blocks,
	}
	if result.Strategy != "" {
		response["strategy"] = string(result.Strategy)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req := searcher.NewSearchRequest(query)

	req.Limit = getIntDefault(args, "limit", searcher.DefaultLimit)
	if req.Limit < 1 || req.Limit > maxSearchLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": req.Limit,
		})
	}
	req.RerankTopK = getIntDefault(args, "rerank_top_k", searcher.DefaultRerankTopK)
	if req.RerankTopK < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "rerank_top_k must be positive", map[string]interface{}{
			"param": "rerank_top_k",
			"value": req.RerankTopK,
		})
	}

	req.Tag = getStringDefault(args, "tag", "")
	req.Profile = getStringDefault(args, "profile", "")
	prefixes, _, err := getStringSlice(args, "path_prefixes")
	if err != nil {
		return nil, err
	}
	req.PathPrefixes = prefixes

	req.UseHybrid = getBoolDefault(args, "use_hybrid", true)
	req.UseReranker = getBoolDefault(args, "use_reranker", false)
	req.RecencyWeight = getFloatDefault(args, "recency_weight", searcher.DefaultRecencyWeight)
	req.SemanticWeight = getFloatDefault(args, "semantic_weight", searcher.DefaultSemanticWeight)
	req.BM25Weight = getFloatDefault(args, "bm25_weight", searcher.DefaultBM25Weight)
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"recency_weight", req.RecencyWeight},
		{"semantic_weight", req.SemanticWeight},
		{"bm25_weight", req.BM25Weight},
	} {
		if w.value < 0 || w.value > 1 {
			return nil, newMCPError(ErrorCodeInvalidParams, w.name+" must be between 0 and 1", map[string]interface{}{
				"param": w.name,
				"value": w.value,
			})
		}
	}

	resp, err := s.backend.Search(ctx, req)
	if err != nil {
		return nil, toMCPError("search failed", err)
	}

	results := make([]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, r)
	}

	response := map[string]interface{}{
		"query":       req.Query,
		"results":     results,
		"total":       resp.Total,
		"candidates":  resp.Candidates,
		"used_ann":    resp.UsedANN,
		"lexical":     resp.Lexical,
		"reranked":    resp.Reranked,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if len(resp.Degraded) > 0 {
		response["degraded"] = resp.Degraded
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleNeedsIndexing handles the needs_indexing tool invocation
func (s *Server) handleNeedsIndexing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	needs, err := s.backend.NeedsIndexing(ctx, path)
	if err != nil {
		return nil, toMCPError("failed to check document", err)
	}

	response := map[string]interface{}{
		"path":           path,
		"needs_indexing": needs,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteResource handles the delete_resource tool invocation
func (s *Server) handleDeleteResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	deleted, err := s.backend.DeleteResource(ctx, path)
	if err != nil {
		return nil, toMCPError("delete failed", err)
	}

	response := map[string]interface{}{
		"path":    path,
		"deleted": deleted,
	}
	if !deleted {
		response["message"] = "Document was not indexed."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, toMCPError("failed to get stats", err)
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"resources":      stats.Resources,
			"blocks":         stats.Blocks,
			"vectors":        stats.Vectors,
			"tags":           stats.Tags,
			"db_size_mb":     fmt.Sprintf("%.2f", stats.SizeMB),
			"schema_version": stats.SchemaVersion,
		},
		"embedding": map[string]interface{}{
			"provider":  stats.Provider,
			"model":     stats.Model,
			"dimension": stats.Dimension,
		},
		"capabilities": map[string]interface{}{
			"ann_index": stats.HasANNIndex,
			"ann_size":  stats.ANNSize,
			"ann_stale": stats.ANNStale,
			"lexical":   stats.Lexical,
			"reranker":  stats.Reranker,
		},
		"cached_queries": stats.CachedQueries,
		"db_path": stats.DBPath,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.backend.RebuildIndex(ctx)
	if err != nil {
		return nil, toMCPError("rebuild failed", err)
	}

	response := map[string]interface{}{
		"rebuilt":     result.Vectors > 0,
		"vectors":     result.Vectors,
		"path":        result.Path,
		"duration_ms": result.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps an engine error onto an MCP error code
func toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		code = ErrorCodeEmptyQuery
	case errors.Is(err, searcher.ErrInvalidWeight):
		code = ErrorCodeInvalidParams
	case errors.Is(err, engine.ErrRebuildInProgress):
		code = ErrorCodeRebuildInProgress
	case errors.Is(err, types.ErrConfiguration):
		code = ErrorCodeConfiguration
	case errors.Is(err, types.ErrNotFound), errors.Is(err, os.ErrNotExist):
		code = ErrorCodeNotFound
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
)

// requirePath extracts the path parameter and checks it is absolute
func requirePath(args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return filepath.Clean(path), nil
}

// validatePath checks that a path parameter is usable
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a numeric parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter. present reports whether
// the key was supplied at all, so an empty array can be told apart from none.
func getStringSlice(args map[string]interface{}, key string) (values []string, present bool, err error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, false, nil
	}

	switch v := raw.(type) {
	case []string:
		return v, true, nil
	case []interface{}:
		values = make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, true, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
					"param": key,
				})
			}
			values = append(values, str)
		}
		return values, true, nil
	}
	return nil, true, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
		"param": key,
	})
}

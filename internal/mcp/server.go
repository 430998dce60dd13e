package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/semdex/internal/engine"
	"github.com/dshills/semdex/internal/indexer"
	"github.com/dshills/semdex/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "semdex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend is the retrieval engine the tools call into
type Backend interface {
	IndexDocument(ctx context.Context, path string, opts indexer.IndexOptions) (*indexer.Result, error)
	IndexPaths(ctx context.Context, paths []string, opts indexer.IndexOptions) (*indexer.Statistics, error)
	NeedsIndexing(ctx context.Context, path string) (bool, error)
	DeleteResource(ctx context.Context, path string) (bool, error)
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Stats(ctx context.Context) (*engine.Stats, error)
	RebuildIndex(ctx context.Context) (*engine.RebuildResult, error)
}

// Server wraps the MCP server with the retrieval engine
type Server struct {
	mcp     *server.MCPServer
	backend Backend
}

// NewServer creates a new MCP server exposing backend as tools
func NewServer(backend Backend, version string) *Server {
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		backend: backend,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentTool(), s.handleIndexDocument)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(needsIndexingTool(), s.handleNeedsIndexing)
	s.mcp.AddTool(deleteResourceTool(), s.handleDeleteResource)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
}

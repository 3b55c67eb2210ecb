// Package mcp exposes search, question answering, context windows and reconciliation as
// MCP tools over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"pkm-search/internal/indexer"
	"pkm-search/internal/rag"
)

const (
	// ServerName is the MCP server name
	ServerName = "pkm-search"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Reconciler runs a library reconcile. *indexer.Synchronizer implements it.
type Reconciler interface {
	ReconcileLibrary(ctx context.Context) (indexer.Summary, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp        *server.MCPServer
	engine     rag.Engine
	reconciler Reconciler
}

// NewServer creates a new MCP server instance. reconciler may be nil, in which case the
// reconcile_library tool is not registered.
func NewServer(engine rag.Engine, reconciler Reconciler) *Server {
	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion),
		engine:     engine,
		reconciler: reconciler,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(askDocumentsTool(), s.handleAskDocuments)
	s.mcp.AddTool(chunkContextTool(), s.handleChunkContext)
	if s.reconciler != nil {
		s.mcp.AddTool(reconcileLibraryTool(), s.handleReconcileLibrary)
	}
}

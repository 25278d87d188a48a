package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codekb/internal/kb"
)

const (
	// ServerName is the MCP server name
	ServerName = "codekb"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes the knowledge base operations as MCP tools
type Server struct {
	mcp      *server.MCPServer
	registry *kb.Registry
	logger   *slog.Logger
}

// NewServer creates a server over the projects of reg
func NewServer(reg *kb.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		registry: reg,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio until the client disconnects
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", slog.String("server", ServerName))
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTools(s.tools()...)
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: indexProjectTool(), Handler: s.handleIndexProject},
		{Tool: updateFileTool(), Handler: s.handleUpdateFile},
		{Tool: removeFileTool(), Handler: s.handleRemoveFile},

		{Tool: findCallersTool(), Handler: s.handleFindCallers},
		{Tool: findCalleesTool(), Handler: s.handleFindCallees},
		{Tool: findReferencesTool(), Handler: s.handleFindReferences},
		{Tool: findSymbolTool(), Handler: s.handleFindSymbol},
		{Tool: impactAnalysisTool(), Handler: s.handleImpactAnalysis},

		{Tool: searchCodeTool(), Handler: s.handleSearchCode},
		{Tool: buildContextTool(), Handler: s.handleBuildContext},

		{Tool: embedProjectTool(), Handler: s.handleEmbedProject},
		{Tool: kbHealthTool(), Handler: s.handleKBHealth},
	}
}

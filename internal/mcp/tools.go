package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codekb/internal/indexer"
	"github.com/dshills/codekb/internal/kb"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Specified path is not a readable directory
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Project not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// project validates the path argument and opens its project
func (s *Server) project(ctx context.Context, args map[string]interface{}) (*kb.Project, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeProjectNotFound, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	p, err := s.registry.Project(ctx, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open project", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return p, nil
}

func indexed(p *kb.Project) bool {
	_, err := p.ReadMeta()
	return err == nil
}

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}

	result, err := p.Index(ctx)
	if errors.Is(err, indexer.ErrAlreadyIndexing) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": p.Root(),
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":      true,
		"files":        result.FileCount,
		"symbols":      result.SymbolCount,
		"edges":        result.EdgeCount,
		"parse_errors": result.ErrorCount,
		"duration_ms":  result.Elapsed.Milliseconds(),
	}
	if len(result.Errors) > 0 {
		response["errors"] = result.Errors
	}

	if getBoolDefault(args, "embed", true) {
		stats, err := p.Embed(ctx, true)
		if err != nil {
			// the graph is usable without vectors
			response["embed_error"] = err.Error()
		}
		if stats != nil {
			response["embedded"] = stats.Embedded
			response["embed_skipped"] = stats.Skipped
			response["embed_errors"] = stats.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUpdateFile handles the update_file tool invocation
func (s *Server) handleUpdateFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}

	changed, err := p.UpdateFile(ctx, file)
	response := map[string]interface{}{
		"file":    file,
		"changed": changed,
	}
	switch {
	case errors.Is(err, indexer.ErrOutsideRoot):
		return nil, newMCPError(ErrorCodeInvalidParams, "file is outside the project", map[string]interface{}{
			"param":  "file",
			"reason": err.Error(),
		})
	case errors.Is(err, indexer.ErrParseFailed):
		response["parse_error"] = err.Error()
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "update failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRemoveFile handles the remove_file tool invocation
func (s *Server) handleRemoveFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}

	if err := p.RemoveFile(ctx, file); err != nil {
		code := ErrorCodeInternalError
		if errors.Is(err, indexer.ErrOutsideRoot) {
			code = ErrorCodeInvalidParams
		}
		return nil, newMCPError(code, "remove failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"file":    file,
		"removed": true,
	})), nil
}

// symbolQuery runs a graph lookup for the symbol argument
func (s *Server) symbolQuery(ctx context.Context, request mcp.CallToolRequest, key string, lookup func(*kb.Project, string) []types.RelatedSymbol) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "symbol")
	if err != nil {
		return nil, err
	}

	symbols := lookup(p, name)
	if symbols == nil {
		symbols = []types.RelatedSymbol{}
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"symbol":  name,
		"indexed": indexed(p),
		key:       symbols,
		"count":   len(symbols),
	})), nil
}

func (s *Server) handleFindCallers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.symbolQuery(ctx, request, "callers", (*kb.Project).FindCallers)
}

func (s *Server) handleFindCallees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.symbolQuery(ctx, request, "callees", (*kb.Project).FindCallees)
}

func (s *Server) handleFindReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.symbolQuery(ctx, request, "references", (*kb.Project).FindReferences)
}

// handleFindSymbol also reports the inheritance chain of classes
func (s *Server) handleFindSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "symbol")
	if err != nil {
		return nil, err
	}

	defs := p.FindSymbol(name)
	if defs == nil {
		defs = []types.RelatedSymbol{}
	}
	response := map[string]interface{}{
		"symbol":      name,
		"indexed":     indexed(p),
		"definitions": defs,
		"count":       len(defs),
	}
	if chain := p.InheritanceChain(name); len(chain) > 0 {
		response["inherits_from"] = chain
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImpactAnalysis handles the impact_analysis tool invocation
func (s *Server) handleImpactAnalysis(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}

	affected := p.ImpactAnalysis(file)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"file":           file,
		"indexed":        indexed(p),
		"affected_files": affected,
		"count":          len(affected),
	})), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param": "query",
		})
	}

	limit := getIntDefault(args, "limit", defaultSearchLimit)
	if limit < 1 || limit > maxSearchLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	var filters searcher.Filters
	if raw, ok := args["filters"].(map[string]interface{}); ok {
		filters.File = getStringDefault(raw, "file", "")
		filters.Language = getStringDefault(raw, "language", "")
		filters.SymbolType = getStringDefault(raw, "symbol_type", "")
	}

	resp := p.Search(ctx, query, filters, limit)
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"indexed":     indexed(p),
		"results":     resp.Results,
		"count":       len(resp.Results),
		"mode":        resp.Mode,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

// handleBuildContext handles the build_context tool invocation
func (s *Server) handleBuildContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	task, err := requireString(args, "task")
	if err != nil {
		return nil, err
	}

	bundle, text := p.BuildContext(ctx, task,
		getStringDefault(args, "current_file", ""),
		getIntDefault(args, "max_tokens", 0))

	switch format := getStringDefault(args, "format", "text"); format {
	case "text":
		return mcp.NewToolResultText(text), nil
	case "json":
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"bundle":  bundle,
			"context": text,
		})), nil
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "format must be text or json", map[string]interface{}{
			"param": "format",
			"value": format,
		})
	}
}

// handleEmbedProject handles the embed_project tool invocation
func (s *Server) handleEmbedProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}
	if !indexed(p) {
		return nil, newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{
			"path": p.Root(),
			"hint": "run index_project first",
		})
	}

	stats, err := p.Embed(ctx, getBoolDefault(args, "incremental", true))
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "embedding failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total_symbols": stats.TotalSymbols,
		"embedded":      stats.Embedded,
		"skipped":       stats.Skipped,
		"errors":        stats.Errors,
	})), nil
}

// handleKBHealth handles the kb_health tool invocation
func (s *Server) handleKBHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, args)
	if err != nil {
		return nil, err
	}

	h := p.Health(ctx)
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode health", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(data)), nil
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

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
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

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)

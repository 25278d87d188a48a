package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

var pathProp = stringProp("Absolute path to the project root")

// symbolTool is the shape shared by the graph lookups that take a symbol name
func symbolTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path":   pathProp,
				"symbol": stringProp("Symbol name, bare (load) or qualified (Store.load)"),
			},
			Required: []string{"path", "symbol"},
		},
	}
}

func fileTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProp,
				"file": stringProp("File path, absolute or relative to the project root"),
			},
			Required: []string{"path", "file"},
		},
	}
}

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Build the symbol and call graph of a project from scratch, then embed its symbols",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProp,
				"embed": map[string]interface{}{
					"type":        "boolean",
					"description": "Embed changed symbols after indexing",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

func updateFileTool() mcp.Tool {
	return fileTool("update_file", "Re-index one file after it changed, was created or was deleted")
}

func removeFileTool() mcp.Tool {
	return fileTool("remove_file", "Drop one file from the graph, the manifest and the vector store")
}

func findCallersTool() mcp.Tool {
	return symbolTool("find_callers", "List the functions that call a symbol")
}

func findCalleesTool() mcp.Tool {
	return symbolTool("find_callees", "List the functions a symbol calls")
}

func findReferencesTool() mcp.Tool {
	return symbolTool("find_references", "List every symbol connected to a symbol by any edge")
}

func findSymbolTool() mcp.Tool {
	return symbolTool("find_symbol", "Locate the definitions of a symbol")
}

func impactAnalysisTool() mcp.Tool {
	return fileTool("impact_analysis", "List the files that directly or transitively depend on a file")
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the project's functions and classes with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path":  pathProp,
				"query": stringProp("Search query (natural language or keywords)"),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"file":     stringProp("Keep results whose file path starts with this prefix"),
						"language": stringProp("Language of the file (go, python)"),
						"symbol_type": map[string]interface{}{
							"type":        "string",
							"description": "Filter by symbol kind",
							"enum":        []string{"function", "method", "class"},
						},
					},
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// buildContextTool returns the tool definition for build_context
func buildContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_context",
		Description: "Assemble token-budgeted knowledge base context for a coding task",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path":         pathProp,
				"task":         stringProp("The task description"),
				"current_file": stringProp("File being worked on; scopes code search to its directory"),
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Token budget for the bundle",
					"default":     4000,
					"minimum":     1,
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "text renders the prompt block, json returns the bundle",
					"enum":        []string{"text", "json"},
					"default":     "text",
				},
			},
			Required: []string{"path", "task"},
		},
	}
}

func embedProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "embed_project",
		Description: "Embed indexed symbols into the vector store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProp,
				"incremental": map[string]interface{}{
					"type":        "boolean",
					"description": "Only embed files whose content changed since their last embedding",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

// kbHealthTool returns the tool definition for kb_health
func kbHealthTool() mcp.Tool {
	return mcp.Tool{
		Name:        "kb_health",
		Description: "Report index freshness, vector counts and global knowledge base state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": pathProp,
			},
			Required: []string{"path"},
		},
	}
}

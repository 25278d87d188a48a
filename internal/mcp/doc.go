// Package mcp implements the Model Context Protocol (MCP) server for codekb.
//
// The server exposes the knowledge base of any project on disk to AI coding
// assistants. Every tool takes the absolute project root as "path"; projects
// are opened on first use and kept open by the shared kb.Registry.
//
// Indexing tools:
//   - index_project: full index, then an incremental embedding pass
//   - update_file: re-index one changed, created or deleted file
//   - remove_file: drop one file everywhere
//   - embed_project: embed indexed symbols
//
// Graph tools:
//   - find_callers, find_callees, find_references, find_symbol
//   - impact_analysis: files that depend on a file
//
// Retrieval tools:
//   - search_code: semantic search with keyword fallback
//   - build_context: token-budgeted context for a task
//   - kb_health: freshness and store statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started with:
//
//	codekb serve
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "query": "load user records",
//	    "limit": 5,
//	    "filters": {"file": "api/", "symbol_type": "function"}
//	  }
//	}
//
//	Response:
//	{
//	  "query": "load user records",
//	  "mode": "vector",
//	  "count": 1,
//	  "results": [
//	    {
//	      "symbol_name": "load_user",
//	      "symbol_type": "function",
//	      "file": "api/users.py",
//	      "line_start": 12,
//	      "line_end": 30,
//	      "code_snippet": "def load_user(uid): ...",
//	      "score": 0.82
//	    }
//	  ]
//	}
//
// Graph and search queries never fail on a project that has no index; they
// return empty results with "indexed": false.
//
// # Error Codes
//
//	-32602  Invalid params (missing argument, bad limit, file outside the project)
//	-32603  Internal error
//	-32001  Path is not an absolute, readable directory
//	-32002  A full index is already running for the project
//	-32003  Project not indexed (embed_project before index_project)
//	-32004  Empty search query
package mcp

package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codekb/internal/config"
	"github.com/dshills/codekb/internal/embedder"
	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/kb"
)

const serviceSrc = `class Store:
    def load(self, key):
        return self.data[key]


def fetch_user(key):
    s = Store()
    return lookup(s, key)


def lookup(s, key):
    return s.load(key)
`

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()
	global, err := globalkb.Open(ctx, globalkb.InMemoryConfig())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Embedding.Provider = embedder.ProviderLocal
	reg := kb.NewRegistryWith(ctx, cfg, global, nil)
	t.Cleanup(func() { _ = reg.Close() })

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "service.py"), []byte(serviceSrc), 0o644))
	return NewServer(reg, nil), root
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func TestIndexAndQueryTools(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleIndexProject(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.EqualValues(t, 1, out["files"])
	assert.EqualValues(t, 4, out["embedded"])

	res, err = s.handleFindCallers(ctx, call(map[string]interface{}{"path": root, "symbol": "lookup"}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.EqualValues(t, 1, out["count"])
	callers := out["callers"].([]interface{})
	assert.Equal(t, "fetch_user", callers[0].(map[string]interface{})["name"])

	res, err = s.handleFindCallees(ctx, call(map[string]interface{}{"path": root, "symbol": "fetch_user"}))
	require.NoError(t, err)
	assert.NotZero(t, decode(t, res)["count"])

	res, err = s.handleFindSymbol(ctx, call(map[string]interface{}{"path": root, "symbol": "Store"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, err = s.handleFindReferences(ctx, call(map[string]interface{}{"path": root, "symbol": "nothing_here"}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.EqualValues(t, 0, out["count"])
	assert.Equal(t, []interface{}{}, out["references"])

	res, err = s.handleImpactAnalysis(ctx, call(map[string]interface{}{"path": root, "file": "service.py"}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, res)["count"])

	res, err = s.handleSearchCode(ctx, call(map[string]interface{}{
		"path": root, "query": "fetch user", "limit": float64(2),
		"filters": map[string]interface{}{"symbol_type": "function"},
	}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, "vector", out["mode"])
	assert.NotZero(t, out["count"])

	res, err = s.handleKBHealth(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.EqualValues(t, 4, out["vector_points"])
}

func TestFileTools(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()
	_, err := s.handleIndexProject(ctx, call(map[string]interface{}{"path": root, "embed": false}))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.py"), []byte("def extra():\n    return 1\n"), 0o644))
	res, err := s.handleUpdateFile(ctx, call(map[string]interface{}{"path": root, "file": "extra.py"}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["changed"])

	res, err = s.handleFindSymbol(ctx, call(map[string]interface{}{"path": root, "symbol": "extra"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, err = s.handleRemoveFile(ctx, call(map[string]interface{}{"path": root, "file": filepath.Join(root, "extra.py")}))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, res)["removed"])

	res, err = s.handleFindSymbol(ctx, call(map[string]interface{}{"path": root, "symbol": "extra"}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, res)["count"])

	_, err = s.handleUpdateFile(ctx, call(map[string]interface{}{"path": root, "file": "../elsewhere.py"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestBuildContextTool(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()
	_, err := s.handleIndexProject(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)

	res, err := s.handleBuildContext(ctx, call(map[string]interface{}{"path": root, "task": "fix the crash in fetch_user"}))
	require.NoError(t, err)
	text := res.Content[0].(mcp.TextContent).Text
	assert.True(t, strings.HasPrefix(text, "=== KNOWLEDGE BASE CONTEXT ==="))
	assert.Contains(t, text, "[RELEVANT CODE FROM THIS PROJECT]")

	res, err = s.handleBuildContext(ctx, call(map[string]interface{}{
		"path": root, "task": "fix the crash in fetch_user", "format": "json", "max_tokens": float64(2000),
	}))
	require.NoError(t, err)
	out := decode(t, res)
	bundle := out["bundle"].(map[string]interface{})
	assert.Equal(t, true, bundle["kb_available"])
	assert.Contains(t, bundle["sources_used"], "local_semantic")

	_, err = s.handleBuildContext(ctx, call(map[string]interface{}{"path": root, "task": "x", "format": "xml"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestEmbedProjectTool(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleEmbedProject(ctx, call(map[string]interface{}{"path": root}))
	requireCode(t, err, ErrorCodeNotIndexed)

	_, err = s.handleIndexProject(ctx, call(map[string]interface{}{"path": root, "embed": false}))
	require.NoError(t, err)
	res, err := s.handleEmbedProject(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	assert.EqualValues(t, 4, decode(t, res)["embedded"])

	res, err = s.handleEmbedProject(ctx, call(map[string]interface{}{"path": root}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, res)["embedded"])
}

func TestParameterValidation(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()
	file := filepath.Join(root, "service.py")

	tests := []struct {
		name string
		req  mcp.CallToolRequest
		code int
	}{
		{"arguments not an object", mcp.CallToolRequest{}, ErrorCodeInvalidParams},
		{"missing path", call(map[string]interface{}{"query": "x"}), ErrorCodeInvalidParams},
		{"relative path", call(map[string]interface{}{"path": "rel", "query": "x"}), ErrorCodeProjectNotFound},
		{"missing directory", call(map[string]interface{}{"path": filepath.Join(root, "nope"), "query": "x"}), ErrorCodeProjectNotFound},
		{"path is a file", call(map[string]interface{}{"path": file, "query": "x"}), ErrorCodeProjectNotFound},
		{"empty query", call(map[string]interface{}{"path": root, "query": "  "}), ErrorCodeEmptyQuery},
		{"limit too large", call(map[string]interface{}{"path": root, "query": "x", "limit": float64(500)}), ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSearchCode(ctx, tt.req)
			requireCode(t, err, tt.code)
		})
	}

	_, err := s.handleFindCallers(ctx, call(map[string]interface{}{"path": root}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("relative"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "missing")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
	assert.NoError(t, validatePath(dir), "directories without source files are valid")
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{"b": false, "f": float64(3), "i": 4, "s": "v"}
	assert.False(t, getBoolDefault(args, "b", true))
	assert.True(t, getBoolDefault(args, "missing", true))
	assert.Equal(t, 3, getIntDefault(args, "f", 0))
	assert.Equal(t, 4, getIntDefault(args, "i", 0))
	assert.Equal(t, 9, getIntDefault(args, "s", 9))
	assert.Equal(t, "v", getStringDefault(args, "s", ""))
	assert.Equal(t, "d", getStringDefault(args, "f", "d"))
}

func TestToolDefinitions(t *testing.T) {
	s, _ := newTestServer(t)
	names := map[string]bool{}
	for _, st := range s.tools() {
		names[st.Tool.Name] = true
		assert.NotNil(t, st.Handler, st.Tool.Name)
		assert.NotEmpty(t, st.Tool.Description, st.Tool.Name)
		assert.Equal(t, "object", st.Tool.InputSchema.Type)
		assert.Contains(t, st.Tool.InputSchema.Required, "path", st.Tool.Name)
		for _, req := range st.Tool.InputSchema.Required {
			assert.Contains(t, st.Tool.InputSchema.Properties, req, st.Tool.Name)
		}
	}
	for _, name := range []string{
		"index_project", "update_file", "remove_file",
		"find_callers", "find_callees", "find_references", "find_symbol", "impact_analysis",
		"search_code", "build_context", "embed_project", "kb_health",
	} {
		assert.True(t, names[name], name)
	}
}

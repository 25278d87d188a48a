package indexer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codekb/internal/graph"
	"github.com/dshills/codekb/internal/parser"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newTestIndexer(t *testing.T, files map[string]string) (*Indexer, *storage.Manifest) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	m, err := storage.OpenManifest(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return New(root, m, graph.New(), Options{Workers: 2}), m
}

const (
	fileA = "def foo():\n    return 1\n"
	fileB = "from a import foo\n\n\ndef bar():\n    return foo()\n"
)

func TestFullIndex(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{
		"a.py":                fileA,
		"b.py":                fileB,
		"README.md":           "# not indexed\n",
		"node_modules/x/y.py": "def hidden():\n    pass\n",
		".codekb/leftover.py": "def data():\n    pass\n",
		"pkg/__init__.py":     "",
		"pkg/util/helpers.py": "def helper():\n    pass\n",
	})
	ctx := context.Background()

	res, err := idx.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Equal(t, 4, res.FileCount)

	g := idx.Graph()
	callers := g.FindCallers("foo")
	require.Len(t, callers, 1)
	assert.Equal(t, "bar", callers[0].Name)
	assert.Equal(t, []string{"b.py"}, g.ImpactAnalysis("a.py"))

	paths, err := m.IndexedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py", "pkg/__init__.py", "pkg/util/helpers.py"}, paths)

	meta, err := idx.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, MetaSchemaVersion, meta.SchemaVersion)
	assert.Equal(t, 4, meta.FileCount)
	assert.Equal(t, res.SymbolCount, meta.SymbolCount)
	assert.Equal(t, res.EdgeCount, meta.EdgeCount)
	assert.Equal(t, 0, meta.AgeMinutes(time.Now()))
	assert.True(t, idx.IsIndexed())
}

func TestFullIndexRecordsParseErrors(t *testing.T) {
	idx, _ := newTestIndexer(t, map[string]string{
		"good.py":   fileA,
		"broken.py": "def (:\n",
	})
	res, err := idx.FullIndex(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.ErrorCount, 1)
	assert.Contains(t, res.Errors[0], "broken.py")
	assert.True(t, idx.Graph().HasFile("good.py"))
}

func TestFullIndexIsExclusive(t *testing.T) {
	idx, _ := newTestIndexer(t, map[string]string{"a.py": fileA})
	require.True(t, idx.lock.TryAcquire())
	assert.True(t, idx.Busy())

	_, err := idx.FullIndex(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyIndexing)

	idx.lock.Release()
	_, err = idx.FullIndex(context.Background())
	assert.NoError(t, err)
}

// gatedParser blocks every parse until release is closed
type gatedParser struct {
	parser.Parser
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedParser) Parse(ctx context.Context, path string, content []byte) (*types.ParsedFile, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Parser.Parse(ctx, path, content)
}

func TestFullIndexKeepsPreviousGraphWhileParsing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", fileA)
	writeFile(t, root, "b.py", fileB)
	ctx := context.Background()
	m, err := storage.OpenManifest(ctx, storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	g := graph.New()
	_, err = New(root, m, g, Options{Workers: 2}).FullIndex(ctx)
	require.NoError(t, err)

	gate := &gatedParser{Parser: parser.NewPythonParser(), entered: make(chan struct{}), release: make(chan struct{})}
	idx := New(root, m, g, Options{Workers: 2, Registry: parser.NewRegistry(gate)})

	done := make(chan error, 1)
	go func() {
		_, err := idx.FullIndex(ctx)
		done <- err
	}()
	<-gate.entered

	assert.Len(t, g.FindCallers("foo"), 1)
	assert.Equal(t, []string{"b.py"}, g.ImpactAnalysis("a.py"))
	paths, err := m.IndexedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py"}, paths)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Len(t, g.FindCallers("foo"), 1)
}

func TestFullIndexFailureLeavesGraph(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB})
	_, err := idx.FullIndex(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.FullIndex(ctx)
	require.Error(t, err)

	assert.Len(t, idx.Graph().FindCallers("foo"), 1)
	paths, err := m.IndexedPaths(context.Background())
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestFullIndexReconcilesManifest(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB, "old.py": "def gone():\n    pass\n"})
	ctx := context.Background()
	res, err := idx.FullIndex(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Removed)

	need, err := m.FilesNeedingEmbed(ctx)
	require.NoError(t, err)
	require.Len(t, need, 3)
	for _, c := range need {
		require.NoError(t, m.SetEmbeddedHash(ctx, c.Path, c.Hash))
	}

	writeFile(t, idx.Root(), "b.py", fileB+"\n\ndef baz():\n    pass\n")
	require.NoError(t, os.Remove(filepath.Join(idx.Root(), "old.py")))

	res, err = idx.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.py"}, res.Removed)
	assert.Equal(t, 2, res.FileCount)

	need, err = m.FilesNeedingEmbed(ctx)
	require.NoError(t, err)
	require.Len(t, need, 1, "unchanged files keep their embed state")
	assert.Equal(t, "b.py", need[0].Path)

	paths, err := m.IndexedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py"}, paths)
	assert.False(t, idx.Graph().HasFile("old.py"))
}

func TestUpdateFile(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB})
	ctx := context.Background()
	_, err := idx.FullIndex(ctx)
	require.NoError(t, err)

	t.Run("unchanged is a no-op", func(t *testing.T) {
		changed, err := idx.UpdateFile(ctx, "a.py")
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("modified file is re-indexed", func(t *testing.T) {
		writeFile(t, idx.Root(), "a.py", "def foo():\n    return 2\n\n\ndef baz():\n    return foo()\n")
		changed, err := idx.UpdateFile(ctx, filepath.Join(idx.Root(), "a.py"))
		require.NoError(t, err)
		assert.True(t, changed)

		names := []string{}
		for _, c := range idx.Graph().FindCallers("foo") {
			names = append(names, c.Name)
		}
		assert.ElementsMatch(t, []string{"bar", "baz"}, names)

		rec, err := m.GetFile(ctx, "a.py")
		require.NoError(t, err)
		assert.Equal(t, parser.HashContent([]byte("def foo():\n    return 2\n\n\ndef baz():\n    return foo()\n")), rec.ContentHash)
	})

	t.Run("new file is added", func(t *testing.T) {
		writeFile(t, idx.Root(), "c.py", "from a import foo\n\n\ndef qux():\n    foo()\n")
		changed, err := idx.UpdateFile(ctx, "c.py")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []string{"b.py", "c.py"}, idx.Graph().ImpactAnalysis("a.py"))
	})

	t.Run("deleted file is removed", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(idx.Root(), "c.py")))
		changed, err := idx.UpdateFile(ctx, "c.py")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.False(t, idx.Graph().HasFile("c.py"))
		_, err = m.GetFile(ctx, "c.py")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("unsupported file is ignored", func(t *testing.T) {
		writeFile(t, idx.Root(), "notes.txt", "hello")
		changed, err := idx.UpdateFile(ctx, "notes.txt")
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("path outside the root", func(t *testing.T) {
		_, err := idx.UpdateFile(ctx, "../elsewhere.py")
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})
}

func TestUpdateFileParseFailureRemoves(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA})
	ctx := context.Background()
	_, err := idx.FullIndex(ctx)
	require.NoError(t, err)

	writeFile(t, idx.Root(), "a.py", "def (:\n")
	changed, err := idx.UpdateFile(ctx, "a.py")
	assert.True(t, changed)
	assert.ErrorIs(t, err, ErrParseFailed)
	assert.False(t, idx.Graph().HasFile("a.py"))
	_, err = m.GetFile(ctx, "a.py")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemoveFile(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB})
	ctx := context.Background()
	_, err := idx.FullIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, idx.RemoveFile(ctx, "a.py"))
	assert.False(t, idx.Graph().HasFile("a.py"))
	assert.Empty(t, idx.Graph().FindCallees("bar"))

	paths, err := m.IndexedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py"}, paths)

	// unknown path
	assert.NoError(t, idx.RemoveFile(ctx, "missing.py"))
}

func TestScanAndApplyChanges(t *testing.T) {
	idx, _ := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB, "old.py": "X = 1\n"})
	ctx := context.Background()
	_, err := idx.FullIndex(ctx)
	require.NoError(t, err)

	writeFile(t, idx.Root(), "a.py", "def foo():\n    return 3\n")
	writeFile(t, idx.Root(), "new.py", "def fresh():\n    pass\n")
	require.NoError(t, os.Remove(filepath.Join(idx.Root(), "old.py")))

	cs, err := idx.ScanChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, cs.Changed)
	assert.Equal(t, []string{"new.py"}, cs.Added)
	assert.Equal(t, []string{"old.py"}, cs.Deleted)
	assert.Equal(t, 3, cs.FileCount)
	assert.Equal(t, 3, cs.Total())

	res, err := idx.ApplyChanges(ctx, cs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.FileCount)
	assert.True(t, idx.Graph().HasFile("new.py"))
	assert.False(t, idx.Graph().HasFile("old.py"))

	after, err := idx.ScanChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, after.Total())
}

func TestLoadGraph(t *testing.T) {
	idx, m := newTestIndexer(t, map[string]string{"a.py": fileA, "b.py": fileB})
	ctx := context.Background()
	_, err := idx.FullIndex(ctx)
	require.NoError(t, err)
	want := idx.Graph().Stats()

	fresh := New(idx.Root(), m, graph.New(), Options{})
	fresh.LoadGraph()
	assert.Equal(t, want, fresh.Graph().Stats())

	t.Run("corrupt snapshot starts empty", func(t *testing.T) {
		require.NoError(t, os.WriteFile(LayoutFor(idx.Root()).Graph, []byte("{not json"), 0o644))
		fresh.LoadGraph()
		assert.Zero(t, fresh.Graph().Stats().TotalNodes)
	})

	t.Run("missing snapshot starts empty", func(t *testing.T) {
		require.NoError(t, os.Remove(LayoutFor(idx.Root()).Graph))
		fresh.LoadGraph()
		assert.Zero(t, fresh.Graph().Stats().TotalNodes)
		assert.False(t, fresh.IsIndexed())
	})
}

func TestMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", MetaFile)

	_, err := ReadMeta(path)
	assert.ErrorIs(t, err, ErrNoMetadata)

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteMeta(path, Meta{LastIndexed: stamp.Format(MetaTimeLayout), FileCount: 2, SchemaVersion: MetaSchemaVersion}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["last_indexed"])
	for _, k := range []string{"file_count", "symbol_count", "edge_count", "schema_version"} {
		assert.Contains(t, fields, k)
	}

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, 90, meta.AgeMinutes(stamp.Add(90*time.Minute+30*time.Second)))
	assert.Equal(t, 0, meta.AgeMinutes(stamp.Add(-time.Hour)))
	assert.Equal(t, -1, (&Meta{LastIndexed: "yesterday"}).AgeMinutes(stamp))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = ReadMeta(path)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestDiscoverer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*_pb.py\n")
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "app/run.py", "")
	writeFile(t, root, "app/msg_pb.py", "")
	writeFile(t, root, "generated/code.py", "")
	writeFile(t, root, "venv/lib/site.py", "")
	writeFile(t, root, ".hidden/x.py", "")

	d := NewDiscoverer(root, parser.DefaultRegistry())
	files, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app/run.py", "main.go"}, files)

	assert.True(t, d.Accept("app/run.py"))
	assert.False(t, d.Accept("app/msg_pb.py"))
	assert.False(t, d.Accept("generated/code.py"))
	assert.False(t, d.Accept("__pycache__/x.py"))
	assert.False(t, d.Accept("README.md"))

	rel, err := d.Rel(filepath.Join(root, "app", "run.py"))
	require.NoError(t, err)
	assert.Equal(t, "app/run.py", rel)
}

func TestBuildModuleMap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/proj\n\ngo 1.22\n")

	mm := BuildModuleMap(root, []string{
		"main.go", "internal/store/db.go", "internal/store/cache.go",
		"pkg/__init__.py", "pkg/mod.py", "src/lib/core.py",
	})
	assert.Equal(t, []string{"main.go"}, mm["example.com/proj"])
	assert.Equal(t, []string{"internal/store/cache.go", "internal/store/db.go"}, mm["example.com/proj/internal/store"])
	assert.Equal(t, []string{"pkg/__init__.py"}, mm["pkg"])
	assert.Equal(t, []string{"pkg/mod.py"}, mm["pkg.mod"])
	assert.Equal(t, []string{"src/lib/core.py"}, mm["src.lib.core"])
	assert.Equal(t, []string{"src/lib/core.py"}, mm["lib.core"])
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

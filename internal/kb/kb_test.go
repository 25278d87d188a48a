package kb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codekb/internal/config"
	"github.com/dshills/codekb/internal/embedder"
	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/internal/startup"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/internal/watcher"
)

const (
	storeSrc = `class Store:
    def load(self, key):
        return self.data[key]
`
	serviceSrc = `from store import Store


def fetch_user(key):
    s = Store()
    return lookup(s, key)


def lookup(s, key):
    return s.load(key)
`
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Watcher.Debounce = 50 * time.Millisecond
	cfg.Watcher.QuietPeriod = 150 * time.Millisecond
	return cfg
}

func openProject(t *testing.T, root string) *Project {
	t.Helper()
	ctx := context.Background()
	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	global, err := globalkb.Open(ctx, globalkb.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = global.Close() })

	p, err := Open(ctx, root, Options{Config: testConfig(), Embedder: emb, Global: global})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func sampleProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "store.py", storeSrc)
	writeFile(t, root, "service.py", serviceSrc)
	return root
}

func TestOpenRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err := Open(context.Background(), f, Options{})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestIndexEmbedAndQuery(t *testing.T) {
	root := sampleProject(t)
	p := openProject(t, root)
	ctx := context.Background()

	res, err := p.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FileCount)
	assert.Zero(t, res.ErrorCount)

	callers := p.FindCallers("lookup")
	require.Len(t, callers, 1)
	assert.Equal(t, "fetch_user", callers[0].Name)
	assert.NotEmpty(t, p.FindSymbol("Store"))
	assert.Equal(t, []string{"service.py"}, p.ImpactAnalysis(filepath.Join(root, "store.py")))

	stats, err := p.Embed(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Embedded)

	resp := p.Search(ctx, "fetch user", searcher.Filters{}, 3)
	assert.Equal(t, searcher.SearchModeVector, resp.Mode)
	require.NotEmpty(t, resp.Results)

	// nothing changed, nothing to embed
	stats, err = p.Embed(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded)

	h := p.Health(ctx)
	assert.True(t, h.Indexed)
	assert.False(t, h.Stale)
	assert.Equal(t, 2, h.FileCount)
	assert.Equal(t, 4, h.VectorPoints)
	assert.Zero(t, h.EmbedPending)
	assert.Equal(t, 2, h.Languages["python"])
	assert.Greater(t, h.GlobalEntries, 0)
	assert.Equal(t, embedder.ProviderLocal, h.Provider)
	assert.NotEmpty(t, h.BuildMode)

	report := FormatHealth(h)
	assert.Contains(t, report, "Indexed       : OK")
	assert.Contains(t, report, "Points        : 4")
}

func TestUpdateAndRemoveFile(t *testing.T) {
	root := sampleProject(t)
	p := openProject(t, root)
	ctx := context.Background()

	_, err := p.Index(ctx)
	require.NoError(t, err)
	_, err = p.Embed(ctx, false)
	require.NoError(t, err)

	changed, err := p.UpdateFile(ctx, "service.py")
	require.NoError(t, err)
	assert.False(t, changed, "unchanged content is a no-op")

	writeFile(t, root, "service.py", serviceSrc+"\n\ndef purge_cache():\n    pass\n")
	changed, err = p.UpdateFile(ctx, filepath.Join(root, "service.py"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEmpty(t, p.FindSymbol("purge_cache"))
	assert.Equal(t, 5, p.Health(ctx).VectorPoints)

	require.NoError(t, p.RemoveFile(ctx, "service.py"))
	assert.Empty(t, p.FindSymbol("fetch_user"))
	assert.Empty(t, p.ImpactAnalysis("service.py"))
	assert.Equal(t, 2, p.Health(ctx).VectorPoints)

	_, err = p.UpdateFile(ctx, "../outside.py")
	assert.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	root := sampleProject(t)
	p := openProject(t, root)
	ctx := context.Background()

	// no index yet: only behavioral guidance
	bundle, text := p.BuildContext(ctx, "add a caching layer", "", 0)
	assert.False(t, bundle.KBAvailable)
	assert.NotEmpty(t, bundle.Behavioral)
	assert.Contains(t, text, "[BEHAVIORAL INSTRUCTIONS]")

	_, err := p.Index(ctx)
	require.NoError(t, err)
	_, err = p.Embed(ctx, false)
	require.NoError(t, err)

	bundle, text = p.BuildContext(ctx, "fix KeyError raised by load user", filepath.Join(root, "service.py"), 0)
	assert.True(t, bundle.KBAvailable)
	assert.NotEmpty(t, bundle.LocalSymbols)
	assert.NotEmpty(t, bundle.ErrorFixes)
	assert.Contains(t, bundle.SourcesUsed, "local_semantic")
	assert.Contains(t, bundle.SourcesUsed, "error_dict")
	assert.Contains(t, text, "[RELEVANT CODE FROM THIS PROJECT]")
	assert.LessOrEqual(t, bundle.TokenCount, 4000)
}

func TestStartupScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("blank project", func(t *testing.T) {
		p := openProject(t, t.TempDir())
		report := p.Startup(ctx)
		p.Wait()
		assert.Equal(t, startup.ReasonBlankProject, report.SkippedReason)
		assert.False(t, report.Background)
	})

	t.Run("new project indexes in background", func(t *testing.T) {
		p := openProject(t, sampleProject(t))
		report := p.Startup(ctx)
		assert.True(t, report.LocalIndexTriggered)
		p.Wait()
		assert.True(t, p.Indexer().IsIndexed())
		assert.Equal(t, 4, p.Health(ctx).VectorPoints)

		// a second start finds nothing to do
		again := p.Startup(ctx)
		assert.Equal(t, startup.ReasonUpToDate, again.Reason)
	})

	t.Run("small change refreshes incrementally", func(t *testing.T) {
		root := sampleProject(t)
		p := openProject(t, root)
		require.NoError(t, p.Rebuild(ctx))

		writeFile(t, root, "extra.py", "def extra():\n    pass\n")
		report := p.Startup(ctx)
		assert.True(t, report.IncrementalTriggered)
		p.Wait()
		assert.NotEmpty(t, p.FindSymbol("extra"))
		assert.Equal(t, 5, p.Health(ctx).VectorPoints)
	})
}

func TestRebuildDropsVanishedFiles(t *testing.T) {
	root := sampleProject(t)
	p := openProject(t, root)
	ctx := context.Background()
	require.NoError(t, p.Rebuild(ctx))
	require.Equal(t, 4, p.Health(ctx).VectorPoints)

	require.NoError(t, os.Remove(filepath.Join(root, "service.py")))
	require.NoError(t, p.Rebuild(ctx))
	assert.Equal(t, 2, p.Health(ctx).VectorPoints)
}

func TestIndexDropsVectorsOfDeletedFiles(t *testing.T) {
	root := sampleProject(t)
	p := openProject(t, root)
	ctx := context.Background()
	_, err := p.Index(ctx)
	require.NoError(t, err)
	_, err = p.Embed(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 4, p.Health(ctx).VectorPoints)

	require.NoError(t, os.Remove(filepath.Join(root, "store.py")))
	res, err := p.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"store.py"}, res.Removed)

	h := p.Health(ctx)
	assert.Equal(t, 2, h.VectorPoints)
	assert.Zero(t, h.EmbedPending, "service.py is unchanged and stays embedded")

	left, err := p.vectors.Search(ctx, embedder.HashEmbed("Store load", embedder.LocalDimension), 10,
		&storage.Filter{File: "store.py"})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestWatchFirstFileMode(t *testing.T) {
	root := t.TempDir()
	p := openProject(t, root)

	w, err := p.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, watcher.ModeFirstFile, w.Mode())
	_, err = p.Watch(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyWatching)

	writeFile(t, root, "store.py", storeSrc)
	writeFile(t, root, "service.py", serviceSrc)

	require.Eventually(t, p.Indexer().IsIndexed, 5*time.Second, 25*time.Millisecond)
	require.Eventually(t, func() bool { return w.Mode() == watcher.ModeIncremental }, 5*time.Second, 25*time.Millisecond)

	writeFile(t, root, "later.py", "def later():\n    pass\n")
	require.Eventually(t, func() bool { return len(p.FindSymbol("later")) > 0 }, 5*time.Second, 25*time.Millisecond)

	require.NoError(t, p.StopWatching())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	global, err := globalkb.Open(ctx, globalkb.InMemoryConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Embedding.Provider = embedder.ProviderLocal
	r := NewRegistryWith(ctx, cfg, global, nil)

	root := sampleProject(t)
	a, err := r.Project(ctx, root)
	require.NoError(t, err)
	b, err := r.Project(ctx, root+string(filepath.Separator))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, global, r.Global())

	report := a.Startup(ctx)
	assert.True(t, report.Background)
	require.NoError(t, r.Close())
	assert.True(t, a.Indexer().IsIndexed())
}

package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/codekb/internal/config"
	"github.com/dshills/codekb/internal/contextbuilder"
	"github.com/dshills/codekb/internal/embedder"
	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/graph"
	"github.com/dshills/codekb/internal/indexer"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/internal/startup"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/internal/watcher"
	"github.com/dshills/codekb/pkg/types"
)

// ErrNotDirectory is returned when a project root is not a directory
var ErrNotDirectory = errors.New("project root is not a directory")

// Options configures a Project. Every field is optional.
type Options struct {
	Config *config.Config
	// Embedder overrides the provider chosen from Config
	Embedder embedder.Embedder
	// Global is shared across projects and not closed by the Project
	Global *globalkb.Store
	// Dispatcher runs background indexing; a private one is created when nil
	Dispatcher *startup.Dispatcher
	Logger     *slog.Logger
}

// Project is the knowledge base of one project root
type Project struct {
	root   string
	layout indexer.Layout
	cfg    *config.Config
	logger *slog.Logger

	manifest *storage.Manifest
	vectors  *storage.VectorStore
	graph    *graph.Graph
	indexer  *indexer.Indexer
	emb      embedder.Embedder
	pipeline *embedder.Pipeline
	searcher *searcher.Searcher
	builder  *contextbuilder.Builder
	global   *globalkb.Store

	dispatcher    *startup.Dispatcher
	ownDispatcher bool

	watchMu sync.Mutex
	watcher *watcher.Watcher
}

// Open opens or creates the knowledge base under root/.codekb and loads the saved graph
func Open(ctx context.Context, root string, opts Options) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("project", abs))

	layout := indexer.LayoutFor(abs)
	if err := os.MkdirAll(layout.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	p := &Project{root: abs, layout: layout, cfg: cfg, logger: logger, global: opts.Global}
	ok := false
	defer func() {
		if !ok {
			_ = p.closeStores()
		}
	}()

	if p.manifest, err = storage.OpenManifest(ctx, layout.Manifest); err != nil {
		return nil, err
	}
	if p.vectors, err = storage.OpenVectorStore(ctx, layout.Vectors, storage.CollectionName(abs)); err != nil {
		return nil, err
	}

	p.emb = opts.Embedder
	if p.emb == nil {
		if p.emb, err = embedder.New(cfg.EmbedderConfig()); err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	p.graph = graph.New()
	p.indexer = indexer.New(abs, p.manifest, p.graph, indexer.Options{Logger: logger})
	p.indexer.LoadGraph()

	p.pipeline = embedder.NewPipeline(abs, p.emb, p.graph, p.vectors, p.manifest, embedder.PipelineOptions{
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Retry:             cfg.RetryConfig(),
		Logger:            logger,
	})
	p.searcher = searcher.New(abs, p.graph, p.vectors, p.emb, searcher.Options{
		CacheSize: cfg.Search.CacheSize,
		CacheTTL:  cfg.Search.CacheTTL,
		Logger:    logger,
	})

	bc := contextbuilder.Config{
		Root:         abs,
		Searcher:     p.searcher,
		Graph:        p.graph,
		Available:    p.indexer.IsIndexed,
		SemanticTopK: cfg.Context.SemanticTopK,
		Logger:       logger,
	}
	if p.global != nil {
		bc.Global = p.global
	}
	p.builder = contextbuilder.New(bc)

	p.dispatcher = opts.Dispatcher
	if p.dispatcher == nil {
		p.dispatcher = startup.NewDispatcher(context.WithoutCancel(ctx), logger)
		p.ownDispatcher = true
	}

	ok = true
	return p, nil
}

func (p *Project) closeStores() error {
	var errs []error
	if p.emb != nil {
		errs = append(errs, p.emb.Close())
	}
	if p.vectors != nil {
		errs = append(errs, p.vectors.Close())
	}
	if p.manifest != nil {
		errs = append(errs, p.manifest.Close())
	}
	return errors.Join(errs...)
}

// Close stops the watcher, waits for background work it owns and closes the stores
func (p *Project) Close() error {
	var errs []error
	p.watchMu.Lock()
	if p.watcher != nil {
		errs = append(errs, p.watcher.Stop())
		p.watcher = nil
	}
	p.watchMu.Unlock()
	if p.ownDispatcher {
		p.dispatcher.Wait()
	}
	errs = append(errs, p.closeStores())
	return errors.Join(errs...)
}

// Root returns the absolute project root
func (p *Project) Root() string { return p.root }

// Graph returns the live code graph
func (p *Project) Graph() *graph.Graph { return p.graph }

// Indexer returns the project's indexer
func (p *Project) Indexer() *indexer.Indexer { return p.indexer }

// Index runs a full index of the project and drops the vectors of files it removed
func (p *Project) Index(ctx context.Context) (*indexer.Result, error) {
	result, err := p.indexer.FullIndex(ctx)
	if err != nil {
		return nil, err
	}
	p.searcher.Invalidate()
	for _, rel := range result.Removed {
		if err := p.pipeline.RemoveFile(ctx, rel); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Embed runs an embedding pass over the indexed symbols
func (p *Project) Embed(ctx context.Context, incremental bool) (*embedder.EmbedStats, error) {
	stats, err := p.pipeline.EmbedProject(ctx, incremental)
	p.searcher.Invalidate()
	return stats, err
}

// UpdateFile re-indexes one file and re-embeds its symbols. Embedding failures are
// logged; the file stays flagged for the next embedding pass.
func (p *Project) UpdateFile(ctx context.Context, path string) (bool, error) {
	rel, err := p.indexer.Discoverer().Rel(path)
	if err != nil {
		return false, err
	}
	changed, err := p.indexer.UpdateFile(ctx, rel)
	if !changed {
		return false, err
	}
	p.searcher.Invalidate()

	if p.graph.HasFile(rel) {
		if _, embErr := p.pipeline.EmbedFile(ctx, rel); embErr != nil {
			p.logger.Warn("failed to embed file", slog.String("path", rel), slog.String("error", embErr.Error()))
		}
	} else if rmErr := p.pipeline.RemoveFile(ctx, rel); rmErr != nil {
		p.logger.Warn("failed to remove file points", slog.String("path", rel), slog.String("error", rmErr.Error()))
	}
	return true, err
}

// RemoveFile drops a file from the graph, the manifest and the vector store
func (p *Project) RemoveFile(ctx context.Context, path string) error {
	rel, err := p.indexer.Discoverer().Rel(path)
	if err != nil {
		return err
	}
	if err := p.indexer.RemoveFile(ctx, rel); err != nil {
		return err
	}
	p.searcher.Invalidate()
	return p.pipeline.RemoveFile(ctx, rel)
}

// ReadMeta returns the project's index metadata
func (p *Project) ReadMeta() (*indexer.Meta, error) { return p.indexer.ReadMeta() }

// ScanChanges compares the working tree with the manifest
func (p *Project) ScanChanges(ctx context.Context) (*indexer.ChangeSet, error) {
	return p.indexer.ScanChanges(ctx)
}

// Rebuild runs a full index and embeds what changed
func (p *Project) Rebuild(ctx context.Context) error {
	result, err := p.Index(ctx)
	if err != nil {
		return err
	}
	stats, err := p.Embed(ctx, true)
	if err != nil {
		return err
	}
	p.logger.Info("background index complete",
		slog.Int("files", result.FileCount),
		slog.Int("symbols", result.SymbolCount),
		slog.Int("embedded", stats.Embedded))
	return nil
}

// Refresh applies cs to the index and embeds the files it touched
func (p *Project) Refresh(ctx context.Context, cs *indexer.ChangeSet) error {
	if _, err := p.indexer.ApplyChanges(ctx, cs); err != nil {
		return err
	}
	p.searcher.Invalidate()
	for _, rel := range cs.Deleted {
		if err := p.pipeline.RemoveFile(ctx, rel); err != nil {
			return err
		}
	}
	_, err := p.Embed(ctx, true)
	return err
}

// Startup decides how much indexing the project needs and starts it in the background
func (p *Project) Startup(ctx context.Context) *startup.Report {
	return startup.NewManager(p, p.dispatcher, p.cfg.Startup, p.logger).Run(ctx)
}

// Wait blocks until background work started through this project's dispatcher is done
func (p *Project) Wait() {
	p.dispatcher.Wait()
}

// FindCallers returns the symbols calling name
func (p *Project) FindCallers(name string) []types.RelatedSymbol { return p.graph.FindCallers(name) }

// FindCallees returns the symbols name calls
func (p *Project) FindCallees(name string) []types.RelatedSymbol { return p.graph.FindCallees(name) }

// FindReferences returns every symbol connected to name
func (p *Project) FindReferences(name string) []types.RelatedSymbol {
	return p.graph.FindReferences(name)
}

// FindSymbol returns the definitions of name
func (p *Project) FindSymbol(name string) []types.RelatedSymbol { return p.graph.FindSymbol(name) }

// InheritanceChain returns the base classes of name, nearest first
func (p *Project) InheritanceChain(name string) []types.RelatedSymbol {
	return p.graph.InheritanceChain(name)
}

// ImpactAnalysis returns the files affected by a change to path
func (p *Project) ImpactAnalysis(path string) []string {
	rel, err := p.indexer.Discoverer().Rel(path)
	if err != nil {
		return []string{}
	}
	return p.graph.ImpactAnalysis(rel)
}

// Search runs a semantic search with keyword fallback
func (p *Project) Search(ctx context.Context, query string, filters searcher.Filters, topK int) *searcher.SearchResponse {
	return p.searcher.Search(ctx, searcher.SearchRequest{Query: query, TopK: topK, Filters: filters})
}

// BuildContext assembles a context bundle for task and renders it
func (p *Project) BuildContext(ctx context.Context, task, currentFile string, maxTokens int) (*contextbuilder.Bundle, string) {
	if maxTokens <= 0 {
		maxTokens = p.cfg.Context.MaxTokens
	}
	bundle := p.builder.Build(ctx, task, currentFile, maxTokens)
	return bundle, contextbuilder.Format(bundle)
}

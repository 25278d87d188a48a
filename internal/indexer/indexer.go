package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codekb/internal/graph"
	"github.com/dshills/codekb/internal/metrics"
	"github.com/dshills/codekb/internal/parser"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/pkg/types"
)

var (
	// ErrParseFailed is returned when a file cannot be parsed into any usable symbols
	ErrParseFailed = errors.New("parse failed")
	// ErrNoMetadata is returned when a project has never been indexed
	ErrNoMetadata = errors.New("no index metadata")
	// ErrAlreadyIndexing is returned when a full index is already running for the project
	ErrAlreadyIndexing = errors.New("indexing already in progress")
	// ErrOutsideRoot is returned for paths that escape the project root
	ErrOutsideRoot = errors.New("path outside project root")
)

// Store is the manifest as seen by the indexer
type Store interface {
	UpsertFile(ctx context.Context, file storage.FileRecord, symbols []storage.SymbolRecord) error
	RemoveFile(ctx context.Context, path string) error
	GetFile(ctx context.Context, path string) (*storage.FileRecord, error)
	IsFileChanged(ctx context.Context, path, hash string) (bool, error)
	FileHashes(ctx context.Context) (map[string]string, error)
}

// Options configures an Indexer
type Options struct {
	Workers  int // Number of concurrent parsers (default: runtime.NumCPU())
	Registry *parser.Registry
	Logger   *slog.Logger
}

// Result summarizes a full or incremental index run
type Result struct {
	FileCount   int           `json:"file_count"`
	SymbolCount int           `json:"symbol_count"`
	EdgeCount   int           `json:"edge_count"`
	ErrorCount  int           `json:"error_count"`
	Elapsed     time.Duration `json:"elapsed"`
	Errors      []string      `json:"errors,omitempty"`
	// Removed lists files dropped from the index by a full run, sorted
	Removed []string `json:"removed,omitempty"`
}

// ChangeSet lists how the working tree differs from the manifest
type ChangeSet struct {
	Changed   []string `json:"changed"`
	Added     []string `json:"added"`
	Deleted   []string `json:"deleted"`
	FileCount int      `json:"file_count"`
}

// Total returns the number of changed, added and deleted files
func (c *ChangeSet) Total() int {
	return len(c.Changed) + len(c.Added) + len(c.Deleted)
}

// Indexer is the only writer of a project's manifest and graph. Every mutation
// updates both, so a file is either in both or in neither.
type Indexer struct {
	root     string
	layout   Layout
	store    Store
	graph    *graph.Graph
	registry *parser.Registry
	discover *Discoverer
	workers  int
	logger   *slog.Logger

	mu   sync.Mutex
	lock IndexLock
}

// New creates an Indexer for the project at root
func New(root string, store Store, g *graph.Graph, opts Options) *Indexer {
	reg := opts.Registry
	if reg == nil {
		reg = parser.DefaultRegistry()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		root:     root,
		layout:   LayoutFor(root),
		store:    store,
		graph:    g,
		registry: reg,
		discover: NewDiscoverer(root, reg),
		workers:  workers,
		logger:   logger,
	}
}

// Root returns the project root
func (idx *Indexer) Root() string {
	return idx.root
}

// Graph returns the graph the indexer maintains
func (idx *Indexer) Graph() *graph.Graph {
	return idx.graph
}

// Discoverer returns the file filter used for discovery
func (idx *Indexer) Discoverer() *Discoverer {
	return idx.discover
}

// Busy reports whether a full index is running
func (idx *Indexer) Busy() bool {
	return idx.lock.Held()
}

// parsedFile is a parse result with the file facts the manifest records
type parsedFile struct {
	pf      *types.ParsedFile
	size    int64
	modTime time.Time
	err     error
}

// FullIndex re-parses every discovered file into a fresh graph and swaps it in once
// parsing is done. Readers keep seeing the previous graph until then. The manifest is
// reconciled rather than cleared, so embed state of unchanged files survives.
func (idx *Indexer) FullIndex(ctx context.Context) (*Result, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrAlreadyIndexing
	}
	defer idx.lock.Release()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := time.Now()
	result, err := idx.fullIndexLocked(ctx)
	idx.observe("full", start, err)
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	idx.logger.Info("full index complete",
		slog.String("root", idx.root),
		slog.Int("files", result.FileCount),
		slog.Int("symbols", result.SymbolCount),
		slog.Int("edges", result.EdgeCount),
		slog.Int("errors", result.ErrorCount),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (idx *Indexer) fullIndexLocked(ctx context.Context) (*Result, error) {
	files, err := idx.discover.Discover(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := idx.parseAll(ctx, files)
	if err != nil {
		return nil, err
	}

	known, err := idx.store.FileHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	result := &Result{}
	next := graph.New()
	for i, rel := range files {
		p := parsed[i]
		if p.err != nil {
			idx.recordError(result, rel, p.err)
			continue
		}
		if p.pf.HasParseError() {
			idx.recordError(result, rel, fmt.Errorf("%w: %s", ErrParseFailed, p.pf.ParseError))
		}
		if !next.AddParsedFile(p.pf) {
			continue
		}
		if err := idx.upsertRecord(ctx, p); err != nil {
			return nil, err
		}
		metrics.IndexedFiles.WithLabelValues("ok").Inc()
	}

	for rel := range known {
		if next.HasFile(rel) {
			continue
		}
		if err := idx.store.RemoveFile(ctx, rel); err != nil {
			return nil, fmt.Errorf("failed to remove %s from manifest: %w", rel, err)
		}
		metrics.IndexedFiles.WithLabelValues("removed").Inc()
		result.Removed = append(result.Removed, rel)
	}
	sort.Strings(result.Removed)

	idx.link(next)
	idx.graph.ReplaceWith(next)
	if err := idx.persistLocked(); err != nil {
		return nil, err
	}
	idx.fillCounts(result)
	return result, nil
}

// parseAll parses files concurrently. Per-file failures are returned in the slice, not as an error.
func (idx *Indexer) parseAll(ctx context.Context, files []string) ([]parsedFile, error) {
	out := make([]parsedFile, len(files))
	semaphore := make(chan struct{}, idx.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, rel := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()
			out[i] = idx.parseOne(gctx, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to parse files: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Indexer) parseOne(ctx context.Context, rel string) parsedFile {
	info, err := os.Stat(idx.abs(rel))
	if err != nil {
		return parsedFile{err: fmt.Errorf("failed to stat file: %w", err)}
	}
	pf, err := idx.registry.ParseFile(ctx, idx.root, rel)
	if err != nil {
		return parsedFile{err: err}
	}
	return parsedFile{pf: pf, size: info.Size(), modTime: info.ModTime()}
}

// addLocked adds a usable parse result to both stores
func (idx *Indexer) addLocked(ctx context.Context, p parsedFile) error {
	if !idx.graph.AddParsedFile(p.pf) {
		return nil
	}
	if err := idx.upsertRecord(ctx, p); err != nil {
		idx.graph.RemoveFile(p.pf.Path)
		return err
	}
	return nil
}

// upsertRecord writes the manifest side of a parse result
func (idx *Indexer) upsertRecord(ctx context.Context, p parsedFile) error {
	rec := storage.FileRecord{
		Path:         p.pf.Path,
		ContentHash:  p.pf.Hash,
		Language:     p.pf.Language,
		SizeBytes:    p.size,
		LastModified: p.modTime,
	}
	if err := idx.store.UpsertFile(ctx, rec, storage.SymbolsFromParsed(p.pf)); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", p.pf.Path, err)
	}
	return nil
}

// removeLocked drops path from both stores
func (idx *Indexer) removeLocked(ctx context.Context, rel string) error {
	idx.graph.RemoveFile(rel)
	if err := idx.store.RemoveFile(ctx, rel); err != nil {
		return fmt.Errorf("failed to remove %s from manifest: %w", rel, err)
	}
	metrics.IndexedFiles.WithLabelValues("removed").Inc()
	return nil
}

// finishLocked resolves cross-file edges and persists the graph and metadata
func (idx *Indexer) finishLocked() error {
	idx.link(idx.graph)
	return idx.persistLocked()
}

// link resolves import and call edges of g against its own files
func (idx *Indexer) link(g *graph.Graph) {
	mm := BuildModuleMap(idx.root, g.FilePaths())
	g.ResolveImportEdges(mm)
	g.Relink()
}

// persistLocked saves the graph snapshot and metadata
func (idx *Indexer) persistLocked() error {
	if err := idx.graph.Save(idx.layout.Graph); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	stats := idx.graph.Stats()
	for _, kind := range []graph.NodeKind{graph.KindFile, graph.KindFunction, graph.KindClass, graph.KindVariable} {
		metrics.GraphNodes.WithLabelValues(string(kind)).Set(float64(stats.Nodes[kind]))
	}
	meta := Meta{
		LastIndexed:   time.Now().UTC().Format(MetaTimeLayout),
		FileCount:     stats.Nodes[graph.KindFile],
		SymbolCount:   stats.SymbolCount(),
		EdgeCount:     stats.TotalEdges,
		SchemaVersion: MetaSchemaVersion,
	}
	return WriteMeta(idx.layout.Meta, meta)
}

func (idx *Indexer) fillCounts(r *Result) {
	stats := idx.graph.Stats()
	r.FileCount = stats.Nodes[graph.KindFile]
	r.SymbolCount = stats.SymbolCount()
	r.EdgeCount = stats.TotalEdges
}

func (idx *Indexer) recordError(r *Result, rel string, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", rel, err))
	metrics.IndexedFiles.WithLabelValues("parse_error").Inc()
	idx.logger.Warn("failed to parse file",
		slog.String("file", rel),
		slog.String("error", err.Error()))
}

func (idx *Indexer) observe(mode string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IndexRuns.WithLabelValues(mode, result).Inc()
	metrics.IndexDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (idx *Indexer) abs(rel string) string {
	return filepath.Join(idx.root, filepath.FromSlash(rel))
}

// UpdateFile re-indexes one file. A missing file is removed; unchanged content is a no-op.
// On a parse failure the file is dropped from both stores and ErrParseFailed is returned.
func (idx *Indexer) UpdateFile(ctx context.Context, path string) (bool, error) {
	rel, err := idx.discover.Rel(path)
	if err != nil {
		return false, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := time.Now()
	changed, updateErr := idx.updateLocked(ctx, rel)
	if !changed {
		return false, updateErr
	}
	if err := idx.finishLocked(); err != nil {
		idx.observe("incremental", start, err)
		return true, err
	}
	idx.observe("incremental", start, updateErr)
	return true, updateErr
}

// updateLocked applies one file's current state without persisting
func (idx *Indexer) updateLocked(ctx context.Context, rel string) (bool, error) {
	info, err := os.Stat(idx.abs(rel))
	if errors.Is(err, os.ErrNotExist) {
		return idx.removeIfPresent(ctx, rel)
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() || !idx.discover.Accept(rel) {
		return false, nil
	}

	content, err := os.ReadFile(idx.abs(rel))
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}
	changed, err := idx.store.IsFileChanged(ctx, rel, parser.HashContent(content))
	if err != nil {
		return false, fmt.Errorf("failed to check manifest: %w", err)
	}
	if !changed && idx.graph.HasFile(rel) {
		return false, nil
	}

	p := idx.parseOne(ctx, rel)
	if p.err == nil && p.pf.Unusable() {
		p.err = fmt.Errorf("%w: %s", ErrParseFailed, p.pf.ParseError)
	}
	if p.err != nil {
		if rmErr := idx.removeLocked(ctx, rel); rmErr != nil {
			return true, rmErr
		}
		metrics.IndexedFiles.WithLabelValues("parse_error").Inc()
		idx.logger.Warn("failed to parse file, removed from index",
			slog.String("file", rel),
			slog.String("error", p.err.Error()))
		if errors.Is(p.err, ErrParseFailed) {
			return true, p.err
		}
		return true, fmt.Errorf("%w: %v", ErrParseFailed, p.err)
	}

	if err := idx.addLocked(ctx, p); err != nil {
		return true, err
	}
	metrics.IndexedFiles.WithLabelValues("ok").Inc()
	idx.logger.Debug("file re-indexed", slog.String("file", rel))
	return true, nil
}

func (idx *Indexer) removeIfPresent(ctx context.Context, rel string) (bool, error) {
	if !idx.graph.HasFile(rel) {
		_, err := idx.store.GetFile(ctx, rel)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check manifest: %w", err)
		}
	}
	if err := idx.removeLocked(ctx, rel); err != nil {
		return true, err
	}
	return true, nil
}

// RemoveFile drops a file from both stores
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	rel, err := idx.discover.Rel(path)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	changed, err := idx.removeIfPresent(ctx, rel)
	if err != nil || !changed {
		return err
	}
	return idx.finishLocked()
}

// ScanChanges compares the working tree with the manifest
func (idx *Indexer) ScanChanges(ctx context.Context) (*ChangeSet, error) {
	files, err := idx.discover.Discover(ctx)
	if err != nil {
		return nil, err
	}
	known, err := idx.store.FileHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	cs := &ChangeSet{FileCount: len(files), Changed: []string{}, Added: []string{}, Deleted: []string{}}
	onDisk := make(map[string]bool, len(files))
	for _, rel := range files {
		onDisk[rel] = true
		prev, ok := known[rel]
		if !ok {
			cs.Added = append(cs.Added, rel)
			continue
		}
		content, err := os.ReadFile(idx.abs(rel))
		if err != nil {
			// vanished between walk and read
			continue
		}
		if parser.HashContent(content) != prev {
			cs.Changed = append(cs.Changed, rel)
		}
	}
	for rel := range known {
		if !onDisk[rel] {
			cs.Deleted = append(cs.Deleted, rel)
		}
	}
	sort.Strings(cs.Deleted)
	return cs, nil
}

// ApplyChanges updates every file in cs and persists once at the end
func (idx *Indexer) ApplyChanges(ctx context.Context, cs *ChangeSet) (*Result, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := time.Now()
	result := &Result{}
	touched := 0

	for _, rel := range append(append([]string{}, cs.Changed...), cs.Added...) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed, err := idx.updateLocked(ctx, rel)
		if changed {
			touched++
		}
		if errors.Is(err, ErrParseFailed) {
			idx.recordError(result, rel, err)
			continue
		}
		if err != nil {
			idx.observe("incremental", start, err)
			return nil, err
		}
	}
	for _, rel := range cs.Deleted {
		changed, err := idx.removeIfPresent(ctx, rel)
		if err != nil {
			idx.observe("incremental", start, err)
			return nil, err
		}
		if changed {
			touched++
		}
	}

	if touched > 0 {
		if err := idx.finishLocked(); err != nil {
			idx.observe("incremental", start, err)
			return nil, err
		}
	}
	idx.observe("incremental", start, nil)
	idx.fillCounts(result)
	result.Elapsed = time.Since(start)
	idx.logger.Debug("incremental update applied",
		slog.Int("changed", len(cs.Changed)),
		slog.Int("added", len(cs.Added)),
		slog.Int("deleted", len(cs.Deleted)),
		slog.Int("errors", result.ErrorCount))
	return result, nil
}

// LoadGraph replaces the in-memory graph with the saved snapshot.
// A missing or corrupt snapshot leaves an empty graph and is logged, not returned.
func (idx *Indexer) LoadGraph() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := os.ReadFile(idx.layout.Graph)
	if err != nil {
		idx.graph.Reset()
		if !errors.Is(err, os.ErrNotExist) {
			idx.logger.Warn("failed to read graph snapshot, starting empty",
				slog.String("path", idx.layout.Graph),
				slog.String("error", err.Error()))
		}
		return
	}
	if err := idx.graph.UnmarshalJSON(data); err != nil {
		idx.graph.Reset()
		idx.logger.Warn("corrupt graph snapshot, starting empty",
			slog.String("path", idx.layout.Graph),
			slog.String("error", err.Error()))
	}
}

// IsIndexed reports whether the project has metadata and a graph snapshot
func (idx *Indexer) IsIndexed() bool {
	if _, err := os.Stat(idx.layout.Meta); err != nil {
		return false
	}
	_, err := os.Stat(idx.layout.Graph)
	return err == nil
}

// ReadMeta returns the project's metadata or ErrNoMetadata
func (idx *Indexer) ReadMeta() (*Meta, error) {
	return ReadMeta(idx.layout.Meta)
}

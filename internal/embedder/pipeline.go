package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/codekb/internal/chunker"
	"github.com/dshills/codekb/internal/metrics"
	"github.com/dshills/codekb/internal/storage"
	"github.com/dshills/codekb/pkg/types"
)

// PointStore is where the pipeline writes vectors
type PointStore interface {
	Upsert(ctx context.Context, points []storage.Point) error
	DeleteByFile(ctx context.Context, path string) (int, error)
	DeleteByFileExcept(ctx context.Context, path string, keep []string) (int, error)
}

// EmbedState tracks which file contents have been embedded
type EmbedState interface {
	FilesNeedingEmbed(ctx context.Context) ([]storage.EmbedCandidate, error)
	IndexedPaths(ctx context.Context) ([]string, error)
	GetFile(ctx context.Context, path string) (*storage.FileRecord, error)
	SetEmbeddedHash(ctx context.Context, path, hash string) error
}

// EmbedStats summarizes one embedding pass
type EmbedStats struct {
	TotalSymbols int `json:"total_symbols"`
	Embedded     int `json:"embedded"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// PipelineOptions configures a Pipeline
type PipelineOptions struct {
	BatchSize         int
	RequestsPerSecond float64 // <= 0 disables pacing
	Retry             RetryConfig
	Logger            *slog.Logger
}

// Pipeline embeds graph symbols and keeps the vector store and manifest embed state in step
type Pipeline struct {
	mu        sync.Mutex
	root      string
	embedder  Embedder
	source    chunker.Source
	extractor *chunker.Extractor
	points    PointStore
	state     EmbedState
	batchSize int
	limiter   *rate.Limiter
	retry     RetryConfig
	logger    *slog.Logger
}

// NewPipeline creates a pipeline for the project at root
func NewPipeline(root string, emb Embedder, src chunker.Source, points PointStore, state EmbedState, opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if batch > MaxBatchSize {
		batch = MaxBatchSize
	}
	retry := opts.Retry
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Pipeline{
		root:      root,
		embedder:  emb,
		source:    src,
		extractor: chunker.New(root, chunker.WithLogger(logger)),
		points:    points,
		state:     state,
		batchSize: batch,
		limiter:   limiter,
		retry:     retry,
		logger:    logger,
	}
}

// Embedder returns the provider the pipeline embeds with
func (p *Pipeline) Embedder() Embedder {
	return p.embedder
}

// EmbedProject embeds every symbol, or with incremental only symbols of files whose
// content changed since their last embedding. A file is marked embedded only when all of
// its batches succeeded; failed files stay eligible for the next pass.
func (p *Pipeline) EmbedProject(ctx context.Context, incremental bool) (*EmbedStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates, err := p.state.FilesNeedingEmbed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files needing embed: %w", err)
	}
	needing := make(map[string]string, len(candidates))
	for _, c := range candidates {
		needing[c.Path] = c.Hash
	}

	all := p.extractor.ExtractAll(p.source)
	stats := &EmbedStats{TotalSymbols: len(all)}

	toEmbed := all
	var scope []string
	if incremental {
		toEmbed = make([]types.SymbolChunk, 0, len(all))
		for _, c := range all {
			if _, ok := needing[c.FilePath]; ok {
				toEmbed = append(toEmbed, c)
			}
		}
		stats.Skipped = len(all) - len(toEmbed)
		for path := range needing {
			scope = append(scope, path)
		}
	} else {
		scope, err = p.state.IndexedPaths(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list indexed files: %w", err)
		}
	}

	failed, err := p.embedChunks(ctx, toEmbed, scope, stats)
	if err != nil {
		return stats, err
	}

	for _, c := range candidates {
		if failed[c.Path] {
			continue
		}
		if err := p.state.SetEmbeddedHash(ctx, c.Path, c.Hash); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return stats, fmt.Errorf("failed to mark %s embedded: %w", c.Path, err)
		}
	}
	p.invalidate(ctx, failed)

	metrics.EmbeddedSymbols.WithLabelValues("skipped").Add(float64(stats.Skipped))
	p.logger.Info("embedding pass complete",
		slog.Bool("incremental", incremental),
		slog.Int("total_symbols", stats.TotalSymbols),
		slog.Int("embedded", stats.Embedded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors))
	return stats, nil
}

// EmbedFile re-embeds the symbols of one file, replacing its previous points.
// When a batch fails the old points of the file are kept.
func (p *Pipeline) EmbedFile(ctx context.Context, path string) (*EmbedStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chunks := p.extractor.ExtractFile(p.source, path)
	stats := &EmbedStats{TotalSymbols: len(chunks)}

	failed, err := p.embedChunks(ctx, chunks, []string{path}, stats)
	if err != nil {
		return stats, err
	}
	if failed[path] {
		p.invalidate(ctx, failed)
		return stats, nil
	}

	rec, err := p.state.GetFile(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("failed to read manifest record: %w", err)
	}
	if err := p.state.SetEmbeddedHash(ctx, path, rec.ContentHash); err != nil {
		return stats, fmt.Errorf("failed to mark %s embedded: %w", path, err)
	}
	return stats, nil
}

// RemoveFile deletes every point of path
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.points.DeleteByFile(ctx, path); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// embedChunks embeds and upserts chunks in batches, then prunes the points of every scope
// file (and every chunk file) that were not produced again. Files with a failed batch are
// not pruned and are returned. Only context cancellation and store errors are fatal.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []types.SymbolChunk, scope []string, stats *EmbedStats) (map[string]bool, error) {
	failed := make(map[string]bool)

	keep := make(map[string][]string, len(scope))
	for _, f := range scope {
		keep[f] = nil
	}
	for _, c := range chunks {
		keep[c.FilePath] = append(keep[c.FilePath], c.PointID)
	}
	files := make([]string, 0, len(keep))
	for f := range keep {
		files = append(files, f)
	}
	sort.Strings(files)

	modTimes := make(map[string]string, len(files))
	for _, f := range files {
		modTimes[f] = p.modTime(f)
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := p.embedBatch(ctx, batch, modTimes); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			p.logger.Warn("skipping embedding batch",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			stats.Errors += len(batch)
			metrics.EmbeddedSymbols.WithLabelValues("error").Add(float64(len(batch)))
			for _, c := range batch {
				failed[c.FilePath] = true
			}
			continue
		}
		stats.Embedded += len(batch)
		metrics.EmbeddedSymbols.WithLabelValues("embedded").Add(float64(len(batch)))
	}

	for _, f := range files {
		if failed[f] {
			continue
		}
		n, err := p.points.DeleteByFileExcept(ctx, f, keep[f])
		if err != nil {
			return failed, fmt.Errorf("failed to prune points for %s: %w", f, err)
		}
		if n > 0 {
			p.logger.Debug("pruned stale points", slog.String("file", f), slog.Int("count", n))
		}
	}
	return failed, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []types.SymbolChunk, modTimes map[string]string) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	started := time.Now()
	resp, err := retryWithBackoff(ctx, p.retry, func() (*BatchEmbeddingResponse, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return p.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	})
	metrics.EmbedBatchDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return err
	}
	if len(resp.Embeddings) != len(batch) {
		return fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), len(batch))
	}

	points := make([]storage.Point, len(batch))
	for i, c := range batch {
		points[i] = storage.Point{
			ID:     c.PointID,
			Vector: resp.Embeddings[i].Vector,
			Payload: storage.Payload{
				File:         c.FilePath,
				Language:     c.Language,
				SymbolType:   string(c.SymbolType),
				SymbolName:   c.SymbolName,
				ParentClass:  c.ParentClass,
				LineStart:    c.LineStart,
				LineEnd:      c.LineEnd,
				LastModified: modTimes[c.FilePath],
				SizeInLines:  c.SizeInLines(),
				Extra: map[string]string{
					"provider": resp.Provider,
					"model":    resp.Model,
				},
			},
		}
	}
	if err := p.points.Upsert(ctx, points); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// invalidate clears the embedded hash of failed files so they are retried
func (p *Pipeline) invalidate(ctx context.Context, failed map[string]bool) {
	for path := range failed {
		if err := p.state.SetEmbeddedHash(ctx, path, ""); err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.logger.Warn("failed to reset embedded hash",
				slog.String("file", path),
				slog.String("error", err.Error()))
		}
	}
}

func (p *Pipeline) modTime(rel string) string {
	info, err := os.Stat(filepath.Join(p.root, filepath.FromSlash(rel)))
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format(time.RFC3339)
}

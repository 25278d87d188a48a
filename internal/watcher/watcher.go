package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codekb/internal/metrics"
)

const (
	DefaultDebounce    = 750 * time.Millisecond
	DefaultQuietPeriod = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

var (
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("watcher already started")
	// ErrStopTimeout is returned when the event loop outlives the stop timeout
	ErrStopTimeout = errors.New("watcher did not stop in time")
)

// Handler receives debounced changes. Calls are sequential.
type Handler interface {
	// Update re-indexes the file at rel
	Update(ctx context.Context, rel string) error
	// Remove drops the file at rel from the index
	Remove(ctx context.Context, rel string) error
	// Rebuild indexes the whole project; used once when first-file mode settles
	Rebuild(ctx context.Context) error
}

// Filter decides which paths are watched
type Filter interface {
	Rel(path string) (string, error)
	Accept(rel string) bool
	SkipDir(rel string) bool
}

// Mode is the dispatch mode of a Watcher
type Mode int

const (
	// ModeIncremental dispatches one update per debounced path
	ModeIncremental Mode = iota
	// ModeFirstFile buffers creations until the tree is quiet, then rebuilds once
	ModeFirstFile
)

func (m Mode) String() string {
	if m == ModeFirstFile {
		return "first_file"
	}
	return "incremental"
}

// Options configures a Watcher
type Options struct {
	Mode        Mode
	Debounce    time.Duration
	QuietPeriod time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type change struct {
	remove bool
	due    time.Time
}

// Watcher turns file system events under a project root into index updates
type Watcher struct {
	root    string
	filter  Filter
	handler Handler
	opts    Options
	logger  *slog.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	mode    Mode
	started bool

	// owned by the loop goroutine
	pending  map[string]change
	buffered map[string]bool
}

// New creates a Watcher for root
func New(root string, filter Filter, handler Handler, opts Options) *Watcher {
	opts = opts.withDefaults()
	return &Watcher{
		root:     root,
		filter:   filter,
		handler:  handler,
		opts:     opts,
		logger:   opts.Logger,
		mode:     opts.Mode,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		pending:  make(map[string]change),
		buffered: make(map[string]bool),
	}
}

// Mode returns the current dispatch mode
func (w *Watcher) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

func (w *Watcher) setMode(m Mode) {
	w.mu.Lock()
	w.mode = m
	w.mu.Unlock()
}

// Start watches the tree and runs the event loop until Stop or ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addRecursive(w.root, false); err != nil {
		_ = fsw.Close()
		w.fsw = nil
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	w.logger.Info("watching project",
		slog.String("root", w.root),
		slog.String("mode", w.Mode().String()))
	go w.loop(ctx)
	return nil
}

// Stop closes the OS watcher and waits for the event loop. A handler call in
// progress is allowed to finish.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsw == nil {
			return
		}
		if cerr := w.fsw.Close(); cerr != nil {
			w.logger.Debug("failed to close file watcher", slog.String("error", cerr.Error()))
		}
		select {
		case <-w.exited:
		case <-time.After(w.opts.StopTimeout):
			err = ErrStopTimeout
		}
	})
	return err
}

// addRecursive watches dir and every directory under it. With enqueue set,
// files already present are queued as updates; they may predate the watch.
func (w *Watcher) addRecursive(dir string, enqueue bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, relErr := w.filter.Rel(p)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if w.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			if addErr := w.fsw.Add(p); addErr != nil {
				w.logger.Debug("failed to watch directory",
					slog.String("path", p),
					slog.String("error", addErr.Error()))
			}
			return nil
		}
		if enqueue && w.filter.Accept(rel) {
			w.record(rel, false)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.exited)

	// handlers finish even when ctx is cancelled under them
	hctx := context.WithoutCancel(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drop()
			return
		case <-w.done:
			w.drop()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.drop()
				return
			}
			w.handleEvent(ev)
			w.reset(timer)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.drop()
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			w.fire(hctx)
			w.reset(timer)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, err := w.filter.Rel(ev.Name)
	if err != nil || rel == "." {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !w.filter.SkipDir(rel) {
				if err := w.addRecursive(ev.Name, true); err != nil {
					w.logger.Debug("failed to watch new directory",
						slog.String("path", rel),
						slog.String("error", err.Error()))
				}
			}
			return
		}
	}
	if !w.filter.Accept(rel) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.record(rel, true)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.record(rel, false)
	}
}

func (w *Watcher) record(rel string, remove bool) {
	if w.Mode() == ModeFirstFile {
		if remove {
			delete(w.buffered, rel)
		} else {
			w.buffered[rel] = true
		}
		// any activity extends the quiet period
		w.pending[""] = change{due: time.Now().Add(w.opts.QuietPeriod)}
		return
	}
	w.pending[rel] = change{remove: remove, due: time.Now().Add(w.opts.Debounce)}
}

// reset arms timer for the earliest pending deadline
func (w *Watcher) reset(timer *time.Timer) {
	var next time.Time
	for _, c := range w.pending {
		if next.IsZero() || c.due.Before(next) {
			next = c.due
		}
	}
	timer.Stop()
	if next.IsZero() {
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (w *Watcher) fire(ctx context.Context) {
	now := time.Now()
	if w.Mode() == ModeFirstFile {
		c, ok := w.pending[""]
		if !ok || c.due.After(now) {
			return
		}
		delete(w.pending, "")
		if len(w.buffered) == 0 {
			return
		}
		w.rebuild(ctx)
		return
	}

	var due []string
	for rel, c := range w.pending {
		if !c.due.After(now) {
			due = append(due, rel)
		}
	}
	sort.Strings(due)
	for _, rel := range due {
		c := w.pending[rel]
		delete(w.pending, rel)
		w.dispatch(ctx, rel, c.remove)
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	count := len(w.buffered)
	w.buffered = make(map[string]bool)
	metrics.WatcherEvents.WithLabelValues("full_index").Inc()

	w.logger.Info("first files settled, indexing project", slog.Int("files", count))
	if err := w.handler.Rebuild(ctx); err != nil {
		// stay in first-file mode so the next burst retries
		w.logger.Warn("initial index failed", slog.String("error", err.Error()))
		return
	}
	w.setMode(ModeIncremental)
	w.logger.Debug("watcher switched mode", slog.String("mode", ModeIncremental.String()))
}

func (w *Watcher) dispatch(ctx context.Context, rel string, remove bool) {
	if remove {
		metrics.WatcherEvents.WithLabelValues("remove").Inc()
		if err := w.handler.Remove(ctx, rel); err != nil {
			w.logger.Warn("failed to remove file", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		w.logger.Info("removed", slog.String("path", rel))
		return
	}
	metrics.WatcherEvents.WithLabelValues("update").Inc()
	if err := w.handler.Update(ctx, rel); err != nil {
		w.logger.Warn("failed to update file", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("updated", slog.String("path", rel))
}

func (w *Watcher) drop() {
	if n := len(w.pending); n > 0 {
		w.logger.Debug("watcher stopped with pending changes", slog.Int("pending", n))
	}
}

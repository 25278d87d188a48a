package kb

import (
	"context"
	"errors"

	"github.com/dshills/codekb/internal/indexer"
	"github.com/dshills/codekb/internal/watcher"
)

// ErrAlreadyWatching is returned by a second Watch on the same project
var ErrAlreadyWatching = errors.New("project is already being watched")

// watchHandler feeds watcher events into the project
type watchHandler struct {
	p *Project
}

func (h watchHandler) Update(ctx context.Context, rel string) error {
	_, err := h.p.UpdateFile(ctx, rel)
	if errors.Is(err, indexer.ErrParseFailed) {
		// the file is dropped until it parses again
		return nil
	}
	return err
}

func (h watchHandler) Remove(ctx context.Context, rel string) error {
	return h.p.RemoveFile(ctx, rel)
}

func (h watchHandler) Rebuild(ctx context.Context) error {
	return h.p.Rebuild(ctx)
}

// Watch starts a file watcher for the project. Projects without an index start in
// first-file mode. The watcher runs until ctx is done or Close is called.
func (p *Project) Watch(ctx context.Context) (*watcher.Watcher, error) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher != nil {
		return nil, ErrAlreadyWatching
	}

	mode := watcher.ModeIncremental
	if !p.indexer.IsIndexed() {
		mode = watcher.ModeFirstFile
	}
	w := watcher.New(p.root, p.indexer.Discoverer(), watchHandler{p: p}, watcher.Options{
		Mode:        mode,
		Debounce:    p.cfg.Watcher.Debounce,
		QuietPeriod: p.cfg.Watcher.QuietPeriod,
		StopTimeout: p.cfg.Watcher.StopTimeout,
		Logger:      p.logger,
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	p.watcher = w
	return w, nil
}

// StopWatching stops the watcher started by Watch, if any
func (p *Project) StopWatching() error {
	p.watchMu.Lock()
	w := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

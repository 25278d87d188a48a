package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dshills/codekb/internal/config"
	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/startup"
)

// Registry keeps one open Project per root and the state they share: the global
// knowledge base and the background dispatcher.
type Registry struct {
	cfg        *config.Config
	logger     *slog.Logger
	global     *globalkb.Store
	dispatcher *startup.Dispatcher

	mu       sync.Mutex
	projects map[string]*Project
}

// NewRegistry opens the global knowledge base and creates an empty registry.
// A global store that cannot be opened is logged and left out; context bundles
// then carry only local sections.
func NewRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	gcfg := globalkb.DefaultConfig(cfg.GlobalKBPath())
	gcfg.RegistryDir = cfg.GlobalKB.RegistryDir
	gcfg.Logger = logger
	store, err := globalkb.Open(ctx, gcfg)
	if err != nil {
		logger.Warn("global knowledge base unavailable", slog.String("error", err.Error()))
		store = nil
	}
	return NewRegistryWith(ctx, cfg, store, logger)
}

// NewRegistryWith creates a registry around an already open global store, which may be nil
func NewRegistryWith(ctx context.Context, cfg *config.Config, global *globalkb.Store, logger *slog.Logger) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:        cfg,
		logger:     logger,
		global:     global,
		dispatcher: startup.NewDispatcher(context.WithoutCancel(ctx), logger),
		projects:   make(map[string]*Project),
	}
}

// Global returns the shared global store, or nil
func (r *Registry) Global() *globalkb.Store { return r.global }

// Dispatcher returns the shared background dispatcher
func (r *Registry) Dispatcher() *startup.Dispatcher { return r.dispatcher }

// Project returns the open project for root, opening it on first use
func (r *Registry) Project(ctx context.Context, root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[abs]; ok {
		return p, nil
	}
	p, err := Open(ctx, abs, Options{
		Config:     r.cfg,
		Global:     r.global,
		Dispatcher: r.dispatcher,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}
	r.projects[abs] = p
	return p, nil
}

// Close waits for background work, then closes every project and the global store
func (r *Registry) Close() error {
	r.dispatcher.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for root, p := range r.projects {
		errs = append(errs, p.Close())
		delete(r.projects, root)
	}
	if r.global != nil {
		errs = append(errs, r.global.Close())
	}
	return errors.Join(errs...)
}

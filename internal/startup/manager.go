package startup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/codekb/internal/indexer"
	"github.com/dshills/codekb/internal/metrics"
)

// Project is the indexing surface a startup check works against
type Project interface {
	Root() string
	ReadMeta() (*indexer.Meta, error)
	ScanChanges(ctx context.Context) (*indexer.ChangeSet, error)
	// Rebuild runs a full index followed by an embedding pass
	Rebuild(ctx context.Context) error
	// Refresh applies cs and embeds what it touched
	Refresh(ctx context.Context, cs *indexer.ChangeSet) error
}

// Report summarises what a startup check did
type Report struct {
	LocalIndexTriggered  bool   `json:"local_index_triggered"`
	IncrementalTriggered bool   `json:"incremental_triggered"`
	Background           bool   `json:"background"`
	SkippedReason        string `json:"skipped_reason,omitempty"`
	Hint                 string `json:"hint,omitempty"`
	// Reason is the decision table row that matched
	Reason       string `json:"reason"`
	ChangedFiles int    `json:"changed_files"`
	AgeMinutes   int    `json:"age_minutes"`
}

// Visible reports whether the report is worth showing to a user
func (r *Report) Visible() bool {
	return r.LocalIndexTriggered || r.Hint != ""
}

// Manager decides at process start how much indexing a project needs
type Manager struct {
	project    Project
	dispatcher *Dispatcher
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager dispatching through d
func NewManager(p Project, d *Dispatcher, t Thresholds, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{project: p, dispatcher: d, thresholds: t.withDefaults(), logger: logger, now: time.Now}
}

// Inputs gathers the decision inputs for the project. A failed scan counts as
// no files and no changes.
func (m *Manager) Inputs(ctx context.Context) Inputs {
	in := Inputs{IndexAgeMinutes: -1}

	meta, err := m.project.ReadMeta()
	switch {
	case err == nil:
		in.HasMetadata = true
		in.IndexAgeMinutes = meta.AgeMinutes(m.now())
	case !errors.Is(err, indexer.ErrNoMetadata):
		m.logger.Debug("failed to read index metadata", slog.String("error", err.Error()))
	}

	cs, err := m.project.ScanChanges(ctx)
	if err != nil {
		m.logger.Debug("failed to scan changes", slog.String("error", err.Error()))
		return in
	}
	in.FileCount = cs.FileCount
	in.ChangedCount = cs.Total()
	return in
}

// Run makes the startup decision and dispatches its work without waiting for it
func (m *Manager) Run(ctx context.Context) *Report {
	in := m.Inputs(ctx)
	d := Decide(in, m.thresholds)
	metrics.StartupDecisions.WithLabelValues(d.Reason).Inc()

	report := &Report{
		Reason:       d.Reason,
		Hint:         d.Hint,
		ChangedFiles: in.ChangedCount,
		AgeMinutes:   in.IndexAgeMinutes,
	}
	attrs := []any{
		slog.String("root", m.project.Root()),
		slog.String("reason", d.Reason),
		slog.Int("files", in.FileCount),
		slog.Int("changed", in.ChangedCount),
		slog.Int("age_minutes", in.IndexAgeMinutes),
	}

	switch d.Action {
	case ActionFull:
		m.dispatcher.Dispatch(m.project.Root(), m.project.Rebuild)
		report.LocalIndexTriggered = true
		report.Background = true
	case ActionIncremental:
		// rescan in the task; the tree may move on before it runs
		m.dispatcher.Dispatch(m.project.Root(), func(ctx context.Context) error {
			cs, err := m.project.ScanChanges(ctx)
			if err != nil {
				return err
			}
			return m.project.Refresh(ctx, cs)
		})
		report.IncrementalTriggered = true
		report.Background = true
	default:
		if d.Reason == ReasonBlankProject || d.Reason == ReasonLargeProject {
			report.SkippedReason = d.Reason
		}
	}

	if d.Silent {
		m.logger.Debug("startup check", attrs...)
	} else {
		m.logger.Info("startup check", attrs...)
	}
	return report
}

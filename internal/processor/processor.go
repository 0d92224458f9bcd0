// Package processor is the outermost coordinator: it owns the lock and
// the per-slice transaction sequence. For each slice it acquires the
// dataset, validates it, and drives the journalled create-or-append
// through the engine; a failure reports the failing slice index and
// leaves earlier slices committed, so the next invocation can resume.
package processor

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera/internal/engine"
	"github.com/ajitpratap0/tessera/pkg/attrs"
	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
	"github.com/ajitpratap0/tessera/pkg/lock"
	"github.com/ajitpratap0/tessera/pkg/metrics"
	"github.com/ajitpratap0/tessera/pkg/slice"
	"github.com/ajitpratap0/tessera/pkg/txn"
)

// Processor drives the full lock -> validate -> journal -> append ->
// commit -> release cycle over a sequence of slice handles.
type Processor struct {
	cfg      *config.Config
	log      *zap.Logger
	rec      *metrics.Recorder
	target   *fsx.FileObj
	tempDir  *fsx.FileObj
	acquirer *slice.Acquirer
	engine   *engine.Engine
}

// New resolves the configured locations and builds a processor. All
// configuration problems surface here, before any cube I/O.
func New(cfg *config.Config, log *zap.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.PermitEval && attrs.HasTemplates(cfg.Attrs) {
		return nil, errors.New(errors.ErrorTypeConfig,
			"attrs contain {{ ... }} expressions but permit_eval is not enabled")
	}

	target, err := fsx.New(cfg.TargetDir, cfg.TargetStorageOptions)
	if err != nil {
		return nil, err
	}

	tempURI := cfg.TempDir
	if tempURI == "" {
		tempURI = filepath.ToSlash(os.TempDir())
	}
	tempDir, err := fsx.New(tempURI, cfg.TempStorageOptions)
	if err != nil {
		return nil, err
	}

	if cfg.DryRun {
		log.Info("dry run: no writes will be performed")
		target = fsx.NewWithFS(fsx.NewDryRun(target.FS(), log), target.Path())
		tempDir = fsx.NewWithFS(fsx.NewDryRun(tempDir.FS(), log), tempDir.Path())
	}

	rec := metrics.NewRecorder(cfg.Profiling.Enabled)
	return &Processor{
		cfg:      cfg,
		log:      log,
		rec:      rec,
		target:   target,
		tempDir:  tempDir,
		acquirer: slice.NewAcquirer(cfg, tempDir, log),
		engine:   engine.New(cfg, target, tempDir, log, rec),
	}, nil
}

// Target returns the resolved target location.
func (p *Processor) Target() *fsx.FileObj { return p.target }

// Process appends every slice in order. On failure the error names the
// failing slice index; slices before it remain committed.
func (p *Processor) Process(ctx context.Context, handles []slice.Handle) error {
	l := lock.ForTarget(p.target, p.log)

	if err := p.openTarget(ctx, l); err != nil {
		return err
	}

	for i, h := range handles {
		if err := ctx.Err(); err != nil {
			_ = l.Release(ctx)
			return errors.Wrap(err, errors.ErrorTypeCancelled, "processing cancelled")
		}
		if err := p.processOne(ctx, h); err != nil {
			_ = l.Release(ctx)
			return errors.Wrap(err, errors.TypeOf(err), "slice failed").
				WithDetail("slice_index", i).
				WithDetail("slice", h.Label())
		}
	}

	if err := l.Release(ctx); err != nil {
		return err
	}
	p.log.Info("processing complete", zap.Int("slices", len(handles)))
	return nil
}

// processOne acquires one slice within a bounded scope and runs its
// transaction. Release of the acquisition is guaranteed on every exit.
func (p *Processor) processOne(ctx context.Context, h slice.Handle) error {
	p.log.Info("processing slice", zap.String("slice", h.Label()))
	acquired, err := p.acquirer.Acquire(ctx, h)
	if err != nil {
		return err
	}
	defer func() {
		if err := acquired.Close(); err != nil {
			p.log.Warn("failed to release slice", zap.Error(err))
		}
	}()
	return p.engine.ProcessSlice(ctx, acquired.Dataset)
}

// openTarget recovers interrupted transactions, honors force_new, and
// takes the lock.
func (p *Processor) openTarget(ctx context.Context, l *lock.Lock) error {
	if p.cfg.ForceNew {
		return p.forceNew(ctx, l)
	}

	polling := p.cfg.PollingOrDefault()

	// A transaction directory without a commit marker means the
	// previous writer died mid-flight: finish its rollback, then take
	// over its lock. A lock without such evidence is surfaced, never
	// stolen.
	rolledBack, err := txn.Recover(ctx, p.tempDir, p.target, p.log)
	if err != nil {
		return err
	}
	if rolledBack {
		p.rec.RollbackApplied()
		p.log.Info("recovery complete; removing stale lock")
		if err := l.ForceRemove(ctx); err != nil {
			return err
		}
	}

	return l.Acquire(ctx, polling.Enabled, polling.Interval, polling.Timeout)
}

// forceNew takes the lock (removing a stale one if necessary), then
// destroys the existing cube outside any transaction.
func (p *Processor) forceNew(ctx context.Context, l *lock.Lock) error {
	if err := l.Acquire(ctx, false, 0, 0); err != nil {
		if !errors.IsType(err, errors.ErrorTypeTargetLocked) {
			return err
		}
		p.log.Warn("force_new: removing existing lock",
			zap.String("lock", l.File().URI()))
		if err := l.ForceRemove(ctx); err != nil {
			return err
		}
		if err := l.Acquire(ctx, false, 0, 0); err != nil {
			return err
		}
	}

	ok, err := p.target.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		p.log.Warn("force_new: deleting existing cube",
			zap.String("target", p.target.URI()))
		if err := p.target.Delete(ctx, true); err != nil {
			return err
		}
	}

	// Stale journals for the destroyed cube have nothing to restore.
	if err := txn.Discard(ctx, p.tempDir, p.target, p.log); err != nil {
		p.log.Warn("failed to clear stale transactions", zap.Error(err))
	}
	return nil
}

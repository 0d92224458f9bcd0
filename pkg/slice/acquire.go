package slice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

// Acquirer resolves slice handles into open datasets.
type Acquirer struct {
	cfg     *config.Config
	tempDir *fsx.FileObj
	log     *zap.Logger
}

// NewAcquirer builds an acquirer. tempDir is where in-memory slices are
// persisted when the configuration asks for it.
func NewAcquirer(cfg *config.Config, tempDir *fsx.FileObj, log *zap.Logger) *Acquirer {
	return &Acquirer{cfg: cfg, tempDir: tempDir, log: log}
}

// Acquired is an open slice dataset plus the cleanup owed for it. Close
// always runs the cleanup, regardless of how processing ended.
type Acquired struct {
	Dataset *dataset.Dataset
	label   string
	closers []func() error
}

// Label names the slice for logs and error reports.
func (a *Acquired) Label() string { return a.label }

// Close releases everything acquisition opened, in reverse order. It is
// safe to call more than once.
func (a *Acquired) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Acquire resolves h into an open dataset.
func (a *Acquirer) Acquire(ctx context.Context, h Handle) (*Acquired, error) {
	switch handle := h.(type) {
	case PathHandle:
		return a.acquirePath(ctx, handle)
	case MemoryHandle:
		return a.acquireMemory(ctx, handle)
	case SourceHandle:
		return a.acquireSource(ctx, handle)
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unsupported slice handle %T", h)
}

func (a *Acquirer) acquirePath(ctx context.Context, h PathHandle) (*Acquired, error) {
	if h.Engine != "" && h.Engine != "zarr" {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unsupported slice engine %q", h.Engine)
	}
	options := h.StorageOptions
	if options == nil {
		options = a.cfg.SliceStorageOptions
	}
	dir, err := fsx.New(h.URI, options)
	if err != nil {
		return nil, err
	}

	polling := a.cfg.PollingOrDefault()
	if !polling.Enabled {
		ds, err := a.openSliceStore(ctx, dir)
		if err != nil {
			return nil, err
		}
		return &Acquired{Dataset: ds, label: h.URI}, nil
	}
	ds, err := a.pollSliceStore(ctx, dir, polling)
	if err != nil {
		return nil, err
	}
	return &Acquired{Dataset: ds, label: h.URI}, nil
}

func (a *Acquirer) openSliceStore(ctx context.Context, dir *fsx.FileObj) (*dataset.Dataset, error) {
	g, err := zarr.OpenGroup(ctx, dir)
	if err != nil {
		return nil, err
	}
	return g.ToDataset(ctx)
}

// pollSliceStore retries while the slice is absent, up to the timeout. A
// slice that is present but unreadable fails after one settle interval:
// it may still be mid-write, but it will not become available by
// waiting longer.
func (a *Acquirer) pollSliceStore(ctx context.Context, dir *fsx.FileObj,
	polling config.Polling) (*dataset.Dataset, error) {

	var ds *dataset.Dataset
	timedOut := false

	backoff := retry.WithMaxDuration(polling.Timeout, retry.NewConstant(polling.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := dir.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			a.log.Debug("slice not yet available", zap.String("slice", dir.URI()))
			timedOut = true
			return retry.RetryableError(errors.Newf(errors.ErrorTypeSliceUnavailable,
				"slice not available: %s", dir.URI()))
		}
		timedOut = false
		ds, err = a.openSliceStore(ctx, dir)
		if err != nil {
			// Present but malformed: allow one settle interval for an
			// in-flight writer, then surface the real error.
			a.log.Debug("slice present but not readable; settling",
				zap.String("slice", dir.URI()), zap.Error(err))
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "slice polling cancelled")
			case <-time.After(polling.Interval):
			}
			ds, err = a.openSliceStore(ctx, dir)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "slice polling cancelled")
		}
		if timedOut {
			return nil, errors.Newf(errors.ErrorTypeSliceUnavailable,
				"slice not available after %s: %s", polling.Timeout, dir.URI())
		}
		return nil, err
	}
	return ds, nil
}

func (a *Acquirer) acquireMemory(ctx context.Context, h MemoryHandle) (*Acquired, error) {
	if !a.cfg.PersistMemSlices {
		return &Acquired{Dataset: h.Dataset, label: h.Label()}, nil
	}

	// Persist to a temporary store and reopen: downstream code then sees
	// the slice exactly as a path slice, storage round-trip included.
	staged := a.tempDir.Join("slice-" + uuid.NewString())
	if err := zarr.WriteDataset(ctx, staged, h.Dataset); err != nil {
		return nil, err
	}
	ds, err := a.openSliceStore(ctx, staged)
	if err != nil {
		_ = staged.DeleteIfExists(context.Background(), true)
		return nil, err
	}
	a.log.Debug("persisted in-memory slice", zap.String("store", staged.URI()))
	return &Acquired{
		Dataset: ds,
		label:   h.Label(),
		closers: []func() error{func() error {
			return staged.DeleteIfExists(context.Background(), true)
		}},
	}, nil
}

func (a *Acquirer) acquireSource(ctx context.Context, h SourceHandle) (*Acquired, error) {
	ds, err := h.Source.Open(ctx)
	if err != nil {
		// Scoped lifetime: the source closes on the failure path too.
		_ = h.Source.Close()
		return nil, err
	}
	return &Acquired{
		Dataset: ds,
		label:   h.Label(),
		closers: []func() error{h.Source.Close},
	}, nil
}

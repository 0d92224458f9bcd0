package fsx

import (
	"context"

	"go.uber.org/zap"
)

// DryRunFS decorates a backend so that mutating operations log their
// intent and succeed without touching storage. Reads pass through, which
// keeps validation meaningful during a dry run.
type DryRunFS struct {
	inner FS
	log   *zap.Logger
}

// NewDryRun wraps fs; every intended mutation is logged at info level.
func NewDryRun(fs FS, log *zap.Logger) *DryRunFS {
	return &DryRunFS{inner: fs, log: log}
}

func (d *DryRunFS) Protocol() string { return d.inner.Protocol() }

func (d *DryRunFS) AtomicMove() bool { return d.inner.AtomicMove() }

func (d *DryRunFS) Exists(ctx context.Context, path string) (bool, error) {
	return d.inner.Exists(ctx, path)
}

func (d *DryRunFS) IsDir(ctx context.Context, path string) (bool, error) {
	return d.inner.IsDir(ctx, path)
}

func (d *DryRunFS) List(ctx context.Context, path string) ([]string, error) {
	return d.inner.List(ctx, path)
}

func (d *DryRunFS) Read(ctx context.Context, path string) ([]byte, error) {
	return d.inner.Read(ctx, path)
}

func (d *DryRunFS) Write(_ context.Context, path string, data []byte, overwrite bool) error {
	d.log.Info("dry run: would write",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.Bool("overwrite", overwrite))
	return nil
}

func (d *DryRunFS) Delete(_ context.Context, path string, recursive bool) error {
	d.log.Info("dry run: would delete",
		zap.String("path", path),
		zap.Bool("recursive", recursive))
	return nil
}

func (d *DryRunFS) Move(_ context.Context, src, dst string) error {
	d.log.Info("dry run: would move",
		zap.String("src", src),
		zap.String("dst", dst))
	return nil
}

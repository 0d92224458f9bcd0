// Package lock provides single-writer exclusion over a target cube via
// an atomic lock file co-located with the cube.
//
// The lock file sits next to the target as <target>.lock and records the
// owner's pid, host and start time. Acquisition is one create-if-absent
// write; release is one delete. A lock left behind by a crashed process
// is never stolen: the next run fails with a target-locked error and the
// user resolves it deterministically (force_new removes cube and lock).
package lock

import (
	"context"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// Suffix is appended to the target path to form the lock path.
const Suffix = ".lock"

// Info is the lock file content.
type Info struct {
	PID       int    `json:"pid"`
	Host      string `json:"host"`
	StartTime string `json:"start_time"`
}

// Lock owns the lock file for one target while held.
type Lock struct {
	file *fsx.FileObj
	log  *zap.Logger
	held bool
}

// ForTarget returns the lock for the given target directory.
func ForTarget(target *fsx.FileObj, log *zap.Logger) *Lock {
	return &Lock{file: target.WithSuffix(Suffix), log: log}
}

// File returns the lock file object.
func (l *Lock) File() *fsx.FileObj { return l.file }

// Acquire attempts to take the lock with a single create-if-absent
// write. On conflict it fails fast with a target-locked error unless
// wait is true, in which case it retries at interval until timeout.
func (l *Lock) Acquire(ctx context.Context, wait bool, interval, timeout time.Duration) error {
	host, _ := os.Hostname()
	content, err := gojson.Marshal(Info{
		PID:       os.Getpid(),
		Host:      host,
		StartTime: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode lock info")
	}

	attempt := func(ctx context.Context) error {
		err := l.file.Write(ctx, content, false)
		if err == nil {
			l.held = true
			l.log.Debug("lock acquired", zap.String("lock", l.file.URI()))
			return nil
		}
		locked := errors.Newf(errors.ErrorTypeTargetLocked,
			"target is locked: %s", l.file.URI())
		if wait {
			return retry.RetryableError(locked)
		}
		return locked
	}

	if !wait {
		return attempt(ctx)
	}

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(interval))
	if err := retry.Do(ctx, backoff, attempt); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "lock wait cancelled")
		}
		return errors.Newf(errors.ErrorTypeTargetLocked,
			"target is locked: %s", l.file.URI())
	}
	return nil
}

// Release deletes the lock file. Releasing an unheld lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.file.DeleteIfExists(ctx, false); err != nil {
		l.log.Warn("failed to remove lock; it is safe to delete manually",
			zap.String("lock", l.file.URI()), zap.Error(err))
		return err
	}
	l.log.Debug("lock released", zap.String("lock", l.file.URI()))
	return nil
}

// ForceRemove deletes the lock file regardless of ownership. Only the
// force_new path uses this, after logging a warning.
func (l *Lock) ForceRemove(ctx context.Context) error {
	return l.file.DeleteIfExists(ctx, false)
}

// Read returns the recorded owner of the lock file, if readable.
func (l *Lock) Read(ctx context.Context) (*Info, error) {
	data, err := l.file.Read(ctx)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := gojson.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "invalid lock file").
			WithDetail("path", l.file.Path())
	}
	return &info, nil
}

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

func target(t *testing.T) *fsx.FileObj {
	t.Helper()
	return fsx.NewWithFS(fsx.NewMemoryFS(true), "data/t.cube")
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	tgt := target(t)
	l := ForTarget(tgt, zaptest.NewLogger(t))

	assert.Equal(t, "data/t.cube.lock", l.File().Path())

	require.NoError(t, l.Acquire(ctx, false, 0, 0))
	ok, err := l.File().Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := l.Read(ctx)
	require.NoError(t, err)
	assert.NotZero(t, info.PID)
	assert.NotEmpty(t, info.StartTime)

	require.NoError(t, l.Release(ctx))
	ok, err = l.File().Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Releasing again is a no-op.
	require.NoError(t, l.Release(ctx))
}

func TestAcquireFailFast(t *testing.T) {
	ctx := context.Background()
	tgt := target(t)
	log := zaptest.NewLogger(t)

	first := ForTarget(tgt, log)
	require.NoError(t, first.Acquire(ctx, false, 0, 0))

	second := ForTarget(tgt, log)
	err := second.Acquire(ctx, false, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTargetLocked))

	// The loser must not clobber the winner's lock on release.
	require.NoError(t, second.Release(ctx))
	ok, err := first.File().Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	tgt := target(t)
	log := zaptest.NewLogger(t)

	first := ForTarget(tgt, log)
	require.NoError(t, first.Acquire(ctx, false, 0, 0))

	second := ForTarget(tgt, log)
	start := time.Now()
	err := second.Acquire(ctx, true, 20*time.Millisecond, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTargetLocked))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestAcquireWaitSucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	tgt := target(t)
	log := zaptest.NewLogger(t)

	first := ForTarget(tgt, log)
	require.NoError(t, first.Acquire(ctx, false, 0, 0))

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = first.Release(context.Background())
	}()

	second := ForTarget(tgt, log)
	err := second.Acquire(ctx, true, 10*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestStaleLockIsNotStolen(t *testing.T) {
	ctx := context.Background()
	tgt := target(t)
	log := zaptest.NewLogger(t)

	// A crashed process left its lock behind.
	require.NoError(t, tgt.WithSuffix(Suffix).Write(ctx, []byte(`{"pid":1,"host":"gone","start_time":""}`), false))

	l := ForTarget(tgt, log)
	err := l.Acquire(ctx, false, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTargetLocked))

	// force_new remediation removes it explicitly.
	require.NoError(t, l.ForceRemove(ctx))
	require.NoError(t, l.Acquire(ctx, false, 0, 0))
}

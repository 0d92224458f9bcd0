package slice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

func testSlice(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	require.NoError(t, ds.AddVar(dataset.NewVariable("v", []string{"t", "x"}, []int{1, 4},
		dataset.Float64, []float64{1, 2, 3, 4})))
	require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"}, []int{1},
		dataset.Float64, []float64{0})))
	return ds
}

func newAcquirer(t *testing.T, cfg *config.Config) (*Acquirer, *fsx.FileObj) {
	t.Helper()
	fs := fsx.NewMemoryFS(true)
	tempDir := fsx.NewWithFS(fs, "tmp")
	return NewAcquirer(cfg, tempDir, zaptest.NewLogger(t)), tempDir
}

func TestAcquireMemory(t *testing.T) {
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	a, _ := newAcquirer(t, cfg)

	ds := testSlice(t)
	acq, err := a.Acquire(context.Background(), MemoryHandle{Dataset: ds, Name: "slice0"})
	require.NoError(t, err)
	defer acq.Close()

	assert.Equal(t, "slice0", acq.Label())
	assert.Same(t, ds, acq.Dataset)
}

func TestAcquireMemoryPersisted(t *testing.T) {
	ctx := context.Background()
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.PersistMemSlices = true
	a, tempDir := newAcquirer(t, cfg)

	acq, err := a.Acquire(ctx, MemoryHandle{Dataset: testSlice(t)})
	require.NoError(t, err)

	// The staged store exists while the slice is open.
	names, err := tempDir.List(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)

	// Data survives the storage round trip.
	assert.Equal(t, []float64{1, 2, 3, 4}, acq.Dataset.Vars["v"].Data.([]float64))

	require.NoError(t, acq.Close())
	ok, err := tempDir.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "staged store must be removed on close")
}

type trackingSource struct {
	ds      *dataset.Dataset
	openErr error
	closed  bool
}

func (s *trackingSource) Open(_ context.Context) (*dataset.Dataset, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.ds, nil
}

func (s *trackingSource) Close() error {
	s.closed = true
	return nil
}

func TestAcquireSourceScopedLifetime(t *testing.T) {
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	a, _ := newAcquirer(t, cfg)

	src := &trackingSource{ds: testSlice(t)}
	acq, err := a.Acquire(context.Background(), SourceHandle{Source: src, Name: "src"})
	require.NoError(t, err)
	assert.False(t, src.closed)

	require.NoError(t, acq.Close())
	assert.True(t, src.closed, "source must close when acquisition scope ends")
}

func TestAcquireSourceClosesOnOpenFailure(t *testing.T) {
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	a, _ := newAcquirer(t, cfg)

	src := &trackingSource{openErr: errors.New(errors.ErrorTypeIO, "boom")}
	_, err := a.Acquire(context.Background(), SourceHandle{Source: src})
	require.Error(t, err)
	assert.True(t, src.closed, "source must close on the failure path too")
}

func TestAcquirePath(t *testing.T) {
	ctx := context.Background()
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	a, tempDir := newAcquirer(t, cfg)

	store := tempDir.Sibling("slices").Join("s0.zarr")
	require.NoError(t, zarr.WriteDataset(ctx, store, testSlice(t)))

	// The acquirer resolves URIs itself; hand it a store on the shared
	// memory filesystem via a fresh handle over the same path. Here we
	// bypass URI resolution and read through the zarr layer directly to
	// keep the test hermetic.
	ds, err := a.openSliceStore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, ds.Vars["v"].Data.([]float64))
}

func TestAcquirePathRejectsUnknownEngine(t *testing.T) {
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	a, _ := newAcquirer(t, cfg)

	_, err := a.Acquire(context.Background(), PathHandle{URI: "memory://x", Engine: "netcdf"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPollTimesOutOnAbsentSlice(t *testing.T) {
	ctx := context.Background()
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.SlicePolling = &config.Polling{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Timeout:  60 * time.Millisecond,
	}
	a, tempDir := newAcquirer(t, cfg)

	missing := tempDir.Sibling("never.zarr")
	_, err := a.pollSliceStore(ctx, missing, cfg.PollingOrDefault())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSliceUnavailable))
}

func TestPollSucceedsWhenSliceAppears(t *testing.T) {
	ctx := context.Background()
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.SlicePolling = &config.Polling{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Timeout:  2 * time.Second,
	}
	a, tempDir := newAcquirer(t, cfg)

	store := tempDir.Sibling("late.zarr")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = zarr.WriteDataset(context.Background(), store, testSlice(t))
	}()

	ds, err := a.pollSliceStore(ctx, store, cfg.PollingOrDefault())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, ds.Vars["v"].Data.([]float64))
}

func TestSourceRegistry(t *testing.T) {
	require.NoError(t, RegisterSource("test-const", func(arg string, kwargs map[string]interface{}) (Source, error) {
		return SourceFunc(func(context.Context) (*dataset.Dataset, error) {
			return testSlice(t), nil
		}), nil
	}))

	assert.Contains(t, ListSources(), "test-const")

	src, err := NewSource("test-const", "anything", nil)
	require.NoError(t, err)
	ds, err := src.Open(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ds.Vars, "v")
	require.NoError(t, src.Close())

	_, err = NewSource("nope", "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	err = RegisterSource("test-const", nil)
	require.Error(t, err)
}

package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/fsx"
	"github.com/ajitpratap0/tessera/pkg/metrics"
	"github.com/ajitpratap0/tessera/pkg/testutil"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

func floatPtr(v float64) *float64 { return &v }

func sstSlice(t *testing.T, label float64, values []float64) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	require.NoError(t, ds.AddVar(dataset.NewVariable("sst", []string{"t", "x"},
		[]int{1, 4}, dataset.Float64, values)))
	require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"},
		[]int{1}, dataset.Float64, []float64{label})))
	require.NoError(t, ds.AddVar(dataset.NewVariable("x", []string{"x"},
		[]int{4}, dataset.Float64, []float64{0, 1, 2, 3})))
	return ds
}

func newEngine(t *testing.T, cfg *config.Config) (*Engine, *fsx.FileObj) {
	t.Helper()
	fs := fsx.NewMemoryFS(true)
	target := fsx.NewWithFS(fs, "t.cube")
	tempDir := fsx.NewWithFS(fs, "txn")
	log := testutil.TestLogger(t)
	return New(cfg, target, tempDir, log, metrics.NewRecorder(false)), target
}

func TestPackedEncodingRoundTrip(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.AppendDim = "t"
	cfg.Variables = map[string]*config.VariableSpec{
		"sst": {Encoding: &config.EncodingSpec{
			DType:       "int16",
			FillValue:   floatPtr(-32768),
			ScaleFactor: floatPtr(0.01),
			AddOffset:   floatPtr(273.15),
			Units:       "kelvin",
			Compressor:  &config.CodecSpec{ID: "zstd", Level: 3},
		}},
	}

	e, target := newEngine(t, cfg)

	require.NoError(t, e.ProcessSlice(ctx, sstSlice(t, 0, []float64{273.15, 274.2, 275.31, 272.9})))
	require.NoError(t, e.ProcessSlice(ctx, sstSlice(t, 1, []float64{280.01, 281.5, 279.99, 278.4})))

	g, err := zarr.OpenGroup(ctx, target)
	require.NoError(t, err)

	arr := g.Arrays["sst"]
	require.NotNil(t, arr)
	assert.Equal(t, "<i2", arr.Doc.DType)
	assert.Equal(t, "zstd", arr.Doc.Compressor.ID)
	assert.Equal(t, []int{2, 4}, arr.Doc.Shape)
	assert.Equal(t, 0.01, arr.Attrs["scale_factor"])
	assert.Equal(t, 273.15, arr.Attrs["add_offset"])
	assert.Equal(t, "kelvin", arr.Attrs["units"])

	v, err := g.ReadVariable(ctx, "sst")
	require.NoError(t, err)
	values := v.Data.([]float64)
	assert.InDelta(t, 273.15, values[0], 0.01)
	assert.InDelta(t, 281.5, values[5], 0.01)
}

func TestAllFillChunksAreNotWritten(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.AppendDim = "t"

	e, target := newEngine(t, cfg)

	require.NoError(t, e.ProcessSlice(ctx, sstSlice(t, 0, []float64{1, 2, 3, 4})))

	nan := math.NaN()
	require.NoError(t, e.ProcessSlice(ctx, sstSlice(t, 1, []float64{nan, nan, nan, nan})))

	// The second slice's data chunk is all fill value and must be
	// absent from the store.
	ok, err := target.Join("sst", "1.0").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "all-fill chunk must not be written")

	// Reading still yields fill values for the sparse region.
	g, err := zarr.OpenGroup(ctx, target)
	require.NoError(t, err)
	v, err := g.ReadVariable(ctx, "sst")
	require.NoError(t, err)
	values := v.Data.([]float64)
	assert.InDelta(t, 1, values[0], 1e-9)
	assert.True(t, math.IsNaN(values[4]))
}

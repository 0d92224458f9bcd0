package schema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// firstSlice builds the canonical test slice: t=1, y=4, x=4 with a data
// variable v and coordinates t, x, y.
func firstSlice(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	require.NoError(t, ds.AddVar(dataset.NewVariable("v", []string{"t", "y", "x"}, []int{1, 4, 4}, dataset.Float32, data)))
	require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"}, []int{1}, dataset.Float64, []float64{0})))
	require.NoError(t, ds.AddVar(dataset.NewVariable("x", []string{"x"}, []int{4}, dataset.Float64, []float64{0, 1, 2, 3})))
	require.NoError(t, ds.AddVar(dataset.NewVariable("y", []string{"y"}, []int{4}, dataset.Float64, []float64{0, 1, 2, 3})))
	return ds
}

func baseConfig() *config.Config {
	cfg := config.New()
	cfg.TargetDir = "t.cube"
	cfg.AppendDim = "t"
	return cfg
}

func TestDeriveDefaults(t *testing.T) {
	k, err := Derive(baseConfig(), firstSlice(t))
	require.NoError(t, err)

	assert.Equal(t, "t", k.AppendDim)
	assert.Equal(t, map[string]int{"x": 4, "y": 4}, k.FixedDims)
	assert.ElementsMatch(t, []string{"v", "t", "x", "y"}, k.VarNames())

	v := k.Vars["v"]
	assert.Equal(t, dataset.Float32, v.DType)
	// Append axis chunk equals slice size; other dims unchunked.
	assert.Equal(t, []int{1, 4, 4}, v.Chunks)
	require.NotNil(t, v.FillValue)
	assert.True(t, math.IsNaN(*v.FillValue))
	require.NotNil(t, v.Compressor)
	assert.Equal(t, "zlib", v.Compressor.ID)

	// Coordinate variables are unchunked except along the append axis.
	assert.Equal(t, []int{1}, k.Vars["t"].Chunks)
	assert.Equal(t, []int{4}, k.Vars["x"].Chunks)
}

func TestDeriveWildcardMerge(t *testing.T) {
	cfg := baseConfig()
	cfg.Variables = map[string]*config.VariableSpec{
		"*": {Encoding: &config.EncodingSpec{
			Compressor: &config.CodecSpec{ID: "zstd", Level: 3},
			FillValue:  floatPtr(-1),
		}},
		"v": {Encoding: &config.EncodingSpec{
			DType:     "int16",
			FillValue: floatPtr(-9999),
		}},
	}
	k, err := Derive(cfg, firstSlice(t))
	require.NoError(t, err)

	v := k.Vars["v"]
	assert.Equal(t, dataset.Int16, v.DType)
	// Named entry wins over wildcard at the leaf; wildcard still
	// supplies the compressor.
	assert.Equal(t, float64(-9999), *v.FillValue)
	assert.Equal(t, "zstd", v.Compressor.ID)

	// Wildcard applies to the untouched variable too.
	assert.Equal(t, float64(-1), *k.Vars["x"].FillValue)
}

func TestDeriveChunkRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Variables = map[string]*config.VariableSpec{
		"v": {Encoding: &config.EncodingSpec{
			Chunks: []*int{nil, intPtr(2), nil},
		}},
	}
	k, err := Derive(cfg, firstSlice(t))
	require.NoError(t, err)
	// nil means dimension size; the append axis follows the slice.
	assert.Equal(t, []int{1, 2, 4}, k.Vars["v"].Chunks)
}

func TestDeriveAppendChunkConflict(t *testing.T) {
	cfg := baseConfig()
	cfg.Variables = map[string]*config.VariableSpec{
		"v": {Encoding: &config.EncodingSpec{
			Chunks: []*int{intPtr(4), nil, nil},
		}},
	}
	_, err := Derive(cfg, firstSlice(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "append dimension")
}

func TestDeriveMissingAppendDim(t *testing.T) {
	cfg := baseConfig()
	cfg.AppendDim = "depth"
	_, err := Derive(cfg, firstSlice(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSliceSchema))
}

func TestDeriveFixedDims(t *testing.T) {
	cfg := baseConfig()
	cfg.FixedDims = map[string]int{"x": 4, "y": 4}
	_, err := Derive(cfg, firstSlice(t))
	require.NoError(t, err)

	cfg.FixedDims = map[string]int{"x": 8}
	_, err = Derive(cfg, firstSlice(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "wrong size")
}

func TestDeriveIncludeExclude(t *testing.T) {
	cfg := baseConfig()
	cfg.ExcludedVariables = []string{"y"}
	k, err := Derive(cfg, firstSlice(t))
	require.NoError(t, err)
	assert.NotContains(t, k.Vars, "y")

	cfg = baseConfig()
	cfg.IncludedVariables = []string{"v", "t"}
	k, err = Derive(cfg, firstSlice(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v", "t"}, k.VarNames())
}

func TestValidateSlice(t *testing.T) {
	k, err := Derive(baseConfig(), firstSlice(t))
	require.NoError(t, err)

	// The first slice itself validates.
	require.NoError(t, k.ValidateSlice(firstSlice(t)))

	t.Run("missing variable", func(t *testing.T) {
		ds := firstSlice(t).DropVars(map[string]bool{"v": true})
		err := k.ValidateSlice(ds)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSliceSchema))
		assert.Contains(t, err.Error(), "v")
	})

	t.Run("append axis size mismatch", func(t *testing.T) {
		ds := dataset.New()
		require.NoError(t, ds.AddVar(dataset.NewVariable("v", []string{"t", "y", "x"}, []int{2, 4, 4}, dataset.Float32, make([]float32, 32))))
		require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"}, []int{2}, dataset.Float64, []float64{1, 2})))
		require.NoError(t, ds.AddVar(dataset.NewVariable("x", []string{"x"}, []int{4}, dataset.Float64, []float64{0, 1, 2, 3})))
		require.NoError(t, ds.AddVar(dataset.NewVariable("y", []string{"y"}, []int{4}, dataset.Float64, []float64{0, 1, 2, 3})))
		err := k.ValidateSlice(ds)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSliceShape))
	})

	t.Run("fixed dim mismatch", func(t *testing.T) {
		ds := dataset.New()
		require.NoError(t, ds.AddVar(dataset.NewVariable("v", []string{"t", "y", "x"}, []int{1, 4, 8}, dataset.Float32, make([]float32, 32))))
		require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"}, []int{1}, dataset.Float64, []float64{1})))
		require.NoError(t, ds.AddVar(dataset.NewVariable("x", []string{"x"}, []int{8}, dataset.Float64, make([]float64, 8))))
		require.NoError(t, ds.AddVar(dataset.NewVariable("y", []string{"y"}, []int{4}, dataset.Float64, make([]float64, 4))))
		err := k.ValidateSlice(ds)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSliceSchema))
	})
}

func TestTailorDropsExtraVars(t *testing.T) {
	k, err := Derive(baseConfig(), firstSlice(t))
	require.NoError(t, err)

	ds := firstSlice(t)
	require.NoError(t, ds.AddVar(dataset.NewVariable("extra", []string{"t"}, []int{1}, dataset.Float64, []float64{7})))
	tailored := k.Tailor(ds)
	assert.NotContains(t, tailored.Vars, "extra")
	assert.Contains(t, tailored.Vars, "v")
}

func step(kind config.StepKind, number float64) *config.AppendStep {
	return &config.AppendStep{Kind: kind, Number: number}
}

func TestValidateStep(t *testing.T) {
	k := &CubeSchema{AppendDim: "t"}

	t.Run("no constraint", func(t *testing.T) {
		k.AppendStep = nil
		assert.NoError(t, k.ValidateStep(floatPtr(5), []float64{3}, ""))
	})

	t.Run("increasing", func(t *testing.T) {
		k.AppendStep = step(config.StepIncreasing, 0)
		assert.NoError(t, k.ValidateStep(floatPtr(5), []float64{6, 7}, ""))

		err := k.ValidateStep(floatPtr(5), []float64{3}, "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAppendOrder))

		// In-slice regression is also an ordering violation.
		err = k.ValidateStep(floatPtr(5), []float64{6, 6}, "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAppendOrder))
	})

	t.Run("decreasing", func(t *testing.T) {
		k.AppendStep = step(config.StepDecreasing, 0)
		assert.NoError(t, k.ValidateStep(floatPtr(5), []float64{4, 3}, ""))
		err := k.ValidateStep(floatPtr(5), []float64{6}, "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAppendOrder))
	})

	t.Run("exact number", func(t *testing.T) {
		k.AppendStep = step(config.StepNumber, 2)
		assert.NoError(t, k.ValidateStep(floatPtr(4), []float64{6, 8}, ""))
		err := k.ValidateStep(floatPtr(4), []float64{7}, "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAppendOrder))
	})

	t.Run("duration with units", func(t *testing.T) {
		d, err := config.ParseAppendStep("1D")
		require.NoError(t, err)
		k.AppendStep = d
		// Labels in days since an epoch step by 1.
		assert.NoError(t, k.ValidateStep(floatPtr(10), []float64{11}, "days since 2001-01-01"))
		// Labels in hours step by 24.
		assert.NoError(t, k.ValidateStep(floatPtr(0), []float64{24}, "hours since 2001-01-01"))
		assert.Error(t, k.ValidateStep(floatPtr(10), []float64{12}, "days since 2001-01-01"))
	})

	t.Run("first slice checks internal pairs only", func(t *testing.T) {
		k.AppendStep = step(config.StepIncreasing, 0)
		assert.NoError(t, k.ValidateStep(nil, []float64{5, 6}, ""))
		assert.Error(t, k.ValidateStep(nil, []float64{6, 5}, ""))
	})
}

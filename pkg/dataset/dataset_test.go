package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddVarRegistersDims(t *testing.T) {
	ds := New()
	require.NoError(t, ds.AddVar(NewVariable("v", []string{"t", "x"}, []int{1, 4},
		Float32, make([]float32, 4))))

	assert.Equal(t, 1, ds.SizeOf("t"))
	assert.Equal(t, 4, ds.SizeOf("x"))
	assert.Equal(t, -1, ds.SizeOf("y"))
}

func TestAddVarRejectsConflicts(t *testing.T) {
	ds := New()
	require.NoError(t, ds.AddVar(NewVariable("v", []string{"x"}, []int{4},
		Float64, make([]float64, 4))))

	// Same name again.
	err := ds.AddVar(NewVariable("v", []string{"x"}, []int{4},
		Float64, make([]float64, 4)))
	require.Error(t, err)

	// Conflicting dimension size.
	err = ds.AddVar(NewVariable("w", []string{"x"}, []int{5},
		Float64, make([]float64, 5)))
	require.Error(t, err)

	// Data length mismatch.
	err = ds.AddVar(NewVariable("u", []string{"x"}, []int{4},
		Float64, make([]float64, 3)))
	require.Error(t, err)
}

func TestCoord(t *testing.T) {
	ds := New()
	require.NoError(t, ds.AddVar(NewVariable("t", []string{"t"}, []int{2},
		Float64, []float64{0, 1})))
	require.NoError(t, ds.AddVar(NewVariable("v", []string{"t"}, []int{2},
		Float64, []float64{5, 6})))

	coord := ds.Coord("t")
	require.NotNil(t, coord)
	assert.Equal(t, "t", coord.Name)
	assert.True(t, coord.IsCoord())

	assert.Nil(t, ds.Coord("v"), "v is not named after a dimension of its own")
	assert.False(t, ds.Vars["v"].IsCoord())
}

func TestDropVars(t *testing.T) {
	ds := New()
	ds.Attrs["title"] = "keep me"
	require.NoError(t, ds.AddVar(NewVariable("a", []string{"x"}, []int{2},
		Float64, []float64{1, 2})))
	require.NoError(t, ds.AddVar(NewVariable("b", []string{"y"}, []int{3},
		Float64, []float64{1, 2, 3})))

	out := ds.DropVars(map[string]bool{"b": true})
	assert.Contains(t, out.Vars, "a")
	assert.NotContains(t, out.Vars, "b")
	assert.Equal(t, -1, out.SizeOf("y"), "dims are rebuilt from remaining variables")
	assert.Equal(t, "keep me", out.Attrs["title"])
}

func TestVariableAccessors(t *testing.T) {
	v := NewVariable("v", []string{"t", "x"}, []int{2, 2}, Int16,
		[]int16{1, 2, 3, 4})

	assert.Equal(t, 4, v.Len())
	assert.Equal(t, 4, v.NumElements())
	assert.Equal(t, 3.0, v.FloatAt(2))
	assert.Equal(t, []float64{1, 2, 3, 4}, v.Floats())

	axis, ok := v.HasDim("x")
	require.True(t, ok)
	assert.Equal(t, 1, axis)
	assert.Equal(t, 2, v.SizeAlong("x"))
	assert.Equal(t, -1, v.SizeAlong("z"))
}

func TestDTypes(t *testing.T) {
	assert.Equal(t, 2, Int16.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.True(t, Float32.IsFloat())
	assert.False(t, Int32.IsFloat())

	_, err := ParseDType("float32")
	require.NoError(t, err)
	_, err = ParseDType("complex64")
	require.Error(t, err)
}

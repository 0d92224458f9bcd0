package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tessera/pkg/dataset"
)

func cubeView(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	require.NoError(t, ds.AddVar(dataset.NewVariable("t", []string{"t"}, []int{4},
		dataset.Float64, []float64{0, 1, 2, 3})))
	require.NoError(t, ds.AddVar(dataset.NewVariable("x", []string{"x"}, []int{2},
		dataset.Float64, []float64{10, 20})))
	return ds
}

func TestHasTemplates(t *testing.T) {
	assert.False(t, HasTemplates(map[string]interface{}{"title": "plain"}))
	assert.True(t, HasTemplates(map[string]interface{}{"start": "{{ ds['t'][0] }}"}))
	assert.True(t, HasTemplates(map[string]interface{}{
		"nested": map[string]interface{}{"v": "{{ 1 }}"},
	}))
	assert.True(t, HasTemplates(map[string]interface{}{
		"list": []interface{}{"a", "{{ 2 }}"},
	}))
}

func TestEvaluateSingleExpressionKeepsType(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	out, err := e.Evaluate(map[string]interface{}{
		"start": "{{ ds['t'][0] }}",
		"count": "{{ size(ds['t']) }}",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(0), out["start"])
	assert.Equal(t, int64(4), out["count"])
}

func TestEvaluateMixedTextRendersString(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	out, err := e.Evaluate(map[string]interface{}{
		"summary": "from {{ ds['t'][0] }} to {{ ds['t'][3] }}",
	})
	require.NoError(t, err)
	assert.Equal(t, "from 0 to 3", out["summary"])
}

func TestBoundsHelpers(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	out, err := e.Evaluate(map[string]interface{}{
		// Labels 0..3 with step 1; centers extend half a step each way.
		"lo_center": "{{ lower_bound(ds['t'], 'center') }}",
		"hi_center": "{{ upper_bound(ds['t'], 'center') }}",
		"lo_lower":  "{{ lower_bound(ds['t'], 'lower') }}",
		"hi_lower":  "{{ upper_bound(ds['t'], 'lower') }}",
	})
	require.NoError(t, err)
	assert.Equal(t, -0.5, out["lo_center"])
	assert.Equal(t, 3.5, out["hi_center"])
	assert.Equal(t, 0.0, out["lo_lower"])
	assert.Equal(t, 4.0, out["hi_lower"])
}

func TestBoundsBadReference(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	_, err = e.Evaluate(map[string]interface{}{
		"bad": "{{ lower_bound(ds['t'], 'middle') }}",
	})
	require.Error(t, err)
}

func TestNonTemplateValuesPassThrough(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	out, err := e.Evaluate(map[string]interface{}{
		"title":  "my cube",
		"number": 42,
		"nested": map[string]interface{}{"keep": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "my cube", out["title"])
	assert.Equal(t, 42, out["number"])
	assert.Equal(t, true, out["nested"].(map[string]interface{})["keep"])
}

func TestUnterminatedExpression(t *testing.T) {
	e, err := NewEvaluator(cubeView(t))
	require.NoError(t, err)

	_, err = e.Evaluate(map[string]interface{}{"bad": "{{ ds['t'][0]"})
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "target_dir: t.cube\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "t.cube", cfg.TargetDir)
	assert.Equal(t, "time", cfg.AppendDim)
	assert.Equal(t, AttrsKeep, cfg.AttrsUpdateMode)
	assert.Equal(t, 2, cfg.ZarrVersion)
	assert.False(t, cfg.PermitEval)
	assert.False(t, cfg.PollingOrDefault().Enabled)
}

func TestLoadMergeOrder(t *testing.T) {
	base := writeFile(t, "base.yaml", `
target_dir: base.cube
append_dim: t
variables:
  v:
    encoding:
      dtype: float32
      fill_value: -1
attrs:
  title: base
`)
	site := writeFile(t, "site.yaml", `
target_dir: site.cube
variables:
  v:
    encoding:
      fill_value: -9999
attrs:
  institution: here
`)
	cfg, err := Load(base, site)
	require.NoError(t, err)

	// Later files win at leaves; objects merge deeply.
	assert.Equal(t, "site.cube", cfg.TargetDir)
	assert.Equal(t, "t", cfg.AppendDim)
	require.Contains(t, cfg.Variables, "v")
	require.NotNil(t, cfg.Variables["v"].Encoding)
	assert.Equal(t, "float32", cfg.Variables["v"].Encoding.DType)
	require.NotNil(t, cfg.Variables["v"].Encoding.FillValue)
	assert.Equal(t, float64(-9999), *cfg.Variables["v"].Encoding.FillValue)
	assert.Equal(t, "base", cfg.Attrs["title"])
	assert.Equal(t, "here", cfg.Attrs["institution"])
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"target_dir": "t.cube", "append_dim": "t"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t", cfg.AppendDim)
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("CUBE_ROOT", "/data/cubes")
	path := writeFile(t, "cfg.yaml", "target_dir: ${CUBE_ROOT}/sst.cube\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cubes/sst.cube", cfg.TargetDir)

	path = writeFile(t, "cfg2.yaml", "target_dir: $CUBE_ROOT/sst.cube\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cubes/sst.cube", cfg.TargetDir)
}

func TestEnvSubstitutionUnresolved(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "target_dir: ${TESSERA_NO_SUCH_VAR}/t.cube\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "TESSERA_NO_SUCH_VAR")
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{"unknown field", "target_dir: t\ntarget_dirs: u\n", "unknown setting"},
		{"wrong type", "target_dir: t\npermit_eval: maybe\n", "must be a boolean"},
		{"out of enum", "target_dir: t\nattrs_update_mode: merge\n", "one of"},
		{"missing required", "append_dim: t\n", "target_dir"},
		{"zarr version", "target_dir: t\nzarr_version: 3\n", "zarr_version"},
		{"fixed append dim", "target_dir: t\nappend_dim: t\nfixed_dims: {t: 10}\n", "must not be fixed"},
		{"bad variable key", "target_dir: t\nvariables: {v: {shape: [1]}}\n", "unknown setting"},
		{"bad encoding key", "target_dir: t\nvariables: {v: {encoding: {codec: x}}}\n", "unknown encoding setting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "cfg.yaml", tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestAppendStepForms(t *testing.T) {
	tests := []struct {
		yaml string
		kind StepKind
	}{
		{"append_step: 1\n", StepNumber},
		{"append_step: 0.5\n", StepNumber},
		{"append_step: '+'\n", StepIncreasing},
		{"append_step: '-'\n", StepDecreasing},
		{"append_step: 6h\n", StepDuration},
		{"append_step: 1D\n", StepDuration},
	}
	for _, tt := range tests {
		path := writeFile(t, "cfg.yaml", "target_dir: t\n"+tt.yaml)
		cfg, err := Load(path)
		require.NoError(t, err, tt.yaml)
		require.NotNil(t, cfg.AppendStep, tt.yaml)
		assert.Equal(t, tt.kind, cfg.AppendStep.Kind, tt.yaml)
	}

	path := writeFile(t, "cfg.yaml", "target_dir: t\nappend_step: 1D\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.AppendStep.Duration)

	path = writeFile(t, "bad.yaml", "target_dir: t\nappend_step: soon\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPollingForms(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "target_dir: t\nslice_polling: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	p := cfg.PollingOrDefault()
	assert.True(t, p.Enabled)
	assert.Equal(t, 2*time.Second, p.Interval)
	assert.Equal(t, 60*time.Second, p.Timeout)

	path = writeFile(t, "cfg.yaml", "target_dir: t\nslice_polling: {interval: 0.1, timeout: 5}\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	p = cfg.PollingOrDefault()
	assert.True(t, p.Enabled)
	assert.Equal(t, 100*time.Millisecond, p.Interval)
	assert.Equal(t, 5*time.Second, p.Timeout)

	path = writeFile(t, "cfg.yaml", "target_dir: t\nslice_polling: false\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.PollingOrDefault().Enabled)
}

func TestHelpRendering(t *testing.T) {
	md := HelpMarkdown()
	for _, f := range Schema {
		assert.Contains(t, md, "`"+f.Name+"`")
	}

	js, err := HelpJSON()
	require.NoError(t, err)
	assert.Contains(t, js, `"target_dir"`)
	assert.Contains(t, js, `"required": true`)
}

func TestMergeMapsLeafWins(t *testing.T) {
	a := map[string]interface{}{
		"x": map[string]interface{}{"a": 1, "b": 2},
		"y": "old",
	}
	b := map[string]interface{}{
		"x": map[string]interface{}{"b": 3},
		"y": "new",
	}
	out := MergeMaps(a, b)
	assert.Equal(t, "new", out["y"])
	assert.Equal(t, 1, out["x"].(map[string]interface{})["a"])
	assert.Equal(t, 3, out["x"].(map[string]interface{})["b"])
}

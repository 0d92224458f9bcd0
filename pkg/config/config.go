// Package config provides the unified configuration system for Tessera.
// It defines a single schema-validated Config record consumed read-only
// by every other component.
//
// Configuration files are YAML or JSON. Multiple files merge in order,
// last-write-wins at scalar leaves with deep merge at objects. String
// values support ${NAME} and $NAME environment substitution; an
// unresolved variable is a configuration error.
//
// Example usage:
//
//	cfg, err := config.Load("base.yaml", "site.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.TargetDir // "s3://cubes/sst.zarr"
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults shared with the documentation renderer.
const (
	// DefaultAppendDim is the append dimension used when none is configured.
	DefaultAppendDim = "time"
	// DefaultPollInterval is the slice polling and lock wait interval.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollTimeout is the slice polling and lock wait timeout.
	DefaultPollTimeout = 60 * time.Second
	// ZarrVersion is the only supported storage format version.
	ZarrVersion = 2
)

// AttrsUpdateMode controls how slice attributes are folded into the
// cube's group attributes on append.
type AttrsUpdateMode string

const (
	// AttrsKeep keeps the cube's attributes untouched.
	AttrsKeep AttrsUpdateMode = "keep"
	// AttrsReplace replaces the whole attribute object with the slice's.
	AttrsReplace AttrsUpdateMode = "replace"
	// AttrsUpdate merges the slice's attributes over the cube's.
	AttrsUpdate AttrsUpdateMode = "update"
	// AttrsIgnore ignores slice attributes entirely.
	AttrsIgnore AttrsUpdateMode = "ignore"
)

// Config is the validated configuration record.
type Config struct {
	// Target location
	TargetDir            string            `yaml:"target_dir" json:"target_dir"`
	TargetStorageOptions map[string]string `yaml:"target_storage_options" json:"target_storage_options"`

	// Append axis
	AppendDim  string         `yaml:"append_dim" json:"append_dim"`
	AppendStep *AppendStep    `yaml:"append_step" json:"append_step"`
	FixedDims  map[string]int `yaml:"fixed_dims" json:"fixed_dims"`

	// Variable selection and per-variable settings
	IncludedVariables []string                 `yaml:"included_variables" json:"included_variables"`
	ExcludedVariables []string                 `yaml:"excluded_variables" json:"excluded_variables"`
	Variables         map[string]*VariableSpec `yaml:"variables" json:"variables"`

	// Attributes
	Attrs           map[string]interface{} `yaml:"attrs" json:"attrs"`
	AttrsUpdateMode AttrsUpdateMode        `yaml:"attrs_update_mode" json:"attrs_update_mode"`
	PermitEval      bool                   `yaml:"permit_eval" json:"permit_eval"`
	ZarrVersion     int                    `yaml:"zarr_version" json:"zarr_version"`

	// Slice acquisition
	SliceStorageOptions map[string]string      `yaml:"slice_storage_options" json:"slice_storage_options"`
	SliceEngine         string                 `yaml:"slice_engine" json:"slice_engine"`
	SlicePolling        *Polling               `yaml:"slice_polling" json:"slice_polling"`
	SliceSource         string                 `yaml:"slice_source" json:"slice_source"`
	SliceSourceKwargs   map[string]interface{} `yaml:"slice_source_kwargs" json:"slice_source_kwargs"`
	PersistMemSlices    bool                   `yaml:"persist_mem_slices" json:"persist_mem_slices"`

	// Transactions
	TempDir            string            `yaml:"temp_dir" json:"temp_dir"`
	TempStorageOptions map[string]string `yaml:"temp_storage_options" json:"temp_storage_options"`
	DisableRollback    bool              `yaml:"disable_rollback" json:"disable_rollback"`
	ForceNew           bool              `yaml:"force_new" json:"force_new"`

	// Run behaviour
	DryRun    bool                   `yaml:"dry_run" json:"dry_run"`
	Profiling Profiling              `yaml:"profiling" json:"profiling"`
	Logging   Logging                `yaml:"logging" json:"logging"`
	Extra     map[string]interface{} `yaml:"extra" json:"extra"`
}

// VariableSpec carries the per-variable configuration. The name "*"
// supplies wildcard defaults merged beneath every named variable.
type VariableSpec struct {
	Dims     []string               `yaml:"dims" json:"dims"`
	Encoding *EncodingSpec          `yaml:"encoding" json:"encoding"`
	Attrs    map[string]interface{} `yaml:"attrs" json:"attrs"`
}

// EncodingSpec is the user-facing storage encoding of one variable.
// A nil chunk entry means "equal to the dimension size".
type EncodingSpec struct {
	DType       string       `yaml:"dtype" json:"dtype"`
	Chunks      []*int       `yaml:"chunks" json:"chunks"`
	FillValue   *float64     `yaml:"fill_value" json:"fill_value"`
	ScaleFactor *float64     `yaml:"scale_factor" json:"scale_factor"`
	AddOffset   *float64     `yaml:"add_offset" json:"add_offset"`
	Units       string       `yaml:"units" json:"units"`
	Calendar    string       `yaml:"calendar" json:"calendar"`
	Compressor  *CodecSpec   `yaml:"compressor" json:"compressor"`
	Filters     []*CodecSpec `yaml:"filters" json:"filters"`
}

// CodecSpec names a compressor or filter by its registry id.
type CodecSpec struct {
	ID    string `yaml:"id" json:"id"`
	Level int    `yaml:"level" json:"level"`
}

// Profiling gates the metrics collectors.
type Profiling struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Logging configures the zap logger for one invocation.
type Logging struct {
	Level       string   `yaml:"level" json:"level"`
	Encoding    string   `yaml:"encoding" json:"encoding"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
	Development bool     `yaml:"development" json:"development"`
}

// StepKind discriminates the append_step variants.
type StepKind int

const (
	// StepNone means no step constraint.
	StepNone StepKind = iota
	// StepNumber requires an exact numeric delta between labels.
	StepNumber
	// StepDuration requires an exact temporal delta between labels.
	StepDuration
	// StepIncreasing requires strictly increasing labels ("+").
	StepIncreasing
	// StepDecreasing requires strictly decreasing labels ("-").
	StepDecreasing
)

// AppendStep is the append-axis step constraint: a number, a duration
// string such as "1D" or "6h", or a monotonic sign "+"/"-".
type AppendStep struct {
	Kind     StepKind
	Number   float64
	Duration time.Duration
}

// UnmarshalYAML accepts a number, a duration string, "+" or "-".
func (s *AppendStep) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseAppendStep(raw)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// MarshalYAML renders the step back to its configuration form.
func (s *AppendStep) MarshalYAML() (interface{}, error) {
	switch s.Kind {
	case StepIncreasing:
		return "+", nil
	case StepDecreasing:
		return "-", nil
	case StepNumber:
		return s.Number, nil
	case StepDuration:
		return s.Duration.String(), nil
	}
	return nil, nil
}

// ParseAppendStep converts a raw configuration value into a step.
func ParseAppendStep(raw interface{}) (*AppendStep, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int:
		return &AppendStep{Kind: StepNumber, Number: float64(v)}, nil
	case float64:
		return &AppendStep{Kind: StepNumber, Number: v}, nil
	case string:
		switch v {
		case "+":
			return &AppendStep{Kind: StepIncreasing}, nil
		case "-":
			return &AppendStep{Kind: StepDecreasing}, nil
		}
		d, err := parseTimeDelta(v)
		if err != nil {
			return nil, fmt.Errorf("invalid append_step %q: %v", v, err)
		}
		return &AppendStep{Kind: StepDuration, Duration: d}, nil
	}
	return nil, fmt.Errorf("invalid append_step of type %T", raw)
}

// parseTimeDelta understands Go duration syntax plus calendar-flavoured
// suffixes D (days) and W (weeks) used for daily and weekly cadences.
func parseTimeDelta(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	for suffix, unit := range map[string]time.Duration{
		"D": 24 * time.Hour,
		"W": 7 * 24 * time.Hour,
	} {
		if strings.HasSuffix(s, suffix) {
			numStr := strings.TrimSuffix(s, suffix)
			if numStr == "" {
				numStr = "1"
			}
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				break
			}
			return time.Duration(n * float64(unit)), nil
		}
	}
	return 0, fmt.Errorf("not a duration")
}

// Polling configures slice polling and the shared lock wait loop.
type Polling struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// UnmarshalYAML accepts `true`, `false`, or {interval, timeout} with
// numeric seconds or duration strings.
func (p *Polling) UnmarshalYAML(node *yaml.Node) error {
	var asBool bool
	if err := node.Decode(&asBool); err == nil {
		*p = Polling{Enabled: asBool, Interval: DefaultPollInterval, Timeout: DefaultPollTimeout}
		return nil
	}
	var asMap struct {
		Interval interface{} `yaml:"interval"`
		Timeout  interface{} `yaml:"timeout"`
	}
	if err := node.Decode(&asMap); err != nil {
		return err
	}
	interval, err := decodeSeconds(asMap.Interval, DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("invalid slice_polling.interval: %v", err)
	}
	timeout, err := decodeSeconds(asMap.Timeout, DefaultPollTimeout)
	if err != nil {
		return fmt.Errorf("invalid slice_polling.timeout: %v", err)
	}
	*p = Polling{Enabled: true, Interval: interval, Timeout: timeout}
	return nil
}

func decodeSeconds(raw interface{}, fallback time.Duration) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return fallback, nil
	case int:
		return time.Duration(float64(v) * float64(time.Second)), nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		return time.ParseDuration(v)
	}
	return 0, fmt.Errorf("expected number of seconds or duration string, got %T", raw)
}

// New returns a Config carrying the documented defaults.
func New() *Config {
	return &Config{
		AppendDim:       DefaultAppendDim,
		AttrsUpdateMode: AttrsKeep,
		ZarrVersion:     ZarrVersion,
		Logging: Logging{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// PollingOrDefault returns the effective polling settings; polling is
// disabled unless configured.
func (c *Config) PollingOrDefault() Polling {
	if c.SlicePolling == nil {
		return Polling{Enabled: false, Interval: DefaultPollInterval, Timeout: DefaultPollTimeout}
	}
	return *c.SlicePolling
}

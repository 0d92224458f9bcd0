package config

import (
	"os"
	"regexp"
	"strings"

	gojson "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Load reads, merges, validates and decodes the given configuration
// files in order; later files win at leaves. With no paths only the
// defaults apply, and validation then fails because target_dir is
// required.
func Load(paths ...string) (*Config, error) {
	merged, err := LoadRaw(paths...)
	if err != nil {
		return nil, err
	}
	return FromMap(merged)
}

// LoadRaw reads and merges the given files without validating or
// decoding. Callers that need to apply overrides (such as command-line
// flags) before validation work on the raw form.
func LoadRaw(paths ...string) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for _, path := range paths {
		raw, err := readRaw(path)
		if err != nil {
			return nil, err
		}
		merged = MergeMaps(merged, raw)
	}
	return merged, nil
}

// FromMap validates and decodes an already-merged raw configuration.
func FromMap(raw map[string]interface{}) (*Config, error) {
	substituted, err := substituteEnv(raw)
	if err != nil {
		return nil, err
	}
	raw = substituted.(map[string]interface{})

	if err := validateRaw(raw); err != nil {
		return nil, err
	}

	// Round-trip through YAML picks up the polymorphic field decoders.
	buf, err := yaml.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot encode configuration")
	}
	cfg := New()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readRaw(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot read configuration file").
			WithDetail("path", path)
	}
	var raw map[string]interface{}
	if strings.HasSuffix(path, ".json") {
		err = gojson.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot parse configuration file").
			WithDetail("path", path)
	}
	return raw, nil
}

// MergeMaps deep-merges b over a: objects merge recursively, any other
// value in b replaces a's.
func MergeMaps(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		if av, ok := out[k]; ok {
			am, aIsMap := toStringMap(av)
			bm, bIsMap := toStringMap(bv)
			if aIsMap && bIsMap {
				out[k] = MergeMaps(am, bm)
				continue
			}
		}
		out[k] = bv
	}
	return out
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnv replaces ${NAME} and $NAME in every string leaf. An
// unresolved variable is a configuration error.
func substituteEnv(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		var substErr error
		result := envVarPattern.ReplaceAllStringFunc(v, func(match string) string {
			groups := envVarPattern.FindStringSubmatch(match)
			name := groups[1]
			if name == "" {
				name = groups[2]
			}
			val, ok := os.LookupEnv(name)
			if !ok {
				substErr = errors.Newf(errors.ErrorTypeConfig,
					"environment variable %q is not set", name)
				return match
			}
			return val
		})
		if substErr != nil {
			return nil, substErr
		}
		return result, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			sub, err := substituteEnv(val)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case map[interface{}]interface{}:
		m, ok := toStringMap(v)
		if !ok {
			return nil, errors.New(errors.ErrorTypeConfig, "configuration keys must be strings")
		}
		return substituteEnv(m)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			sub, err := substituteEnv(val)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	}
	return value, nil
}

// Validate checks the decoded record's cross-field constraints.
func (c *Config) Validate() error {
	if c.TargetDir == "" {
		return errors.New(errors.ErrorTypeConfig, "missing required setting 'target_dir'")
	}
	switch c.AttrsUpdateMode {
	case AttrsKeep, AttrsReplace, AttrsUpdate, AttrsIgnore:
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"attrs_update_mode must be one of keep, replace, update, ignore; got %q",
			c.AttrsUpdateMode)
	}
	if c.ZarrVersion != ZarrVersion {
		return errors.Newf(errors.ErrorTypeConfig,
			"zarr_version must be %d; got %d", ZarrVersion, c.ZarrVersion)
	}
	if c.FixedDims != nil {
		if _, ok := c.FixedDims[c.AppendDim]; ok {
			return errors.Newf(errors.ErrorTypeConfig,
				"size of append dimension %q must not be fixed", c.AppendDim)
		}
	}
	return nil
}

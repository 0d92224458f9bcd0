package config

import (
	"fmt"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// FieldSpec documents and validates one configuration setting. Kind is a
// validation discriminator, not a Go type; polymorphic settings such as
// append_step carry their own kind.
type FieldSpec struct {
	Name     string      `json:"name"`
	Kind     string      `json:"type"`
	Enum     []string    `json:"enum,omitempty"`
	Required bool        `json:"required,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Doc      string      `json:"doc"`
}

// Schema lists every recognized setting, in documentation order.
var Schema = []FieldSpec{
	{Name: "target_dir", Kind: "string", Required: true,
		Doc: "URI or local path of the target cube directory."},
	{Name: "target_storage_options", Kind: "strmap",
		Doc: "Storage options for the target's filesystem (region, endpoint, credentials)."},
	{Name: "append_dim", Kind: "string", Default: DefaultAppendDim,
		Doc: "Name of the dimension the cube grows along."},
	{Name: "append_step", Kind: "step",
		Doc: "Step constraint between consecutive append labels: a number, a duration string such as \"1D\", \"+\" (strictly increasing), \"-\" (strictly decreasing), or null."},
	{Name: "fixed_dims", Kind: "intmap",
		Doc: "Mapping from dimension name to its fixed size; verified against every slice."},
	{Name: "included_variables", Kind: "strarray",
		Doc: "Names of variables to include; all when empty."},
	{Name: "excluded_variables", Kind: "strarray",
		Doc: "Names of variables to exclude."},
	{Name: "variables", Kind: "variables",
		Doc: "Per-variable settings keyed by name; \"*\" supplies wildcard defaults. Each entry may set dims, encoding (dtype, chunks, fill_value, scale_factor, add_offset, units, calendar, compressor, filters), and attrs."},
	{Name: "attrs", Kind: "object",
		Doc: "Attributes merged into the cube's group attributes."},
	{Name: "attrs_update_mode", Kind: "string", Default: string(AttrsKeep),
		Enum: []string{"keep", "replace", "update", "ignore"},
		Doc:  "How slice attributes update the cube's group attributes on append."},
	{Name: "permit_eval", Kind: "bool", Default: false,
		Doc: "Allow {{ ... }} expressions in attribute values, evaluated after commit."},
	{Name: "zarr_version", Kind: "int", Default: ZarrVersion,
		Doc: "Storage format version; must be 2."},
	{Name: "slice_storage_options", Kind: "strmap",
		Doc: "Storage options for slice filesystems."},
	{Name: "slice_engine", Kind: "string",
		Doc: "Engine used to open path slices; \"zarr\" when empty."},
	{Name: "slice_polling", Kind: "polling",
		Doc: "Poll for slice availability: false, true (defaults), or {interval, timeout} in seconds."},
	{Name: "slice_source", Kind: "string",
		Doc: "Name of a registered slice source invoked per slice argument."},
	{Name: "slice_source_kwargs", Kind: "object",
		Doc: "Extra keyword arguments handed to the slice source."},
	{Name: "persist_mem_slices", Kind: "bool", Default: false,
		Doc: "Persist in-memory slices to a temporary store before appending."},
	{Name: "temp_dir", Kind: "string",
		Doc: "Directory for transaction journals; the OS temp directory when empty."},
	{Name: "temp_storage_options", Kind: "strmap",
		Doc: "Storage options for the journal filesystem."},
	{Name: "disable_rollback", Kind: "bool", Default: false,
		Doc: "Skip journalling entirely; failures leave the cube in an undefined state."},
	{Name: "force_new", Kind: "bool", Default: false,
		Doc: "Delete an existing cube and its lock before processing begins."},
	{Name: "dry_run", Kind: "bool", Default: false,
		Doc: "Log intended actions without writing."},
	{Name: "profiling", Kind: "profiling",
		Doc: "Metrics collection: {enabled}."},
	{Name: "logging", Kind: "logging",
		Doc: "Log setup: {level, encoding, output_paths, development}."},
	{Name: "extra", Kind: "object",
		Doc: "Free-form settings kept in the configuration; no component reads them."},
}

var schemaByName = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(Schema))
	for _, f := range Schema {
		m[f.Name] = f
	}
	return m
}()

var variableKeys = map[string]bool{"dims": true, "encoding": true, "attrs": true}

var encodingKeys = map[string]bool{
	"dtype": true, "chunks": true, "fill_value": true, "scale_factor": true,
	"add_offset": true, "units": true, "calendar": true, "compressor": true,
	"filters": true,
}

// validateRaw checks the merged raw map against the schema: unknown
// field, wrong type, out-of-enum. The required check and cross-field
// constraints run after decoding.
func validateRaw(raw map[string]interface{}) error {
	for key, value := range raw {
		spec, ok := schemaByName[key]
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "unknown setting %q", key)
		}
		if err := validateKind(spec, value); err != nil {
			return err
		}
	}
	return nil
}

func validateKind(spec FieldSpec, value interface{}) error {
	if value == nil {
		return nil
	}
	wrongType := func(expected string) error {
		return errors.Newf(errors.ErrorTypeConfig,
			"setting %q must be %s; got %T", spec.Name, expected, value)
	}
	switch spec.Kind {
	case "string":
		s, ok := value.(string)
		if !ok {
			return wrongType("a string")
		}
		if len(spec.Enum) > 0 {
			for _, e := range spec.Enum {
				if s == e {
					return nil
				}
			}
			return errors.Newf(errors.ErrorTypeConfig,
				"setting %q must be one of %s; got %q",
				spec.Name, strings.Join(spec.Enum, ", "), s)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return wrongType("a boolean")
		}
	case "int":
		if !isInt(value) {
			return wrongType("an integer")
		}
	case "strmap":
		m, ok := toStringMap(value)
		if !ok {
			return wrongType("an object")
		}
		for k, v := range m {
			if _, ok := v.(string); !ok {
				return errors.Newf(errors.ErrorTypeConfig,
					"setting %q: value of %q must be a string; got %T", spec.Name, k, v)
			}
		}
	case "intmap":
		m, ok := toStringMap(value)
		if !ok {
			return wrongType("an object")
		}
		for k, v := range m {
			if !isInt(v) {
				return errors.Newf(errors.ErrorTypeConfig,
					"setting %q: size of %q must be an integer; got %T", spec.Name, k, v)
			}
		}
	case "strarray":
		arr, ok := value.([]interface{})
		if !ok {
			return wrongType("an array of strings")
		}
		for _, v := range arr {
			if _, ok := v.(string); !ok {
				return wrongType("an array of strings")
			}
		}
	case "object", "logging", "profiling":
		if _, ok := toStringMap(value); !ok {
			return wrongType("an object")
		}
	case "polling":
		if _, ok := value.(bool); ok {
			return nil
		}
		if _, ok := toStringMap(value); !ok {
			return wrongType("a boolean or an object")
		}
	case "step":
		if _, err := ParseAppendStep(value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig,
				fmt.Sprintf("setting %q is invalid", spec.Name))
		}
	case "variables":
		return validateVariables(value)
	}
	return nil
}

func validateVariables(value interface{}) error {
	vars, ok := toStringMap(value)
	if !ok {
		return errors.New(errors.ErrorTypeConfig, "setting \"variables\" must be an object")
	}
	for name, raw := range vars {
		spec, ok := toStringMap(raw)
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig,
				"variable %q must be an object", name)
		}
		for key := range spec {
			if !variableKeys[key] {
				return errors.Newf(errors.ErrorTypeConfig,
					"variable %q: unknown setting %q", name, key)
			}
		}
		if enc, ok := spec["encoding"]; ok && enc != nil {
			encMap, ok := toStringMap(enc)
			if !ok {
				return errors.Newf(errors.ErrorTypeConfig,
					"variable %q: encoding must be an object", name)
			}
			for key := range encMap {
				if !encodingKeys[key] {
					return errors.Newf(errors.ErrorTypeConfig,
						"variable %q: unknown encoding setting %q", name, key)
				}
			}
		}
	}
	return nil
}

func isInt(v interface{}) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case float64:
		return n == float64(int64(n))
	}
	return false
}

// HelpJSON renders the configuration schema as JSON.
func HelpJSON() (string, error) {
	buf, err := gojson.MarshalIndent(Schema, "", "  ")
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// HelpMarkdown renders the configuration schema as a Markdown reference.
func HelpMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Configuration reference\n\n")
	for _, f := range Schema {
		fmt.Fprintf(&sb, "## `%s`\n\n", f.Name)
		fmt.Fprintf(&sb, "%s\n\n", f.Doc)
		fmt.Fprintf(&sb, "- type: %s\n", kindLabel(f.Kind))
		if len(f.Enum) > 0 {
			quoted := make([]string, len(f.Enum))
			for i, e := range f.Enum {
				quoted[i] = "`" + e + "`"
			}
			sort.Strings(quoted)
			fmt.Fprintf(&sb, "- one of: %s\n", strings.Join(quoted, ", "))
		}
		if f.Required {
			sb.WriteString("- required\n")
		}
		if f.Default != nil {
			fmt.Fprintf(&sb, "- default: `%v`\n", f.Default)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func kindLabel(kind string) string {
	switch kind {
	case "strmap":
		return "object of strings"
	case "intmap":
		return "object of integers"
	case "strarray":
		return "array of strings"
	case "polling":
		return "boolean or object"
	case "step":
		return "number, string or null"
	case "variables", "logging", "profiling":
		return "object"
	}
	return kind
}

// Package schema derives the cube schema from the first slice merged
// with configuration, and validates every subsequent slice against it.
// The schema is the single source of truth for dimensions, storage
// encodings and chunk geometry; it is read-only once derived.
package schema

import (
	"math"
	"sort"
	"strings"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

// VariableSchema is the effective storage description of one variable.
type VariableSchema struct {
	Name        string
	Dims        []string
	Shape       []int
	DType       dataset.DType
	Chunks      []int
	FillValue   *float64
	ScaleFactor *float64
	AddOffset   *float64
	Units       string
	Calendar    string
	Compressor  *config.CodecSpec
	Filters     []*config.CodecSpec
	Attrs       map[string]interface{}
}

// AppendAxis returns the index of dim in the variable's dimensions, or
// -1 when the variable does not declare it.
func (v *VariableSchema) AppendAxis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// IsCoord reports whether the variable is a coordinate variable.
func (v *VariableSchema) IsCoord() bool {
	return v.AppendAxis(v.Name) >= 0
}

// Packing returns the variable's packing factors.
func (v *VariableSchema) Packing() zarr.Packing {
	return zarr.Packing{Scale: v.ScaleFactor, Offset: v.AddOffset}
}

// CubeSchema is the derived schema of the target cube.
type CubeSchema struct {
	AppendDim  string
	AppendStep *config.AppendStep
	FixedDims  map[string]int
	Vars       map[string]*VariableSchema
}

// VarNames returns variable names in sorted order.
func (k *CubeSchema) VarNames() []string {
	names := make([]string, 0, len(k.Vars))
	for name := range k.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// keptVarNames applies the include/exclude filters to a dataset's
// variables.
func keptVarNames(cfg *config.Config, ds *dataset.Dataset) []string {
	included := map[string]bool{}
	for _, name := range cfg.IncludedVariables {
		included[name] = true
	}
	excluded := map[string]bool{}
	for _, name := range cfg.ExcludedVariables {
		excluded[name] = true
	}
	kept := make([]string, 0, len(ds.Vars))
	for _, name := range ds.VarNames() {
		if len(included) > 0 && !included[name] {
			continue
		}
		if excluded[name] {
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

// effectiveSpec merges, in decreasing precedence, the explicit
// variables[name] entry, the wildcard variables["*"] entry, and nothing:
// the slice's own metadata fills remaining gaps during derivation.
func effectiveSpec(cfg *config.Config, name string) *config.VariableSpec {
	wildcard := cfg.Variables["*"]
	named := cfg.Variables[name]
	if named == nil && wildcard == nil {
		return nil
	}
	merged := &config.VariableSpec{Attrs: map[string]interface{}{}}
	apply := func(spec *config.VariableSpec) {
		if spec == nil {
			return
		}
		if spec.Dims != nil {
			merged.Dims = spec.Dims
		}
		for k, v := range spec.Attrs {
			merged.Attrs[k] = v
		}
		if spec.Encoding == nil {
			return
		}
		if merged.Encoding == nil {
			merged.Encoding = &config.EncodingSpec{}
		}
		enc, from := merged.Encoding, spec.Encoding
		if from.DType != "" {
			enc.DType = from.DType
		}
		if from.Chunks != nil {
			enc.Chunks = from.Chunks
		}
		if from.FillValue != nil {
			enc.FillValue = from.FillValue
		}
		if from.ScaleFactor != nil {
			enc.ScaleFactor = from.ScaleFactor
		}
		if from.AddOffset != nil {
			enc.AddOffset = from.AddOffset
		}
		if from.Units != "" {
			enc.Units = from.Units
		}
		if from.Calendar != "" {
			enc.Calendar = from.Calendar
		}
		if from.Compressor != nil {
			enc.Compressor = from.Compressor
		}
		if from.Filters != nil {
			enc.Filters = from.Filters
		}
	}
	apply(wildcard)
	apply(named)
	return merged
}

// Derive builds the cube schema from the first slice merged with the
// configuration. The chunk size along the append axis always equals the
// slice's size along that axis; a conflicting user value is rejected.
func Derive(cfg *config.Config, first *dataset.Dataset) (*CubeSchema, error) {
	appendDim := cfg.AppendDim
	appendSize := first.SizeOf(appendDim)
	if appendSize < 0 {
		return nil, errors.Newf(errors.ErrorTypeSliceSchema,
			"append dimension %q not found in first slice", appendDim)
	}

	for dim, size := range cfg.FixedDims {
		dsSize := first.SizeOf(dim)
		if dsSize < 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"fixed dimension %q not found in first slice", dim)
		}
		if dsSize != size {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"wrong size for fixed dimension %q: expected %d, found %d",
				dim, size, dsSize)
		}
	}

	k := &CubeSchema{
		AppendDim:  appendDim,
		AppendStep: cfg.AppendStep,
		FixedDims:  map[string]int{},
		Vars:       map[string]*VariableSchema{},
	}
	for dim, size := range first.Dims {
		if dim != appendDim {
			k.FixedDims[dim] = size
		}
	}

	for _, name := range keptVarNames(cfg, first) {
		v := first.Vars[name]
		vs, err := deriveVariable(cfg, name, v, appendDim, appendSize)
		if err != nil {
			return nil, err
		}
		k.Vars[name] = vs
	}
	return k, nil
}

func deriveVariable(cfg *config.Config, name string, v *dataset.Variable,
	appendDim string, appendSize int) (*VariableSchema, error) {

	spec := effectiveSpec(cfg, name)

	vs := &VariableSchema{
		Name:  name,
		Dims:  v.Dims,
		Shape: append([]int{}, v.Shape...),
		DType: v.DType,
		Attrs: map[string]interface{}{},
	}
	for key, val := range v.Attrs {
		vs.Attrs[key] = val
	}

	if spec != nil {
		if spec.Dims != nil && !equalStrings(spec.Dims, v.Dims) {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"dimension mismatch for variable %q: expected %v, got %v",
				name, spec.Dims, v.Dims)
		}
		for key, val := range spec.Attrs {
			vs.Attrs[key] = val
		}
		if enc := spec.Encoding; enc != nil {
			if enc.DType != "" {
				t, err := dataset.ParseDType(enc.DType)
				if err != nil {
					return nil, err
				}
				vs.DType = t
			}
			vs.FillValue = enc.FillValue
			vs.ScaleFactor = enc.ScaleFactor
			vs.AddOffset = enc.AddOffset
			vs.Units = enc.Units
			vs.Calendar = enc.Calendar
			vs.Compressor = enc.Compressor
			vs.Filters = enc.Filters
		}
	}

	chunks, err := resolveChunks(spec, v, appendDim, appendSize)
	if err != nil {
		return nil, err
	}
	vs.Chunks = chunks

	if vs.FillValue == nil && vs.DType.IsFloat() && vs.ScaleFactor == nil && vs.AddOffset == nil {
		nan := math.NaN()
		vs.FillValue = &nan
	}
	if vs.Compressor == nil {
		vs.Compressor = zarr.DefaultCompressor
	}
	if vs.Units == "" {
		if units, ok := vs.Attrs["units"].(string); ok {
			vs.Units = units
		}
	}
	return vs, nil
}

// resolveChunks applies the chunking rules: a configured chunk list with
// nil entries meaning "dimension size"; the chunk along the append axis
// always equals the slice's append size; coordinate variables default to
// a single chunk per dimension.
func resolveChunks(spec *config.VariableSpec, v *dataset.Variable,
	appendDim string, appendSize int) ([]int, error) {

	chunks := make([]int, len(v.Dims))
	var configured []*int
	if spec != nil && spec.Encoding != nil {
		configured = spec.Encoding.Chunks
	}
	if configured != nil && len(configured) != len(v.Dims) {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"variable %q: %d chunk sizes for %d dimensions",
			v.Name, len(configured), len(v.Dims))
	}
	for i, dim := range v.Dims {
		size := v.Shape[i]
		if dim == appendDim {
			if configured != nil && configured[i] != nil && *configured[i] != appendSize {
				return nil, errors.Newf(errors.ErrorTypeConfig,
					"variable %q: chunk size %d along append dimension %q"+
						" conflicts with slice size %d",
					v.Name, *configured[i], appendDim, appendSize)
			}
			chunks[i] = appendSize
			continue
		}
		if configured != nil && configured[i] != nil {
			chunks[i] = *configured[i]
			continue
		}
		// Unchunked default: one chunk spanning the dimension.
		chunks[i] = size
	}
	return chunks, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FromGroup rebuilds the schema of an existing cube from its stored
// metadata, which is what an append validates against.
func FromGroup(cfg *config.Config, g *zarr.Group) (*CubeSchema, error) {
	k := &CubeSchema{
		AppendDim:  cfg.AppendDim,
		AppendStep: cfg.AppendStep,
		FixedDims:  map[string]int{},
		Vars:       map[string]*VariableSchema{},
	}
	for name, arr := range g.Arrays {
		t, err := zarr.ParseTypeString(arr.Doc.DType)
		if err != nil {
			return nil, err
		}
		vs := &VariableSchema{
			Name:       name,
			Dims:       arr.Dims,
			Shape:      append([]int{}, arr.Doc.Shape...),
			DType:      t,
			Chunks:     append([]int{}, arr.Doc.Chunks...),
			Compressor: specFromDoc(arr.Doc.Compressor),
			Attrs:      map[string]interface{}{},
		}
		if arr.Doc.FillValue.Defined {
			fill := arr.Doc.FillValue.Value
			vs.FillValue = &fill
		}
		packing := arr.Packing()
		vs.ScaleFactor = packing.Scale
		vs.AddOffset = packing.Offset
		for key, val := range arr.Attrs {
			if key == zarr.DimensionsAttr {
				continue
			}
			vs.Attrs[key] = val
		}
		if units, ok := vs.Attrs["units"].(string); ok {
			vs.Units = units
		}
		k.Vars[name] = vs

		for i, dim := range arr.Dims {
			if dim != cfg.AppendDim {
				k.FixedDims[dim] = arr.Doc.Shape[i]
			}
		}
	}
	return k, nil
}

func specFromDoc(doc *zarr.CodecDoc) *config.CodecSpec {
	if doc == nil {
		return nil
	}
	return &config.CodecSpec{ID: doc.ID, Level: doc.Level}
}

// ValidateSlice checks a slice dataset against the schema: every kept
// variable present, dimensions matching, non-append sizes unchanged, and
// the append-axis size equal to the chunk size along that axis.
func (k *CubeSchema) ValidateSlice(ds *dataset.Dataset) error {
	var missing []string
	for _, name := range k.VarNames() {
		if _, ok := ds.Vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeSliceSchema,
			"slice is missing variables: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	for _, name := range k.VarNames() {
		vs := k.Vars[name]
		v := ds.Vars[name]
		if !equalStrings(vs.Dims, v.Dims) {
			return errors.Newf(errors.ErrorTypeSliceSchema,
				"variable %q: dimensions %v do not match %v", name, v.Dims, vs.Dims)
		}
		for i, dim := range vs.Dims {
			if dim == k.AppendDim {
				axisChunk := vs.Chunks[i]
				if v.Shape[i] != axisChunk {
					return errors.Newf(errors.ErrorTypeSliceShape,
						"variable %q: append-axis size %d does not equal chunk size %d",
						name, v.Shape[i], axisChunk).
						WithDetail("variable", name)
				}
				continue
			}
			if fixed, ok := k.FixedDims[dim]; ok && v.Shape[i] != fixed {
				return errors.Newf(errors.ErrorTypeSliceSchema,
					"variable %q: dimension %q has size %d, expected %d",
					name, dim, v.Shape[i], fixed)
			}
		}
		if !v.DType.Valid() {
			return errors.Newf(errors.ErrorTypeSliceSchema,
				"variable %q: unsupported dtype %q", name, v.DType)
		}
	}
	return nil
}

// Tailor returns the slice reduced to the schema's variables. Extra
// variables are silently dropped; attributes and encodings of the slice
// never reach the store on append, so nothing else is carried.
func (k *CubeSchema) Tailor(ds *dataset.Dataset) *dataset.Dataset {
	drop := map[string]bool{}
	for name := range ds.Vars {
		if _, ok := k.Vars[name]; !ok {
			drop[name] = true
		}
	}
	return ds.DropVars(drop)
}

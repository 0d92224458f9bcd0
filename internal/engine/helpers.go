package engine

import (
	"context"

	"github.com/ajitpratap0/tessera/pkg/attrs"
	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/schema"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

// arrayDocFor renders the array metadata document for a variable schema
// at the given stored shape.
func arrayDocFor(vs *schema.VariableSchema, shape []int) (*zarr.ArrayDoc, error) {
	typeStr, err := zarr.TypeString(vs.DType)
	if err != nil {
		return nil, err
	}
	fill := zarr.FillValue{}
	if vs.FillValue != nil {
		fill = zarr.FillValue{Defined: true, Value: *vs.FillValue}
	}
	doc := &zarr.ArrayDoc{
		ZarrFormat: 2,
		Shape:      append([]int{}, shape...),
		Chunks:     append([]int{}, vs.Chunks...),
		DType:      typeStr,
		FillValue:  fill,
		Order:      "C",
	}
	if vs.Compressor != nil && vs.Compressor.ID != "" && vs.Compressor.ID != "null" {
		doc.Compressor = &zarr.CodecDoc{ID: vs.Compressor.ID, Level: vs.Compressor.Level}
	}
	for _, f := range vs.Filters {
		if f != nil && f.ID != "" {
			doc.Filters = append(doc.Filters, &zarr.CodecDoc{ID: f.ID, Level: f.Level})
		}
	}
	return doc, nil
}

// storedVarAttrs returns the attributes persisted for a variable:
// schema attributes plus the CF-style encoding attributes readers need
// to unpack the values.
func storedVarAttrs(vs *schema.VariableSchema) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range vs.Attrs {
		out[k] = v
	}
	if vs.ScaleFactor != nil {
		out["scale_factor"] = *vs.ScaleFactor
	}
	if vs.AddOffset != nil {
		out["add_offset"] = *vs.AddOffset
	}
	if vs.Units != "" {
		out["units"] = vs.Units
	}
	if vs.Calendar != "" {
		out["calendar"] = vs.Calendar
	}
	return out
}

// withDimsAttr adds the dimension names attribute to a variable's
// stored attributes.
func withDimsAttr(varAttrs map[string]interface{}, dims []string) map[string]interface{} {
	out := make(map[string]interface{}, len(varAttrs)+1)
	for k, v := range varAttrs {
		out[k] = v
	}
	dimList := make([]interface{}, len(dims))
	for i, d := range dims {
		dimList[i] = d
	}
	out[zarr.DimensionsAttr] = dimList
	return out
}

// sliceLabels returns the slice's labels along the append coordinate,
// or nil when the slice carries no append coordinate.
func (e *Engine) sliceLabels(ds *dataset.Dataset) []float64 {
	coord := ds.Coord(e.cfg.AppendDim)
	if coord == nil {
		return nil
	}
	return coord.Floats()
}

// appendCoordUnits returns the units of the append coordinate from the
// derived schema, used for temporal step comparison.
func (e *Engine) appendCoordUnits(k *schema.CubeSchema) string {
	if vs, ok := k.Vars[k.AppendDim]; ok {
		return vs.Units
	}
	return ""
}

// lastAppendLabel reads the final label of the cube's append
// coordinate, plus its units. A cube without an append coordinate has
// no label constraint.
func (e *Engine) lastAppendLabel(ctx context.Context, g *zarr.Group) (*float64, string, error) {
	arr, ok := g.Arrays[e.cfg.AppendDim]
	if !ok {
		return nil, "", nil
	}
	units, _ := arr.Attrs["units"].(string)
	if e.cfg.AppendStep == nil {
		return nil, units, nil
	}
	coord, err := g.ReadVariable(ctx, e.cfg.AppendDim)
	if err != nil {
		return nil, units, err
	}
	n := coord.Len()
	if n == 0 {
		return nil, units, nil
	}
	last := coord.FloatAt(n - 1)
	return &last, units, nil
}

// mergeAttrs folds slice attributes into the cube's group attributes
// per the configured update mode, then merges the configuration's
// attrs on top. Replace is whole-object: keys absent from the slice do
// not survive it. create runs before any cube attributes exist.
func (e *Engine) mergeAttrs(cubeAttrs, sliceAttrs map[string]interface{}, create bool) (map[string]interface{}, error) {
	var base map[string]interface{}
	switch {
	case create:
		base = copyAttrs(cubeAttrs)
	case e.cfg.AttrsUpdateMode == config.AttrsKeep:
		base = copyAttrs(cubeAttrs)
	case e.cfg.AttrsUpdateMode == config.AttrsReplace:
		base = copyAttrs(sliceAttrs)
	case e.cfg.AttrsUpdateMode == config.AttrsUpdate:
		base = copyAttrs(cubeAttrs)
		for k, v := range sliceAttrs {
			base[k] = v
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"unexpected attrs_update_mode %q", e.cfg.AttrsUpdateMode)
	}
	for k, v := range e.cfg.Attrs {
		base[k] = v
	}
	return base, nil
}

func copyAttrs(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// evalAttrs applies deferred expression evaluation when permitted. With
// evaluation off the attributes are returned unevaluated: templates in
// the configured attrs were already rejected before any I/O began, and
// templates carried in by slice attributes are kept as plain strings.
func (e *Engine) evalAttrs(groupAttrs map[string]interface{}, view *dataset.Dataset) (map[string]interface{}, error) {
	if !e.cfg.PermitEval || !attrs.HasTemplates(groupAttrs) {
		return groupAttrs, nil
	}
	evaluator, err := attrs.NewEvaluator(view)
	if err != nil {
		return nil, err
	}
	return evaluator.Evaluate(groupAttrs)
}

// cubeView loads the cube's variables for attribute evaluation. Only
// coordinate variables are materialized in full; data variables are
// exposed by their append coordinate already, and loading them would
// read the whole store.
func (e *Engine) cubeView(ctx context.Context, g *zarr.Group) (*dataset.Dataset, error) {
	ds := dataset.New()
	for k, v := range g.Attrs {
		ds.Attrs[k] = v
	}
	for _, name := range g.VarNames() {
		arr := g.Arrays[name]
		if len(arr.Dims) != 1 || arr.Dims[0] != name {
			continue
		}
		v, err := g.ReadVariable(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := ds.AddVar(v); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

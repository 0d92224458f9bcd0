// Package dataset provides the in-memory dataset model shared by slice
// acquisition, validation, and the append engine. A Dataset is a set of
// named variables over named dimensions, plus free-form attributes --
// the shape both cubes and slices take while in memory.
package dataset

import (
	"sort"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Dataset holds variables over shared named dimensions.
type Dataset struct {
	Dims  map[string]int
	Vars  map[string]*Variable
	Attrs map[string]interface{}
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{
		Dims:  map[string]int{},
		Vars:  map[string]*Variable{},
		Attrs: map[string]interface{}{},
	}
}

// AddVar adds v, registering its dimensions. A dimension size conflict
// with an existing variable is an error.
func (d *Dataset) AddVar(v *Variable) error {
	if _, ok := d.Vars[v.Name]; ok {
		return errors.Newf(errors.ErrorTypeInternal, "variable %q already exists", v.Name)
	}
	if len(v.Shape) != len(v.Dims) {
		return errors.Newf(errors.ErrorTypeInternal,
			"variable %q: %d dims but %d shape entries", v.Name, len(v.Dims), len(v.Shape))
	}
	if v.Len() != v.NumElements() {
		return errors.Newf(errors.ErrorTypeInternal,
			"variable %q: data length %d does not match shape (%d elements)",
			v.Name, v.Len(), v.NumElements())
	}
	for i, dim := range v.Dims {
		size := v.Shape[i]
		if existing, ok := d.Dims[dim]; ok && existing != size {
			return errors.Newf(errors.ErrorTypeInternal,
				"variable %q: dimension %q has size %d, expected %d",
				v.Name, dim, size, existing)
		}
		d.Dims[dim] = size
	}
	d.Vars[v.Name] = v
	return nil
}

// SizeOf returns the size of dim, or -1 when the dataset has no such
// dimension.
func (d *Dataset) SizeOf(dim string) int {
	if size, ok := d.Dims[dim]; ok {
		return size
	}
	return -1
}

// VarNames returns the variable names in sorted order.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Coord returns the coordinate variable for dim -- the variable named
// after the dimension whose only dimension is the dimension itself --
// or nil.
func (d *Dataset) Coord(dim string) *Variable {
	v, ok := d.Vars[dim]
	if !ok {
		return nil
	}
	if len(v.Dims) == 1 && v.Dims[0] == dim {
		return v
	}
	return nil
}

// DropVars returns a copy of d without the named variables. Dimensions
// are rebuilt from the remaining variables.
func (d *Dataset) DropVars(names map[string]bool) *Dataset {
	out := New()
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}
	for _, name := range d.VarNames() {
		if names[name] {
			continue
		}
		// AddVar cannot fail here: variables were consistent in d.
		_ = out.AddVar(d.Vars[name])
	}
	return out
}

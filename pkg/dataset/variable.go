package dataset

import (
	"math"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// DType is the storage data type of a variable.
type DType string

const (
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Bool    DType = "bool"
)

// Size returns the element size in bytes.
func (t DType) Size() int {
	switch t {
	case Int8, Uint8, Bool:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether t is a floating-point type.
func (t DType) IsFloat() bool {
	return t == Float32 || t == Float64
}

// Valid reports whether t is a known data type.
func (t DType) Valid() bool {
	return t.Size() > 0
}

// ParseDType validates a data type name.
func ParseDType(s string) (DType, error) {
	t := DType(s)
	if !t.Valid() {
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown dtype %q", s)
	}
	return t, nil
}

// Variable is one named array: an ordered list of dimension names, a
// shape, a data type and a row-major (C-order) backing buffer. Data
// holds one of []int8 ... []float64 or []bool matching DType.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	DType DType
	Data  interface{}
	Attrs map[string]interface{}
}

// NewVariable builds a variable over data. The data slice length must
// equal the product of shape.
func NewVariable(name string, dims []string, shape []int, dtype DType, data interface{}) *Variable {
	return &Variable{
		Name:  name,
		Dims:  dims,
		Shape: shape,
		DType: dtype,
		Data:  data,
		Attrs: map[string]interface{}{},
	}
}

// NumElements returns the product of the shape.
func (v *Variable) NumElements() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// Len returns the length of the backing buffer.
func (v *Variable) Len() int {
	switch data := v.Data.(type) {
	case []int8:
		return len(data)
	case []int16:
		return len(data)
	case []int32:
		return len(data)
	case []int64:
		return len(data)
	case []uint8:
		return len(data)
	case []uint16:
		return len(data)
	case []uint32:
		return len(data)
	case []uint64:
		return len(data)
	case []float32:
		return len(data)
	case []float64:
		return len(data)
	case []bool:
		return len(data)
	}
	return 0
}

// FloatAt returns element i widened to float64. Bools widen to 0/1.
func (v *Variable) FloatAt(i int) float64 {
	switch data := v.Data.(type) {
	case []int8:
		return float64(data[i])
	case []int16:
		return float64(data[i])
	case []int32:
		return float64(data[i])
	case []int64:
		return float64(data[i])
	case []uint8:
		return float64(data[i])
	case []uint16:
		return float64(data[i])
	case []uint32:
		return float64(data[i])
	case []uint64:
		return float64(data[i])
	case []float32:
		return float64(data[i])
	case []float64:
		return data[i]
	case []bool:
		if data[i] {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// Floats returns the whole buffer widened to float64.
func (v *Variable) Floats() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.FloatAt(i)
	}
	return out
}

// HasDim reports whether the variable declares dim, and at which axis.
func (v *Variable) HasDim(dim string) (int, bool) {
	for i, d := range v.Dims {
		if d == dim {
			return i, true
		}
	}
	return -1, false
}

// IsCoord reports whether the variable is a coordinate variable: its
// name equals one of its dimensions.
func (v *Variable) IsCoord() bool {
	_, ok := v.HasDim(v.Name)
	return ok
}

// SizeAlong returns the variable's size along dim, or -1 when the
// variable does not declare it.
func (v *Variable) SizeAlong(dim string) int {
	if axis, ok := v.HasDim(dim); ok {
		return v.Shape[axis]
	}
	return -1
}

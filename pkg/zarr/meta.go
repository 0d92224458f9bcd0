package zarr

import (
	"math"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Document names of the zarr v2 layout.
const (
	GroupKey        = ".zgroup"
	AttrsKey        = ".zattrs"
	ArrayKey        = ".zarray"
	ConsolidatedKey = ".zmetadata"

	// DimensionsAttr names the attribute carrying the ordered dimension
	// names of an array.
	DimensionsAttr = "_ARRAY_DIMENSIONS"
)

// GroupDoc is the .zgroup document.
type GroupDoc struct {
	ZarrFormat int `json:"zarr_format"`
}

// CodecDoc names a compressor or filter in array metadata.
type CodecDoc struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// FillValue marshals the zarr fill_value field, which is null, a number,
// or one of the strings "NaN", "Infinity", "-Infinity".
type FillValue struct {
	Defined bool
	Value   float64
}

// MarshalJSON implements json.Marshaler.
func (f FillValue) MarshalJSON() ([]byte, error) {
	if !f.Defined {
		return []byte("null"), nil
	}
	switch {
	case math.IsNaN(f.Value):
		return []byte(`"NaN"`), nil
	case math.IsInf(f.Value, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f.Value, -1):
		return []byte(`"-Infinity"`), nil
	case f.Value == math.Trunc(f.Value) && math.Abs(f.Value) < 1e15:
		return []byte(strconv.FormatInt(int64(f.Value), 10)), nil
	}
	return gojson.Marshal(f.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FillValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := gojson.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*f = FillValue{}
	case float64:
		*f = FillValue{Defined: true, Value: v}
	case string:
		switch v {
		case "NaN":
			*f = FillValue{Defined: true, Value: math.NaN()}
		case "Infinity":
			*f = FillValue{Defined: true, Value: math.Inf(1)}
		case "-Infinity":
			*f = FillValue{Defined: true, Value: math.Inf(-1)}
		default:
			return errors.Newf(errors.ErrorTypeIO, "invalid fill_value %q", v)
		}
	default:
		return errors.Newf(errors.ErrorTypeIO, "invalid fill_value of type %T", raw)
	}
	return nil
}

// ArrayDoc is the .zarray document of one variable.
type ArrayDoc struct {
	ZarrFormat int         `json:"zarr_format"`
	Shape      []int       `json:"shape"`
	Chunks     []int       `json:"chunks"`
	DType      string      `json:"dtype"`
	Compressor *CodecDoc   `json:"compressor"`
	FillValue  FillValue   `json:"fill_value"`
	Order      string      `json:"order"`
	Filters    []*CodecDoc `json:"filters"`
}

// dtype mapping between the in-memory model and zarr's typestr.
var dtypeToZarr = map[dataset.DType]string{
	dataset.Int8:    "|i1",
	dataset.Int16:   "<i2",
	dataset.Int32:   "<i4",
	dataset.Int64:   "<i8",
	dataset.Uint8:   "|u1",
	dataset.Uint16:  "<u2",
	dataset.Uint32:  "<u4",
	dataset.Uint64:  "<u8",
	dataset.Float32: "<f4",
	dataset.Float64: "<f8",
	dataset.Bool:    "|b1",
}

var zarrToDType = func() map[string]dataset.DType {
	m := make(map[string]dataset.DType, len(dtypeToZarr))
	for k, v := range dtypeToZarr {
		m[v] = k
	}
	return m
}()

// TypeString returns zarr's typestr for t.
func TypeString(t dataset.DType) (string, error) {
	s, ok := dtypeToZarr[t]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeInternal, "unsupported dtype %q", t)
	}
	return s, nil
}

// ParseTypeString returns the data type for zarr's typestr.
func ParseTypeString(s string) (dataset.DType, error) {
	t, ok := zarrToDType[s]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeIO, "unsupported zarr dtype %q", s)
	}
	return t, nil
}

// codecDoc converts a configuration codec spec to its document form.
func codecDoc(spec *config.CodecSpec) *CodecDoc {
	if spec == nil || spec.ID == "" || spec.ID == "null" {
		return nil
	}
	return &CodecDoc{ID: spec.ID, Level: spec.Level}
}

// codecSpec converts a document codec back to the configuration form.
func codecSpec(doc *CodecDoc) *config.CodecSpec {
	if doc == nil {
		return nil
	}
	return &config.CodecSpec{ID: doc.ID, Level: doc.Level}
}

// MarshalDoc renders a metadata document with stable formatting.
func MarshalDoc(doc interface{}) ([]byte, error) {
	data, err := gojson.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode metadata document")
	}
	return data, nil
}

// ConsolidatedDoc is the .zmetadata document: every group and array
// document keyed by its path, behind a format marker.
type ConsolidatedDoc struct {
	ZarrConsolidatedFormat int                          `json:"zarr_consolidated_format"`
	Metadata               map[string]gojson.RawMessage `json:"metadata"`
}

package zarr

import (
	"context"
	"math"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// Array is the read-side view of one stored variable.
type Array struct {
	Name  string
	Doc   ArrayDoc
	Dims  []string
	Attrs map[string]interface{}
}

// Packing extracts the variable's packing from its attributes.
func (a *Array) Packing() Packing {
	var p Packing
	if v, ok := toFloat(a.Attrs["scale_factor"]); ok {
		p.Scale = &v
	}
	if v, ok := toFloat(a.Attrs["add_offset"]); ok {
		p.Offset = &v
	}
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Group is the read-side view of a stored cube.
type Group struct {
	Dir    *fsx.FileObj
	Attrs  map[string]interface{}
	Arrays map[string]*Array
}

// OpenGroup reads the metadata of the group at dir. The consolidated
// document is used when present; otherwise the group is assembled by
// listing.
func OpenGroup(ctx context.Context, dir *fsx.FileObj) (*Group, error) {
	g := &Group{Dir: dir, Attrs: map[string]interface{}{}, Arrays: map[string]*Array{}}

	consolidated := dir.Join(ConsolidatedKey)
	if ok, err := consolidated.Exists(ctx); err == nil && ok {
		data, err := consolidated.Read(ctx)
		if err != nil {
			return nil, err
		}
		var doc ConsolidatedDoc
		if err := gojson.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "invalid consolidated metadata").
				WithDetail("path", consolidated.Path())
		}
		if err := g.fromConsolidated(doc); err != nil {
			return nil, err
		}
		return g, nil
	}

	// No consolidated document; list the group.
	if err := g.readGroupDocs(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) fromConsolidated(doc ConsolidatedDoc) error {
	for key, raw := range doc.Metadata {
		switch {
		case key == AttrsKey:
			if err := gojson.Unmarshal(raw, &g.Attrs); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "invalid group attributes")
			}
		case strings.HasSuffix(key, "/"+ArrayKey):
			name := strings.TrimSuffix(key, "/"+ArrayKey)
			arr := g.arrayFor(name)
			if err := gojson.Unmarshal(raw, &arr.Doc); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "invalid array metadata").
					WithDetail("variable", name)
			}
		case strings.HasSuffix(key, "/"+AttrsKey):
			name := strings.TrimSuffix(key, "/"+AttrsKey)
			arr := g.arrayFor(name)
			if err := gojson.Unmarshal(raw, &arr.Attrs); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "invalid array attributes").
					WithDetail("variable", name)
			}
		}
	}
	for name, arr := range g.Arrays {
		if err := arr.resolveDims(name); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) arrayFor(name string) *Array {
	arr, ok := g.Arrays[name]
	if !ok {
		arr = &Array{Name: name, Attrs: map[string]interface{}{}}
		g.Arrays[name] = arr
	}
	return arr
}

func (g *Group) readGroupDocs(ctx context.Context) error {
	groupDoc := g.Dir.Join(GroupKey)
	ok, err := groupDoc.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeIO, "not a cube: missing %s in %s",
			GroupKey, g.Dir.URI())
	}

	attrsDoc := g.Dir.Join(AttrsKey)
	if ok, err := attrsDoc.Exists(ctx); err == nil && ok {
		data, err := attrsDoc.Read(ctx)
		if err != nil {
			return err
		}
		if err := gojson.Unmarshal(data, &g.Attrs); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "invalid group attributes").
				WithDetail("path", attrsDoc.Path())
		}
	}

	names, err := g.Dir.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}
		arrayDoc := g.Dir.Join(name, ArrayKey)
		ok, err := arrayDoc.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		arr := g.arrayFor(name)
		data, err := arrayDoc.Read(ctx)
		if err != nil {
			return err
		}
		if err := gojson.Unmarshal(data, &arr.Doc); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "invalid array metadata").
				WithDetail("variable", name)
		}
		attrsDoc := g.Dir.Join(name, AttrsKey)
		if ok, err := attrsDoc.Exists(ctx); err == nil && ok {
			data, err := attrsDoc.Read(ctx)
			if err != nil {
				return err
			}
			if err := gojson.Unmarshal(data, &arr.Attrs); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "invalid array attributes").
					WithDetail("variable", name)
			}
		}
		if err := arr.resolveDims(name); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) resolveDims(name string) error {
	raw, ok := a.Attrs[DimensionsAttr]
	if !ok {
		return errors.Newf(errors.ErrorTypeIO,
			"missing array dimensions for variable %q", name)
	}
	rawList, ok := raw.([]interface{})
	if !ok {
		return errors.Newf(errors.ErrorTypeIO,
			"invalid array dimensions for variable %q", name)
	}
	dims := make([]string, len(rawList))
	for i, d := range rawList {
		s, ok := d.(string)
		if !ok {
			return errors.Newf(errors.ErrorTypeIO,
				"invalid array dimensions for variable %q", name)
		}
		dims[i] = s
	}
	a.Dims = dims
	return nil
}

// VarNames returns the stored variable names in sorted order.
func (g *Group) VarNames() []string {
	names := make([]string, 0, len(g.Arrays))
	for name := range g.Arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppendLength returns the current length along dim, taken from any
// variable that declares it; -1 when no variable does.
func (g *Group) AppendLength(dim string) int {
	for _, arr := range g.Arrays {
		for i, d := range arr.Dims {
			if d == dim {
				return arr.Doc.Shape[i]
			}
		}
	}
	return -1
}

// ReadVariable reads the named variable in full, unpacked to float64.
// Missing chunks read as fill value. Chunk reads run concurrently; the
// commit marker is the only ordering the store guarantees anyway.
func (g *Group) ReadVariable(ctx context.Context, name string) (*dataset.Variable, error) {
	arr, ok := g.Arrays[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeIO, "no such variable %q", name)
	}
	doc := arr.Doc
	packing := arr.Packing()

	elements := 1
	for _, s := range doc.Shape {
		elements *= s
	}
	data := make([]float64, elements)
	fill := math.NaN()
	if doc.FillValue.Defined {
		fill = packing.unpack(doc.FillValue.Value)
	}
	for i := range data {
		data[i] = fill
	}

	grid := GridShape(doc.Shape, doc.Chunks)
	eg, gctx := errgroup.WithContext(ctx)
	for _, pos := range gridIndices(grid) {
		pos := pos
		eg.Go(func() error {
			chunkFile := g.Dir.Join(name, ChunkKey(pos))
			ok, err := chunkFile.Exists(gctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil // sparse: all fill
			}
			payload, err := chunkFile.Read(gctx)
			if err != nil {
				return err
			}
			// Chunks cover disjoint element ranges of data.
			return DecodeChunk(data, &doc, packing, pos, payload)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	v := dataset.NewVariable(name, arr.Dims, doc.Shape, dataset.Float64, data)
	for k, val := range arr.Attrs {
		if k != DimensionsAttr {
			v.Attrs[k] = val
		}
	}
	return v, nil
}

// ToDataset reads every variable of the group into a dataset.
func (g *Group) ToDataset(ctx context.Context) (*dataset.Dataset, error) {
	ds := dataset.New()
	for k, v := range g.Attrs {
		ds.Attrs[k] = v
	}
	for _, name := range g.VarNames() {
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

// BuildConsolidated renders the .zmetadata document from the group and
// array documents passed in.
func BuildConsolidated(groupAttrs map[string]interface{}, arrays map[string]*Array) ([]byte, error) {
	meta := map[string]gojson.RawMessage{}

	groupDoc, err := MarshalDoc(GroupDoc{ZarrFormat: 2})
	if err != nil {
		return nil, err
	}
	meta[GroupKey] = groupDoc

	attrs, err := MarshalDoc(groupAttrs)
	if err != nil {
		return nil, err
	}
	meta[AttrsKey] = attrs

	for name, arr := range arrays {
		arrayDoc, err := MarshalDoc(arr.Doc)
		if err != nil {
			return nil, err
		}
		meta[name+"/"+ArrayKey] = arrayDoc

		attrsDoc, err := MarshalDoc(withDims(arr.Attrs, arr.Dims))
		if err != nil {
			return nil, err
		}
		meta[name+"/"+AttrsKey] = attrsDoc
	}

	return MarshalDoc(ConsolidatedDoc{ZarrConsolidatedFormat: 1, Metadata: meta})
}

// withDims returns attrs with the dimension names attribute set.
func withDims(attrs map[string]interface{}, dims []string) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	dimList := make([]interface{}, len(dims))
	for i, d := range dims {
		dimList[i] = d
	}
	out[DimensionsAttr] = dimList
	return out
}

package zarr

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/fsx"
)

// WriteDataset persists ds as a zarr group at dir with straightforward
// defaults: each variable stored in its own dtype, one chunk per
// variable, the default compressor, NaN fill for floats. This is the
// unjournalled writer used to stage in-memory slices in temporary
// stores; cube writes go through the transaction engine instead.
func WriteDataset(ctx context.Context, dir *fsx.FileObj, ds *dataset.Dataset) error {
	groupDoc, err := MarshalDoc(GroupDoc{ZarrFormat: 2})
	if err != nil {
		return err
	}
	if err := dir.Join(GroupKey).Write(ctx, groupDoc, true); err != nil {
		return err
	}
	attrsDoc, err := MarshalDoc(ds.Attrs)
	if err != nil {
		return err
	}
	if err := dir.Join(AttrsKey).Write(ctx, attrsDoc, true); err != nil {
		return err
	}

	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		typeStr, err := TypeString(v.DType)
		if err != nil {
			return err
		}
		fill := FillValue{}
		if v.DType.IsFloat() {
			fill = FillValue{Defined: true, Value: math.NaN()}
		}
		doc := &ArrayDoc{
			ZarrFormat: 2,
			Shape:      v.Shape,
			Chunks:     append([]int{}, v.Shape...),
			DType:      typeStr,
			Compressor: codecDoc(DefaultCompressor),
			FillValue:  fill,
			Order:      "C",
		}
		docData, err := MarshalDoc(doc)
		if err != nil {
			return err
		}
		if err := dir.Join(name, ArrayKey).Write(ctx, docData, true); err != nil {
			return err
		}
		attrsData, err := MarshalDoc(withDims(v.Attrs, v.Dims))
		if err != nil {
			return err
		}
		if err := dir.Join(name, AttrsKey).Write(ctx, attrsData, true); err != nil {
			return err
		}

		ops, err := EncodeChunks(v, doc, Packing{}, -1, 0)
		if err != nil {
			return err
		}
		eg, gctx := errgroup.WithContext(ctx)
		for _, op := range ops {
			if op.Empty {
				continue
			}
			op := op
			eg.Go(func() error {
				return dir.Join(name, op.Key).Write(gctx, op.Data, true)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

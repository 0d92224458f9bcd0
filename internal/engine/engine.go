// Package engine implements the append transaction state machine: it
// creates a cube from the first slice or extends an existing cube by
// one slice, with every mutation journalled for rollback.
//
// A transaction moves INIT -> OPENED -> VALIDATED -> JOURNALED ->
// WRITTEN -> COMMITTED; any failure before the commit marker rolls the
// cube back to its pre-transaction state and surfaces the original
// error with rollback failures attached as notes.
package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/fsx"
	"github.com/ajitpratap0/tessera/pkg/metrics"
	"github.com/ajitpratap0/tessera/pkg/schema"
	"github.com/ajitpratap0/tessera/pkg/txn"
	"github.com/ajitpratap0/tessera/pkg/zarr"
)

// Engine runs create and append transactions against one target cube.
type Engine struct {
	cfg     *config.Config
	target  *fsx.FileObj
	tempDir *fsx.FileObj
	log     *zap.Logger
	rec     *metrics.Recorder
}

// New builds an engine over the resolved target and temp locations.
func New(cfg *config.Config, target, tempDir *fsx.FileObj, log *zap.Logger, rec *metrics.Recorder) *Engine {
	return &Engine{cfg: cfg, target: target, tempDir: tempDir, log: log, rec: rec}
}

// ProcessSlice integrates one slice dataset into the cube: the CREATE
// path when the cube is absent, the APPEND path otherwise.
func (e *Engine) ProcessSlice(ctx context.Context, ds *dataset.Dataset) error {
	exists, err := e.target.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return e.appendSlice(ctx, ds)
	}
	return e.createCube(ctx, ds)
}

// run executes body inside a transaction, rolling back on any failure
// and translating context cancellation. kind labels metrics and logs.
func (e *Engine) run(ctx context.Context, kind txn.Kind,
	lengths map[string]int, body func(tx *txn.Transaction) error) error {

	timer := e.rec.StartTransaction(string(kind))
	tx, err := txn.Begin(ctx, e.tempDir, e.target, kind, lengths,
		e.cfg.DisableRollback, e.log)
	if err != nil {
		return err
	}

	if err := body(tx); err != nil {
		if ctx.Err() != nil && !errors.IsType(err, errors.ErrorTypeCancelled) {
			err = errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "transaction cancelled")
		}
		e.log.Warn("transaction failed; rolling back",
			zap.String("id", tx.ID()), zap.Error(err))
		rollbackErrs := tx.Rollback(ctx)
		e.rec.RollbackApplied()
		e.rec.SliceProcessed(string(kind), "rolled_back")
		return errors.AttachNotes(err, txn.Notes(rollbackErrs)...)
	}

	if err := tx.Commit(ctx); err != nil {
		// The marker did not become durable, so the pre-state is still
		// restorable.
		rollbackErrs := tx.Rollback(ctx)
		e.rec.RollbackApplied()
		e.rec.SliceProcessed(string(kind), "rolled_back")
		return errors.AttachNotes(err, txn.Notes(rollbackErrs)...)
	}
	e.rec.SliceProcessed(string(kind), "committed")
	timer.Done()
	return nil
}

// createCube materializes a new cube from the first slice.
func (e *Engine) createCube(ctx context.Context, ds *dataset.Dataset) error {
	k, err := schema.Derive(e.cfg, ds)
	if err != nil {
		return err
	}
	if err := k.ValidateSlice(k.Tailor(ds)); err != nil {
		return err
	}
	coordUnits := e.appendCoordUnits(k)
	if err := k.ValidateStep(nil, e.sliceLabels(ds), coordUnits); err != nil {
		return err
	}
	tailored := k.Tailor(ds)

	e.log.Info("creating cube",
		zap.String("target", e.target.URI()),
		zap.Strings("variables", k.VarNames()))

	return e.run(ctx, txn.KindCreate, nil, func(tx *txn.Transaction) error {
		groupAttrs, err := e.mergeAttrs(tailored.Attrs, nil, true)
		if err != nil {
			return err
		}

		writeDoc := func(obj *fsx.FileObj, doc interface{}) error {
			data, err := zarr.MarshalDoc(doc)
			if err != nil {
				return err
			}
			if err := tx.TrackAdd(ctx, obj); err != nil {
				return err
			}
			return obj.Write(ctx, data, false)
		}

		if err := writeDoc(e.target.Join(zarr.GroupKey), zarr.GroupDoc{ZarrFormat: 2}); err != nil {
			return err
		}

		arrays := map[string]*zarr.Array{}
		for _, name := range k.VarNames() {
			vs := k.Vars[name]
			v := tailored.Vars[name]
			doc, err := arrayDocFor(vs, v.Shape)
			if err != nil {
				return err
			}
			varAttrs := storedVarAttrs(vs)
			arrays[name] = &zarr.Array{Name: name, Doc: *doc, Dims: vs.Dims, Attrs: varAttrs}

			if err := writeDoc(e.target.Join(name, zarr.ArrayKey), doc); err != nil {
				return err
			}
			if err := writeDoc(e.target.Join(name, zarr.AttrsKey), withDimsAttr(varAttrs, vs.Dims)); err != nil {
				return err
			}
			if err := e.writeChunks(ctx, tx, name, v, doc, vs.Packing(), -1, 0, false); err != nil {
				return err
			}
		}

		// Deferred attribute evaluation runs against the in-memory view
		// of the cube just written.
		groupAttrs, err = e.evalAttrs(groupAttrs, tailored)
		if err != nil {
			return err
		}
		if err := writeDoc(e.target.Join(zarr.AttrsKey), groupAttrs); err != nil {
			return err
		}

		consolidated, err := zarr.BuildConsolidated(groupAttrs, arrays)
		if err != nil {
			return err
		}
		consolidatedFile := e.target.Join(zarr.ConsolidatedKey)
		if err := tx.TrackAdd(ctx, consolidatedFile); err != nil {
			return err
		}
		return consolidatedFile.Write(ctx, consolidated, false)
	})
}

// appendSlice extends the cube by one slice.
func (e *Engine) appendSlice(ctx context.Context, ds *dataset.Dataset) error {
	g, err := zarr.OpenGroup(ctx, e.target)
	if err != nil {
		return err
	}
	k, err := schema.FromGroup(e.cfg, g)
	if err != nil {
		return err
	}
	n := g.AppendLength(e.cfg.AppendDim)
	if n < 0 {
		return errors.Newf(errors.ErrorTypeSliceSchema,
			"no variable in the cube declares append dimension %q", e.cfg.AppendDim)
	}

	if err := k.ValidateSlice(k.Tailor(ds)); err != nil {
		return err
	}

	last, units, err := e.lastAppendLabel(ctx, g)
	if err != nil {
		return err
	}
	if err := k.ValidateStep(last, e.sliceLabels(ds), units); err != nil {
		return err
	}

	tailored := k.Tailor(ds)
	lengths := map[string]int{}
	for name, vs := range k.Vars {
		if axis := vs.AppendAxis(k.AppendDim); axis >= 0 {
			lengths[name] = vs.Shape[axis]
		}
	}

	e.log.Info("appending slice",
		zap.String("target", e.target.URI()),
		zap.Int("position", n))

	return e.run(ctx, txn.KindAppend, lengths, func(tx *txn.Transaction) error {
		appendSize := tailored.SizeOf(k.AppendDim)

		for _, name := range k.VarNames() {
			vs := k.Vars[name]
			axis := vs.AppendAxis(k.AppendDim)
			if axis < 0 {
				continue // variable does not grow
			}
			v := tailored.Vars[name]
			arr := g.Arrays[name]

			if n%vs.Chunks[axis] != 0 {
				return errors.Newf(errors.ErrorTypeInternal,
					"variable %q: append length %d is not a multiple of chunk size %d",
					name, n, vs.Chunks[axis])
			}
			chunkOffset := n / vs.Chunks[axis]
			doc := arr.Doc
			doc.Shape = append([]int{}, arr.Doc.Shape...)

			// The slice's chunks are encoded against its own shape; the
			// chunk key offset names them at the cube's end.
			sliceDoc := doc
			sliceDoc.Shape = v.Shape
			if err := e.writeChunks(ctx, tx, name, v, &sliceDoc, vs.Packing(), axis, chunkOffset, false); err != nil {
				return err
			}

			// Extend the stored shape.
			doc.Shape[axis] = n + appendSize
			data, err := zarr.MarshalDoc(&doc)
			if err != nil {
				return err
			}
			arrayFile := e.target.Join(name, zarr.ArrayKey)
			if err := tx.TrackReplace(ctx, arrayFile); err != nil {
				return err
			}
			if err := arrayFile.Write(ctx, data, true); err != nil {
				return err
			}
			arr.Doc.Shape = doc.Shape
		}

		// Group attributes per update mode, then configuration attrs.
		if e.cfg.AttrsUpdateMode != config.AttrsIgnore {
			groupAttrs, err := e.mergeAttrs(g.Attrs, tailored.Attrs, false)
			if err != nil {
				return err
			}
			view, err := e.cubeView(ctx, g)
			if err != nil {
				return err
			}
			groupAttrs, err = e.evalAttrs(groupAttrs, view)
			if err != nil {
				return err
			}
			data, err := zarr.MarshalDoc(groupAttrs)
			if err != nil {
				return err
			}
			attrsFile := e.target.Join(zarr.AttrsKey)
			if err := e.replaceOrAdd(ctx, tx, attrsFile, data); err != nil {
				return err
			}
			g.Attrs = groupAttrs
		}

		// Consolidated metadata, when the cube maintains it.
		consolidatedFile := e.target.Join(zarr.ConsolidatedKey)
		ok, err := consolidatedFile.Exists(ctx)
		if err != nil {
			return err
		}
		if ok {
			consolidated, err := zarr.BuildConsolidated(g.Attrs, g.Arrays)
			if err != nil {
				return err
			}
			if err := tx.TrackReplace(ctx, consolidatedFile); err != nil {
				return err
			}
			if err := consolidatedFile.Write(ctx, consolidated, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeChunks journals and writes the non-empty chunks of one variable.
// Journalling happens sequentially before the writes; the writes
// themselves run concurrently.
func (e *Engine) writeChunks(ctx context.Context, tx *txn.Transaction, name string,
	v *dataset.Variable, doc *zarr.ArrayDoc, packing zarr.Packing,
	appendAxis, chunkOffset int, replace bool) error {

	ops, err := zarr.EncodeChunks(v, doc, packing, appendAxis, chunkOffset)
	if err != nil {
		return err
	}

	written := make([]zarr.ChunkOp, 0, len(ops))
	for _, op := range ops {
		if op.Empty {
			continue // sparse store: all-fill chunks are not written
		}
		if err := tx.TrackAdd(ctx, e.target.Join(name, op.Key)); err != nil {
			return err
		}
		written = append(written, op)
	}

	eg, gctx := errgroup.WithContext(ctx)
	for _, op := range written {
		op := op
		eg.Go(func() error {
			if err := e.target.Join(name, op.Key).Write(gctx, op.Data, replace); err != nil {
				return err
			}
			e.rec.ChunkWritten(len(op.Data))
			return nil
		})
	}
	return eg.Wait()
}

// replaceOrAdd journals an overwrite when the file exists, an addition
// otherwise, then writes.
func (e *Engine) replaceOrAdd(ctx context.Context, tx *txn.Transaction,
	obj *fsx.FileObj, data []byte) error {

	ok, err := obj.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		if err := tx.TrackReplace(ctx, obj); err != nil {
			return err
		}
	} else {
		if err := tx.TrackAdd(ctx, obj); err != nil {
			return err
		}
	}
	return obj.Write(ctx, data, true)
}

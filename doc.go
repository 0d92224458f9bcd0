// Package tessera incrementally constructs and extends a chunked,
// multi-dimensional array store (a cube) by concatenating slice
// datasets along one append dimension.
//
// Each append is a crash-safe transaction: either the slice is fully
// integrated into the cube and all metadata stays consistent, or the
// cube returns to the exact state it had before the operation began.
// Concurrent writers are excluded by a lock file co-located with the
// cube. Local paths, in-memory stores and object stores (s3://, gs://)
// are supported uniformly.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/ajitpratap0/tessera"
//	    "github.com/ajitpratap0/tessera/pkg/config"
//	)
//
//	cfg := config.New()
//	cfg.TargetDir = "sst.cube"
//	cfg.AppendDim = "time"
//
//	err := tessera.Process(context.Background(), cfg,
//	    "slices/day-001.zarr",
//	    "slices/day-002.zarr",
//	)
//
// Slices may be URIs, in-memory datasets (*dataset.Dataset), slice
// sources (slice.Source) or prepared handles (slice.Handle), in any
// combination.
//
// # Key Packages
//
//	pkg/fsx      - Filesystem facade over local, memory, s3 and gs backends
//	pkg/config   - Schema-validated configuration with merge and env substitution
//	pkg/dataset  - In-memory dataset model
//	pkg/zarr     - Chunked array format driver (zarr v2)
//	pkg/schema   - Cube schema derivation and slice validation
//	pkg/slice    - Slice handles, polling acquisition, slice sources
//	pkg/txn      - Transaction journal, rollback and crash recovery
//	pkg/lock     - Single-writer exclusion
//	pkg/attrs    - Post-commit attribute expression evaluation
//	pkg/errors   - Structured error taxonomy
//	pkg/logger   - Structured logging
//	pkg/metrics  - Prometheus collectors, gated by profiling config
package tessera

package tessera

import (
	"context"

	"github.com/ajitpratap0/tessera/internal/processor"
	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/logger"
	"github.com/ajitpratap0/tessera/pkg/slice"
)

// Process appends the given slices to the configured target cube, in
// order, creating the cube from the first slice if it does not exist.
//
// Each slice is one of:
//   - string: a path or URI of a stored slice
//   - *dataset.Dataset: an in-memory slice
//   - slice.Source: a source with a scoped lifetime
//   - slice.Handle: a prepared handle
//
// When the configuration names a slice_source, string slices are routed
// through the registered source factory instead of being opened as
// paths.
func Process(ctx context.Context, cfg *config.Config, slices ...interface{}) error {
	handles, err := MakeHandles(cfg, slices...)
	if err != nil {
		return err
	}

	log := logger.Get()
	p, err := processor.New(cfg, log)
	if err != nil {
		return err
	}
	return p.Process(ctx, handles)
}

// MakeHandles converts mixed slice inputs into handles.
func MakeHandles(cfg *config.Config, slices ...interface{}) ([]slice.Handle, error) {
	handles := make([]slice.Handle, 0, len(slices))
	for _, s := range slices {
		switch v := s.(type) {
		case slice.Handle:
			handles = append(handles, v)
		case string:
			if cfg.SliceSource != "" {
				src, err := slice.NewSource(cfg.SliceSource, v, cfg.SliceSourceKwargs)
				if err != nil {
					return nil, err
				}
				handles = append(handles, slice.SourceHandle{Source: src, Name: v})
				continue
			}
			handles = append(handles, slice.PathHandle{
				URI:            v,
				StorageOptions: cfg.SliceStorageOptions,
				Engine:         cfg.SliceEngine,
			})
		case *dataset.Dataset:
			handles = append(handles, slice.MemoryHandle{Dataset: v})
		case slice.Source:
			handles = append(handles, slice.SourceHandle{Source: v})
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"unsupported slice input of type %T", s)
		}
	}
	return handles, nil
}

// Package slice turns abstract slice handles into open datasets. A
// handle is a tagged variant over the supported slice inputs: a path or
// URI, an in-memory dataset, or a user-provided source with a scoped
// lifetime. Acquisition optionally polls path handles for availability
// and optionally persists in-memory slices to a temporary store first.
package slice

import (
	"context"

	"github.com/ajitpratap0/tessera/pkg/dataset"
)

// Handle identifies one slice input.
type Handle interface {
	// Label names the slice in logs and error reports.
	Label() string
}

// PathHandle is a slice stored at a URI.
type PathHandle struct {
	URI            string
	StorageOptions map[string]string
	Engine         string
}

// Label implements Handle.
func (h PathHandle) Label() string { return h.URI }

// MemoryHandle is a slice already loaded in memory.
type MemoryHandle struct {
	Dataset *dataset.Dataset
	Name    string
}

// Label implements Handle.
func (h MemoryHandle) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return "<memory>"
}

// Source yields a dataset with a scoped lifetime: Close runs on every
// control-flow exit, whether acquisition succeeded, failed, or was
// cancelled.
type Source interface {
	Open(ctx context.Context) (*dataset.Dataset, error)
	Close() error
}

// SourceHandle wraps a user-provided source.
type SourceHandle struct {
	Source Source
	Name   string
}

// Label implements Handle.
func (h SourceHandle) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return "<source>"
}

// SourceFunc adapts a factory function to Source; Close is a no-op.
type SourceFunc func(ctx context.Context) (*dataset.Dataset, error)

// Open implements Source.
func (f SourceFunc) Open(ctx context.Context) (*dataset.Dataset, error) { return f(ctx) }

// Close implements Source.
func (f SourceFunc) Close() error { return nil }

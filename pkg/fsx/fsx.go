// Package fsx provides a uniform filesystem facade over local, in-memory,
// and object-store backends, addressed by URI.
//
// All operations take a context and return structured errors of type
// errors.ErrorTypeIO with the failing operation and path attached. The
// facade never retries internally; polling and lock waits live with their
// callers.
//
// Backends differ in one capability that matters to the transaction
// engine: whether Move is atomic. Local rename is; object-store moves are
// copy+delete and are not. Callers query AtomicMove before deciding how to
// journal a replacement.
package fsx

import (
	"context"
	"sort"
	"strings"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// FS is the capability set the core consumes over a single backend.
// Paths are slash-separated and relative to the backend root.
type FS interface {
	// Protocol returns the URI scheme this backend serves ("file",
	// "memory", "s3", "gs").
	Protocol() string

	// AtomicMove reports whether Move is a single atomic operation.
	AtomicMove() bool

	// Exists reports whether path exists as a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether path exists and is a directory (or a key
	// prefix, on object stores).
	IsDir(ctx context.Context, path string) (bool, error)

	// List returns the sorted names of the immediate children of path.
	List(ctx context.Context, path string) ([]string, error)

	// Read returns the full contents of the file at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path. With overwrite false the write fails if
	// path already exists; on backends that support it this is a single
	// create-if-absent operation (the lock manager depends on that).
	Write(ctx context.Context, path string, data []byte, overwrite bool) error

	// Delete removes path. Directories require recursive true. Deleting a
	// missing path is an error; callers that need idempotence check
	// Exists first.
	Delete(ctx context.Context, path string, recursive bool) error

	// Move renames src to dst, replacing dst if present.
	Move(ctx context.Context, src, dst string) error
}

// ioError builds the uniform operation failure for a backend.
func ioError(op, path string, cause error) *errors.Error {
	return errors.Wrap(cause, errors.ErrorTypeIO, op+" "+path).
		WithDetail("op", op).
		WithDetail("path", path)
}

func ioErrorf(op, path, format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrorTypeIO, format, args...).
		WithDetail("op", op).
		WithDetail("path", path)
}

// NormalizePath collapses repeated separators and trims a trailing slash,
// keeping the path slash-separated. An empty path stays empty.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// SplitParent splits a normalized path into its parent and final
// component. A path with no parent segment yields an empty parent, which
// still addresses the backend root, so a sibling (such as a lock file) is
// always well-defined.
func SplitParent(p string) (parent, name string) {
	p = NormalizePath(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// JoinPath joins path components with single slashes.
func JoinPath(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, strings.Trim(p, "/"))
		}
	}
	joined := strings.Join(nonEmpty, "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "/") {
		joined = "/" + joined
	}
	return joined
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}

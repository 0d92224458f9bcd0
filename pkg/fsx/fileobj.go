package fsx

import (
	"context"
	"strings"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// FileObj addresses a file or directory in some filesystem. It binds a
// URI, the per-URI storage options it was opened with, the resolved
// backend, and the path within that backend. FileObj values are cheap to
// derive from one another and share the underlying backend.
type FileObj struct {
	uri     string
	path    string
	fs      FS
	options map[string]string
}

// New resolves uri to a backend and returns a FileObj for it. Recognized
// schemes are file://, memory://, s3:// and gs://; a URI without a scheme
// is a local path. Storage options are backend-specific (region,
// endpoint, credentials) and apply to this URI only.
func New(uri string, options map[string]string) (*FileObj, error) {
	scheme, rest := SplitScheme(uri)
	factory, ok := backends[scheme]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unsupported URI scheme %q in %q", scheme, uri)
	}
	fs, path, err := factory(rest, options)
	if err != nil {
		return nil, err
	}
	return &FileObj{uri: uri, path: NormalizePath(path), fs: fs, options: options}, nil
}

// NewWithFS builds a FileObj over an already-constructed backend. Used by
// tests and by derived objects.
func NewWithFS(fs FS, path string) *FileObj {
	path = NormalizePath(path)
	uri := path
	if fs.Protocol() != "file" {
		uri = fs.Protocol() + "://" + strings.TrimPrefix(path, "/")
	}
	return &FileObj{uri: uri, path: path, fs: fs}
}

// SplitScheme splits a URI into its scheme and the remainder. A URI
// without "://" has scheme "file".
func SplitScheme(uri string) (scheme, rest string) {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i], uri[i+3:]
	}
	return "file", uri
}

// backendFactory builds a backend from the scheme-stripped URI remainder.
type backendFactory func(rest string, options map[string]string) (FS, string, error)

var backends = map[string]backendFactory{
	"file":   newLocalBackend,
	"memory": newMemoryBackend,
	"s3":     newS3Backend,
	"gs":     newGSBackend,
}

// URI returns the original URI of the object.
func (f *FileObj) URI() string { return f.uri }

// Path returns the path within the backend.
func (f *FileObj) Path() string { return f.path }

// FS returns the resolved backend.
func (f *FileObj) FS() FS { return f.fs }

// Options returns the storage options the object was opened with.
func (f *FileObj) Options() map[string]string { return f.options }

// Name returns the final path component.
func (f *FileObj) Name() string {
	_, name := SplitParent(f.path)
	return name
}

// Parent returns the containing directory. The parent of a root-level
// object addresses the backend root.
func (f *FileObj) Parent() *FileObj {
	parent, _ := SplitParent(f.path)
	return f.derive(parent)
}

// Join returns a child object under f.
func (f *FileObj) Join(parts ...string) *FileObj {
	all := append([]string{f.path}, parts...)
	return f.derive(JoinPath(all...))
}

// Sibling returns an object named name in f's parent directory.
func (f *FileObj) Sibling(name string) *FileObj {
	parent, _ := SplitParent(f.path)
	return f.derive(JoinPath(parent, name))
}

// WithSuffix returns an object whose path is f's path plus suffix. The
// lock file for a target t is t.WithSuffix(".lock").
func (f *FileObj) WithSuffix(suffix string) *FileObj {
	return f.derive(f.path + suffix)
}

func (f *FileObj) derive(path string) *FileObj {
	path = NormalizePath(path)
	uri := path
	if f.fs.Protocol() != "file" {
		uri = f.fs.Protocol() + "://" + strings.TrimPrefix(path, "/")
	}
	return &FileObj{uri: uri, path: path, fs: f.fs, options: f.options}
}

// String implements fmt.Stringer.
func (f *FileObj) String() string { return f.uri }

// Exists reports whether the object exists.
func (f *FileObj) Exists(ctx context.Context) (bool, error) {
	return f.fs.Exists(ctx, f.path)
}

// IsDir reports whether the object is a directory.
func (f *FileObj) IsDir(ctx context.Context) (bool, error) {
	return f.fs.IsDir(ctx, f.path)
}

// List returns the names of the object's immediate children.
func (f *FileObj) List(ctx context.Context) ([]string, error) {
	return f.fs.List(ctx, f.path)
}

// Read returns the object's contents.
func (f *FileObj) Read(ctx context.Context) ([]byte, error) {
	return f.fs.Read(ctx, f.path)
}

// Write stores data at the object's path.
func (f *FileObj) Write(ctx context.Context, data []byte, overwrite bool) error {
	return f.fs.Write(ctx, f.path, data, overwrite)
}

// Delete removes the object.
func (f *FileObj) Delete(ctx context.Context, recursive bool) error {
	return f.fs.Delete(ctx, f.path, recursive)
}

// DeleteIfExists removes the object if present; a missing object is not
// an error.
func (f *FileObj) DeleteIfExists(ctx context.Context, recursive bool) error {
	ok, err := f.fs.Exists(ctx, f.path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return f.fs.Delete(ctx, f.path, recursive)
}

// Move renames the object to dst within the same backend.
func (f *FileObj) Move(ctx context.Context, dst *FileObj) error {
	if dst.fs != f.fs {
		return errors.New(errors.ErrorTypeInternal,
			"move across filesystems is not supported")
	}
	return f.fs.Move(ctx, f.path, dst.path)
}

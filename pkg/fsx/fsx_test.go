package fsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

func TestSplitScheme(t *testing.T) {
	tests := []struct {
		uri    string
		scheme string
		rest   string
	}{
		{"s3://bucket/key", "s3", "bucket/key"},
		{"gs://bucket/key", "gs", "bucket/key"},
		{"memory://data/t.cube", "memory", "data/t.cube"},
		{"file:///tmp/t.cube", "file", "/tmp/t.cube"},
		{"/tmp/t.cube", "file", "/tmp/t.cube"},
		{"t.cube", "file", "t.cube"},
	}
	for _, tt := range tests {
		scheme, rest := SplitScheme(tt.uri)
		assert.Equal(t, tt.scheme, scheme, tt.uri)
		assert.Equal(t, tt.rest, rest, tt.uri)
	}
}

func TestSplitParent(t *testing.T) {
	tests := []struct {
		path   string
		parent string
		name   string
	}{
		{"a/b/c", "a/b", "c"},
		{"/a/b", "/a", "b"},
		{"/a", "/", "a"},
		{"t.cube", "", "t.cube"},
	}
	for _, tt := range tests {
		parent, name := SplitParent(tt.path)
		assert.Equal(t, tt.parent, parent, tt.path)
		assert.Equal(t, tt.name, name, tt.path)
	}
}

func TestFileObjDerivation(t *testing.T) {
	fs := NewMemoryFS(true)
	f := NewWithFS(fs, "data/t.cube")

	assert.Equal(t, "t.cube", f.Name())
	assert.Equal(t, "data", f.Parent().Path())
	assert.Equal(t, "data/t.cube/v/.zarray", f.Join("v", ".zarray").Path())
	assert.Equal(t, "data/t.cube.lock", f.WithSuffix(".lock").Path())
	assert.Equal(t, "data/other", f.Sibling("other").Path())

	// A root-level target still has a well-defined lock sibling.
	root := NewWithFS(fs, "t.cube")
	assert.Equal(t, "t.cube.lock", root.WithSuffix(".lock").Path())
}

// backendContract exercises the FS contract shared by all backends.
func backendContract(t *testing.T, fs FS, root string) {
	ctx := context.Background()
	join := func(parts ...string) string { return JoinPath(append([]string{root}, parts...)...) }

	ok, err := fs.Exists(ctx, join("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.Write(ctx, join("dir", "a.txt"), []byte("alpha"), true))
	require.NoError(t, fs.Write(ctx, join("dir", "b.txt"), []byte("beta"), true))
	require.NoError(t, fs.Write(ctx, join("dir", "sub", "c.txt"), []byte("gamma"), true))

	ok, err = fs.Exists(ctx, join("dir", "a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	isDir, err := fs.IsDir(ctx, join("dir"))
	require.NoError(t, err)
	assert.True(t, isDir)

	isDir, err = fs.IsDir(ctx, join("dir", "a.txt"))
	require.NoError(t, err)
	assert.False(t, isDir)

	names, err := fs.List(ctx, join("dir"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "sub"}, names)

	data, err := fs.Read(ctx, join("dir", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	// Create-if-absent refuses to clobber.
	err = fs.Write(ctx, join("dir", "a.txt"), []byte("clobber"), false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIO))
	data, err = fs.Read(ctx, join("dir", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	// Move replaces the destination.
	require.NoError(t, fs.Move(ctx, join("dir", "b.txt"), join("dir", "a.txt")))
	data, err = fs.Read(ctx, join("dir", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), data)
	ok, err = fs.Exists(ctx, join("dir", "b.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Non-recursive delete of a file.
	require.NoError(t, fs.Delete(ctx, join("dir", "a.txt"), false))

	// Recursive delete of the tree.
	require.NoError(t, fs.Delete(ctx, join("dir"), true))
	ok, err = fs.Exists(ctx, join("dir", "sub", "c.txt"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing path fails.
	err = fs.Delete(ctx, join("gone"), false)
	require.Error(t, err)
}

func TestLocalBackend(t *testing.T) {
	fs, root, err := newLocalBackend(filepath.ToSlash(t.TempDir()), nil)
	require.NoError(t, err)
	assert.True(t, fs.AtomicMove())
	backendContract(t, fs, root)
}

func TestMemoryBackend(t *testing.T) {
	backendContract(t, NewMemoryFS(true), "store")
}

func TestMemoryBackendMoveSemantics(t *testing.T) {
	assert.True(t, NewMemoryFS(true).AtomicMove())
	assert.False(t, NewMemoryFS(false).AtomicMove())
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New("ftp://host/path", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

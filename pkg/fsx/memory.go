package fsx

import (
	"context"
	"strings"
	"sync"
)

// memoryFS is a process-global in-memory filesystem keyed by path.
// Directories are implicit: a path is a directory when some file lives
// under it. The backend exists for tests and for callers that stage
// slices in memory before persisting them.
//
// The storage option "atomic_move" (default "true") lets tests model an
// object store whose move is copy+delete.
type memoryFS struct {
	mu    sync.RWMutex
	files map[string][]byte
	// explicit directories created by Write of a zero-length ".dir" are
	// not needed; List/Exists treat prefixes as directories.
	atomicMove bool
}

var (
	memOnce   sync.Once
	memShared *memoryFS
)

func sharedMemory() *memoryFS {
	memOnce.Do(func() {
		memShared = &memoryFS{files: map[string][]byte{}, atomicMove: true}
	})
	return memShared
}

func newMemoryBackend(rest string, options map[string]string) (FS, string, error) {
	fs := sharedMemory()
	if options["atomic_move"] == "false" {
		// Wrap rather than mutate: other URIs may share the store.
		return &memoryView{memoryFS: fs, atomic: false}, rest, nil
	}
	return &memoryView{memoryFS: fs, atomic: true}, rest, nil
}

// NewMemoryFS returns a fresh, private in-memory filesystem. Tests use
// this to stay hermetic; atomic controls what AtomicMove reports.
func NewMemoryFS(atomic bool) FS {
	return &memoryView{
		memoryFS: &memoryFS{files: map[string][]byte{}, atomicMove: true},
		atomic:   atomic,
	}
}

// memoryView binds move semantics to a shared store.
type memoryView struct {
	*memoryFS
	atomic bool
}

func (v *memoryView) Protocol() string { return "memory" }

func (v *memoryView) AtomicMove() bool { return v.atomic }

func (m *memoryFS) isDirLocked(path string) bool {
	if path == "" || path == "/" {
		return true
	}
	prefix := path + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (v *memoryView) Exists(_ context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, ok := v.files[path]; ok {
		return true, nil
	}
	return v.isDirLocked(path), nil
}

func (v *memoryView) IsDir(_ context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, ok := v.files[path]; ok {
		return false, nil
	}
	return v.isDirLocked(path), nil
}

func (v *memoryView) List(_ context.Context, path string) ([]string, error) {
	path = NormalizePath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, ok := v.files[path]; ok {
		return nil, ioErrorf("list", path, "not a directory: %s", path)
	}
	if !v.isDirLocked(path) && path != "" {
		return nil, ioErrorf("list", path, "no such directory: %s", path)
	}
	prefix := ""
	if path != "" && path != "/" {
		prefix = path + "/"
	}
	seen := map[string]bool{}
	for p := range v.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			name = rest[:i]
		}
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return sortedNames(names), nil
}

func (v *memoryView) Read(_ context.Context, path string) ([]byte, error) {
	path = NormalizePath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	data, ok := v.files[path]
	if !ok {
		return nil, ioErrorf("read", path, "no such file: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (v *memoryView) Write(_ context.Context, path string, data []byte, overwrite bool) error {
	path = NormalizePath(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if !overwrite {
		if _, ok := v.files[path]; ok {
			return ioErrorf("write", path, "path already exists: %s", path).
				WithDetail("exists", true)
		}
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	v.files[path] = stored
	return nil
}

func (v *memoryView) Delete(_ context.Context, path string, recursive bool) error {
	path = NormalizePath(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.files[path]; ok {
		delete(v.files, path)
		return nil
	}
	if !v.isDirLocked(path) {
		return ioErrorf("delete", path, "no such path: %s", path)
	}
	if !recursive {
		return ioErrorf("delete", path, "is a directory: %s", path)
	}
	prefix := path + "/"
	for p := range v.files {
		if strings.HasPrefix(p, prefix) {
			delete(v.files, p)
		}
	}
	return nil
}

func (v *memoryView) Move(_ context.Context, src, dst string) error {
	src = NormalizePath(src)
	dst = NormalizePath(dst)
	v.mu.Lock()
	defer v.mu.Unlock()
	if data, ok := v.files[src]; ok {
		v.files[dst] = data
		delete(v.files, src)
		return nil
	}
	if !v.isDirLocked(src) {
		return ioErrorf("move", src, "no such path: %s", src)
	}
	prefix := src + "/"
	for p, data := range v.files {
		if strings.HasPrefix(p, prefix) {
			v.files[dst+"/"+strings.TrimPrefix(p, prefix)] = data
			delete(v.files, p)
		}
	}
	return nil
}

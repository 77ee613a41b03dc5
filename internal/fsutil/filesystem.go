// Package fsutil provides the filesystem abstraction used by the frame log
// and the sequence exporter, with an in-memory implementation for tests.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem is the subset of file operations the storage packages use.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)
	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	// MkdirAll creates a directory and all missing parents.
	MkdirAll(path string, perm os.FileMode) error
	// RemoveAll removes path and everything below it.
	RemoveAll(path string) error
	// Exists reports whether a file or directory exists at name.
	Exists(name string) bool
	// ReadDir returns the sorted names of the entries directly inside dir.
	ReadDir(dir string) ([]string, error)
}

// OSFileSystem implements FileSystem on the host filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (fs.File, error)            { return os.Open(name) }
func (OSFileSystem) Create(name string) (io.WriteCloser, error)   { return os.Create(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)         { return os.ReadFile(name) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFileSystem) RemoveAll(path string) error                  { return os.RemoveAll(path) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (OSFileSystem) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// MemoryFileSystem is a FileSystem held in memory. Writing a file creates
// its parent directories. It is safe for concurrent use.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem returns an empty MemoryFileSystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	data, err := m.ReadFile(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memReader{name: filepath.Base(name), data: data}, nil
}

// Create truncates name immediately; written data becomes visible on Close.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	name = filepath.Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = nil
	m.addParents(name)
	return &memWriter{fs: m, name: name}, nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	m.put(filepath.Clean(name), append([]byte(nil), data...))
	return nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	path = filepath.Clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	m.addParents(path)
	return nil
}

func (m *MemoryFileSystem) RemoveAll(path string) error {
	path = filepath.Clean(path)
	below := func(p string) bool { return p == path || strings.HasPrefix(p, path+"/") }
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.files {
		if below(name) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if below(name) {
			delete(m.dirs, name)
		}
	}
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok || m.dirs[name]
}

func (m *MemoryFileSystem) ReadDir(dir string) ([]string, error) {
	dir = filepath.Clean(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for _, set := range []map[string]bool{m.fileSet(), m.dirs} {
		for p := range set {
			if p != dir && filepath.Dir(p) == dir {
				names = append(names, filepath.Base(p))
			}
		}
	}
	if len(names) == 0 && !m.dirs[dir] {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}
	sort.Strings(names)
	return names, nil
}

// Files returns the number of files stored.
func (m *MemoryFileSystem) Files() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func (m *MemoryFileSystem) put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
	m.addParents(name)
}

func (m *MemoryFileSystem) fileSet() map[string]bool {
	set := make(map[string]bool, len(m.files))
	for name := range m.files {
		set[name] = true
	}
	return set
}

// addParents marks every ancestor of name as a directory. Callers hold mu.
func (m *MemoryFileSystem) addParents(name string) {
	for p := filepath.Dir(name); p != "." && p != "/" && p != name; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
}

type memReader struct {
	name string
	data []byte
	off  int
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func (r *memReader) Close() error { return nil }

func (r *memReader) Stat() (fs.FileInfo, error) {
	return memInfo{name: r.name, size: int64(len(r.data))}, nil
}

type memWriter struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.fs.put(w.name, w.buf)
	return nil
}

type memInfo struct {
	name string
	size int64
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return 0o644 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }

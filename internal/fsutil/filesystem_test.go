package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryFileSystem_WriteRead(t *testing.T) {
	m := NewMemoryFileSystem()
	data := []byte("frame")
	if err := m.WriteFile("/log/header.json", data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data[0] = 'X'

	got, err := m.ReadFile("/log/header.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "frame" {
		t.Errorf("ReadFile = %q, want %q", got, "frame")
	}
	got[0] = 'Y'
	again, _ := m.ReadFile("/log/header.json")
	if string(again) != "frame" {
		t.Errorf("ReadFile returned shared storage: %q", again)
	}
	if !m.Exists("/log") {
		t.Error("parent directory was not created")
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("/a/b/chunk_0000.cbor")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := io.WriteString(w, "hello "); err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "world"); err != nil {
		t.Fatal(err)
	}

	if got, _ := m.ReadFile("/a/b/chunk_0000.cbor"); len(got) != 0 {
		t.Errorf("data visible before Close: %q", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := m.Open("/a/b/chunk_0000.cbor")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("content = %q", got)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Name() != "chunk_0000.cbor" || info.Size() != 11 || info.IsDir() {
		t.Errorf("Stat = %s %d %v", info.Name(), info.Size(), info.IsDir())
	}
	if m.Files() != 1 {
		t.Errorf("Files = %d, want 1", m.Files())
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.Open("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open = %v, want ErrNotExist", err)
	}
	if _, err := m.ReadFile("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile = %v, want ErrNotExist", err)
	}
	if m.Exists("/nope") {
		t.Error("Exists(/nope) = true")
	}
}

func TestMemoryFileSystem_RemoveAll(t *testing.T) {
	m := NewMemoryFileSystem()
	for _, name := range []string{"/exp/a/a.1.fits", "/exp/a/a.2.fits", "/exp/ab/ab.1.fits"} {
		if err := m.WriteFile(name, []byte{1}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.RemoveAll("/exp/a"); err != nil {
		t.Fatal(err)
	}
	if m.Exists("/exp/a") || m.Exists("/exp/a/a.1.fits") {
		t.Error("RemoveAll left entries behind")
	}
	if !m.Exists("/exp/ab/ab.1.fits") {
		t.Error("RemoveAll removed a sibling with a shared prefix")
	}
	if err := m.RemoveAll("/missing"); err != nil {
		t.Errorf("RemoveAll(missing) = %v", err)
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.WriteFile("/x/./y/../f.txt", []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.Exists("/x/f.txt") {
		t.Error("cleaned path not found")
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("/exp/id/id.00002.fits", nil, 0o644)
	m.WriteFile("/exp/id/id.00001.fits", nil, 0o644)
	m.WriteFile("/exp/id/calibrationTransform.xfm", nil, 0o644)
	m.WriteFile("/exp/id/sub/deep.fits", nil, 0o644)

	got, err := m.ReadDir("/exp/id")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := []string{"calibrationTransform.xfm", "id.00001.fits", "id.00002.fits", "sub"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryFileSystem_ReadDirEmptyAndMissing(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/empty", 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadDir("/empty")
	if err != nil || len(got) != 0 {
		t.Errorf("ReadDir(empty) = %v, %v", got, err)
	}
	if _, err := m.ReadDir("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir(missing) = %v, want ErrNotExist", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")

	if err := fsys.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	w, err := fsys.Create(filepath.Join(sub, "f.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	io.WriteString(w, "abc")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile(filepath.Join(sub, "g.bin"), []byte("xyz"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := fsys.Open(filepath.Join(sub, "f.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(f)
	f.Close()
	if string(got) != "abc" {
		t.Errorf("content = %q", got)
	}
	if data, err := fsys.ReadFile(filepath.Join(sub, "g.bin")); err != nil || string(data) != "xyz" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	names, err := fsys.ReadDir(sub)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if diff := cmp.Diff([]string{"f.bin", "g.bin"}, names); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}

	if err := fsys.RemoveAll(filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	if fsys.Exists(sub) {
		t.Error("RemoveAll left the directory")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("RemoveAll removed the parent: %v", err)
	}
}

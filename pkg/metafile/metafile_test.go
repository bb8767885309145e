package metafile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/polydawn/refmt/obj/atlas"
)

type testContent struct {
	Name  string   `refmt:"name"`
	Count int64    `refmt:"count"`
	Paths []string `refmt:"paths"`
}

var testAtlas = atlas.MustBuild(
	atlas.BuildEntry(testContent{}).StructMap().Autogenerate().Complete(),
)

func TestWriteAndRead(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "state")

	// 1. Write
	in := testContent{Name: "default", Count: 42, Paths: []string{"a", "b/c"}}
	if err := Write(path, &in, testAtlas); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	// 2. Read
	var out testContent
	if err := Read(path, &out, testAtlas); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Paths) != 2 || out.Paths[1] != "b/c" {
		t.Errorf("expected %+v, but got %+v", in, out)
	}

	// 3. No temp files left behind.
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the state file, but got %d entries", len(entries))
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	if err := Write(path, &testContent{Name: "old"}, testAtlas); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := Write(path, &testContent{Name: "new"}, testAtlas); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	var out testContent
	if err := Read(path, &out, testAtlas); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if out.Name != "new" {
		t.Errorf("expected name %q, but got %q", "new", out.Name)
	}
}

func TestReadNonExistent(t *testing.T) {
	var out testContent
	err := Read(filepath.Join(t.TempDir(), "missing"), &out, testAtlas)
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, but got %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(path, []byte("not zstd"), 0644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}
	var out testContent
	err := Read(path, &out, testAtlas)
	var metaErr *Error
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected a *metafile.Error, but got %v", err)
	}
	if metaErr.Op != OpDecode {
		t.Errorf("expected op %q, but got %q", OpDecode, metaErr.Op)
	}
}

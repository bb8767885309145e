package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

func TestChain(t *testing.T) {
	root := Empty().Chain(repopath.Root, []byte("# comment\n*.log\r\n\nbuild/\n"))
	sub := root.Chain("sub", []byte("!keep.log\nlocal.txt\n"))

	testCases := []struct {
		name     string
		file     *File
		path     repopath.Path
		isDir    bool
		expected bool
	}{
		{"log at root", root, "x.log", false, true},
		{"log in dir", root, "a/b/x.log", false, true},
		{"plain file", root, "x.txt", false, false},
		{"dir pattern on dir", root, "build", true, true},
		{"dir pattern on file", root, "build", false, false},
		{"below ignored dir", root, "build/out.bin", false, true},
		{"negation in subdir", sub, "sub/keep.log", false, false},
		{"negation does not leak", sub, "other/keep.log", false, true},
		{"subdir rule scoped", sub, "local.txt", false, false},
		{"subdir rule applies", sub, "sub/local.txt", false, true},
		{"comment is not a rule", root, "# comment", false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.file.Matches(tc.path, tc.isDir); got != tc.expected {
				t.Errorf("expected %v for %q, but got %v", tc.expected, tc.path, got)
			}
		})
	}
}

func TestChainWithFile(t *testing.T) {
	dir := t.TempDir()

	f, err := Empty().ChainWithFile(repopath.Root, filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("expected missing ignore file to be ignored, but got: %v", err)
	}
	if !f.IsEmpty() {
		t.Error("expected an empty chain")
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("*.tmp\n"), 0644); err != nil {
		t.Fatalf("failed to write ignore file: %v", err)
	}
	f, err = Empty().ChainWithFile(repopath.Root, filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !f.Matches("a.tmp", false) {
		t.Error("expected a.tmp to be ignored")
	}

	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(filepath.Join(nested, FileName), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if _, err := f.ChainWithFile("nested", filepath.Join(nested, FileName)); err != nil {
		t.Errorf("expected a directory named %s to be skipped, but got: %v", FileName, err)
	}
}

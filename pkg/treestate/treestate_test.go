package treestate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/filestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

func newTestState(t *testing.T, mutate func(*Settings)) (*TreeState, string) {
	t.Helper()
	s, err := store.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	settings := DefaultSettings()
	settings.Workers = 4
	settings.CheckInvariants = true
	if mutate != nil {
		mutate(&settings)
	}
	root := t.TempDir()
	ts, err := Init(s, root, t.TempDir(), settings)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return ts, root
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readDiskFile(t *testing.T, root, p string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", p, err)
	}
	return string(data)
}

func fileValue(t *testing.T, s store.Store, p repopath.Path, content string) store.TreeValue {
	t.Helper()
	id, err := s.WriteFile(context.Background(), p, strings.NewReader(content))
	if err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return store.FileValue(id, false)
}

func buildTree(t *testing.T, s store.Store, files map[string]string) *mergedtree.MergedTree {
	t.Helper()
	b := mergedtree.NewTreeBuilder(s, merge.Resolved(s.EmptyTreeID()))
	for p, content := range files {
		path := repopath.MustParse(p)
		b.SetResolved(path, fileValue(t, s, path, content))
	}
	tree, err := b.WriteTree(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to write tree: %v", err)
	}
	return tree
}

func treePaths(t *testing.T, tree *mergedtree.MergedTree) []repopath.Path {
	t.Helper()
	entries, err := tree.Entries(context.Background(), matchers.Everything{})
	if err != nil {
		t.Fatalf("failed to list tree: %v", err)
	}
	out := make([]repopath.Path, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func readTreeFile(t *testing.T, tree *mergedtree.MergedTree, p repopath.Path) string {
	t.Helper()
	ctx := context.Background()
	v, err := tree.PathValue(ctx, p)
	if err != nil {
		t.Fatalf("failed to look up %s: %v", p, err)
	}
	r, ok := v.AsResolved()
	if !ok || r.Kind != store.KindFile {
		t.Fatalf("expected %s to be a resolved file, but got %v", p, v)
	}
	rc, err := tree.Store().ReadFile(ctx, p, r.ID)
	if err != nil {
		t.Fatalf("failed to read %s: %v", p, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func snapshot(t *testing.T, ts *TreeState, opts SnapshotOptions) (bool, SnapshotStats) {
	t.Helper()
	dirty, stats, err := ts.Snapshot(context.Background(), opts)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	return dirty, stats
}

func TestSnapshot_Idempotent(t *testing.T) {
	ts, root := newTestState(t, nil)
	files := map[string]string{
		"a.txt":         "a\n",
		"dir/b.txt":     "b\n",
		"dir/sub/c.txt": "c\n",
	}
	// A directory large enough to be split across workers.
	for i := range 250 {
		files[fmt.Sprintf("big/f%03d", i)] = fmt.Sprintf("%d\n", i)
	}
	writeFiles(t, root, files)

	dirty, stats := snapshot(t, ts, SnapshotOptions{})
	if !dirty {
		t.Error("expected the first snapshot to be dirty")
	}
	if len(stats.UntrackedPaths) != 0 {
		t.Errorf("expected no untracked paths, but got %v", stats.UntrackedPaths)
	}
	if got := len(treePaths(t, ts.CurrentTree())); got != len(files) {
		t.Errorf("expected %d tree entries, but got %d", len(files), got)
	}
	if got := ts.FileStates().Len(); got != len(files) {
		t.Errorf("expected %d file states, but got %d", len(files), got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "dir/sub/c.txt"); got != "c\n" {
		t.Errorf("expected %q, but got %q", "c\n", got)
	}

	first := ts.CurrentTree()
	dirty, _ = snapshot(t, ts, SnapshotOptions{})
	if dirty {
		t.Error("expected a second snapshot without changes to be clean")
	}
	if !ts.CurrentTree().Equal(first) {
		t.Errorf("expected tree %v, but got %v", first, ts.CurrentTree())
	}
}

func TestSnapshot_ModifiedAndDeleted(t *testing.T) {
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"keep": "1", "change": "old", "gone/deep/file": "x"})
	snapshot(t, ts, SnapshotOptions{})

	writeFiles(t, root, map[string]string{"change": "new content"})
	if err := os.RemoveAll(filepath.Join(root, "gone")); err != nil {
		t.Fatal(err)
	}
	dirty, _ := snapshot(t, ts, SnapshotOptions{})
	if !dirty {
		t.Fatal("expected the snapshot to be dirty")
	}
	expected := []repopath.Path{"change", "keep"}
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, expected) {
		t.Errorf("expected %v, but got %v", expected, got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "change"); got != "new content" {
		t.Errorf("expected %q, but got %q", "new content", got)
	}
	if _, ok := ts.FileStates().Get("gone/deep/file"); ok {
		t.Error("expected the deleted file state to be dropped")
	}
}

func TestSnapshot_UntrackedReasons(t *testing.T) {
	t.Run("Too Large And Ignored", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		writeFiles(t, root, map[string]string{
			".gitignore":  "*.log\n",
			"huge.bin":    strings.Repeat("x", 100),
			"ignored.log": "noise",
			"small.txt":   "ok",
		})
		_, stats := snapshot(t, ts, SnapshotOptions{MaxNewFileSize: 10})

		if len(stats.UntrackedPaths) != 1 {
			t.Fatalf("expected exactly one untracked path, but got %v", stats.UntrackedPaths)
		}
		reason, ok := stats.UntrackedPaths["huge.bin"]
		if !ok {
			t.Fatalf("expected huge.bin to be untracked, but got %v", stats.UntrackedPaths)
		}
		expected := UntrackedReason{Kind: UntrackedFileTooLarge, Size: 100, MaxSize: 10}
		if reason != expected {
			t.Errorf("expected %+v, but got %+v", expected, reason)
		}
		expectedPaths := []repopath.Path{".gitignore", "small.txt"}
		if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, expectedPaths) {
			t.Errorf("expected %v, but got %v", expectedPaths, got)
		}
	})

	t.Run("Force Tracking", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		writeFiles(t, root, map[string]string{
			".gitignore":  "*.log\n",
			"huge.bin":    strings.Repeat("x", 100),
			"ignored.log": "noise",
		})
		_, stats := snapshot(t, ts, SnapshotOptions{
			MaxNewFileSize:       10,
			ForceTrackingMatcher: matchers.NewFiles("huge.bin", "ignored.log"),
		})
		if len(stats.UntrackedPaths) != 0 {
			t.Errorf("expected no untracked paths, but got %v", stats.UntrackedPaths)
		}
		expected := []repopath.Path{".gitignore", "huge.bin", "ignored.log"}
		if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, expected) {
			t.Errorf("expected %v, but got %v", expected, got)
		}
	})

	t.Run("Not Auto Tracked", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		writeFiles(t, root, map[string]string{"new.txt": "n"})
		_, stats := snapshot(t, ts, SnapshotOptions{StartTrackingMatcher: matchers.Nothing{}})
		if reason := stats.UntrackedPaths["new.txt"]; reason.Kind != UntrackedFileNotAutoTracked {
			t.Errorf("expected new.txt to be not auto-tracked, but got %v", stats.UntrackedPaths)
		}
		if paths := treePaths(t, ts.CurrentTree()); len(paths) != 0 {
			t.Errorf("expected an empty tree, but got %v", paths)
		}
	})

	t.Run("Tracked Files Ignore Limits", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		writeFiles(t, root, map[string]string{"grow.txt": "s"})
		snapshot(t, ts, SnapshotOptions{MaxNewFileSize: 10})
		writeFiles(t, root, map[string]string{"grow.txt": strings.Repeat("y", 50)})
		_, stats := snapshot(t, ts, SnapshotOptions{MaxNewFileSize: 10, StartTrackingMatcher: matchers.Nothing{}})
		if len(stats.UntrackedPaths) != 0 {
			t.Errorf("expected no untracked paths, but got %v", stats.UntrackedPaths)
		}
		if got := readTreeFile(t, ts.CurrentTree(), "grow.txt"); len(got) != 50 {
			t.Errorf("expected the grown content, but got %q", got)
		}
	})
}

func TestSnapshot_IgnoredDirectoryKeepsTrackedFiles(t *testing.T) {
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"build/out.txt": "v1"})
	snapshot(t, ts, SnapshotOptions{})

	writeFiles(t, root, map[string]string{
		".gitignore":    "build/\n",
		"build/out.txt": "v2",
		"build/new.txt": "untracked",
	})
	snapshot(t, ts, SnapshotOptions{})

	expected := []repopath.Path{".gitignore", "build/out.txt"}
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, expected) {
		t.Errorf("expected %v, but got %v", expected, got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "build/out.txt"); got != "v2" {
		t.Errorf("expected %q, but got %q", "v2", got)
	}
}

func TestSnapshot_SkipsNestedRepositories(t *testing.T) {
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{
		"top.txt":             "t",
		"nested/.git/HEAD":    "ref",
		"nested/file.txt":     "n",
		".jj/working_copy/xx": "state",
	})
	snapshot(t, ts, SnapshotOptions{})
	expected := []repopath.Path{"top.txt"}
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, expected) {
		t.Errorf("expected %v, but got %v", expected, got)
	}
}

func TestSnapshot_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"target.txt": "t"})
	if err := os.Symlink("target.txt", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}
	snapshot(t, ts, SnapshotOptions{})

	ctx := context.Background()
	v, err := ts.CurrentTree().PathValue(ctx, "link")
	if err != nil {
		t.Fatal(err)
	}
	r, ok := v.AsResolved()
	if !ok || r.Kind != store.KindSymlink {
		t.Fatalf("expected a symlink, but got %v", v)
	}
	target, err := ts.store.ReadSymlink(ctx, "link", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if target != "target.txt" {
		t.Errorf("expected target %q, but got %q", "target.txt", target)
	}
	if s, _ := ts.FileStates().Get("link"); s.Type != filestate.TypeSymlink {
		t.Errorf("expected a symlink file state, but got %v", s)
	}
}

func TestSnapshot_ExecutableBit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no executable bit on windows")
	}
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"run.sh": "#!/bin/sh\n"})
	if err := os.Chmod(filepath.Join(root, "run.sh"), 0755); err != nil {
		t.Fatal(err)
	}
	snapshot(t, ts, SnapshotOptions{})
	if ts.ExecPolicy().String() != "respect" {
		t.Skipf("filesystem does not keep the executable bit, policy is %s", ts.ExecPolicy())
	}
	v, err := ts.CurrentTree().PathValue(context.Background(), "run.sh")
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := v.AsResolved(); !r.Executable {
		t.Errorf("expected run.sh to be recorded as executable, but got %v", v)
	}
}

func TestCheckOut(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	first := buildTree(t, ts.store, map[string]string{
		"a.txt":         "a",
		"dir/b.txt":     "b",
		"other/only.md": "o",
	})
	stats, err := ts.CheckOut(ctx, first)
	if err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	if stats != (CheckoutStats{AddedFiles: 3}) {
		t.Errorf("expected 3 added files, but got %v", stats)
	}
	if got := readDiskFile(t, root, "dir/b.txt"); got != "b" {
		t.Errorf("expected %q, but got %q", "b", got)
	}

	dirty, _ := snapshot(t, ts, SnapshotOptions{})
	if dirty {
		t.Error("expected a snapshot right after checkout to be clean")
	}

	second := buildTree(t, ts.store, map[string]string{
		"a.txt":     "a2",
		"dir/b.txt": "b",
		"new.txt":   "n",
	})
	stats, err = ts.CheckOut(ctx, second)
	if err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	expected := CheckoutStats{UpdatedFiles: 1, AddedFiles: 1, RemovedFiles: 1}
	if stats != expected {
		t.Errorf("expected %v, but got %v", expected, stats)
	}
	if got := readDiskFile(t, root, "a.txt"); got != "a2" {
		t.Errorf("expected %q, but got %q", "a2", got)
	}
	if _, err := os.Stat(filepath.Join(root, "other")); !os.IsNotExist(err) {
		t.Error("expected the emptied directory to be removed")
	}
	if !ts.CurrentTree().Equal(second) {
		t.Errorf("expected current tree %v, but got %v", second, ts.CurrentTree())
	}
}

func TestCheckOut_SkipsUntrackedFileInTheWay(t *testing.T) {
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"clash.txt": "mine"})
	tree := buildTree(t, ts.store, map[string]string{"clash.txt": "theirs", "ok.txt": "ok"})

	stats, err := ts.CheckOut(context.Background(), tree)
	if err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	if stats.SkippedFiles != 1 || stats.AddedFiles != 2 {
		t.Errorf("expected 2 added with 1 skipped, but got %v", stats)
	}
	if got := readDiskFile(t, root, "clash.txt"); got != "mine" {
		t.Errorf("expected the untracked file to be kept, but got %q", got)
	}
	if s, _ := ts.FileStates().Get("clash.txt"); s != filestate.Placeholder() {
		t.Errorf("expected a placeholder state, but got %v", s)
	}
}

func TestCheckOut_DirectoryInPlaceOfTrackedFile(t *testing.T) {
	ctx := context.Background()
	replaceWithDir := func(t *testing.T, root, name string, withContent bool) {
		t.Helper()
		full := filepath.Join(root, name)
		if err := os.Remove(full); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(full, 0755); err != nil {
			t.Fatal(err)
		}
		if withContent {
			writeFiles(t, root, map[string]string{name + "/inner/keep": "mine"})
		}
	}

	t.Run("Non Empty", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		if _, err := ts.CheckOut(ctx, buildTree(t, ts.store, map[string]string{"a": "one", "ok": "1"})); err != nil {
			t.Fatal(err)
		}
		replaceWithDir(t, root, "a", true)

		second := buildTree(t, ts.store, map[string]string{"a": "two", "ok": "2"})
		stats, err := ts.CheckOut(ctx, second)
		if err != nil {
			t.Fatalf("CheckOut() failed: %v", err)
		}
		expected := CheckoutStats{UpdatedFiles: 2, SkippedFiles: 1}
		if stats != expected {
			t.Errorf("expected %v, but got %v", expected, stats)
		}
		if got := readDiskFile(t, root, "a/inner/keep"); got != "mine" {
			t.Errorf("expected the directory content to be kept, but got %q", got)
		}
		if got := readDiskFile(t, root, "ok"); got != "2" {
			t.Errorf("expected the rest of the checkout to be applied, but got %q", got)
		}
		if s, _ := ts.FileStates().Get("a"); s != filestate.Placeholder() {
			t.Errorf("expected a placeholder state, but got %v", s)
		}

		// The next snapshot records the directory instead of the file.
		dirty, _ := snapshot(t, ts, SnapshotOptions{})
		if !dirty {
			t.Error("expected the snapshot to be dirty")
		}
		if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, []repopath.Path{"a/inner/keep", "ok"}) {
			t.Errorf("expected [a/inner/keep ok], but got %v", got)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		if _, err := ts.CheckOut(ctx, buildTree(t, ts.store, map[string]string{"b": "one"})); err != nil {
			t.Fatal(err)
		}
		replaceWithDir(t, root, "b", false)

		stats, err := ts.CheckOut(ctx, buildTree(t, ts.store, map[string]string{"b": "two"}))
		if err != nil {
			t.Fatalf("CheckOut() failed: %v", err)
		}
		if stats.SkippedFiles != 1 {
			t.Errorf("expected 1 skipped file, but got %v", stats)
		}
		if info, err := os.Stat(filepath.Join(root, "b")); err != nil || !info.IsDir() {
			t.Errorf("expected the empty directory to be kept, but got %v", err)
		}
	})

	t.Run("Removal", func(t *testing.T) {
		ts, root := newTestState(t, nil)
		if _, err := ts.CheckOut(ctx, buildTree(t, ts.store, map[string]string{"c": "one"})); err != nil {
			t.Fatal(err)
		}
		replaceWithDir(t, root, "c", true)

		stats, err := ts.CheckOut(ctx, mergedtree.Empty(ts.store))
		if err != nil {
			t.Fatalf("CheckOut() failed: %v", err)
		}
		if stats != (CheckoutStats{RemovedFiles: 1, SkippedFiles: 1}) {
			t.Errorf("expected 1 removed and skipped file, but got %v", stats)
		}
		if ts.FileStates().Len() != 0 {
			t.Errorf("expected no file states, but got %v", ts.FileStates().Paths())
		}
		if got := readDiskFile(t, root, "c/inner/keep"); got != "mine" {
			t.Errorf("expected the directory content to be kept, but got %q", got)
		}
	})
}

func TestCheckOut_FileDirectoryTransitions(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	asFile := buildTree(t, ts.store, map[string]string{"x": "file", "y/z": "z"})
	asDir := buildTree(t, ts.store, map[string]string{"x/inner": "nested", "y": "flat"})

	for i, target := range []*mergedtree.MergedTree{asFile, asDir, asFile} {
		if _, err := ts.CheckOut(ctx, target); err != nil {
			t.Fatalf("CheckOut() #%d failed: %v", i, err)
		}
		if dirty, _ := snapshot(t, ts, SnapshotOptions{}); dirty {
			t.Errorf("expected a snapshot right after checkout #%d to be clean", i)
		}
		if !ts.CurrentTree().Equal(target) {
			t.Errorf("expected tree %v after checkout #%d, but got %v", target, i, ts.CurrentTree())
		}
	}
	if got := readDiskFile(t, root, "x"); got != "file" {
		t.Errorf("expected %q, but got %q", "file", got)
	}
	if got := readDiskFile(t, root, "y/z"); got != "z" {
		t.Errorf("expected %q, but got %q", "z", got)
	}
}

func TestSnapshot_FileDirectoryTransitions(t *testing.T) {
	ts, root := newTestState(t, nil)
	writeFiles(t, root, map[string]string{"f": "file"})
	snapshot(t, ts, SnapshotOptions{})

	if err := os.Remove(filepath.Join(root, "f")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, root, map[string]string{"f/g": "nested"})
	snapshot(t, ts, SnapshotOptions{})
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, []repopath.Path{"f/g"}) {
		t.Errorf("expected [f/g], but got %v", got)
	}

	if err := os.RemoveAll(filepath.Join(root, "f")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, root, map[string]string{"f": "file again"})
	snapshot(t, ts, SnapshotOptions{})
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, []repopath.Path{"f"}) {
		t.Errorf("expected [f], but got %v", got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "f"); got != "file again" {
		t.Errorf("expected %q, but got %q", "file again", got)
	}
}

func TestCheckOut_SymlinkWithoutSupport(t *testing.T) {
	ts, root := newTestState(t, func(s *Settings) { s.SymlinkSupport = false })
	ctx := context.Background()
	id, err := ts.store.WriteSymlink(ctx, "link", "target.txt")
	if err != nil {
		t.Fatal(err)
	}
	b := mergedtree.NewTreeBuilder(ts.store, merge.Resolved(ts.store.EmptyTreeID()))
	b.SetResolved("link", store.SymlinkValue(id))
	tree, err := b.WriteTree(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ts.CheckOut(ctx, tree); err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	info, err := os.Lstat(filepath.Join(root, "link"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.Mode().IsRegular() {
		t.Errorf("expected a regular file, but got mode %v", info.Mode())
	}
	if got := readDiskFile(t, root, "link"); got != "target.txt" {
		t.Errorf("expected the target as content, but got %q", got)
	}
	if dirty, _ := snapshot(t, ts, SnapshotOptions{}); dirty {
		t.Error("expected the stand-in file to snapshot clean")
	}

	writeFiles(t, root, map[string]string{"link": "other.txt"})
	snapshot(t, ts, SnapshotOptions{})
	v, err := ts.CurrentTree().PathValue(ctx, "link")
	if err != nil {
		t.Fatal(err)
	}
	r, ok := v.AsResolved()
	if !ok || r.Kind != store.KindSymlink {
		t.Fatalf("expected the path to stay a symlink, but got %v", v)
	}
	target, err := ts.store.ReadSymlink(ctx, "link", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if target != "other.txt" {
		t.Errorf("expected target %q, but got %q", "other.txt", target)
	}
}

func TestCheckOut_ReservedPathComponent(t *testing.T) {
	ts, root := newTestState(t, nil)
	tree := buildTree(t, ts.store, map[string]string{"a/.git/x": "evil"})

	_, err := ts.CheckOut(context.Background(), tree)
	var checkoutErr *CheckoutError
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected a CheckoutError, but got %v", err)
	}
	if checkoutErr.Kind != CheckoutReservedPathComponent {
		t.Errorf("expected a reserved path component error, but got kind %v", checkoutErr.Kind)
	}
	if _, err := os.Stat(filepath.Join(root, "a", ".git", "x")); !os.IsNotExist(err) {
		t.Error("expected nothing to be written below .git")
	}
	if ts.CurrentTree().Equal(tree) {
		t.Error("expected the tree to stay unchanged after a failed checkout")
	}
}

func TestCheckOut_ConflictRoundTrip(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	s := ts.store

	base := fileValue(t, s, "f", "base\n")
	left := fileValue(t, s, "f", "left\n")
	right := fileValue(t, s, "f", "right\n")
	b := mergedtree.NewTreeBuilder(s, merge.Resolved(s.EmptyTreeID()))
	b.Set("f", merge.FromRemovesAdds([]store.TreeValue{base}, []store.TreeValue{left, right}))
	b.SetResolved("g", fileValue(t, s, "g", "same\n"))
	tree, err := b.WriteTree(ctx, mergedtree.ConflictLabels{"left", "base", "right"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ts.CheckOut(ctx, tree); err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	content := readDiskFile(t, root, "f")
	if !strings.Contains(content, "<<<<<<<") || !strings.Contains(content, "left") || !strings.Contains(content, "right") {
		t.Errorf("expected conflict markers, but got %q", content)
	}
	state, _ := ts.FileStates().Get("f")
	if state.MarkerLen == 0 {
		t.Error("expected the marker length to be recorded")
	}

	// The untouched conflict parses back to the same value.
	dirty, _ := snapshot(t, ts, SnapshotOptions{})
	if dirty {
		t.Error("expected an untouched conflict to snapshot clean")
	}
	if ts.CurrentTree().IsResolved() {
		t.Fatal("expected the tree to stay conflicted")
	}

	writeFiles(t, root, map[string]string{"f": "resolved\n"})
	snapshot(t, ts, SnapshotOptions{})
	if !ts.CurrentTree().IsResolved() {
		t.Fatalf("expected the resolved tree, but got %v", ts.CurrentTree())
	}
	if got := readTreeFile(t, ts.CurrentTree(), "f"); got != "resolved\n" {
		t.Errorf("expected %q, but got %q", "resolved\n", got)
	}
}

func TestCheckOut_RelabeledConflict(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	s := ts.store

	base := fileValue(t, s, "f", "base\n")
	left := fileValue(t, s, "f", "left\n")
	right := fileValue(t, s, "f", "right\n")
	b := mergedtree.NewTreeBuilder(s, merge.Resolved(s.EmptyTreeID()))
	b.Set("f", merge.FromRemovesAdds([]store.TreeValue{base}, []store.TreeValue{left, right}))
	b.SetResolved("g", fileValue(t, s, "g", "same\n"))
	tree, err := b.WriteTree(ctx, mergedtree.ConflictLabels{"left side", "base side", "right side"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.CheckOut(ctx, tree); err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	if content := readDiskFile(t, root, "f"); !strings.Contains(content, "left side") {
		t.Fatalf("expected the first labels in the markers, but got %q", content)
	}

	relabeled := mergedtree.New(s, tree.IDs(), mergedtree.ConflictLabels{"mine", "ancestor", "theirs"})
	stats, err := ts.CheckOut(ctx, relabeled)
	if err != nil {
		t.Fatalf("CheckOut() failed: %v", err)
	}
	if stats != (CheckoutStats{UpdatedFiles: 1}) {
		t.Errorf("expected only the conflict to be rewritten, but got %v", stats)
	}
	content := readDiskFile(t, root, "f")
	if !strings.Contains(content, "mine") || !strings.Contains(content, "theirs") || strings.Contains(content, "left side") {
		t.Errorf("expected the markers to carry the new labels, but got %q", content)
	}
	if got := readDiskFile(t, root, "g"); got != "same\n" {
		t.Errorf("expected the resolved file to be untouched, but got %q", got)
	}
	if !ts.CurrentTree().Equal(relabeled) {
		t.Error("expected the relabeled tree to be current")
	}
}

func TestSetSparsePatterns(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	tree := buildTree(t, ts.store, map[string]string{"a/1": "1", "a/2": "2", "b/3": "3"})
	if _, err := ts.CheckOut(ctx, tree); err != nil {
		t.Fatal(err)
	}

	stats, err := ts.SetSparsePatterns(ctx, []repopath.Path{"a"})
	if err != nil {
		t.Fatalf("SetSparsePatterns() failed: %v", err)
	}
	if stats != (CheckoutStats{RemovedFiles: 1}) {
		t.Errorf("expected 1 removed file, but got %v", stats)
	}
	if _, err := os.Stat(filepath.Join(root, "b")); !os.IsNotExist(err) {
		t.Error("expected b to be removed from disk")
	}
	if got := ts.FileStates().Paths(); !slices.Equal(got, []repopath.Path{"a/1", "a/2"}) {
		t.Errorf("expected file states for a only, but got %v", got)
	}
	if !ts.CurrentTree().Equal(tree) {
		t.Error("expected the tree to be unchanged")
	}

	// Paths outside the patterns are neither snapshotted nor deleted.
	writeFiles(t, root, map[string]string{"c/new": "x"})
	snapshot(t, ts, SnapshotOptions{})
	if !ts.CurrentTree().Equal(tree) {
		t.Errorf("expected the tree to be unchanged, but got %v", treePaths(t, ts.CurrentTree()))
	}

	stats, err = ts.SetSparsePatterns(ctx, []repopath.Path{repopath.Root})
	if err != nil {
		t.Fatalf("SetSparsePatterns() failed: %v", err)
	}
	if stats != (CheckoutStats{AddedFiles: 1}) {
		t.Errorf("expected 1 added file, but got %v", stats)
	}
	if got := readDiskFile(t, root, "b/3"); got != "3" {
		t.Errorf("expected %q, but got %q", "3", got)
	}
}

func TestSetSparsePatterns_CountsSkippedRemovals(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	tree := buildTree(t, ts.store, map[string]string{"a/1": "1", "b/3": "3"})
	if _, err := ts.CheckOut(ctx, tree); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "b", "3")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, root, map[string]string{"b/3/mine": "x"})

	stats, err := ts.SetSparsePatterns(ctx, []repopath.Path{"a"})
	if err != nil {
		t.Fatalf("SetSparsePatterns() failed: %v", err)
	}
	if stats != (CheckoutStats{RemovedFiles: 1, SkippedFiles: 1}) {
		t.Errorf("expected 1 removed and skipped file, but got %v", stats)
	}
	if got := ts.FileStates().Paths(); !slices.Equal(got, []repopath.Path{"a/1"}) {
		t.Errorf("expected file states for a only, but got %v", got)
	}
	// The skipped path outside the patterns leaves the states consistent.
	snapshot(t, ts, SnapshotOptions{})
}

func TestResetAndRecover(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	writeFiles(t, root, map[string]string{"a": "a", "b": "b"})
	snapshot(t, ts, SnapshotOptions{})

	target := buildTree(t, ts.store, map[string]string{"a": "other", "c": "c"})
	if err := ts.Reset(ctx, target); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if !ts.CurrentTree().Equal(target) {
		t.Error("expected the reset tree to be current")
	}
	if got := readDiskFile(t, root, "a"); got != "a" {
		t.Errorf("expected the disk to be untouched, but got %q", got)
	}
	if s, _ := ts.FileStates().Get("a"); s.MtimeMillis != 0 || s.Size != 0 {
		t.Errorf("expected a zeroed state for a, but got %v", s)
	}
	if _, ok := ts.FileStates().Get("b"); ok {
		t.Error("expected the state of b to be dropped")
	}

	if err := ts.Recover(ctx, target); err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if got := ts.FileStates().Paths(); !slices.Equal(got, []repopath.Path{"a", "c"}) {
		t.Errorf("expected states for a and c, but got %v", got)
	}

	// The next snapshot reads the disk again: a keeps its content, c is gone
	// and b is picked up as new.
	dirty, _ := snapshot(t, ts, SnapshotOptions{})
	if !dirty {
		t.Error("expected the snapshot after recover to be dirty")
	}
	if got := treePaths(t, ts.CurrentTree()); !slices.Equal(got, []repopath.Path{"a", "b"}) {
		t.Errorf("expected [a b], but got %v", got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "a"); got != "a" {
		t.Errorf("expected %q, but got %q", "a", got)
	}
}

func TestSaveAndLoad(t *testing.T) {
	ts, root := newTestState(t, nil)
	ctx := context.Background()
	writeFiles(t, root, map[string]string{"x/y": "1", "z": "2"})
	snapshot(t, ts, SnapshotOptions{})
	if _, err := ts.SetSparsePatterns(ctx, []repopath.Path{"x"}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(ts.store, root, ts.statePath, ts.settings)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !loaded.CurrentTree().Equal(ts.CurrentTree()) {
		t.Errorf("expected tree %v, but got %v", ts.CurrentTree(), loaded.CurrentTree())
	}
	if !slices.Equal(loaded.FileStates().Entries(), ts.FileStates().Entries()) {
		t.Errorf("expected file states %v, but got %v", ts.FileStates().Entries(), loaded.FileStates().Entries())
	}
	if !slices.Equal(loaded.SparsePatterns(), []repopath.Path{"x"}) {
		t.Errorf("expected sparse patterns [x], but got %v", loaded.SparsePatterns())
	}

	t.Run("Missing State Initializes", func(t *testing.T) {
		fresh, err := Load(ts.store, root, t.TempDir(), ts.settings)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if !fresh.CurrentTree().Equal(mergedtree.Empty(ts.store)) {
			t.Error("expected an empty tree")
		}
		if !slices.Equal(fresh.SparsePatterns(), []repopath.Path{repopath.Root}) {
			t.Errorf("expected the root sparse pattern, but got %v", fresh.SparsePatterns())
		}
	})

	t.Run("Corrupt State", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, FileName), []byte("garbage"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(ts.store, root, dir, ts.settings)
		var stateErr *TreeStateError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected a TreeStateError, but got %v", err)
		}
	})
}

type fakeMonitor struct {
	clock   string
	changed []repopath.Path
	err     error
}

func (m *fakeMonitor) Query(ctx context.Context, clock string) (string, []repopath.Path, error) {
	return m.clock, m.changed, m.err
}

func (m *fakeMonitor) Close() error { return nil }

func TestSnapshot_Fsmonitor(t *testing.T) {
	monitor := &fakeMonitor{clock: "c1"}
	ts, root := newTestState(t, func(s *Settings) { s.Monitor = monitor })
	writeFiles(t, root, map[string]string{"seen": "1", "unseen": "1"})

	// A nil change list scans everything.
	snapshot(t, ts, SnapshotOptions{})
	if ts.FsmonitorClock() != "c1" {
		t.Errorf("expected clock c1, but got %q", ts.FsmonitorClock())
	}

	writeFiles(t, root, map[string]string{"seen": "22", "unseen": "22"})
	monitor.clock = "c2"
	monitor.changed = []repopath.Path{"seen"}
	dirty, _ := snapshot(t, ts, SnapshotOptions{})
	if !dirty {
		t.Error("expected a snapshot with a monitor to be dirty")
	}
	if got := readTreeFile(t, ts.CurrentTree(), "seen"); got != "22" {
		t.Errorf("expected the reported change, but got %q", got)
	}
	if got := readTreeFile(t, ts.CurrentTree(), "unseen"); got != "1" {
		t.Errorf("expected the unreported change to be skipped, but got %q", got)
	}

	monitor.clock = "c3"
	monitor.changed = []repopath.Path{}
	snapshot(t, ts, SnapshotOptions{})
	if ts.FsmonitorClock() != "c3" {
		t.Errorf("expected clock c3, but got %q", ts.FsmonitorClock())
	}

	monitor.err = errors.New("watcher died")
	snapshot(t, ts, SnapshotOptions{})
	if got := readTreeFile(t, ts.CurrentTree(), "unseen"); got != "22" {
		t.Errorf("expected a full scan after a monitor failure, but got %q", got)
	}
	if ts.FsmonitorClock() != "" {
		t.Errorf("expected the clock to be cleared, but got %q", ts.FsmonitorClock())
	}
}

func TestSnapshot_InvalidUtf8Path(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs a filesystem that accepts arbitrary bytes in names")
	}
	ts, root := newTestState(t, nil)
	if err := os.WriteFile(filepath.Join(root, "bad\xff"), []byte("x"), 0644); err != nil {
		t.Skipf("filesystem rejected the name: %v", err)
	}
	_, _, err := ts.Snapshot(context.Background(), SnapshotOptions{})
	var snapErr *SnapshotError
	if !errors.As(err, &snapErr) || snapErr.Kind != SnapshotInvalidUtf8Path {
		t.Fatalf("expected an invalid UTF-8 path error, but got %v", err)
	}
}

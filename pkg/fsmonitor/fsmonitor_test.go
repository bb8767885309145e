package fsmonitor

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

func waitForChange(t *testing.T, w *Watcher, clock string, want repopath.Path) []repopath.Path {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, changed, err := w.Query(context.Background(), clock)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if slices.Contains(changed, want) {
			return changed
		}
		select {
		case <-w.Events():
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("expected a change for %q within the deadline", want)
	return nil
}

func TestWatcher_Query(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".jj"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	w, err := NewWatcher(context.Background(), root)
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Close()

	clock, changed, err := w.Query(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if changed != nil {
		t.Errorf("expected an unknown clock to request a full scan, but got %v", changed)
	}

	if err := os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".jj", "state"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	changed = waitForChange(t, w, clock, "sub/a.txt")
	for _, p := range changed {
		if p.StartsWith(".jj") {
			t.Errorf("expected reserved directories to be ignored, but got %q", p)
		}
	}

	// Let trailing write events for the same file arrive.
	time.Sleep(200 * time.Millisecond)
	next, _, err := w.Query(context.Background(), clock)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	_, changed, err = w.Query(context.Background(), next)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if changed == nil || slices.Contains(changed, "sub/a.txt") {
		t.Errorf("expected no earlier changes after advancing the clock, but got %v", changed)
	}
}

func TestWatcher_ForeignClock(t *testing.T) {
	w, err := NewWatcher(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Close()

	if _, changed, err := w.Query(context.Background(), "otherepoch:5"); err != nil || changed != nil {
		t.Errorf("expected a full scan for a foreign clock, but got changed=%v err=%v", changed, err)
	}
}

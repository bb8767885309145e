// Package fsmonitor reports which working-copy paths changed since a previous
// query, so a snapshot can skip stat'ing everything else.
package fsmonitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-workingcopy/pkg/pathguard"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// Monitor is a source of filesystem change notifications.
type Monitor interface {
	// Query returns the paths changed since clock and a clock for the next
	// query. A nil path list means the monitor cannot tell and everything
	// must be scanned.
	Query(ctx context.Context, clock string) (newClock string, changed []repopath.Path, err error)
	Close() error
}

// maxChanges bounds the change log; beyond it the watcher starts over.
const maxChanges = 1 << 16

type change struct {
	seq  uint64
	path repopath.Path
}

// Watcher is a Monitor backed by fsnotify. Clocks are only meaningful to the
// Watcher that issued them; a clock from another process starts a full scan.
type Watcher struct {
	root  string
	w     *fsnotify.Watcher
	epoch string

	mu      sync.Mutex
	seq     uint64
	changes []change
	events  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching every directory below root, except reserved
// metadata directories.
func NewWatcher(ctx context.Context, root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w := &Watcher{
		root:   root,
		w:      fw,
		epoch:  newEpoch(),
		events: make(chan struct{}, 1),
	}
	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish while we walk.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && pathguard.IsReservedName(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			// Overflowed queues lose events; force a rescan by moving the epoch.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.mu.Lock()
				w.resetLocked()
				w.mu.Unlock()
			}
			plog.Warn("Filesystem watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	p, err := repopath.FromRelativeFSPath(rel)
	if err != nil || p.IsRoot() {
		return
	}
	for _, c := range p.Components() {
		if pathguard.IsReservedName(c) {
			return
		}
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				plog.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	w.mu.Lock()
	w.seq++
	if len(w.changes) >= maxChanges {
		w.resetLocked()
	}
	w.changes = append(w.changes, change{seq: w.seq, path: p})
	w.mu.Unlock()

	// Non-blocking wake-up.
	select {
	case w.events <- struct{}{}:
	default:
	}
}

// Events signals, coalesced, that something changed.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// resetLocked starts a new epoch. Clocks issued before it get a full scan.
func (w *Watcher) resetLocked() {
	w.epoch = newEpoch()
	w.changes = nil
}

func newEpoch() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func (w *Watcher) clockLocked() string {
	return w.epoch + ":" + strconv.FormatUint(w.seq, 10)
}

// Query implements Monitor.
func (w *Watcher) Query(ctx context.Context, clock string) (string, []repopath.Path, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	newClock := w.clockLocked()
	epoch, seqStr, ok := strings.Cut(clock, ":")
	if !ok || epoch != w.epoch {
		return newClock, nil, nil
	}
	since, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return newClock, nil, nil
	}

	seen := make(map[repopath.Path]struct{})
	var changed []repopath.Path
	for _, c := range w.changes {
		if c.seq <= since {
			continue
		}
		if _, dup := seen[c.path]; dup {
			continue
		}
		seen[c.path] = struct{}{}
		changed = append(changed, c.path)
	}
	slices.SortFunc(changed, repopath.Compare)
	if changed == nil {
		changed = []repopath.Path{}
	}
	return newClock, changed, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.w.Close()
	w.wg.Wait()
	return err
}

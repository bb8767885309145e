package treestate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-workingcopy/pkg/conflicts"
	"github.com/paulschiretz/pgl-workingcopy/pkg/execbit"
	"github.com/paulschiretz/pgl-workingcopy/pkg/filestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/gitignore"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/pathguard"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

const (
	// dirChunkLen is the number of entries of a large directory handled by
	// one task.
	dirChunkLen = 100
	// resultBuffer is the capacity of each walker result channel.
	resultBuffer = 256
)

// SnapshotOptions controls which paths a snapshot picks up.
type SnapshotOptions struct {
	// BaseIgnores are the ignore rules in effect above the root, e.g. a
	// global excludes file. Nil means none.
	BaseIgnores *gitignore.File
	// Progress, if set, is called for every file considered. It is called
	// from several goroutines at once.
	Progress func(repopath.Path)
	// StartTrackingMatcher selects the new files that start being tracked.
	// Nil tracks every new file.
	StartTrackingMatcher matchers.Matcher
	// ForceTrackingMatcher selects new files that are tracked even when
	// ignored or too large. Nil forces nothing.
	ForceTrackingMatcher matchers.Matcher
	// MaxNewFileSize is the largest new file tracked automatically. Zero or
	// less means no limit.
	MaxNewFileSize int64
}

// UntrackedKind is the reason a present file was left untracked.
type UntrackedKind int

const (
	UntrackedFileTooLarge UntrackedKind = iota
	UntrackedFileNotAutoTracked
)

// UntrackedReason explains why a file was left out of the snapshot.
type UntrackedReason struct {
	Kind UntrackedKind
	// Size and MaxSize are set for UntrackedFileTooLarge.
	Size    int64
	MaxSize int64
}

func (r UntrackedReason) String() string {
	switch r.Kind {
	case UntrackedFileTooLarge:
		return fmt.Sprintf("too large (%d bytes, limit %d)", r.Size, r.MaxSize)
	case UntrackedFileNotAutoTracked:
		return "not auto-tracked"
	default:
		return fmt.Sprintf("unknown_reason(%d)", r.Kind)
	}
}

// SnapshotStats summarizes a snapshot.
type SnapshotStats struct {
	UntrackedPaths map[repopath.Path]UntrackedReason
}

// SortedUntrackedPaths returns the untracked paths in path order.
func (s SnapshotStats) SortedUntrackedPaths() []repopath.Path {
	return slices.SortedFunc(maps.Keys(s.UntrackedPaths), repopath.Compare)
}

type treeEntry struct {
	path  repopath.Path
	value mergedtree.Value
}

type untrackedPath struct {
	path   repopath.Path
	reason UntrackedReason
}

// Snapshot records the current disk contents as the new tree. It reports
// whether the state changed and must be saved. The file states and the tree
// are only replaced once the whole walk succeeded.
func (ts *TreeState) Snapshot(ctx context.Context, opts SnapshotOptions) (bool, SnapshotStats, error) {
	// 1. Restrict the walk to the sparse patterns and what the monitor saw change.
	isDirty := ts.settings.Monitor != nil
	fsmonitorMatcher, newClock, err := ts.makeFsmonitorMatcher(ctx)
	if err != nil {
		return false, SnapshotStats{}, err
	}
	matcher := matchers.NewIntersection(ts.sparseMatcher(), fsmonitorMatcher)
	if matcher.Visit(repopath.Root).IsNothing() {
		ts.fsmonitorClock = newClock
		return isDirty, SnapshotStats{}, nil
	}

	baseIgnores := opts.BaseIgnores
	if baseIgnores == nil {
		baseIgnores = gitignore.Empty()
	}
	startTracking := opts.StartTrackingMatcher
	if startTracking == nil {
		startTracking = matchers.Everything{}
	}
	forceTracking := opts.ForceTrackingMatcher
	if forceTracking == nil {
		forceTracking = matchers.Nothing{}
	}

	// 2. Walk the disk; a single consumer collects the results.
	treeEntriesCh := make(chan treeEntry, resultBuffer)
	fileStatesCh := make(chan filestate.Entry, resultBuffer)
	untrackedCh := make(chan untrackedPath, resultBuffer)
	deletedCh := make(chan repopath.Path, resultBuffer)

	var res walkResults
	done := make(chan struct{})
	go func() {
		defer close(done)
		res.collect(treeEntriesCh, fileStatesCh, untrackedCh, deletedCh)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ts.settings.Workers, 1))
	w := &snapshotter{
		ts:             ts,
		ctx:            gctx,
		group:          g,
		matcher:        matcher,
		startTracking:  startTracking,
		forceTracking:  forceTracking,
		progress:       opts.Progress,
		maxNewFileSize: opts.MaxNewFileSize,
		treeEntries:    treeEntriesCh,
		fileStates:     fileStatesCh,
		untracked:      untrackedCh,
		deleted:        deletedCh,
	}
	g.Go(func() error {
		return w.visitDirectory(repopath.Root, ts.workingCopyPath, baseIgnores, ts.fileStates.All())
	})
	walkErr := g.Wait()
	close(treeEntriesCh)
	close(fileStatesCh)
	close(untrackedCh)
	close(deletedCh)
	<-done
	if walkErr != nil {
		return false, SnapshotStats{}, walkErr
	}

	// 3. Apply the collected changes.
	builder := mergedtree.NewTreeBuilder(ts.store, ts.tree.IDs())
	for _, e := range res.treeEntries {
		builder.Set(e.path, e.value)
	}
	deleted := slices.SortedFunc(maps.Keys(res.deleted), repopath.Compare)
	for _, p := range deleted {
		builder.Remove(p)
	}
	if len(deleted) > 0 {
		isDirty = true
	}

	// 4. Write the new tree.
	newTree, err := builder.WriteTree(ctx, ts.tree.Labels())
	if err != nil {
		return false, SnapshotStats{}, &SnapshotError{Kind: SnapshotStore, Message: "Failed to write the snapshot tree", Err: err}
	}

	// 5. Update the file state cache.
	changed := res.fileStates
	slices.SortFunc(changed, func(a, b filestate.Entry) int { return repopath.Compare(a.Path, b.Path) })
	if len(changed) > 0 {
		isDirty = true
	}
	ts.fileStates.MergeIn(changed, deleted)
	if !newTree.Equal(ts.tree) {
		isDirty = true
	}
	ts.tree = newTree

	if ts.settings.CheckInvariants {
		if err := ts.checkInvariants(ctx); err != nil {
			return false, SnapshotStats{}, &SnapshotError{Kind: SnapshotOther, Message: "Snapshot left an inconsistent tree state", Err: err}
		}
	}

	// 6. A clock is only advanced past changes that were all recorded.
	if len(res.untracked) == 0 || newClock == "" {
		ts.fsmonitorClock = newClock
	}

	plog.Debug("Snapshot finished",
		"tree", newTree,
		"changed", len(changed),
		"deleted", len(deleted),
		"untracked", len(res.untracked),
		"dirty", isDirty)
	return isDirty, SnapshotStats{UntrackedPaths: res.untracked}, nil
}

// makeFsmonitorMatcher asks the monitor for the paths changed since the last
// clock. Without a monitor, or when it cannot tell, everything matches.
func (ts *TreeState) makeFsmonitorMatcher(ctx context.Context) (matchers.Matcher, string, error) {
	if ts.settings.Monitor == nil {
		return matchers.Everything{}, "", nil
	}
	newClock, changed, err := ts.settings.Monitor.Query(ctx, ts.fsmonitorClock)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", &SnapshotError{Kind: SnapshotFsmonitor, Message: "Filesystem monitor query was cancelled", Err: ctxErr}
		}
		plog.Warn("Filesystem monitor query failed, scanning everything", "error", err)
		return matchers.Everything{}, "", nil
	}
	if changed == nil {
		plog.Debug("Filesystem monitor requested a full scan")
		return matchers.Everything{}, newClock, nil
	}
	plog.Debug("Filesystem monitor reported changes", "count", len(changed))
	// A prefix matcher also rescans the contents of a changed directory.
	return matchers.NewPrefix(changed), newClock, nil
}

// walkResults is owned by the consumer goroutine.
type walkResults struct {
	treeEntries []treeEntry
	fileStates  []filestate.Entry
	untracked   map[repopath.Path]UntrackedReason
	deleted     map[repopath.Path]struct{}
}

func (r *walkResults) collect(treeEntries <-chan treeEntry, fileStates <-chan filestate.Entry, untracked <-chan untrackedPath, deleted <-chan repopath.Path) {
	r.untracked = make(map[repopath.Path]UntrackedReason)
	r.deleted = make(map[repopath.Path]struct{})
	for treeEntries != nil || fileStates != nil || untracked != nil || deleted != nil {
		select {
		case e, ok := <-treeEntries:
			if !ok {
				treeEntries = nil
				continue
			}
			r.treeEntries = append(r.treeEntries, e)
		case e, ok := <-fileStates:
			if !ok {
				fileStates = nil
				continue
			}
			r.fileStates = append(r.fileStates, e)
		case u, ok := <-untracked:
			if !ok {
				untracked = nil
				continue
			}
			r.untracked[u.path] = u.reason
		case p, ok := <-deleted:
			if !ok {
				deleted = nil
				continue
			}
			r.deleted[p] = struct{}{}
		}
	}
}

// snapshotter walks the working copy. Its methods run concurrently.
type snapshotter struct {
	ts    *TreeState
	ctx   context.Context
	group *errgroup.Group

	matcher        matchers.Matcher
	startTracking  matchers.Matcher
	forceTracking  matchers.Matcher
	progress       func(repopath.Path)
	maxNewFileSize int64

	treeEntries chan<- treeEntry
	fileStates  chan<- filestate.Entry
	untracked   chan<- untrackedPath
	deleted     chan<- repopath.Path
}

// spawn runs task on a free worker, or inline when all workers are busy. A
// running task never waits for a worker.
func (w *snapshotter) spawn(task func() error) error {
	if w.group.TryGo(task) {
		return nil
	}
	return task()
}

type entryKind int

const (
	entryNone entryKind = iota
	entryDir
	entryFile
)

type presentEntries struct {
	dirs  []string
	files []string
	err   error
}

func (w *snapshotter) visitDirectory(dir repopath.Path, diskDir string, ignores *gitignore.File, states filestate.FileStates) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	ignorePath := filepath.Join(diskDir, gitignore.FileName)
	ignores, err := ignores.ChainWithFile(dir, ignorePath)
	if err != nil {
		return &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to read ignore file %s", ignorePath), Path: ignorePath, Err: err}
	}
	entries, err := os.ReadDir(diskDir)
	if err != nil {
		return &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to read directory %s", diskDir), Path: diskDir, Err: err}
	}

	// Large directories are split into chunks that may run on other workers.
	chunks := slices.Collect(slices.Chunk(entries, dirChunkLen))
	results := make([]presentEntries, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		run := func() error {
			results[i] = w.processChunk(dir, diskDir, ignores, states, chunk)
			return nil
		}
		if i > 0 {
			wg.Add(1)
			if w.group.TryGo(func() error { defer wg.Done(); return run() }) {
				continue
			}
			wg.Done()
		}
		_ = run()
	}
	wg.Wait()

	dirs := make(map[string]struct{})
	files := make(map[string]struct{})
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		for _, name := range r.dirs {
			dirs[name] = struct{}{}
		}
		for _, name := range r.files {
			files[name] = struct{}{}
		}
	}
	w.emitDeletedFiles(dir, states, dirs, files)
	return nil
}

func (w *snapshotter) processChunk(dir repopath.Path, diskDir string, ignores *gitignore.File, states filestate.FileStates, chunk []os.DirEntry) presentEntries {
	var out presentEntries
	for _, entry := range chunk {
		kind, err := w.processDirEntry(dir, diskDir, ignores, states, entry)
		if err != nil {
			out.err = err
			return out
		}
		switch kind {
		case entryDir:
			out.dirs = append(out.dirs, entry.Name())
		case entryFile:
			out.files = append(out.files, entry.Name())
		}
	}
	return out
}

// processDirEntry handles one directory entry and reports what it found
// present on disk.
func (w *snapshotter) processDirEntry(dir repopath.Path, diskDir string, ignores *gitignore.File, states filestate.FileStates, entry os.DirEntry) (entryKind, error) {
	name := entry.Name()
	diskPath := filepath.Join(diskDir, name)
	if !utf8.ValidString(name) {
		return entryNone, &SnapshotError{Kind: SnapshotInvalidUtf8Path, Path: diskPath}
	}
	if pathguard.IsReservedName(name) {
		return entryNone, nil
	}
	path := dir.Join(name)
	current, tracked := states.GetAt(dir, name)
	if tracked && current.Type == filestate.TypeGitSubmodule {
		return entryNone, nil
	}

	if entry.IsDir() {
		// A nested repository is not part of this working copy.
		for _, reserved := range pathguard.ReservedNames {
			if _, err := os.Lstat(filepath.Join(diskPath, reserved)); err == nil {
				return entryNone, nil
			}
		}
		subStates := states.PrefixedAt(dir, name)
		var err error
		switch {
		case ignores.Matches(path, true) && w.forceTracking.Visit(path).IsNothing():
			// Ignored directories are only checked for files already tracked.
			err = w.spawn(func() error { return w.visitTrackedFiles(subStates) })
		case !w.matcher.Visit(path).IsNothing():
			err = w.spawn(func() error { return w.visitDirectory(path, diskPath, ignores, subStates) })
		}
		if err != nil {
			return entryNone, err
		}
		return entryDir, nil
	}

	if !w.matcher.Matches(path) {
		return entryNone, nil
	}
	if w.progress != nil {
		w.progress(path)
	}
	if !tracked && ignores.Matches(path, false) && !w.forceTracking.Matches(path) {
		return entryNone, nil
	}
	if !tracked && !w.startTracking.Matches(path) {
		w.untracked <- untrackedPath{path: path, reason: UntrackedReason{Kind: UntrackedFileNotAutoTracked}}
		return entryNone, nil
	}
	info, err := entry.Info()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryNone, nil
		}
		return entryNone, &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to stat file %s", diskPath), Path: diskPath, Err: err}
	}
	if !tracked && w.maxNewFileSize > 0 && info.Size() > w.maxNewFileSize && !w.forceTracking.Matches(path) {
		w.untracked <- untrackedPath{path: path, reason: UntrackedReason{
			Kind:    UntrackedFileTooLarge,
			Size:    info.Size(),
			MaxSize: w.maxNewFileSize,
		}}
		return entryNone, nil
	}
	newState, ok := fileStateFor(info)
	if !ok {
		// Sockets, devices and the like are not tracked.
		return entryNone, nil
	}
	var currentPtr *filestate.FileState
	if tracked {
		currentPtr = &current
	}
	if err := w.processPresentFile(path, diskPath, currentPtr, newState); err != nil {
		return entryNone, err
	}
	return entryFile, nil
}

func fileStateFor(info fs.FileInfo) (filestate.FileState, bool) {
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return filestate.ForFile(info, execbit.IsExecutable(mode)), true
	case mode&fs.ModeSymlink != 0:
		return filestate.ForSymlink(info), true
	default:
		return filestate.FileState{}, false
	}
}

// visitTrackedFiles checks the tracked files below an ignored directory.
func (w *snapshotter) visitTrackedFiles(states filestate.FileStates) error {
	for p, current := range states.All() {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if current.Type == filestate.TypeGitSubmodule || !w.matcher.Matches(p) {
			continue
		}
		diskPath, err := p.ToFSPath(w.ts.workingCopyPath)
		if err != nil {
			return &SnapshotError{Kind: SnapshotOther, Message: fmt.Sprintf("Invalid tracked path %q", p), Err: err}
		}
		info, err := os.Lstat(diskPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to stat file %s", diskPath), Path: diskPath, Err: err}
		}
		var newState filestate.FileState
		ok := false
		if err == nil {
			newState, ok = fileStateFor(info)
		}
		if !ok {
			w.deleted <- p
			continue
		}
		if err := w.processPresentFile(p, diskPath, &current, newState); err != nil {
			return err
		}
	}
	return nil
}

func (w *snapshotter) processPresentFile(path repopath.Path, diskPath string, current *filestate.FileState, newState filestate.FileState) error {
	update, changed, err := w.updatedTreeValue(path, diskPath, current, newState)
	if err != nil {
		return err
	}
	// A file that still holds conflict markers keeps the length it was
	// written with.
	if newState.Type == filestate.TypeNormal && current != nil && !(changed && update.IsResolved()) {
		newState.MarkerLen = current.MarkerLen
	}
	if changed {
		w.treeEntries <- treeEntry{path: path, value: update}
	}
	if current == nil || *current != newState {
		w.fileStates <- filestate.Entry{Path: path, State: newState}
	}
	return nil
}

// updatedTreeValue returns the value to record for a present file, and false
// when the tree already holds it.
func (w *snapshotter) updatedTreeValue(path repopath.Path, diskPath string, current *filestate.FileState, newState filestate.FileState) (mergedtree.Value, bool, error) {
	if current != nil && newState.IsClean(*current) && current.MtimeMillis < w.ts.ownMtime {
		return mergedtree.Value{}, false, nil
	}
	currentValue, err := w.ts.tree.PathValue(w.ctx, path)
	if err != nil {
		return mergedtree.Value{}, false, &SnapshotError{Kind: SnapshotStore, Message: fmt.Sprintf("Failed to look up %s in the tree", path), Err: err}
	}

	newType := newState.Type
	if !w.ts.settings.SymlinkSupport && newType == filestate.TypeNormal {
		// Without symlink support, a symlink is checked out as a plain file.
		if v, ok := currentValue.AsResolved(); ok && v.Kind == store.KindSymlink {
			newType = filestate.TypeSymlink
		}
	}

	var newValue mergedtree.Value
	switch newType {
	case filestate.TypeNormal:
		markerLen := conflicts.MinMarkerLen
		if current != nil && current.MarkerLen > 0 {
			markerLen = current.MarkerLen
		}
		newValue, err = w.writePathToStore(path, diskPath, currentValue, newState.Executable, markerLen)
	case filestate.TypeSymlink:
		var id store.ID
		id, err = w.writeSymlinkToStore(path, diskPath)
		newValue = merge.Resolved(store.SymlinkValue(id))
	default:
		return mergedtree.Value{}, false, &SnapshotError{Kind: SnapshotOther, Message: fmt.Sprintf("Cannot snapshot git submodule %s", path)}
	}
	if err != nil {
		return mergedtree.Value{}, false, err
	}
	if merge.Equal(newValue, currentValue) {
		return mergedtree.Value{}, false, nil
	}
	return newValue, true, nil
}

func (w *snapshotter) writePathToStore(path repopath.Path, diskPath string, currentValue mergedtree.Value, onDiskExec bool, markerLen int) (mergedtree.Value, error) {
	policy := w.ts.execPolicy
	if cur, ok := currentValue.AsResolved(); ok {
		id, err := w.writeFileToStore(path, diskPath)
		if err != nil {
			return mergedtree.Value{}, err
		}
		exec := policy.ForTree(onDiskExec, func() (bool, bool) {
			if cur.Kind == store.KindFile {
				return cur.Executable, true
			}
			return false, false
		})
		return merge.Resolved(store.FileValue(id, exec)), nil
	}
	if !conflicts.IsFileConflict(currentValue) {
		// A non-file conflict is left alone until it is resolved in the tree.
		return currentValue, nil
	}

	buf, err := w.readFile(diskPath)
	if err != nil {
		return mergedtree.Value{}, err
	}
	newValue, err := conflicts.UpdateFromContent(w.ctx, w.ts.store, path, currentValue, *buf, markerLen)
	w.ts.content.Put(buf)
	if err != nil {
		return mergedtree.Value{}, &SnapshotError{Kind: SnapshotStore, Message: fmt.Sprintf("Failed to update conflict at %s", path), Err: err}
	}
	if r, ok := newValue.AsResolved(); ok {
		exec := policy.ForTree(onDiskExec, func() (bool, bool) {
			return conflicts.ResolveExecutable(currentValue), true
		})
		return merge.Resolved(store.FileValue(r.ID, exec)), nil
	}
	return newValue, nil
}

func (w *snapshotter) readFile(diskPath string) (*[]byte, error) {
	f, err := os.Open(diskPath)
	if err != nil {
		return nil, &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to open file %s", diskPath), Path: diskPath, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to stat file %s", diskPath), Path: diskPath, Err: err}
	}
	buf, err := w.ts.content.ReadContent(f, info.Size())
	if err != nil {
		return nil, &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to read file %s", diskPath), Path: diskPath, Err: err}
	}
	return buf, nil
}

func (w *snapshotter) writeFileToStore(path repopath.Path, diskPath string) (store.ID, error) {
	buf, err := w.readFile(diskPath)
	if err != nil {
		return store.ID{}, err
	}
	defer w.ts.content.Put(buf)
	id, err := w.ts.store.WriteFile(w.ctx, path, bytes.NewReader(*buf))
	if err != nil {
		return store.ID{}, &SnapshotError{Kind: SnapshotStore, Message: fmt.Sprintf("Failed to write file %s to the store", path), Err: err}
	}
	return id, nil
}

func (w *snapshotter) writeSymlinkToStore(path repopath.Path, diskPath string) (store.ID, error) {
	var target string
	if w.ts.settings.SymlinkSupport {
		t, err := os.Readlink(diskPath)
		if err != nil {
			return store.ID{}, &SnapshotError{Kind: SnapshotIo, Message: fmt.Sprintf("Failed to read symlink %s", diskPath), Path: diskPath, Err: err}
		}
		target = filepath.ToSlash(t)
	} else {
		buf, err := w.readFile(diskPath)
		if err != nil {
			return store.ID{}, err
		}
		target = string(*buf)
		w.ts.content.Put(buf)
	}
	if !utf8.ValidString(target) {
		return store.ID{}, &SnapshotError{Kind: SnapshotInvalidUtf8SymlinkTarget, Path: diskPath}
	}
	id, err := w.ts.store.WriteSymlink(w.ctx, path, target)
	if err != nil {
		return store.ID{}, &SnapshotError{Kind: SnapshotStore, Message: fmt.Sprintf("Failed to write symlink %s to the store", path), Err: err}
	}
	return id, nil
}

// emitDeletedFiles reports the tracked paths below dir that were not found
// on disk. A tracked path counts as present when its first component below
// dir was seen as an entry of the same kind.
func (w *snapshotter) emitDeletedFiles(dir repopath.Path, states filestate.FileStates, dirs, files map[string]struct{}) {
	for p, state := range states.All() {
		rest, ok := p.StripPrefix(dir)
		if !ok {
			continue
		}
		name, _, isDir := strings.Cut(string(rest), "/")
		var found bool
		if isDir {
			_, found = dirs[name]
		} else {
			_, found = files[name]
		}
		if found || state.Type == filestate.TypeGitSubmodule || !w.matcher.Matches(p) {
			continue
		}
		w.deleted <- p
	}
}

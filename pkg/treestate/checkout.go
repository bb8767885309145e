package treestate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/conflicts"
	"github.com/paulschiretz/pgl-workingcopy/pkg/execbit"
	"github.com/paulschiretz/pgl-workingcopy/pkg/filestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/pathguard"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// CheckoutStats counts the paths touched by a checkout. Skipped paths are
// also counted as updated, added or removed.
type CheckoutStats struct {
	UpdatedFiles int
	AddedFiles   int
	RemovedFiles int
	SkippedFiles int
}

func (s CheckoutStats) String() string {
	return fmt.Sprintf("updated=%d added=%d removed=%d skipped=%d", s.UpdatedFiles, s.AddedFiles, s.RemovedFiles, s.SkippedFiles)
}

// CheckOut writes the difference between the current tree and newTree to
// disk, within the sparse patterns, and makes newTree current.
func (ts *TreeState) CheckOut(ctx context.Context, newTree *mergedtree.MergedTree) (CheckoutStats, error) {
	stats, err := ts.update(ctx, ts.tree, newTree, ts.sparseMatcher())
	if err != nil {
		return stats, err
	}
	ts.tree = newTree
	plog.Debug("Checked out tree", "tree", newTree, "stats", stats)
	return stats, nil
}

// SetSparsePatterns materializes the paths the new patterns add and removes
// the paths they drop. The tree does not change.
func (ts *TreeState) SetSparsePatterns(ctx context.Context, patterns []repopath.Path) (CheckoutStats, error) {
	oldMatcher := ts.sparseMatcher()
	newMatcher := matchers.NewPrefix(patterns)
	empty := mergedtree.Empty(ts.store)

	added, err := ts.update(ctx, empty, ts.tree, matchers.NewDifference(newMatcher, oldMatcher))
	if err != nil {
		return CheckoutStats{}, err
	}
	removed, err := ts.update(ctx, ts.tree, empty, matchers.NewDifference(oldMatcher, newMatcher))
	if err != nil {
		return CheckoutStats{}, err
	}
	ts.sparsePatterns = slices.Clone(patterns)
	return CheckoutStats{
		AddedFiles:   added.AddedFiles,
		RemovedFiles: removed.RemovedFiles,
		SkippedFiles: added.SkippedFiles + removed.SkippedFiles,
	}, nil
}

// updater applies one tree diff to disk.
type updater struct {
	ts     *TreeState
	ctx    context.Context
	labels mergedtree.ConflictLabels
	// prevStates are the file states from before the update. Only they know
	// the on-disk exec bit.
	prevStates filestate.FileStates

	stats   CheckoutStats
	changed []filestate.Entry
	deleted []repopath.Path
}

func (ts *TreeState) update(ctx context.Context, oldTree, newTree *mergedtree.MergedTree, matcher matchers.Matcher) (CheckoutStats, error) {
	diff, err := oldTree.Diff(ctx, newTree, matcher)
	if err != nil {
		return CheckoutStats{}, checkoutErr(CheckoutStore, "Failed to diff trees", err)
	}

	// A conflict whose value is unchanged but whose labels changed is
	// written again. Conflicts with a different number of sides already show
	// up in the diff.
	var relabeled map[repopath.Path]mergedtree.Value
	if oldTree.IDs().NumSides() == newTree.IDs().NumSides() && !slices.Equal(oldTree.Labels(), newTree.Labels()) {
		entries, err := newTree.Entries(ctx, matcher)
		if err != nil {
			return CheckoutStats{}, checkoutErr(CheckoutStore, "Failed to list conflicts", err)
		}
		relabeled = make(map[repopath.Path]mergedtree.Value)
		for _, e := range entries {
			if !e.Value.IsResolved() {
				relabeled[e.Path] = e.Value
			}
		}
	}

	u := &updater{
		ts:         ts,
		ctx:        ctx,
		labels:     newTree.Labels(),
		prevStates: ts.fileStates.All(),
	}
	for _, e := range diff {
		if err := ctx.Err(); err != nil {
			return u.stats, checkoutErr(CheckoutOther, "Checkout was cancelled", err)
		}
		delete(relabeled, e.Path)
		if err := u.processEntry(e.Path, e.Before, e.After); err != nil {
			return u.stats, err
		}
	}
	for _, p := range slices.SortedFunc(maps.Keys(relabeled), repopath.Compare) {
		v := relabeled[p]
		if err := u.processEntry(p, v, v); err != nil {
			return u.stats, err
		}
	}

	slices.SortFunc(u.changed, func(a, b filestate.Entry) int { return repopath.Compare(a.Path, b.Path) })
	slices.SortFunc(u.deleted, repopath.Compare)
	ts.fileStates.MergeIn(u.changed, u.deleted)
	return u.stats, nil
}

func isSubmodule(v mergedtree.Value) bool {
	r, ok := v.AsResolved()
	return ok && r.Kind == store.KindGitSubmodule
}

func (u *updater) skip(p repopath.Path, after mergedtree.Value) {
	u.stats.SkippedFiles++
	if mergedtree.IsAbsent(after) {
		// The path leaves the tree, so it keeps no state even though
		// something is still on disk.
		u.deleted = append(u.deleted, p)
		return
	}
	// The placeholder makes the next snapshot look at the path again.
	u.changed = append(u.changed, filestate.Entry{Path: p, State: filestate.Placeholder()})
}

func (u *updater) processEntry(path repopath.Path, before, after mergedtree.Value) error {
	switch {
	case mergedtree.IsAbsent(after):
		u.stats.RemovedFiles++
	case mergedtree.IsAbsent(before):
		u.stats.AddedFiles++
	default:
		u.stats.UpdatedFiles++
	}

	// A submodule may be a non-empty directory on disk; it is not ours to manage.
	if isSubmodule(before) && isSubmodule(after) {
		plog.Warn("Ignoring git submodule", "path", path)
		return nil
	}

	root := u.ts.workingCopyPath
	// Parents are created even for removals so the path never traverses a symlink.
	diskPath, ok, err := pathguard.CreateParentDirs(root, path)
	if err != nil {
		return checkoutErr(CheckoutIo, fmt.Sprintf("Failed to create parent directories for %s", path), err)
	}
	if !ok {
		u.skip(path, after)
		return nil
	}

	presentDeleted := false
	if !mergedtree.IsAbsent(before) {
		presentDeleted, err = pathguard.RemoveOldFile(diskPath)
		if err != nil {
			return checkoutErr(CheckoutIo, fmt.Sprintf("Failed to remove %s", diskPath), err)
		}
	}
	if !presentDeleted {
		ok, err := pathguard.CanCreateNewFile(diskPath)
		if err != nil {
			return checkoutErr(CheckoutIo, fmt.Sprintf("Failed to check %s", diskPath), err)
		}
		if !ok {
			// Something untracked, possibly a directory, is in the way.
			u.skip(path, after)
			return nil
		}
	}

	prevExec := func() (bool, bool) { return u.prevStates.GetExecBit(path) }
	var state filestate.FileState
	if r, ok := after.AsResolved(); ok {
		switch r.Kind {
		case store.KindAbsent:
			pathguard.PruneEmptyParents(root, path)
			u.deleted = append(u.deleted, path)
			return nil
		case store.KindFile:
			state, err = u.writeFile(path, diskPath, r.ID, u.ts.execPolicy.ForDisk(r.Executable, prevExec))
		case store.KindSymlink:
			state, err = u.writeSymlink(path, diskPath, r.ID)
		case store.KindGitSubmodule:
			plog.Warn("Ignoring git submodule", "path", path)
			state = filestate.ForGitSubmodule()
		default:
			return &CheckoutError{Kind: CheckoutOther, Message: fmt.Sprintf("Unexpected %s entry in diff at %s", r.Kind, path)}
		}
	} else if conflicts.IsFileConflict(after) {
		state, err = u.writeFileConflict(path, diskPath, after, prevExec)
	} else {
		// Only a description can be written for conflicts involving other kinds.
		state, err = u.writeContent(diskPath, bytes.NewReader(conflicts.DescribeOtherConflict(after)), false)
	}
	if err != nil {
		return err
	}
	u.changed = append(u.changed, filestate.Entry{Path: path, State: state})
	return nil
}

func (u *updater) writeFile(path repopath.Path, diskPath string, id store.ID, exec bool) (filestate.FileState, error) {
	r, err := u.ts.store.ReadFile(u.ctx, path, id)
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStore, fmt.Sprintf("Failed to read file %s", path), err)
	}
	defer r.Close()
	return u.writeContent(diskPath, r, exec)
}

func (u *updater) writeSymlink(path repopath.Path, diskPath string, id store.ID) (filestate.FileState, error) {
	target, err := u.ts.store.ReadSymlink(u.ctx, path, id)
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStore, fmt.Sprintf("Failed to read symlink %s", path), err)
	}
	if !u.ts.settings.SymlinkSupport {
		// The stand-in file holding the target is never executable.
		return u.writeContent(diskPath, strings.NewReader(target), false)
	}
	diskTarget := filepath.FromSlash(target)
	if err := os.Symlink(diskTarget, diskPath); err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutOther, fmt.Sprintf("Failed to create symlink from %s to %s", diskPath, diskTarget), err)
	}
	info, err := os.Lstat(diskPath)
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStat, fmt.Sprintf("Failed to stat file %s", diskPath), err)
	}
	return filestate.ForSymlink(info), nil
}

func (u *updater) writeFileConflict(path repopath.Path, diskPath string, value mergedtree.Value, prevExec func() (bool, bool)) (filestate.FileState, error) {
	m, err := conflicts.MaterializeFile(u.ctx, u.ts.store, path, value, conflicts.Options{
		Style:  u.ts.settings.ConflictMarkerStyle,
		Labels: u.labels,
	})
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStore, fmt.Sprintf("Failed to materialize conflict at %s", path), err)
	}
	exec := u.ts.execPolicy.ForDisk(m.Executable, prevExec)
	state, err := u.writeContent(diskPath, bytes.NewReader(m.Content), exec)
	if err != nil {
		return filestate.FileState{}, err
	}
	state.MarkerLen = m.MarkerLen
	return state, nil
}

// writeContent creates a new file at diskPath. It never overwrites an
// existing file and never follows a symlink.
func (u *updater) writeContent(diskPath string, r io.Reader, exec bool) (filestate.FileState, error) {
	f, err := os.OpenFile(diskPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutOther, fmt.Sprintf("Failed to open file %s for writing", diskPath), err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutIo, fmt.Sprintf("Failed to write the content to the file %s", diskPath), err)
	}
	if err := execbit.Set(diskPath, exec); err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStat, fmt.Sprintf("Failed to set the executable bit of %s", diskPath), err)
	}
	// Stat the open file so the state describes what was written.
	info, err := f.Stat()
	if err != nil {
		return filestate.FileState{}, checkoutErr(CheckoutStat, fmt.Sprintf("Failed to stat file %s", diskPath), err)
	}
	return filestate.ForFile(info, exec), nil
}

// Reset makes newTree current and rebuilds the file states from it without
// touching the disk. Every reset path gets an empty mtime so the next
// snapshot reads it again.
func (ts *TreeState) Reset(ctx context.Context, newTree *mergedtree.MergedTree) error {
	diff, err := ts.tree.Diff(ctx, newTree, ts.sparseMatcher())
	if err != nil {
		return &ResetError{Message: "Failed to diff trees", Err: err}
	}
	prev := ts.fileStates.All()
	var changed []filestate.Entry
	var deleted []repopath.Path
	for _, e := range diff {
		if mergedtree.IsAbsent(e.After) {
			deleted = append(deleted, e.Path)
			continue
		}
		state := filestate.FileState{Type: filestate.TypeNormal}
		if r, ok := e.After.AsResolved(); ok {
			switch r.Kind {
			case store.KindFile:
				state.Executable = ts.execPolicy.ForDisk(r.Executable, func() (bool, bool) { return prev.GetExecBit(e.Path) })
			case store.KindSymlink:
				state.Type = filestate.TypeSymlink
			case store.KindGitSubmodule:
				plog.Warn("Ignoring git submodule", "path", e.Path)
				state.Type = filestate.TypeGitSubmodule
			default:
				return &ResetError{Message: fmt.Sprintf("Unexpected %s entry in diff at %s", r.Kind, e.Path)}
			}
		}
		changed = append(changed, filestate.Entry{Path: e.Path, State: state})
	}
	slices.SortFunc(changed, func(a, b filestate.Entry) int { return repopath.Compare(a.Path, b.Path) })
	slices.SortFunc(deleted, repopath.Compare)
	ts.fileStates.MergeIn(changed, deleted)
	ts.tree = newTree
	return nil
}

// Recover forgets every file state and resets to newTree as if the working
// copy were empty.
func (ts *TreeState) Recover(ctx context.Context, newTree *mergedtree.MergedTree) error {
	ts.fileStates.Clear()
	ts.tree = mergedtree.Empty(ts.store)
	return ts.Reset(ctx, newTree)
}

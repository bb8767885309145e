package workingcopy

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/paulschiretz/pgl-workingcopy/pkg/filelock"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/treestate"
)

// ErrFinished is returned when a locked session is used after Finish or Discard.
var ErrFinished = errors.New("working copy mutation already finished")

// LockedLocalWorkingCopy is an exclusive mutation session. It must end with
// Finish or Discard.
type LockedLocalWorkingCopy struct {
	wc        *LocalWorkingCopy
	lock      *filelock.Lock
	checkout  CheckoutState
	treeState *treestate.TreeState

	oldOperationID   OperationID
	oldWorkspaceName string
	oldTree          *mergedtree.MergedTree
	treeStateDirty   bool
	finished         bool
}

// OldOperationID returns the operation id recorded when the lock was taken.
func (l *LockedLocalWorkingCopy) OldOperationID() OperationID { return l.oldOperationID }

// OldTree returns the tree recorded when the lock was taken.
func (l *LockedLocalWorkingCopy) OldTree() *mergedtree.MergedTree { return l.oldTree }

// Tree returns the current tree of the session.
func (l *LockedLocalWorkingCopy) Tree() *mergedtree.MergedTree { return l.treeState.CurrentTree() }

// WorkspaceName returns the workspace name, including a pending rename.
func (l *LockedLocalWorkingCopy) WorkspaceName() string { return l.checkout.WorkspaceName }

// SparsePatterns returns the session's sparse patterns.
func (l *LockedLocalWorkingCopy) SparsePatterns() []repopath.Path {
	return l.treeState.SparsePatterns()
}

// TreeState exposes the session's tree state for reading.
func (l *LockedLocalWorkingCopy) TreeState() *treestate.TreeState { return l.treeState }

// Snapshot records the disk contents and returns the resulting tree.
func (l *LockedLocalWorkingCopy) Snapshot(ctx context.Context, opts treestate.SnapshotOptions) (*mergedtree.MergedTree, treestate.SnapshotStats, error) {
	if l.finished {
		return nil, treestate.SnapshotStats{}, ErrFinished
	}
	changed, stats, err := l.treeState.Snapshot(ctx, opts)
	if err != nil {
		return nil, stats, err
	}
	l.treeStateDirty = l.treeStateDirty || changed
	return l.treeState.CurrentTree(), stats, nil
}

// CheckOut updates the disk to newTree. Nothing is written when the session
// is already at newTree.
func (l *LockedLocalWorkingCopy) CheckOut(ctx context.Context, newTree *mergedtree.MergedTree) (treestate.CheckoutStats, error) {
	if l.finished {
		return treestate.CheckoutStats{}, ErrFinished
	}
	if l.treeState.CurrentTree().Equal(newTree) {
		return treestate.CheckoutStats{}, nil
	}
	stats, err := l.treeState.CheckOut(ctx, newTree)
	if err != nil {
		return stats, err
	}
	l.treeStateDirty = true
	return stats, nil
}

// RenameWorkspace changes the recorded workspace name on Finish.
func (l *LockedLocalWorkingCopy) RenameWorkspace(name string) {
	l.checkout.WorkspaceName = name
}

// Reset points the working copy at newTree without touching the disk.
func (l *LockedLocalWorkingCopy) Reset(ctx context.Context, newTree *mergedtree.MergedTree) error {
	if l.finished {
		return ErrFinished
	}
	if err := l.treeState.Reset(ctx, newTree); err != nil {
		return err
	}
	l.treeStateDirty = true
	return nil
}

// Recover rebuilds the file states from scratch against newTree.
func (l *LockedLocalWorkingCopy) Recover(ctx context.Context, newTree *mergedtree.MergedTree) error {
	if l.finished {
		return ErrFinished
	}
	if err := l.treeState.Recover(ctx, newTree); err != nil {
		return err
	}
	l.treeStateDirty = true
	return nil
}

// SetSparsePatterns changes which paths are materialized on disk.
func (l *LockedLocalWorkingCopy) SetSparsePatterns(ctx context.Context, patterns []repopath.Path) (treestate.CheckoutStats, error) {
	if l.finished {
		return treestate.CheckoutStats{}, ErrFinished
	}
	stats, err := l.treeState.SetSparsePatterns(ctx, patterns)
	if err != nil {
		return stats, err
	}
	l.treeStateDirty = true
	return stats, nil
}

// ResetFsmonitor forgets the monitor clock so the next snapshot scans everything.
func (l *LockedLocalWorkingCopy) ResetFsmonitor() {
	l.treeState.ResetFsmonitorClock()
	l.treeStateDirty = true
}

// Finish persists what changed, records operationID and releases the lock.
// It returns a fresh read-only view of the result.
func (l *LockedLocalWorkingCopy) Finish(operationID OperationID) (*LocalWorkingCopy, error) {
	if l.finished {
		return nil, ErrFinished
	}
	defer l.Discard()

	if !l.treeStateDirty && !l.treeState.CurrentTree().Equal(l.oldTree) {
		return nil, fmt.Errorf("internal error: tree changed from %v to %v without being marked dirty", l.oldTree, l.treeState.CurrentTree())
	}
	if l.treeStateDirty {
		if err := l.treeState.Save(); err != nil {
			return nil, err
		}
	}
	if !bytes.Equal(l.oldOperationID, operationID) || l.oldWorkspaceName != l.checkout.WorkspaceName {
		l.checkout.OperationID = operationID
		if err := l.checkout.save(l.wc.statePath); err != nil {
			return nil, err
		}
	}
	plog.Debug("Finished working copy mutation",
		"operation", operationID,
		"tree", l.treeState.CurrentTree(),
		"treeStateSaved", l.treeStateDirty)

	wc := newLocal(l.wc.store, l.wc.workingCopyPath, l.wc.statePath, l.wc.settings, l.checkout)
	ts := l.treeState
	wc.treeState = func() (*treestate.TreeState, error) { return ts, nil }
	return wc, nil
}

// Discard releases the lock without persisting anything.
func (l *LockedLocalWorkingCopy) Discard() {
	l.finished = true
	l.lock.Release()
}

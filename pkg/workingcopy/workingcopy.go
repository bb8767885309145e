// Package workingcopy is the entry point for reading and mutating a local
// working copy. A LocalWorkingCopy is a read-only view; all mutation goes
// through a LockedLocalWorkingCopy obtained from StartMutation.
package workingcopy

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/polydawn/refmt/obj/atlas"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/filelock"
	"github.com/paulschiretz/pgl-workingcopy/pkg/filestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/metafile"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
	"github.com/paulschiretz/pgl-workingcopy/pkg/treestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

const (
	// Name identifies this working copy implementation.
	Name = "local"
	// CheckoutFileName is the checkout record in the state directory.
	CheckoutFileName = "checkout"
	// LockFileName is the lock guarding the state directory.
	LockFileName = "working_copy.lock"
	// DefaultWorkspaceName is used when no workspace name was recorded.
	DefaultWorkspaceName = "default"
)

// OperationID identifies the operation that last updated the working copy.
type OperationID []byte

func (id OperationID) String() string { return hex.EncodeToString(id) }

// ParseOperationID decodes a hex operation id.
func ParseOperationID(s string) (OperationID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid operation id %q: %w", s, err)
	}
	return OperationID(b), nil
}

// StateError reports a failure to read or write the working copy's records.
type StateError struct {
	Message string
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// CheckoutState records which operation and workspace the working copy belongs to.
type CheckoutState struct {
	OperationID   OperationID
	WorkspaceName string
}

type checkoutProto struct {
	OperationID   []byte `refmt:"operationId"`
	WorkspaceName string `refmt:"workspaceName"`
}

var checkoutAtlas = atlas.MustBuild(
	atlas.BuildEntry(checkoutProto{}).StructMap().Autogenerate().Complete(),
)

func loadCheckout(statePath string) (CheckoutState, error) {
	var proto checkoutProto
	if err := metafile.Read(filepath.Join(statePath, CheckoutFileName), &proto, checkoutAtlas); err != nil {
		return CheckoutState{}, &StateError{Message: "Failed to read checkout state", Err: err}
	}
	name := proto.WorkspaceName
	if name == "" {
		name = DefaultWorkspaceName
	}
	return CheckoutState{OperationID: OperationID(proto.OperationID), WorkspaceName: name}, nil
}

func (c CheckoutState) save(statePath string) error {
	proto := &checkoutProto{
		OperationID:   append([]byte{}, c.OperationID...),
		WorkspaceName: c.WorkspaceName,
	}
	if err := metafile.Write(filepath.Join(statePath, CheckoutFileName), proto, checkoutAtlas); err != nil {
		return &StateError{Message: "Failed to write checkout state", Err: err}
	}
	return nil
}

// LocalWorkingCopy is a read-only view of a working copy on the local disk.
type LocalWorkingCopy struct {
	store           store.Store
	workingCopyPath string
	statePath       string
	settings        treestate.Settings
	checkout        CheckoutState
	// treeState loads the tree state on first use.
	treeState func() (*treestate.TreeState, error)
}

func newLocal(s store.Store, workingCopyPath, statePath string, settings treestate.Settings, checkout CheckoutState) *LocalWorkingCopy {
	wc := &LocalWorkingCopy{
		store:           s,
		workingCopyPath: workingCopyPath,
		statePath:       statePath,
		settings:        settings,
		checkout:        checkout,
	}
	wc.treeState = sync.OnceValues(func() (*treestate.TreeState, error) {
		return treestate.Load(s, workingCopyPath, statePath, settings)
	})
	return wc
}

// Init creates the state directory and an empty working copy state.
func Init(s store.Store, workingCopyPath, statePath string, operationID OperationID, workspaceName string, settings treestate.Settings) (*LocalWorkingCopy, error) {
	if err := os.MkdirAll(statePath, util.UserWritableDirPerms); err != nil {
		return nil, &StateError{Message: "Failed to create state directory", Err: err}
	}
	checkout := CheckoutState{OperationID: operationID, WorkspaceName: workspaceName}
	if checkout.WorkspaceName == "" {
		checkout.WorkspaceName = DefaultWorkspaceName
	}
	if err := checkout.save(statePath); err != nil {
		return nil, err
	}
	ts, err := treestate.Init(s, workingCopyPath, statePath, settings)
	if err != nil {
		return nil, &StateError{Message: "Failed to initialize tree state", Err: err}
	}
	wc := newLocal(s, workingCopyPath, statePath, settings, checkout)
	wc.treeState = func() (*treestate.TreeState, error) { return ts, nil }
	plog.Info("Initialized working copy", "path", workingCopyPath, "workspace", checkout.WorkspaceName)
	return wc, nil
}

// Load opens an existing working copy. The tree state is read on first use.
func Load(s store.Store, workingCopyPath, statePath string, settings treestate.Settings) (*LocalWorkingCopy, error) {
	checkout, err := loadCheckout(statePath)
	if err != nil {
		return nil, err
	}
	return newLocal(s, workingCopyPath, statePath, settings, checkout), nil
}

// Name returns the implementation name.
func (wc *LocalWorkingCopy) Name() string { return Name }

// WorkspaceName returns the recorded workspace name.
func (wc *LocalWorkingCopy) WorkspaceName() string { return wc.checkout.WorkspaceName }

// OperationID returns the recorded operation id.
func (wc *LocalWorkingCopy) OperationID() OperationID { return wc.checkout.OperationID }

// WorkingCopyPath returns the root directory of the working copy.
func (wc *LocalWorkingCopy) WorkingCopyPath() string { return wc.workingCopyPath }

// StatePath returns the private state directory.
func (wc *LocalWorkingCopy) StatePath() string { return wc.statePath }

// Store returns the object store trees are read from and written to.
func (wc *LocalWorkingCopy) Store() store.Store { return wc.store }

// Tree returns the tree the working copy was last checked out to or
// snapshotted as.
func (wc *LocalWorkingCopy) Tree() (*mergedtree.MergedTree, error) {
	ts, err := wc.treeState()
	if err != nil {
		return nil, err
	}
	return ts.CurrentTree(), nil
}

// SparsePatterns returns the materialized path prefixes.
func (wc *LocalWorkingCopy) SparsePatterns() ([]repopath.Path, error) {
	ts, err := wc.treeState()
	if err != nil {
		return nil, err
	}
	return ts.SparsePatterns(), nil
}

// FileStates returns the cached disk metadata of every tracked path.
func (wc *LocalWorkingCopy) FileStates() (filestate.FileStates, error) {
	ts, err := wc.treeState()
	if err != nil {
		return filestate.FileStates{}, err
	}
	return ts.FileStates(), nil
}

// StartMutation waits for the working copy lock and reloads the records,
// since another process may have changed them while the lock was not held.
func (wc *LocalWorkingCopy) StartMutation(ctx context.Context) (*LockedLocalWorkingCopy, error) {
	lock, err := filelock.Acquire(ctx, filepath.Join(wc.statePath, LockFileName), buildinfo.Name)
	if err != nil {
		return nil, err
	}
	checkout, err := loadCheckout(wc.statePath)
	if err != nil {
		lock.Release()
		return nil, err
	}
	ts, err := treestate.Load(wc.store, wc.workingCopyPath, wc.statePath, wc.settings)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &LockedLocalWorkingCopy{
		wc:               wc,
		lock:             lock,
		checkout:         checkout,
		treeState:        ts,
		oldOperationID:   checkout.OperationID,
		oldWorkspaceName: checkout.WorkspaceName,
		oldTree:          ts.CurrentTree(),
	}, nil
}

// CheckOut updates the disk to newTree in one locked session and records
// operationID. When expectedOld is set and the working copy is no longer at
// that tree, it fails with treestate.ErrConcurrentCheckout without touching
// the disk.
func (wc *LocalWorkingCopy) CheckOut(ctx context.Context, operationID OperationID, expectedOld, newTree *mergedtree.MergedTree) (*LocalWorkingCopy, treestate.CheckoutStats, error) {
	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return nil, treestate.CheckoutStats{}, err
	}
	if expectedOld != nil && !expectedOld.Equal(locked.OldTree()) {
		locked.Discard()
		return nil, treestate.CheckoutStats{}, treestate.ErrConcurrentCheckout
	}
	stats, err := locked.CheckOut(ctx, newTree)
	if err != nil {
		locked.Discard()
		return nil, stats, err
	}
	updated, err := locked.Finish(operationID)
	if err != nil {
		return nil, stats, err
	}
	return updated, stats, nil
}

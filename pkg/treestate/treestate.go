// Package treestate keeps a directory on disk in sync with a merged tree.
//
// A TreeState records which tree the working copy was last checked out to or
// snapshotted as, plus a cache of the disk metadata of every tracked path.
// Snapshot reads the disk into a new tree; CheckOut writes a tree to disk.
// The state is persisted in the working copy's private state directory and
// must only be mutated by the holder of the working copy lock.
package treestate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/polydawn/refmt/obj/atlas"

	"github.com/paulschiretz/pgl-workingcopy/pkg/execbit"
	"github.com/paulschiretz/pgl-workingcopy/pkg/filestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/metafile"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/pool"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

// FileName is the name of the persisted state in the state directory.
const FileName = "tree_state"

const (
	minContentBuffer = 4 << 10
	maxContentBuffer = 1 << 20
)

// TreeState is the in-memory tree state of one working copy.
type TreeState struct {
	store           store.Store
	workingCopyPath string
	statePath       string
	settings        Settings
	execPolicy      execbit.Policy

	tree           *mergedtree.MergedTree
	fileStates     *filestate.Map
	sparsePatterns []repopath.Path
	// ownMtime is the mtime of the persisted state file, in milliseconds. A
	// file whose mtime is not older than this may have changed after it was
	// last read.
	ownMtime       int64
	fsmonitorClock string

	content *pool.ContentPool
}

func newTreeState(s store.Store, workingCopyPath, statePath string, settings Settings) *TreeState {
	return &TreeState{
		store:           s,
		workingCopyPath: workingCopyPath,
		statePath:       statePath,
		settings:        settings,
		execPolicy:      execbit.NewPolicy(settings.ExecChange, statePath),
		tree:            mergedtree.Empty(s),
		fileStates:      filestate.NewMap(),
		sparsePatterns:  []repopath.Path{repopath.Root},
		content:         pool.NewContentPool(minContentBuffer, maxContentBuffer),
	}
}

// Init creates and saves an empty tree state in statePath.
func Init(s store.Store, workingCopyPath, statePath string, settings Settings) (*TreeState, error) {
	ts := newTreeState(s, workingCopyPath, statePath, settings)
	if err := ts.Save(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Load reads the tree state from statePath. A missing state file is
// initialized as empty.
func Load(s store.Store, workingCopyPath, statePath string, settings Settings) (*TreeState, error) {
	ts := newTreeState(s, workingCopyPath, statePath, settings)
	path := ts.stateFile()

	var proto treeStateProto
	if err := metafile.Read(path, &proto, treeStateAtlas); err != nil {
		if os.IsNotExist(err) {
			plog.Debug("No tree state found, initializing", "path", path)
			return Init(s, workingCopyPath, statePath, settings)
		}
		return nil, treeStateErr(path, err)
	}
	if err := ts.applyProto(&proto); err != nil {
		return nil, &TreeStateError{Kind: TreeStateDecode, Path: path, Err: err}
	}
	if err := ts.updateOwnMtime(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TreeState) stateFile() string { return filepath.Join(ts.statePath, FileName) }

// WorkingCopyPath returns the root directory of the working copy.
func (ts *TreeState) WorkingCopyPath() string { return ts.workingCopyPath }

// CurrentTree returns the tree the working copy is known to match.
func (ts *TreeState) CurrentTree() *mergedtree.MergedTree { return ts.tree }

// FileStates returns a read-only view of the file state cache.
func (ts *TreeState) FileStates() filestate.FileStates { return ts.fileStates.All() }

// SparsePatterns returns the path prefixes materialized on disk.
func (ts *TreeState) SparsePatterns() []repopath.Path { return slices.Clone(ts.sparsePatterns) }

// ExecPolicy returns the effective executable bit policy.
func (ts *TreeState) ExecPolicy() execbit.Policy { return ts.execPolicy }

// FsmonitorClock returns the last filesystem monitor clock, or "".
func (ts *TreeState) FsmonitorClock() string { return ts.fsmonitorClock }

// ResetFsmonitorClock forgets the monitor clock so the next snapshot scans
// everything.
func (ts *TreeState) ResetFsmonitorClock() { ts.fsmonitorClock = "" }

func (ts *TreeState) sparseMatcher() matchers.Matcher {
	return matchers.NewPrefix(ts.sparsePatterns)
}

// Save persists the state atomically and refreshes ownMtime.
func (ts *TreeState) Save() error {
	path := ts.stateFile()
	if err := metafile.Write(path, ts.toProto(), treeStateAtlas); err != nil {
		return treeStateErr(path, err)
	}
	return ts.updateOwnMtime()
}

func (ts *TreeState) updateOwnMtime() error {
	path := ts.stateFile()
	info, err := os.Stat(path)
	if err != nil {
		return &TreeStateError{Kind: TreeStateRead, Path: path, Err: err}
	}
	ts.ownMtime = info.ModTime().UnixMilli()
	return nil
}

func treeStateErr(path string, err error) *TreeStateError {
	kind := TreeStateRead
	var metaErr *metafile.Error
	if errors.As(err, &metaErr) {
		switch metaErr.Op {
		case metafile.OpDecode:
			kind = TreeStateDecode
		case metafile.OpWrite:
			kind = TreeStateWrite
		case metafile.OpPersist:
			kind = TreeStatePersist
		}
	}
	return &TreeStateError{Kind: kind, Path: path, Err: err}
}

type fileStateProto struct {
	Path        string `refmt:"path"`
	Type        uint8  `refmt:"type"`
	Executable  bool   `refmt:"exec"`
	MtimeMillis int64  `refmt:"mtime"`
	Size        int64  `refmt:"size"`
	MarkerLen   int    `refmt:"markerLen"`
}

type treeStateProto struct {
	TreeIDs            [][]byte         `refmt:"treeIds"`
	ConflictLabels     []string         `refmt:"conflictLabels"`
	FileStates         []fileStateProto `refmt:"fileStates"`
	IsFileStatesSorted bool             `refmt:"isFileStatesSorted"`
	SparsePatterns     []string         `refmt:"sparsePatterns"`
	FsmonitorClock     string           `refmt:"fsmonitorClock"`
}

var treeStateAtlas = atlas.MustBuild(
	atlas.BuildEntry(treeStateProto{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(fileStateProto{}).StructMap().Autogenerate().Complete(),
)

func (ts *TreeState) toProto() *treeStateProto {
	ids := ts.tree.IDs().Terms()
	proto := &treeStateProto{
		TreeIDs:            make([][]byte, len(ids)),
		ConflictLabels:     append([]string{}, ts.tree.Labels()...),
		FileStates:         make([]fileStateProto, 0, ts.fileStates.Len()),
		IsFileStatesSorted: true,
		SparsePatterns:     make([]string, len(ts.sparsePatterns)),
		FsmonitorClock:     ts.fsmonitorClock,
	}
	for i, id := range ids {
		proto.TreeIDs[i] = slices.Clone(id[:])
	}
	for p, s := range ts.fileStates.All().All() {
		proto.FileStates = append(proto.FileStates, fileStateProto{
			Path:        string(p),
			Type:        uint8(s.Type),
			Executable:  s.Executable,
			MtimeMillis: s.MtimeMillis,
			Size:        s.Size,
			MarkerLen:   s.MarkerLen,
		})
	}
	for i, p := range ts.sparsePatterns {
		proto.SparsePatterns[i] = string(p)
	}
	return proto
}

func (ts *TreeState) applyProto(proto *treeStateProto) error {
	if len(proto.TreeIDs) == 0 || len(proto.TreeIDs)%2 == 0 {
		return fmt.Errorf("invalid number of tree ids: %d", len(proto.TreeIDs))
	}
	ids := make([]store.ID, len(proto.TreeIDs))
	for i, raw := range proto.TreeIDs {
		if len(raw) != len(ids[i]) {
			return fmt.Errorf("invalid tree id length %d", len(raw))
		}
		copy(ids[i][:], raw)
	}
	ts.tree = mergedtree.New(ts.store, merge.FromTerms(ids), proto.ConflictLabels)

	entries := make([]filestate.Entry, len(proto.FileStates))
	for i, f := range proto.FileStates {
		p, err := repopath.Parse(f.Path)
		if err != nil {
			return err
		}
		entries[i] = filestate.Entry{Path: p, State: filestate.FileState{
			Type:        filestate.FileType(f.Type),
			Executable:  f.Executable,
			MtimeMillis: f.MtimeMillis,
			Size:        f.Size,
			MarkerLen:   f.MarkerLen,
		}}
	}
	ts.fileStates = filestate.FromEntries(entries, proto.IsFileStatesSorted)

	ts.sparsePatterns = make([]repopath.Path, len(proto.SparsePatterns))
	for i, raw := range proto.SparsePatterns {
		p, err := repopath.Parse(raw)
		if err != nil {
			return err
		}
		ts.sparsePatterns[i] = p
	}
	ts.fsmonitorClock = proto.FsmonitorClock
	return nil
}

// checkInvariants verifies that the file states cover exactly the tree's
// paths under the sparse patterns.
func (ts *TreeState) checkInvariants(ctx context.Context) error {
	entries, err := ts.tree.Entries(ctx, ts.sparseMatcher())
	if err != nil {
		return err
	}
	states := ts.fileStates.All().Entries()
	for i := 0; i < len(entries) || i < len(states); i++ {
		switch {
		case i >= len(entries):
			return fmt.Errorf("internal error: file state for %q has no tree entry", states[i].Path)
		case i >= len(states):
			return fmt.Errorf("internal error: tree entry %q has no file state", entries[i].Path)
		case entries[i].Path != states[i].Path:
			return fmt.Errorf("internal error: tree entry %q does not match file state %q", entries[i].Path, states[i].Path)
		}
	}
	return nil
}

// Package store implements the content-addressed object store the working copy
// reads from and writes to.
//
// Objects are addressed by git-compatible SHA-1 ids ("blob" for file and
// symlink content, "tree" for directory listings) and live below
// objects/<hh>/<rest> in a billy filesystem. File content is pgzip-compressed;
// trees are CBOR-encoded entry lists.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// ID identifies an object in the store.
type ID = plumbing.Hash

// ParseID parses a hex object id.
func ParseID(s string) (ID, error) {
	if !plumbing.IsHash(s) {
		return ID{}, fmt.Errorf("invalid object id %q", s)
	}
	return plumbing.NewHash(s), nil
}

// ErrObjectNotFound is returned when an id has no object in the store.
var ErrObjectNotFound = errors.New("object not found")

// Kind is the type of a tree entry.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindFile
	KindSymlink
	KindTree
	KindGitSubmodule
)

var kindToString = map[Kind]string{
	KindAbsent:       "absent",
	KindFile:         "file",
	KindSymlink:      "symlink",
	KindTree:         "tree",
	KindGitSubmodule: "git-submodule",
}

func (k Kind) String() string {
	if s, ok := kindToString[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown_kind(%d)", k)
}

// TreeValue is the value stored at a path in a tree. The zero value is
// absent, which lets merges of tree values express deletion.
type TreeValue struct {
	Kind       Kind
	ID         ID
	Executable bool
}

// Absent is the zero TreeValue.
var Absent = TreeValue{}

// FileValue builds a file tree value.
func FileValue(id ID, executable bool) TreeValue {
	return TreeValue{Kind: KindFile, ID: id, Executable: executable}
}

// SymlinkValue builds a symlink tree value.
func SymlinkValue(id ID) TreeValue { return TreeValue{Kind: KindSymlink, ID: id} }

// TreeRef builds a subtree tree value.
func TreeRef(id ID) TreeValue { return TreeValue{Kind: KindTree, ID: id} }

// SubmoduleValue builds a git submodule tree value.
func SubmoduleValue(id ID) TreeValue { return TreeValue{Kind: KindGitSubmodule, ID: id} }

// IsPresent reports whether v is not absent.
func (v TreeValue) IsPresent() bool { return v.Kind != KindAbsent }

func (v TreeValue) String() string {
	switch v.Kind {
	case KindAbsent:
		return "absent"
	case KindFile:
		if v.Executable {
			return fmt.Sprintf("file(%s, executable)", v.ID)
		}
		return fmt.Sprintf("file(%s)", v.ID)
	default:
		return fmt.Sprintf("%s(%s)", v.Kind, v.ID)
	}
}

// TreeEntry is one named entry of a tree object.
type TreeEntry struct {
	Name  string
	Value TreeValue
}

// Tree is a directory listing sorted by name.
type Tree struct {
	Entries []TreeEntry
}

// Get returns the entry named name.
func (t *Tree) Get(name string) (TreeValue, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Absent, false
}

// Store is the interface the working copy needs from an object store. It must
// be safe for concurrent use.
type Store interface {
	WriteFile(ctx context.Context, path repopath.Path, r io.Reader) (ID, error)
	ReadFile(ctx context.Context, path repopath.Path, id ID) (io.ReadCloser, error)
	WriteSymlink(ctx context.Context, path repopath.Path, target string) (ID, error)
	ReadSymlink(ctx context.Context, path repopath.Path, id ID) (string, error)
	WriteTree(ctx context.Context, dir repopath.Path, tree *Tree) (ID, error)
	ReadTree(ctx context.Context, dir repopath.Path, id ID) (*Tree, error)
	EmptyTreeID() ID
}

// ObjectError describes a failed store operation on a path.
type ObjectError struct {
	Op   string
	Path repopath.Path
	ID   ID
	Err  error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("store %s %q (%s): %v", e.Op, e.Path, e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

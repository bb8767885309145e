// Package filestate holds the per-path cache of last observed disk metadata.
//
// A snapshot compares the current metadata of a file against its cached
// FileState; when both agree the file content is assumed unchanged and is not
// read again.
package filestate

import (
	"fmt"
	"io/fs"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// FileType is the kind of a tracked disk entry.
type FileType uint8

const (
	TypeNormal FileType = iota
	TypeSymlink
	TypeGitSubmodule
)

var fileTypeToString = map[FileType]string{
	TypeNormal:       "normal",
	TypeSymlink:      "symlink",
	TypeGitSubmodule: "git-submodule",
}

func (t FileType) String() string {
	if s, ok := fileTypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown_type(%d)", t)
}

// FileState is the cached metadata of one path.
type FileState struct {
	Type FileType
	// Executable is the on-disk exec bit of a normal file.
	Executable  bool
	MtimeMillis int64
	Size        int64
	// MarkerLen is the conflict marker length of a materialized conflict, or 0.
	MarkerLen int
}

// IsClean reports whether s and old describe the same disk entry. The
// conflict marker length is not compared.
func (s FileState) IsClean(old FileState) bool {
	return s.Type == old.Type &&
		s.Executable == old.Executable &&
		s.MtimeMillis == old.MtimeMillis &&
		s.Size == old.Size
}

// Placeholder is a state that never matches a real file, so the next
// snapshot reads the path again.
func Placeholder() FileState {
	return FileState{Type: TypeNormal}
}

// ForGitSubmodule is the state of a submodule path. Its metadata is not tracked.
func ForGitSubmodule() FileState {
	return FileState{Type: TypeGitSubmodule}
}

// ForSymlink builds the state of a symlink from its Lstat info.
func ForSymlink(info fs.FileInfo) FileState {
	return FileState{
		Type:        TypeSymlink,
		MtimeMillis: info.ModTime().UnixMilli(),
		Size:        info.Size(),
	}
}

// ForFile builds the state of a regular file.
func ForFile(info fs.FileInfo, executable bool) FileState {
	return FileState{
		Type:        TypeNormal,
		Executable:  executable,
		MtimeMillis: info.ModTime().UnixMilli(),
		Size:        info.Size(),
	}
}

func (s FileState) String() string {
	return fmt.Sprintf("%s(exec=%v, mtime=%d, size=%d, markerLen=%d)", s.Type, s.Executable, s.MtimeMillis, s.Size, s.MarkerLen)
}

// Entry pairs a path with its state.
type Entry struct {
	Path  repopath.Path
	State FileState
}

func compareEntries(a, b Entry) int { return repopath.Compare(a.Path, b.Path) }

// Map is the sorted, duplicate-free collection of all file states.
type Map struct {
	entries []Entry
}

// NewMap returns an empty map.
func NewMap() *Map { return &Map{} }

// FromEntries builds a map. Unless isSorted is set the entries are sorted and
// later duplicates win.
func FromEntries(entries []Entry, isSorted bool) *Map {
	entries = slices.Clone(entries)
	if !isSorted {
		slices.SortStableFunc(entries, compareEntries)
		out := entries[:0]
		for _, e := range entries {
			if len(out) > 0 && out[len(out)-1].Path == e.Path {
				out[len(out)-1] = e
				continue
			}
			out = append(out, e)
		}
		entries = out
	}
	return &Map{entries: entries}
}

// MergeIn applies changed states and deletions in one pass. changed must be
// sorted by path and must not share paths with deleted.
func (m *Map) MergeIn(changed []Entry, deleted []repopath.Path) {
	if len(changed) == 0 && len(deleted) == 0 {
		return
	}
	if !slices.IsSortedFunc(changed, compareEntries) {
		panic("filestate: changed entries must be sorted by path")
	}
	gone := make(map[repopath.Path]struct{}, len(deleted))
	for _, p := range deleted {
		gone[p] = struct{}{}
	}

	merged := make([]Entry, 0, len(m.entries)+len(changed))
	i, j := 0, 0
	for i < len(m.entries) || j < len(changed) {
		var c int
		switch {
		case i == len(m.entries):
			c = 1
		case j == len(changed):
			c = -1
		default:
			c = compareEntries(m.entries[i], changed[j])
		}
		switch {
		case c < 0:
			if _, ok := gone[m.entries[i].Path]; !ok {
				merged = append(merged, m.entries[i])
			}
			i++
		case c > 0:
			merged = append(merged, changed[j])
			j++
		default:
			merged = append(merged, changed[j])
			i++
			j++
		}
	}
	m.entries = merged
}

// Clear removes every entry.
func (m *Map) Clear() { m.entries = nil }

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.entries) }

// All returns a read-only view of the whole map.
func (m *Map) All() FileStates { return FileStates{entries: m.entries} }

// FileStates is a read-only, sorted view of file states, possibly restricted
// to the entries below a directory.
type FileStates struct {
	entries []Entry
}

// Len returns the number of entries in the view.
func (f FileStates) Len() int { return len(f.entries) }

// IsEmpty reports whether the view has no entries.
func (f FileStates) IsEmpty() bool { return len(f.entries) == 0 }

// Entries returns the entries in path order. The slice must not be modified.
func (f FileStates) Entries() []Entry { return f.entries }

// All iterates the view in path order.
func (f FileStates) All() iter.Seq2[repopath.Path, FileState] {
	return func(yield func(repopath.Path, FileState) bool) {
		for _, e := range f.entries {
			if !yield(e.Path, e.State) {
				return
			}
		}
	}
}

// Paths returns the paths in the view.
func (f FileStates) Paths() []repopath.Path {
	out := make([]repopath.Path, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Path
	}
	return out
}

func (f FileStates) index(p repopath.Path) (int, bool) {
	return sort.Find(len(f.entries), func(i int) int {
		return repopath.Compare(p, f.entries[i].Path)
	})
}

// Get returns the state of p.
func (f FileStates) Get(p repopath.Path) (FileState, bool) {
	i, ok := f.index(p)
	if !ok {
		return FileState{}, false
	}
	return f.entries[i].State, true
}

// GetExecBit returns the cached exec bit of a normal file.
func (f FileStates) GetExecBit(p repopath.Path) (bool, bool) {
	s, ok := f.Get(p)
	if !ok || s.Type != TypeNormal {
		return false, false
	}
	return s.Executable, true
}

// ContainsPath reports whether p has a state.
func (f FileStates) ContainsPath(p repopath.Path) bool {
	_, ok := f.index(p)
	return ok
}

// Prefixed returns the entries strictly below dir. An entry at dir itself,
// such as a file since replaced by a directory, is not included; the walk of
// the parent directory reports it.
func (f FileStates) Prefixed(dir repopath.Path) FileStates {
	if dir.IsRoot() {
		return f
	}
	childPrefix := repopath.Path(string(dir) + "/")
	start := sort.Search(len(f.entries), func(i int) bool {
		return repopath.Compare(f.entries[i].Path, childPrefix) >= 0
	})
	rest := f.entries[start:]
	end := sort.Search(len(rest), func(i int) bool {
		return !strings.HasPrefix(string(rest[i].Path), string(childPrefix))
	})
	return FileStates{entries: rest[:end]}
}

// relative strips the known prefix dir from an entry path.
func relative(p repopath.Path, dir repopath.Path) string {
	if dir.IsRoot() {
		return string(p)
	}
	return string(p[len(dir)+1:])
}

// PrefixedAt is Prefixed(dir.Join(name)) for a view whose entries are all
// below dir. It only compares the part of each path below dir. Like Prefixed,
// it excludes the entry at dir.Join(name) itself.
func (f FileStates) PrefixedAt(dir repopath.Path, name string) FileStates {
	childPrefix := name + "/"
	start := sort.Search(len(f.entries), func(i int) bool {
		return repopath.Compare(repopath.Path(relative(f.entries[i].Path, dir)), repopath.Path(childPrefix)) >= 0
	})
	rest := f.entries[start:]
	end := sort.Search(len(rest), func(i int) bool {
		return !strings.HasPrefix(relative(rest[i].Path, dir), childPrefix)
	})
	return FileStates{entries: rest[:end]}
}

// GetAt is Get(dir.Join(name)) for a view whose entries are all below dir.
func (f FileStates) GetAt(dir repopath.Path, name string) (FileState, bool) {
	i, ok := sort.Find(len(f.entries), func(i int) int {
		return repopath.Compare(repopath.Path(name), repopath.Path(relative(f.entries[i].Path, dir)))
	})
	if !ok {
		return FileState{}, false
	}
	return f.entries[i].State, true
}

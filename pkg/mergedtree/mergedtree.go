// Package mergedtree implements trees that may carry unresolved conflicts.
//
// A MergedTree is a merge.Merge of root tree ids. Each side is an ordinary
// tree in the store; a path's value is the merge of that path's value on
// every side.
package mergedtree

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

// Value is the merged value of one path.
type Value = merge.Merge[store.TreeValue]

// AbsentValue is the resolved absent value.
func AbsentValue() Value { return merge.Resolved(store.Absent) }

// IsAbsent reports whether v is resolved to absent.
func IsAbsent(v Value) bool {
	r, ok := v.AsResolved()
	return ok && !r.IsPresent()
}

// HasPresent reports whether any term of v is present.
func HasPresent(v Value) bool {
	return slices.ContainsFunc(v.Terms(), store.TreeValue.IsPresent)
}

// ConflictLabels names the terms of a conflicted tree, interleaved the same way
// as merge terms. Nil means unlabeled.
type ConflictLabels []string

// Side returns the label of add i, or "side #<i+1>".
func (l ConflictLabels) Side(i int) string {
	if 2*i < len(l) && l[2*i] != "" {
		return l[2*i]
	}
	return fmt.Sprintf("side #%d", i+1)
}

// Base returns the label of remove i.
func (l ConflictLabels) Base(i int) string {
	if 2*i+1 < len(l) && l[2*i+1] != "" {
		return l[2*i+1]
	}
	if i == 0 {
		return "base"
	}
	return fmt.Sprintf("base #%d", i+1)
}

// MergedTree is a possibly conflicted tree.
type MergedTree struct {
	store  store.Store
	ids    merge.Merge[store.ID]
	labels ConflictLabels
}

// New builds a merged tree. Labels are dropped for resolved trees.
func New(s store.Store, ids merge.Merge[store.ID], labels ConflictLabels) *MergedTree {
	if ids.IsResolved() || len(labels) != len(ids.Terms()) {
		labels = nil
	}
	return &MergedTree{store: s, ids: ids, labels: slices.Clone(labels)}
}

// Resolved builds a tree with a single side.
func Resolved(s store.Store, id store.ID) *MergedTree {
	return New(s, merge.Resolved(id), nil)
}

// Empty returns the resolved empty tree.
func Empty(s store.Store) *MergedTree {
	return Resolved(s, s.EmptyTreeID())
}

func (t *MergedTree) Store() store.Store { return t.store }
func (t *MergedTree) IDs() merge.Merge[store.ID] { return t.ids }
func (t *MergedTree) Labels() ConflictLabels { return t.labels }
func (t *MergedTree) IsResolved() bool { return t.ids.IsResolved() }

// Equal reports whether both trees have the same ids and labels.
func (t *MergedTree) Equal(other *MergedTree) bool {
	return merge.Equal(t.ids, other.ids) && slices.Equal(t.labels, other.labels)
}

func (t *MergedTree) String() string {
	if id, ok := t.ids.AsResolved(); ok {
		return id.String()
	}
	return t.ids.String()
}

// Entry is one leaf path of a merged tree.
type Entry struct {
	Path  repopath.Path
	Value Value
}

// Entries lists every leaf path accepted by m, sorted by path. Trivially
// resolvable values are resolved and absent paths are omitted.
func (t *MergedTree) Entries(ctx context.Context, m matchers.Matcher) ([]Entry, error) {
	var entries []Entry
	err := walkDiff(ctx, t.store, repopath.Root, AbsentValue(), t.rootValue(), m, func(e DiffEntry) {
		entries = append(entries, Entry{Path: e.Path, Value: e.After})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func simplifyValue(v Value) Value {
	if r, ok := merge.ResolveTrivial(v); ok {
		return merge.Resolved(r)
	}
	return v
}

func (t *MergedTree) rootValue() Value {
	return simplifyValue(merge.Map(t.ids, store.TreeRef))
}

// leafPart keeps the non-tree terms of v. A path that is a directory on one
// side and a file on another has both a leaf part and a directory part.
func leafPart(v Value) Value {
	return simplifyValue(merge.Map(v, func(tv store.TreeValue) store.TreeValue {
		if tv.Kind == store.KindTree {
			return store.Absent
		}
		return tv
	}))
}

// dirPart keeps the tree terms of v.
func dirPart(v Value) Value {
	return simplifyValue(merge.Map(v, func(tv store.TreeValue) store.TreeValue {
		if tv.Kind != store.KindTree {
			return store.Absent
		}
		return tv
	}))
}

// readDir reads the entries of every tree term of v. Non-tree terms list
// nothing.
func readDir(ctx context.Context, s store.Store, dir repopath.Path, v Value) ([]map[string]store.TreeValue, error) {
	terms := v.Terms()
	out := make([]map[string]store.TreeValue, len(terms))
	byID := make(map[store.ID]map[string]store.TreeValue)
	for i, tv := range terms {
		if tv.Kind != store.KindTree {
			continue
		}
		if entries, ok := byID[tv.ID]; ok {
			out[i] = entries
			continue
		}
		tree, err := s.ReadTree(ctx, dir, tv.ID)
		if err != nil {
			return nil, err
		}
		entries := make(map[string]store.TreeValue, len(tree.Entries))
		for _, e := range tree.Entries {
			entries[e.Name] = e.Value
		}
		byID[tv.ID] = entries
		out[i] = entries
	}
	return out, nil
}

func childValue(sides []map[string]store.TreeValue, name string) Value {
	terms := make([]store.TreeValue, len(sides))
	for i, entries := range sides {
		terms[i] = entries[name]
	}
	return merge.FromTerms(terms)
}

// walkDiff compares the directory dir, whose merged tree values are before
// and after, and calls emit in path order for every leaf accepted by m whose
// value differs. Subdirectories with the same tree ids on both sides are not
// read.
func walkDiff(ctx context.Context, s store.Store, dir repopath.Path, before, after Value, m matchers.Matcher, emit func(DiffEntry)) error {
	if merge.Equal(before, after) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	visit := m.Visit(dir)
	if visit.IsNothing() {
		return nil
	}
	beforeSides, err := readDir(ctx, s, dir, before)
	if err != nil {
		return err
	}
	afterSides, err := readDir(ctx, s, dir, after)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, sides := range [][]map[string]store.TreeValue{beforeSides, afterSides} {
		for _, entries := range sides {
			for name := range entries {
				seen[name] = struct{}{}
			}
		}
	}
	// Byte order of names is path order as long as each subtree is walked
	// right after the leaf of the same name.
	names := slices.Sorted(maps.Keys(seen))

	for _, name := range names {
		p := dir.Join(name)
		b := childValue(beforeSides, name)
		a := childValue(afterSides, name)
		if m.Matches(p) {
			if lb, la := leafPart(b), leafPart(a); !merge.Equal(lb, la) {
				emit(DiffEntry{Path: p, Before: lb, After: la})
			}
		}
		if !visit.Dirs().Contains(name) {
			continue
		}
		db, da := dirPart(b), dirPart(a)
		if !HasPresent(db) && !HasPresent(da) {
			continue
		}
		if err := walkDiff(ctx, s, p, db, da, m, emit); err != nil {
			return err
		}
	}
	return nil
}

// PathValue returns the merged value stored at p. Directories are returned as
// tree values.
func (t *MergedTree) PathValue(ctx context.Context, p repopath.Path) (Value, error) {
	values, err := merge.TryMap(t.ids, func(id store.ID) (store.TreeValue, error) {
		return lookup(ctx, t.store, id, p)
	})
	if err != nil {
		return Value{}, err
	}
	return simplifyValue(values), nil
}

func lookup(ctx context.Context, s store.Store, root store.ID, p repopath.Path) (store.TreeValue, error) {
	if p.IsRoot() {
		return store.TreeRef(root), nil
	}
	cur := store.TreeRef(root)
	dir := repopath.Root
	for _, name := range p.Components() {
		if cur.Kind != store.KindTree {
			return store.Absent, nil
		}
		tree, err := s.ReadTree(ctx, dir, cur.ID)
		if err != nil {
			return store.Absent, err
		}
		v, ok := tree.Get(name)
		if !ok {
			return store.Absent, nil
		}
		cur = v
		dir = dir.Join(name)
	}
	return cur, nil
}

// DiffEntry is one changed leaf path.
type DiffEntry struct {
	Path   repopath.Path
	Before Value
	After  Value
}

// Diff lists paths whose value differs between t and other, restricted to m.
//
// Entries are in path order except that a path that gains a value is moved
// after the paths below it, so that a directory is emptied before a file
// takes its place.
func (t *MergedTree) Diff(ctx context.Context, other *MergedTree, m matchers.Matcher) ([]DiffEntry, error) {
	var sorted []DiffEntry
	err := walkDiff(ctx, t.store, repopath.Root, t.rootValue(), other.rootValue(), m, func(e DiffEntry) {
		sorted = append(sorted, e)
	})
	if err != nil {
		return nil, err
	}
	return deferFilesAfterDescendants(sorted), nil
}

func deferFilesAfterDescendants(sorted []DiffEntry) []DiffEntry {
	out := make([]DiffEntry, 0, len(sorted))
	var pending []DiffEntry
	for _, e := range sorted {
		for len(pending) > 0 && !e.Path.StartsWith(pending[len(pending)-1].Path) {
			out = append(out, pending[len(pending)-1])
			pending = pending[:len(pending)-1]
		}
		if HasPresent(e.After) {
			pending = append(pending, e)
		} else {
			out = append(out, e)
		}
	}
	for i := len(pending) - 1; i >= 0; i-- {
		out = append(out, pending[i])
	}
	return out
}

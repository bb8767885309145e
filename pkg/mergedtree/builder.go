package mergedtree

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

// TreeBuilder applies leaf-path edits to a base merged tree and writes the
// result to the store.
type TreeBuilder struct {
	store     store.Store
	base      merge.Merge[store.ID]
	overrides map[repopath.Path]Value
}

// NewTreeBuilder starts a builder on top of base.
func NewTreeBuilder(s store.Store, base merge.Merge[store.ID]) *TreeBuilder {
	return &TreeBuilder{store: s, base: base, overrides: make(map[repopath.Path]Value)}
}

// Set replaces the value at p. A later Set of the same path wins.
func (b *TreeBuilder) Set(p repopath.Path, v Value) {
	b.overrides[p] = v
}

// SetResolved replaces the value at p with a single resolved value.
func (b *TreeBuilder) SetResolved(p repopath.Path, v store.TreeValue) {
	b.Set(p, merge.Resolved(v))
}

// Remove deletes the leaf at p.
func (b *TreeBuilder) Remove(p repopath.Path) {
	b.Set(p, AbsentValue())
}

// Len returns the number of pending edits.
func (b *TreeBuilder) Len() int { return len(b.overrides) }

// dirEdits is the set of edits below one directory.
type dirEdits struct {
	leaves  map[string]store.TreeValue
	subdirs map[string]*dirEdits
}

func newDirEdits() *dirEdits {
	return &dirEdits{leaves: make(map[string]store.TreeValue), subdirs: make(map[string]*dirEdits)}
}

func (d *dirEdits) add(p repopath.Path, v store.TreeValue) {
	components := p.Components()
	cur := d
	for _, name := range components[:len(components)-1] {
		next, ok := cur.subdirs[name]
		if !ok {
			next = newDirEdits()
			cur.subdirs[name] = next
		}
		cur = next
	}
	cur.leaves[components[len(components)-1]] = v
}

// Write stores the edited tree and returns its ids. All conflicted values and
// the base must agree on the number of sides; resolved ones are repeated on
// every side.
func (b *TreeBuilder) Write(ctx context.Context) (merge.Merge[store.ID], error) {
	if len(b.overrides) == 0 {
		return b.base, nil
	}

	numSides := b.base.NumSides()
	for _, v := range b.overrides {
		numSides = max(numSides, v.NumSides())
	}
	base, err := b.base.Pad(numSides)
	if err != nil {
		return merge.Merge[store.ID]{}, fmt.Errorf("failed to pad base tree: %w", err)
	}

	// 1. Split the edits per term.
	numTerms := 2*numSides - 1
	perTerm := make([]*dirEdits, numTerms)
	for i := range perTerm {
		perTerm[i] = newDirEdits()
	}
	for p, v := range b.overrides {
		if p.IsRoot() {
			return merge.Merge[store.ID]{}, fmt.Errorf("cannot set a value at the repository root")
		}
		padded, err := v.Pad(numSides)
		if err != nil {
			return merge.Merge[store.ID]{}, fmt.Errorf("value at %q: %w", p, err)
		}
		for i, term := range padded.Terms() {
			perTerm[i].add(p, term)
		}
	}

	// 2. Rewrite every term's tree.
	ids := make([]store.ID, numTerms)
	for i, baseID := range base.Terms() {
		baseTree, err := b.store.ReadTree(ctx, repopath.Root, baseID)
		if err != nil {
			return merge.Merge[store.ID]{}, err
		}
		id, _, err := b.writeDir(ctx, repopath.Root, baseTree, perTerm[i])
		if err != nil {
			return merge.Merge[store.ID]{}, err
		}
		ids[i] = id
	}

	// 3. Collapse the result when the sides agree.
	result := merge.FromTerms(ids)
	if id, ok := merge.ResolveTrivial(result); ok {
		return merge.Resolved(id), nil
	}
	return result, nil
}

// writeDir applies edits to base and writes the directory. It reports whether
// the directory ended up empty; empty subdirectories are not written.
func (b *TreeBuilder) writeDir(ctx context.Context, dir repopath.Path, base *store.Tree, edits *dirEdits) (store.ID, bool, error) {
	entries := make(map[string]store.TreeValue, len(base.Entries))
	for _, e := range base.Entries {
		entries[e.Name] = e.Value
	}

	for _, name := range slices.Sorted(maps.Keys(edits.subdirs)) {
		sub := &store.Tree{}
		if existing := entries[name]; existing.Kind == store.KindTree {
			t, err := b.store.ReadTree(ctx, dir.Join(name), existing.ID)
			if err != nil {
				return store.ID{}, false, err
			}
			sub = t
		}
		id, empty, err := b.writeDir(ctx, dir.Join(name), sub, edits.subdirs[name])
		if err != nil {
			return store.ID{}, false, err
		}
		switch {
		case !empty:
			entries[name] = store.TreeRef(id)
		case entries[name].Kind == store.KindTree:
			delete(entries, name)
		}
	}

	for name, v := range edits.leaves {
		if v.IsPresent() {
			entries[name] = v
			continue
		}
		// Removing a leaf never removes a directory that replaced it.
		if entries[name].Kind != store.KindTree {
			delete(entries, name)
		}
	}

	if len(entries) == 0 && !dir.IsRoot() {
		return store.ID{}, true, nil
	}
	tree := &store.Tree{Entries: make([]store.TreeEntry, 0, len(entries))}
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		tree.Entries = append(tree.Entries, store.TreeEntry{Name: name, Value: entries[name]})
	}
	id, err := b.store.WriteTree(ctx, dir, tree)
	if err != nil {
		return store.ID{}, false, err
	}
	return id, len(entries) == 0, nil
}

// WriteTree is Write wrapped into a MergedTree carrying labels.
func (b *TreeBuilder) WriteTree(ctx context.Context, labels ConflictLabels) (*MergedTree, error) {
	ids, err := b.Write(ctx)
	if err != nil {
		return nil, err
	}
	return New(b.store, ids, labels), nil
}

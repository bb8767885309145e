package filestate

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

func state(size int64) FileState {
	return FileState{Type: TypeNormal, MtimeMillis: 1000, Size: size}
}

func entriesOf(paths ...repopath.Path) []Entry {
	out := make([]Entry, len(paths))
	for i, p := range paths {
		out[i] = Entry{Path: p, State: state(int64(i))}
	}
	return out
}

func TestFileStates_Ordering(t *testing.T) {
	paths := []repopath.Path{"aa", "b/c", "b/d/e", "b#", "bc"}
	for i := 0; i < 10; i++ {
		shuffled := slices.Clone(paths)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		states := FromEntries(entriesOf(shuffled...), false).All()

		if got := states.Prefixed("b").Paths(); !slices.Equal(got, []repopath.Path{"b/c", "b/d/e"}) {
			t.Fatalf("expected [b/c b/d/e], but got %v", got)
		}
		if _, ok := states.Get("b#"); !ok {
			t.Error("expected b# to be found")
		}
		if _, ok := states.Get("b"); ok {
			t.Error("expected b not to be found")
		}
		if got := states.Paths(); !slices.Equal(got, paths) {
			t.Errorf("expected sorted paths %v, but got %v", paths, got)
		}
	}
}

func TestFileStates_PrefixedAtAndGetAt(t *testing.T) {
	states := FromEntries(entriesOf("a/b", "a/b/c", "a/b/d", "a/b#", "a/bc", "z"), true).All()

	under := states.Prefixed("a")
	if got := under.PrefixedAt("a", "b").Paths(); !slices.Equal(got, []repopath.Path{"a/b/c", "a/b/d"}) {
		t.Errorf("expected [a/b/c a/b/d], but got %v", got)
	}
	// The file at a/b itself belongs to the parent's listing.
	if got := states.Prefixed("a/b").Paths(); !slices.Equal(got, []repopath.Path{"a/b/c", "a/b/d"}) {
		t.Errorf("expected [a/b/c a/b/d] without a/b, but got %v", got)
	}
	if _, ok := under.GetAt("a", "b#"); !ok {
		t.Error("expected a/b# to be found")
	}
	if _, ok := under.GetAt("a", "x"); ok {
		t.Error("expected a/x not to be found")
	}

	root := states.PrefixedAt(repopath.Root, "a")
	if root.Len() != 5 {
		t.Errorf("expected 5 entries below a, but got %d", root.Len())
	}
}

func TestFileStates_GetExecBit(t *testing.T) {
	m := FromEntries([]Entry{
		{Path: "exec", State: FileState{Type: TypeNormal, Executable: true}},
		{Path: "link", State: FileState{Type: TypeSymlink}},
	}, false)

	if exec, ok := m.All().GetExecBit("exec"); !ok || !exec {
		t.Errorf("expected exec bit true, but got %v (ok=%v)", exec, ok)
	}
	if _, ok := m.All().GetExecBit("link"); ok {
		t.Error("expected symlink to have no exec bit")
	}
}

func TestFromEntries_DuplicatesLastWins(t *testing.T) {
	m := FromEntries([]Entry{
		{Path: "a", State: state(1)},
		{Path: "a", State: state(2)},
	}, false)
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, but got %d", m.Len())
	}
	if s, _ := m.All().Get("a"); s.Size != 2 {
		t.Errorf("expected the later entry to win, but got size %d", s.Size)
	}
}

func TestMergeIn_NoOp(t *testing.T) {
	m := FromEntries(entriesOf("a", "b"), true)
	before := m.All().Entries()
	m.MergeIn(nil, nil)
	if !slices.Equal(m.All().Entries(), before) {
		t.Error("expected empty merge to leave the map unchanged")
	}
}

func TestMergeIn_Invariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	pathPool := make([]repopath.Path, 0, 60)
	for _, dir := range []string{"", "b/", "b/d/", "c#", "c/"} {
		for i := 0; i < 12; i++ {
			pathPool = append(pathPool, repopath.Path(fmt.Sprintf("%sf%02d", dir, i)))
		}
	}

	for round := 0; round < 50; round++ {
		original := map[repopath.Path]FileState{}
		changed := map[repopath.Path]FileState{}
		var deleted []repopath.Path
		for _, p := range pathPool {
			switch rng.IntN(4) {
			case 0:
				original[p] = state(1)
			case 1:
				original[p] = state(1)
				changed[p] = state(2)
			case 2:
				changed[p] = state(3)
			case 3:
				if rng.IntN(2) == 0 {
					original[p] = state(1)
				}
				deleted = append(deleted, p)
			}
		}

		var origEntries, changedEntries []Entry
		for p, s := range original {
			origEntries = append(origEntries, Entry{Path: p, State: s})
		}
		for p, s := range changed {
			changedEntries = append(changedEntries, Entry{Path: p, State: s})
		}
		slices.SortFunc(changedEntries, compareEntries)

		m := FromEntries(origEntries, false)
		m.MergeIn(changedEntries, deleted)
		got := m.All().Entries()

		if !slices.IsSortedFunc(got, compareEntries) {
			t.Fatalf("round %d: result is not sorted", round)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].Path == got[i].Path {
				t.Fatalf("round %d: duplicate path %q", round, got[i].Path)
			}
		}
		result := map[repopath.Path]FileState{}
		for _, e := range got {
			result[e.Path] = e.State
		}
		for p, s := range changed {
			if result[p] != s {
				t.Errorf("round %d: expected %q to have %v, but got %v", round, p, s, result[p])
			}
		}
		for _, p := range deleted {
			if _, ok := result[p]; ok {
				t.Errorf("round %d: expected %q to be deleted", round, p)
			}
		}
		for p, s := range original {
			if _, isChanged := changed[p]; isChanged || slices.Contains(deleted, p) {
				continue
			}
			if result[p] != s {
				t.Errorf("round %d: expected untouched %q to keep %v, but got %v", round, p, s, result[p])
			}
		}
	}
}

func TestMergeIn_UnsortedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected unsorted changes to panic")
		}
	}()
	m := NewMap()
	m.MergeIn(entriesOf("b", "a"), nil)
}

func TestIsClean(t *testing.T) {
	a := FileState{Type: TypeNormal, MtimeMillis: 5, Size: 10, MarkerLen: 7}
	b := a
	b.MarkerLen = 11
	if !a.IsClean(b) {
		t.Error("expected marker length to be ignored")
	}
	b.Size = 11
	if a.IsClean(b) {
		t.Error("expected a size change to be dirty")
	}
	if Placeholder().IsClean(a) {
		t.Error("expected placeholder not to match a real file")
	}
}

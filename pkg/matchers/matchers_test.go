package matchers

import (
	"testing"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

func TestPrefix(t *testing.T) {
	m := NewPrefix([]repopath.Path{"a/b", "c"})

	for _, p := range []repopath.Path{"a/b", "a/b/x", "c", "c/d/e"} {
		if !m.Matches(p) {
			t.Errorf("expected %q to match", p)
		}
	}
	for _, p := range []repopath.Path{"a", "a/bc", "b", "cd"} {
		if m.Matches(p) {
			t.Errorf("expected %q not to match", p)
		}
	}

	root := m.Visit(repopath.Root)
	if root.IsNothing() || root.IsAllRecursively() {
		t.Fatalf("expected a specific visit at the root, but got %v", root)
	}
	if !root.Dirs().Contains("a") || !root.Dirs().Contains("c") || root.Dirs().Contains("b") {
		t.Errorf("unexpected dirs at root: %v", root)
	}
	if !m.Visit("a/b/deep").IsAllRecursively() {
		t.Error("expected everything below a prefix to be visited")
	}
	if !m.Visit("x").IsNothing() {
		t.Error("expected unrelated directory to visit nothing")
	}
}

func TestRootPrefixMatchesEverything(t *testing.T) {
	m := NewPrefix([]repopath.Path{repopath.Root})
	if !m.Visit(repopath.Root).IsAllRecursively() || !m.Matches("any/thing") {
		t.Error("expected root prefix to match everything")
	}
}

func TestFiles(t *testing.T) {
	m := NewFiles("a/b/c", "a/d", "e")

	v := m.Visit("a")
	if !v.Dirs().Contains("b") || v.Dirs().Contains("d") {
		t.Errorf("expected dir b only, but got %v", v)
	}
	if !v.Files().Contains("d") || v.Files().Contains("b") {
		t.Errorf("expected file d only, but got %v", v)
	}
	if !m.Visit("z").IsNothing() {
		t.Error("expected unrelated directory to visit nothing")
	}
	if m.Matches("a") || !m.Matches("a/b/c") {
		t.Error("expected only exact file paths to match")
	}
}

func TestIntersectionAndDifference(t *testing.T) {
	sparse := NewPrefix([]repopath.Path{"src"})
	files := NewFiles("src/a.go", "docs/b.md")

	inter := NewIntersection(sparse, files)
	if !inter.Matches("src/a.go") || inter.Matches("docs/b.md") {
		t.Error("unexpected intersection matches")
	}
	if !inter.Visit("docs").IsNothing() {
		t.Error("expected intersection to prune docs")
	}

	diff := NewDifference(Everything{}, sparse)
	if diff.Matches("src/x") || !diff.Matches("other") {
		t.Error("unexpected difference matches")
	}
	if !diff.Visit("src").IsNothing() {
		t.Error("expected difference to prune the unwanted prefix")
	}
	if v := diff.Visit(repopath.Root); v.IsNothing() || v.IsAllRecursively() {
		t.Errorf("expected a partial visit at the root, but got %v", v)
	}

	if !MatchesNothing(NewIntersection(Nothing{}, sparse)) {
		t.Error("expected intersection with Nothing to match nothing")
	}
	if NewIntersection(Everything{}, sparse) != Matcher(sparse) {
		t.Error("expected intersection with Everything to collapse to the other matcher")
	}
}

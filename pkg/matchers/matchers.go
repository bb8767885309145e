// Package matchers decides which repository paths an operation applies to.
//
// A Matcher answers two questions: does a path match, and which parts of a
// directory could contain matches (Visit). Walkers use Visit to prune subtrees.
package matchers

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// NameSet is either every name (All) or an explicit set of names.
type NameSet struct {
	all   bool
	names map[string]struct{}
}

// AllNames is the NameSet that contains every name.
var AllNames = NameSet{all: true}

// Names builds an explicit NameSet.
func Names(names ...string) NameSet {
	s := NameSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// Contains reports whether name is in the set.
func (s NameSet) Contains(name string) bool {
	if s.all {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// IsEmpty reports whether the set contains no names.
func (s NameSet) IsEmpty() bool { return !s.all && len(s.names) == 0 }

func (s NameSet) intersect(other NameSet) NameSet {
	switch {
	case s.all:
		return other
	case other.all:
		return s
	}
	out := Names()
	for n := range s.names {
		if _, ok := other.names[n]; ok {
			out.names[n] = struct{}{}
		}
	}
	return out
}

func (s NameSet) String() string {
	if s.all {
		return "*"
	}
	return fmt.Sprintf("%v", slices.Sorted(maps.Keys(s.names)))
}

type visitKind uint8

const (
	visitNothing visitKind = iota
	visitSpecific
	visitAllRecursively
)

// Visit describes what a walker should descend into below a directory.
type Visit struct {
	kind  visitKind
	dirs  NameSet
	files NameSet
}

var (
	// VisitNothing means nothing below the directory can match.
	VisitNothing = Visit{kind: visitNothing}
	// VisitAllRecursively means every path below the directory matches.
	VisitAllRecursively = Visit{kind: visitAllRecursively}
	// VisitSome means some paths below the directory may match.
	VisitSome = Visit{kind: visitSpecific, dirs: AllNames, files: AllNames}
)

// VisitSpecific restricts the walk to the named subdirectories and files.
func VisitSpecific(dirs, files NameSet) Visit {
	if dirs.IsEmpty() && files.IsEmpty() {
		return VisitNothing
	}
	return Visit{kind: visitSpecific, dirs: dirs, files: files}
}

// IsNothing reports whether nothing can match below the directory.
func (v Visit) IsNothing() bool { return v.kind == visitNothing }

// IsAllRecursively reports whether everything below the directory matches.
func (v Visit) IsAllRecursively() bool { return v.kind == visitAllRecursively }

// Dirs returns the subdirectory names worth visiting.
func (v Visit) Dirs() NameSet {
	switch v.kind {
	case visitAllRecursively:
		return AllNames
	case visitSpecific:
		return v.dirs
	default:
		return Names()
	}
}

// Files returns the file names that may match.
func (v Visit) Files() NameSet {
	switch v.kind {
	case visitAllRecursively:
		return AllNames
	case visitSpecific:
		return v.files
	default:
		return Names()
	}
}

func (v Visit) String() string {
	switch v.kind {
	case visitNothing:
		return "Nothing"
	case visitAllRecursively:
		return "AllRecursively"
	default:
		return fmt.Sprintf("Specific(dirs=%s, files=%s)", v.dirs, v.files)
	}
}

// Matcher selects repository paths.
type Matcher interface {
	Matches(p repopath.Path) bool
	Visit(dir repopath.Path) Visit
}

// Everything matches every path.
type Everything struct{}

func (Everything) Matches(repopath.Path) bool { return true }
func (Everything) Visit(repopath.Path) Visit { return VisitAllRecursively }
func (Everything) String() string { return "Everything" }

// Nothing matches no path.
type Nothing struct{}

func (Nothing) Matches(repopath.Path) bool { return false }
func (Nothing) Visit(repopath.Path) Visit { return VisitNothing }
func (Nothing) String() string { return "Nothing" }

// Prefix matches every path equal to or below one of its prefixes.
type Prefix struct {
	prefixes []repopath.Path
}

// NewPrefix builds a prefix matcher. A root prefix matches everything.
func NewPrefix(prefixes []repopath.Path) *Prefix {
	return &Prefix{prefixes: slices.Clone(prefixes)}
}

func (m *Prefix) Matches(p repopath.Path) bool {
	for _, prefix := range m.prefixes {
		if p.StartsWith(prefix) {
			return true
		}
	}
	return false
}

func (m *Prefix) Visit(dir repopath.Path) Visit {
	next := Names()
	for _, prefix := range m.prefixes {
		if dir.StartsWith(prefix) {
			return VisitAllRecursively
		}
		if rest, ok := prefix.StripPrefix(dir); ok {
			// The prefix lies below dir; its next component may be a dir or a file.
			name, _, _ := strings.Cut(string(rest), "/")
			next.names[name] = struct{}{}
		}
	}
	return VisitSpecific(next, next)
}

func (m *Prefix) String() string { return fmt.Sprintf("Prefix(%v)", m.prefixes) }

// Files matches an explicit set of file paths.
type Files struct {
	files map[repopath.Path]struct{}
}

// NewFiles builds a matcher for exactly the given paths.
func NewFiles(paths ...repopath.Path) *Files {
	m := &Files{files: make(map[repopath.Path]struct{}, len(paths))}
	for _, p := range paths {
		m.files[p] = struct{}{}
	}
	return m
}

func (m *Files) Matches(p repopath.Path) bool {
	_, ok := m.files[p]
	return ok
}

func (m *Files) Visit(dir repopath.Path) Visit {
	dirs := Names()
	files := Names()
	for p := range m.files {
		rest, ok := p.StripPrefix(dir)
		if !ok || rest.IsRoot() {
			continue
		}
		name, remainder, more := strings.Cut(string(rest), "/")
		if more && remainder != "" {
			dirs.names[name] = struct{}{}
		} else {
			files.names[name] = struct{}{}
		}
	}
	return VisitSpecific(dirs, files)
}

func (m *Files) String() string {
	return fmt.Sprintf("Files(%v)", slices.SortedFunc(maps.Keys(m.files), repopath.Compare))
}

// Intersection matches paths matched by both inputs.
type Intersection struct {
	a, b Matcher
}

// NewIntersection builds an intersection matcher, collapsing trivial inputs.
func NewIntersection(a, b Matcher) Matcher {
	switch {
	case isNothing(a) || isNothing(b):
		return Nothing{}
	case isEverything(a):
		return b
	case isEverything(b):
		return a
	}
	return &Intersection{a: a, b: b}
}

func (m *Intersection) Matches(p repopath.Path) bool {
	return m.a.Matches(p) && m.b.Matches(p)
}

func (m *Intersection) Visit(dir repopath.Path) Visit {
	va := m.a.Visit(dir)
	switch va.kind {
	case visitNothing:
		return VisitNothing
	case visitAllRecursively:
		return m.b.Visit(dir)
	}
	vb := m.b.Visit(dir)
	switch vb.kind {
	case visitNothing:
		return VisitNothing
	case visitAllRecursively:
		return va
	}
	return VisitSpecific(va.dirs.intersect(vb.dirs), va.files.intersect(vb.files))
}

func (m *Intersection) String() string { return fmt.Sprintf("Intersection(%v, %v)", m.a, m.b) }

// Difference matches paths matched by wanted but not by unwanted.
type Difference struct {
	wanted, unwanted Matcher
}

// NewDifference builds a difference matcher.
func NewDifference(wanted, unwanted Matcher) Matcher {
	if isNothing(unwanted) {
		return wanted
	}
	if isNothing(wanted) || isEverything(unwanted) {
		return Nothing{}
	}
	return &Difference{wanted: wanted, unwanted: unwanted}
}

func (m *Difference) Matches(p repopath.Path) bool {
	return m.wanted.Matches(p) && !m.unwanted.Matches(p)
}

func (m *Difference) Visit(dir repopath.Path) Visit {
	switch uv := m.unwanted.Visit(dir); uv.kind {
	case visitAllRecursively:
		return VisitNothing
	case visitNothing:
		return m.wanted.Visit(dir)
	}
	wv := m.wanted.Visit(dir)
	if wv.kind == visitAllRecursively {
		return VisitSome
	}
	return wv
}

func (m *Difference) String() string {
	return fmt.Sprintf("Difference(%v, %v)", m.wanted, m.unwanted)
}

func isNothing(m Matcher) bool {
	_, ok := m.(Nothing)
	return ok
}

func isEverything(m Matcher) bool {
	_, ok := m.(Everything)
	return ok
}

// MatchesNothing reports whether m can never match anything.
func MatchesNothing(m Matcher) bool {
	return m.Visit(repopath.Root).IsNothing()
}

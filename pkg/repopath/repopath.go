// Package repopath implements repository-relative paths.
//
// A Path is a slash-separated sequence of non-empty components relative to the
// working-copy root. The empty Path is the root. Paths order component-wise, so
// every path below a directory sorts contiguously right after the directory itself:
//
//	"b" < "b/c" < "b/d/e" < "b#" < "bc"
package repopath

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Separator is the component separator used in repository paths on every platform.
const Separator = '/'

// Path is a repository-relative path. The zero value is the root.
type Path string

// Root is the repository root.
const Root Path = ""

// ErrInvalidPath describes a path that cannot be represented as a repository path.
type ErrInvalidPath struct {
	Input  string
	Reason string
}

func (e *ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid repository path %q: %s", e.Input, e.Reason)
}

// Parse validates s as an internal (slash-separated) path.
func Parse(s string) (Path, error) {
	if s == "" {
		return Root, nil
	}
	if !utf8.ValidString(s) {
		return "", &ErrInvalidPath{Input: s, Reason: "not valid UTF-8"}
	}
	for _, c := range strings.Split(s, "/") {
		switch c {
		case "":
			return "", &ErrInvalidPath{Input: s, Reason: "empty component"}
		case ".", "..":
			return "", &ErrInvalidPath{Input: s, Reason: "relative component"}
		}
	}
	return Path(s), nil
}

// MustParse is Parse for literals known to be valid, mostly in tests.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromRelativeFSPath converts an OS-relative path (as produced by filepath.Rel) to a Path.
func FromRelativeFSPath(rel string) (Path, error) {
	if rel == "." || rel == "" {
		return Root, nil
	}
	return Parse(filepath.ToSlash(rel))
}

// IsRoot reports whether p is the repository root.
func (p Path) IsRoot() bool { return p == Root }

// String returns the internal slash-separated form.
func (p Path) String() string { return string(p) }

// Components splits the path. The root has no components.
func (p Path) Components() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Join appends a single component.
func (p Path) Join(name string) Path {
	if p.IsRoot() {
		return Path(name)
	}
	return Path(string(p) + "/" + name)
}

// Parent returns the containing directory and true, or false for the root.
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return Root, false
	}
	i := strings.LastIndexByte(string(p), Separator)
	if i < 0 {
		return Root, true
	}
	return p[:i], true
}

// Base returns the last component, or "" for the root.
func (p Path) Base() string {
	i := strings.LastIndexByte(string(p), Separator)
	return string(p[i+1:])
}

// Ancestors yields p, then each parent up to and including the root.
func (p Path) Ancestors() []Path {
	out := []Path{p}
	for cur := p; ; {
		parent, ok := cur.Parent()
		if !ok {
			return out
		}
		out = append(out, parent)
		cur = parent
	}
}

// StartsWith reports whether p equals dir or lies below it.
func (p Path) StartsWith(dir Path) bool {
	if dir.IsRoot() {
		return true
	}
	if !strings.HasPrefix(string(p), string(dir)) {
		return false
	}
	return len(p) == len(dir) || p[len(dir)] == Separator
}

// StripPrefix returns the part of p below dir, if p lies below dir.
func (p Path) StripPrefix(dir Path) (Path, bool) {
	if dir.IsRoot() {
		return p, true
	}
	if !p.StartsWith(dir) {
		return "", false
	}
	if len(p) == len(dir) {
		return Root, true
	}
	return p[len(dir)+1:], true
}

// ToFSPath converts p to a native path below base. Components that cannot be
// used as a file name on this platform are rejected.
func (p Path) ToFSPath(base string) (string, error) {
	parts := make([]string, 0, strings.Count(string(p), "/")+2)
	parts = append(parts, base)
	for _, c := range p.Components() {
		if strings.ContainsRune(c, filepath.Separator) || (filepath.Separator != '/' && strings.ContainsRune(c, '/')) {
			return "", &ErrInvalidPath{Input: string(p), Reason: "component contains a path separator"}
		}
		if filepath.VolumeName(c) != "" {
			return "", &ErrInvalidPath{Input: string(p), Reason: "component looks like a volume name"}
		}
		parts = append(parts, c)
	}
	return filepath.Join(parts...), nil
}

// Compare orders paths component-wise. It is equivalent to a byte comparison in
// which the separator sorts before every other byte.
func Compare(a, b Path) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := a[i], b[i]
		if ca == cb {
			continue
		}
		if ca == Separator {
			return -1
		}
		if cb == Separator {
			return 1
		}
		if ca < cb {
			return -1
		}
		return 1
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less is Compare(a, b) < 0.
func Less(a, b Path) bool { return Compare(a, b) < 0 }

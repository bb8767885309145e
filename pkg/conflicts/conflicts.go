// Package conflicts renders conflicted file values as text with conflict
// markers, and turns edited marker text back into conflicted values.
package conflicts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

const (
	// MinMarkerLen is the shortest marker written to a file.
	MinMarkerLen = 7
	// markerLenIncrement is added to the longest marker-like run already in a
	// file so the real markers can be told apart from it.
	markerLenIncrement = 4
)

// Style selects how conflict sections are written.
type Style int

const (
	// StyleDiff shows each base as a diff to the side that follows it.
	StyleDiff Style = iota
	// StyleSnapshot shows every side and base in full.
	StyleSnapshot
	// StyleGit writes git's diff3 format. Conflicts with more than two sides
	// fall back to StyleSnapshot.
	StyleGit
)

var styleToString = map[Style]string{
	StyleDiff:     "diff",
	StyleSnapshot: "snapshot",
	StyleGit:      "git",
}

func (s Style) String() string {
	if str, ok := styleToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_style(%d)", s)
}

// ParseStyle parses a style name.
func ParseStyle(s string) (Style, error) {
	for k, v := range styleToString {
		if strings.EqualFold(s, v) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid conflict marker style %q: must be 'diff', 'snapshot' or 'git'", s)
}

// Marker characters. A marker line is a run of one of these followed by
// whitespace or the end of the line.
const (
	markerStart        = '<'
	markerEnd          = '>'
	markerAdd          = '+'
	markerRemove       = '-'
	markerDiff         = '%'
	markerNote         = '\\'
	markerGitBase      = '|'
	markerGitSeparator = '='
)

func isMarkerChar(c byte) bool {
	switch c {
	case markerStart, markerEnd, markerAdd, markerRemove, markerDiff, markerNote, markerGitBase, markerGitSeparator:
		return true
	}
	return false
}

// markerRun returns the marker char and run length of line, or 0.
func markerRun(line []byte) (byte, int) {
	line = trimEOL(line)
	if len(line) == 0 || !isMarkerChar(line[0]) {
		return 0, 0
	}
	c := line[0]
	n := 1
	for n < len(line) && line[n] == c {
		n++
	}
	if n < len(line) && line[n] != ' ' && line[n] != '\t' {
		return 0, 0
	}
	return c, n
}

// parseMarker returns the marker char of line if its run is at least markerLen.
func parseMarker(line []byte, markerLen int) byte {
	c, n := markerRun(line)
	if n < markerLen {
		return 0
	}
	return c
}

// ChooseMarkerLen returns a marker length longer than any marker-like run
// already present in contents.
func ChooseMarkerLen(contents ...[]byte) int {
	longest := 0
	for _, content := range contents {
		for _, line := range splitLines(content) {
			if _, n := markerRun(line); n > longest {
				longest = n
			}
		}
	}
	return max(longest+markerLenIncrement, MinMarkerLen)
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// splitLines splits content after every newline, keeping the newlines.
func splitLines(content []byte) [][]byte {
	var lines [][]byte
	for len(content) > 0 {
		i := bytes.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:i+1])
		content = content[i+1:]
	}
	return lines
}

func ensureNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] != '\n' {
		return append(b[:len(b):len(b)], '\n')
	}
	return b
}

// ReadTerms reads the content of every term of a file conflict. Absent terms
// read as empty.
func ReadTerms(ctx context.Context, s store.Store, p repopath.Path, value mergedtree.Value) (merge.Merge[[]byte], error) {
	return merge.TryMap(value, func(v store.TreeValue) ([]byte, error) {
		switch v.Kind {
		case store.KindAbsent:
			return nil, nil
		case store.KindFile:
			r, err := s.ReadFile(ctx, p, v.ID)
			if err != nil {
				return nil, err
			}
			defer r.Close()
			return io.ReadAll(r)
		default:
			return nil, fmt.Errorf("conflict at %q has a %s term", p, v.Kind)
		}
	})
}

// IsFileConflict reports whether every term is a file or absent.
func IsFileConflict(value mergedtree.Value) bool {
	for _, v := range value.Terms() {
		if v.Kind != store.KindAbsent && v.Kind != store.KindFile {
			return false
		}
	}
	return true
}

// ResolveExecutable decides the executable bit of a file conflict: the
// trivially merged bit of the present terms, or the bases' bit when the
// sides were deleted.
func ResolveExecutable(value mergedtree.Value) bool {
	type execState uint8
	const (
		absent execState = iota
		plain
		executable
	)
	states := merge.Map(value, func(v store.TreeValue) execState {
		switch {
		case v.Kind != store.KindFile:
			return absent
		case v.Executable:
			return executable
		default:
			return plain
		}
	})
	if r, ok := merge.ResolveTrivial(states); ok && r != absent {
		return r == executable
	}
	removes := states.Removes()
	if len(removes) > 0 {
		first := removes[0]
		for _, r := range removes[1:] {
			if r != first {
				return false
			}
		}
		return first == executable
	}
	return false
}

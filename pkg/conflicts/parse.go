package conflicts

import (
	"bytes"
	"context"

	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

// Hunk is a region of a file: resolved text, or the text of every term.
type Hunk = merge.Merge[[]byte]

// Parse splits input into hunks, expecting conflicts with numSides sides and
// markers of at least markerLen characters. It returns nil when input holds no
// well-formed conflict. Malformed conflict regions are kept as resolved text.
func Parse(input []byte, numSides, markerLen int) []Hunk {
	lines := splitLines(input)
	var hunks []Hunk
	var resolved []byte
	foundConflict := false

	flush := func() {
		if len(resolved) > 0 {
			hunks = append(hunks, merge.Resolved(resolved))
			resolved = nil
		}
	}

	for i := 0; i < len(lines); {
		if parseMarker(lines[i], markerLen) != markerStart {
			resolved = append(resolved, lines[i]...)
			i++
			continue
		}
		end := i + 1
		for end < len(lines) && parseMarker(lines[end], markerLen) != markerEnd {
			end++
		}
		if end == len(lines) {
			// Unterminated conflict; the rest is plain text.
			for _, l := range lines[i:] {
				resolved = append(resolved, l...)
			}
			break
		}
		if hunk, ok := parseHunk(lines[i+1:end], numSides, markerLen); ok {
			flush()
			hunks = append(hunks, hunk)
			foundConflict = true
		} else {
			for _, l := range lines[i : end+1] {
				resolved = append(resolved, l...)
			}
		}
		i = end + 1
	}
	flush()
	if !foundConflict {
		return nil
	}
	return hunks
}

func parseHunk(body [][]byte, numSides, markerLen int) (Hunk, bool) {
	if len(body) == 0 {
		return Hunk{}, false
	}
	switch parseMarker(body[0], markerLen) {
	case markerAdd, markerRemove, markerDiff:
		return parseSnapshotHunk(body, numSides, markerLen)
	default:
		return parseGitHunk(body, numSides, markerLen)
	}
}

func parseSnapshotHunk(body [][]byte, numSides, markerLen int) (Hunk, bool) {
	type section int
	const (
		none section = iota
		add
		remove
		diff
	)
	var adds, removes [][]byte
	cur := none
	for _, line := range body {
		switch parseMarker(line, markerLen) {
		case markerAdd:
			cur = add
			adds = append(adds, []byte{})
			continue
		case markerRemove:
			cur = remove
			removes = append(removes, []byte{})
			continue
		case markerDiff:
			cur = diff
			removes = append(removes, []byte{})
			adds = append(adds, []byte{})
			continue
		case markerNote:
			// Continuation of a section header.
			continue
		}
		switch cur {
		case add:
			adds[len(adds)-1] = append(adds[len(adds)-1], line...)
		case remove:
			removes[len(removes)-1] = append(removes[len(removes)-1], line...)
		case diff:
			r, a := len(removes)-1, len(adds)-1
			switch {
			case bytes.Equal(trimEOL(line), nil):
				removes[r] = append(removes[r], line...)
				adds[a] = append(adds[a], line...)
			case line[0] == ' ':
				removes[r] = append(removes[r], line[1:]...)
				adds[a] = append(adds[a], line[1:]...)
			case line[0] == '-':
				removes[r] = append(removes[r], line[1:]...)
			case line[0] == '+':
				adds[a] = append(adds[a], line[1:]...)
			default:
				return Hunk{}, false
			}
		default:
			return Hunk{}, false
		}
	}
	if len(adds) != numSides || len(removes) != numSides-1 {
		return Hunk{}, false
	}
	return merge.FromRemovesAdds(removes, adds), true
}

// parseGitHunk parses the body of a diff3-style conflict:
// side 1, "|||||||" base, "=======" side 2.
func parseGitHunk(body [][]byte, numSides, markerLen int) (Hunk, bool) {
	if numSides != 2 {
		return Hunk{}, false
	}
	var left, base, right []byte
	section := 0
	for _, line := range body {
		switch parseMarker(line, markerLen) {
		case markerGitBase:
			if section != 0 {
				return Hunk{}, false
			}
			section = 1
			continue
		case markerGitSeparator:
			if section != 1 {
				return Hunk{}, false
			}
			section = 2
			continue
		}
		switch section {
		case 0:
			left = append(left, line...)
		case 1:
			base = append(base, line...)
		default:
			right = append(right, line...)
		}
	}
	if section != 2 {
		return Hunk{}, false
	}
	return merge.FromRemovesAdds([][]byte{base}, [][]byte{left, right}), true
}

// termContents concatenates the hunks into the full content of every term.
func termContents(hunks []Hunk, numTerms int) [][]byte {
	out := make([][]byte, numTerms)
	for _, h := range hunks {
		if r, ok := h.AsResolved(); ok {
			for i := range out {
				out[i] = append(out[i], r...)
			}
			continue
		}
		for i, t := range h.Terms() {
			out[i] = append(out[i], t...)
		}
	}
	return out
}

func hasNoEOL(content []byte) bool {
	return len(content) > 0 && content[len(content)-1] != '\n'
}

// UpdateFromContent turns the edited content of a materialized file conflict
// back into a value. Content without parseable conflicts resolves the
// conflict. markerLen must be the length the file was materialized with.
func UpdateFromContent(ctx context.Context, s store.Store, p repopath.Path, value mergedtree.Value, content []byte, markerLen int) (mergedtree.Value, error) {
	simplified, simplification := merge.SimplifyBy(value, func(v store.TreeValue) store.TreeValue { return v })

	old, err := ReadTerms(ctx, s, p, simplified)
	if err != nil {
		return mergedtree.Value{}, err
	}

	hunks := Parse(content, simplified.NumSides(), markerLen)
	if hunks == nil {
		return writeResolved(ctx, s, p, value, content)
	}

	numTerms := len(simplified.Terms())
	contents := termContents(hunks, numTerms)
	// Materializing added a newline to terms that lacked one.
	if last := hunks[len(hunks)-1]; !last.IsResolved() {
		for i, o := range old.Terms() {
			if hasNoEOL(o) && len(contents[i]) > 0 && contents[i][len(contents[i])-1] == '\n' {
				contents[i] = contents[i][:len(contents[i])-1]
			}
		}
	}

	unchanged := true
	for i, o := range old.Terms() {
		if !bytes.Equal(o, contents[i]) {
			unchanged = false
			break
		}
	}
	if unchanged {
		return value, nil
	}

	newTerms := make([]store.TreeValue, numTerms)
	for i, v := range simplified.Terms() {
		if v.Kind == store.KindAbsent {
			if len(contents[i]) == 0 {
				newTerms[i] = store.Absent
				continue
			}
			// An absent side cannot hold content, so take the edit as a resolution.
			return writeResolved(ctx, s, p, value, content)
		}
		id, err := s.WriteFile(ctx, p, bytes.NewReader(contents[i]))
		if err != nil {
			return mergedtree.Value{}, err
		}
		newTerms[i] = store.FileValue(id, v.Executable)
	}
	return merge.Unsimplify(value, simplification, merge.FromTerms(newTerms)), nil
}

func writeResolved(ctx context.Context, s store.Store, p repopath.Path, value mergedtree.Value, content []byte) (mergedtree.Value, error) {
	id, err := s.WriteFile(ctx, p, bytes.NewReader(content))
	if err != nil {
		return mergedtree.Value{}, err
	}
	return merge.Resolved(store.FileValue(id, ResolveExecutable(value))), nil
}

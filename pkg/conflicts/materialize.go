package conflicts

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
)

// Options controls how a conflict is written.
type Options struct {
	Style  Style
	Labels mergedtree.ConflictLabels
	// MarkerLen overrides the chosen marker length when non-zero.
	MarkerLen int
}

// Materialized is a conflict rendered as file content.
type Materialized struct {
	Content    []byte
	Executable bool
	// MarkerLen is the marker length used, needed to parse the file again.
	MarkerLen int
}

// MaterializeFile reads the terms of a file conflict and renders them. Terms
// that cancel out are dropped first, the same way UpdateFromContent drops
// them before parsing.
func MaterializeFile(ctx context.Context, s store.Store, p repopath.Path, value mergedtree.Value, opts Options) (*Materialized, error) {
	simplified, simplification := merge.SimplifyBy(value, func(v store.TreeValue) store.TreeValue { return v })
	if len(opts.Labels) == len(value.Terms()) {
		opts.Labels = merge.Select(merge.FromTerms([]string(opts.Labels)), simplification).Terms()
	}
	contents, err := ReadTerms(ctx, s, p, simplified)
	if err != nil {
		return nil, err
	}
	markerLen := opts.MarkerLen
	if markerLen == 0 {
		markerLen = ChooseMarkerLen(contents.Terms()...)
	}
	return &Materialized{
		Content:    Materialize(contents, markerLen, opts),
		Executable: ResolveExecutable(value),
		MarkerLen:  markerLen,
	}, nil
}

// Materialize renders term contents. Lines shared by every term at the start
// and the end are written once; the rest becomes a single conflict hunk.
func Materialize(contents merge.Merge[[]byte], markerLen int, opts Options) []byte {
	if r, ok := resolveBytes(contents); ok {
		return r
	}

	terms := contents.Terms()
	lines := make([][][]byte, len(terms))
	for i, t := range terms {
		lines[i] = splitLines(t)
	}
	prefix := commonPrefix(lines)
	for i := range lines {
		lines[i] = lines[i][prefix:]
	}
	suffix := commonSuffix(lines)

	var out bytes.Buffer
	for _, l := range splitLines(terms[0])[:prefix] {
		out.Write(l)
	}
	middle := make([][]byte, len(terms))
	for i := range lines {
		middle[i] = bytes.Join(lines[i][:len(lines[i])-suffix], nil)
	}
	writeHunk(&out, merge.FromTerms(middle), markerLen, opts)
	first := lines[0]
	for _, l := range first[len(first)-suffix:] {
		out.Write(l)
	}
	return out.Bytes()
}

func resolveBytes(contents merge.Merge[[]byte]) ([]byte, bool) {
	keyed := merge.Map(contents, func(b []byte) string { return string(b) })
	r, ok := merge.ResolveTrivial(keyed)
	if !ok {
		return nil, false
	}
	return []byte(r), true
}

func commonPrefix(lines [][][]byte) int {
	n := 0
	for {
		for _, l := range lines {
			if n >= len(l) || !bytes.Equal(l[n], lines[0][n]) {
				return n
			}
		}
		n++
	}
}

func commonSuffix(lines [][][]byte) int {
	n := 0
	for {
		for _, l := range lines {
			if n >= len(l) || !bytes.Equal(l[len(l)-1-n], lines[0][len(lines[0])-1-n]) {
				return n
			}
		}
		n++
	}
}

func writeMarker(out *bytes.Buffer, c byte, markerLen int, label string) {
	out.WriteString(strings.Repeat(string(c), markerLen))
	if label != "" {
		out.WriteByte(' ')
		out.WriteString(label)
	}
	out.WriteByte('\n')
}

func writeHunk(out *bytes.Buffer, hunk merge.Merge[[]byte], markerLen int, opts Options) {
	numSides := hunk.NumSides()
	if opts.Style == StyleGit && numSides == 2 {
		writeMarker(out, markerStart, markerLen, opts.Labels.Side(0))
		out.Write(ensureNewline(hunk.GetAdd(0)))
		writeMarker(out, markerGitBase, markerLen, opts.Labels.Base(0))
		out.Write(ensureNewline(hunk.GetRemove(0)))
		writeMarker(out, markerGitSeparator, markerLen, "")
		out.Write(ensureNewline(hunk.GetAdd(1)))
		writeMarker(out, markerEnd, markerLen, opts.Labels.Side(1))
		return
	}

	writeMarker(out, markerStart, markerLen, "conflict 1 of 1")
	for i := range numSides - 1 {
		if opts.Style == StyleDiff {
			label := fmt.Sprintf("diff from %s to %s", opts.Labels.Base(i), opts.Labels.Side(i))
			writeMarker(out, markerDiff, markerLen, label)
			writeDiff(out, hunk.GetRemove(i), hunk.GetAdd(i))
			continue
		}
		writeMarker(out, markerAdd, markerLen, opts.Labels.Side(i))
		out.Write(ensureNewline(hunk.GetAdd(i)))
		writeMarker(out, markerRemove, markerLen, opts.Labels.Base(i))
		out.Write(ensureNewline(hunk.GetRemove(i)))
	}
	writeMarker(out, markerAdd, markerLen, opts.Labels.Side(numSides-1))
	out.Write(ensureNewline(hunk.GetAdd(numSides - 1)))
	writeMarker(out, markerEnd, markerLen, "conflict 1 of 1 ends")
}

// writeDiff writes a line diff from base to side. Shared leading and trailing
// lines are context; everything between is removed and re-added.
func writeDiff(out *bytes.Buffer, base, side []byte) {
	lines := [][][]byte{splitLines(base), splitLines(side)}
	prefix := commonPrefix(lines)
	lines[0], lines[1] = lines[0][prefix:], lines[1][prefix:]
	suffix := commonSuffix(lines)

	write := func(c byte, line []byte) {
		out.WriteByte(c)
		out.Write(ensureNewline(line))
	}
	for _, l := range splitLines(base)[:prefix] {
		write(' ', l)
	}
	for _, l := range lines[0][:len(lines[0])-suffix] {
		write('-', l)
	}
	for _, l := range lines[1][:len(lines[1])-suffix] {
		write('+', l)
	}
	for _, l := range lines[0][len(lines[0])-suffix:] {
		write(' ', l)
	}
}

// DescribeOtherConflict renders a conflict that involves something other
// than plain files, e.g. a file on one side and a symlink on another.
func DescribeOtherConflict(value mergedtree.Value) []byte {
	var out bytes.Buffer
	out.WriteString("Conflict:\n")
	for i := range value.NumSides() {
		if i > 0 {
			describeTerm(&out, "Removing", value.GetRemove(i-1))
		}
		describeTerm(&out, "Adding", value.GetAdd(i))
	}
	return out.Bytes()
}

func describeTerm(out *bytes.Buffer, verb string, v store.TreeValue) {
	switch v.Kind {
	case store.KindAbsent:
		return
	case store.KindFile:
		if v.Executable {
			fmt.Fprintf(out, "  %s executable file with id %s\n", verb, v.ID)
			return
		}
		fmt.Fprintf(out, "  %s file with id %s\n", verb, v.ID)
	default:
		fmt.Fprintf(out, "  %s %s with id %s\n", verb, v.Kind, v.ID)
	}
}

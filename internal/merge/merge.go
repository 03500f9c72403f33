// Package merge implements a line-oriented three-way text merge.
//
// Hunks where only one side diverged from the base take that side;
// hunks where both sides made the identical change take it once. A true
// conflict (both sides changed the same region differently) resolves to
// the local hunk followed by the remote hunk, with no markers. This is
// deterministic and keeps both edits; callers surface no interactive
// resolution.
package merge

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Merge combines local and remote edits to base.
func Merge(base, local, remote string) string {
	if local == remote || base == remote {
		return local
	}
	if base == local {
		return remote
	}

	baseLines := splitLines(base)
	localEdits := lineEdits(base, local)
	remoteEdits := lineEdits(base, remote)

	var out []string
	pos, i, j := 0, 0, 0
	apply := func(e edit) {
		out = append(out, baseLines[pos:e.start]...)
		out = append(out, e.lines...)
		pos = e.end
	}

	for i < len(localEdits) || j < len(remoteEdits) {
		lOK := i < len(localEdits)
		rOK := j < len(remoteEdits)

		// Identical change on both sides: take it once.
		if lOK && rOK && sameEdit(localEdits[i], remoteEdits[j]) {
			apply(localEdits[i])
			i++
			j++
			continue
		}
		if lOK && (!rOK || localEdits[i].end <= remoteEdits[j].start) {
			apply(localEdits[i])
			i++
			continue
		}
		if rOK && (!lOK || remoteEdits[j].end <= localEdits[i].start) {
			apply(remoteEdits[j])
			j++
			continue
		}

		// Overlapping edits: widen the region until neither side's next
		// edit intersects it, then resolve the region as one hunk.
		start := min(localEdits[i].start, remoteEdits[j].start)
		end := max(localEdits[i].end, remoteEdits[j].end)
		ls := []edit{localEdits[i]}
		rs := []edit{remoteEdits[j]}
		i++
		j++
		for {
			grew := false
			if i < len(localEdits) && localEdits[i].start < end {
				end = max(end, localEdits[i].end)
				ls = append(ls, localEdits[i])
				i++
				grew = true
			}
			if j < len(remoteEdits) && remoteEdits[j].start < end {
				end = max(end, remoteEdits[j].end)
				rs = append(rs, remoteEdits[j])
				j++
				grew = true
			}
			if !grew {
				break
			}
		}

		out = append(out, baseLines[pos:start]...)
		localSeg := applyEdits(baseLines, start, end, ls)
		remoteSeg := applyEdits(baseLines, start, end, rs)
		baseSeg := baseLines[start:end]
		switch {
		case eqLines(localSeg, remoteSeg):
			out = append(out, localSeg...)
		case eqLines(localSeg, baseSeg):
			out = append(out, remoteSeg...)
		case eqLines(remoteSeg, baseSeg):
			out = append(out, localSeg...)
		default:
			out = append(out, localSeg...)
			out = append(out, remoteSeg...)
		}
		pos = end
	}

	out = append(out, baseLines[pos:]...)
	return strings.Join(out, "")
}

// edit is one contiguous change relative to the base: the base line
// range [start, end) is replaced by lines. Pure insertions have
// start == end.
type edit struct {
	start, end int
	lines      []string
}

// lineEdits diffs other against base in line mode and folds the result
// into base-coordinate edits.
func lineEdits(base, other string) []edit {
	dmp := diffmatchpatch.New()
	c1, c2, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lineArray)

	var edits []edit
	var cur *edit
	pos := 0
	flush := func() {
		if cur != nil {
			edits = append(edits, *cur)
			cur = nil
		}
	}
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &edit{start: pos, end: pos}
			}
			cur.end += len(lines)
			pos += len(lines)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &edit{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	flush()
	return edits
}

// applyEdits rewrites the base region [start, end) with the given
// (sorted, disjoint) edits.
func applyEdits(baseLines []string, start, end int, edits []edit) []string {
	var out []string
	pos := start
	for _, e := range edits {
		out = append(out, baseLines[pos:e.start]...)
		out = append(out, e.lines...)
		pos = e.end
	}
	out = append(out, baseLines[pos:end]...)
	return out
}

func sameEdit(a, b edit) bool {
	return a.start == b.start && a.end == b.end && eqLines(a.lines, b.lines)
}

func eqLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits text into lines keeping terminators, so joining the
// result reproduces the input byte for byte.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff produces line-based unified diffs for change simulation.
package diff

import (
	"fmt"
	"strings"
)

const contextLines = 3

// maxLCSLines bounds the quadratic LCS table. Inputs larger than this are
// rendered as a whole-file replacement instead.
const maxLCSLines = 5000

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind opKind
	line string
}

// Unified returns a unified diff between before and after for the named
// path. Identical inputs produce an empty string.
func Unified(path, before, after string) string {
	if before == after {
		return ""
	}
	a := splitLines(before)
	b := splitLines(after)

	var ops []op
	if len(a) > maxLCSLines || len(b) > maxLCSLines {
		for _, l := range a {
			ops = append(ops, op{opDelete, l})
		}
		for _, l := range b {
			ops = append(ops, op{opInsert, l})
		}
	} else {
		ops = diffOps(a, b)
	}

	hunks := buildHunks(ops)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.aStart, h.aCount, h.bStart, h.bCount)
		for _, o := range h.ops {
			switch o.kind {
			case opEqual:
				sb.WriteString(" " + o.line + "\n")
			case opDelete:
				sb.WriteString("-" + o.line + "\n")
			case opInsert:
				sb.WriteString("+" + o.line + "\n")
			}
		}
	}
	return sb.String()
}

// Truncate bounds diff or preview text to max bytes, appending a marker when
// content was cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffOps computes an edit script via a longest-common-subsequence table.
func diffOps(a, b []string) []op {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []op
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{opEqual, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, op{opDelete, a[i]})
			i++
		default:
			ops = append(ops, op{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{opDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, op{opInsert, b[j]})
	}
	return ops
}

type hunk struct {
	aStart, aCount int
	bStart, bCount int
	ops            []op
}

// buildHunks groups edit operations into unified hunks with surrounding
// context, merging hunks whose context regions touch.
func buildHunks(ops []op) []hunk {
	var hunks []hunk
	aLine, bLine := 1, 1
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			aLine++
			bLine++
			i++
			continue
		}

		start := i - contextLines
		if start < 0 {
			start = 0
		}
		// Walk back over the skipped context.
		hs := hunk{aStart: aLine, bStart: bLine}
		for k := i - 1; k >= start; k-- {
			hs.aStart--
			hs.bStart--
		}

		end := i
		lastChange := i
		for end < len(ops) {
			if ops[end].kind != opEqual {
				lastChange = end
				end++
				continue
			}
			// Stop once we have run past the trailing context with no
			// further changes in reach of a merged hunk.
			if end-lastChange >= contextLines*2 {
				break
			}
			end++
		}
		tail := lastChange + contextLines + 1
		if tail > len(ops) {
			tail = len(ops)
		}
		if end > tail {
			end = tail
		}

		for k := start; k < end; k++ {
			o := ops[k]
			hs.ops = append(hs.ops, o)
			switch o.kind {
			case opEqual:
				hs.aCount++
				hs.bCount++
			case opDelete:
				hs.aCount++
			case opInsert:
				hs.bCount++
			}
		}
		// Advance global line counters across the consumed ops.
		for k := i; k < end; k++ {
			switch ops[k].kind {
			case opEqual:
				aLine++
				bLine++
			case opDelete:
				aLine++
			case opInsert:
				bLine++
			}
		}
		hunks = append(hunks, hs)
		i = end
	}
	return hunks
}

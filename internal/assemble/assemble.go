// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assemble

import (
	"fmt"

	"github.com/kortschak/witch/internal/fastaio"
)

// computeFrontPadding returns, for every backbone column c in [0,H) plus
// the trailing bucket H, the maximum over rows of the number of
// consecutive unmatched residues immediately preceding the first
// residue mapped to c (bucket H catches residues left over after a
// row's last match, including an entirely unmatched row).
func computeFrontPadding(H int, rows []Trace) []int {
	pad := make([]int, H+1)
	for _, row := range rows {
		run := 0
		for _, v := range row {
			if v == -1 {
				run++
				continue
			}
			if int(v) >= len(pad) {
				continue
			}
			if run > pad[v] {
				pad[v] = run
			}
			run = 0
		}
		if run > pad[H] {
			pad[H] = run
		}
	}
	return pad
}

// computeShiftedColumns derives the output-column position of every
// backbone column from frontPadding.
func computeShiftedColumns(frontPadding []int, H int) []int {
	shifted := make([]int, H)
	if H == 0 {
		return shifted
	}
	shifted[0] = frontPadding[0]
	for c := 1; c < H; c++ {
		shifted[c] = shifted[c-1] + frontPadding[c] + 1
	}
	return shifted
}

// expandedWidth returns the total output column count.
func expandedWidth(shiftedColumns []int, frontPadding []int, H int) int {
	if H == 0 {
		return frontPadding[0]
	}
	return shiftedColumns[H-1] + 1 + frontPadding[H]
}

// assignPositions maps every residue of row to its final output column,
// and reports which positions are "matched" (uppercase) versus
// "singleton" (lowercase). Unmatched runs attach to the left of the
// next match, except a leading run which flushes to the far left and a
// trailing run which flushes to the far right. A row with no matched
// residue at all is one long leading run and flushes to the far left.
func assignPositions(row Trace, shiftedColumns []int, expandedNumCols int) (positions []int, matched []bool) {
	n := len(row)
	positions = make([]int, n)
	matched = make([]bool, n)

	var matchIdx []int
	for p, v := range row {
		if v != -1 {
			matchIdx = append(matchIdx, p)
			matched[p] = true
			positions[p] = shiftedColumns[v]
		}
	}

	if len(matchIdx) == 0 {
		for k := 0; k < n; k++ {
			positions[k] = k
		}
		return positions, matched
	}

	front := matchIdx[0]
	for k := 0; k < front; k++ {
		positions[k] = k
	}

	for mi := 0; mi < len(matchIdx)-1; mi++ {
		start := matchIdx[mi] + 1
		end := matchIdx[mi+1]
		length := end - start
		nextOut := positions[matchIdx[mi+1]]
		for k := 0; k < length; k++ {
			positions[start+k] = nextOut - length + k
		}
	}

	last := matchIdx[len(matchIdx)-1]
	tailStart := last + 1
	tailCount := n - tailStart
	for k := 0; k < tailCount; k++ {
		positions[tailStart+k] = expandedNumCols - tailCount + k
	}

	return positions, matched
}

func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// Assemble merges backbone and the per-query traces (each Trace aligned
// with the corresponding entry of queries) into a single output MSA:
// every backbone column is preserved, and extra "singleton" columns are
// inserted wherever a query's residues could not be matched. Backbone
// records are emitted first in their original order, then queries in
// input order.
func Assemble(backbone []fastaio.Record, queries []fastaio.Record, traces []Trace, numColumns int) ([]fastaio.Record, error) {
	if len(queries) != len(traces) {
		return nil, fmt.Errorf("assemble: %d queries but %d traces", len(queries), len(traces))
	}
	H := numColumns

	consensus := make(Trace, H)
	for i := range consensus {
		consensus[i] = int32(i)
	}
	rows := make([]Trace, 0, len(traces)+1)
	rows = append(rows, consensus)
	rows = append(rows, traces...)

	frontPadding := computeFrontPadding(H, rows)
	shiftedColumns := computeShiftedColumns(frontPadding, H)
	width := expandedWidth(shiftedColumns, frontPadding, H)

	out := make([]fastaio.Record, 0, len(backbone)+len(queries))
	for _, b := range backbone {
		if len(b.Residues) != H {
			return nil, fmt.Errorf("assemble: backbone record %q has %d columns, want %d", b.Name, len(b.Residues), H)
		}
		residues := make([]byte, width)
		for i := range residues {
			residues[i] = '-'
		}
		for c := 0; c < H; c++ {
			residues[shiftedColumns[c]] = toUpper(b.Residues[c])
		}
		out = append(out, fastaio.Record{Name: b.Name, Residues: residues})
	}

	for qi, q := range queries {
		trace := traces[qi]
		if len(trace) != len(q.Residues) {
			return nil, fmt.Errorf("assemble: query %q has %d residues but trace has %d entries", q.Name, len(q.Residues), len(trace))
		}
		residues := make([]byte, width)
		for i := range residues {
			residues[i] = '-'
		}
		positions, matched := assignPositions(trace, shiftedColumns, width)
		for p, pos := range positions {
			ch := q.Residues[p]
			if matched[p] {
				ch = toUpper(ch)
			} else {
				ch = toLower(ch)
			}
			residues[pos] = ch
		}
		out = append(out, fastaio.Record{Name: q.Name, Residues: residues})
	}

	return out, nil
}

// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package assemble solves the per-query sparse dynamic program that
// picks the best monotone matching of query residues to backbone
// columns, and merges the resulting traces into a single padded output
// alignment.
package assemble

import (
	"sort"

	"github.com/kortschak/witch/internal/accumulate"
)

// Trace is a query's per-residue result: Trace[i] is the backbone
// column residue i was matched to, or -1 if residue i was not matched.
type Trace []int32

// direction is a DP back-pointer.
type direction uint8

const (
	dirUp direction = iota
	dirLeft
	dirDiag
)

// SolveDP runs the coordinate-compressed dynamic program over one
// query's sparse weight map and returns its trace. n is the query's residue
// count and sizes the returned trace; m is the backbone's column count and
// is not used by the DP, whose grid is sized to the compressed coordinate
// sets actually present in weights.
func SolveDP(weights map[accumulate.Key]float64, n, m int) Trace {
	res := make(Trace, n)
	for i := range res {
		res[i] = -1
	}
	if len(weights) == 0 {
		return res
	}

	rowSet := make(map[int]bool)
	colSet := make(map[int]bool)
	for k := range weights {
		rowSet[k.Residue] = true
		colSet[k.Column] = true
	}
	R1 := sortedKeys(rowSet)
	R2 := sortedKeys(colSet)

	rowIdx := make(map[int]int, len(R1))
	for i, r := range R1 {
		rowIdx[r] = i
	}
	colIdx := make(map[int]int, len(R2))
	for j, c := range R2 {
		colIdx[c] = j
	}

	nr, nc := len(R1), len(R2)
	w := make([][]float64, nr+1)
	for i := range w {
		w[i] = make([]float64, nc+1)
	}
	for k, v := range weights {
		w[rowIdx[k.Residue]+1][colIdx[k.Column]+1] = v
	}

	S := make([][]float64, nr+1)
	B := make([][]direction, nr+1)
	for i := range S {
		S[i] = make([]float64, nc+1)
		B[i] = make([]direction, nc+1)
	}

	for i := 1; i <= nr; i++ {
		for j := 1; j <= nc; j++ {
			// Start from up: a w<=0 cell must never take diag, and
			// iterating up, left, diag in that order with a strict
			// improvement required to switch makes up dominate left
			// dominate diag on ties.
			bestDir := dirUp
			bestVal := S[i-1][j]
			if left := S[i][j-1]; left > bestVal {
				bestDir = dirLeft
				bestVal = left
			}
			if wij := w[i][j]; wij > 0 {
				if diag := S[i-1][j-1] + wij; diag > bestVal {
					bestDir = dirDiag
					bestVal = diag
				}
			}
			S[i][j] = bestVal
			B[i][j] = bestDir
		}
	}

	i, j := nr, nc
	for i > 0 && j > 0 {
		switch B[i][j] {
		case dirDiag:
			res[R1[i-1]] = int32(R2[j-1])
			i--
			j--
		case dirUp:
			i--
		case dirLeft:
			j--
		}
	}
	return res
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

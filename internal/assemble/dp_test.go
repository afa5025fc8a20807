// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assemble

import (
	"reflect"
	"testing"

	"github.com/kortschak/witch/internal/accumulate"
)

func TestSolveDPDiagonal(t *testing.T) {
	w := map[accumulate.Key]float64{
		{Residue: 0, Column: 0}: 2,
		{Residue: 1, Column: 1}: 2,
		{Residue: 2, Column: 2}: 2,
	}
	got := SolveDP(w, 3, 3)
	want := Trace{0, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SolveDP = %v, want %v", got, want)
	}
}

func TestSolveDPEmptyWeights(t *testing.T) {
	got := SolveDP(nil, 3, 5)
	want := Trace{-1, -1, -1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SolveDP(nil) = %v, want %v", got, want)
	}
}

func TestSolveDPPrefersHigherTotalWeight(t *testing.T) {
	// A single very strong match at (0,2) outweighs the full diagonal
	// chain (0,0)+(1,1)+(2,2)=6, so the DP abandons the chain once it
	// sees the option, carrying the larger score forward via up/left.
	w := map[accumulate.Key]float64{
		{Residue: 0, Column: 0}: 2,
		{Residue: 1, Column: 1}: 2,
		{Residue: 2, Column: 2}: 2,
		{Residue: 0, Column: 2}: 100,
	}
	got := SolveDP(w, 3, 3)
	if got[0] != 2 {
		t.Errorf("residue 0 trace = %d, want 2 (the dominant weight)", got[0])
	}
}

func TestSolveDPMonotoneResult(t *testing.T) {
	w := map[accumulate.Key]float64{
		{Residue: 0, Column: 0}: 1,
		{Residue: 2, Column: 1}: 1,
		{Residue: 4, Column: 5}: 1,
	}
	got := SolveDP(w, 5, 6)
	var prevResidue, prevCol = -1, -1
	for i, c := range got {
		if c == -1 {
			continue
		}
		if prevCol != -1 && !(prevResidue < i && prevCol < int(c)) {
			t.Fatalf("monotonicity violated at residue %d: prev=(%d,%d) cur=(%d,%d)", i, prevResidue, prevCol, i, c)
		}
		prevResidue, prevCol = i, int(c)
	}
}

func TestSolveDPNegativeWeightNeverTakenDiagonally(t *testing.T) {
	w := map[accumulate.Key]float64{
		{Residue: 0, Column: 0}: -5,
	}
	got := SolveDP(w, 1, 1)
	if got[0] != -1 {
		t.Errorf("trace = %v, want [-1] (non-positive weight must never be taken diagonally)", got)
	}
}

// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accumulate

import (
	"testing"

	"github.com/kortschak/witch/internal/ehmm"
)

func TestAccumulateRecordMatchColumns(t *testing.T) {
	meta := &ehmm.HmmMeta{
		CharsCnt:        []uint32{2, 3, 4},
		ColumnPositions: []int{5, 7, 9},
	}
	out := make(WeightMatrix)
	// residue 0 -> column 5 (match), residue 1 inserted (lowercase,
	// no weight), column 7 is a gap (no residue), residue 2 -> column 9.
	if err := accumulateRecord([]byte("Aa-C"), meta, 0, 10, out); err != nil {
		t.Fatalf("accumulateRecord: %v", err)
	}
	row := out[0]
	if len(row) != 2 {
		t.Fatalf("row has %d entries, want 2: %+v", len(row), row)
	}
	if got := row[Key{Residue: 0, Column: 5}]; got != 20 {
		t.Errorf("weight at (0,5) = %v, want 20 (score 10 * charsCnt 2)", got)
	}
	if got := row[Key{Residue: 2, Column: 9}]; got != 40 {
		t.Errorf("weight at (2,9) = %v, want 40 (score 10 * charsCnt 4)", got)
	}
}

func TestAccumulateRecordSkipSymbol(t *testing.T) {
	meta := &ehmm.HmmMeta{CharsCnt: []uint32{1}, ColumnPositions: []int{0}}
	out := make(WeightMatrix)
	if err := accumulateRecord([]byte("..A.."), meta, 0, 5, out); err != nil {
		t.Fatalf("accumulateRecord: %v", err)
	}
	if got := out[0][Key{Residue: 0, Column: 0}]; got != 5 {
		t.Errorf("weight = %v, want 5", got)
	}
}

func TestAccumulateRecordRejectsBadByte(t *testing.T) {
	meta := &ehmm.HmmMeta{CharsCnt: []uint32{1}, ColumnPositions: []int{0}}
	out := make(WeightMatrix)
	if err := accumulateRecord([]byte("A1"), meta, 0, 1, out); err == nil {
		t.Error("expected error for non-alphabet byte")
	}
}

func TestAccumulateRecordRejectsShortColumnCursor(t *testing.T) {
	meta := &ehmm.HmmMeta{CharsCnt: []uint32{1, 1}, ColumnPositions: []int{0, 1}}
	out := make(WeightMatrix)
	if err := accumulateRecord([]byte("A"), meta, 0, 1, out); err == nil {
		t.Error("expected error when column cursor doesn't reach HMM width")
	}
}

func TestMergeIntoIsAdditive(t *testing.T) {
	dst := make(WeightMatrix)
	dst.add(0, Key{0, 0}, 1)
	src := make(WeightMatrix)
	src.add(0, Key{0, 0}, 2)
	src.add(1, Key{3, 4}, 5)

	mergeInto(dst, src)
	if got := dst[0][Key{0, 0}]; got != 3 {
		t.Errorf("merged weight = %v, want 3", got)
	}
	if got := dst[1][Key{3, 4}]; got != 5 {
		t.Errorf("merged weight = %v, want 5", got)
	}
}

func TestMergeIntoOrderIndependent(t *testing.T) {
	a := make(WeightMatrix)
	a.add(0, Key{0, 0}, 1)
	b := make(WeightMatrix)
	b.add(0, Key{0, 0}, 2)
	c := make(WeightMatrix)
	c.add(0, Key{0, 0}, 3)

	order1 := make(WeightMatrix)
	mergeInto(order1, a)
	mergeInto(order1, b)
	mergeInto(order1, c)

	order2 := make(WeightMatrix)
	mergeInto(order2, c)
	mergeInto(order2, a)
	mergeInto(order2, b)

	if order1[0][Key{0, 0}] != order2[0][Key{0, 0}] {
		t.Errorf("merge not order independent: %v vs %v", order1[0][Key{0, 0}], order2[0][Key{0, 0}])
	}
}

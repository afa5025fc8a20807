// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package assemble

import (
	"bytes"
	"testing"

	"github.com/kortschak/witch/internal/fastaio"
)

func TestAssembleOutputColumnCountMatchesInvariant(t *testing.T) {
	backbone := []fastaio.Record{
		{Name: "bb1", Residues: []byte("ACGT")},
		{Name: "bb2", Residues: []byte("A-GT")},
	}
	queries := []fastaio.Record{
		{Name: "q1", Residues: []byte("ACXGT")}, // one inserted residue X between columns 1 and 2
	}
	traces := []Trace{
		{0, 1, -1, 2, 3},
	}
	out, err := Assemble(backbone, queries, traces, 4)
	if err != nil {
		t.Fatal(err)
	}

	rows := make([]Trace, 0, len(traces)+1)
	consensus := Trace{0, 1, 2, 3}
	rows = append(rows, consensus, traces[0])
	fp := computeFrontPadding(4, rows)
	var total int
	for _, p := range fp {
		total += p
	}
	want := 4 + total
	for _, rec := range out {
		if len(rec.Residues) != want {
			t.Errorf("record %q has %d columns, want %d", rec.Name, len(rec.Residues), want)
		}
	}
}

func TestAssembleQueryUppercaseResiduesMatchOriginal(t *testing.T) {
	backbone := []fastaio.Record{
		{Name: "bb1", Residues: []byte("ACGT")},
	}
	queries := []fastaio.Record{
		{Name: "q1", Residues: []byte("acgt")},
	}
	traces := []Trace{{0, 1, 2, 3}}
	out, err := Assemble(backbone, queries, traces, 4)
	if err != nil {
		t.Fatal(err)
	}
	q := out[len(out)-1]
	var upper []byte
	for _, b := range q.Residues {
		if b >= 'A' && b <= 'Z' {
			upper = append(upper, b)
		}
	}
	if string(upper) != "ACGT" {
		t.Errorf("uppercase residues = %q, want %q", upper, "ACGT")
	}
}

func TestAssembleBackboneColumnsAtShiftedPositions(t *testing.T) {
	backbone := []fastaio.Record{
		{Name: "bb1", Residues: []byte("ACGT")},
	}
	// A leading insertion before the first backbone column.
	queries := []fastaio.Record{
		{Name: "q1", Residues: []byte("xxACGT")},
	}
	traces := []Trace{{-1, -1, 0, 1, 2, 3}}
	out, err := Assemble(backbone, queries, traces, 4)
	if err != nil {
		t.Fatal(err)
	}
	bb := out[0]
	// The two leading singleton columns should be '-' in the backbone row.
	if bb.Residues[0] != '-' || bb.Residues[1] != '-' {
		t.Errorf("backbone leading columns = %q, want gaps", bb.Residues[:2])
	}
	if string(bytes.ToUpper(bb.Residues[2:])) != "ACGT" {
		t.Errorf("backbone columns after padding = %q, want ACGT", bb.Residues[2:])
	}
}

func TestAssembleEmitOrderBackboneThenQueries(t *testing.T) {
	backbone := []fastaio.Record{{Name: "bb1", Residues: []byte("AC")}, {Name: "bb2", Residues: []byte("AG")}}
	queries := []fastaio.Record{{Name: "q1", Residues: []byte("AC")}, {Name: "q2", Residues: []byte("AG")}}
	traces := []Trace{{0, 1}, {0, 1}}
	out, err := Assemble(backbone, queries, traces, 2)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(out))
	for i, r := range out {
		names[i] = r.Name
	}
	want := []string{"bb1", "bb2", "q1", "q2"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("record %d = %q, want %q (order %v)", i, names[i], n, names)
			break
		}
	}
}

func TestAssignPositionsFullyUnmatchedFlushesToFront(t *testing.T) {
	// A query that never matched any backbone column is one long leading
	// run of singletons and goes to the very left of the canvas.
	row := Trace{-1, -1, -1}
	shifted := []int{0, 1, 2, 3}
	positions, matched := assignPositions(row, shifted, 7)
	for k, pos := range positions {
		if pos != k {
			t.Errorf("positions[%d] = %d, want %d", k, pos, k)
		}
		if matched[k] {
			t.Errorf("matched[%d] = true, want false", k)
		}
	}
}

func TestComputeShiftedColumnsMonotone(t *testing.T) {
	fp := []int{2, 0, 3, 1}
	shifted := computeShiftedColumns(fp, 3)
	for i := 1; i < len(shifted); i++ {
		if shifted[i] <= shifted[i-1] {
			t.Errorf("shiftedColumns not increasing at %d: %v", i, shifted)
		}
	}
	if shifted[0] != fp[0] {
		t.Errorf("shiftedColumns[0] = %d, want %d", shifted[0], fp[0])
	}
}

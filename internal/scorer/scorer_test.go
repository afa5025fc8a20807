// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scorer

import (
	"math"
	"testing"
)

func TestClampChunkSize(t *testing.T) {
	cases := []struct {
		q, workers, want int
	}{
		{q: 100, workers: 4, want: 400},    // below floor
		{q: 100000, workers: 4, want: 1000}, // above ceiling
		{q: 4000, workers: 8, want: 500},    // exactly in range
	}
	for _, c := range cases {
		if got := clampChunkSize(c.q, c.workers); got != c.want {
			t.Errorf("clampChunkSize(%d,%d) = %d, want %d", c.q, c.workers, got, c.want)
		}
	}
}

func TestAdjustedScoreInvariantUnderConstantShift(t *testing.T) {
	sizes := []int{10, 20, 30}
	base := []rawTriple{
		{hmmID: 0, seqID: 0, bitscore: 5},
		{hmmID: 1, seqID: 0, bitscore: 7},
		{hmmID: 2, seqID: 0, bitscore: 3},
	}
	shifted := make([]rawTriple, len(base))
	for i, t := range base {
		shifted[i] = t
		shifted[i].bitscore += 100
	}

	got1 := adjustedTopK(base, sizes, 3)
	got2 := adjustedTopK(shifted, sizes, 3)
	if len(got1) != len(got2) {
		t.Fatalf("length mismatch: %d vs %d", len(got1), len(got2))
	}
	for i := range got1 {
		if got1[i].HMMID != got2[i].HMMID {
			t.Errorf("entry %d: HMMID %d vs %d", i, got1[i].HMMID, got2[i].HMMID)
		}
		if math.Abs(got1[i].Score-got2[i].Score) > 1e-9 {
			t.Errorf("entry %d: score %v vs %v not shift-invariant", i, got1[i].Score, got2[i].Score)
		}
	}
}

func TestAdjustedScoreSingleHMMIsOne(t *testing.T) {
	sizes := []int{10}
	triples := []rawTriple{{hmmID: 0, seqID: 0, bitscore: 42}}
	got := adjustedTopK(triples, sizes, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Errorf("score = %v, want 1 (a query matching only its own HMM gets full weight)", got[0].Score)
	}
}

func TestTopKByScoreOrderingAndTieBreak(t *testing.T) {
	cands := []HMMScore{
		{HMMID: 5, Score: 1},
		{HMMID: 2, Score: 1},
		{HMMID: 1, Score: 2},
		{HMMID: 9, Score: 0.5},
	}
	got := topKByScore(cands, 3)
	want := []HMMScore{{HMMID: 1, Score: 2}, {HMMID: 2, Score: 1}, {HMMID: 5, Score: 1}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v (full: %+v)", i, got[i], want[i], got)
		}
	}
}

func TestTopKByScoreTruncates(t *testing.T) {
	var cands []HMMScore
	for i := 0; i < 20; i++ {
		cands = append(cands, HMMScore{HMMID: i, Score: float64(i)})
	}
	got := topKByScore(cands, 10)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0].HMMID != 19 {
		t.Errorf("top entry HMMID = %d, want 19 (highest score)", got[0].HMMID)
	}
}

func TestAdderPayloadTransposeConservesCount(t *testing.T) {
	p := &AdderPayload{
		SequenceTophits: [][]HMMScore{
			{{HMMID: 0, Score: 1}, {HMMID: 1, Score: 0.5}},
			{{HMMID: 1, Score: 0.9}},
			{},
		},
	}
	byHMM := p.Transpose(2)
	var total int
	for _, hits := range byHMM {
		total += len(hits)
	}
	var want int
	for _, hits := range p.SequenceTophits {
		want += len(hits)
	}
	if total != want {
		t.Errorf("transposed total = %d, want %d", total, want)
	}
	if len(byHMM[0]) != 1 || byHMM[0][0].SeqID != 0 {
		t.Errorf("byHMM[0] = %+v, want [{SeqID:0 ...}]", byHMM[0])
	}
	if len(byHMM[1]) != 2 {
		t.Errorf("byHMM[1] has %d entries, want 2", len(byHMM[1]))
	}
}

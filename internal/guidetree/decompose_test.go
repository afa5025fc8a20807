// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guidetree

import (
	"reflect"
	"testing"
)

// caterpillar builds a ladder tree over n taxa:
//
//	((...((t0,t1),t2)...),t(n-1))
//
// each internal node joining one more leaf to the growing cherry.
func caterpillar(n int) *Tree {
	b := newBuilder()
	prev := b.addNode(-1) // will become taxon 0's leaf, then get reparented
	b.taxonOf[prev] = 0
	root := prev
	for i := 1; i < n; i++ {
		newRoot := b.addNode(-1)
		b.parent[prev] = newRoot
		b.children[newRoot] = append(b.children[newRoot], prev)
		leaf := b.addNode(newRoot)
		b.taxonOf[leaf] = i
		root = newRoot
		prev = newRoot
	}
	tr, err := b.build(root, n)
	if err != nil {
		panic(err)
	}
	return tr
}

// balanced builds a binary tree over n taxa by halving the taxon list at
// every node; it is perfectly balanced when n is a power of two.
func balanced(n int) *Tree {
	b := newBuilder()
	var build func(parent int, taxa []int) int
	build = func(parent int, taxa []int) int {
		id := b.addNode(parent)
		if len(taxa) == 1 {
			b.taxonOf[id] = taxa[0]
			return id
		}
		mid := len(taxa) / 2
		build(id, taxa[:mid])
		build(id, taxa[mid:])
		return id
	}
	taxa := make([]int, n)
	for i := range taxa {
		taxa[i] = i
	}
	root := build(-1, taxa)
	tr, err := b.build(root, n)
	if err != nil {
		panic(err)
	}
	return tr
}

func TestHierarchicalDecompDeterministic(t *testing.T) {
	for _, n := range []int{2, 3, 7, 16, 31} {
		for _, maxSize := range []int{2, 3, 4, 8} {
			h1, err := HierarchicalDecomp(balanced(n), maxSize)
			if err != nil {
				t.Fatalf("n=%d maxSize=%d: %v", n, maxSize, err)
			}
			h2, err := HierarchicalDecomp(balanced(n), maxSize)
			if err != nil {
				t.Fatalf("n=%d maxSize=%d: %v", n, maxSize, err)
			}
			if !reflect.DeepEqual(h1, h2) {
				t.Errorf("n=%d maxSize=%d: decomposition not deterministic:\n%+v\n%+v", n, maxSize, h1, h2)
			}
		}
	}
}

func TestHierarchicalDecompRangesCoverAndSize(t *testing.T) {
	n := 17
	maxSize := 4
	hi, err := HierarchicalDecomp(balanced(n), maxSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(hi.ReorderedTaxa) != n {
		t.Fatalf("ReorderedTaxa length = %d, want %d", len(hi.ReorderedTaxa), n)
	}
	seen := make(map[int]bool, n)
	for _, taxon := range hi.ReorderedTaxa {
		if seen[taxon] {
			t.Fatalf("taxon %d appears more than once in ReorderedTaxa", taxon)
		}
		seen[taxon] = true
	}
	for taxon, pos := range hi.TaxaPositions {
		if hi.ReorderedTaxa[pos] != taxon {
			t.Fatalf("TaxaPositions[%d]=%d but ReorderedTaxa[%d]=%d", taxon, pos, pos, hi.ReorderedTaxa[pos])
		}
	}
	if hi.DecompositionRanges[0] != [2]int{0, n} {
		t.Fatalf("first range = %v, want whole-backbone range", hi.DecompositionRanges[0])
	}
	for _, r := range hi.DecompositionRanges {
		if r[1]-r[0] < 2 {
			t.Errorf("range %v has size < 2", r)
		}
	}
}

func TestHierarchicalDecompTrivial(t *testing.T) {
	hi, err := HierarchicalDecomp(balanced(2), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hi.DecompositionRanges) != 1 {
		t.Fatalf("expected no further cuts when size <= maxSize, got ranges %v", hi.DecompositionRanges)
	}
	if hi.DecompositionRanges[0] != [2]int{0, 2} {
		t.Fatalf("unexpected single range %v", hi.DecompositionRanges[0])
	}
}

func TestHierarchicalDecompRejectsBadInput(t *testing.T) {
	if _, err := HierarchicalDecomp(balanced(4), 1); err == nil {
		t.Error("expected error for maxSize < 2")
	}
	if _, err := HierarchicalDecomp(&Tree{NTaxa: 0}, 4); err == nil {
		t.Error("expected error for empty tree")
	}
}

func TestCaterpillarDecomposes(t *testing.T) {
	tr := caterpillar(9)
	hi, err := HierarchicalDecomp(tr, 3)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, r := range hi.DecompositionRanges {
		total += r[1] - r[0]
	}
	if hi.DecompositionRanges[0] != [2]int{0, 9} {
		t.Fatalf("first range = %v, want (0,9)", hi.DecompositionRanges[0])
	}
}

// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guidetree

import (
	"container/heap"
	"fmt"
)

// TaxaHierarchy is the result of decomposing a backbone guide tree into
// nested taxon ranges, each small enough to build one profile HMM from.
type TaxaHierarchy struct {
	// ReorderedTaxa is a permutation of [0,N) such that every
	// DecompositionRanges entry refers to a contiguous slice of this
	// order.
	ReorderedTaxa []int
	// TaxaPositions[t] is the index in ReorderedTaxa holding taxon t,
	// i.e. the inverse permutation.
	TaxaPositions []int
	// DecompositionRanges are the emitted [lo,hi) subsets, in the order
	// they were produced. Index 0 is always (0,N), the whole backbone.
	DecompositionRanges [][2]int
}

// cutRange is a node pushed onto the decomposition heap: a candidate
// subset of size leaves spanning [lo,hi) in the taxa order being built,
// rooted at subroot in the guide tree.
type cutRange struct {
	size    int64
	lo, hi  int
	subroot int
}

// cutHeap is a max-heap on cutRange ordered first by size, then by the
// range bounds, matching the tuple ordering a Rust BinaryHeap would give
// over (size, (lo,hi), root): among equally sized pending subsets it
// fixes which is cut first, and so the order in which their halves are
// appended to DecompositionRanges, keeping pop order deterministic and
// reviewable.
type cutHeap []cutRange

func (h cutHeap) Len() int { return len(h) }
func (h cutHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.size != b.size {
		return a.size > b.size
	}
	if a.lo != b.lo {
		return a.lo > b.lo
	}
	if a.hi != b.hi {
		return a.hi > b.hi
	}
	return a.subroot > b.subroot
}
func (h cutHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cutHeap) Push(x any) { *h = append(*h, x.(cutRange)) }
func (h *cutHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// HierarchicalDecomp performs the balanced recursive bisection of tree
// into taxon-index ranges no larger than maxSize, except that recursion
// stops rather than produce a subset smaller than 2 taxa. The result is
// deterministic: running HierarchicalDecomp twice on the same tree and
// maxSize yields byte-for-byte identical TaxaHierarchy values.
func HierarchicalDecomp(tree *Tree, maxSize int) (*TaxaHierarchy, error) {
	n := tree.NTaxa
	if n == 0 {
		return nil, fmt.Errorf("guidetree: empty tree")
	}
	if maxSize < 2 {
		return nil, fmt.Errorf("guidetree: max_size must be at least 2, got %d", maxSize)
	}

	sizes := subtreeSizes(tree)

	reordered := make([]int, n)
	for i := range reordered {
		reordered[i] = i
	}
	positions := make([]int, n)
	for i, t := range reordered {
		positions[t] = i
	}

	ranges := make([][2]int, 0)
	ranges = append(ranges, [2]int{0, n})

	cuts := make(map[int]bool)

	h := &cutHeap{{size: int64(n), lo: 0, hi: n, subroot: tree.Root()}}
	heap.Init(h)

	for h.Len() > 0 {
		cur := heap.Pop(h).(cutRange)
		if cur.size <= int64(maxSize) {
			continue
		}

		bestCut, ok := selectBestCut(tree, sizes, cur, cuts)
		if !ok {
			continue
		}

		// Propagate the size reduction up the ancestor chain from
		// best_cut to (but not including) cur.subroot. Nodes above the
		// subroot belong to subsets that were already carved off and
		// must keep their sizes.
		cutSize := sizes[bestCut]
		for a := tree.Parent(bestCut); a >= 0 && a != cur.subroot; a = tree.Parent(a) {
			sizes[a] -= cutSize
		}
		cuts[bestCut] = true

		isLeft := stablePartition(tree, cur, bestCut)

		lo, hi := cur.lo, cur.hi
		mid := lo + int(cutSize)
		reorderRange(reordered, positions, lo, hi, isLeft)

		leftLo, leftHi := lo, mid
		rightLo, rightHi := mid, hi
		leftSize := cutSize
		rightSize := cur.size - cutSize

		if leftHi-leftLo >= 2 {
			ranges = append(ranges, [2]int{leftLo, leftHi})
		}
		if rightHi-rightLo >= 2 {
			ranges = append(ranges, [2]int{rightLo, rightHi})
		}

		heap.Push(h, cutRange{size: leftSize, lo: leftLo, hi: leftHi, subroot: bestCut})
		heap.Push(h, cutRange{size: rightSize, lo: rightLo, hi: rightHi, subroot: cur.subroot})
	}

	return &TaxaHierarchy{
		ReorderedTaxa:       reordered,
		TaxaPositions:       positions,
		DecompositionRanges: ranges,
	}, nil
}

// selectBestCut finds the internal node v != cur.subroot, reachable from
// cur.subroot without crossing an already-cut boundary, that minimizes
// |cur.size - 2*sizes[v]|. Ties go to the first candidate encountered in
// postorder.
func selectBestCut(tree *Tree, sizes []int64, cur cutRange, cuts map[int]bool) (int, bool) {
	best := -1
	var bestImbalance int64
	for _, v := range tree.PostorderFromExcluding(cur.subroot, cuts) {
		if v == cur.subroot || tree.IsLeaf(v) {
			continue
		}
		imbalance := cur.size - 2*sizes[v]
		if imbalance < 0 {
			imbalance = -imbalance
		}
		if best == -1 || imbalance < bestImbalance {
			best = v
			bestImbalance = imbalance
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// stablePartition marks, for every taxon position in [cur.lo,cur.hi), and
// for every node in the subtree under cut, whether it belongs to the
// left (cut) half, then returns that marking indexed by taxon id.
func stablePartition(tree *Tree, cur cutRange, cut int) map[int]bool {
	left := make(map[int]bool)
	for _, v := range tree.PostorderFrom(cut) {
		if tree.IsLeaf(v) {
			left[tree.Taxon(v)] = true
		}
	}
	return left
}

// reorderRange stably partitions reordered[lo:hi] so taxa marked by
// isLeft come first, preserving relative order within each half, and
// updates positions to match.
func reorderRange(reordered, positions []int, lo, hi int, isLeft map[int]bool) {
	buf := make([]int, 0, hi-lo)
	for _, t := range reordered[lo:hi] {
		if isLeft[t] {
			buf = append(buf, t)
		}
	}
	for _, t := range reordered[lo:hi] {
		if !isLeft[t] {
			buf = append(buf, t)
		}
	}
	copy(reordered[lo:hi], buf)
	for i := lo; i < hi; i++ {
		positions[reordered[i]] = i
	}
}

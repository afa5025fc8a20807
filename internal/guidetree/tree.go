// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guidetree provides a flat, taxon-indexed representation of a
// rooted tree and the balanced recursive bisection used to decompose a
// backbone guide tree into nested taxon subsets.
package guidetree

import "fmt"

// noTaxon marks an internal node that has no associated leaf taxon.
const noTaxon = -1

// Tree is a rooted tree over leaf taxa numbered [0, NTaxa). Internal
// structure is stored as flat parent/children arrays indexed by node id;
// node ids are assigned in the order nodes are discovered while importing
// from the source tree format.
type Tree struct {
	NTaxa int

	root     int
	parent   []int
	children [][]int
	taxonOf  []int // taxonOf[node] is the taxon id of a leaf, or noTaxon
	taxonAt  []int // taxonAt[taxon] is the node id bearing that taxon
}

// NumNodes returns the number of nodes (leaves and internal) in the tree.
func (t *Tree) NumNodes() int { return len(t.parent) }

// Root returns the root node id.
func (t *Tree) Root() int { return t.root }

// IsLeaf reports whether node v is a leaf.
func (t *Tree) IsLeaf(v int) bool { return len(t.children[v]) == 0 }

// Children returns the child node ids of v.
func (t *Tree) Children(v int) []int { return t.children[v] }

// Parent returns the parent of v, or -1 if v is the root.
func (t *Tree) Parent(v int) int { return t.parent[v] }

// Taxon returns the taxon id of leaf v, or noTaxon if v is internal.
func (t *Tree) Taxon(v int) int { return t.taxonOf[v] }

// NodeOfTaxon returns the node id bearing taxon id id.
func (t *Tree) NodeOfTaxon(id int) int { return t.taxonAt[id] }

// Postorder returns every node reachable from the root in postorder.
func (t *Tree) Postorder() []int {
	order := make([]int, 0, len(t.parent))
	var visit func(v int)
	visit = func(v int) {
		for _, c := range t.children[v] {
			visit(c)
		}
		order = append(order, v)
	}
	visit(t.root)
	return order
}

// PostorderFrom returns every node in the subtree rooted at v, in
// postorder, including v itself.
func (t *Tree) PostorderFrom(v int) []int {
	order := make([]int, 0)
	var visit func(u int)
	visit = func(u int) {
		for _, c := range t.children[u] {
			visit(c)
		}
		order = append(order, u)
	}
	visit(v)
	return order
}

// PostorderFromExcluding returns nodes of the subtree rooted at v in
// postorder, but treats any node in cut (other than v itself) as absent:
// neither the node nor anything beneath it is visited. This models a
// subtree whose descendants have already been carved off into other
// components by an earlier decomposition step.
func (t *Tree) PostorderFromExcluding(v int, cut map[int]bool) []int {
	order := make([]int, 0)
	var visit func(u int)
	visit = func(u int) {
		if u != v && cut[u] {
			return
		}
		for _, c := range t.children[u] {
			visit(c)
		}
		order = append(order, u)
	}
	visit(v)
	return order
}

// subtreeSizes returns, for every node, the number of leaves in its
// subtree, computed with a single postorder pass.
func subtreeSizes(t *Tree) []int64 {
	sizes := make([]int64, len(t.parent))
	for _, v := range t.Postorder() {
		if t.IsLeaf(v) {
			sizes[v] = 1
			continue
		}
		var s int64
		for _, c := range t.children[v] {
			s += sizes[c]
		}
		sizes[v] = s
	}
	return sizes
}

// builder accumulates nodes while importing a tree from an external
// representation.
type builder struct {
	parent   []int
	children [][]int
	taxonOf  []int
}

func newBuilder() *builder {
	return &builder{}
}

// addNode appends a new node with the given parent (-1 for the root) and
// returns its id.
func (b *builder) addNode(parent int) int {
	id := len(b.parent)
	b.parent = append(b.parent, parent)
	b.children = append(b.children, nil)
	b.taxonOf = append(b.taxonOf, noTaxon)
	if parent >= 0 {
		b.children[parent] = append(b.children[parent], id)
	}
	return id
}

func (b *builder) build(root int, ntaxa int) (*Tree, error) {
	taxonAt := make([]int, ntaxa)
	for i := range taxonAt {
		taxonAt[i] = -1
	}
	for node, tid := range b.taxonOf {
		if tid == noTaxon {
			continue
		}
		if tid < 0 || tid >= ntaxa {
			return nil, fmt.Errorf("guidetree: taxon id %d out of range [0,%d)", tid, ntaxa)
		}
		if taxonAt[tid] != -1 {
			return nil, fmt.Errorf("guidetree: duplicate taxon id %d", tid)
		}
		taxonAt[tid] = node
	}
	for id, node := range taxonAt {
		if node == -1 {
			return nil, fmt.Errorf("guidetree: taxon id %d never appeared in tree", id)
		}
	}
	return &Tree{
		NTaxa:    ntaxa,
		root:     root,
		parent:   b.parent,
		children: b.children,
		taxonOf:  b.taxonOf,
		taxonAt:  taxonAt,
	}, nil
}

// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guidetree

import (
	"fmt"
	"io"

	gotree "github.com/evolbioinfo/gotree/io/newick"
	gtree "github.com/evolbioinfo/gotree/tree"
)

// LoadNewick reads a single rooted Newick tree from r and converts it into
// the flat array-based Tree used by HierarchicalDecomp. names maps leaf
// labels in the Newick string to the taxon ids used elsewhere in this
// package — typically the 0-based row order of the backbone alignment the
// tree accompanies. Every leaf in the tree must appear in names and every
// id in names must be used exactly once; otherwise LoadNewick returns an
// error identifying the mismatch.
func LoadNewick(r io.Reader, names map[string]int) (*Tree, error) {
	gt, err := gotree.NewParser(r).Parse()
	if err != nil {
		return nil, fmt.Errorf("guidetree: parsing newick tree: %w", err)
	}
	return fromGotree(gt, names)
}

// fromGotree walks a parsed gotree.Tree from its root and rebuilds it as a
// flat Tree, resolving leaf names through names. gotree's Node.Neigh does
// not distinguish parent from children, so descent is driven by a visited
// set seeded with the root: the only unvisited neighbour of any node is
// the edge leading away from the root, i.e. toward its children.
func fromGotree(gt *gtree.Tree, names map[string]int) (*Tree, error) {
	root := gt.Root()
	if root.Tip() {
		return nil, fmt.Errorf("guidetree: tree has a single leaf, nothing to decompose")
	}

	b := newBuilder()
	rootID := b.addNode(-1)
	seen := make(map[string]bool, len(names))
	visited := map[*gtree.Node]bool{root: true}

	var descend func(parent int, node *gtree.Node) error
	descend = func(parent int, node *gtree.Node) error {
		if node.Tip() {
			name := node.Name()
			tid, ok := names[name]
			if !ok {
				return fmt.Errorf("guidetree: leaf %q in tree has no assigned taxon id", name)
			}
			if seen[name] {
				return fmt.Errorf("guidetree: leaf %q appears more than once in tree", name)
			}
			seen[name] = true
			b.taxonOf[parent] = tid
			return nil
		}
		for _, child := range node.Neigh() {
			if visited[child] {
				continue
			}
			visited[child] = true
			id := b.addNode(parent)
			if err := descend(id, child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, child := range root.Neigh() {
		visited[child] = true
		id := b.addNode(rootID)
		if err := descend(id, child); err != nil {
			return nil, err
		}
	}

	if len(seen) != len(names) {
		for name := range names {
			if !seen[name] {
				return nil, fmt.Errorf("guidetree: taxon %q never appeared as a leaf in the tree", name)
			}
		}
	}

	return b.build(rootID, len(names))
}

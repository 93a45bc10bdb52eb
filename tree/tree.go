// Package tree holds the regression trees the trainer grows: a perfect
// binary heap of split nodes with leaf weights at the last level.
package tree

import (
	"math"

	"github.com/pseudotensor/arboretum/data"
)

// Node is one internal node of a tree.
type Node struct {
	Fid         int     `json:"fid"`
	Threshold   float32 `json:"threshold"`
	SplitByTrue bool    `json:"split_by_true,omitempty"`
}

// RegTree is a regression tree of fixed depth. Internal nodes occupy heap
// positions [0, 2^(depth-1)-1); the 2^(depth-1) leaves at the last level
// hold the weights. Degenerate nodes carry a +Inf threshold, so the "value
// <= threshold goes left" rule routes every row left and the heap stays
// perfect without a leaf-only node variant.
type RegTree struct {
	Depth   int       `json:"depth"`
	Nodes   []Node    `json:"nodes"`
	Weights []float32 `json:"weights"`
}

// New allocates a tree of the given depth.
func New(depth int) *RegTree {
	return &RegTree{
		Depth:   depth,
		Nodes:   make([]Node, (1<<(depth-1))-1),
		Weights: make([]float32, 1<<(depth-1)),
	}
}

// HeapOffset returns the heap index of the first node at a level.
func HeapOffset(level int) int {
	return (1 << level) - 1
}

// ChildNode returns the heap index of a child of node i.
func ChildNode(i int, left bool) int {
	if left {
		return 2*i + 1
	}
	return 2*i + 2
}

// LeafCount returns the number of leaves.
func (t *RegTree) LeafCount() int { return 1 << (t.Depth - 1) }

// Leaf walks the tree for one row and returns the leaf index in
// [0, LeafCount).
func (t *RegTree) Leaf(m *data.DataMatrix, row int) int {
	node := 0
	for level := 0; level < t.Depth-1; level++ {
		n := t.Nodes[node]
		left := false
		switch {
		case n.SplitByTrue:
			left = m.RowHasSparse(row, n.Fid)
		case math.IsInf(float64(n.Threshold), 1):
			// Degenerate node: every row goes left.
			left = true
		default:
			left = m.Data[n.Fid][row] <= n.Threshold
		}
		node = ChildNode(node, left)
	}
	return node - HeapOffset(t.Depth-1)
}

// Predict accumulates each row's leaf weight into out.
func (t *RegTree) Predict(m *data.DataMatrix, out []float32) {
	for row := 0; row < m.Rows; row++ {
		out[row] += t.Weights[t.Leaf(m, row)]
	}
}

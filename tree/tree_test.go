package tree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudotensor/arboretum/data"
)

func TestHeapNavigation(t *testing.T) {
	assert.Equal(t, 0, HeapOffset(0))
	assert.Equal(t, 1, HeapOffset(1))
	assert.Equal(t, 3, HeapOffset(2))
	assert.Equal(t, 7, HeapOffset(3))

	assert.Equal(t, 1, ChildNode(0, true))
	assert.Equal(t, 2, ChildNode(0, false))
	assert.Equal(t, 5, ChildNode(2, true))
	assert.Equal(t, 6, ChildNode(2, false))
}

func TestNewSizes(t *testing.T) {
	tr := New(3)
	assert.Len(t, tr.Nodes, 3)
	assert.Len(t, tr.Weights, 4)
	assert.Equal(t, 4, tr.LeafCount())
}

func testMatrix(t *testing.T) *data.DataMatrix {
	t.Helper()
	m := &data.DataMatrix{Rows: 4}
	m.AddDenseFeature([]float32{1, 2, 3, 4})
	m.AddSparseFeature([]uint32{0, 2}) // fid 1
	require.NoError(t, m.Init())
	return m
}

func TestPredictDenseRouting(t *testing.T) {
	m := testMatrix(t)
	tr := New(2)
	tr.Nodes[0] = Node{Fid: 0, Threshold: 2.5}
	tr.Weights = []float32{-1, 1}

	out := make([]float32, 4)
	tr.Predict(m, out)
	assert.Equal(t, []float32{-1, -1, 1, 1}, out)
}

func TestPredictSparseRouting(t *testing.T) {
	m := testMatrix(t)
	tr := New(2)
	tr.Nodes[0] = Node{Fid: 1, SplitByTrue: true}
	tr.Weights = []float32{10, 20}

	out := make([]float32, 4)
	tr.Predict(m, out)
	assert.Equal(t, []float32{10, 20, 10, 20}, out)
}

func TestPredictDegenerateRoutesAllLeft(t *testing.T) {
	m := testMatrix(t)
	tr := New(2)
	tr.Nodes[0] = Node{Fid: 0, Threshold: float32(math.Inf(1))}
	tr.Weights = []float32{5, -99}

	out := make([]float32, 4)
	tr.Predict(m, out)
	assert.Equal(t, []float32{5, 5, 5, 5}, out)
}

func TestPredictAccumulates(t *testing.T) {
	m := testMatrix(t)
	tr := New(2)
	tr.Nodes[0] = Node{Fid: 0, Threshold: 2.5}
	tr.Weights = []float32{-1, 1}

	out := []float32{100, 100, 100, 100}
	tr.Predict(m, out)
	assert.Equal(t, []float32{99, 99, 101, 101}, out)
}

func TestPredictDepthThree(t *testing.T) {
	m := testMatrix(t)
	tr := New(3)
	tr.Nodes[0] = Node{Fid: 0, Threshold: 2.5}
	tr.Nodes[1] = Node{Fid: 1, SplitByTrue: true}          // rows 0,1
	tr.Nodes[2] = Node{Fid: 0, Threshold: 3.5}             // rows 2,3
	tr.Weights = []float32{1, 2, 3, 4}

	out := make([]float32, 4)
	tr.Predict(m, out)
	// Row 0: left (1<=2.5), sparse true  -> leaf 0.
	// Row 1: left, sparse false          -> leaf 1.
	// Row 2: right (3>2.5), 3<=3.5 left  -> leaf 2.
	// Row 3: right, 4>3.5 right          -> leaf 3.
	assert.Equal(t, []float32{1, 2, 3, 4}, out)
}

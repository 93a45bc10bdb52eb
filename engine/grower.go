// Package engine is the per-tree training core: the per-feature device
// pipeline, the per-level orchestration, and the tree grower that drives
// level-by-level growth.
package engine

import (
	"math"
	"math/rand"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/async"
	"github.com/pseudotensor/arboretum/cgo_bridge"
	"github.com/pseudotensor/arboretum/data"
	"github.com/pseudotensor/arboretum/memory"
	"github.com/pseudotensor/arboretum/split"
	"github.com/pseudotensor/arboretum/tree"
)

// NodeStat is the per-leaf aggregate at the current level.
type NodeStat[F constraints.Float, T split.Element[T, F]] struct {
	Count   int
	SumGrad T
}

// Grower grows one tree at a time over a fixed dataset. It owns the device
// gradient vector, the row-to-leaf map, the parent prefix arrays, and the
// slot ring; all of it is reused across trees for the trainer's lifetime.
type Grower[F constraints.Float, T split.Element[T, F]] struct {
	m   *data.DataMatrix
	p   Params
	mgr *memory.Manager

	lk cgo_bridge.LeafKind
	gk cgo_bridge.GradKind
	gp split.GainParam[F]

	ring *async.SlotRing
	rng  *rand.Rand

	mainStream cgo_bridge.Stream

	dGrads       *memory.Buffer
	dRowToLeaf   *memory.Buffer
	dParentSum   *memory.Buffer
	dParentCount *memory.Buffer

	rowToLeaf   []uint64
	leafScratch []byte
	parentSum   []T
	parentCount []uint32
	nodeStat    []NodeStat[F, T]
	bestSplit   []split.Split[F, T]
	sparseStat  [][]int // [local sparse column][leaf] true-row count
}

// NewGrower builds a grower for the dataset. Depth selects the leaf-id
// width; T selects the gradient layout crossing the bridge.
func NewGrower[F constraints.Float, T split.Element[T, F]](m *data.DataMatrix, p Params, mgr *memory.Manager, overlap int, seed int64) (*Grower[F, T], error) {
	n := m.Rows
	var t T
	gradSize := int(unsafe.Sizeof(t))
	lk := cgo_bridge.LeafKindForDepth(p.Depth)
	gk, err := gradKindOf[F, T]()
	if err != nil {
		return nil, err
	}
	maxLeaves := 1 << (p.Depth - 2)

	g := &Grower[F, T]{
		m:   m,
		p:   p,
		mgr: mgr,
		lk:  lk,
		gk:  gk,
		gp: split.GainParam[F]{
			Lambda:  F(p.Lambda),
			Alpha:   F(p.Alpha),
			MinHess: F(p.MinHess),
			MinLeaf: p.MinLeaf,
		},
		rng:         rand.New(rand.NewSource(seed)),
		rowToLeaf:   make([]uint64, n),
		leafScratch: make([]byte, n*lk.Size()),
		parentSum:   make([]T, maxLeaves+1),
		parentCount: make([]uint32, maxLeaves+1),
		nodeStat:    make([]NodeStat[F, T], 0, 1<<(p.Depth-1)),
		bestSplit:   make([]split.Split[F, T], maxLeaves),
		sparseStat:  make([][]int, m.ColumnsSparse),
	}

	if g.mainStream, err = cgo_bridge.CreateStream(); err != nil {
		return nil, errors.Wrap(err, "engine: main stream")
	}
	alloc := func(dst **memory.Buffer, size int) {
		if err != nil {
			return
		}
		*dst, err = mgr.Alloc(size)
	}
	alloc(&g.dGrads, n*gradSize)
	alloc(&g.dRowToLeaf, n*lk.Size())
	alloc(&g.dParentSum, (maxLeaves+1)*gradSize)
	alloc(&g.dParentCount, (maxLeaves+1)*4)
	if err != nil {
		g.Release()
		return nil, errors.Wrap(err, "engine: level buffers")
	}

	if g.ring, err = async.NewSlotRing(mgr, overlap, n, maxLeaves, gradSize, lk.Size()); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

// Release frees all device state.
func (g *Grower[F, T]) Release() {
	if g.ring != nil {
		g.ring.Release()
		g.ring = nil
	}
	g.mgr.Free(g.dGrads)
	g.mgr.Free(g.dRowToLeaf)
	g.mgr.Free(g.dParentSum)
	g.mgr.Free(g.dParentCount)
	if g.mainStream != 0 {
		cgo_bridge.DestroyStream(g.mainStream)
		g.mainStream = 0
	}
}

// Grow builds one tree from the given per-row gradients.
func (g *Grower[F, T]) Grow(grads []T) (*tree.RegTree, error) {
	n := g.m.Rows
	if len(grads) != n {
		return nil, errors.Errorf("engine: %d gradients for %d rows", len(grads), n)
	}
	var t T
	gradSize := int(unsafe.Sizeof(t))
	if err := cgo_bridge.CopyToDeviceAsync(g.mainStream, g.dGrads.Handle(), unsafe.Pointer(&grads[0]), n*gradSize); err != nil {
		return nil, errors.Wrap(err, "engine: gradient upload")
	}
	if err := cgo_bridge.SynchronizeStream(g.mainStream); err != nil {
		return nil, err
	}

	clear(g.rowToLeaf)
	g.nodeStat = g.nodeStat[:1]
	g.nodeStat[0] = NodeStat[F, T]{Count: n, SumGrad: parallelSum[F](grads)}
	g.seedSparseStats()

	out := tree.New(g.p.Depth)
	for level := 0; level <= g.p.Depth-2; level++ {
		if err := g.runLevel(level); err != nil {
			return nil, errors.Wrapf(err, "engine: level %d", level)
		}
		g.applySplits(out, level)
	}
	g.writeLeafWeights(out)
	return out, nil
}

// seedSparseStats sets the level-0 sparse statistics: one leaf holding each
// column's total true count.
func (g *Grower[F, T]) seedSparseStats() {
	for j := range g.sparseStat {
		g.sparseStat[j] = []int{len(g.m.LilColumn[j])}
	}
}

// applySplits materializes the chosen splits of a level into tree nodes,
// propagates child statistics, rewrites the row-to-leaf map, and rebuilds
// the sparse statistics for the next level.
func (g *Grower[F, T]) applySplits(out *tree.RegTree, level int) {
	leaves := 1 << level
	next := make([]NodeStat[F, T], 2*leaves)
	for k := 0; k < leaves; k++ {
		best := &g.bestSplit[k]
		out.Nodes[tree.HeapOffset(level)+k] = tree.Node{
			Fid:         best.Fid,
			Threshold:   best.SplitValue,
			SplitByTrue: best.SplitByTrue,
		}
		parent := g.nodeStat[k]
		next[2*k] = NodeStat[F, T]{Count: best.Count, SumGrad: best.SumGrad}
		next[2*k+1] = NodeStat[F, T]{
			Count:   parent.Count - best.Count,
			SumGrad: parent.SumGrad.Sub(best.SumGrad),
		}
	}

	parallelFor(g.m.Rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			k := g.rowToLeaf[r]
			best := &g.bestSplit[k]
			left := false
			switch {
			case best.SplitByTrue:
				left = g.m.RowHasSparse(r, best.Fid)
			case math.IsInf(float64(best.SplitValue), 1):
				left = true
			default:
				left = g.m.Data[best.Fid][r] <= best.SplitValue
			}
			if left {
				g.rowToLeaf[r] = 2 * k
			} else {
				g.rowToLeaf[r] = 2*k + 1
			}
		}
	})

	g.rebuildSparseStats(2 * leaves)
	g.nodeStat = g.nodeStat[:2*leaves]
	copy(g.nodeStat, next)
}

// rebuildSparseStats rescans the sparse rows once, accumulating per-worker
// tables merged under a lock.
func (g *Grower[F, T]) rebuildSparseStats(leaves int) {
	if g.m.ColumnsSparse == 0 {
		return
	}
	for j := range g.sparseStat {
		g.sparseStat[j] = make([]int, leaves)
	}
	var mu sync.Mutex
	parallelFor(g.m.Rows, func(lo, hi int) {
		local := make([][]int, g.m.ColumnsSparse)
		for j := range local {
			local[j] = make([]int, leaves)
		}
		for r := lo; r < hi; r++ {
			leaf := g.rowToLeaf[r]
			for _, fid := range g.m.LilRow[r] {
				local[int(fid)-g.m.ColumnsDense][leaf]++
			}
		}
		mu.Lock()
		for j := range local {
			for k, c := range local[j] {
				g.sparseStat[j][k] += c
			}
		}
		mu.Unlock()
	})
}

// writeLeafWeights computes the final leaf weights, learning rate applied.
func (g *Grower[F, T]) writeLeafWeights(out *tree.RegTree) {
	for k, stat := range g.nodeStat {
		w := split.Weight(stat.SumGrad, stat.Count, g.gp)
		out.Weights[k] = float32(F(g.p.Eta) * w)
	}
}

// parallelSum reduces the gradient vector with per-worker partials. The
// partials merge in chunk order so the floating-point total is independent
// of worker scheduling; a completion-order merge would make tree growth
// nondeterministic.
func parallelSum[F constraints.Float, T split.Element[T, F]](grads []T) T {
	n := len(grads)
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (n + workers - 1) / workers
	partials := make([]T, 0, workers)
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		partials = append(partials, *new(T))
		wg.Add(1)
		go func(slot int, lo, hi int) {
			defer wg.Done()
			var part T
			for i := lo; i < hi; i++ {
				part = part.Add(grads[i])
			}
			partials[slot] = part
		}(len(partials)-1, lo, hi)
	}
	wg.Wait()
	var total T
	for _, part := range partials {
		total = total.Add(part)
	}
	return total
}

func parallelFor(n int, body func(lo, hi int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		body(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			body(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// gradKindOf maps the gradient element type to its bridge kind.
func gradKindOf[F constraints.Float, T split.Element[T, F]]() (cgo_bridge.GradKind, error) {
	var t T
	switch any(t).(type) {
	case split.Scalar[float32]:
		return cgo_bridge.GradF32, nil
	case split.Scalar[float64]:
		return cgo_bridge.GradF64, nil
	case split.Pair[float32]:
		return cgo_bridge.GradPairF32, nil
	case split.Pair[float64]:
		return cgo_bridge.GradPairF64, nil
	default:
		return 0, errors.Errorf("engine: unsupported gradient type %T", t)
	}
}

// gradFrom rebuilds a gradient element from float64 components.
func gradFrom[F constraints.Float, T split.Element[T, F]](gv, hv float64) T {
	var t T
	switch p := any(&t).(type) {
	case *split.Scalar[float32]:
		p.G = float32(gv)
	case *split.Scalar[float64]:
		p.G = gv
	case *split.Pair[float32]:
		p.G, p.H = float32(gv), float32(hv)
	case *split.Pair[float64]:
		p.G, p.H = gv, hv
	}
	return t
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// viewAs reinterprets pinned mirror bytes as a typed slice.
func viewAs[E any](b []byte, n int) []E {
	return unsafe.Slice((*E)(unsafe.Pointer(&b[0])), n)
}

// packLeaves narrows the host row-to-leaf map to the device leaf-id width.
func packLeaves(dst []byte, src []uint64, lk cgo_bridge.LeafKind) {
	switch lk {
	case cgo_bridge.Leaf8:
		out := viewAs[uint8](dst, len(src))
		for i, v := range src {
			out[i] = uint8(v)
		}
	case cgo_bridge.Leaf16:
		out := viewAs[uint16](dst, len(src))
		for i, v := range src {
			out[i] = uint16(v)
		}
	case cgo_bridge.Leaf32:
		out := viewAs[uint32](dst, len(src))
		for i, v := range src {
			out[i] = uint32(v)
		}
	default:
		copy(viewAs[uint64](dst, len(src)), src)
	}
}

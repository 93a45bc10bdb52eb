package engine

import (
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/pseudotensor/arboretum/async"
	"github.com/pseudotensor/arboretum/cgo_bridge"
	"github.com/pseudotensor/arboretum/split"
)

// issueFeature queues one feature's full pipeline on the slot's stream and
// returns without blocking. Dense features run the sort/scan/gain pipeline;
// sparse features run the shorter sort/reduce pipeline.
func (g *Grower[F, T]) issueFeature(fid int, slot *async.Slot, level, leaves int) error {
	if fid < g.m.ColumnsDense {
		return g.issueDense(fid, slot, level, leaves)
	}
	return g.issueSparse(fid, slot, level, leaves)
}

func (g *Grower[F, T]) consumeFeature(fid int, slot *async.Slot, leaves int) error {
	if fid < g.m.ColumnsDense {
		return g.consumeDense(fid, slot, leaves)
	}
	g.consumeSparse(fid, slot, leaves)
	return nil
}

// arenaBytes is the slot scratch requirement for an n-element pass: the
// larger of the sort and scan temporaries, floored at one n-vector of the
// widest element in play.
func (g *Grower[F, T]) arenaBytes(n int) int {
	var t T
	elem := 4
	if s := int(unsafe.Sizeof(t)); s > elem {
		elem = s
	}
	if s := g.lk.Size(); s > elem {
		elem = s
	}
	size := n * elem
	if s := cgo_bridge.SortPairsTempBytes(n, g.lk); s > size {
		size = s
	}
	if s := cgo_bridge.ScanTempBytes(n, g.gk); s > size {
		size = s
	}
	return size
}

func (g *Grower[F, T]) issueDense(fid int, slot *async.Slot, level, leaves int) error {
	n := g.m.Rows
	s := slot.Stream
	if err := cgo_bridge.MemsetZeroAsync(s, slot.Result.Handle(), leaves*8); err != nil {
		return errors.Wrapf(err, "feature %d: zero results", fid)
	}

	// Borrow pre-resident columns; upload through the slot staging
	// otherwise.
	values := slot.ValueUp.Handle()
	if g.m.DataDevice[fid].Resident() {
		values = g.m.DataDevice[fid].Handle()
	} else if err := cgo_bridge.CopyToDeviceAsync(s, values, unsafe.Pointer(&g.m.Data[fid][0]), n*4); err != nil {
		return errors.Wrapf(err, "feature %d: value upload", fid)
	}
	index := slot.IndexUp.Handle()
	if g.m.IndexDevice[fid].Resident() {
		index = g.m.IndexDevice[fid].Handle()
	} else if err := cgo_bridge.CopyToDeviceAsync(s, index, unsafe.Pointer(&g.m.Index[fid][0]), n*4); err != nil {
		return errors.Wrapf(err, "feature %d: index upload", fid)
	}

	arena, err := slot.Arena.Ensure(g.arenaBytes(n))
	if err != nil {
		return err
	}

	// Leaf ids in feature-value order, then the stable segmented sort:
	// rows grouped by leaf, ascending feature value within each leaf.
	if err := cgo_bridge.GatherLeaves(s, slot.SegIn.Handle(), g.dRowToLeaf.Handle(), index, n, g.lk); err != nil {
		return errors.Wrapf(err, "feature %d: gather leaves", fid)
	}
	if err := cgo_bridge.SortPairsAsync(s, slot.SegIn.Handle(), index, slot.SegSorted.Handle(), slot.PosSorted.Handle(), n, level+1, g.lk, arena.Handle()); err != nil {
		return errors.Wrapf(err, "feature %d: segmented sort", fid)
	}
	if err := cgo_bridge.GatherGrads(s, slot.GradSorted.Handle(), g.dGrads.Handle(), slot.PosSorted.Handle(), n, g.gk); err != nil {
		return errors.Wrapf(err, "feature %d: gather gradients", fid)
	}
	if err := cgo_bridge.GatherFeatureValues(s, slot.FValue.Handle(), values, slot.PosSorted.Handle(), n); err != nil {
		return errors.Wrapf(err, "feature %d: gather values", fid)
	}
	if err := cgo_bridge.ExclusiveScanAsync(s, slot.Scan.Handle(), slot.GradSorted.Handle(), n, g.gk, arena.Handle()); err != nil {
		return errors.Wrapf(err, "feature %d: scan", fid)
	}
	if err := cgo_bridge.GainKernelAsync(s, slot.Result.Handle(), slot.Scan.Handle(), slot.SegSorted.Handle(), slot.FValue.Handle(), g.dParentSum.Handle(), g.dParentCount.Handle(), n, g.lk, g.gk, g.gainArgs()); err != nil {
		return errors.Wrapf(err, "feature %d: gain kernel", fid)
	}
	if err := cgo_bridge.CopyToHostAsync(s, unsafe.Pointer(&slot.ResultHost.Bytes[0]), slot.Result.Handle(), leaves*8); err != nil {
		return errors.Wrapf(err, "feature %d: result copy", fid)
	}
	return nil
}

func (g *Grower[F, T]) gainArgs() cgo_bridge.GainArgs {
	return cgo_bridge.GainArgs{
		Lambda:  g.p.Lambda,
		MinHess: g.p.MinHess,
		MinLeaf: g.p.MinLeaf,
	}
}

// consumeDense applies the split-selection rule to the slot's host mirror:
// accept a leaf's (gain, argmax) only when the gain beats the running best
// and the scanned prefix at argmax is finite. A non-finite scan means the
// accumulator overflowed; the candidate is rejected rather than guessed at,
// and the user is expected to rerun with double precision.
func (g *Grower[F, T]) consumeDense(fid int, slot *async.Slot, leaves int) error {
	cells := viewAs[uint64](slot.ResultHost.Bytes, leaves)
	for k := 0; k < leaves; k++ {
		gain32, idx := split.Unpack(cells[k])
		if gain32 <= 0 {
			continue
		}
		gain := F(gain32)
		if gain <= g.bestSplit[k].Gain {
			continue
		}
		gv, hv, err := cgo_bridge.ReadGradAt(slot.Scan.Handle(), int(idx), g.gk)
		if err != nil {
			return err
		}
		if !finite(gv) || !finite(hv) {
			klog.V(2).Infof("feature %d leaf %d: non-finite scan prefix at %d, candidate rejected", fid, k, idx)
			continue
		}
		lo, hi, err := cgo_bridge.ReadFeaturePair(slot.FValue.Handle(), int(idx))
		if err != nil {
			return err
		}
		left := gradFrom[F, T](gv, hv).Sub(g.parentSum[k])
		g.bestSplit[k] = split.Split[F, T]{
			Fid:        fid,
			Gain:       gain,
			SplitValue: 0.5 * (lo + hi),
			Count:      int(idx) - int(g.parentCount[k]),
			SumGrad:    left,
		}
	}
	return nil
}

// issueSparse runs the short pipeline over the feature's true-row list: the
// per-leaf gradient sums of the true side come back through the slot
// mirror, and the gain is computed on the host against the leaf totals.
func (g *Grower[F, T]) issueSparse(fid int, slot *async.Slot, level, leaves int) error {
	j := fid - g.m.ColumnsDense
	size := len(g.m.LilColumn[j])
	if size == 0 {
		return nil
	}
	s := slot.Stream

	list := slot.IndexUp.Handle()
	if g.m.LilColumnDevice[j].Resident() {
		list = g.m.LilColumnDevice[j].Handle()
	} else if err := cgo_bridge.CopyToDeviceAsync(s, list, unsafe.Pointer(&g.m.LilColumn[j][0]), size*4); err != nil {
		return errors.Wrapf(err, "sparse %d: list upload", fid)
	}

	arena, err := slot.Arena.Ensure(g.arenaBytes(size))
	if err != nil {
		return err
	}

	if err := cgo_bridge.GatherLeaves(s, slot.SegIn.Handle(), g.dRowToLeaf.Handle(), list, size, g.lk); err != nil {
		return errors.Wrapf(err, "sparse %d: gather leaves", fid)
	}
	if err := cgo_bridge.SortPairsAsync(s, slot.SegIn.Handle(), list, slot.SegSorted.Handle(), slot.PosSorted.Handle(), size, level+1, g.lk, arena.Handle()); err != nil {
		return errors.Wrapf(err, "sparse %d: segmented sort", fid)
	}
	if err := cgo_bridge.GatherGrads(s, slot.GradSorted.Handle(), g.dGrads.Handle(), slot.PosSorted.Handle(), size, g.gk); err != nil {
		return errors.Wrapf(err, "sparse %d: gather gradients", fid)
	}

	// Segment offsets derive from the per-leaf true counts; the sorted
	// gradient runs are contiguous per leaf.
	off := slot.OffsetsScratch[:leaves+1]
	off[0] = 0
	for k := 0; k < leaves; k++ {
		off[k+1] = off[k] + uint32(g.sparseStat[j][k])
	}
	if err := cgo_bridge.CopyToDeviceAsync(s, slot.OffsetsUp.Handle(), unsafe.Pointer(&off[0]), (leaves+1)*4); err != nil {
		return errors.Wrapf(err, "sparse %d: offsets upload", fid)
	}
	if err := cgo_bridge.SegmentedReduceAsync(s, slot.ReduceOut.Handle(), slot.GradSorted.Handle(), slot.OffsetsUp.Handle(), leaves, g.gk); err != nil {
		return errors.Wrapf(err, "sparse %d: segmented reduce", fid)
	}
	var t T
	if err := cgo_bridge.CopyToHostAsync(s, unsafe.Pointer(&slot.ReduceHost.Bytes[0]), slot.ReduceOut.Handle(), leaves*int(unsafe.Sizeof(t))); err != nil {
		return errors.Wrapf(err, "sparse %d: result copy", fid)
	}
	return nil
}

func (g *Grower[F, T]) consumeSparse(fid int, slot *async.Slot, leaves int) {
	j := fid - g.m.ColumnsDense
	if len(g.m.LilColumn[j]) == 0 {
		return
	}
	sums := viewAs[T](slot.ReduceHost.Bytes, leaves)
	for k := 0; k < leaves; k++ {
		count := g.sparseStat[j][k]
		if count == 0 {
			continue
		}
		stat := g.nodeStat[k]
		gain := split.Gain(sums[k], count, stat.SumGrad, stat.Count, g.gp)
		if gain <= g.bestSplit[k].Gain {
			continue
		}
		g.bestSplit[k] = split.Split[F, T]{
			Fid:         fid,
			Gain:        gain,
			SplitByTrue: true,
			Count:       count,
			SumGrad:     sums[k],
		}
	}
}

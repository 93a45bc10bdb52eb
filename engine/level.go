package engine

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/pseudotensor/arboretum/cgo_bridge"
)

// runLevel finds the best split for every leaf of one tree level. It uploads
// the level inputs, samples the feature subset, streams overlap features
// in flight across the slot ring, and reduces slot results into the
// per-leaf best-split records strictly in feature-issue order — the
// reduction is order-dependent under tied gains, so consumption must not be
// opportunistic.
func (g *Grower[F, T]) runLevel(level int) error {
	n := g.m.Rows
	leaves := 1 << level

	packLeaves(g.leafScratch, g.rowToLeaf, g.lk)
	if err := cgo_bridge.CopyToDeviceAsync(g.mainStream, g.dRowToLeaf.Handle(), unsafe.Pointer(&g.leafScratch[0]), n*g.lk.Size()); err != nil {
		return errors.Wrap(err, "row-to-leaf upload")
	}

	// Parent prefix arrays: identity at index 0, inclusive prefixes of the
	// per-leaf statistics after it. The gain kernel recovers per-segment
	// scan sums against these bases.
	var zero T
	g.parentSum[0] = zero
	g.parentCount[0] = 0
	for k := 0; k < leaves; k++ {
		g.parentSum[k+1] = g.parentSum[k].Add(g.nodeStat[k].SumGrad)
		g.parentCount[k+1] = g.parentCount[k] + uint32(g.nodeStat[k].Count)
	}
	gradSize := int(unsafe.Sizeof(zero))
	if err := cgo_bridge.CopyToDeviceAsync(g.mainStream, g.dParentSum.Handle(), unsafe.Pointer(&g.parentSum[0]), (leaves+1)*gradSize); err != nil {
		return errors.Wrap(err, "parent sum upload")
	}
	if err := cgo_bridge.CopyToDeviceAsync(g.mainStream, g.dParentCount.Handle(), unsafe.Pointer(&g.parentCount[0]), (leaves+1)*4); err != nil {
		return errors.Wrap(err, "parent count upload")
	}
	if err := cgo_bridge.SynchronizeStream(g.mainStream); err != nil {
		return err
	}

	for k := 0; k < leaves; k++ {
		g.bestSplit[k].Reset()
	}

	take := g.p.SampleSize(g.m.Columns())
	feats := g.rng.Perm(g.m.Columns())[:take]

	overlap := g.ring.Overlap()
	for j := 0; j < take; j++ {
		if j == 0 {
			// Prime the pipeline.
			for i := 0; i < overlap && i < take; i++ {
				if err := g.issueFeature(feats[i], g.ring.Slot(i), level, leaves); err != nil {
					return err
				}
			}
		} else if j+overlap-1 < take {
			if err := g.issueFeature(feats[j+overlap-1], g.ring.Slot(j+overlap-1), level, leaves); err != nil {
				return err
			}
		}
		if err := g.ring.Sync(j); err != nil {
			return err
		}
		if err := g.consumeFeature(feats[j], g.ring.Slot(j), leaves); err != nil {
			return err
		}
	}

	// Leaves that found no positive-gain split are closed with the
	// degenerate sentinel: all rows flow left and the left child inherits
	// the parent statistics.
	for k := 0; k < leaves; k++ {
		if !g.bestSplit[k].Chosen() {
			g.bestSplit[k].Degenerate(g.nodeStat[k].Count, g.nodeStat[k].SumGrad)
		}
	}
	return nil
}

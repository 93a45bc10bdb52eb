// Package async provides the pipeline-slot ring: overlap-many independent
// sets of device buffers, each owning a stream, cycled over per-feature
// passes so copies and kernels of different features overlap.
package async

import (
	"github.com/pkg/errors"

	"github.com/pseudotensor/arboretum/cgo_bridge"
	"github.com/pseudotensor/arboretum/memory"
)

// Slot is one pipeline slot. Buffers are private to the slot's stream, so
// features in flight on different slots share nothing but the read-only
// level inputs.
type Slot struct {
	ID     int
	Stream cgo_bridge.Stream

	SegIn      *memory.Buffer // gathered leaf ids, feature order
	SegSorted  *memory.Buffer // leaf ids after the segmented sort
	PosSorted  *memory.Buffer // row positions after the segmented sort
	FValue     *memory.Buffer // permuted feature values, -Inf sentinel at 0
	GradSorted *memory.Buffer // gradients permuted into sorted order
	Scan       *memory.Buffer // exclusive prefix sum of GradSorted
	Result     *memory.Buffer // packed (gain, index) cells, one per leaf
	ResultHost *cgo_bridge.Pinned

	// Upload staging for columns that are not device-resident.
	ValueUp *memory.Buffer
	IndexUp *memory.Buffer

	// Sparse path: per-leaf reduce output and its host mirror, and the
	// per-leaf offset table upload.
	ReduceOut  *memory.Buffer
	ReduceHost *cgo_bridge.Pinned
	OffsetsUp  *memory.Buffer

	// OffsetsScratch is the host staging for OffsetsUp; it must outlive the
	// async upload, so it lives with the slot.
	OffsetsScratch []uint32

	Arena *memory.Arena
}

// SlotRing is the fixed ring of overlap slots.
type SlotRing struct {
	mgr   *memory.Manager
	slots []*Slot
}

// NewSlotRing allocates overlap slots sized for rows rows, maxLeaves result
// cells, and the given gradient and leaf-id element widths.
func NewSlotRing(mgr *memory.Manager, overlap, rows, maxLeaves, gradSize, leafSize int) (*SlotRing, error) {
	if overlap < 1 {
		return nil, errors.Errorf("async: overlap %d, want >= 1", overlap)
	}
	ring := &SlotRing{mgr: mgr}
	for i := 0; i < overlap; i++ {
		slot, err := newSlot(mgr, i, rows, maxLeaves, gradSize, leafSize)
		if err != nil {
			ring.Release()
			return nil, errors.Wrapf(err, "async: slot %d", i)
		}
		ring.slots = append(ring.slots, slot)
	}
	return ring, nil
}

func newSlot(mgr *memory.Manager, id, rows, maxLeaves, gradSize, leafSize int) (*Slot, error) {
	stream, err := cgo_bridge.CreateStream()
	if err != nil {
		return nil, err
	}
	s := &Slot{ID: id, Stream: stream, Arena: memory.NewArena(mgr)}

	alloc := func(dst **memory.Buffer, size int) {
		if err != nil {
			return
		}
		*dst, err = mgr.Alloc(size)
	}
	alloc(&s.SegIn, rows*leafSize)
	alloc(&s.SegSorted, rows*leafSize)
	alloc(&s.PosSorted, rows*4)
	alloc(&s.FValue, (rows+1)*4)
	alloc(&s.GradSorted, rows*gradSize)
	alloc(&s.Scan, rows*gradSize)
	alloc(&s.Result, maxLeaves*8)
	alloc(&s.ValueUp, rows*4)
	alloc(&s.IndexUp, rows*4)
	alloc(&s.ReduceOut, maxLeaves*gradSize)
	alloc(&s.OffsetsUp, (maxLeaves+1)*4)
	if err != nil {
		return nil, err
	}
	if s.ResultHost, err = cgo_bridge.AllocPinned(maxLeaves * 8); err != nil {
		return nil, err
	}
	if s.ReduceHost, err = cgo_bridge.AllocPinned(maxLeaves * gradSize); err != nil {
		return nil, err
	}
	s.OffsetsScratch = make([]uint32, maxLeaves+1)
	return s, nil
}

// Overlap returns the ring size.
func (r *SlotRing) Overlap() int { return len(r.slots) }

// Slot returns slot j mod overlap.
func (r *SlotRing) Slot(j int) *Slot {
	return r.slots[j%len(r.slots)]
}

// Sync blocks until slot j mod overlap has drained its stream. The driver
// calls this exactly before consuming the slot's host mirror, which also
// guarantees the slot is idle before its next pass is issued.
func (r *SlotRing) Sync(j int) error {
	return cgo_bridge.SynchronizeStream(r.Slot(j).Stream)
}

// Release frees every slot's buffers and stream.
func (r *SlotRing) Release() {
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		r.mgr.Free(s.SegIn)
		r.mgr.Free(s.SegSorted)
		r.mgr.Free(s.PosSorted)
		r.mgr.Free(s.FValue)
		r.mgr.Free(s.GradSorted)
		r.mgr.Free(s.Scan)
		r.mgr.Free(s.Result)
		r.mgr.Free(s.ValueUp)
		r.mgr.Free(s.IndexUp)
		r.mgr.Free(s.ReduceOut)
		r.mgr.Free(s.OffsetsUp)
		cgo_bridge.FreePinned(s.ResultHost)
		cgo_bridge.FreePinned(s.ReduceHost)
		s.Arena.Release()
		cgo_bridge.DestroyStream(s.Stream)
	}
	r.slots = nil
}

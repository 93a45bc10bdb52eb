//go:build !cuda

package cgo_bridge

import (
	"math"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"github.com/pseudotensor/arboretum/split"
)

// Host backend. Buffers are ordinary heap memory behind opaque handles,
// streams are handles whose work executes immediately at issue time, so
// within-stream ordering holds trivially and SynchronizeStream is a no-op.
// Kernels reuse the split package's evaluator and atomic cell, which keeps
// the reference semantics in one place.

// hostMemory is the nominal pool reported by MemInfo so that transfer
// budgeting behaves the same way it does on a real device.
const hostMemory = 16 << 30

type hostState struct {
	mu      sync.Mutex
	next    uintptr
	bufs    map[Buffer][]byte
	streams map[Stream]bool
	pinned  map[uintptr][]byte
}

var host = hostState{
	next:    1,
	bufs:    make(map[Buffer][]byte),
	streams: make(map[Stream]bool),
	pinned:  make(map[uintptr][]byte),
}

// InitDevice selects the device. The host backend always succeeds.
func InitDevice() (DeviceInfo, error) {
	return DeviceInfo{Name: "host", FreeBytes: hostMemory, TotalBytes: hostMemory}, nil
}

// MemInfo reports free and total device memory.
func MemInfo() (free, total uint64, err error) {
	return hostMemory, hostMemory, nil
}

// CreateStream creates an ordered work queue.
func CreateStream() (Stream, error) {
	host.mu.Lock()
	defer host.mu.Unlock()
	s := Stream(host.next)
	host.next++
	host.streams[s] = true
	return s, nil
}

// DestroyStream releases a stream.
func DestroyStream(s Stream) {
	host.mu.Lock()
	defer host.mu.Unlock()
	delete(host.streams, s)
}

// SynchronizeStream blocks until all work issued on s has completed.
func SynchronizeStream(s Stream) error {
	host.mu.Lock()
	defer host.mu.Unlock()
	if !host.streams[s] {
		return errors.Errorf("cgo_bridge: synchronize on unknown stream %#x", uintptr(s))
	}
	return nil
}

// AllocBuffer allocates size bytes of device memory.
func AllocBuffer(size int) (Buffer, error) {
	if size <= 0 {
		return 0, errors.Errorf("cgo_bridge: invalid buffer size %d", size)
	}
	host.mu.Lock()
	defer host.mu.Unlock()
	b := Buffer(host.next)
	host.next++
	host.bufs[b] = make([]byte, size)
	return b, nil
}

// FreeBuffer releases device memory.
func FreeBuffer(b Buffer) {
	host.mu.Lock()
	defer host.mu.Unlock()
	delete(host.bufs, b)
}

// AllocPinned allocates page-locked host memory.
func AllocPinned(size int) (*Pinned, error) {
	if size <= 0 {
		return nil, errors.Errorf("cgo_bridge: invalid pinned size %d", size)
	}
	return &Pinned{Bytes: make([]byte, size)}, nil
}

// FreePinned releases page-locked host memory.
func FreePinned(p *Pinned) {
	if p != nil {
		p.Bytes = nil
	}
}

func bytesOf(b Buffer) ([]byte, error) {
	host.mu.Lock()
	defer host.mu.Unlock()
	mem, ok := host.bufs[b]
	if !ok {
		return nil, errors.Errorf("cgo_bridge: unknown buffer %#x", uintptr(b))
	}
	return mem, nil
}

func view[T any](mem []byte, n int) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&mem[0])), n)
}

// MemsetZeroAsync zeroes the first size bytes of b on stream s.
func MemsetZeroAsync(s Stream, b Buffer, size int) error {
	mem, err := bytesOf(b)
	if err != nil {
		return err
	}
	clear(mem[:size])
	return nil
}

// CopyToDeviceAsync copies size bytes from host memory at src into dst.
func CopyToDeviceAsync(s Stream, dst Buffer, src unsafe.Pointer, size int) error {
	mem, err := bytesOf(dst)
	if err != nil {
		return err
	}
	copy(mem[:size], unsafe.Slice((*byte)(src), size))
	return nil
}

// CopyToHostAsync copies size bytes from src into host memory at dst.
func CopyToHostAsync(s Stream, dst unsafe.Pointer, src Buffer, size int) error {
	mem, err := bytesOf(src)
	if err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(dst), size), mem[:size])
	return nil
}

// GatherLeaves writes out[i] = rowToLeaf[index[i]] for i in [0, n).
func GatherLeaves(s Stream, out, rowToLeaf, index Buffer, n int, lk LeafKind) error {
	outM, err := bytesOf(out)
	if err != nil {
		return err
	}
	rtlM, err := bytesOf(rowToLeaf)
	if err != nil {
		return err
	}
	idxM, err := bytesOf(index)
	if err != nil {
		return err
	}
	idx := view[uint32](idxM, n)
	switch lk {
	case Leaf8:
		gatherTyped(view[uint8](outM, n), view[uint8](rtlM, len(rtlM)), idx)
	case Leaf16:
		gatherTyped(view[uint16](outM, n), view[uint16](rtlM, len(rtlM)/2), idx)
	case Leaf32:
		gatherTyped(view[uint32](outM, n), view[uint32](rtlM, len(rtlM)/4), idx)
	default:
		gatherTyped(view[uint64](outM, n), view[uint64](rtlM, len(rtlM)/8), idx)
	}
	return nil
}

func gatherTyped[E any](out, in []E, idx []uint32) {
	for i, r := range idx {
		out[i] = in[r]
	}
}

// SortPairsTempBytes returns the scratch requirement of SortPairsAsync.
func SortPairsTempBytes(n int, lk LeafKind) int {
	return n * (lk.Size() + 4)
}

// SortPairsAsync stable-sorts (keysIn, valsIn) by the low endBit bits of the
// keys into (keysOut, valsOut). Values are uint32 row positions.
func SortPairsAsync(s Stream, keysIn, valsIn, keysOut, valsOut Buffer, n, endBit int, lk LeafKind, temp Buffer) error {
	kiM, err := bytesOf(keysIn)
	if err != nil {
		return err
	}
	viM, err := bytesOf(valsIn)
	if err != nil {
		return err
	}
	koM, err := bytesOf(keysOut)
	if err != nil {
		return err
	}
	voM, err := bytesOf(valsOut)
	if err != nil {
		return err
	}
	vi := view[uint32](viM, n)
	vo := view[uint32](voM, n)
	switch lk {
	case Leaf8:
		radixSortPairs(view[uint8](kiM, n), vi, view[uint8](koM, n), vo, endBit)
	case Leaf16:
		radixSortPairs(view[uint16](kiM, n), vi, view[uint16](koM, n), vo, endBit)
	case Leaf32:
		radixSortPairs(view[uint32](kiM, n), vi, view[uint32](koM, n), vo, endBit)
	default:
		radixSortPairs(view[uint64](kiM, n), vi, view[uint64](koM, n), vo, endBit)
	}
	return nil
}

// radixSortPairs is a stable LSD radix sort over 8-bit digits, enough digit
// passes to cover endBit bits.
func radixSortPairs[K constraints.Unsigned](keysIn []K, valsIn []uint32, keysOut []K, valsOut []uint32, endBit int) {
	n := len(keysIn)
	srcK := append([]K(nil), keysIn...)
	srcV := append([]uint32(nil), valsIn...)
	dstK := make([]K, n)
	dstV := make([]uint32, n)
	passes := (endBit + 7) / 8
	if passes == 0 {
		passes = 1
	}
	for p := 0; p < passes; p++ {
		shift := uint(p * 8)
		var count [257]int
		for _, k := range srcK {
			count[((k>>shift)&0xff)+1]++
		}
		for d := 1; d < 257; d++ {
			count[d] += count[d-1]
		}
		for i := 0; i < n; i++ {
			d := (srcK[i] >> shift) & 0xff
			pos := count[d]
			count[d]++
			dstK[pos] = srcK[i]
			dstV[pos] = srcV[i]
		}
		srcK, dstK = dstK, srcK
		srcV, dstV = dstV, srcV
	}
	copy(keysOut, srcK)
	copy(valsOut, srcV)
}

// GatherGrads writes out[i] = grads[index[i]] for i in [0, n).
func GatherGrads(s Stream, out, grads, index Buffer, n int, gk GradKind) error {
	outM, err := bytesOf(out)
	if err != nil {
		return err
	}
	grM, err := bytesOf(grads)
	if err != nil {
		return err
	}
	idxM, err := bytesOf(index)
	if err != nil {
		return err
	}
	idx := view[uint32](idxM, n)
	sz := gk.Size()
	switch gk {
	case GradF32:
		gatherTyped(view[split.Scalar[float32]](outM, n), view[split.Scalar[float32]](grM, len(grM)/sz), idx)
	case GradF64:
		gatherTyped(view[split.Scalar[float64]](outM, n), view[split.Scalar[float64]](grM, len(grM)/sz), idx)
	case GradPairF32:
		gatherTyped(view[split.Pair[float32]](outM, n), view[split.Pair[float32]](grM, len(grM)/sz), idx)
	default:
		gatherTyped(view[split.Pair[float64]](outM, n), view[split.Pair[float64]](grM, len(grM)/sz), idx)
	}
	return nil
}

// GatherFeatureValues fills out with the -Inf sentinel at position 0 and
// out[i+1] = values[index[i]] after it. out holds n+1 float32.
func GatherFeatureValues(s Stream, out, values, index Buffer, n int) error {
	outM, err := bytesOf(out)
	if err != nil {
		return err
	}
	valM, err := bytesOf(values)
	if err != nil {
		return err
	}
	idxM, err := bytesOf(index)
	if err != nil {
		return err
	}
	fv := view[float32](outM, n+1)
	vals := view[float32](valM, len(valM)/4)
	idx := view[uint32](idxM, n)
	fv[0] = float32(math.Inf(-1))
	for i, r := range idx {
		fv[i+1] = vals[r]
	}
	return nil
}

// ScanTempBytes returns the scratch requirement of ExclusiveScanAsync.
func ScanTempBytes(n int, gk GradKind) int {
	return n * gk.Size()
}

// ExclusiveScanAsync computes the exclusive prefix sum of in over n gradient
// elements: out[i] = sum of in[0..i). The scan is global, not segmented; the
// gain kernel recovers per-segment sums by subtracting the segment base.
func ExclusiveScanAsync(s Stream, out, in Buffer, n int, gk GradKind, temp Buffer) error {
	outM, err := bytesOf(out)
	if err != nil {
		return err
	}
	inM, err := bytesOf(in)
	if err != nil {
		return err
	}
	sz := gk.Size()
	switch gk {
	case GradF32:
		scanTyped[float32](view[split.Scalar[float32]](outM, n), view[split.Scalar[float32]](inM, len(inM)/sz)[:n])
	case GradF64:
		scanTyped[float64](view[split.Scalar[float64]](outM, n), view[split.Scalar[float64]](inM, len(inM)/sz)[:n])
	case GradPairF32:
		scanTyped[float32](view[split.Pair[float32]](outM, n), view[split.Pair[float32]](inM, len(inM)/sz)[:n])
	default:
		scanTyped[float64](view[split.Pair[float64]](outM, n), view[split.Pair[float64]](inM, len(inM)/sz)[:n])
	}
	return nil
}

func scanTyped[F constraints.Float, T split.Element[T, F]](out, in []T) {
	var acc T
	for i := range in {
		out[i] = acc
		acc = acc.Add(in[i])
	}
}

// GainKernelAsync evaluates every candidate split position and reduces the
// per-leaf maximum into the packed result cells. One candidate per sort
// position: left side is everything before i within i's segment.
func GainKernelAsync(s Stream, result, scan, segments, fvalue, parentSum, parentCount Buffer, n int, lk LeafKind, gk GradKind, args GainArgs) error {
	resM, err := bytesOf(result)
	if err != nil {
		return err
	}
	scanM, err := bytesOf(scan)
	if err != nil {
		return err
	}
	segM, err := bytesOf(segments)
	if err != nil {
		return err
	}
	fvM, err := bytesOf(fvalue)
	if err != nil {
		return err
	}
	psM, err := bytesOf(parentSum)
	if err != nil {
		return err
	}
	pcM, err := bytesOf(parentCount)
	if err != nil {
		return err
	}
	cells := view[uint64](resM, len(resM)/8)
	fv := view[float32](fvM, n+1)
	pcnt := view[uint32](pcM, len(pcM)/4)
	switch gk {
	case GradF32:
		gainLeaves[float32, split.Scalar[float32]](lk, cells, scanM, segM, fv, psM, pcnt, n, args)
	case GradF64:
		gainLeaves[float64, split.Scalar[float64]](lk, cells, scanM, segM, fv, psM, pcnt, n, args)
	case GradPairF32:
		gainLeaves[float32, split.Pair[float32]](lk, cells, scanM, segM, fv, psM, pcnt, n, args)
	default:
		gainLeaves[float64, split.Pair[float64]](lk, cells, scanM, segM, fv, psM, pcnt, n, args)
	}
	return nil
}

func gainLeaves[F constraints.Float, T split.Element[T, F]](lk LeafKind, cells []uint64, scanM, segM []byte, fv []float32, psM []byte, pcnt []uint32, n int, args GainArgs) {
	var t T
	sz := int(unsafe.Sizeof(t))
	scan := view[T](scanM, n)
	psum := view[T](psM, len(psM)/sz)
	switch lk {
	case Leaf8:
		gainTyped[uint8, F, T](cells, scan, view[uint8](segM, n), fv, psum, pcnt, n, args)
	case Leaf16:
		gainTyped[uint16, F, T](cells, scan, view[uint16](segM, n), fv, psum, pcnt, n, args)
	case Leaf32:
		gainTyped[uint32, F, T](cells, scan, view[uint32](segM, n), fv, psum, pcnt, n, args)
	default:
		gainTyped[uint64, F, T](cells, scan, view[uint64](segM, n), fv, psum, pcnt, n, args)
	}
}

func gainTyped[L constraints.Unsigned, F constraints.Float, T split.Element[T, F]](cells []uint64, scan []T, seg []L, fv []float32, psum []T, pcnt []uint32, n int, args GainArgs) {
	p := split.GainParam[F]{
		Lambda:  F(args.Lambda),
		MinHess: F(args.MinHess),
		MinLeaf: args.MinLeaf,
	}
	for i := 0; i < n; i++ {
		// fv is shifted by one: fv[i] is the value before position i,
		// fv[0] the -Inf sentinel. No split inside a run of equal values.
		if fv[i+1] == fv[i] {
			continue
		}
		k := int(seg[i])
		total := psum[k+1].Sub(psum[k])
		totalCount := int(pcnt[k+1] - pcnt[k])
		left := scan[i].Sub(psum[k])
		leftCount := i - int(pcnt[k])
		g := split.Gain(left, leftCount, total, totalCount, p)
		if g > 0 {
			split.AtomicMaxWithIndex(&cells[k], float32(g), uint32(i))
		}
	}
}

// SegmentedReduceAsync sums grads over the slices delimited by offsets:
// out[j] = sum of grads[offsets[j] .. offsets[j+1]).
func SegmentedReduceAsync(s Stream, out, grads, offsets Buffer, segments int, gk GradKind) error {
	outM, err := bytesOf(out)
	if err != nil {
		return err
	}
	grM, err := bytesOf(grads)
	if err != nil {
		return err
	}
	offM, err := bytesOf(offsets)
	if err != nil {
		return err
	}
	off := view[uint32](offM, segments+1)
	sz := gk.Size()
	switch gk {
	case GradF32:
		reduceTyped[float32](view[split.Scalar[float32]](outM, segments), view[split.Scalar[float32]](grM, len(grM)/sz), off)
	case GradF64:
		reduceTyped[float64](view[split.Scalar[float64]](outM, segments), view[split.Scalar[float64]](grM, len(grM)/sz), off)
	case GradPairF32:
		reduceTyped[float32](view[split.Pair[float32]](outM, segments), view[split.Pair[float32]](grM, len(grM)/sz), off)
	default:
		reduceTyped[float64](view[split.Pair[float64]](outM, segments), view[split.Pair[float64]](grM, len(grM)/sz), off)
	}
	return nil
}

func reduceTyped[F constraints.Float, T split.Element[T, F]](out []T, grads []T, off []uint32) {
	for j := range out {
		var acc T
		for i := off[j]; i < off[j+1]; i++ {
			acc = acc.Add(grads[i])
		}
		out[j] = acc
	}
}

// ReadFeaturePair synchronously reads fvalue[i] and fvalue[i+1] from a
// gathered feature-value buffer.
func ReadFeaturePair(b Buffer, i int) (float32, float32, error) {
	mem, err := bytesOf(b)
	if err != nil {
		return 0, 0, err
	}
	fv := view[float32](mem, len(mem)/4)
	return fv[i], fv[i+1], nil
}

// ReadGradAt synchronously reads element i of a gradient buffer, widened to
// float64 components. h is 0 for scalar kinds.
func ReadGradAt(b Buffer, i int, gk GradKind) (g, h float64, err error) {
	mem, err := bytesOf(b)
	if err != nil {
		return 0, 0, err
	}
	switch gk {
	case GradF32:
		v := view[split.Scalar[float32]](mem, len(mem)/gk.Size())[i]
		return float64(v.G), 0, nil
	case GradF64:
		v := view[split.Scalar[float64]](mem, len(mem)/gk.Size())[i]
		return v.G, 0, nil
	case GradPairF32:
		v := view[split.Pair[float32]](mem, len(mem)/gk.Size())[i]
		return float64(v.G), float64(v.H), nil
	default:
		v := view[split.Pair[float64]](mem, len(mem)/gk.Size())[i]
		return v.G, v.H, nil
	}
}

// Package cgo_bridge is the device layer of the trainer: a flat, handle-based
// API over streams, device buffers, and the GBDT kernels (gather, segmented
// radix sort, exclusive scan, gain evaluation with atomic argmax, segmented
// reduce).
//
// Two backends implement the API. The CUDA backend (build tag "cuda") wraps
// the kernels in kernels.cu via cgo. The default backend executes every
// operation on the host, synchronously in stream-issue order, with identical
// semantics; it is the reference implementation and what the tests run
// against.
package cgo_bridge

// Stream is an opaque handle to an ordered device work queue.
type Stream uintptr

// Buffer is an opaque handle to device memory.
type Buffer uintptr

// Pinned is page-locked host memory used as the copy-back mirror for
// per-slot results. The host backend backs it with ordinary memory.
type Pinned struct {
	Bytes  []byte
	handle uintptr
}

// LeafKind selects the integer width of leaf ids. The driver picks the
// smallest width that fits depth+1 bits so the radix sort touches as few
// digit passes as possible.
type LeafKind int

const (
	Leaf8 LeafKind = iota
	Leaf16
	Leaf32
	Leaf64
)

// Size returns the width in bytes.
func (k LeafKind) Size() int {
	switch k {
	case Leaf8:
		return 1
	case Leaf16:
		return 2
	case Leaf32:
		return 4
	default:
		return 8
	}
}

// LeafKindForDepth returns the narrowest leaf-id width holding depth+1 bits.
func LeafKindForDepth(depth int) LeafKind {
	bits := depth + 1
	switch {
	case bits <= 8:
		return Leaf8
	case bits <= 16:
		return Leaf16
	case bits <= 32:
		return Leaf32
	default:
		return Leaf64
	}
}

// GradKind selects the gradient element layout crossing the bridge.
type GradKind int

const (
	GradF32 GradKind = iota
	GradF64
	GradPairF32
	GradPairF64
)

// Size returns the element width in bytes.
func (k GradKind) Size() int {
	switch k {
	case GradF32:
		return 4
	case GradF64:
		return 8
	case GradPairF32:
		return 8
	default:
		return 16
	}
}

// GainArgs carries the gain-evaluation parameters across the bridge. The
// backend narrows to the accumulator precision of the gradient kind.
type GainArgs struct {
	Lambda  float64
	MinHess float64
	MinLeaf int
}

// DeviceInfo describes the selected device at init.
type DeviceInfo struct {
	Name       string
	FreeBytes  uint64
	TotalBytes uint64
}

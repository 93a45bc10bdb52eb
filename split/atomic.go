package split

import (
	"math"
	"sync/atomic"
)

// A result cell packs a float32 gain in the low word and a uint32 candidate
// index in the high word, so a single 64-bit compare-and-swap can maintain
// "largest gain and its argmax" without a critical section. The CUDA gain
// kernel uses the same layout with atomicCAS on unsigned long long; this is
// the host version, also used by the portable backend.

// Pack encodes (gain, index) into a result cell.
func Pack(gain float32, index uint32) uint64 {
	return uint64(index)<<32 | uint64(math.Float32bits(gain))
}

// Unpack decodes a result cell.
func Unpack(cell uint64) (gain float32, index uint32) {
	return math.Float32frombits(uint32(cell)), uint32(cell >> 32)
}

// AtomicMaxWithIndex makes *cell hold (gain, index) if gain is strictly
// greater than the gain currently stored. Equal gains keep the first writer;
// callers must not rely on the index chosen under ties. Cells are
// zero-initialized per leaf per feature pass, so gain +0 with index 0 means
// "no candidate".
func AtomicMaxWithIndex(cell *uint64, gain float32, index uint32) {
	for {
		cur := atomic.LoadUint64(cell)
		curGain, _ := Unpack(cur)
		if gain <= curGain {
			return
		}
		if atomic.CompareAndSwapUint64(cell, cur, Pack(gain, index)) {
			return
		}
	}
}

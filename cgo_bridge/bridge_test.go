//go:build !cuda

package cgo_bridge

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudotensor/arboretum/split"
)

func upload[E any](t *testing.T, s Stream, vals []E) Buffer {
	t.Helper()
	var e E
	size := len(vals) * int(unsafe.Sizeof(e))
	buf, err := AllocBuffer(size)
	require.NoError(t, err)
	t.Cleanup(func() { FreeBuffer(buf) })
	require.NoError(t, CopyToDeviceAsync(s, buf, unsafe.Pointer(&vals[0]), size))
	return buf
}

func download[E any](t *testing.T, s Stream, buf Buffer, n int) []E {
	t.Helper()
	var e E
	out := make([]E, n)
	require.NoError(t, CopyToHostAsync(s, unsafe.Pointer(&out[0]), buf, n*int(unsafe.Sizeof(e))))
	require.NoError(t, SynchronizeStream(s))
	return out
}

func testStream(t *testing.T) Stream {
	t.Helper()
	s, err := CreateStream()
	require.NoError(t, err)
	t.Cleanup(func() { DestroyStream(s) })
	return s
}

func TestSortPairsStable(t *testing.T) {
	s := testStream(t)
	keys := []uint32{1, 0, 1, 0, 1, 0}
	vals := []uint32{10, 11, 12, 13, 14, 15}
	keysIn := upload(t, s, keys)
	valsIn := upload(t, s, vals)
	keysOut, err := AllocBuffer(6 * 4)
	require.NoError(t, err)
	defer FreeBuffer(keysOut)
	valsOut, err := AllocBuffer(6 * 4)
	require.NoError(t, err)
	defer FreeBuffer(valsOut)

	temp, err := AllocBuffer(SortPairsTempBytes(6, Leaf32))
	require.NoError(t, err)
	defer FreeBuffer(temp)

	require.NoError(t, SortPairsAsync(s, keysIn, valsIn, keysOut, valsOut, 6, 1, Leaf32, temp))
	assert.Equal(t, []uint32{0, 0, 0, 1, 1, 1}, download[uint32](t, s, keysOut, 6))
	// Stability: within a key, original order is preserved.
	assert.Equal(t, []uint32{11, 13, 15, 10, 12, 14}, download[uint32](t, s, valsOut, 6))
}

func TestSortPairsWideKeys(t *testing.T) {
	s := testStream(t)
	keys := []uint64{300, 5, 300, 5, 1000}
	vals := []uint32{0, 1, 2, 3, 4}
	keysIn := upload(t, s, keys)
	valsIn := upload(t, s, vals)
	keysOut, err := AllocBuffer(5 * 8)
	require.NoError(t, err)
	defer FreeBuffer(keysOut)
	valsOut, err := AllocBuffer(5 * 4)
	require.NoError(t, err)
	defer FreeBuffer(valsOut)
	temp, err := AllocBuffer(SortPairsTempBytes(5, Leaf64))
	require.NoError(t, err)
	defer FreeBuffer(temp)

	require.NoError(t, SortPairsAsync(s, keysIn, valsIn, keysOut, valsOut, 5, 10, Leaf64, temp))
	assert.Equal(t, []uint64{5, 5, 300, 300, 1000}, download[uint64](t, s, keysOut, 5))
	assert.Equal(t, []uint32{1, 3, 0, 2, 4}, download[uint32](t, s, valsOut, 5))
}

func TestExclusiveScan(t *testing.T) {
	s := testStream(t)
	in := []split.Scalar[float32]{{G: 1}, {G: 2}, {G: 3}, {G: 4}}
	inBuf := upload(t, s, in)
	outBuf, err := AllocBuffer(4 * 4)
	require.NoError(t, err)
	defer FreeBuffer(outBuf)
	temp, err := AllocBuffer(ScanTempBytes(4, GradF32))
	require.NoError(t, err)
	defer FreeBuffer(temp)

	require.NoError(t, ExclusiveScanAsync(s, outBuf, inBuf, 4, GradF32, temp))
	out := download[split.Scalar[float32]](t, s, outBuf, 4)
	assert.Equal(t, []split.Scalar[float32]{{G: 0}, {G: 1}, {G: 3}, {G: 6}}, out)
}

func TestExclusiveScanPairs(t *testing.T) {
	s := testStream(t)
	in := []split.Pair[float64]{{G: 1, H: 10}, {G: 2, H: 20}, {G: 3, H: 30}}
	inBuf := upload(t, s, in)
	outBuf, err := AllocBuffer(3 * 16)
	require.NoError(t, err)
	defer FreeBuffer(outBuf)
	temp, err := AllocBuffer(ScanTempBytes(3, GradPairF64))
	require.NoError(t, err)
	defer FreeBuffer(temp)

	require.NoError(t, ExclusiveScanAsync(s, outBuf, inBuf, 3, GradPairF64, temp))
	out := download[split.Pair[float64]](t, s, outBuf, 3)
	assert.Equal(t, []split.Pair[float64]{{}, {G: 1, H: 10}, {G: 3, H: 30}}, out)
}

func TestGatherFeatureValuesSentinel(t *testing.T) {
	s := testStream(t)
	values := upload(t, s, []float32{5, 6, 7, 8})
	index := upload(t, s, []uint32{3, 1, 0, 2})
	out, err := AllocBuffer(5 * 4)
	require.NoError(t, err)
	defer FreeBuffer(out)

	require.NoError(t, GatherFeatureValues(s, out, values, index, 4))
	fv := download[float32](t, s, out, 5)
	assert.True(t, math.IsInf(float64(fv[0]), -1))
	assert.Equal(t, []float32{8, 6, 5, 7}, fv[1:])
}

func TestGatherLeaves(t *testing.T) {
	s := testStream(t)
	rtl := upload(t, s, []uint8{0, 1, 1, 0})
	index := upload(t, s, []uint32{2, 0, 3, 1})
	out, err := AllocBuffer(4)
	require.NoError(t, err)
	defer FreeBuffer(out)

	require.NoError(t, GatherLeaves(s, out, rtl, index, 4, Leaf8))
	assert.Equal(t, []uint8{1, 0, 0, 1}, download[uint8](t, s, out, 4))
}

// A perfect-split input: one segment, feature values 1..4 already in order,
// gradients -1,-1,+1,+1. The best candidate is the middle position.
func TestGainKernelPerfectSplit(t *testing.T) {
	s := testStream(t)
	scanIn := upload(t, s, []split.Scalar[float32]{{G: -1}, {G: -1}, {G: 1}, {G: 1}})
	scanOut, err := AllocBuffer(4 * 4)
	require.NoError(t, err)
	defer FreeBuffer(scanOut)
	temp, err := AllocBuffer(ScanTempBytes(4, GradF32))
	require.NoError(t, err)
	defer FreeBuffer(temp)
	require.NoError(t, ExclusiveScanAsync(s, scanOut, scanIn, 4, GradF32, temp))

	segments := upload(t, s, []uint8{0, 0, 0, 0})
	fvalue := upload(t, s, []float32{float32(math.Inf(-1)), 1, 2, 3, 4})
	parentSum := upload(t, s, []split.Scalar[float32]{{G: 0}, {G: 0}})
	parentCount := upload(t, s, []uint32{0, 4})
	result, err := AllocBuffer(8)
	require.NoError(t, err)
	defer FreeBuffer(result)
	require.NoError(t, MemsetZeroAsync(s, result, 8))

	args := GainArgs{Lambda: 0, MinLeaf: 1}
	require.NoError(t, GainKernelAsync(s, result, scanOut, segments, fvalue, parentSum, parentCount, 4, Leaf8, GradF32, args))

	cells := download[uint64](t, s, result, 1)
	gain, index := split.Unpack(cells[0])
	assert.Equal(t, uint32(2), index, "split before position 2")
	// q(left)+q(right)-q(total) = 4/2 + 4/2 - 0/4 = 4.
	assert.InDelta(t, 4.0, float64(gain), 1e-6)
}

// A constant feature yields no candidate: every adjacent pair of values is
// equal, so only position 0 (against the -Inf sentinel) is evaluated, and its
// empty left side fails the min_leaf guard.
func TestGainKernelConstantFeature(t *testing.T) {
	s := testStream(t)
	scanOut := upload(t, s, []split.Scalar[float32]{{G: 0}, {G: -1}, {G: -2}, {G: -1}})
	segments := upload(t, s, []uint8{0, 0, 0, 0})
	fvalue := upload(t, s, []float32{float32(math.Inf(-1)), 7, 7, 7, 7})
	parentSum := upload(t, s, []split.Scalar[float32]{{G: 0}, {G: 0}})
	parentCount := upload(t, s, []uint32{0, 4})
	result, err := AllocBuffer(8)
	require.NoError(t, err)
	defer FreeBuffer(result)
	require.NoError(t, MemsetZeroAsync(s, result, 8))

	args := GainArgs{Lambda: 0, MinLeaf: 1}
	require.NoError(t, GainKernelAsync(s, result, scanOut, segments, fvalue, parentSum, parentCount, 4, Leaf8, GradF32, args))

	cells := download[uint64](t, s, result, 1)
	gain, _ := split.Unpack(cells[0])
	assert.Zero(t, gain)
}

func TestSegmentedReduce(t *testing.T) {
	s := testStream(t)
	grads := upload(t, s, []split.Scalar[float32]{{G: 1}, {G: 2}, {G: 3}, {G: 4}, {G: 5}})
	offsets := upload(t, s, []uint32{0, 2, 2, 5})
	out, err := AllocBuffer(3 * 4)
	require.NoError(t, err)
	defer FreeBuffer(out)

	require.NoError(t, SegmentedReduceAsync(s, out, grads, offsets, 3, GradF32))
	sums := download[split.Scalar[float32]](t, s, out, 3)
	assert.Equal(t, []split.Scalar[float32]{{G: 3}, {G: 0}, {G: 12}}, sums)
}

func TestReadHelpers(t *testing.T) {
	s := testStream(t)
	fv := upload(t, s, []float32{1, 2, 3})
	lo, hi, err := ReadFeaturePair(fv, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(2), lo)
	assert.Equal(t, float32(3), hi)

	grads := upload(t, s, []split.Pair[float64]{{G: 1, H: 2}, {G: 3, H: 4}})
	g, h, err := ReadGradAt(grads, 1, GradPairF64)
	require.NoError(t, err)
	assert.Equal(t, 3.0, g)
	assert.Equal(t, 4.0, h)
}

func TestLeafKindForDepth(t *testing.T) {
	assert.Equal(t, Leaf8, LeafKindForDepth(2))
	assert.Equal(t, Leaf8, LeafKindForDepth(7))
	assert.Equal(t, Leaf16, LeafKindForDepth(8))
	assert.Equal(t, Leaf32, LeafKindForDepth(31))
	assert.Equal(t, Leaf64, LeafKindForDepth(63))
}

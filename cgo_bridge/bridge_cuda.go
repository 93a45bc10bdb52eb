//go:build cuda

package cgo_bridge

/*
#cgo CFLAGS: -I/usr/local/cuda/include -I/opt/cuda/include
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -L/opt/cuda/lib64 -larboretum_kernels -lcudart -lstdc++

#include <stdlib.h>
#include <stdint.h>

// Gain-evaluation parameters, mirrored by kernels.cu.
typedef struct {
    double lambda;
    double min_hess;
    long long min_leaf;
} gain_args_t;

// Forward declarations for the kernel library (kernels.cu, built by nvcc
// into libarboretum_kernels). All functions return a cudaError_t as int,
// 0 on success; arb_error_string maps the code to a message.
const char* arb_error_string(int code);

int arb_init_device(char* name_out, int name_len, uint64_t* free_out, uint64_t* total_out);
int arb_mem_info(uint64_t* free_out, uint64_t* total_out);

int arb_stream_create(uintptr_t* stream_out);
int arb_stream_destroy(uintptr_t stream);
int arb_stream_synchronize(uintptr_t stream);

int arb_malloc(uintptr_t* buf_out, size_t size);
int arb_free(uintptr_t buf);
int arb_host_alloc(uintptr_t* ptr_out, size_t size);
int arb_host_free(uintptr_t ptr);

int arb_memset_zero(uintptr_t stream, uintptr_t buf, size_t size);
int arb_memcpy_h2d(uintptr_t stream, uintptr_t dst, const void* src, size_t size);
int arb_memcpy_d2h(uintptr_t stream, void* dst, uintptr_t src, size_t size);

int arb_gather_leaves(uintptr_t stream, uintptr_t out, uintptr_t row_to_leaf, uintptr_t index, size_t n, int leaf_kind);
size_t arb_sort_pairs_temp_bytes(size_t n, int leaf_kind);
int arb_sort_pairs(uintptr_t stream, uintptr_t keys_in, uintptr_t vals_in, uintptr_t keys_out, uintptr_t vals_out,
                   size_t n, int end_bit, int leaf_kind, uintptr_t temp, size_t temp_bytes);
int arb_gather_grads(uintptr_t stream, uintptr_t out, uintptr_t grads, uintptr_t index, size_t n, int grad_kind);
int arb_gather_fvalues(uintptr_t stream, uintptr_t out, uintptr_t values, uintptr_t index, size_t n);
size_t arb_scan_temp_bytes(size_t n, int grad_kind);
int arb_exclusive_scan(uintptr_t stream, uintptr_t out, uintptr_t in, size_t n, int grad_kind, uintptr_t temp, size_t temp_bytes);
int arb_gain_kernel(uintptr_t stream, uintptr_t result, uintptr_t scan, uintptr_t segments, uintptr_t fvalue,
                    uintptr_t parent_sum, uintptr_t parent_count, size_t n, int leaf_kind, int grad_kind, gain_args_t* args);
int arb_segmented_reduce(uintptr_t stream, uintptr_t out, uintptr_t grads, uintptr_t offsets, size_t segments, int grad_kind);
*/
import "C"
import (
	"unsafe"

	"github.com/pkg/errors"
)

func cudaErr(code C.int, op string) error {
	if code == 0 {
		return nil
	}
	return errors.Errorf("cgo_bridge: %s failed: %s", op, C.GoString(C.arb_error_string(code)))
}

// InitDevice selects device 0 and reports its memory.
func InitDevice() (DeviceInfo, error) {
	name := make([]byte, 256)
	var free, total C.uint64_t
	code := C.arb_init_device((*C.char)(unsafe.Pointer(&name[0])), C.int(len(name)), &free, &total)
	if err := cudaErr(code, "init device"); err != nil {
		return DeviceInfo{}, err
	}
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return DeviceInfo{Name: string(name[:n]), FreeBytes: uint64(free), TotalBytes: uint64(total)}, nil
}

// MemInfo reports free and total device memory.
func MemInfo() (free, total uint64, err error) {
	var f, t C.uint64_t
	if err := cudaErr(C.arb_mem_info(&f, &t), "mem info"); err != nil {
		return 0, 0, err
	}
	return uint64(f), uint64(t), nil
}

// CreateStream creates a CUDA stream.
func CreateStream() (Stream, error) {
	var s C.uintptr_t
	if err := cudaErr(C.arb_stream_create(&s), "stream create"); err != nil {
		return 0, err
	}
	return Stream(s), nil
}

// DestroyStream releases a stream.
func DestroyStream(s Stream) {
	C.arb_stream_destroy(C.uintptr_t(s))
}

// SynchronizeStream blocks until all work issued on s has completed.
func SynchronizeStream(s Stream) error {
	return cudaErr(C.arb_stream_synchronize(C.uintptr_t(s)), "stream synchronize")
}

// AllocBuffer allocates size bytes of device memory.
func AllocBuffer(size int) (Buffer, error) {
	var b C.uintptr_t
	if err := cudaErr(C.arb_malloc(&b, C.size_t(size)), "device alloc"); err != nil {
		return 0, err
	}
	return Buffer(b), nil
}

// FreeBuffer releases device memory.
func FreeBuffer(b Buffer) {
	C.arb_free(C.uintptr_t(b))
}

// AllocPinned allocates page-locked host memory.
func AllocPinned(size int) (*Pinned, error) {
	var p C.uintptr_t
	if err := cudaErr(C.arb_host_alloc(&p, C.size_t(size)), "pinned alloc"); err != nil {
		return nil, err
	}
	return &Pinned{
		Bytes:  unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), size),
		handle: uintptr(p),
	}, nil
}

// FreePinned releases page-locked host memory.
func FreePinned(p *Pinned) {
	if p == nil || p.handle == 0 {
		return
	}
	C.arb_host_free(C.uintptr_t(p.handle))
	p.Bytes = nil
	p.handle = 0
}

// MemsetZeroAsync zeroes the first size bytes of b on stream s.
func MemsetZeroAsync(s Stream, b Buffer, size int) error {
	return cudaErr(C.arb_memset_zero(C.uintptr_t(s), C.uintptr_t(b), C.size_t(size)), "memset")
}

// CopyToDeviceAsync copies size bytes from host memory at src into dst.
func CopyToDeviceAsync(s Stream, dst Buffer, src unsafe.Pointer, size int) error {
	return cudaErr(C.arb_memcpy_h2d(C.uintptr_t(s), C.uintptr_t(dst), src, C.size_t(size)), "copy to device")
}

// CopyToHostAsync copies size bytes from src into host memory at dst.
func CopyToHostAsync(s Stream, dst unsafe.Pointer, src Buffer, size int) error {
	return cudaErr(C.arb_memcpy_d2h(C.uintptr_t(s), dst, C.uintptr_t(src), C.size_t(size)), "copy to host")
}

// GatherLeaves writes out[i] = rowToLeaf[index[i]] for i in [0, n).
func GatherLeaves(s Stream, out, rowToLeaf, index Buffer, n int, lk LeafKind) error {
	return cudaErr(C.arb_gather_leaves(C.uintptr_t(s), C.uintptr_t(out), C.uintptr_t(rowToLeaf),
		C.uintptr_t(index), C.size_t(n), C.int(lk)), "gather leaves")
}

// SortPairsTempBytes returns the scratch requirement of SortPairsAsync.
func SortPairsTempBytes(n int, lk LeafKind) int {
	return int(C.arb_sort_pairs_temp_bytes(C.size_t(n), C.int(lk)))
}

// SortPairsAsync stable-sorts (keysIn, valsIn) by the low endBit bits of the
// keys into (keysOut, valsOut).
func SortPairsAsync(s Stream, keysIn, valsIn, keysOut, valsOut Buffer, n, endBit int, lk LeafKind, temp Buffer) error {
	tempBytes := C.size_t(SortPairsTempBytes(n, lk))
	return cudaErr(C.arb_sort_pairs(C.uintptr_t(s), C.uintptr_t(keysIn), C.uintptr_t(valsIn),
		C.uintptr_t(keysOut), C.uintptr_t(valsOut), C.size_t(n), C.int(endBit), C.int(lk),
		C.uintptr_t(temp), tempBytes), "sort pairs")
}

// GatherGrads writes out[i] = grads[index[i]] for i in [0, n).
func GatherGrads(s Stream, out, grads, index Buffer, n int, gk GradKind) error {
	return cudaErr(C.arb_gather_grads(C.uintptr_t(s), C.uintptr_t(out), C.uintptr_t(grads),
		C.uintptr_t(index), C.size_t(n), C.int(gk)), "gather grads")
}

// GatherFeatureValues fills out with the -Inf sentinel at position 0 and
// out[i+1] = values[index[i]] after it.
func GatherFeatureValues(s Stream, out, values, index Buffer, n int) error {
	return cudaErr(C.arb_gather_fvalues(C.uintptr_t(s), C.uintptr_t(out), C.uintptr_t(values),
		C.uintptr_t(index), C.size_t(n)), "gather fvalues")
}

// ScanTempBytes returns the scratch requirement of ExclusiveScanAsync.
func ScanTempBytes(n int, gk GradKind) int {
	return int(C.arb_scan_temp_bytes(C.size_t(n), C.int(gk)))
}

// ExclusiveScanAsync computes the global exclusive prefix sum of in.
func ExclusiveScanAsync(s Stream, out, in Buffer, n int, gk GradKind, temp Buffer) error {
	tempBytes := C.size_t(ScanTempBytes(n, gk))
	return cudaErr(C.arb_exclusive_scan(C.uintptr_t(s), C.uintptr_t(out), C.uintptr_t(in),
		C.size_t(n), C.int(gk), C.uintptr_t(temp), tempBytes), "exclusive scan")
}

// GainKernelAsync evaluates every candidate split position and reduces the
// per-leaf maximum into the packed result cells.
func GainKernelAsync(s Stream, result, scan, segments, fvalue, parentSum, parentCount Buffer, n int, lk LeafKind, gk GradKind, args GainArgs) error {
	ca := C.gain_args_t{
		lambda:   C.double(args.Lambda),
		min_hess: C.double(args.MinHess),
		min_leaf: C.longlong(args.MinLeaf),
	}
	return cudaErr(C.arb_gain_kernel(C.uintptr_t(s), C.uintptr_t(result), C.uintptr_t(scan),
		C.uintptr_t(segments), C.uintptr_t(fvalue), C.uintptr_t(parentSum), C.uintptr_t(parentCount),
		C.size_t(n), C.int(lk), C.int(gk), &ca), "gain kernel")
}

// SegmentedReduceAsync sums grads over the slices delimited by offsets.
func SegmentedReduceAsync(s Stream, out, grads, offsets Buffer, segments int, gk GradKind) error {
	return cudaErr(C.arb_segmented_reduce(C.uintptr_t(s), C.uintptr_t(out), C.uintptr_t(grads),
		C.uintptr_t(offsets), C.size_t(segments), C.int(gk)), "segmented reduce")
}

// ReadFeaturePair synchronously reads fvalue[i] and fvalue[i+1].
func ReadFeaturePair(b Buffer, i int) (float32, float32, error) {
	var pair [2]float32
	off := Buffer(uintptr(b) + uintptr(i)*4)
	if err := cudaErr(C.arb_memcpy_d2h(0, unsafe.Pointer(&pair[0]), C.uintptr_t(off), 8), "read fvalue pair"); err != nil {
		return 0, 0, err
	}
	return pair[0], pair[1], nil
}

// ReadGradAt synchronously reads element i of a gradient buffer, widened to
// float64 components. h is 0 for scalar kinds.
func ReadGradAt(b Buffer, i int, gk GradKind) (g, h float64, err error) {
	raw := make([]byte, gk.Size())
	off := Buffer(uintptr(b) + uintptr(i*gk.Size()))
	if err := cudaErr(C.arb_memcpy_d2h(0, unsafe.Pointer(&raw[0]), C.uintptr_t(off), C.size_t(len(raw))), "read grad"); err != nil {
		return 0, 0, err
	}
	switch gk {
	case GradF32:
		return float64(*(*float32)(unsafe.Pointer(&raw[0]))), 0, nil
	case GradF64:
		return *(*float64)(unsafe.Pointer(&raw[0])), 0, nil
	case GradPairF32:
		f := unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), 2)
		return float64(f[0]), float64(f[1]), nil
	default:
		f := unsafe.Slice((*float64)(unsafe.Pointer(&raw[0])), 2)
		return f[0], f[1], nil
	}
}

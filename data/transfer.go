package data

import (
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/pseudotensor/arboretum/cgo_bridge"
	"github.com/pseudotensor/arboretum/memory"
)

// devColumn is a column's device mirror; a zero value means the column
// stayed host-resident and the pipeline uploads it per pass.
type devColumn struct {
	buf *memory.Buffer
}

// Resident reports whether the column lives on the device.
func (c devColumn) Resident() bool { return c.buf != nil }

// Handle returns the device buffer handle.
func (c devColumn) Handle() cgo_bridge.Buffer { return c.buf.Handle() }

// TransferToGPU pushes columns to the device until budget bytes are used,
// dense value/index pairs first, then sparse row lists. Columns that do not
// fit stay on the host; the pipeline borrows resident columns and never
// frees them mid-training.
func (m *DataMatrix) TransferToGPU(mgr *memory.Manager, budget uint64) error {
	if !m.initialized {
		return errors.New("data: TransferToGPU before Init")
	}
	stream, err := cgo_bridge.CreateStream()
	if err != nil {
		return errors.Wrap(err, "data: transfer stream")
	}
	defer cgo_bridge.DestroyStream(stream)

	m.DataDevice = make([]devColumn, m.ColumnsDense)
	m.IndexDevice = make([]devColumn, m.ColumnsDense)
	m.LilColumnDevice = make([]devColumn, m.ColumnsSparse)

	var used uint64
	resident := 0
	for fid := 0; fid < m.ColumnsDense; fid++ {
		// A dense column is only useful with its permutation alongside.
		need := uint64(m.Rows * 4 * 2)
		if used+need > budget {
			break
		}
		dataBuf, err := uploadSlice(mgr, stream, unsafe.Pointer(&m.Data[fid][0]), m.Rows*4)
		if err != nil {
			return err
		}
		idxBuf, err := uploadSlice(mgr, stream, unsafe.Pointer(&m.Index[fid][0]), m.Rows*4)
		if err != nil {
			return err
		}
		m.DataDevice[fid] = devColumn{buf: dataBuf}
		m.IndexDevice[fid] = devColumn{buf: idxBuf}
		used += need
		resident++
	}
	for j := range m.LilColumn {
		if len(m.LilColumn[j]) == 0 {
			continue
		}
		need := uint64(len(m.LilColumn[j]) * 4)
		if used+need > budget {
			break
		}
		buf, err := uploadSlice(mgr, stream, unsafe.Pointer(&m.LilColumn[j][0]), len(m.LilColumn[j])*4)
		if err != nil {
			return err
		}
		m.LilColumnDevice[j] = devColumn{buf: buf}
		used += need
		resident++
	}
	if err := cgo_bridge.SynchronizeStream(stream); err != nil {
		return errors.Wrap(err, "data: transfer sync")
	}
	klog.Infof("transferred %d columns to device, %s of %s budget",
		resident, humanize.IBytes(used), humanize.IBytes(budget))
	return nil
}

func uploadSlice(mgr *memory.Manager, stream cgo_bridge.Stream, src unsafe.Pointer, size int) (*memory.Buffer, error) {
	buf, err := mgr.Alloc(size)
	if err != nil {
		return nil, err
	}
	if err := cgo_bridge.CopyToDeviceAsync(stream, buf.Handle(), src, size); err != nil {
		mgr.Free(buf)
		return nil, errors.Wrap(err, "data: column upload")
	}
	return buf, nil
}

package memory

// Arena is the per-pipeline-slot scratch buffer handed to the sort and scan
// primitives. It grows monotonically to the largest request seen across
// pipeline passes (free then reallocate) and never shrinks, so steady-state
// levels reuse one allocation per slot.
type Arena struct {
	mgr *Manager
	buf *Buffer
}

// NewArena creates an empty arena backed by mgr.
func NewArena(mgr *Manager) *Arena {
	return &Arena{mgr: mgr}
}

// Ensure returns a device buffer of at least size bytes, reallocating only
// when the current buffer is too small.
func (a *Arena) Ensure(size int) (*Buffer, error) {
	if a.buf != nil && a.buf.Size() >= size {
		return a.buf, nil
	}
	a.mgr.Free(a.buf)
	a.buf = nil
	buf, err := a.mgr.Alloc(size)
	if err != nil {
		return nil, err
	}
	a.buf = buf
	return buf, nil
}

// Size returns the current capacity in bytes.
func (a *Arena) Size() int {
	if a.buf == nil {
		return 0
	}
	return a.buf.Size()
}

// Release frees the backing buffer.
func (a *Arena) Release() {
	a.mgr.Free(a.buf)
	a.buf = nil
}

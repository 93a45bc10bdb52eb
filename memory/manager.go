// Package memory owns device buffer lifecycle: tracked allocation, the
// dataset transfer budget, and the per-slot scratch arena.
package memory

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/pseudotensor/arboretum/cgo_bridge"
)

// TransferFraction is the share of free device memory the dataset may
// occupy. The remainder covers pipeline slots and scratch.
const TransferFraction = 0.9

// Buffer is a tracked device allocation.
type Buffer struct {
	handle cgo_bridge.Buffer
	size   int
}

// Handle returns the bridge handle.
func (b *Buffer) Handle() cgo_bridge.Buffer { return b.handle }

// Size returns the allocation size in bytes.
func (b *Buffer) Size() int { return b.size }

// Manager tracks live device allocations. A single manager serves the
// trainer; allocation failures are fatal to training and surface at the
// call site.
type Manager struct {
	mu        sync.Mutex
	allocated int64
}

// NewManager creates a manager.
func NewManager() *Manager {
	return &Manager{}
}

// Alloc allocates size bytes of device memory.
func (m *Manager) Alloc(size int) (*Buffer, error) {
	h, err := cgo_bridge.AllocBuffer(size)
	if err != nil {
		return nil, errors.Wrapf(err, "memory: alloc %s", humanize.IBytes(uint64(size)))
	}
	m.mu.Lock()
	m.allocated += int64(size)
	m.mu.Unlock()
	return &Buffer{handle: h, size: size}, nil
}

// Free releases a buffer. Safe on nil.
func (m *Manager) Free(b *Buffer) {
	if b == nil || b.handle == 0 {
		return
	}
	cgo_bridge.FreeBuffer(b.handle)
	m.mu.Lock()
	m.allocated -= int64(b.size)
	m.mu.Unlock()
	b.handle = 0
	b.size = 0
}

// Allocated returns the live device bytes held through this manager.
func (m *Manager) Allocated() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated
}

// TransferBudget queries free device memory and returns the byte budget for
// dataset transfer.
func (m *Manager) TransferBudget() (uint64, error) {
	free, total, err := cgo_bridge.MemInfo()
	if err != nil {
		return 0, errors.Wrap(err, "memory: device mem info")
	}
	budget := uint64(float64(free) * TransferFraction)
	klog.Infof("device memory: %s free of %s, dataset budget %s",
		humanize.IBytes(free), humanize.IBytes(total), humanize.IBytes(budget))
	return budget, nil
}

// Package pool provides the fixed-block allocator backing cell and
// payload buffers during decode and insertion.
//
// # Concurrency Model
//
// Acquire and Release are safe for concurrent use. Pools are typically
// per-worker, so the free-list lock is effectively uncontended; the
// win is block growth, which keeps steady-state insertion free of
// per-point allocation.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/ProjectBarks/entwine/model"
)

// DefaultBlockSize is the number of cells grown per block.
const DefaultBlockSize = 4096

// PointPool hands out reusable Cells with payload buffers of a fixed
// point size. Returned cells keep their buffers, so steady-state
// insertion allocates nothing.
type PointPool struct {
	pointSize uint64
	blockSize int

	mu   sync.Mutex
	free *model.Cell

	allocated atomic.Uint64
}

// New creates a pool producing cells with pointSize-byte payloads.
func New(pointSize uint64, blockSize int) *PointPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &PointPool{pointSize: pointSize, blockSize: blockSize}
}

// PointSize is the payload width of cells from this pool.
func (p *PointPool) PointSize() uint64 { return p.pointSize }

// Allocated is the total number of cells ever created by this pool.
func (p *PointPool) Allocated() uint64 { return p.allocated.Load() }

// Acquire returns a cell with a zero-length payload buffer of capacity
// pointSize and no stack link.
func (p *PointPool) Acquire() *model.Cell {
	p.mu.Lock()
	if p.free == nil {
		p.grow()
	}
	c := p.free
	p.free = c.Next
	p.mu.Unlock()

	c.Next = nil
	c.Data = c.Data[:0]
	return c
}

// grow adds one block of cells to the free list. Caller holds the
// lock.
func (p *PointPool) grow() {
	cells := make([]model.Cell, p.blockSize)
	buf := make([]byte, uint64(p.blockSize)*p.pointSize)
	for i := range cells {
		cells[i].Data = buf[uint64(i)*p.pointSize : uint64(i)*p.pointSize : uint64(i+1)*p.pointSize]
		if i > 0 {
			cells[i-1].Next = &cells[i]
		}
	}
	cells[p.blockSize-1].Next = p.free
	p.free = &cells[0]
	p.allocated.Add(uint64(p.blockSize))
}

// Release returns a cell, and any duplicates stacked on it, to the
// pool. The caller must not touch the cell afterwards.
func (p *PointPool) Release(c *model.Cell) {
	if c == nil {
		return
	}
	tail := c
	for tail.Next != nil {
		tail = tail.Next
	}

	p.mu.Lock()
	tail.Next = p.free
	p.free = c
	p.mu.Unlock()
}

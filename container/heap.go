package container

import (
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
)

// HeapType identifies one of the indirect heaps
type HeapType uint32

const (
	// HeapSurfaceState holds surface descriptors
	HeapSurfaceState HeapType = iota
	// HeapDynamicState holds sampler and other dynamic state
	HeapDynamicState
	// HeapIndirectObject holds per-dispatch kernel arguments
	HeapIndirectObject

	heapTypeCount
)

var heapTypeMapping = map[HeapType]string{
	HeapSurfaceState:   "SurfaceState",
	HeapDynamicState:   "DynamicState",
	HeapIndirectObject: "IndirectObject",
}

func (t HeapType) String() string {
	return heapTypeMapping[t]
}

// IndirectHeap is a linear sub-allocator over one heap allocation. Commands reference its contents
// by offset from GPUAddress.
type IndirectHeap struct {
	heapType HeapType
	alloc    *memory.GraphicsAllocation
	used     int
	dirty    bool
}

func (h *IndirectHeap) Type() HeapType                         { return h.heapType }
func (h *IndirectHeap) Allocation() *memory.GraphicsAllocation { return h.alloc }
func (h *IndirectHeap) GPUAddress() uint64                     { return h.alloc.GPUAddress() }
func (h *IndirectHeap) Used() int                              { return h.used }
func (h *IndirectHeap) Capacity() int                          { return h.alloc.Size() }

// Dirty returns true if the heap was created or replaced since the last ClearDirty, so the base
// addresses programmed on the engine no longer point at it
func (h *IndirectHeap) Dirty() bool { return h.dirty }

func (h *IndirectHeap) ClearDirty() { h.dirty = false }

// fits returns the aligned offset n bytes would be placed at, and whether they fit
func (h *IndirectHeap) fits(n int, alignment uint) (int, bool) {
	offset := memutils.AlignUp(h.used, alignment)
	return offset, offset+n <= h.alloc.Size()
}

// GetSpace carves n bytes at the requested alignment. It returns false if the heap is full.
func (h *IndirectHeap) GetSpace(n int, alignment uint) (int, []byte, bool) {
	offset, ok := h.fits(n, alignment)
	if !ok {
		return 0, nil, false
	}

	h.used = offset + n
	return offset, h.alloc.Data()[offset : offset+n : offset+n], true
}

func (h *IndirectHeap) rewind() {
	h.rewindTo(0, true)
}

func (h *IndirectHeap) rewindTo(used int, dirty bool) {
	clear(h.alloc.Data()[used:h.used])
	h.used = used
	h.dirty = dirty
}

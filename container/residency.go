package container

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/dispatch/memory"
)

// ResidencyContainer is the ordered set of allocations a command stream references. Adding an
// allocation twice keeps only the first position.
type ResidencyContainer struct {
	allocations []*memory.GraphicsAllocation
	index       *swiss.Map[uint64, int]
}

func NewResidencyContainer() *ResidencyContainer {
	return &ResidencyContainer{
		index: swiss.NewMap[uint64, int](16),
	}
}

// Add appends every allocation not already present. Nil allocations are ignored.
func (r *ResidencyContainer) Add(allocs ...*memory.GraphicsAllocation) {
	for _, alloc := range allocs {
		if alloc == nil || r.index.Has(alloc.ID()) {
			continue
		}
		r.index.Put(alloc.ID(), len(r.allocations))
		r.allocations = append(r.allocations, alloc)
	}
}

// Merge adds every allocation of other, in its order
func (r *ResidencyContainer) Merge(other *ResidencyContainer) {
	r.Add(other.allocations...)
}

func (r *ResidencyContainer) Contains(alloc *memory.GraphicsAllocation) bool {
	return r.index.Has(alloc.ID())
}

// Allocations returns the set in insertion order. The slice must not be modified.
func (r *ResidencyContainer) Allocations() []*memory.GraphicsAllocation {
	return r.allocations
}

func (r *ResidencyContainer) Len() int {
	return len(r.allocations)
}

// truncate drops every allocation added after the first n
func (r *ResidencyContainer) truncate(n int) {
	for _, alloc := range r.allocations[n:] {
		r.index.Delete(alloc.ID())
	}
	clear(r.allocations[n:])
	r.allocations = r.allocations[:n]
}

func (r *ResidencyContainer) Clear() {
	clear(r.allocations)
	r.allocations = r.allocations[:0]
	r.index.Clear()
}

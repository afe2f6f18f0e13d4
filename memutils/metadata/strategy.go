package metadata

// AllocationStrategy picks which free range of a block a graphics allocation goes into. Flags may be
// combined; without one the free list takes the best fit.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory takes the smallest free range that fits, keeping large ranges
	// intact for command buffers and heaps
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime takes the first free range found that fits
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset takes the lowest free range that fits. New blocks are filled this
	// way so their front stays packed.
	AllocationStrategyMinOffset
)

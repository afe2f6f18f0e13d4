package metadata

import "math"

// BlockAllocationHandle is a numeric handle used to identify regions of memory within a block
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes one region of a block
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
	Type     uint32
}

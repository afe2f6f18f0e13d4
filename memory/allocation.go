package memory

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/dispatch/memutils/metadata"
)

// AllocationProperties describes a requested allocation: the size class and placement hint the
// manager uses to choose a block
type AllocationProperties struct {
	// Type is the kind of data the allocation will hold. It decides the default pool and alignment.
	Type AllocationType
	// Size is the requested size in bytes and must be greater than zero
	Size int
	// Alignment is the minimum alignment of the GPU address; zero selects the type's default
	Alignment uint
	// Pool is the placement hint; PoolDefault selects the type's default
	Pool MemoryPool
	// Flags adjust placement
	Flags AllocationFlags
	// Name is an optional label reported in statistics and leak logs
	Name string
}

// GraphicsAllocation is a range of GPU virtual address space backed by simulated memory
type GraphicsAllocation struct {
	id         uint64
	allocType  AllocationType
	pool       MemoryPool
	flags      AllocationFlags
	gpuAddress uint64
	size       int
	name       string
	advice     MemAdvice

	block  *memoryBlock
	handle metadata.BlockAllocationHandle
	offset int
}

// ID is unique among all allocations a manager has ever produced
func (a *GraphicsAllocation) ID() uint64 { return a.id }

func (a *GraphicsAllocation) Type() AllocationType   { return a.allocType }
func (a *GraphicsAllocation) Pool() MemoryPool       { return a.pool }
func (a *GraphicsAllocation) Flags() AllocationFlags { return a.flags }
func (a *GraphicsAllocation) GPUAddress() uint64     { return a.gpuAddress }
func (a *GraphicsAllocation) Size() int              { return a.size }
func (a *GraphicsAllocation) Name() string           { return a.name }
func (a *GraphicsAllocation) Advice() MemAdvice      { return a.advice }

// IsCompressible returns true if the device may keep this allocation's contents compressed
func (a *GraphicsAllocation) IsCompressible() bool {
	return a.flags&AllocationCompressible != 0
}

// Data is the CPU view of the allocation's memory. Offsets that are multiples of 8 are 8-byte aligned.
func (a *GraphicsAllocation) Data() []byte {
	return a.block.data[a.offset : a.offset+a.size : a.offset+a.size]
}

func (a *GraphicsAllocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Type").String(a.allocType.String())
	json.Name("Size").Int(a.size)
	json.Name("GPUAddress").String(fmt.Sprintf("0x%x", a.gpuAddress))
	if a.name != "" {
		json.Name("Name").String(a.name)
	}
	if a.flags != 0 {
		json.Name("Flags").String(a.flags.String())
	}
}

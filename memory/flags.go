package memory

import "github.com/vkngwrapper/core/v2/common"

// MemoryPool is the placement of an allocation: local device memory or system memory visible to the device
type MemoryPool uint32

const (
	// PoolDefault lets the manager place the allocation based on its AllocationType
	PoolDefault MemoryPool = iota
	// PoolDevice is device-local memory
	PoolDevice
	// PoolSystem is host memory the device reaches over the bus
	PoolSystem

	poolCount
)

var memoryPoolMapping = map[MemoryPool]string{
	PoolDefault: "PoolDefault",
	PoolDevice:  "PoolDevice",
	PoolSystem:  "PoolSystem",
}

func (p MemoryPool) String() string {
	return memoryPoolMapping[p]
}

// IsSystemMemory returns true if the pool lives in host memory
func (p MemoryPool) IsSystemMemory() bool {
	return p == PoolSystem
}

// AllocationType identifies what an allocation will hold. It decides the default pool and alignment.
type AllocationType uint32

const (
	AllocationTypeUnknown AllocationType = iota
	// AllocationTypeCommandBuffer holds a chunk of a command buffer chain
	AllocationTypeCommandBuffer
	// AllocationTypeInternalHeap holds an indirect heap (surface, dynamic state or indirect object data)
	AllocationTypeInternalHeap
	// AllocationTypeBuffer is an application buffer
	AllocationTypeBuffer
	// AllocationTypeImage is an application image
	AllocationTypeImage
	// AllocationTypeCounter holds in-order execution counters
	AllocationTypeCounter
	// AllocationTypeEventPool holds event completion slots
	AllocationTypeEventPool
	// AllocationTypeTagBuffer holds the completion stamp written by a submission backend
	AllocationTypeTagBuffer
	// AllocationTypeSchedulerData holds relaxed-ordering task descriptors
	AllocationTypeSchedulerData
	// AllocationTypeKernelISA holds kernel instructions
	AllocationTypeKernelISA
)

var allocationTypeMapping = map[AllocationType]string{
	AllocationTypeUnknown:       "Unknown",
	AllocationTypeCommandBuffer: "CommandBuffer",
	AllocationTypeInternalHeap:  "InternalHeap",
	AllocationTypeBuffer:        "Buffer",
	AllocationTypeImage:         "Image",
	AllocationTypeCounter:       "Counter",
	AllocationTypeEventPool:     "EventPool",
	AllocationTypeTagBuffer:     "TagBuffer",
	AllocationTypeSchedulerData: "SchedulerData",
	AllocationTypeKernelISA:     "KernelISA",
}

func (t AllocationType) String() string {
	return allocationTypeMapping[t]
}

func (t AllocationType) defaultPool() MemoryPool {
	switch t {
	case AllocationTypeCommandBuffer, AllocationTypeEventPool, AllocationTypeTagBuffer, AllocationTypeSchedulerData:
		return PoolSystem
	}

	return PoolDevice
}

func (t AllocationType) defaultAlignment() uint {
	switch t {
	case AllocationTypeCommandBuffer, AllocationTypeInternalHeap, AllocationTypeKernelISA:
		return 4096
	case AllocationTypeImage:
		return 65536
	}

	return 64
}

// AllocationFlags adjust how an allocation is placed
type AllocationFlags int32

var allocationFlagsMapping = common.NewFlagStringMapping[AllocationFlags]()

func (f AllocationFlags) Register(str string) {
	allocationFlagsMapping.Register(f, str)
}
func (f AllocationFlags) String() string {
	return allocationFlagsMapping.FlagsToString(f)
}

const (
	// AllocationCompressible requests memory that the device may keep compressed
	AllocationCompressible AllocationFlags = 1 << iota
	// AllocationDedicated gives the allocation a block of its own
	AllocationDedicated
	// AllocationNeverAllocate only places the allocation in existing blocks
	AllocationNeverAllocate
)

func init() {
	AllocationCompressible.Register("AllocationCompressible")
	AllocationDedicated.Register("AllocationDedicated")
	AllocationNeverAllocate.Register("AllocationNeverAllocate")
}

// MemAdvice is a residency/placement hint applied to an existing allocation
type MemAdvice uint32

const (
	MemAdviceNone MemAdvice = iota
	MemAdviceSetReadMostly
	MemAdviceClearReadMostly
	MemAdviceSetPreferredLocation
	MemAdviceClearPreferredLocation
)

var memAdviceMapping = map[MemAdvice]string{
	MemAdviceNone:                   "None",
	MemAdviceSetReadMostly:          "SetReadMostly",
	MemAdviceClearReadMostly:        "ClearReadMostly",
	MemAdviceSetPreferredLocation:   "SetPreferredLocation",
	MemAdviceClearPreferredLocation: "ClearPreferredLocation",
}

func (a MemAdvice) String() string {
	return memAdviceMapping[a]
}

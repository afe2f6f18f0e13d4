package memory

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/internal/utils"
	"github.com/vkngwrapper/dispatch/memutils"
	"golang.org/x/exp/slog"
)

//go:generate mockgen -destination mocks/allocator.go -package mocks github.com/vkngwrapper/dispatch/memory Allocator

// Allocator is the allocation surface consumed by command containers, counters, events and queues
type Allocator interface {
	// Allocate creates a new allocation, returning core1_0.VKErrorOutOfDeviceMemory if the pool
	// cannot hold it
	Allocate(props AllocationProperties) (*GraphicsAllocation, common.VkResult, error)
	// Free releases an allocation made by Allocate
	Free(alloc *GraphicsAllocation) error
}

// AddressSpace resolves GPU virtual addresses to the memory behind them. Submission backends
// use it to execute command streams.
type AddressSpace interface {
	Resolve(gpuAddress uint64, size int) ([]byte, error)
}

// Manager is a simulated graphics memory manager. Each pool is a list of blocks laid out in its own
// range of GPU virtual address space; allocations are suballocated from blocks.
type Manager struct {
	useMutex bool
	logger   *slog.Logger

	blockLists [poolCount]*memoryBlockList

	nextAllocationId atomic.Uint64
	liveMutex        utils.OptionalMutex
	live             *swiss.Map[uint64, *GraphicsAllocation]
}

var _ Allocator = &Manager{}
var _ AddressSpace = &Manager{}

func (m *Manager) blockList(pool MemoryPool) *memoryBlockList {
	return m.blockLists[pool]
}

func (m *Manager) Allocate(props AllocationProperties) (*GraphicsAllocation, common.VkResult, error) {
	m.logger.Debug("Manager::Allocate")

	if props.Size < 1 {
		return nil, core1_0.VKErrorUnknown, errors.Errorf("allocation size must be greater than zero, was %d", props.Size)
	}

	pool := props.Pool
	if pool == PoolDefault {
		pool = props.Type.defaultPool()
	}
	if pool >= poolCount {
		return nil, core1_0.VKErrorUnknown, errors.Errorf("unknown memory pool %d", pool)
	}

	alignment := props.Alignment
	if alignment == 0 {
		alignment = props.Type.defaultAlignment()
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	alloc := &GraphicsAllocation{
		id:        m.nextAllocationId.Add(1),
		allocType: props.Type,
		flags:     props.Flags,
		size:      props.Size,
		name:      props.Name,
	}

	res, err := m.blockList(pool).Allocate(&props, alignment, alloc)
	if err != nil {
		return nil, res, err
	}

	m.liveMutex.Lock()
	m.live.Put(alloc.id, alloc)
	m.liveMutex.Unlock()

	return alloc, core1_0.VKSuccess, nil
}

func (m *Manager) Free(alloc *GraphicsAllocation) error {
	m.logger.Debug("Manager::Free")

	if alloc == nil {
		return nil
	}

	m.liveMutex.Lock()
	_, ok := m.live.Get(alloc.id)
	if ok {
		m.live.Delete(alloc.id)
	}
	m.liveMutex.Unlock()

	if !ok {
		return errors.Errorf("allocation %d was already freed or does not belong to this manager", alloc.id)
	}

	return m.blockList(alloc.pool).Free(alloc)
}

// Resolve returns the memory behind [gpuAddress, gpuAddress+size)
func (m *Manager) Resolve(gpuAddress uint64, size int) ([]byte, error) {
	for pool := PoolDevice; pool < poolCount; pool++ {
		data, ok := m.blockList(pool).Resolve(gpuAddress, size)
		if ok {
			return data, nil
		}
	}

	return nil, errors.Errorf("gpu address range 0x%x+%d is not backed by any memory block", gpuAddress, size)
}

// FindAllocation returns the live allocation containing gpuAddress
func (m *Manager) FindAllocation(gpuAddress uint64) (*GraphicsAllocation, bool) {
	for pool := PoolDevice; pool < poolCount; pool++ {
		alloc, ok := m.blockList(pool).Find(gpuAddress)
		if ok {
			return alloc, true
		}
	}

	return nil, false
}

// SetMemAdvice records a placement hint on an allocation. Only device-local allocations can be
// advised; other allocations return core1_0.VKErrorFeatureNotPresent.
func (m *Manager) SetMemAdvice(alloc *GraphicsAllocation, advice MemAdvice) (common.VkResult, error) {
	if alloc == nil {
		return core1_0.VKErrorUnknown, errors.New("cannot advise a nil allocation")
	}
	if alloc.pool != PoolDevice {
		return core1_0.VKErrorFeatureNotPresent, errors.Errorf("allocations in %s cannot be advised", alloc.pool)
	}

	alloc.advice = advice
	return core1_0.VKSuccess, nil
}

// LiveAllocationCount returns the number of allocations that have not been freed
func (m *Manager) LiveAllocationCount() int {
	m.liveMutex.Lock()
	defer m.liveMutex.Unlock()

	return m.live.Count()
}

func (m *Manager) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	for pool := PoolDevice; pool < poolCount; pool++ {
		m.blockList(pool).AddDetailedStatistics(stats)
	}
}

func (m *Manager) CalculatePoolStatistics(pool MemoryPool, stats *memutils.Statistics) {
	stats.Clear()
	m.blockList(pool).AddStatistics(stats)
}

func (m *Manager) Validate() error {
	for pool := PoolDevice; pool < poolCount; pool++ {
		if err := m.blockList(pool).Validate(); err != nil {
			return errors.Wrapf(err, "pool %s", pool)
		}
	}
	return nil
}

// CheckCorruption verifies the debug margins written after every allocation. It only finds anything
// when built with the debug_dispatch tag.
func (m *Manager) CheckCorruption() error {
	for pool := PoolDevice; pool < poolCount; pool++ {
		if err := m.blockList(pool).CheckCorruption(); err != nil {
			return errors.Wrapf(err, "pool %s", pool)
		}
	}
	return nil
}

// BuildStatsString writes statistics and, if detailedMap is true, every block and allocation to writer
func (m *Manager) BuildStatsString(writer *jwriter.Writer, detailedMap bool) {
	root := writer.Object()
	defer root.End()

	var total memutils.DetailedStatistics
	m.CalculateStatistics(&total)

	totalObj := root.Name("Total").Object()
	total.WriteJSON(&totalObj)
	totalObj.End()

	pools := root.Name("Pools").Object()
	defer pools.End()

	for pool := PoolDevice; pool < poolCount; pool++ {
		var stats memutils.DetailedStatistics
		stats.Clear()
		m.blockList(pool).AddDetailedStatistics(&stats)

		poolObj := pools.Name(pool.String()).Object()
		statsObj := poolObj.Name("Stats").Object()
		stats.WriteJSON(&statsObj)
		statsObj.End()

		if detailedMap {
			blocksObj := poolObj.Name("Blocks").Object()
			m.blockList(pool).PrintDetailedMap(&blocksObj)
			blocksObj.End()
		}
		poolObj.End()
	}
}

// Destroy releases every block. It fails, logging each allocation, if any allocation is still live.
func (m *Manager) Destroy() error {
	m.logger.Debug("Manager::Destroy")

	for pool := PoolDevice; pool < poolCount; pool++ {
		if err := m.blockList(pool).Destroy(); err != nil {
			return err
		}
	}
	return nil
}

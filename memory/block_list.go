package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/internal/utils"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/memutils/metadata"
	"golang.org/x/exp/slog"
)

var blockPool = sync.Pool{
	New: func() any {
		return &memoryBlock{}
	},
}

const (
	// blockAddressAlignment is the granularity at which blocks are placed in GPU virtual address space
	blockAddressAlignment uint64 = 64 * 1024
)

// memoryBlockList owns every block of one memory pool
type memoryBlockList struct {
	logger *slog.Logger
	pool   MemoryPool

	preferredBlockSize int
	heapSizeLimit      int
	usedBytes          int

	mutex       utils.OptionalRWMutex
	blocks      []*memoryBlock
	nextBlockId int
	nextAddress uint64
}

func (l *memoryBlockList) Init(useMutex bool, logger *slog.Logger, pool MemoryPool, baseAddress uint64, preferredBlockSize int, heapSizeLimit int) {
	l.logger = logger
	l.pool = pool
	l.preferredBlockSize = preferredBlockSize
	l.heapSizeLimit = heapSizeLimit
	l.nextAddress = baseAddress
	l.mutex = utils.OptionalRWMutex{
		UseMutex: useMutex,
		Mutex:    sync.RWMutex{},
	}
}

func (l *memoryBlockList) Destroy() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, block := range l.blocks {
		err := block.Destroy()
		if err != nil {
			return err
		}
		blockPool.Put(block)
	}
	l.blocks = nil
	l.usedBytes = 0
	return nil
}

func (l *memoryBlockList) BlockCount() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.blocks)
}

func (l *memoryBlockList) AddStatistics(stats *memutils.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		block.metadata.AddStatistics(stats)
	}
}

func (l *memoryBlockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryBlockList) createBlock(blockSize int, dedicated bool) (*memoryBlock, common.VkResult, error) {
	if l.heapSizeLimit > 0 && l.usedBytes+blockSize > l.heapSizeLimit {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	block := blockPool.Get().(*memoryBlock)
	block.Init(l.logger, l.pool, l.nextBlockId, l.nextAddress, blockSize, dedicated)
	l.nextBlockId++
	l.nextAddress = memutils.AlignUp64(l.nextAddress+uint64(blockSize), blockAddressAlignment)
	l.usedBytes += blockSize

	l.blocks = append(l.blocks, block)
	sort.Slice(l.blocks, func(i, j int) bool {
		return l.blocks[i].gpuAddress < l.blocks[j].gpuAddress
	})

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block",
		slog.Int("block.id", block.id),
		slog.Int("block.size", blockSize),
		slog.String("pool", l.pool.String()),
	)
	return block, core1_0.VKSuccess, nil
}

func (l *memoryBlockList) removeBlock(block *memoryBlock) {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex] == block {
			l.blocks = append(l.blocks[0:blockIndex], l.blocks[blockIndex+1:]...)
			l.usedBytes -= block.Size()
			return
		}
	}

	panic("attempted to remove a block from a block list that did not belong to it")
}

func (l *memoryBlockList) Allocate(props *AllocationProperties, alignment uint, outAlloc *GraphicsAllocation) (common.VkResult, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	size := props.Size + memutils.DebugMargin
	dedicated := props.Flags&AllocationDedicated != 0 || size > l.preferredBlockSize/2

	// 1. Search existing shared blocks
	if !dedicated {
		for _, block := range l.blocks {
			if block.dedicated || !block.metadata.MayHaveFreeBlock(size) {
				continue
			}

			success, err := block.allocate(props, alignment, metadata.AllocationStrategyMinMemory, outAlloc)
			if err != nil {
				return core1_0.VKErrorUnknown, err
			} else if success {
				return core1_0.VKSuccess, nil
			}
		}
	}

	if props.Flags&AllocationNeverAllocate != 0 {
		return core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	// 2. Create a new block
	blockSize := l.preferredBlockSize
	if dedicated {
		blockSize = memutils.AlignUp(size, uint(alignment))
	}

	block, res, err := l.createBlock(blockSize, dedicated)
	if err != nil {
		return res, err
	}

	success, err := block.allocate(props, alignment, metadata.AllocationStrategyMinOffset, outAlloc)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	} else if !success {
		panic(fmt.Sprintf("created a new block of size %d to hold an allocation of size %d but the allocation did not fit", blockSize, size))
	}

	return core1_0.VKSuccess, nil
}

func (l *memoryBlockList) Free(alloc *GraphicsAllocation) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	block := alloc.block
	err := block.free(alloc)
	if err != nil {
		return err
	}

	// Empty dedicated blocks go away immediately; keep at most one empty shared block around
	if block.metadata.IsEmpty() && (block.dedicated || l.emptySharedBlockCount() > 1) {
		l.removeBlock(block)
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block", slog.Int("block.id", block.id))
		err = block.Destroy()
		if err != nil {
			return err
		}
		blockPool.Put(block)
	}

	return nil
}

func (l *memoryBlockList) emptySharedBlockCount() int {
	count := 0
	for _, block := range l.blocks {
		if !block.dedicated && block.metadata.IsEmpty() {
			count++
		}
	}
	return count
}

// Resolve returns the memory behind [address, address+size), if this pool owns it
func (l *memoryBlockList) Resolve(address uint64, size int) ([]byte, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	index := sort.Search(len(l.blocks), func(i int) bool {
		return l.blocks[i].gpuAddress+uint64(l.blocks[i].Size()) > address
	})
	if index == len(l.blocks) || !l.blocks[index].Contains(address, size) {
		return nil, false
	}

	block := l.blocks[index]
	offset := int(address - block.gpuAddress)
	return block.data[offset : offset+size : offset+size], true
}

// Find returns the live allocation containing address, if any
func (l *memoryBlockList) Find(address uint64) (*GraphicsAllocation, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		if !block.Contains(address, 1) {
			continue
		}

		var found *GraphicsAllocation
		_ = block.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			alloc, ok := userData.(*GraphicsAllocation)
			if !free && ok && address >= alloc.gpuAddress && address < alloc.gpuAddress+uint64(alloc.size) {
				found = alloc
			}
			return nil
		})
		return found, found != nil
	}

	return nil, false
}

func (l *memoryBlockList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		if err := block.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (l *memoryBlockList) CheckCorruption() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		if err := block.CheckCorruption(); err != nil {
			return err
		}
	}
	return nil
}

func (l *memoryBlockList) PrintDetailedMap(json *jwriter.ObjectState) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, block := range l.blocks {
		blockObj := json.Name(strconv.Itoa(block.id)).Object()

		blockObj.Name("GPUAddress").String(fmt.Sprintf("0x%x", block.gpuAddress))
		blockObj.Name("Dedicated").Bool(block.dedicated)
		block.metadata.BlockJsonData(&blockObj)
		l.printDetailedMapAllocations(block.metadata, &blockObj)

		blockObj.End()
	}
}

func (l *memoryBlockList) printDetailedMapAllocations(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Allocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			alloc, isAllocation := userData.(*GraphicsAllocation)
			if free || !isAllocation || alloc == nil {
				return nil
			}

			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			alloc.printParameters(&obj)
			return nil
		})
}

package memory

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/memutils/metadata"
	"golang.org/x/exp/slog"
)

// memoryBlock is one contiguous range of GPU virtual address space with host memory behind it
type memoryBlock struct {
	id         int
	pool       MemoryPool
	gpuAddress uint64
	data       []byte
	dedicated  bool
	logger     *slog.Logger

	metadata metadata.BlockMetadata
}

func (b *memoryBlock) Init(logger *slog.Logger, pool MemoryPool, id int, gpuAddress uint64, size int, dedicated bool) {
	if b.data != nil {
		panic("attempting to initialize a memory block that is already in use")
	}

	b.id = id
	b.pool = pool
	b.gpuAddress = gpuAddress
	b.data = memutils.AlignedBytes(size)
	b.dedicated = dedicated
	b.logger = logger
	b.metadata = metadata.NewFreeListBlockMetadata()
	b.metadata.Init(size)
}

func (b *memoryBlock) Size() int { return len(b.data) }

// Contains returns true if the GPU address range [address, address+size) lies in this block
func (b *memoryBlock) Contains(address uint64, size int) bool {
	return address >= b.gpuAddress && address+uint64(size) <= b.gpuAddress+uint64(len(b.data))
}

func (b *memoryBlock) Destroy() error {
	if !b.metadata.IsEmpty() {
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.New("some allocations were not freed before the destruction of this memory block!")
	}

	if b.data == nil {
		panic("attempting to destroy a memory block that has no backing memory")
	}

	b.data = nil
	b.metadata = nil
	return nil
}

func (b *memoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	name := "empty"
	allocType := AllocationTypeUnknown
	if alloc, ok := userData.(*GraphicsAllocation); ok && alloc != nil {
		allocType = alloc.allocType
		if alloc.name != "" {
			name = alloc.name
		}
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("type", allocType.String()),
		slog.String("name", name),
	)
}

func (b *memoryBlock) Validate() error {
	if b.data == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() != len(b.data) {
		return errors.Errorf("metadata size %d does not match block size %d", b.metadata.Size(), len(b.data))
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		alloc, isAllocation := userData.(*GraphicsAllocation)
		if free && isAllocation {
			return errors.Errorf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || alloc == nil) {
			return errors.Errorf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		} else if !free && alloc.offset != offset {
			return errors.Errorf("allocation at offset %d believes it lives at offset %d", offset, alloc.offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}

func (b *memoryBlock) CheckCorruption() error {
	return b.metadata.CheckCorruption(b.data)
}

// allocate places a suballocation in this block; it returns false without error if the block has no room
func (b *memoryBlock) allocate(props *AllocationProperties, alignment uint, strategy metadata.AllocationStrategy, outAlloc *GraphicsAllocation) (bool, error) {
	success, request, err := b.metadata.CreateAllocationRequest(props.Size, alignment, uint32(props.Type), strategy, len(b.data))
	if err != nil || !success {
		return false, err
	}

	err = b.metadata.Alloc(request, uint32(props.Type), outAlloc)
	if err != nil {
		return false, err
	}

	outAlloc.block = b
	outAlloc.handle = request.BlockAllocationHandle
	outAlloc.offset = request.Item.Offset
	outAlloc.gpuAddress = b.gpuAddress + uint64(request.Item.Offset)
	outAlloc.pool = b.pool

	// Recycled ranges must read back as zero
	clear(b.data[outAlloc.offset : outAlloc.offset+props.Size])
	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(b.data, outAlloc.offset+props.Size)
	}

	memutils.DebugValidate(b)
	return true, nil
}

func (b *memoryBlock) free(alloc *GraphicsAllocation) error {
	if memutils.DebugMargin > 0 && !memutils.ValidateMagicValue(b.data, alloc.offset+alloc.size) {
		panic(fmt.Sprintf("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION at gpu address 0x%x", alloc.gpuAddress))
	}

	err := b.metadata.Free(alloc.handle)
	if err != nil {
		return err
	}

	memutils.DebugValidate(b)
	return nil
}

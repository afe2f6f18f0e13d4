package metadata

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/dispatch/memutils"
)

// freeListRegion is one physically contiguous region of the block, either allocated or free.
// Regions form a doubly-linked list in offset order.
type freeListRegion struct {
	offset    int
	size      int
	free      bool
	allocType uint32
	userData  any

	prevPhysical *freeListRegion
	nextPhysical *freeListRegion
}

func (r *freeListRegion) handle() BlockAllocationHandle {
	return BlockAllocationHandle(r.offset + 1)
}

// FreeListBlockMetadata is a BlockMetadata implementation that keeps every region of the block in an
// offset-ordered list and merges neighboring free regions on free. It suits blocks holding a small number
// of large suballocations, such as command buffers and descriptor heaps.
//
// Handles are the region offset plus one, so they are stable for the lifetime of a suballocation.
type FreeListBlockMetadata struct {
	BlockMetadataBase

	first       *freeListRegion
	regions     *swiss.Map[BlockAllocationHandle, *freeListRegion]
	allocCount  int
	freeCount   int
	sumFreeSize int
}

var _ BlockMetadata = &FreeListBlockMetadata{}

func NewFreeListBlockMetadata() *FreeListBlockMetadata {
	return &FreeListBlockMetadata{}
}

func (m *FreeListBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.regions = swiss.NewMap[BlockAllocationHandle, *freeListRegion](16)
	m.reset()
}

func (m *FreeListBlockMetadata) reset() {
	m.regions.Clear()
	m.first = &freeListRegion{
		offset: 0,
		size:   m.Size(),
		free:   true,
	}
	m.regions.Put(m.first.handle(), m.first)
	m.allocCount = 0
	m.freeCount = 1
	m.sumFreeSize = m.Size()
}

func (m *FreeListBlockMetadata) AllocationCount() int  { return m.allocCount }
func (m *FreeListBlockMetadata) FreeRegionsCount() int { return m.freeCount }
func (m *FreeListBlockMetadata) SumFreeSize() int      { return m.sumFreeSize }
func (m *FreeListBlockMetadata) IsEmpty() bool         { return m.allocCount == 0 }

func (m *FreeListBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.sumFreeSize >= size
}

func (m *FreeListBlockMetadata) Validate() error {
	if m.first == nil {
		return errors.New("metadata has not been initialized")
	}
	if m.first.prevPhysical != nil {
		return errors.New("first region has a previous region")
	}

	nextOffset := 0
	allocCount := 0
	freeCount := 0
	sumFree := 0
	for region := m.first; region != nil; region = region.nextPhysical {
		if region.offset != nextOffset {
			return errors.Errorf("region at offset %d should be at offset %d", region.offset, nextOffset)
		}
		if region.size <= 0 {
			return errors.Errorf("region at offset %d has invalid size %d", region.offset, region.size)
		}
		if region.nextPhysical != nil && region.nextPhysical.prevPhysical != region {
			return errors.Errorf("region at offset %d is not linked back from its successor", region.offset)
		}

		mapped, ok := m.regions.Get(region.handle())
		if !ok || mapped != region {
			return errors.Errorf("region at offset %d is missing from the handle map", region.offset)
		}

		if region.free {
			if region.nextPhysical != nil && region.nextPhysical.free {
				return errors.Errorf("free region at offset %d was not merged with its successor", region.offset)
			}
			freeCount++
			sumFree += region.size
		} else {
			allocCount++
		}

		nextOffset += region.size
	}

	if nextOffset != m.Size() {
		return errors.Errorf("regions cover %d bytes but the block is %d bytes", nextOffset, m.Size())
	}
	if allocCount != m.allocCount {
		return errors.Errorf("allocation count is %d but %d allocations were found", m.allocCount, allocCount)
	}
	if freeCount != m.freeCount {
		return errors.Errorf("free region count is %d but %d free regions were found", m.freeCount, freeCount)
	}
	if sumFree != m.sumFreeSize {
		return errors.Errorf("free size is %d but %d free bytes were found", m.sumFreeSize, sumFree)
	}
	if m.regions.Count() != allocCount+freeCount {
		return errors.Errorf("handle map holds %d regions but %d exist", m.regions.Count(), allocCount+freeCount)
	}

	return nil
}

func (m *FreeListBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for region := m.first; region != nil; region = region.nextPhysical {
		err := handleBlock(region.handle(), region.offset, region.size, region.userData, region.free)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FreeListBlockMetadata) getAllocation(allocHandle BlockAllocationHandle) (*freeListRegion, error) {
	region, ok := m.regions.Get(allocHandle)
	if !ok {
		return nil, errors.Errorf("no region with handle %d exists in this block", allocHandle)
	}
	if region.free {
		return nil, errors.Errorf("region with handle %d is not allocated", allocHandle)
	}

	return region, nil
}

func (m *FreeListBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	region, err := m.getAllocation(allocHandle)
	if err != nil {
		return -1, err
	}

	return region.offset, nil
}

func (m *FreeListBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	region, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}

	return region.userData, nil
}

func (m *FreeListBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	region, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	region.userData = userData
	return nil
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.Size()

	for region := m.first; region != nil; region = region.nextPhysical {
		if region.free {
			stats.AddUnusedRange(region.size)
		} else {
			stats.AddAllocation(region.size)
		}
	}
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.Size()
	stats.AllocationBytes += m.Size() - m.sumFreeSize
}

func (m *FreeListBlockMetadata) Clear() {
	m.reset()
}

func (m *FreeListBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocCount, m.freeCount)

	regions := json.Name("Suballocations").Array()
	defer regions.End()

	for region := m.first; region != nil; region = region.nextPhysical {
		obj := regions.Object()
		obj.Name("Offset").Int(region.offset)
		obj.Name("Size").Int(region.size)
		if region.free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").Int(int(region.allocType))
		}
		obj.End()
	}
}

func (m *FreeListBlockMetadata) CheckCorruption(blockData []byte) error {
	for region := m.first; region != nil; region = region.nextPhysical {
		if region.free {
			continue
		}

		if !memutils.ValidateMagicValue(blockData, region.offset+region.size-memutils.DebugMargin) {
			return errors.Errorf("memory corruption detected after allocation at offset %d", region.offset)
		}
	}

	return nil
}

func (m *FreeListBlockMetadata) fits(region *freeListRegion, allocSize int, allocAlignment uint, maxOffset int) (int, bool) {
	if !region.free || region.size < allocSize {
		return 0, false
	}

	alignedOffset := memutils.AlignUp(region.offset, allocAlignment)
	end := alignedOffset + allocSize
	if end > region.offset+region.size || end > maxOffset {
		return 0, false
	}

	return alignedOffset, true
}

func (m *FreeListBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	allocType uint32,
	strategy AllocationStrategy,
	maxOffset int,
) (bool, AllocationRequest, error) {
	var request AllocationRequest
	if allocSize < 1 {
		return false, request, errors.Errorf("invalid allocation size %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, request, err
	}

	allocSize += memutils.DebugMargin
	if !m.MayHaveFreeBlock(allocSize) {
		return false, request, nil
	}

	var best *freeListRegion
	bestOffset := 0
	bestSize := math.MaxInt
	for region := m.first; region != nil; region = region.nextPhysical {
		offset, ok := m.fits(region, allocSize, allocAlignment, maxOffset)
		if !ok {
			continue
		}

		if strategy&AllocationStrategyMinMemory == 0 {
			// First fit is both the fastest and the lowest offset
			best = region
			bestOffset = offset
			break
		}

		if region.size < bestSize {
			best = region
			bestOffset = offset
			bestSize = region.size
		}
	}

	if best == nil {
		return false, request, nil
	}

	request.BlockAllocationHandle = BlockAllocationHandle(bestOffset + 1)
	request.Size = allocSize
	request.Item = Suballocation{
		Offset: bestOffset,
		Size:   allocSize,
		Type:   allocType,
	}
	request.Type = AllocationRequestFreeList
	request.AllocType = allocType
	request.AlgorithmData = uint64(best.offset)

	return true, request, nil
}

func (m *FreeListBlockMetadata) Alloc(request AllocationRequest, allocType uint32, userData any) error {
	if request.Type != AllocationRequestFreeList {
		return errors.Errorf("allocation request of type %s cannot be committed to a free list block", request.Type)
	}

	region, ok := m.regions.Get(BlockAllocationHandle(request.AlgorithmData + 1))
	if !ok || !region.free {
		return errors.Errorf("free region at offset %d no longer exists", request.AlgorithmData)
	}

	offset := request.Item.Offset
	if offset < region.offset || offset+request.Size > region.offset+region.size {
		return errors.Errorf("free region at offset %d can no longer hold %d bytes at offset %d",
			region.offset, request.Size, offset)
	}

	// Split off leading padding as its own free region
	if offset > region.offset {
		padding := &freeListRegion{
			offset:       region.offset,
			size:         offset - region.offset,
			free:         true,
			prevPhysical: region.prevPhysical,
			nextPhysical: region,
		}
		if padding.prevPhysical != nil {
			padding.prevPhysical.nextPhysical = padding
		} else {
			m.first = padding
		}

		m.regions.Delete(region.handle())
		region.prevPhysical = padding
		region.size -= padding.size
		region.offset = offset
		m.regions.Put(padding.handle(), padding)
		m.regions.Put(region.handle(), region)
		m.freeCount++
	}

	// Split off the trailing remainder
	if region.size > request.Size {
		remainder := &freeListRegion{
			offset:       region.offset + request.Size,
			size:         region.size - request.Size,
			free:         true,
			prevPhysical: region,
			nextPhysical: region.nextPhysical,
		}
		if remainder.nextPhysical != nil {
			remainder.nextPhysical.prevPhysical = remainder
		}
		region.nextPhysical = remainder
		region.size = request.Size
		m.regions.Put(remainder.handle(), remainder)
		m.freeCount++
	}

	region.free = false
	region.allocType = allocType
	region.userData = userData
	m.freeCount--
	m.allocCount++
	m.sumFreeSize -= request.Size

	return nil
}

func (m *FreeListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	region, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	region.free = true
	region.userData = nil
	region.allocType = 0
	m.allocCount--
	m.freeCount++
	m.sumFreeSize += region.size

	if next := region.nextPhysical; next != nil && next.free {
		m.mergeWithNext(region)
	}
	if prev := region.prevPhysical; prev != nil && prev.free {
		m.mergeWithNext(prev)
	}

	return nil
}

// mergeWithNext absorbs region's successor into region; both must be free
func (m *FreeListBlockMetadata) mergeWithNext(region *freeListRegion) {
	next := region.nextPhysical
	m.regions.Delete(next.handle())

	region.size += next.size
	region.nextPhysical = next.nextPhysical
	if region.nextPhysical != nil {
		region.nextPhysical.prevPhysical = region
	}
	m.freeCount--
}

package metadata_test

import (
	"math"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/memutils/metadata"
)

func allocate(t *testing.T, md metadata.BlockMetadata, size int, alignment uint, strategy metadata.AllocationStrategy) metadata.BlockAllocationHandle {
	success, request, err := md.CreateAllocationRequest(size, alignment, 1, strategy, math.MaxInt)
	require.NoError(t, err)
	require.True(t, success)

	handle := request.BlockAllocationHandle
	require.NoError(t, md.Alloc(request, 1, &handle))
	require.NoError(t, md.Validate())
	return handle
}

func TestFreeListAlloc(t *testing.T) {
	freeList := metadata.NewFreeListBlockMetadata()
	freeList.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	freeList.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	alloc1 := allocate(t, freeList, 100, 1, metadata.AllocationStrategyMinTime)
	alloc2 := allocate(t, freeList, 50, 1, metadata.AllocationStrategyMinTime)
	alloc3 := allocate(t, freeList, 25, 64, metadata.AllocationStrategyMinTime)

	offset, err := freeList.AllocationOffset(alloc3)
	require.NoError(t, err)
	require.Equal(t, 192, offset)

	stats.Clear()
	freeList.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 3,
			AllocationBytes: 175,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  25,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 42,
		UnusedRangeSizeMax: 783,
	}, stats)

	require.NoError(t, freeList.Free(alloc2))
	require.NoError(t, freeList.Validate())
	// The freed range merges with the alignment padding that followed it
	require.Equal(t, 2, freeList.FreeRegionsCount())

	require.NoError(t, freeList.Free(alloc1))
	require.NoError(t, freeList.Free(alloc3))
	require.NoError(t, freeList.Validate())
	require.True(t, freeList.IsEmpty())
	require.Equal(t, 1, freeList.FreeRegionsCount())
	require.Equal(t, 1000, freeList.SumFreeSize())
}

func TestFreeListMinMemoryPicksSmallestRegion(t *testing.T) {
	freeList := metadata.NewFreeListBlockMetadata()
	freeList.Init(1000)

	a := allocate(t, freeList, 300, 1, metadata.AllocationStrategyMinTime)
	allocate(t, freeList, 100, 1, metadata.AllocationStrategyMinTime)
	c := allocate(t, freeList, 50, 1, metadata.AllocationStrategyMinTime)
	allocate(t, freeList, 100, 1, metadata.AllocationStrategyMinTime)

	require.NoError(t, freeList.Free(a))
	require.NoError(t, freeList.Free(c))

	// Free regions: [0,300) [400,450) [550,1000)
	handle := allocate(t, freeList, 40, 1, metadata.AllocationStrategyMinMemory)
	offset, err := freeList.AllocationOffset(handle)
	require.NoError(t, err)
	require.Equal(t, 400, offset)

	handle = allocate(t, freeList, 40, 1, metadata.AllocationStrategyMinOffset)
	offset, err = freeList.AllocationOffset(handle)
	require.NoError(t, err)
	require.Equal(t, 0, offset)
}

func TestFreeListExhausted(t *testing.T) {
	freeList := metadata.NewFreeListBlockMetadata()
	freeList.Init(256)

	allocate(t, freeList, 200, 1, metadata.AllocationStrategyMinTime)

	success, _, err := freeList.CreateAllocationRequest(100, 1, 1, metadata.AllocationStrategyMinTime, math.MaxInt)
	require.NoError(t, err)
	require.False(t, success)

	success, _, err = freeList.CreateAllocationRequest(50, 1, 1, metadata.AllocationStrategyMinTime, 220)
	require.NoError(t, err)
	require.False(t, success)

	_, _, err = freeList.CreateAllocationRequest(16, 3, 1, metadata.AllocationStrategyMinTime, math.MaxInt)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestFreeListUserDataAndClear(t *testing.T) {
	freeList := metadata.NewFreeListBlockMetadata()
	freeList.Init(512)

	handle := allocate(t, freeList, 128, 1, metadata.AllocationStrategyMinTime)
	require.NoError(t, freeList.SetAllocationUserData(handle, "commands"))

	userData, err := freeList.AllocationUserData(handle)
	require.NoError(t, err)
	require.Equal(t, "commands", userData)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	freeList.BlockJsonData(&obj)
	obj.End()
	require.NoError(t, writer.Error())
	require.JSONEq(t, `{"TotalBytes":512,"UnusedBytes":384,"Allocations":1,"UnusedRanges":1,
		"Suballocations":[{"Offset":0,"Size":128,"Type":1},{"Offset":128,"Size":384,"Type":"FREE"}]}`, string(writer.Bytes()))

	freeList.Clear()
	require.NoError(t, freeList.Validate())
	require.True(t, freeList.IsEmpty())

	_, err = freeList.AllocationOffset(handle)
	require.Error(t, err)
	require.Error(t, freeList.Free(handle))
}

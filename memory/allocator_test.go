package memory

import (
	"io"
	"strings"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/memutils"
	"golang.org/x/exp/slog"
)

func readyManager(t *testing.T, options CreateOptions) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	manager, err := New(logger, options)
	require.NoError(t, err)
	return manager
}

func TestAllocateDefaultPlacement(t *testing.T) {
	testCases := map[string]struct {
		Type              AllocationType
		ExpectedPool      MemoryPool
		ExpectedAlignment uint64
	}{
		"CommandBuffer": {AllocationTypeCommandBuffer, PoolSystem, 4096},
		"Heap":          {AllocationTypeInternalHeap, PoolDevice, 4096},
		"Buffer":        {AllocationTypeBuffer, PoolDevice, 64},
		"Image":         {AllocationTypeImage, PoolDevice, 65536},
		"Counter":       {AllocationTypeCounter, PoolDevice, 64},
		"EventPool":     {AllocationTypeEventPool, PoolSystem, 64},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager := readyManager(t, CreateOptions{PreferredBlockSize: 1 << 20})

			// Offset the next allocation so alignment is actually exercised
			first, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeUnknown, Size: 3, Pool: testCase.ExpectedPool})
			require.NoError(t, err)

			alloc, res, err := manager.Allocate(AllocationProperties{Type: testCase.Type, Size: 100})
			require.NoError(t, err)
			require.Equal(t, core1_0.VKSuccess, res)
			require.Equal(t, testCase.ExpectedPool, alloc.Pool())
			require.Zero(t, alloc.GPUAddress()%testCase.ExpectedAlignment)
			require.Len(t, alloc.Data(), 100)
			require.NoError(t, manager.Validate())

			require.NoError(t, manager.Free(alloc))
			require.NoError(t, manager.Free(first))
			require.NoError(t, manager.Destroy())
		})
	}
}

func TestAllocateResolveRoundTrip(t *testing.T) {
	manager := readyManager(t, CreateOptions{PreferredBlockSize: 1 << 16})

	alloc, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 256, Name: "payload"})
	require.NoError(t, err)

	copy(alloc.Data(), "hello")

	data, err := manager.Resolve(alloc.GPUAddress()+1, 4)
	require.NoError(t, err)
	require.Equal(t, "ello", string(data))

	found, ok := manager.FindAllocation(alloc.GPUAddress() + 255)
	require.True(t, ok)
	require.Same(t, alloc, found)

	_, ok = manager.FindAllocation(alloc.GPUAddress() + 256)
	require.False(t, ok)

	_, err = manager.Resolve(0x10, 4)
	require.Error(t, err)

	require.NoError(t, manager.Free(alloc))
	require.Error(t, manager.Free(alloc))
	require.NoError(t, manager.Destroy())
}

func TestAllocateRecycledMemoryIsZeroed(t *testing.T) {
	manager := readyManager(t, CreateOptions{PreferredBlockSize: 1 << 16})

	alloc, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64})
	require.NoError(t, err)
	for i := range alloc.Data() {
		alloc.Data()[i] = 0xff
	}
	address := alloc.GPUAddress()
	require.NoError(t, manager.Free(alloc))

	alloc, _, err = manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64})
	require.NoError(t, err)
	require.Equal(t, address, alloc.GPUAddress())
	require.Equal(t, make([]byte, 64), alloc.Data())

	require.NoError(t, manager.Free(alloc))
	require.NoError(t, manager.Destroy())
}

func TestAllocateHeapLimit(t *testing.T) {
	manager := readyManager(t, CreateOptions{
		PreferredBlockSize:  1 << 12,
		DeviceHeapSizeLimit: 1 << 13,
	})

	a, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 4000, Flags: AllocationDedicated})
	require.NoError(t, err)
	b, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 4000, Flags: AllocationDedicated})
	require.NoError(t, err)

	_, res, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 4000, Flags: AllocationDedicated})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	require.NoError(t, manager.Free(a))

	c, res, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 4000, Flags: AllocationDedicated})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	require.NoError(t, manager.Free(b))
	require.NoError(t, manager.Free(c))
	require.Equal(t, 0, manager.LiveAllocationCount())
	require.NoError(t, manager.Destroy())
}

func TestAllocateNeverAllocate(t *testing.T) {
	manager := readyManager(t, CreateOptions{PreferredBlockSize: 1 << 12})

	_, res, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64, Flags: AllocationNeverAllocate})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	first, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64})
	require.NoError(t, err)

	second, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64, Flags: AllocationNeverAllocate})
	require.NoError(t, err)
	require.Equal(t, first.GPUAddress()+64, second.GPUAddress())

	require.NoError(t, manager.Free(first))
	require.NoError(t, manager.Free(second))
	require.NoError(t, manager.Destroy())
}

func TestDestroyWithLiveAllocations(t *testing.T) {
	manager := readyManager(t, CreateOptions{})

	alloc, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeCounter, Size: 8, Name: "leak"})
	require.NoError(t, err)
	require.Error(t, manager.Destroy())

	require.NoError(t, manager.Free(alloc))
	require.NoError(t, manager.Destroy())
}

func TestSetMemAdvice(t *testing.T) {
	manager := readyManager(t, CreateOptions{})

	device, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64})
	require.NoError(t, err)
	system, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeBuffer, Size: 64, Pool: PoolSystem})
	require.NoError(t, err)

	res, err := manager.SetMemAdvice(device, MemAdviceSetReadMostly)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, MemAdviceSetReadMostly, device.Advice())

	res, err = manager.SetMemAdvice(system, MemAdviceSetReadMostly)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorFeatureNotPresent, res)
	require.Equal(t, MemAdviceNone, system.Advice())

	require.NoError(t, manager.Free(device))
	require.NoError(t, manager.Free(system))
	require.NoError(t, manager.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	manager := readyManager(t, CreateOptions{PreferredBlockSize: 1 << 12})

	alloc, _, err := manager.Allocate(AllocationProperties{Type: AllocationTypeImage, Size: 512, Flags: AllocationCompressible, Name: "surface"})
	require.NoError(t, err)
	require.True(t, alloc.IsCompressible())

	var stats memutils.DetailedStatistics
	manager.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 512, stats.AllocationBytes)

	writer := jwriter.NewWriter()
	manager.BuildStatsString(&writer, true)
	require.NoError(t, writer.Error())

	out := string(writer.Bytes())
	require.True(t, strings.Contains(out, `"Name":"surface"`), out)
	require.True(t, strings.Contains(out, `"Flags":"AllocationCompressible"`), out)

	require.NoError(t, manager.Free(alloc))
	require.NoError(t, manager.Destroy())
}

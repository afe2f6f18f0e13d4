package cmdlist

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/blit"
	"github.com/vkngwrapper/dispatch/cmdqueue"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/config"
	"github.com/vkngwrapper/dispatch/csr"
	"github.com/vkngwrapper/dispatch/event"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

type fixture struct {
	manager *memory.Manager
	backend *csr.Simulated
}

func newFixture(t *testing.T, options csr.SimulatedOptions) *fixture {
	manager, err := memory.New(testLogger(), memory.CreateOptions{})
	require.NoError(t, err)

	backend, _, err := csr.NewSimulated(testLogger(), manager, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, backend.Destroy())
		require.NoError(t, manager.Destroy())
	})
	return &fixture{manager: manager, backend: backend}
}

func (f *fixture) allocate(t *testing.T, allocType memory.AllocationType, pool memory.MemoryPool, size int) *memory.GraphicsAllocation {
	alloc, _, err := f.manager.Allocate(memory.AllocationProperties{Type: allocType, Pool: pool, Size: size})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.manager.Free(alloc))
	})
	return alloc
}

func (f *fixture) buffer(t *testing.T, size int) *memory.GraphicsAllocation {
	return f.allocate(t, memory.AllocationTypeBuffer, memory.PoolDefault, size)
}

func (f *fixture) kernel(t *testing.T, name string) *Kernel {
	return &Kernel{
		Name:            name,
		ISA:             f.allocate(t, memory.AllocationTypeKernelISA, memory.PoolDefault, 4096),
		Arguments:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
		ThreadGroupSize: 32,
	}
}

func (f *fixture) events(t *testing.T, count int) []*event.Event {
	pool, _, err := event.NewPool(testLogger(), f.manager, event.PoolOptions{Count: count})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pool.Destroy())
	})

	events := make([]*event.Event, count)
	for i := range events {
		events[i], err = pool.Event(i)
		require.NoError(t, err)
	}
	return events
}

func (f *fixture) list(t *testing.T, family hwinfo.ProductFamily, options CreateOptions) *CommandList {
	if options.Backend == nil {
		options.Backend = f.backend
	}

	l, res, err := New(testLogger(), family, f.manager, options)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	t.Cleanup(func() {
		require.NoError(t, l.Destroy())
	})
	return l
}

func (f *fixture) queue(t *testing.T, family hwinfo.ProductFamily, options cmdqueue.CreateOptions) *cmdqueue.Queue {
	caps, _ := hwinfo.Lookup(family)
	q, _, err := cmdqueue.New(testLogger(), f.backend, f.manager, caps, options)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, q.Destroy())
	})
	return q
}

func recorded(t *testing.T, l *CommandList) []cmds.Command {
	commands, err := cmds.Decode(l.Container().Stream())
	require.NoError(t, err)
	return commands
}

func TestCopyListRecordsSingleBlit(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	src := f.buffer(t, 4096)
	dst := f.buffer(t, 4096)
	copy(src.Data(), "copy me ok")

	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{Engine: EngineCopy})
	res, err := l.AppendMemoryCopy(blit.AllocationEndpoint(dst, 0), blit.AllocationEndpoint(src, 0), 10, nil)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	res, err = l.Close()
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	commands := recorded(t, l)
	require.Equal(t, 1, cmds.Count(commands, cmds.OpcodeXYCopyBlt))
	require.Equal(t, 1, cmds.Count(commands, cmds.OpcodeArbCheck))
	require.Equal(t, 0, cmds.Count(commands, cmds.OpcodePipeControl))
	require.Equal(t, 0, cmds.Count(commands, cmds.OpcodeStateBaseAddress))

	q := f.queue(t, hwinfo.ProductFamilyBaseline, cmdqueue.CreateOptions{CopyOnly: true, Synchronous: true})
	res, err = q.ExecuteCommandLists(l)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, "copy me ok", string(dst.Data()[:10]))
}

func TestMemoryFillSplitsAtBlitLimits(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	dst := f.allocate(t, memory.AllocationTypeBuffer, memory.PoolDevice, 4096)

	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{
		Type:   ListTypeImmediate,
		Engine: EngineCopy,
		Mode:   SyncModeSynchronous,
		Config: config.EncoderConfig{MaxBlitWidth: 50, MaxBlitHeight: 60},
	})
	res, err := l.AppendMemoryFill(blit.AllocationEndpoint(dst, 0), []byte{0xab}, 4096, nil)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	require.Equal(t, 3, cmds.Count(recorded(t, l), cmds.OpcodeXYColorBlt))
	require.Zero(t, cmds.Count(recorded(t, l), cmds.OpcodeMemSet))
	for i := 0; i < 4096; i++ {
		require.Equal(t, byte(0xab), dst.Data()[i])
	}
}

func TestSynchronousBarrierCompletesBeforeReturn(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{
		Type:    ListTypeImmediate,
		InOrder: true,
		Mode:    SyncModeSynchronous,
	})

	res, err := l.AppendBarrier(nil)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	res, err = l.HostSynchronize(0)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	info := l.InOrderExecInfo()
	require.Equal(t, uint64(1), info.CounterValue())
	require.Equal(t, uint64(1), info.HostCounterValue())
	require.True(t, info.IsCounterAlreadyDone(1))
}

func TestInOrderKernelsUseRelaxedOrdering(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{RelaxedOrdering: true})
	l := f.list(t, hwinfo.ProductFamilyDiscrete, CreateOptions{
		Type:    ListTypeImmediate,
		InOrder: true,
	})

	for _, name := range []string{"first", "second"} {
		res, err := l.AppendLaunchKernel(f.kernel(t, name), GroupCount{X: 4, Y: 1, Z: 1}, nil)
		require.NoError(t, err)
		require.Equal(t, result.Success, res)
	}
	require.True(t, l.HasRelaxedOrderingDependencies())

	info := l.InOrderExecInfo()
	commands := recorded(t, l)
	require.Equal(t, 0, cmds.Count(commands, cmds.OpcodeSemaphoreWait))

	polled := false
	for _, command := range cmds.Filter(commands, cmds.OpcodeLoadRegisterMem) {
		if command.(*cmds.LoadRegisterMem).Address == info.DeviceAddress() {
			polled = true
		}
	}
	require.True(t, polled)

	res, err := l.HostSynchronize(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, uint64(2), info.HostCounterValue())
}

func TestInOrderKernelsWaitWithoutRelaxedOrdering(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	l := f.list(t, hwinfo.ProductFamilyDiscrete, CreateOptions{
		Type:    ListTypeImmediate,
		InOrder: true,
	})

	for _, name := range []string{"first", "second"} {
		_, err := l.AppendLaunchKernel(f.kernel(t, name), GroupCount{X: 1, Y: 1, Z: 1}, nil)
		require.NoError(t, err)
	}
	require.False(t, l.HasRelaxedOrderingDependencies())

	waits := cmds.Filter(recorded(t, l), cmds.OpcodeSemaphoreWait)
	require.Len(t, waits, 1)
	require.Equal(t, l.InOrderExecInfo().DeviceAddress(), waits[0].(*cmds.SemaphoreWait).Address)
	require.Equal(t, uint64(1), waits[0].(*cmds.SemaphoreWait).Value)

	res, err := l.HostSynchronize(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
}

func TestRegularInOrderListIsPatchedPerExecution(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{InOrder: true})

	for _, name := range []string{"first", "second"} {
		_, err := l.AppendLaunchKernel(f.kernel(t, name), GroupCount{X: 2, Y: 2, Z: 1}, nil)
		require.NoError(t, err)
	}
	_, err := l.Close()
	require.NoError(t, err)
	require.NotEmpty(t, l.PatchList())

	// The first dispatch's state is left to the queue
	commands := recorded(t, l)
	require.Equal(t, 0, cmds.Count(commands, cmds.OpcodePipelineSelect))
	require.Equal(t, 0, cmds.Count(commands, cmds.OpcodeStateBaseAddress))
	require.True(t, l.RequiredState().Pipeline.Set)
	require.True(t, l.RequiredState().StateBase.Set)

	q := f.queue(t, hwinfo.ProductFamilyBaseline, cmdqueue.CreateOptions{Synchronous: true})
	info := l.InOrderExecInfo()

	res, err := q.ExecuteCommandLists(l)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, uint64(2), info.HostCounterValue())

	res, err = q.ExecuteCommandLists(l)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, uint64(4), info.HostCounterValue())
	require.Equal(t, uint64(4), info.SubmittedCounterValue())
	require.True(t, info.IsCounterAlreadyDone(4))
}

func TestResetReproducesRecording(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	src := f.buffer(t, 4096)
	dst := f.buffer(t, 4096)
	kernel := f.kernel(t, "kernel")
	events := f.events(t, 2)

	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{InOrder: true})
	record := func() []byte {
		_, err := l.AppendMemoryCopy(blit.AllocationEndpoint(dst, 0), blit.AllocationEndpoint(src, 0), 256, events[0])
		require.NoError(t, err)
		_, err = l.AppendLaunchKernel(kernel, GroupCount{X: 1, Y: 1, Z: 1}, events[1], events[0])
		require.NoError(t, err)
		_, err = l.AppendBarrier(nil)
		require.NoError(t, err)
		_, err = l.Close()
		require.NoError(t, err)
		return l.Container().Stream()
	}

	first := record()
	patches := len(l.PatchList())

	res, err := l.Reset()
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.False(t, l.IsClosed())
	require.Empty(t, l.PatchList())
	require.Equal(t, uint64(0), l.InOrderExecInfo().CounterValue())

	require.Equal(t, first, record())
	require.Len(t, l.PatchList(), patches)
}

func TestListStateMachine(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	src := f.buffer(t, 4096)
	dst := f.buffer(t, 4096)

	l, _, err := New(testLogger(), hwinfo.ProductFamilyBaseline, f.manager, CreateOptions{})
	require.NoError(t, err)

	res, err := l.Close()
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	recordedBytes := l.Container().RecordedBytes()

	res, err = l.Close()
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, recordedBytes, l.Container().RecordedBytes())

	res, err = l.AppendMemoryCopy(blit.AllocationEndpoint(dst, 0), blit.AllocationEndpoint(src, 0), 16, nil)
	require.Error(t, err)
	require.Equal(t, result.NotReady, res)

	res, err = l.HostSynchronize(0)
	require.Error(t, err)
	require.Equal(t, result.ErrorUnsupportedFeature, res)

	require.NoError(t, l.Destroy())
	require.NoError(t, l.Destroy())

	res, err = l.Close()
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)

	res, err = l.AppendBarrier(nil)
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)

	res, err = l.Reset()
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)
}

func TestNewRejectsUnsupportedFamilies(t *testing.T) {
	testCases := map[string]struct {
		family hwinfo.ProductFamily
	}{
		"Unknown": {family: hwinfo.ProductFamilyUnknown},
		"Legacy":  {family: hwinfo.ProductFamilyLegacy},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, csr.SimulatedOptions{})

			l, res, err := New(testLogger(), testCase.family, f.manager, CreateOptions{})
			require.Error(t, err)
			require.Nil(t, l)
			require.Equal(t, result.ErrorUninitialized, res)
		})
	}
}

func TestNewImmediateRequiresBackend(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})

	l, res, err := New(testLogger(), hwinfo.ProductFamilyBaseline, f.manager, CreateOptions{Type: ListTypeImmediate})
	require.Error(t, err)
	require.Nil(t, l)
	require.Equal(t, result.ErrorInvalidArgument, res)
}

func TestAppendLaunchKernelValidation(t *testing.T) {
	testCases := map[string]struct {
		engine EngineGroup
		modify func(kernel *Kernel, groups *GroupCount)
	}{
		"CopyEngine": {
			engine: EngineCopy,
			modify: func(kernel *Kernel, groups *GroupCount) {},
		},
		"NoInstructions": {
			modify: func(kernel *Kernel, groups *GroupCount) { kernel.ISA = nil },
		},
		"EmptyThreadGroup": {
			modify: func(kernel *Kernel, groups *GroupCount) { kernel.ThreadGroupSize = 0 },
		},
		"UnalignedArguments": {
			modify: func(kernel *Kernel, groups *GroupCount) { kernel.Arguments = []byte{1, 2, 3} },
		},
		"ZeroGroups": {
			modify: func(kernel *Kernel, groups *GroupCount) { groups.Y = 0 },
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, csr.SimulatedOptions{})
			l := f.list(t, hwinfo.ProductFamilyDiscrete, CreateOptions{Engine: testCase.engine, InOrder: true})

			kernel := f.kernel(t, name)
			groups := GroupCount{X: 1, Y: 1, Z: 1}
			testCase.modify(kernel, &groups)

			res, err := l.AppendLaunchKernel(kernel, groups, nil)
			require.Error(t, err)
			require.Equal(t, result.ErrorInvalidArgument, res)
			require.Equal(t, 0, l.Container().RecordedBytes())
			require.Equal(t, uint64(0), l.InOrderExecInfo().CounterValue())
		})
	}
}

func TestAppendMemoryCopyRejectsOverlap(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	buffer := f.buffer(t, 4096)
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{Engine: EngineCopy})

	res, err := l.AppendMemoryCopy(blit.AllocationEndpoint(buffer, 64), blit.AllocationEndpoint(buffer, 0), 128, nil)
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)
	require.Equal(t, 0, l.Container().RecordedBytes())
}

func TestAppendRejectsNilEvents(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{})

	res, err := l.AppendBarrier(nil, nil)
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)

	res, err = l.AppendSignalEvent(nil)
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, res)
}

func TestAppendWaitOnEvents(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	events := f.events(t, 2)
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{InOrder: true})

	res, err := l.AppendWaitOnEvents(events...)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	waits := cmds.Filter(recorded(t, l), cmds.OpcodeSemaphoreWait)
	require.Len(t, waits, 2)
	for i, wait := range waits {
		require.Equal(t, events[i].GPUAddress(), wait.(*cmds.SemaphoreWait).Address)
		require.Equal(t, event.StateSignaled, wait.(*cmds.SemaphoreWait).Value)
	}
	require.Equal(t, uint64(0), l.InOrderExecInfo().CounterValue())
	require.True(t, l.Container().Residency().Contains(events[0].Allocation()))
}

func TestImmediateEventSignalAndReset(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	ev := f.events(t, 1)[0]
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{
		Type: ListTypeImmediate,
		Mode: SyncModeSynchronous,
	})

	res, err := l.AppendSignalEvent(ev)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, result.Success, ev.QueryStatus())

	res, err = l.AppendEventReset(ev)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, result.NotReady, ev.QueryStatus())
}

func TestSharedInOrderCounter(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	first := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{InOrder: true})
	shared := first.InOrderExecInfo()

	second := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{InOrder: true, SharedInOrderInfo: shared})
	require.Same(t, shared, second.InOrderExecInfo())
	require.Equal(t, 2, shared.References())

	// A reset list stops sharing a counter another list still holds
	_, err := second.Reset()
	require.NoError(t, err)
	require.NotSame(t, shared, second.InOrderExecInfo())
	require.Equal(t, 1, shared.References())

	immediate := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{Type: ListTypeImmediate, InOrder: true, SharedInOrderInfo: shared})
	require.NotSame(t, shared, immediate.InOrderExecInfo())
}

func TestAppendMemAdvise(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{})
	device := f.allocate(t, memory.AllocationTypeBuffer, memory.PoolDevice, 4096)
	system := f.allocate(t, memory.AllocationTypeBuffer, memory.PoolSystem, 4096)
	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{})

	res, err := l.AppendMemAdvise(device, memory.MemAdviceSetReadMostly)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, memory.MemAdviceSetReadMostly, device.Advice())

	res, err = l.AppendMemAdvise(system, memory.MemAdviceSetReadMostly)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	require.Equal(t, memory.MemAdviceNone, system.Advice())

	require.Equal(t, 0, l.Container().RecordedBytes())
}

func TestEngineGroupString(t *testing.T) {
	require.Equal(t, "Copy", EngineCopy.String())
	require.Equal(t, "Immediate", ListTypeImmediate.String())
	require.Equal(t, "EngineGroup(9)", EngineGroup(9).String())
}

// failingAllocator runs out of command buffer memory while failCommandBuffers is set
type failingAllocator struct {
	memory.Allocator
	failCommandBuffers bool
}

func (a *failingAllocator) Allocate(props memory.AllocationProperties) (*memory.GraphicsAllocation, common.VkResult, error) {
	if a.failCommandBuffers && props.Type == memory.AllocationTypeCommandBuffer {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}
	return a.Allocator.Allocate(props)
}

func TestFailedAppendLeavesListUnchanged(t *testing.T) {
	testCases := map[string]struct {
		Family hwinfo.ProductFamily
		Append func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error)
	}{
		"LaunchKernel": {
			Family: hwinfo.ProductFamilyBaseline,
			Append: func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error) {
				kernel := f.kernel(t, "kernel")
				return func(l *CommandList) (result.Result, error) {
					return l.AppendLaunchKernel(kernel, GroupCount{X: 1, Y: 1, Z: 1}, nil)
				}
			},
		},
		"LaunchKernelMultiTile": {
			Family: hwinfo.ProductFamilyDiscreteMultiTile,
			Append: func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error) {
				kernel := f.kernel(t, "kernel")
				return func(l *CommandList) (result.Result, error) {
					return l.AppendLaunchKernel(kernel, GroupCount{X: 2, Y: 1, Z: 1}, nil)
				}
			},
		},
		"MemoryFill": {
			Family: hwinfo.ProductFamilyBaseline,
			Append: func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error) {
				dst := f.buffer(t, 4096)
				return func(l *CommandList) (result.Result, error) {
					return l.AppendMemoryFill(blit.AllocationEndpoint(dst, 0), []byte{1, 2, 3, 4}, 4096, nil)
				}
			},
		},
		"BarrierWithSignal": {
			Family: hwinfo.ProductFamilyBaseline,
			Append: func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error) {
				ev := f.events(t, 1)[0]
				return func(l *CommandList) (result.Result, error) {
					return l.AppendBarrier(ev)
				}
			},
		},
		"EventReset": {
			Family: hwinfo.ProductFamilyBaseline,
			Append: func(t *testing.T, f *fixture) func(l *CommandList) (result.Result, error) {
				ev := f.events(t, 1)[0]
				return func(l *CommandList) (result.Result, error) {
					return l.AppendEventReset(ev)
				}
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, csr.SimulatedOptions{HangTimeout: 5 * time.Second})
			appendOnce := testCase.Append(t, f)

			allocator := &failingAllocator{Allocator: f.manager}
			l, _, err := New(testLogger(), testCase.Family, allocator, CreateOptions{
				InOrder: true,
				Backend: f.backend,
				Config:  config.EncoderConfig{CommandBufferSize: 4096},
			})
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, l.Destroy())
			})
			info := l.InOrderExecInfo()

			allocator.failCommandBuffers = true
			failed := false
			for i := 0; i < 1000 && !failed; i++ {
				location := l.Container().CurrentLocation()
				stream := l.Container().Stream()
				residency := l.Container().Residency().Len()
				counter := info.CounterValue()
				patches := len(l.PatchList())
				final := l.FinalState()

				res, err := appendOnce(l)
				if err == nil {
					continue
				}
				failed = true

				require.Equal(t, result.ErrorOutOfDeviceMemory, res)
				require.Equal(t, location, l.Container().CurrentLocation())
				require.Equal(t, stream, l.Container().Stream())
				require.Equal(t, residency, l.Container().Residency().Len())
				require.Equal(t, counter, info.CounterValue())
				require.Len(t, l.PatchList(), patches)
				require.Equal(t, final, l.FinalState())
				require.Len(t, l.Container().Chain(), 1)
			}
			require.True(t, failed)

			// Once memory is back the list records and executes without waiting on a lost signal
			allocator.failCommandBuffers = false
			res, err := appendOnce(l)
			require.NoError(t, err)
			require.Equal(t, result.Success, res)
			_, err = l.Close()
			require.NoError(t, err)

			q := f.queue(t, testCase.Family, cmdqueue.CreateOptions{Synchronous: true})
			res, err = q.ExecuteCommandLists(l)
			require.NoError(t, err)
			require.Equal(t, result.Success, res)
			require.Equal(t, info.CounterValue(), info.HostCounterValue())
		})
	}
}

func TestForceImmediateSynchronous(t *testing.T) {
	testCases := map[string]struct {
		Force            bool
		ExpectedObserved bool
	}{
		"Forced":       {Force: true, ExpectedObserved: true},
		"Asynchronous": {Force: false, ExpectedObserved: false},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, csr.SimulatedOptions{})
			dst := f.allocate(t, memory.AllocationTypeBuffer, memory.PoolDevice, 4096)

			l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{
				Type:    ListTypeImmediate,
				InOrder: true,
				Mode:    SyncModeAsynchronous,
				Config:  config.EncoderConfig{ForceImmediateSynchronous: testCase.Force},
			})
			res, err := l.AppendMemoryFill(blit.AllocationEndpoint(dst, 0), []byte{0x5a}, 4096, nil)
			require.NoError(t, err)
			require.Equal(t, result.Success, res)

			// Only a synchronous submission records the counter as observed by the host
			require.Equal(t, testCase.ExpectedObserved, l.InOrderExecInfo().IsCounterAlreadyDone(1))
			if testCase.Force {
				require.GreaterOrEqual(t, f.backend.CompletedStamp(), l.Queue().LastStamp())
				require.Equal(t, byte(0x5a), dst.Data()[4095])
			}

			res, err = l.HostSynchronize(5 * time.Second)
			require.NoError(t, err)
			require.Equal(t, result.Success, res)
			require.True(t, l.InOrderExecInfo().IsCounterAlreadyDone(1))
		})
	}
}

func TestImmediateDeviceLostIsSticky(t *testing.T) {
	f := newFixture(t, csr.SimulatedOptions{HangTimeout: 50 * time.Millisecond})
	never := f.events(t, 1)[0]
	dst := f.buffer(t, 4096)

	l := f.list(t, hwinfo.ProductFamilyBaseline, CreateOptions{
		Type: ListTypeImmediate,
		Mode: SyncModeSynchronous,
	})

	res, err := l.AppendWaitOnEvents(never)
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)
	require.True(t, l.Queue().IsDeviceLost())

	fill := func() (result.Result, error) {
		return l.AppendMemoryFill(blit.AllocationEndpoint(dst, 0), []byte{1}, 64, nil)
	}

	res, err = fill()
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)

	res, err = l.Queue().ExecuteImmediate(l, cmdqueue.ImmediateChunk{StartAddress: l.Container().StartAddress()})
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)

	res, err = l.HostSynchronize(0)
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)

	// Reset discards the recording but the device stays lost
	res, err = l.Reset()
	require.NoError(t, err)
	require.Equal(t, result.Success, res)

	res, err = fill()
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)
}

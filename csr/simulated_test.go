package csr

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/relaxed"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

type fixture struct {
	manager *memory.Manager
	backend *Simulated
}

func newFixture(t *testing.T, options SimulatedOptions) *fixture {
	manager, err := memory.New(testLogger(), memory.CreateOptions{})
	require.NoError(t, err)

	backend, _, err := NewSimulated(testLogger(), manager, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, backend.Destroy())
		require.NoError(t, manager.Destroy())
	})
	return &fixture{manager: manager, backend: backend}
}

func (f *fixture) allocate(t *testing.T, allocType memory.AllocationType, size int) *memory.GraphicsAllocation {
	alloc, _, err := f.manager.Allocate(memory.AllocationProperties{Type: allocType, Size: size})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.manager.Free(alloc))
	})
	return alloc
}

// batch records commands followed by a batch end
func (f *fixture) batch(t *testing.T, commands ...cmds.Command) *memory.GraphicsAllocation {
	commands = append(commands, &cmds.BatchBufferEnd{})
	alloc := f.allocate(t, memory.AllocationTypeCommandBuffer, memutils.AlignUp(cmds.TotalSize(commands...), 4096))
	cmds.EncodeAll(alloc.Data(), commands...)
	return alloc
}

func (f *fixture) flush(t *testing.T, batch *memory.GraphicsAllocation, residency ...*memory.GraphicsAllocation) uint64 {
	stamp, res, err := f.backend.Flush(Submission{
		StartAddress: batch.GPUAddress(),
		Residency:    append(residency, batch),
	})
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
	return stamp
}

func (f *fixture) wait(t *testing.T, stamp uint64) {
	status, err := f.backend.WaitForCompletion(stamp, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, WaitSuccess, status)
}

func TestSimulatedExecutesMemoryCommands(t *testing.T) {
	f := newFixture(t, SimulatedOptions{})
	src := f.allocate(t, memory.AllocationTypeBuffer, 4096)
	dst := f.allocate(t, memory.AllocationTypeBuffer, 4096)
	for i := 0; i < 64; i++ {
		src.Data()[i] = byte(i)
	}

	batch := f.batch(t,
		&cmds.XYCopyBlt{PixelSize: 4, Width: 8, Height: 2, DestinationAddress: dst.GPUAddress(), DestinationPitch: 32, SourceAddress: src.GPUAddress(), SourcePitch: 32},
		&cmds.MemSet{Mode: cmds.MemSetLinear, Width: 16, DestinationAddress: dst.GPUAddress() + 64, Value: 0xee},
		&cmds.XYColorBlt{PixelSize: 2, Width: 4, Height: 1, DestinationAddress: dst.GPUAddress() + 128, DestinationPitch: 8, Pattern: [16]byte{0x12, 0x34}},
		&cmds.XYColorBlt{PixelSize: 4, Width: 2, Height: 1, DestinationAddress: dst.GPUAddress() + 144, DestinationPitch: 8, Pattern: [16]byte{0xa1, 0xa2, 0xa3, 0xa4}, ByteMask: 0x5},
		&cmds.StoreDataImm{Address: dst.GPUAddress() + 256, Value: 0xdeadbeef},
		&cmds.PipelineSelect{Pipeline: cmds.PipelineCompute},
	)
	require.Equal(t, uint64(1), f.backend.NextStamp())

	stamp := f.flush(t, batch, src, dst)
	require.Equal(t, uint64(1), stamp)
	require.Equal(t, uint64(2), f.backend.NextStamp())
	f.wait(t, stamp)

	require.Equal(t, src.Data()[:64], dst.Data()[:64])
	for _, b := range dst.Data()[64:80] {
		require.Equal(t, byte(0xee), b)
	}
	require.Equal(t, []byte{0x12, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x34}, dst.Data()[128:136])
	require.Equal(t, []byte{0xa1, 0, 0xa3, 0, 0xa1, 0, 0xa3, 0}, dst.Data()[144:152])
	require.Equal(t, uint64(0xdeadbeef), memutils.AtomicLoadUint64(dst.Data()[256:]))

	require.Equal(t, stamp, f.backend.CompletedStamp())
	require.True(t, f.backend.EngineState().Pipeline.Set)
	require.Equal(t, cmds.PipelineCompute, f.backend.EngineState().Pipeline.Value.Pipeline)
	require.Equal(t, 1, f.backend.Stats().Submissions)
	require.Equal(t, 7, f.backend.Stats().Commands)
}

func TestSimulatedSecondLevelAndPredication(t *testing.T) {
	f := newFixture(t, SimulatedOptions{})
	target := f.allocate(t, memory.AllocationTypeBuffer, 4096)

	called := f.batch(t,
		&cmds.StoreDataImm{Address: target.GPUAddress() + 8, Value: 2},
	)
	main := f.batch(t,
		&cmds.LoadRegisterImm{Register: cmds.GPR(0), Value: 0},
		&cmds.SetPredicate{Mode: cmds.PredicateOnNonZero, Register: cmds.GPR(0)},
		&cmds.StoreDataImm{Address: target.GPUAddress(), Value: 1},
		&cmds.SetPredicate{Mode: cmds.PredicateOnZero, Register: cmds.GPR(0)},
		&cmds.BatchBufferStart{Address: called.GPUAddress(), SecondLevel: true},
		&cmds.StoreDataImm{Address: target.GPUAddress() + 16, Value: 3},
		&cmds.SetPredicate{Mode: cmds.PredicateDisable},
	)

	f.wait(t, f.flush(t, main, called, target))

	require.Equal(t, uint64(0), memutils.AtomicLoadUint64(target.Data()))
	require.Equal(t, uint64(2), memutils.AtomicLoadUint64(target.Data()[8:]))
	require.Equal(t, uint64(3), memutils.AtomicLoadUint64(target.Data()[16:]))
}

func TestSimulatedWaitsOnSemaphore(t *testing.T) {
	f := newFixture(t, SimulatedOptions{})
	counter := f.allocate(t, memory.AllocationTypeCounter, 4096)

	batch := f.batch(t,
		&cmds.SemaphoreWait{Address: counter.GPUAddress(), Value: 5, Compare: cmds.CompareGreaterOrEqual},
	)
	stamp := f.flush(t, batch, counter)

	status, err := f.backend.WaitForCompletion(stamp, 0)
	require.NoError(t, err)
	require.Equal(t, WaitTimeout, status)

	memutils.AtomicStoreUint64(counter.Data(), 5)
	f.wait(t, stamp)
}

func TestSimulatedDynamicSectionPolls(t *testing.T) {
	f := newFixture(t, SimulatedOptions{})
	counter := f.allocate(t, memory.AllocationTypeCounter, 4096)
	target := f.allocate(t, memory.AllocationTypeBuffer, 4096)

	section := relaxed.DynamicSection{CounterAddress: counter.GPUAddress(), Target: 2, Partitions: 2}
	tail := []cmds.Command{
		&cmds.StoreDataImm{Address: target.GPUAddress(), Value: 7},
		&cmds.BatchBufferEnd{},
	}
	batch := f.allocate(t, memory.AllocationTypeCommandBuffer, 4096)
	offset := section.Size()
	section.Encode(batch.Data(), batch.GPUAddress())
	cmds.EncodeAll(batch.Data()[offset:], tail...)

	stamp := f.flush(t, batch, counter, target)

	memutils.AtomicStoreUint64(counter.Data(), 2)
	time.Sleep(time.Millisecond)
	require.Equal(t, uint64(0), memutils.AtomicLoadUint64(target.Data()))

	memutils.AtomicStoreUint64(counter.Data()[8:], 3)
	f.wait(t, stamp)
	require.Equal(t, uint64(7), memutils.AtomicLoadUint64(target.Data()))
}

func TestSimulatedStaticScheduler(t *testing.T) {
	f := newFixture(t, SimulatedOptions{})
	counter := f.allocate(t, memory.AllocationTypeCounter, 4096)
	target := f.allocate(t, memory.AllocationTypeBuffer, 4096)
	pending := f.allocate(t, memory.AllocationTypeSchedulerData, 4096)

	first := f.batch(t, &cmds.StoreDataImm{Address: target.GPUAddress(), Value: 1})
	second := f.batch(t,
		&cmds.LoadRegisterMem{Register: cmds.GPR(0), Address: target.GPUAddress()},
		&cmds.LoadRegisterImm{Register: cmds.GPR(1), Value: 10},
		&cmds.Math{Operation: cmds.MathAdd, Destination: cmds.GPR(2), A: cmds.GPR(0), B: cmds.GPR(1)},
		&cmds.StoreDataImm{Address: target.GPUAddress() + 8, Value: 2},
	)

	main := f.allocate(t, memory.AllocationTypeCommandBuffer, 4096)
	scheduler := relaxed.StaticScheduler{
		Address:        main.GPUAddress(),
		PendingAddress: pending.GPUAddress(),
		Tasks: []relaxed.Task{
			{BatchAddress: first.GPUAddress(), CounterAddress: counter.GPUAddress(), Target: 0},
			{BatchAddress: second.GPUAddress(), CounterAddress: counter.GPUAddress(), Target: 1},
		},
		Clients: 2,
	}
	written, err := scheduler.Encode(main.Data())
	require.NoError(t, err)
	cmds.EncodeAll(main.Data()[written:], &cmds.BatchBufferEnd{})

	stamp := f.flush(t, main, first, second, counter, target, pending)

	require.Eventually(t, func() bool {
		return memutils.AtomicLoadUint64(target.Data()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, uint64(0), memutils.AtomicLoadUint64(target.Data()[8:]))

	memutils.AtomicStoreUint64(counter.Data(), 1)
	f.wait(t, stamp)
	require.Equal(t, uint64(2), memutils.AtomicLoadUint64(target.Data()[8:]))
	require.Equal(t, make([]byte, 16), pending.Data()[:16])
}

func TestSimulatedHang(t *testing.T) {
	f := newFixture(t, SimulatedOptions{HangTimeout: 10 * time.Millisecond})
	counter := f.allocate(t, memory.AllocationTypeCounter, 4096)

	stamp := f.flush(t, f.batch(t, &cmds.SemaphoreWait{Address: counter.GPUAddress(), Value: 1}), counter)

	status, err := f.backend.WaitForCompletion(stamp, -1)
	require.Error(t, err)
	require.Equal(t, WaitGPUHang, status)
	require.Error(t, f.backend.HangError())

	_, res, err := f.backend.Flush(Submission{StartAddress: counter.GPUAddress()})
	require.Error(t, err)
	require.Equal(t, result.ErrorDeviceLost, res)
}

func TestSimulatedResidencyFault(t *testing.T) {
	f := newFixture(t, SimulatedOptions{CheckResidency: true})
	target := f.allocate(t, memory.AllocationTypeBuffer, 4096)

	batch := f.batch(t, &cmds.StoreDataImm{Address: target.GPUAddress(), Value: 1})
	stamp := f.flush(t, batch)

	status, err := f.backend.WaitForCompletion(stamp, -1)
	require.Error(t, err)
	require.Equal(t, WaitGPUHang, status)
	require.Contains(t, f.backend.HangError().Error(), "not resident")
	require.Equal(t, uint64(0), memutils.AtomicLoadUint64(target.Data()))
}

func TestRelaxedOrderingActive(t *testing.T) {
	testCases := map[string]struct {
		Options  SimulatedOptions
		Clients  int
		Expected bool
	}{
		"Disabled":       {Options: SimulatedOptions{}, Clients: 2, Expected: false},
		"NoClients":      {Options: SimulatedOptions{RelaxedOrdering: true}, Clients: 0, Expected: false},
		"OneClient":      {Options: SimulatedOptions{RelaxedOrdering: true}, Clients: 1, Expected: true},
		"BelowMinimum":   {Options: SimulatedOptions{RelaxedOrdering: true, RelaxedOrderingMinClients: 2}, Clients: 1, Expected: false},
		"AtMinimum":      {Options: SimulatedOptions{RelaxedOrdering: true, RelaxedOrderingMinClients: 2}, Clients: 2, Expected: true},
		"ManyClientsOff": {Options: SimulatedOptions{RelaxedOrderingMinClients: 2}, Clients: 3, Expected: false},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, testCase.Options)
			for i := 0; i < testCase.Clients; i++ {
				require.Equal(t, i+1, f.backend.RegisterClient())
			}
			require.Equal(t, testCase.Expected, f.backend.RelaxedOrderingActive())

			for i := 0; i < testCase.Clients; i++ {
				f.backend.UnregisterClient()
			}
			require.Equal(t, 0, f.backend.UnregisterClient())
			require.False(t, f.backend.RelaxedOrderingActive())
		})
	}
}

func TestWriteMemory(t *testing.T) {
	f := newFixture(t, SimulatedOptions{ExplicitMemoryWrites: true})
	target := f.allocate(t, memory.AllocationTypeBuffer, 4096)

	require.True(t, f.backend.ExplicitMemoryWrites())
	require.NoError(t, f.backend.WriteMemory(target.GPUAddress()+8, []byte{1, 2, 3, 4}))
	require.Equal(t, []byte{1, 2, 3, 4}, target.Data()[8:12])
	require.Equal(t, 1, f.backend.Stats().ExplicitWrites)

	require.Error(t, f.backend.WriteMemory(0x10, []byte{1}))
}

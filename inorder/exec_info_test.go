package inorder

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newManager(t *testing.T) *memory.Manager {
	manager, err := memory.New(testLogger(), memory.CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, manager.Destroy())
	})
	return manager
}

type recordingWriter struct {
	explicit bool
	writes   map[uint64]int
}

func (w *recordingWriter) ExplicitMemoryWrites() bool { return w.explicit }

func (w *recordingWriter) WriteMemory(gpuAddress uint64, data []byte) error {
	if w.writes == nil {
		w.writes = make(map[uint64]int)
	}
	w.writes[gpuAddress] = len(data)
	return nil
}

func TestLastWaitedCounterValueIsMonotone(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	observed := []uint64{3, 7, 5, 12, 1, 12, 40}
	var seen []uint64
	for _, value := range observed {
		info.SetLastWaitedCounterValue(value)
		seen = append(seen, value)

		for _, earlier := range seen {
			require.True(t, info.IsCounterAlreadyDone(earlier), "value %d regressed after observing %d", earlier, value)
		}
	}
	require.False(t, info.IsCounterAlreadyDone(41))
}

func TestAllocationOffsetInvalidatesCompletion(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{PartitionCount: 2})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	base := info.DeviceAddress()
	info.SetLastWaitedCounterValue(4)
	require.True(t, info.IsCounterAlreadyDone(4))

	require.NoError(t, info.SetAllocationOffset(64))
	require.Equal(t, base+64, info.DeviceAddress())
	require.False(t, info.IsCounterAlreadyDone(4))

	info.SetLastWaitedCounterValue(2)
	require.True(t, info.IsCounterAlreadyDone(2))
	require.False(t, info.IsCounterAlreadyDone(3))

	err = info.SetAllocationOffset(4)
	require.Error(t, err)
	require.Equal(t, result.ErrorInvalidArgument, result.Of(err))
	require.Error(t, info.SetAllocationOffset(4096-8))
}

func TestHostCounterValueIsSlowestPartition(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{PartitionCount: 3, HostMirror: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	require.Len(t, info.Allocations(), 2)
	require.NotZero(t, info.HostAddress())

	mirror := info.Allocations()[1].Data()
	memutils.AtomicStoreUint64(mirror[0:], 5)
	memutils.AtomicStoreUint64(mirror[8:], 3)
	memutils.AtomicStoreUint64(mirror[16:], 9)
	require.Equal(t, uint64(3), info.HostCounterValue())
}

func TestResetZeroesStorage(t *testing.T) {
	testCases := map[string]struct {
		Explicit       bool
		ExpectedWrites int
	}{
		"ImplicitWrites": {Explicit: false, ExpectedWrites: 0},
		"ExplicitWrites": {Explicit: true, ExpectedWrites: 2},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			info, _, err := New(testLogger(), newManager(t), Options{HostMirror: true})
			require.NoError(t, err)
			defer func() { require.NoError(t, info.Release()) }()

			info.AddCounterValue(6)
			info.SetLastWaitedCounterValue(6)
			memutils.AtomicStoreUint64(info.Allocations()[0].Data(), 6)
			generation := info.Generation()

			writer := &recordingWriter{explicit: testCase.Explicit}
			require.NoError(t, info.Reset(writer))

			require.Len(t, writer.writes, testCase.ExpectedWrites)
			require.Equal(t, uint64(0), info.CounterValue())
			require.Equal(t, uint64(0), memutils.AtomicLoadUint64(info.Allocations()[0].Data()))
			require.False(t, info.IsCounterAlreadyDone(6))
			require.Equal(t, generation+1, info.Generation())
		})
	}
}

func TestReferenceCounting(t *testing.T) {
	manager := newManager(t)
	info, _, err := New(testLogger(), manager, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, manager.LiveAllocationCount())

	require.True(t, info.Compatible(Options{PartitionCount: 0}))
	require.False(t, info.Compatible(Options{HostMirror: true}))

	shared, err := info.Reuse(nil)
	require.NoError(t, err)
	require.Same(t, info, shared)
	require.Equal(t, 2, info.References())

	require.NoError(t, info.Release())
	require.Equal(t, 1, manager.LiveAllocationCount())

	require.NoError(t, shared.Release())
	require.Equal(t, 0, manager.LiveAllocationCount())
	require.False(t, info.Compatible(Options{}))

	require.Error(t, info.Release())
}

func TestRegularSubmissionValues(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{Regular: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	info.AddCounterValue(1)
	info.AddCounterValue(1)
	info.AddCounterValue(1)

	require.Equal(t, uint64(0), info.RegisterRegularSubmission())
	require.Equal(t, uint64(3), info.SubmittedCounterValue())
	require.Equal(t, uint64(3), info.NextAppendValue())
	require.Equal(t, uint64(3), info.RegisterRegularSubmission())
	require.Equal(t, uint64(6), info.SubmittedCounterValue())
}

func TestRestoreCounterValue(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{Regular: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	info.AddCounterValue(2)
	info.AddCounterValue(1)
	info.RestoreCounterValue(2)
	require.Equal(t, uint64(2), info.CounterValue())

	require.Equal(t, uint64(0), info.RegisterRegularSubmission())
	require.Equal(t, uint64(2), info.NextAppendValue())
}

func TestPatchRewritesImmediates(t *testing.T) {
	manager := newManager(t)
	info, _, err := New(testLogger(), manager, Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	c, _, err := container.New(testLogger(), manager, container.CreateOptions{})
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Destroy()) }()

	locations, _, err := c.EncodeEach(
		&cmds.SemaphoreWait{Address: info.DeviceAddress(), Value: 1},
		&cmds.LoadRegisterImm{Register: cmds.GPR(3), Value: 1},
		&cmds.StoreDataImm{Address: info.DeviceAddress(), Value: 2},
		&cmds.ComputeWalker{GroupCountX: 1, PartitionCount: 1, PostSync: cmds.PostSyncWriteImmediate, PostSyncAddress: info.DeviceAddress(), PostSyncValue: 3},
		&cmds.PipeControl{PostSync: cmds.PostSyncWriteImmediate, Address: info.DeviceAddress(), Value: 4},
	)
	require.NoError(t, err)

	patches := PatchList{
		NewPatchCmd(info, locations[0], PatchSemaphoreWait, 1),
		NewPatchCmd(info, locations[1], PatchLoadRegisterImm, 1),
		NewPatchCmd(info, locations[2], PatchStoreDataImm, 2),
		NewPatchCmd(info, locations[3], PatchWalkerPostSync, 3),
		NewPatchCmd(info, locations[4], PatchPipeControlPostSync, 4),
	}
	patches[1].SetSkipPatching(true)

	patched, err := patches.Apply(c, info, 100)
	require.NoError(t, err)
	require.Equal(t, 4, patched)

	decoded, err := cmds.Decode(c.Stream())
	require.NoError(t, err)
	require.Equal(t, uint64(101), decoded[0].(*cmds.SemaphoreWait).Value)
	require.Equal(t, uint64(1), decoded[1].(*cmds.LoadRegisterImm).Value)
	require.Equal(t, uint64(102), decoded[2].(*cmds.StoreDataImm).Value)
	require.Equal(t, uint64(103), decoded[3].(*cmds.ComputeWalker).PostSyncValue)
	require.Equal(t, uint64(104), decoded[4].(*cmds.PipeControl).Value)

	require.NoError(t, info.Reset(nil))
	require.True(t, patches[0].Stale())
	patched, err = patches.Apply(c, nil, 200)
	require.NoError(t, err)
	require.Zero(t, patched)
}

func TestWaitAndSignalCommands(t *testing.T) {
	info, _, err := New(testLogger(), newManager(t), Options{PartitionCount: 2, HostMirror: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, info.Release()) }()

	waits := info.WaitCommands(5)
	require.Equal(t, []cmds.Command{
		&cmds.SemaphoreWait{Address: info.DeviceAddress(), Value: 5},
		&cmds.SemaphoreWait{Address: info.DeviceAddress() + 8, Value: 5},
	}, waits)

	signals := info.SignalCommands(5)
	require.Len(t, signals, 4)
	require.Equal(t, info.HostAddress()+8, signals[3].(*cmds.StoreDataImm).Address)
}

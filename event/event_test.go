package event

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memory/mocks"
	"github.com/vkngwrapper/dispatch/result"
	"go.uber.org/mock/gomock"
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
	writes   map[uint64][]byte
}

func (w *recordingWriter) ExplicitMemoryWrites() bool { return w.explicit }

func (w *recordingWriter) WriteMemory(gpuAddress uint64, data []byte) error {
	if w.writes == nil {
		w.writes = make(map[uint64][]byte)
	}
	w.writes[gpuAddress] = append([]byte(nil), data...)
	return nil
}

func TestNewPool(t *testing.T) {
	testCases := map[string]struct {
		Options      PoolOptions
		ExpectedPool memory.MemoryPool
		ExpectedErr  result.Result
	}{
		"HostVisible": {
			Options:      PoolOptions{Count: 4},
			ExpectedPool: memory.PoolSystem,
		},
		"DeviceOnly": {
			Options:      PoolOptions{Count: 2, DeviceOnly: true},
			ExpectedPool: memory.PoolDevice,
		},
		"Empty": {
			Options:     PoolOptions{},
			ExpectedErr: result.ErrorInvalidArgument,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			manager := newManager(t)
			pool, res, err := NewPool(testLogger(), manager, testCase.Options)
			if testCase.ExpectedErr != result.Success {
				require.Error(t, err)
				require.Equal(t, testCase.ExpectedErr, res)
				return
			}
			require.NoError(t, err)
			defer func() { require.NoError(t, pool.Destroy()) }()

			require.Equal(t, testCase.ExpectedPool, pool.Allocation().Pool())
			require.Equal(t, memory.AllocationTypeEventPool, pool.Allocation().Type())
			require.Equal(t, testCase.Options.Count, pool.Count())

			for i := 0; i < pool.Count(); i++ {
				ev, err := pool.Event(i)
				require.NoError(t, err)
				require.Equal(t, pool.Allocation().GPUAddress()+uint64(i*SlotSize), ev.GPUAddress())
				require.Equal(t, result.NotReady, ev.QueryStatus())
			}

			_, err = pool.Event(pool.Count())
			require.Error(t, err)
		})
	}
}

func TestNewPoolOutOfMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(gomock.Any()).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	pool, res, err := NewPool(testLogger(), allocator, PoolOptions{Count: 1})
	require.Error(t, err)
	require.Nil(t, pool)
	require.Equal(t, result.ErrorOutOfDeviceMemory, res)
}

func TestHostSignalAndReset(t *testing.T) {
	writer := &recordingWriter{explicit: true}
	pool, _, err := NewPool(testLogger(), newManager(t), PoolOptions{Count: 2, Writer: writer})
	require.NoError(t, err)
	defer func() { require.NoError(t, pool.Destroy()) }()

	first, err := pool.Event(0)
	require.NoError(t, err)
	second, err := pool.Event(1)
	require.NoError(t, err)

	require.NoError(t, first.HostSignal())
	require.Equal(t, result.Success, first.QueryStatus())
	require.Equal(t, result.NotReady, second.QueryStatus())
	require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, writer.writes[first.GPUAddress()])

	require.NoError(t, first.HostReset())
	require.Equal(t, result.NotReady, first.QueryStatus())
	require.Equal(t, make([]byte, 8), writer.writes[first.GPUAddress()])
}

func TestHostSynchronize(t *testing.T) {
	pool, _, err := NewPool(testLogger(), newManager(t), PoolOptions{Count: 1})
	require.NoError(t, err)
	defer func() { require.NoError(t, pool.Destroy()) }()

	ev, err := pool.Event(0)
	require.NoError(t, err)

	res, err := ev.HostSynchronize(0)
	require.NoError(t, err)
	require.Equal(t, result.NotReady, res)

	res, err = ev.HostSynchronize(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, result.NotReady, res)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = ev.HostSignal()
	}()
	res, err = ev.HostSynchronize(-1)
	require.NoError(t, err)
	require.Equal(t, result.Success, res)
}

func TestEventCommands(t *testing.T) {
	pool, _, err := NewPool(testLogger(), newManager(t), PoolOptions{Count: 3})
	require.NoError(t, err)
	defer func() { require.NoError(t, pool.Destroy()) }()

	ev, err := pool.Event(2)
	require.NoError(t, err)

	require.Equal(t, []cmds.Command{&cmds.StoreDataImm{Address: ev.GPUAddress(), Value: 1}}, ev.SignalCommands())
	require.Equal(t, []cmds.Command{&cmds.StoreDataImm{Address: ev.GPUAddress(), Value: 0}}, ev.ResetCommands())
	require.Equal(t, []cmds.Command{&cmds.SemaphoreWait{Address: ev.GPUAddress(), Value: 1, Compare: cmds.CompareEqual}}, ev.WaitCommands())
}

func TestDestroyedPool(t *testing.T) {
	pool, _, err := NewPool(testLogger(), newManager(t), PoolOptions{Count: 1})
	require.NoError(t, err)

	ev, err := pool.Event(0)
	require.NoError(t, err)
	require.NoError(t, pool.Destroy())
	require.NoError(t, pool.Destroy())

	_, err = pool.Event(0)
	require.Error(t, err)
	require.Error(t, ev.HostSignal())
	require.Equal(t, result.ErrorInvalidArgument, ev.QueryStatus())
}

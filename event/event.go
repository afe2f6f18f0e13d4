// Package event implements event pools: arrays of GPU-visible completion slots that command lists
// signal, wait on and reset, and that the host can signal, reset, query and wait on directly.
package event

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

const (
	// StateCleared is the slot value of an event that has not been signalled
	StateCleared uint64 = 0
	// StateSignaled is the slot value of a signalled event
	StateSignaled uint64 = 1

	// SlotSize is the distance between two events of a pool. Each event gets its own cache line.
	SlotSize = 64

	hostPollInterval = 20 * time.Microsecond
)

// MemoryWriter is the part of a submission backend that makes host writes visible to the device
type MemoryWriter interface {
	ExplicitMemoryWrites() bool
	WriteMemory(gpuAddress uint64, data []byte) error
}

// PoolOptions contains optional settings when creating an event pool
type PoolOptions struct {
	// Count is the number of events in the pool and must be greater than zero
	Count int
	// DeviceOnly places the pool in device-local memory instead of host-visible system memory
	DeviceOnly bool
	// Writer receives host signals and resets when it reports that host writes are invisible to
	// the device. It may be nil.
	Writer MemoryWriter
}

// Pool owns the allocation backing a fixed number of events
type Pool struct {
	logger    *slog.Logger
	allocator memory.Allocator
	writer    MemoryWriter

	alloc  *memory.GraphicsAllocation
	events []Event
}

// Event is one completion slot of a pool
type Event struct {
	pool  *Pool
	index int
}

// NewPool allocates a pool of cleared events
func NewPool(logger *slog.Logger, allocator memory.Allocator, options PoolOptions) (*Pool, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if options.Count < 1 {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "an event pool needs at least one event, was asked for %d", options.Count)
	}

	pool := memory.PoolSystem
	if options.DeviceOnly {
		pool = memory.PoolDevice
	}

	alloc, vkRes, err := allocator.Allocate(memory.AllocationProperties{
		Type: memory.AllocationTypeEventPool,
		Size: options.Count * SlotSize,
		Pool: pool,
		Name: "event pool",
	})
	if err != nil {
		res := result.FromVkResult(vkRes)
		if res == result.ErrorUnknown {
			res = result.ErrorOutOfDeviceMemory
		}
		return nil, res, result.Wrapf(res, err, "could not allocate a pool of %d events", options.Count)
	}

	p := &Pool{
		logger:    logger,
		allocator: allocator,
		writer:    options.Writer,
		alloc:     alloc,
		events:    make([]Event, options.Count),
	}
	for i := range p.events {
		p.events[i] = Event{pool: p, index: i}
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Created event pool",
		slog.Int("events", options.Count),
		slog.String("pool", pool.String()),
	)
	return p, result.Success, nil
}

// Event returns event i of the pool
func (p *Pool) Event(i int) (*Event, error) {
	if p.alloc == nil {
		return nil, result.Errorf(result.ErrorInvalidArgument, "the event pool was destroyed")
	}
	if i < 0 || i >= len(p.events) {
		return nil, result.Errorf(result.ErrorInvalidArgument, "event index %d is outside a pool of %d", i, len(p.events))
	}
	return &p.events[i], nil
}

func (p *Pool) Count() int {
	return len(p.events)
}

// Allocation is the memory behind every event of the pool
func (p *Pool) Allocation() *memory.GraphicsAllocation {
	return p.alloc
}

// Destroy frees the pool. Events of a destroyed pool must not be used.
func (p *Pool) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	if p.alloc == nil {
		return nil
	}
	err := p.allocator.Free(p.alloc)
	p.alloc = nil
	return err
}

func (e *Event) slot() []byte {
	offset := e.index * SlotSize
	return e.pool.alloc.Data()[offset : offset+8]
}

// Pool is the pool the event belongs to
func (e *Event) Pool() *Pool {
	return e.pool
}

// Allocation is the memory behind the event
func (e *Event) Allocation() *memory.GraphicsAllocation {
	return e.pool.alloc
}

// GPUAddress is the address of the event's completion slot
func (e *Event) GPUAddress() uint64 {
	return e.pool.alloc.GPUAddress() + uint64(e.index*SlotSize)
}

func (e *Event) hostWrite(value uint64) error {
	if e.pool.alloc == nil {
		return result.Errorf(result.ErrorInvalidArgument, "the event pool was destroyed")
	}
	memutils.AtomicStoreUint64(e.slot(), value)

	writer := e.pool.writer
	if writer != nil && writer.ExplicitMemoryWrites() {
		var data [8]byte
		memutils.AtomicStoreUint64(data[:], value)
		if err := writer.WriteMemory(e.GPUAddress(), data[:]); err != nil {
			return result.Wrapf(result.ErrorDeviceLost, err, "could not write event %d", e.index)
		}
	}
	return nil
}

// HostSignal signals the event from the host
func (e *Event) HostSignal() error {
	return e.hostWrite(StateSignaled)
}

// HostReset clears the event from the host
func (e *Event) HostReset() error {
	return e.hostWrite(StateCleared)
}

// QueryStatus returns Success if the event is signalled and NotReady otherwise
func (e *Event) QueryStatus() result.Result {
	if e.pool.alloc == nil {
		return result.ErrorInvalidArgument
	}
	if memutils.AtomicLoadUint64(e.slot()) == StateSignaled {
		return result.Success
	}
	return result.NotReady
}

// HostSynchronize waits up to timeout for the event to be signalled. A zero timeout only queries the
// event and a negative timeout waits forever. It returns NotReady when the timeout expires.
func (e *Event) HostSynchronize(timeout time.Duration) (result.Result, error) {
	res := e.QueryStatus()
	if res != result.NotReady || timeout == 0 {
		if res == result.ErrorInvalidArgument {
			return res, errors.New("the event pool was destroyed")
		}
		return res, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		time.Sleep(hostPollInterval)

		res = e.QueryStatus()
		if res != result.NotReady {
			return res, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return result.NotReady, nil
		}
	}
}

// SignalCommands writes the signalled state once the preceding commands have executed. The caller is
// responsible for any flush that must happen first.
func (e *Event) SignalCommands() []cmds.Command {
	return []cmds.Command{&cmds.StoreDataImm{Address: e.GPUAddress(), Value: StateSignaled}}
}

// ResetCommands writes the cleared state
func (e *Event) ResetCommands() []cmds.Command {
	return []cmds.Command{&cmds.StoreDataImm{Address: e.GPUAddress(), Value: StateCleared}}
}

// WaitCommands stall the engine until the event is signalled
func (e *Event) WaitCommands() []cmds.Command {
	return []cmds.Command{&cmds.SemaphoreWait{Address: e.GPUAddress(), Value: StateSignaled, Compare: cmds.CompareEqual}}
}

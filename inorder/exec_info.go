package inorder

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

// SlotSize is the size of the counter slot written by one partition
const SlotSize = 8

const defaultStorageSize = 4096

// MemoryWriter is the part of a submission backend that can write device memory on behalf of the
// host. Backends that validate or defer execution see host writes only through WriteMemory.
type MemoryWriter interface {
	ExplicitMemoryWrites() bool
	WriteMemory(gpuAddress uint64, data []byte) error
}

// Options contains optional settings when enabling in-order execution
type Options struct {
	// PartitionCount is the number of partitions that each signal their own counter slot. Zero and
	// one both mean a single slot.
	PartitionCount int
	// HostMirror duplicates every counter write into host-visible system memory so the host can poll
	// without touching device memory
	HostMirror bool
	// Regular marks the owner as a regular command list, whose recorded counter values are relative
	// to the start of each execution
	Regular bool
	// StorageSize is the size of the counter allocation. Zero selects 4KB.
	StorageSize int
}

// ExecInfo is an in-order execution counter shared by reference between the command lists that signal
// it and the patch records that rewrite commands waiting on it. The counter's storage is released when
// the last reference is released.
type ExecInfo struct {
	logger    *slog.Logger
	allocator memory.Allocator
	options   Options

	refs atomic.Int32

	deviceAlloc *memory.GraphicsAllocation
	hostAlloc   *memory.GraphicsAllocation

	counterValue     uint64
	submissionCount  uint64
	allocationOffset int
	lastWaitedValue  uint64
	lastWaitedOffset int
	generation       uint64
	released         bool
}

// New enables in-order execution: it allocates zeroed counter storage and returns an ExecInfo holding
// one reference
func New(logger *slog.Logger, allocator memory.Allocator, options Options) (*ExecInfo, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if options.PartitionCount < 1 {
		options.PartitionCount = 1
	}
	if options.StorageSize == 0 {
		options.StorageSize = defaultStorageSize
	}
	if options.StorageSize < options.PartitionCount*SlotSize {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "counter storage of %d bytes cannot hold %d partitions", options.StorageSize, options.PartitionCount)
	}

	info := &ExecInfo{
		logger:    logger,
		allocator: allocator,
		options:   options,
	}

	var res result.Result
	var err error
	info.deviceAlloc, res, err = info.allocate(memory.PoolDevice, "in-order counter")
	if err != nil {
		return nil, res, err
	}

	if options.HostMirror {
		info.hostAlloc, res, err = info.allocate(memory.PoolSystem, "in-order host counter")
		if err != nil {
			_ = allocator.Free(info.deviceAlloc)
			return nil, res, err
		}
	}

	info.refs.Store(1)
	return info, result.Success, nil
}

func (e *ExecInfo) allocate(pool memory.MemoryPool, name string) (*memory.GraphicsAllocation, result.Result, error) {
	alloc, vkRes, err := e.allocator.Allocate(memory.AllocationProperties{
		Type: memory.AllocationTypeCounter,
		Size: e.options.StorageSize,
		Pool: pool,
		Name: name,
	})
	if err != nil {
		res := result.FromVkResult(vkRes)
		if res == result.ErrorUnknown {
			res = result.ErrorOutOfDeviceMemory
		}
		return nil, res, result.Wrapf(res, err, "could not allocate %s storage", name)
	}
	return alloc, result.Success, nil
}

// Compatible returns true if this counter's storage can serve a list created with options
func (e *ExecInfo) Compatible(options Options) bool {
	if options.PartitionCount < 1 {
		options.PartitionCount = 1
	}
	return !e.released &&
		e.options.PartitionCount == options.PartitionCount &&
		e.options.HostMirror == options.HostMirror &&
		e.options.Regular == options.Regular
}

// Reuse resets the counter through writer and takes a reference for a new owner
func (e *ExecInfo) Reuse(writer MemoryWriter) (*ExecInfo, error) {
	if err := e.Reset(writer); err != nil {
		return nil, err
	}
	return e.Retain(), nil
}

// Retain takes another reference
func (e *ExecInfo) Retain() *ExecInfo {
	e.refs.Add(1)
	return e
}

// Release drops a reference and frees the counter storage when it was the last one
func (e *ExecInfo) Release() error {
	remaining := e.refs.Add(-1)
	if remaining > 0 {
		return nil
	}
	if remaining < 0 {
		return errors.New("in-order counter released more times than it was retained")
	}

	e.logger.Debug("ExecInfo::Release")
	e.released = true

	err := e.allocator.Free(e.deviceAlloc)
	if e.hostAlloc != nil {
		err = errors.CombineErrors(err, e.allocator.Free(e.hostAlloc))
	}
	e.deviceAlloc = nil
	e.hostAlloc = nil
	return err
}

// References is the current reference count
func (e *ExecInfo) References() int {
	return int(e.refs.Load())
}

// AddCounterValue advances the value the next signal writes
func (e *ExecInfo) AddCounterValue(k uint64) {
	e.counterValue += k
}

// RestoreCounterValue moves the counter back to value, dropping signals whose recording failed
func (e *ExecInfo) RestoreCounterValue(value uint64) {
	e.counterValue = value
}

// CounterValue is the value the most recent signal writes, relative to the start of an execution for
// regular lists
func (e *ExecInfo) CounterValue() uint64 {
	return e.counterValue
}

// IsRegular returns true if recorded counter values are relative to each execution
func (e *ExecInfo) IsRegular() bool {
	return e.options.Regular
}

// RegisterRegularSubmission accounts for one more execution of a regular list and returns the value
// that must be added to every recorded counter value for that execution
func (e *ExecInfo) RegisterRegularSubmission() uint64 {
	appendValue := e.NextAppendValue()
	e.submissionCount++
	return appendValue
}

// NextAppendValue is the value the next RegisterRegularSubmission returns
func (e *ExecInfo) NextAppendValue() uint64 {
	return e.counterValue * e.submissionCount
}

// SubmittedCounterValue is the value the counter reaches once everything submitted so far completes
func (e *ExecInfo) SubmittedCounterValue() uint64 {
	if e.options.Regular {
		return e.counterValue * e.submissionCount
	}
	return e.counterValue
}

// SetLastWaitedCounterValue records that the host has observed completion up to value. The recorded
// value never decreases while the allocation offset stays the same.
func (e *ExecInfo) SetLastWaitedCounterValue(value uint64) {
	if e.lastWaitedOffset != e.allocationOffset {
		e.lastWaitedOffset = e.allocationOffset
		e.lastWaitedValue = value
		return
	}
	e.lastWaitedValue = memutils.Max(e.lastWaitedValue, value)
}

// IsCounterAlreadyDone returns true if value was already observed through SetLastWaitedCounterValue
// on the current storage
func (e *ExecInfo) IsCounterAlreadyDone(value uint64) bool {
	return value <= e.lastWaitedValue && e.lastWaitedOffset == e.allocationOffset
}

// SetAllocationOffset moves the counter to another position in its storage. Completion observed at
// the previous position no longer counts.
func (e *ExecInfo) SetAllocationOffset(offset int) error {
	if offset < 0 || offset%SlotSize != 0 || offset+e.PartitionCount()*SlotSize > e.options.StorageSize {
		return result.Errorf(result.ErrorInvalidArgument, "counter offset %d does not fit %d slots in %d bytes", offset, e.PartitionCount(), e.options.StorageSize)
	}
	e.allocationOffset = offset
	return nil
}

func (e *ExecInfo) AllocationOffset() int {
	return e.allocationOffset
}

// PartitionCount is the number of counter slots a signal writes and a wait must observe
func (e *ExecInfo) PartitionCount() int {
	return e.options.PartitionCount
}

// DeviceAddress is the GPU address of the first counter slot
func (e *ExecInfo) DeviceAddress() uint64 {
	return e.deviceAlloc.GPUAddress() + uint64(e.allocationOffset)
}

// HostAddress is the GPU address of the first host mirror slot, or zero without a mirror
func (e *ExecInfo) HostAddress() uint64 {
	if e.hostAlloc == nil {
		return 0
	}
	return e.hostAlloc.GPUAddress() + uint64(e.allocationOffset)
}

// Allocations returns the counter storage so it can be made resident
func (e *ExecInfo) Allocations() []*memory.GraphicsAllocation {
	if e.hostAlloc == nil {
		return []*memory.GraphicsAllocation{e.deviceAlloc}
	}
	return []*memory.GraphicsAllocation{e.deviceAlloc, e.hostAlloc}
}

// Generation changes on every Reset. Patch records from an older generation are stale.
func (e *ExecInfo) Generation() uint64 {
	return e.generation
}

// HostCounterValue reads the counter as the host sees it: the smallest value written by any
// partition
func (e *ExecInfo) HostCounterValue() uint64 {
	alloc := e.deviceAlloc
	if e.hostAlloc != nil {
		alloc = e.hostAlloc
	}

	data := alloc.Data()[e.allocationOffset:]
	value := memutils.AtomicLoadUint64(data)
	for p := 1; p < e.PartitionCount(); p++ {
		value = memutils.Min(value, memutils.AtomicLoadUint64(data[p*SlotSize:]))
	}
	return value
}

// Reset zeroes the counter storage and rewinds every value. When writer reports that host writes are
// invisible to the device, the zeroes are also written through it before Reset returns.
func (e *ExecInfo) Reset(writer MemoryWriter) error {
	e.logger.Debug("ExecInfo::Reset")

	if e.released {
		return result.Errorf(result.ErrorInvalidArgument, "the in-order counter was released")
	}

	for _, alloc := range e.Allocations() {
		clear(alloc.Data())
	}

	if writer != nil && writer.ExplicitMemoryWrites() {
		zeroes := make([]byte, e.options.StorageSize)
		for _, alloc := range e.Allocations() {
			if err := writer.WriteMemory(alloc.GPUAddress(), zeroes); err != nil {
				return result.Wrapf(result.ErrorDeviceLost, err, "could not upload the reset in-order counter")
			}
		}
	}

	e.logger.LogAttrs(context.Background(), slog.LevelDebug, "In-order counter reset",
		slog.Uint64("counter.value", e.counterValue),
		slog.Uint64("generation", e.generation+1),
	)

	e.counterValue = 0
	e.submissionCount = 0
	e.allocationOffset = 0
	e.lastWaitedValue = 0
	e.lastWaitedOffset = 0
	e.generation++
	return nil
}

package container

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/config"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

const (
	// ChainReserve is the space kept free at the end of every command buffer for the command that
	// chains to the next buffer
	ChainReserve = cmds.BatchBufferStartSize

	bufferAlignment          = 4096
	defaultHeapSize          = 64 * 1024
	minimumCommandBufferSize = 2 * ChainReserve
)

// Location addresses a byte in a container's command buffer chain. Locations stay valid as the
// chain grows, which makes them safe to keep in patch records.
type Location struct {
	Buffer int
	Offset int
}

// CommandBuffer is one link of the chain: a command buffer allocation and its write cursor
type CommandBuffer struct {
	alloc *memory.GraphicsAllocation
	used  int
}

func (b *CommandBuffer) Allocation() *memory.GraphicsAllocation { return b.alloc }
func (b *CommandBuffer) GPUAddress() uint64                     { return b.alloc.GPUAddress() }
func (b *CommandBuffer) Used() int                              { return b.used }
func (b *CommandBuffer) Capacity() int                          { return b.alloc.Size() }

// Bytes returns the recorded part of the buffer
func (b *CommandBuffer) Bytes() []byte {
	return b.alloc.Data()[:b.used]
}

func (b *CommandBuffer) usable() int {
	return b.alloc.Size() - ChainReserve
}

// CreateOptions contains optional settings when creating a container
type CreateOptions struct {
	// BufferSize is the size of each command buffer. Zero selects config.DefaultCommandBufferSize.
	BufferSize int
	// HeapSize is the initial size of each indirect heap. Zero selects 64KB.
	HeapSize int
	// HeapAddressing decides which indirect heaps exist
	HeapAddressing hwinfo.HeapAddressing
}

// Container owns a chain of command buffers, the indirect heaps the recorded commands reference, and
// the residency set of every allocation they touch. It is not safe for concurrent use.
type Container struct {
	logger    *slog.Logger
	allocator memory.Allocator
	options   CreateOptions

	chain     []*CommandBuffer
	heaps     [heapTypeCount]*IndirectHeap
	retired   []*IndirectHeap
	residency *ResidencyContainer

	destroyed bool
}

// New creates a container and allocates its first command buffer
func New(logger *slog.Logger, allocator memory.Allocator, options CreateOptions) (*Container, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if allocator == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "an allocator is required")
	}

	if options.BufferSize == 0 {
		options.BufferSize = config.DefaultCommandBufferSize
	}
	if options.BufferSize < minimumCommandBufferSize {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "command buffer size %d is below the minimum of %d", options.BufferSize, minimumCommandBufferSize)
	}
	if options.HeapSize == 0 {
		options.HeapSize = defaultHeapSize
	}

	c := &Container{
		logger:    logger,
		allocator: allocator,
		options:   options,
		residency: NewResidencyContainer(),
	}

	buffer, res, err := c.allocateBuffer(options.BufferSize)
	if err != nil {
		return nil, res, err
	}
	c.chain = append(c.chain, buffer)
	c.residency.Add(buffer.alloc)

	return c, result.Success, nil
}

func (c *Container) allocateBuffer(size int) (*CommandBuffer, result.Result, error) {
	alloc, vkRes, err := c.allocator.Allocate(memory.AllocationProperties{
		Type: memory.AllocationTypeCommandBuffer,
		Size: size,
		Name: "command buffer",
	})
	if err != nil {
		res := result.FromVkResult(vkRes)
		if res == result.ErrorUnknown || res == result.ErrorOutOfHostMemory {
			res = result.ErrorOutOfDeviceMemory
		}
		return nil, res, result.Wrapf(res, err, "could not allocate a %d byte command buffer", size)
	}

	return &CommandBuffer{alloc: alloc}, result.Success, nil
}

func (c *Container) current() *CommandBuffer {
	return c.chain[len(c.chain)-1]
}

// GetSpace returns n contiguous writable bytes in the current command buffer. When they do not fit, the
// next buffer is allocated first and then chained to with a BatchBufferStart, so an allocation failure
// leaves the container exactly as it was.
func (c *Container) GetSpace(n int) (Location, []byte, result.Result, error) {
	if c.destroyed {
		return Location{}, nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the container was destroyed")
	}
	if n < 0 || n%4 != 0 {
		return Location{}, nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "command space must be a non-negative multiple of 4, was %d", n)
	}

	buffer := c.current()
	if buffer.used+n > buffer.usable() {
		size := memutils.AlignUp(memutils.Max(c.options.BufferSize, n+ChainReserve), bufferAlignment)
		next, res, err := c.allocateBuffer(size)
		if err != nil {
			return Location{}, nil, res, err
		}

		link := &cmds.BatchBufferStart{Address: next.GPUAddress()}
		link.Encode(buffer.alloc.Data()[buffer.used:])
		buffer.used += link.Size()

		c.chain = append(c.chain, next)
		c.residency.Add(next.alloc)
		buffer = next

		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Chained new command buffer",
			slog.Int("chain.length", len(c.chain)),
			slog.Int("buffer.size", size),
			slog.Int("request.size", n),
		)
	}

	loc := Location{Buffer: len(c.chain) - 1, Offset: buffer.used}
	data := buffer.alloc.Data()[buffer.used : buffer.used+n : buffer.used+n]
	buffer.used += n
	return loc, data, result.Success, nil
}

// Encode writes commands back to back and returns the location of the first byte
func (c *Container) Encode(commands ...cmds.Command) (Location, result.Result, error) {
	loc, data, res, err := c.GetSpace(cmds.TotalSize(commands...))
	if err != nil {
		return loc, res, err
	}

	cmds.EncodeAll(data, commands...)
	return loc, result.Success, nil
}

// EncodeEach writes each command with its own GetSpace call and returns the location of every command,
// which is what patch records need
func (c *Container) EncodeEach(commands ...cmds.Command) ([]Location, result.Result, error) {
	locations := make([]Location, 0, len(commands))
	for _, cmd := range commands {
		loc, res, err := c.Encode(cmd)
		if err != nil {
			return nil, res, err
		}
		locations = append(locations, loc)
	}
	return locations, result.Success, nil
}

// CurrentLocation is where the next byte will be written if it fits in the current buffer
func (c *Container) CurrentLocation() Location {
	return Location{Buffer: len(c.chain) - 1, Offset: c.current().used}
}

// Bytes returns n recorded bytes at loc, for patching commands in place
func (c *Container) Bytes(loc Location, n int) ([]byte, error) {
	if loc.Buffer < 0 || loc.Buffer >= len(c.chain) {
		return nil, errors.Errorf("location refers to command buffer %d but the chain has %d", loc.Buffer, len(c.chain))
	}

	buffer := c.chain[loc.Buffer]
	if loc.Offset < 0 || loc.Offset+n > buffer.used {
		return nil, errors.Errorf("range [%d, %d) lies outside the %d recorded bytes of command buffer %d", loc.Offset, loc.Offset+n, buffer.used, loc.Buffer)
	}
	return buffer.alloc.Data()[loc.Offset : loc.Offset+n : loc.Offset+n], nil
}

// GPUAddress returns the GPU virtual address of loc
func (c *Container) GPUAddress(loc Location) uint64 {
	return c.chain[loc.Buffer].GPUAddress() + uint64(loc.Offset)
}

// Chain returns the command buffers in execution order
func (c *Container) Chain() []*CommandBuffer {
	return c.chain
}

// StartAddress is the GPU address of the first recorded command
func (c *Container) StartAddress() uint64 {
	return c.chain[0].GPUAddress()
}

// RecordedBytes is the total number of bytes written across the chain
func (c *Container) RecordedBytes() int {
	total := 0
	for _, buffer := range c.chain {
		total += buffer.used
	}
	return total
}

// Stream concatenates every recorded byte, skipping the chaining commands between buffers
func (c *Container) Stream() []byte {
	stream := make([]byte, 0, c.RecordedBytes())
	for i, buffer := range c.chain {
		data := buffer.Bytes()
		if i < len(c.chain)-1 {
			data = data[:len(data)-ChainReserve]
		}
		stream = append(stream, data...)
	}
	return stream
}

func (c *Container) heapAvailable(heapType HeapType) bool {
	if heapType >= heapTypeCount {
		return false
	}
	return c.options.HeapAddressing == hwinfo.HeapAddressingGlobal || heapType == HeapSurfaceState
}

func (c *Container) allocateHeap(heapType HeapType, size int) (*IndirectHeap, result.Result, error) {
	alloc, vkRes, err := c.allocator.Allocate(memory.AllocationProperties{
		Type: memory.AllocationTypeInternalHeap,
		Size: size,
		Name: heapType.String() + " heap",
	})
	if err != nil {
		res := result.FromVkResult(vkRes)
		if res == result.ErrorUnknown || res == result.ErrorOutOfHostMemory {
			res = result.ErrorOutOfDeviceMemory
		}
		return nil, res, result.Wrapf(res, err, "could not allocate a %d byte %s heap", size, heapType)
	}

	return &IndirectHeap{heapType: heapType, alloc: alloc, dirty: true}, result.Success, nil
}

// GetIndirectHeap returns the heap of the requested type, allocating it the first time. Under inline
// heap addressing only the surface state heap exists.
func (c *Container) GetIndirectHeap(heapType HeapType) (*IndirectHeap, result.Result, error) {
	if !c.heapAvailable(heapType) {
		return nil, result.ErrorUnsupportedFeature, result.Errorf(result.ErrorUnsupportedFeature, "%s heaps do not exist under %s heap addressing", heapType, c.options.HeapAddressing)
	}

	if c.heaps[heapType] != nil {
		return c.heaps[heapType], result.Success, nil
	}

	heap, res, err := c.allocateHeap(heapType, c.options.HeapSize)
	if err != nil {
		return nil, res, err
	}

	c.heaps[heapType] = heap
	c.residency.Add(heap.alloc)
	return heap, result.Success, nil
}

// GetHeapSpace carves n bytes from a heap. A full heap is replaced by one at least twice as large;
// the replacement is dirty, so the recorder must reprogram the heap's base address before using it.
func (c *Container) GetHeapSpace(heapType HeapType, n int, alignment uint) (*IndirectHeap, int, []byte, result.Result, error) {
	heap, res, err := c.GetIndirectHeap(heapType)
	if err != nil {
		return nil, 0, nil, res, err
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, 0, nil, result.ErrorInvalidArgument, result.Wrapf(result.ErrorInvalidArgument, err, "bad heap alignment")
	}

	offset, data, ok := heap.GetSpace(n, alignment)
	if ok {
		return heap, offset, data, result.Success, nil
	}

	size := memutils.AlignUp(memutils.Max(2*heap.Capacity(), n+int(alignment)), bufferAlignment)
	replacement, res, err := c.allocateHeap(heapType, size)
	if err != nil {
		return nil, 0, nil, res, err
	}

	// The old heap stays resident: commands recorded before the switch still read it
	c.heaps[heapType] = replacement
	c.residency.Add(replacement.alloc)
	c.retired = append(c.retired, heap)

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Replaced full indirect heap",
		slog.String("heap.type", heapType.String()),
		slog.Int("heap.size", size),
	)

	offset, data, _ = replacement.GetSpace(n, alignment)
	return replacement, offset, data, result.Success, nil
}

// Heap returns a heap if it has been allocated
func (c *Container) Heap(heapType HeapType) *IndirectHeap {
	if heapType >= heapTypeCount {
		return nil
	}
	return c.heaps[heapType]
}

// Residency returns the set of allocations the recorded commands reference
func (c *Container) Residency() *ResidencyContainer {
	return c.residency
}

// AddToResidency records allocations the recorded commands reference
func (c *Container) AddToResidency(allocs ...*memory.GraphicsAllocation) {
	c.residency.Add(allocs...)
}

// Reset discards every recorded command. The first command buffer and the current heaps are kept and
// rewound, so recording the same commands again produces the same bytes.
func (c *Container) Reset() error {
	c.logger.Debug("Container::Reset")

	if c.destroyed {
		return result.Errorf(result.ErrorInvalidArgument, "the container was destroyed")
	}

	var errs error
	for _, buffer := range c.chain[1:] {
		errs = errors.CombineErrors(errs, c.allocator.Free(buffer.alloc))
	}
	for _, heap := range c.retired {
		errs = errors.CombineErrors(errs, c.allocator.Free(heap.alloc))
	}
	c.retired = nil

	first := c.chain[0]
	clear(first.alloc.Data()[:first.used])
	first.used = 0
	clear(c.chain[1:])
	c.chain = c.chain[:1]

	c.residency.Clear()
	c.residency.Add(first.alloc)
	for _, heap := range c.heaps {
		if heap != nil {
			heap.rewind()
			c.residency.Add(heap.alloc)
		}
	}

	memutils.DebugValidate(c)
	return errs
}

// Destroy frees every allocation the container owns
func (c *Container) Destroy() error {
	c.logger.Debug("Container::Destroy")

	if c.destroyed {
		return nil
	}
	c.destroyed = true

	var errs error
	for _, buffer := range c.chain {
		errs = errors.CombineErrors(errs, c.allocator.Free(buffer.alloc))
	}
	for _, heap := range c.heaps {
		if heap != nil {
			errs = errors.CombineErrors(errs, c.allocator.Free(heap.alloc))
		}
	}
	for _, heap := range c.retired {
		errs = errors.CombineErrors(errs, c.allocator.Free(heap.alloc))
	}

	c.chain = nil
	c.heaps = [heapTypeCount]*IndirectHeap{}
	c.retired = nil
	c.residency.Clear()
	return errs
}

func (c *Container) Validate() error {
	if len(c.chain) == 0 {
		return errors.New("the command buffer chain is empty")
	}

	for i, buffer := range c.chain {
		if buffer.used > buffer.Capacity() {
			return errors.Errorf("command buffer %d has %d bytes recorded but a capacity of %d", i, buffer.used, buffer.Capacity())
		}
		if i < len(c.chain)-1 && buffer.used < ChainReserve {
			return errors.Errorf("command buffer %d is followed by another but has no room for the chaining command", i)
		}
		if !c.residency.Contains(buffer.alloc) {
			return errors.Errorf("command buffer %d is not resident", i)
		}
	}

	for _, heap := range c.heaps {
		if heap == nil {
			continue
		}
		if heap.used > heap.Capacity() {
			return errors.Errorf("%s heap has %d bytes used but a capacity of %d", heap.heapType, heap.used, heap.Capacity())
		}
		if !c.residency.Contains(heap.alloc) {
			return errors.Errorf("%s heap is not resident", heap.heapType)
		}
	}

	return nil
}

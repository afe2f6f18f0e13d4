package cmdlist

import (
	"context"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/blit"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/event"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/inorder"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

// Kernel is a compiled compute kernel together with the arguments of one dispatch
type Kernel struct {
	Name string
	// ISA holds the kernel instructions
	ISA *memory.GraphicsAllocation
	// Arguments is the argument block, a multiple of 4 bytes long
	Arguments       []byte
	ThreadGroupSize uint32
	// Cooperative kernels need the front end programmed for cooperative dispatch
	Cooperative bool
	// Buffers are the allocations the kernel reads or writes. They are made resident with the list.
	Buffers []*memory.GraphicsAllocation
}

// GroupCount is the number of thread groups a dispatch launches in each dimension
type GroupCount struct {
	X, Y, Z uint32
}

func (k *Kernel) validate(groups GroupCount) error {
	switch {
	case k == nil:
		return result.Errorf(result.ErrorInvalidArgument, "the kernel is nil")
	case k.ISA == nil:
		return result.Errorf(result.ErrorInvalidArgument, "kernel %q has no instructions", k.Name)
	case k.ThreadGroupSize == 0:
		return result.Errorf(result.ErrorInvalidArgument, "kernel %q has an empty thread group", k.Name)
	case len(k.Arguments)%4 != 0:
		return result.Errorf(result.ErrorInvalidArgument, "kernel %q arguments are %d bytes, not a multiple of 4", k.Name, len(k.Arguments))
	case groups.X == 0 || groups.Y == 0 || groups.Z == 0:
		return result.Errorf(result.ErrorInvalidArgument, "kernel %q launched with group count %dx%dx%d", k.Name, groups.X, groups.Y, groups.Z)
	}
	return nil
}

// begin checks the list can take an append and validates its events
func (l *CommandList) begin(signal *event.Event, waits []*event.Event) (result.Result, error) {
	if res, err := l.checkRecording(); err != nil {
		return res, err
	}
	if signal != nil {
		if res, err := validateEvents([]*event.Event{signal}); err != nil {
			return res, err
		}
	}
	return validateEvents(waits)
}

// AppendLaunchKernel records a kernel dispatch that starts once the wait events are signalled and
// signals signal once it completes
func (l *CommandList) AppendLaunchKernel(kernel *Kernel, groups GroupCount, signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendLaunchKernel")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}
	if l.options.Engine == EngineCopy {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "kernels cannot be launched on a copy list")
	}
	if err := kernel.validate(groups); err != nil {
		return result.ErrorInvalidArgument, err
	}

	return l.record(signal, func() (result.Result, error) {
		return l.recordKernel(kernel, groups, signal, waits)
	})
}

func (l *CommandList) recordKernel(kernel *Kernel, groups GroupCount, signal *event.Event, waits []*event.Event) (result.Result, error) {
	if res, err := l.encodeDependencies(l.collectDependencies(waits, true), false); err != nil {
		return res, err
	}

	walker := &cmds.ComputeWalker{
		GroupCountX:        groups.X,
		GroupCountY:        groups.Y,
		GroupCountZ:        groups.Z,
		ThreadGroupSize:    kernel.ThreadGroupSize,
		KernelStartAddress: kernel.ISA.GPUAddress(),
		PartitionCount:     uint32(l.caps.PartitionCount),
	}
	if res, err := l.encoder.placeArguments(l.container, kernel, walker); err != nil {
		return res, err
	}
	state, res, err := l.encoder.kernelState(l.container, kernel)
	if err != nil {
		return res, err
	}
	if transitions := l.transitionTo(state); len(transitions) > 0 {
		if _, res, err := l.container.Encode(transitions...); err != nil {
			return res, err
		}
	}

	// The walker signals the counter itself when every partition owns a counter slot
	walkerSignal := l.inOrder != nil && l.inOrder.PartitionCount() == max(l.caps.PartitionCount, 1)
	var counterValue uint64
	if walkerSignal {
		counterValue = l.nextCounterValue()
		walker.PostSync = cmds.PostSyncWriteImmediate
		walker.PostSyncAddress = l.inOrder.DeviceAddress()
		walker.PostSyncValue = counterValue
	}

	loc, res, err := l.container.Encode(walker)
	if err != nil {
		return res, err
	}
	l.container.AddToResidency(kernel.ISA)
	l.container.AddToResidency(kernel.Buffers...)

	switch {
	case walkerSignal:
		l.recordPatches([]container.Location{loc}, inorder.PatchWalkerPostSync, counterValue)
		if l.inOrder.HostAddress() != 0 {
			if _, res, err := l.container.Encode(l.stall()); err != nil {
				return res, err
			}
			if res, err := l.encodeStores(l.inOrder.SignalCommands(counterValue)[l.inOrder.PartitionCount():], counterValue); err != nil {
				return res, err
			}
		}
		if res, err := l.encodeEventSignal(signal); err != nil {
			return res, err
		}
	default:
		if res, err := l.encodeCompletion(0, signal); err != nil {
			return res, err
		}
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Recorded kernel launch",
		slog.String("kernel", kernel.Name),
		slog.Int("groups", int(groups.X*groups.Y*groups.Z)),
		slog.Int("waits", len(waits)),
	)
	return result.Success, nil
}

// appendBlit records props with dispatch between the append's dependencies and its signals
func (l *CommandList) appendBlit(props blit.Properties, dispatch blitDispatch, signal *event.Event, waits []*event.Event) (result.Result, error) {
	// Planning validates the blit before anything is recorded
	if _, err := blit.EstimateCommandCount(props, l.caps); err != nil {
		return result.Of(err), err
	}

	return l.record(signal, func() (result.Result, error) {
		if res, err := l.encodeDependencies(l.collectDependencies(waits, true), false); err != nil {
			return res, err
		}
		if _, res, err := dispatch(l.logger, l.container, props, l.caps); err != nil {
			return res, err
		}
		return l.encodeCompletion(0, signal)
	})
}

type blitDispatch func(logger *slog.Logger, encoder blit.Encoder, props blit.Properties, caps hwinfo.Capabilities) (int, result.Result, error)

// AppendMemoryCopy copies size bytes between two non-overlapping ranges
func (l *CommandList) AppendMemoryCopy(dst, src blit.Endpoint, size int, signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendMemoryCopy")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}
	props, err := blit.ConstructPropertiesForCopy(dst, src, size)
	if err != nil {
		return result.Of(err), err
	}
	if props.Overlaps() {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the source and destination ranges overlap")
	}
	return l.appendBlit(props, blit.DispatchBlitForBuffer, signal, waits)
}

// AppendMemoryCopyRegion copies a 2D or 3D box between two buffers
func (l *CommandList) AppendMemoryCopyRegion(dst, src blit.Endpoint, region blit.Region, signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendMemoryCopyRegion")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}
	props, err := blit.ConstructPropertiesForRegion(dst, src, region)
	if err != nil {
		return result.Of(err), err
	}
	if props.Overlaps() {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the source and destination regions overlap")
	}
	return l.appendBlit(props, blit.DispatchBlitForRegion, signal, waits)
}

// AppendImageCopy copies between an image and a buffer or between two images
func (l *CommandList) AppendImageCopy(request blit.ImageCopy, signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendImageCopy")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}
	props, err := blit.ConstructPropertiesForImage(request)
	if err != nil {
		return result.Of(err), err
	}
	return l.appendBlit(props, blit.DispatchBlitForImage, signal, waits)
}

// AppendMemoryFill repeats pattern over size bytes at dst
func (l *CommandList) AppendMemoryFill(dst blit.Endpoint, pattern []byte, size int, signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendMemoryFill")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}
	props, err := blit.ConstructPropertiesForFill(dst, size, pattern)
	if err != nil {
		return result.Of(err), err
	}
	return l.appendBlit(props, blit.DispatchMemoryFill, signal, waits)
}

// AppendBarrier makes everything recorded later wait for everything recorded earlier and for the
// wait events
func (l *CommandList) AppendBarrier(signal *event.Event, waits ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendBarrier")

	if res, err := l.begin(signal, waits); err != nil {
		return res, err
	}

	return l.record(signal, func() (result.Result, error) {
		if res, err := l.encodeDependencies(l.collectDependencies(waits, true), true); err != nil {
			return res, err
		}

		if l.inOrder != nil {
			// The counter signal carries the barrier
			return l.encodeCompletion(cmds.PipeControlBarrierFlags, signal)
		}

		var barrier cmds.Command = &cmds.PipeControl{Flags: cmds.PipeControlBarrierFlags | cmds.PipeControlCommandStreamerStall}
		if l.options.Engine == EngineCopy {
			barrier = &cmds.FlushDw{}
		}
		if _, res, err := l.container.Encode(barrier); err != nil {
			return res, err
		}
		return l.encodeEventSignal(signal)
	})
}

// AppendSignalEvent signals ev once everything recorded earlier completes
func (l *CommandList) AppendSignalEvent(ev *event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendSignalEvent")

	if ev == nil {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the event is nil")
	}
	if res, err := l.begin(ev, nil); err != nil {
		return res, err
	}

	return l.record(ev, func() (result.Result, error) {
		if res, err := l.encodeDependencies(l.collectDependencies(nil, true), true); err != nil {
			return res, err
		}
		return l.encodeCompletion(0, ev)
	})
}

// AppendWaitOnEvents makes everything recorded later wait until every event is signalled
func (l *CommandList) AppendWaitOnEvents(events ...*event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendWaitOnEvents")

	if res, err := l.begin(nil, events); err != nil {
		return res, err
	}

	return l.record(nil, func() (result.Result, error) {
		return l.encodeDependencies(l.collectDependencies(events, false), true)
	})
}

// AppendEventReset clears ev once everything recorded earlier completes
func (l *CommandList) AppendEventReset(ev *event.Event) (result.Result, error) {
	l.logger.Debug("CommandList::AppendEventReset")

	if ev == nil {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the event is nil")
	}
	if res, err := l.begin(ev, nil); err != nil {
		return res, err
	}

	return l.record(nil, func() (result.Result, error) {
		if res, err := l.encodeDependencies(l.collectDependencies(nil, true), true); err != nil {
			return res, err
		}

		commands := append([]cmds.Command{l.stall()}, ev.ResetCommands()...)
		if _, res, err := l.container.Encode(commands...); err != nil {
			return res, err
		}
		l.container.AddToResidency(ev.Allocation())

		if l.inOrder == nil {
			return result.Success, nil
		}
		return l.encodeCounterSignal(0)
	})
}

type memAdvisor interface {
	SetMemAdvice(alloc *memory.GraphicsAllocation, advice memory.MemAdvice) (common.VkResult, error)
}

// AppendMemAdvise passes a placement hint for alloc to the allocator. Hints the allocator cannot
// act on are ignored. Nothing is recorded.
func (l *CommandList) AppendMemAdvise(alloc *memory.GraphicsAllocation, advice memory.MemAdvice) (result.Result, error) {
	l.logger.Debug("CommandList::AppendMemAdvise")

	if res, err := l.checkRecording(); err != nil {
		return res, err
	}
	if alloc == nil {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the allocation is nil")
	}

	advisor, ok := l.allocator.(memAdvisor)
	if !ok {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Ignoring memory advice", slog.String("allocation", alloc.Name()))
		return result.Success, nil
	}

	vkRes, err := advisor.SetMemAdvice(alloc, advice)
	if vkRes == core1_0.VKErrorFeatureNotPresent {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Ignoring memory advice",
			slog.String("allocation", alloc.Name()),
			slog.String("pool", alloc.Pool().String()),
		)
		return result.Success, nil
	}
	if err != nil {
		res := result.FromVkResult(vkRes)
		return res, result.Wrapf(res, err, "could not advise %s", alloc.Name())
	}
	return result.Success, nil
}

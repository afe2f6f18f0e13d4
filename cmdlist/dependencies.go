package cmdlist

import (
	"context"

	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/event"
	"github.com/vkngwrapper/dispatch/inorder"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/relaxed"
	"github.com/vkngwrapper/dispatch/result"
	"github.com/vkngwrapper/dispatch/streamprops"
	"golang.org/x/exp/slog"
)

// dependency is one value an append must see in memory before it starts
type dependency struct {
	address    uint64
	target     uint64
	partitions int
	// ownCounter marks waits on the list's regular in-order counter, whose target is relative to
	// the execution and gets patched
	ownCounter bool
}

func validateEvents(events []*event.Event) (result.Result, error) {
	for i, ev := range events {
		if ev == nil {
			return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "event %d is nil", i)
		}
		if ev.QueryStatus() == result.ErrorInvalidArgument {
			return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "event %d belongs to a destroyed pool", i)
		}
	}
	return result.Success, nil
}

// collectDependencies gathers the wait events and, for in-order lists, the previous append
func (l *CommandList) collectDependencies(waits []*event.Event, afterPrevious bool) []dependency {
	deps := make([]dependency, 0, len(waits)+1)
	for _, ev := range waits {
		deps = append(deps, dependency{address: ev.GPUAddress(), target: event.StateSignaled, partitions: 1})
		l.container.AddToResidency(ev.Allocation())
	}

	if !afterPrevious || l.inOrder == nil || l.inOrder.CounterValue() == 0 {
		return deps
	}

	value := l.inOrder.CounterValue()
	regular := l.inOrder.IsRegular()
	if !regular && l.inOrder.IsCounterAlreadyDone(value) {
		return deps
	}
	return append(deps, dependency{
		address:    l.inOrder.DeviceAddress(),
		target:     value,
		partitions: l.inOrder.PartitionCount(),
		ownCounter: regular,
	})
}

func (l *CommandList) relaxedOrderingActive() bool {
	return l.options.Engine == EngineCompute &&
		l.caps.RelaxedOrderingSupported &&
		l.options.Backend != nil &&
		l.options.Backend.RelaxedOrderingActive()
}

// encodeDependencies emits the waits for deps. Relaxed ordering replaces semaphore waits with
// dynamic sections polling the same values.
func (l *CommandList) encodeDependencies(deps []dependency, stalling bool) (result.Result, error) {
	l.heuristic.Record(len(deps) > 0)
	if len(deps) == 0 {
		return result.Success, nil
	}

	useRelaxed := relaxed.Decide(relaxed.Inputs{
		BackendActive:      l.relaxedOrderingActive(),
		Stalling:           stalling,
		FirstInOrder:       l.inOrder != nil && l.appendCount == 0,
		Dependencies:       len(deps),
		Threshold:          l.options.Config.ResolvedRelaxedOrderingThreshold(),
		HeuristicEnabled:   l.options.Config.RelaxedOrderingCounterHeuristic,
		HeuristicSatisfied: l.heuristic.Satisfied(),
	})

	for _, dep := range deps {
		var res result.Result
		var err error
		if useRelaxed {
			res, err = l.encodeDynamicSection(dep)
		} else {
			res, err = l.encodeSemaphoreWaits(dep)
		}
		if err != nil {
			return res, err
		}
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Encoded dependencies",
		slog.Int("dependencies", len(deps)),
		slog.Bool("relaxed", useRelaxed),
	)
	return result.Success, nil
}

func (l *CommandList) encodeDynamicSection(dep dependency) (result.Result, error) {
	section := relaxed.DynamicSection{
		CounterAddress: dep.address,
		Target:         dep.target,
		Partitions:     dep.partitions,
	}
	loc, res, err := relaxed.AppendDynamicSection(l.container, section)
	if err != nil {
		return res, err
	}

	if dep.ownCounter {
		l.patches = append(l.patches, inorder.NewPatchCmd(l.inOrder, loc, inorder.PatchLoadRegisterImm, dep.target))
	} else if l.appendCount == 0 && l.firstDependency == nil {
		l.firstDependency = &section
	}

	l.hasRelaxedDependencies = true
	l.chunkRelaxed = true
	return result.Success, nil
}

func (l *CommandList) encodeSemaphoreWaits(dep dependency) (result.Result, error) {
	partitions := memutils.Max(dep.partitions, 1)
	waits := make([]cmds.Command, 0, partitions)
	for p := 0; p < partitions; p++ {
		waits = append(waits, &cmds.SemaphoreWait{
			Address: dep.address + uint64(p*inorder.SlotSize),
			Value:   dep.target,
			Compare: cmds.CompareGreaterOrEqual,
		})
	}

	locations, res, err := l.container.EncodeEach(waits...)
	if err != nil {
		return res, err
	}
	if dep.ownCounter {
		for _, loc := range locations {
			l.patches = append(l.patches, inorder.NewPatchCmd(l.inOrder, loc, inorder.PatchSemaphoreWait, dep.target))
		}
	}
	return result.Success, nil
}

// stall drains the work recorded so far on the list's engine
func (l *CommandList) stall() cmds.Command {
	if l.options.Engine == EngineCopy {
		return &cmds.FlushDw{}
	}
	return &cmds.PipeControl{Flags: cmds.PipeControlCommandStreamerStall}
}

// transitionTo returns the commands that put the engine in the desired state. The first requirement
// of a regular list is left to the queue that executes it and recorded as the list's required state.
func (l *CommandList) transitionTo(desired streamprops.Properties) []cmds.Command {
	if l.options.Engine == EngineCopy {
		return nil
	}

	if l.options.Type == ListTypeRegular {
		if desired.Pipeline.Set && !l.finalState.Pipeline.Set {
			l.requiredState.Pipeline = desired.Pipeline
			l.finalState.Pipeline = desired.Pipeline
		}
		if desired.FrontEnd.Set && !l.finalState.FrontEnd.Set {
			l.requiredState.FrontEnd = desired.FrontEnd
			l.finalState.FrontEnd = desired.FrontEnd
		}
		if desired.StateBase.Set && !l.finalState.StateBase.Set {
			l.requiredState.StateBase = desired.StateBase
			l.finalState.StateBase = desired.StateBase
		}
	}

	commands := l.finalState.TransitionTo(desired)
	l.finalState.Merge(desired)
	return commands
}

// nextCounterValue advances the in-order counter and returns the value the append signals
func (l *CommandList) nextCounterValue() uint64 {
	l.inOrder.AddCounterValue(1)
	l.container.AddToResidency(l.inOrder.Allocations()...)
	return l.inOrder.CounterValue()
}

func (l *CommandList) recordPatches(locations []container.Location, kind inorder.PatchKind, value uint64) {
	if !l.inOrder.IsRegular() {
		return
	}
	for _, loc := range locations {
		l.patches = append(l.patches, inorder.NewPatchCmd(l.inOrder, loc, kind, value))
	}
}

// encodeCounterSignal signals the in-order counter once everything recorded so far completes. On a
// single-slot counter without a host mirror the compute engine folds the signal into one PipeControl
// carrying flags.
func (l *CommandList) encodeCounterSignal(flags cmds.PipeControlFlags) (result.Result, error) {
	value := l.nextCounterValue()

	if l.options.Engine == EngineCompute && l.inOrder.PartitionCount() == 1 && l.inOrder.HostAddress() == 0 {
		loc, res, err := l.container.Encode(&cmds.PipeControl{
			Flags:    flags | cmds.PipeControlCommandStreamerStall,
			PostSync: cmds.PostSyncWriteImmediate,
			Address:  l.inOrder.DeviceAddress(),
			Value:    value,
		})
		if err != nil {
			return res, err
		}
		l.recordPatches([]container.Location{loc}, inorder.PatchPipeControlPostSync, value)
		return result.Success, nil
	}

	stall := l.stall()
	if pc, ok := stall.(*cmds.PipeControl); ok {
		pc.Flags |= flags
	}
	if _, res, err := l.container.Encode(stall); err != nil {
		return res, err
	}
	return l.encodeStores(l.inOrder.SignalCommands(value), value)
}

func (l *CommandList) encodeStores(stores []cmds.Command, value uint64) (result.Result, error) {
	locations, res, err := l.container.EncodeEach(stores...)
	if err != nil {
		return res, err
	}
	l.recordPatches(locations, inorder.PatchStoreDataImm, value)
	return result.Success, nil
}

// encodeEventSignal signals ev once everything recorded so far completes
func (l *CommandList) encodeEventSignal(ev *event.Event) (result.Result, error) {
	if ev == nil {
		return result.Success, nil
	}

	commands := append([]cmds.Command{l.stall()}, ev.SignalCommands()...)
	if _, res, err := l.container.Encode(commands...); err != nil {
		return res, err
	}
	l.container.AddToResidency(ev.Allocation())
	return result.Success, nil
}

// encodeCompletion signals the in-order counter and the signal event of an append that did not
// signal the counter itself
func (l *CommandList) encodeCompletion(flags cmds.PipeControlFlags, signal *event.Event) (result.Result, error) {
	if l.inOrder != nil {
		if res, err := l.encodeCounterSignal(flags); err != nil {
			return res, err
		}
	}
	return l.encodeEventSignal(signal)
}

package streamprops

import (
	"github.com/vkngwrapper/dispatch/cmds"
)

// FrontEnd is the front-end state a dispatch needs
type FrontEnd struct {
	CooperativeDispatch bool
	DisableOverdispatch bool
}

// Pipeline is the pipeline a dispatch runs on
type Pipeline struct {
	Pipeline     cmds.Pipeline
	SystolicMode bool
}

// StateBase is the set of heap base addresses commands are relative to
type StateBase struct {
	SurfaceStateBase   uint64
	DynamicStateBase   uint64
	IndirectObjectBase uint64
}

// Tracked is one piece of stream state. An unset value places no requirement on the engine.
type Tracked[T comparable] struct {
	Value T
	Set   bool
}

// Update records v and returns true if it differs from the tracked value or nothing was tracked yet
func (t *Tracked[T]) Update(v T) bool {
	if t.Set && t.Value == v {
		return false
	}
	t.Value = v
	t.Set = true
	return true
}

// Differs returns true if required places a requirement that t does not already satisfy
func (t Tracked[T]) Differs(required Tracked[T]) bool {
	return required.Set && (!t.Set || t.Value != required.Value)
}

// Properties is the engine state a command stream requires or leaves behind
type Properties struct {
	FrontEnd  Tracked[FrontEnd]
	Pipeline  Tracked[Pipeline]
	StateBase Tracked[StateBase]
}

// IsEmpty returns true if no state is tracked
func (p Properties) IsEmpty() bool {
	return !p.FrontEnd.Set && !p.Pipeline.Set && !p.StateBase.Set
}

// Clear forgets all tracked state
func (p *Properties) Clear() {
	*p = Properties{}
}

// Merge overwrites p with every value set in later
func (p *Properties) Merge(later Properties) {
	if later.FrontEnd.Set {
		p.FrontEnd = later.FrontEnd
	}
	if later.Pipeline.Set {
		p.Pipeline = later.Pipeline
	}
	if later.StateBase.Set {
		p.StateBase = later.StateBase
	}
}

// TransitionTo returns the commands that move an engine in state p into a state satisfying required.
// State already in place produces no commands.
func (p Properties) TransitionTo(required Properties) []cmds.Command {
	var commands []cmds.Command

	if p.Pipeline.Differs(required.Pipeline) {
		commands = append(commands, PipelineSelectCommand(required.Pipeline.Value))
	}
	if p.FrontEnd.Differs(required.FrontEnd) {
		commands = append(commands, FrontEndCommand(required.FrontEnd.Value))
	}
	if p.StateBase.Differs(required.StateBase) {
		commands = append(commands, StateBaseCommands(required.StateBase.Value)...)
	}

	return commands
}

func PipelineSelectCommand(state Pipeline) cmds.Command {
	return &cmds.PipelineSelect{Pipeline: state.Pipeline, SystolicMode: state.SystolicMode}
}

func FrontEndCommand(state FrontEnd) cmds.Command {
	return &cmds.FrontEndState{CooperativeDispatch: state.CooperativeDispatch, DisableOverdispatch: state.DisableOverdispatch}
}

// StateBaseCommands reprograms heap base addresses. Work in flight still reads through the old
// bases, so the change is preceded by a stalling flush.
func StateBaseCommands(state StateBase) []cmds.Command {
	return []cmds.Command{
		&cmds.PipeControl{
			Flags: cmds.PipeControlCommandStreamerStall | cmds.PipeControlStateCacheInvalidate | cmds.PipeControlTextureCacheInvalidate,
		},
		&cmds.StateBaseAddress{
			SurfaceStateBase:   state.SurfaceStateBase,
			DynamicStateBase:   state.DynamicStateBase,
			IndirectObjectBase: state.IndirectObjectBase,
		},
	}
}

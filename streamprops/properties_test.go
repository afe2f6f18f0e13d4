package streamprops

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/cmds"
)

func TestTrackedUpdate(t *testing.T) {
	var tracked Tracked[FrontEnd]
	require.True(t, tracked.Update(FrontEnd{}))
	require.False(t, tracked.Update(FrontEnd{}))
	require.True(t, tracked.Update(FrontEnd{CooperativeDispatch: true}))
}

func TestTransitionTo(t *testing.T) {
	compute := Tracked[Pipeline]{Value: Pipeline{Pipeline: cmds.PipelineCompute}, Set: true}
	cooperative := Tracked[FrontEnd]{Value: FrontEnd{CooperativeDispatch: true}, Set: true}
	regular := Tracked[FrontEnd]{Value: FrontEnd{}, Set: true}
	heaps := Tracked[StateBase]{Value: StateBase{SurfaceStateBase: 0x1000}, Set: true}

	testCases := map[string]struct {
		Current  Properties
		Required Properties
		Expected []cmds.Opcode
	}{
		"NothingRequired": {
			Current:  Properties{Pipeline: compute},
			Required: Properties{},
			Expected: nil,
		},
		"FreshEngine": {
			Current:  Properties{},
			Required: Properties{Pipeline: compute, FrontEnd: regular, StateBase: heaps},
			Expected: []cmds.Opcode{cmds.OpcodePipelineSelect, cmds.OpcodeFrontEndState, cmds.OpcodePipeControl, cmds.OpcodeStateBaseAddress},
		},
		"AlreadySatisfied": {
			Current:  Properties{Pipeline: compute, FrontEnd: regular},
			Required: Properties{Pipeline: compute, FrontEnd: regular},
			Expected: nil,
		},
		"FrontEndFlip": {
			Current:  Properties{Pipeline: compute, FrontEnd: regular},
			Required: Properties{Pipeline: compute, FrontEnd: cooperative},
			Expected: []cmds.Opcode{cmds.OpcodeFrontEndState},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			var opcodes []cmds.Opcode
			for _, cmd := range testCase.Current.TransitionTo(testCase.Required) {
				opcodes = append(opcodes, cmd.Opcode())
			}
			require.Equal(t, testCase.Expected, opcodes)
		})
	}
}

func TestMerge(t *testing.T) {
	state := Properties{
		Pipeline: Tracked[Pipeline]{Value: Pipeline{Pipeline: cmds.PipelineCompute}, Set: true},
		FrontEnd: Tracked[FrontEnd]{Value: FrontEnd{}, Set: true},
	}

	state.Merge(Properties{FrontEnd: Tracked[FrontEnd]{Value: FrontEnd{CooperativeDispatch: true}, Set: true}})
	require.True(t, state.FrontEnd.Value.CooperativeDispatch)
	require.Equal(t, cmds.PipelineCompute, state.Pipeline.Value.Pipeline)

	state.Clear()
	require.True(t, state.IsEmpty())
}

package cmdqueue

import (
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/event"
	"github.com/vkngwrapper/dispatch/inorder"
	"github.com/vkngwrapper/dispatch/relaxed"
	"github.com/vkngwrapper/dispatch/streamprops"
)

//go:generate mockgen -destination mocks/list.go -package mocks github.com/vkngwrapper/dispatch/cmdqueue CommandList

// CommandList is what a queue needs from a recorded command list
type CommandList interface {
	IsClosed() bool
	IsCopyOnly() bool

	// Container holds the recorded commands. Closed lists end in a BatchBufferEnd, so the queue
	// calls them as second-level batches.
	Container() *container.Container

	// RequiredState is the stream state the first command of the list depends on
	RequiredState() streamprops.Properties
	// FinalState is the stream state the list leaves the engine in
	FinalState() streamprops.Properties

	// InOrderExecInfo is the list's in-order counter, or nil
	InOrderExecInfo() *inorder.ExecInfo
	// PatchList holds the commands whose counter operands are rewritten on every execution
	PatchList() inorder.PatchList

	// HasRelaxedOrderingDependencies returns true if the list contains dynamic sections
	HasRelaxedOrderingDependencies() bool
	// RelaxedDependency is the dependency gating the start of the list, if it has one
	RelaxedDependency() (relaxed.DynamicSection, bool)
}

// ImmediateChunk is one append of an immediate list: a run of commands ending in a BatchBufferEnd
type ImmediateChunk struct {
	StartAddress uint64
	// Relaxed marks a chunk containing dynamic sections
	Relaxed bool
	// Signal is host-signalled after a synchronous completion if the commands did not signal it
	Signal *event.Event
	// CounterValue is the in-order counter value the chunk signals. The list's counter is marked
	// waited up to it after a synchronous completion.
	CounterValue uint64
}

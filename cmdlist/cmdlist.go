// Package cmdlist records API-level operations into hardware command streams. A command list is
// either regular, recorded once and executed by a queue any number of times, or immediate, where
// every append is submitted through a private queue as soon as it is recorded.
package cmdlist

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/cmdqueue"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/config"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/csr"
	"github.com/vkngwrapper/dispatch/event"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/inorder"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/relaxed"
	"github.com/vkngwrapper/dispatch/result"
	"github.com/vkngwrapper/dispatch/streamprops"
	"golang.org/x/exp/slog"
)

// ListType is how a list is submitted
type ListType uint8

const (
	// ListTypeRegular lists are closed and then executed by a queue
	ListTypeRegular ListType = iota
	// ListTypeImmediate lists submit every append as it is recorded
	ListTypeImmediate
)

var listTypeMapping = map[ListType]string{
	ListTypeRegular:   "Regular",
	ListTypeImmediate: "Immediate",
}

func (t ListType) String() string {
	str, ok := listTypeMapping[t]
	if !ok {
		return fmt.Sprintf("ListType(%d)", uint8(t))
	}
	return str
}

// EngineGroup is the engine a list records for
type EngineGroup uint8

const (
	EngineCompute EngineGroup = iota
	// EngineCopy lists only record copies, fills and synchronization, and never program pipeline state
	EngineCopy
)

var engineGroupMapping = map[EngineGroup]string{
	EngineCompute: "Compute",
	EngineCopy:    "Copy",
}

func (g EngineGroup) String() string {
	str, ok := engineGroupMapping[g]
	if !ok {
		return fmt.Sprintf("EngineGroup(%d)", uint8(g))
	}
	return str
}

// SyncMode is whether an immediate list waits for each append to complete
type SyncMode uint8

const (
	SyncModeAsynchronous SyncMode = iota
	SyncModeSynchronous
)

type listState uint8

const (
	stateInitialized listState = iota
	stateRecording
	stateClosed
	stateDestroyed
)

var listStateMapping = map[listState]string{
	stateInitialized: "Initialized",
	stateRecording:   "Recording",
	stateClosed:      "Closed",
	stateDestroyed:   "Destroyed",
}

func (s listState) String() string {
	return listStateMapping[s]
}

// CreateOptions contains optional settings when creating a command list
type CreateOptions struct {
	Type   ListType
	Engine EngineGroup
	// InOrder orders every append after the previous one with an in-order counter
	InOrder bool
	// Mode applies to immediate lists only
	Mode SyncMode
	// Backend is where immediate lists submit. Regular lists use it, when present, to decide whether
	// dependencies can use relaxed ordering and to upload counter resets.
	Backend csr.Backend
	Config  config.EncoderConfig
	// SyncTimeout bounds the waits of synchronous immediate lists. Zero waits until the work
	// completes or the engine hangs.
	SyncTimeout time.Duration
	// SharedInOrderInfo is a counter released by an earlier list. It is reused instead of allocating
	// new storage when it is compatible with this list.
	SharedInOrderInfo *inorder.ExecInfo
}

// CommandList records commands into a command buffer container. It is not safe for concurrent use.
type CommandList struct {
	logger    *slog.Logger
	allocator memory.Allocator
	caps      hwinfo.Capabilities
	options   CreateOptions
	encoder   encoder

	state     listState
	container *container.Container
	inOrder   *inorder.ExecInfo
	patches   inorder.PatchList
	heuristic *relaxed.Heuristic

	requiredState streamprops.Properties
	finalState    streamprops.Properties

	appendCount            int
	hasRelaxedDependencies bool
	firstDependency        *relaxed.DynamicSection

	queue        *cmdqueue.Queue
	chunkStart   uint64
	chunkRelaxed bool
	deviceLost   bool
}

var _ cmdqueue.CommandList = &CommandList{}

// New creates a command list for a product family. Families without an encoder return a nil list
// and ErrorUninitialized.
func New(logger *slog.Logger, family hwinfo.ProductFamily, allocator memory.Allocator, options CreateOptions) (*CommandList, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if allocator == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "an allocator is required")
	}

	factory, hasEncoder := encoderFactories[family]
	caps, hasCaps := hwinfo.Lookup(family)
	if !hasEncoder || !hasCaps {
		return nil, result.ErrorUninitialized, result.Errorf(result.ErrorUninitialized, "command lists are not supported on %s", family)
	}
	if options.Type == ListTypeImmediate && options.Backend == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "immediate lists need a submission backend")
	}

	caps = caps.WithOverrides(options.Config)
	l := &CommandList{
		logger:    logger,
		allocator: allocator,
		caps:      caps,
		options:   options,
		encoder:   factory(caps),
		state:     stateInitialized,
		heuristic: relaxed.NewHeuristic(options.Config.ResolvedRelaxedOrderingQueueDepth()),
	}

	var res result.Result
	var err error
	l.container, res, err = container.New(logger, allocator, container.CreateOptions{
		BufferSize:     options.Config.ResolvedCommandBufferSize(),
		HeapAddressing: caps.HeapAddressing,
	})
	if err != nil {
		return nil, res, err
	}

	if options.InOrder {
		res, err = l.enableInOrder()
		if err != nil {
			_ = l.container.Destroy()
			return nil, res, err
		}
	}

	if options.Type == ListTypeImmediate {
		l.queue, res, err = cmdqueue.New(logger, options.Backend, allocator, caps, cmdqueue.CreateOptions{
			Flags:       cmdqueue.QueueCreateExternallySynchronized,
			Config:      options.Config,
			Synchronous: options.Mode == SyncModeSynchronous,
			SyncTimeout: options.SyncTimeout,
			CopyOnly:    options.Engine == EngineCopy,
		})
		if err != nil {
			_ = l.destroyResources()
			return nil, res, err
		}
	}

	l.state = stateRecording
	logger.LogAttrs(context.Background(), slog.LevelDebug, "Command list created",
		slog.String("family", family.String()),
		slog.String("type", options.Type.String()),
		slog.String("engine", options.Engine.String()),
		slog.Bool("inOrder", options.InOrder),
	)
	return l, result.Success, nil
}

func (l *CommandList) inOrderOptions() inorder.Options {
	return inorder.Options{
		PartitionCount: l.caps.CounterSlots(),
		HostMirror:     l.options.Config.InOrderHostMirror.Apply(false),
		Regular:        l.options.Type == ListTypeRegular,
	}
}

// memoryWriter is the backend as the in-order counter sees it, or nil without one
func (l *CommandList) memoryWriter() inorder.MemoryWriter {
	if l.options.Backend == nil {
		return nil
	}
	return l.options.Backend
}

// enableInOrder takes over the shared counter when it fits and allocates one otherwise
func (l *CommandList) enableInOrder() (result.Result, error) {
	options := l.inOrderOptions()

	shared := l.options.SharedInOrderInfo
	if shared != nil && shared.Compatible(options) {
		info, err := shared.Reuse(l.memoryWriter())
		if err != nil {
			return result.Of(err), err
		}
		l.inOrder = info
		return result.Success, nil
	}

	info, res, err := inorder.New(l.logger, l.allocator, options)
	if err != nil {
		return res, err
	}
	l.inOrder = info
	return result.Success, nil
}

// checkRecording fails appends made outside the recording state
func (l *CommandList) checkRecording() (result.Result, error) {
	switch l.state {
	case stateDestroyed:
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the command list was destroyed")
	case stateRecording:
	default:
		return result.NotReady, result.Errorf(result.NotReady, "the command list is %s", l.state)
	}
	if l.deviceLost {
		return result.ErrorDeviceLost, result.Errorf(result.ErrorDeviceLost, "the device was lost during an earlier append")
	}
	return result.Success, nil
}

func (l *CommandList) isImmediate() bool {
	return l.options.Type == ListTypeImmediate
}

// appendCheckpoint is the recording state before an append. A failed append restores it, leaving
// the list as if the append had never been made.
type appendCheckpoint struct {
	container              container.Checkpoint
	counterValue           uint64
	patches                int
	requiredState          streamprops.Properties
	finalState             streamprops.Properties
	heuristic              relaxed.Heuristic
	appendCount            int
	hasRelaxedDependencies bool
	firstDependency        *relaxed.DynamicSection
}

func (l *CommandList) checkpoint() appendCheckpoint {
	cp := appendCheckpoint{
		container:              l.container.Checkpoint(),
		patches:                len(l.patches),
		requiredState:          l.requiredState,
		finalState:             l.finalState,
		heuristic:              *l.heuristic,
		appendCount:            l.appendCount,
		hasRelaxedDependencies: l.hasRelaxedDependencies,
		firstDependency:        l.firstDependency,
	}
	if l.inOrder != nil {
		cp.counterValue = l.inOrder.CounterValue()
	}
	return cp
}

// rollback restores cp and returns the append's failure
func (l *CommandList) rollback(cp appendCheckpoint, res result.Result, err error) (result.Result, error) {
	if rollbackErr := l.container.Rollback(cp.container); rollbackErr != nil {
		err = errors.CombineErrors(err, rollbackErr)
	}
	if l.inOrder != nil {
		l.inOrder.RestoreCounterValue(cp.counterValue)
	}

	clear(l.patches[cp.patches:])
	l.patches = l.patches[:cp.patches]
	l.requiredState = cp.requiredState
	l.finalState = cp.finalState
	*l.heuristic = cp.heuristic
	l.appendCount = cp.appendCount
	l.hasRelaxedDependencies = cp.hasRelaxedDependencies
	l.firstDependency = cp.firstDependency

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Rolled back failed append",
		slog.String("result", res.String()),
		slog.Any("error", err),
	)
	return res, err
}

// record runs body as one append. An immediate append is submitted once body succeeds. Any failure
// before the commands reach the backend rolls the list back.
func (l *CommandList) record(signal *event.Event, body func() (result.Result, error)) (result.Result, error) {
	cp := l.checkpoint()
	if l.isImmediate() {
		l.chunkStart = l.container.GPUAddress(l.container.CurrentLocation())
		l.chunkRelaxed = false
	}

	if res, err := body(); err != nil {
		return l.rollback(cp, res, err)
	}

	l.appendCount++
	if !l.isImmediate() {
		return result.Success, nil
	}

	if _, res, err := l.container.Encode(&cmds.BatchBufferEnd{}); err != nil {
		return l.rollback(cp, res, err)
	}

	chunk := cmdqueue.ImmediateChunk{
		StartAddress: l.chunkStart,
		Relaxed:      l.chunkRelaxed,
		Signal:       signal,
	}
	if l.inOrder != nil {
		chunk.CounterValue = l.inOrder.CounterValue()
	}

	lastStamp := l.queue.LastStamp()
	res, err := l.queue.ExecuteImmediate(l, chunk)
	if res == result.ErrorDeviceLost {
		l.deviceLost = true
	}
	if err != nil && l.queue.LastStamp() == lastStamp {
		return l.rollback(cp, res, err)
	}
	return res, err
}

// Close ends recording. Closing a closed list does nothing. Immediate lists are never closed.
func (l *CommandList) Close() (result.Result, error) {
	l.logger.Debug("CommandList::Close")

	switch {
	case l.state == stateDestroyed:
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the command list was destroyed")
	case l.state == stateClosed, l.isImmediate():
		return result.Success, nil
	}

	if _, res, err := l.container.Encode(&cmds.BatchBufferEnd{}); err != nil {
		return res, err
	}
	l.state = stateClosed
	return result.Success, nil
}

// Reset discards everything recorded and returns the list to recording. Recording the same appends
// again reproduces the same bytes.
func (l *CommandList) Reset() (result.Result, error) {
	l.logger.Debug("CommandList::Reset")

	if l.state == stateDestroyed {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the command list was destroyed")
	}

	// Submitted immediate appends still read the container
	if l.isImmediate() && !l.deviceLost {
		if res, err := l.queue.Synchronize(-1); err != nil {
			return res, err
		}
	}

	if err := l.container.Reset(); err != nil {
		return result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not reset the command buffer container")
	}

	if l.inOrder != nil {
		if res, err := l.resetInOrder(); err != nil {
			return res, err
		}
	}

	l.patches = nil
	l.heuristic.Reset()
	l.requiredState.Clear()
	l.finalState.Clear()
	l.appendCount = 0
	l.hasRelaxedDependencies = false
	l.firstDependency = nil
	l.state = stateRecording
	return result.Success, nil
}

// resetInOrder zeroes the counter, or replaces it when another list still holds it
func (l *CommandList) resetInOrder() (result.Result, error) {
	if l.inOrder.References() == 1 {
		if err := l.inOrder.Reset(l.memoryWriter()); err != nil {
			return result.Of(err), err
		}
		return result.Success, nil
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "Reallocating shared in-order counter",
		slog.Int("references", l.inOrder.References()),
	)

	info, res, err := inorder.New(l.logger, l.allocator, l.inOrderOptions())
	if err != nil {
		return res, err
	}
	if err := l.inOrder.Release(); err != nil {
		_ = info.Release()
		return result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not release the shared in-order counter")
	}
	l.inOrder = info
	return result.Success, nil
}

// HostSynchronize waits for every append of an immediate list to complete. A negative timeout waits
// forever and a zero timeout only polls.
func (l *CommandList) HostSynchronize(timeout time.Duration) (result.Result, error) {
	l.logger.Debug("CommandList::HostSynchronize")

	if l.state == stateDestroyed {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the command list was destroyed")
	}
	if !l.isImmediate() {
		return result.ErrorUnsupportedFeature, result.Errorf(result.ErrorUnsupportedFeature, "only immediate lists can be synchronized; synchronize the queue that executes a regular list")
	}

	res, err := l.queue.Synchronize(timeout)
	if res == result.ErrorDeviceLost {
		l.deviceLost = true
	}
	if res == result.Success && l.inOrder != nil {
		l.inOrder.SetLastWaitedCounterValue(l.inOrder.SubmittedCounterValue())
	}
	return res, err
}

func (l *CommandList) destroyResources() error {
	var errs error
	if l.queue != nil {
		errs = errors.CombineErrors(errs, l.queue.Destroy())
		l.queue = nil
	}
	if l.inOrder != nil {
		errs = errors.CombineErrors(errs, l.inOrder.Release())
		l.inOrder = nil
	}
	return errors.CombineErrors(errs, l.container.Destroy())
}

// Destroy waits for an immediate list's submissions and frees everything the list owns
func (l *CommandList) Destroy() error {
	l.logger.Debug("CommandList::Destroy")

	if l.state == stateDestroyed {
		return nil
	}
	l.state = stateDestroyed
	return l.destroyResources()
}

func (l *CommandList) IsClosed() bool {
	return l.state == stateClosed
}

func (l *CommandList) IsCopyOnly() bool {
	return l.options.Engine == EngineCopy
}

func (l *CommandList) Type() ListType {
	return l.options.Type
}

func (l *CommandList) Capabilities() hwinfo.Capabilities {
	return l.caps
}

func (l *CommandList) Container() *container.Container {
	return l.container
}

func (l *CommandList) RequiredState() streamprops.Properties {
	return l.requiredState
}

func (l *CommandList) FinalState() streamprops.Properties {
	return l.finalState
}

func (l *CommandList) InOrderExecInfo() *inorder.ExecInfo {
	return l.inOrder
}

func (l *CommandList) PatchList() inorder.PatchList {
	return l.patches
}

func (l *CommandList) HasRelaxedOrderingDependencies() bool {
	return l.hasRelaxedDependencies
}

// RelaxedDependency is the dependency the first append waits on, when it waits on a value that never
// needs patching
func (l *CommandList) RelaxedDependency() (relaxed.DynamicSection, bool) {
	if l.firstDependency == nil {
		return relaxed.DynamicSection{}, false
	}
	return *l.firstDependency, true
}

// Queue is the private queue of an immediate list
func (l *CommandList) Queue() *cmdqueue.Queue {
	return l.queue
}

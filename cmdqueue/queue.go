// Package cmdqueue submits closed command lists to a submission backend. A batch of lists is
// reconciled against the stream state the queue last left the engine in, regular in-order lists are
// patched for the execution, and the lists are called as second-level batches from a short stream
// the queue records itself.
package cmdqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/config"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/csr"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/inorder"
	"github.com/vkngwrapper/dispatch/internal/utils"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/relaxed"
	"github.com/vkngwrapper/dispatch/result"
	"github.com/vkngwrapper/dispatch/streamprops"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific queue behaviors to activate or deactivate
type CreateFlags int32

var queueCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	queueCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return queueCreateFlagsMapping.FlagsToString(f)
}

const (
	// QueueCreateExternallySynchronized ensures that this queue will not be synchronized internally.
	// The consumer must guarantee it is used from only one thread at a time.
	QueueCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	QueueCreateExternallySynchronized.Register("QueueCreateExternallySynchronized")
}

const schedulerDataSize = 4096

// CreateOptions contains optional settings when creating a queue
type CreateOptions struct {
	Flags  CreateFlags
	Config config.EncoderConfig
	// Synchronous makes every submission block until the backend reports it complete
	Synchronous bool
	// SyncTimeout bounds synchronous waits. Zero waits until the work completes or the engine hangs.
	SyncTimeout time.Duration
	// CopyOnly creates a queue on the copy engine. It only accepts copy-only lists.
	CopyOnly bool
}

type submissionBuffer struct {
	container *container.Container
	stamp     uint64
}

// Queue aggregates closed command lists into submissions. A queue is not reentrant: concurrent
// submissions are serialized unless it was created externally synchronized.
type Queue struct {
	logger    *slog.Logger
	backend   csr.Backend
	allocator memory.Allocator
	caps      hwinfo.Capabilities
	options   CreateOptions

	mutex utils.OptionalMutex

	streamState   streamprops.Properties
	buffers       []*submissionBuffer
	schedulerData *memory.GraphicsAllocation

	lastStamp  uint64
	deviceLost bool
	destroyed  bool
}

// New creates a queue and registers it as a client of the backend
func New(logger *slog.Logger, backend csr.Backend, allocator memory.Allocator, caps hwinfo.Capabilities, options CreateOptions) (*Queue, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if backend == nil || allocator == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a queue needs a backend and an allocator")
	}
	if err := caps.Validate(); err != nil {
		return nil, result.ErrorInvalidArgument, result.Wrapf(result.ErrorInvalidArgument, err, "bad capabilities for %s", caps.Family)
	}
	if options.SyncTimeout == 0 {
		options.SyncTimeout = -1
	}

	q := &Queue{
		logger:    logger,
		backend:   backend,
		allocator: allocator,
		caps:      caps.WithOverrides(options.Config),
		options:   options,
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&QueueCreateExternallySynchronized == 0,
		},
	}

	clients := backend.RegisterClient()
	logger.LogAttrs(context.Background(), slog.LevelDebug, "Queue created",
		slog.String("family", caps.Family.String()),
		slog.Bool("copy", options.CopyOnly),
		slog.Bool("synchronous", options.Synchronous),
		slog.Int("backend.clients", clients),
	)
	return q, result.Success, nil
}

func (q *Queue) checkUsable() (result.Result, error) {
	if q.destroyed {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the queue was destroyed")
	}
	if q.deviceLost {
		return result.ErrorDeviceLost, result.Errorf(result.ErrorDeviceLost, "the device was lost during an earlier submission")
	}
	return result.Success, nil
}

func (q *Queue) markDeviceLost(err error) {
	q.deviceLost = true
	q.logger.LogAttrs(context.Background(), slog.LevelError, "Device lost",
		slog.Uint64("stamp", q.lastStamp),
		slog.Any("error", err),
	)
}

// wait blocks until stamp completes. A hang makes the queue permanently unusable.
func (q *Queue) wait(stamp uint64, timeout time.Duration) (result.Result, error) {
	status, err := q.backend.WaitForCompletion(stamp, timeout)
	switch status {
	case csr.WaitSuccess:
		return result.Success, nil
	case csr.WaitTimeout:
		return result.NotReady, nil
	case csr.WaitGPUHang:
		q.markDeviceLost(err)
		return result.ErrorDeviceLost, result.Wrapf(result.ErrorDeviceLost, err, "the engine hung before stamp %d", stamp)
	}
	return result.ErrorUnknown, result.Errorf(result.ErrorUnknown, "unknown wait status %s", status)
}

// acquireBuffer returns a submission buffer whose last submission has completed, or a new one
func (q *Queue) acquireBuffer() (*submissionBuffer, result.Result, error) {
	completed := q.backend.CompletedStamp()
	for _, buffer := range q.buffers {
		if buffer.stamp <= completed {
			if err := buffer.container.Reset(); err != nil {
				return nil, result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not reset a submission buffer")
			}
			return buffer, result.Success, nil
		}
	}

	c, res, err := container.New(q.logger, q.allocator, container.CreateOptions{
		BufferSize:     q.options.Config.ResolvedCommandBufferSize(),
		HeapAddressing: q.caps.HeapAddressing,
	})
	if err != nil {
		return nil, res, err
	}

	buffer := &submissionBuffer{container: c}
	q.buffers = append(q.buffers, buffer)
	return buffer, result.Success, nil
}

func (q *Queue) validateLists(lists []CommandList) (result.Result, error) {
	for i, list := range lists {
		if list == nil {
			return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "command list %d is nil", i)
		}
		if !list.IsClosed() {
			return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "command list %d is still recording", i)
		}
		if q.options.CopyOnly && !list.IsCopyOnly() {
			return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "command list %d was recorded for the compute engine but the queue is copy-only", i)
		}
	}
	return result.Success, nil
}

// patchInOrderLists rewrites the recorded counter operands of every regular in-order list in the batch
// to the values of the coming execution. It returns the counters whose execution must be registered
// once the batch is flushed.
func (q *Queue) patchInOrderLists(lists []CommandList) ([]*inorder.ExecInfo, result.Result, error) {
	var counters []*inorder.ExecInfo
	needsPatching := false
	for _, list := range lists {
		info := list.InOrderExecInfo()
		if info == nil || !info.IsRegular() || slices.Contains(counters, info) {
			continue
		}
		counters = append(counters, info)
		needsPatching = needsPatching || len(list.PatchList()) > 0
	}
	if len(counters) == 0 || q.options.Config.DisableInOrderPatching {
		return counters, result.Success, nil
	}

	// Patching rewrites bytes an earlier execution of the same list may still be reading
	if needsPatching && q.lastStamp > q.backend.CompletedStamp() {
		res, err := q.wait(q.lastStamp, -1)
		if err != nil {
			return nil, res, err
		}
	}

	for _, list := range lists {
		info := list.InOrderExecInfo()
		if info == nil || !info.IsRegular() {
			continue
		}

		appendValue := info.NextAppendValue()
		patched, err := list.PatchList().Apply(list.Container(), info, appendValue)
		if err != nil {
			return nil, result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not patch an in-order list")
		}
		q.logger.LogAttrs(context.Background(), slog.LevelDebug, "Patched in-order list",
			slog.Int("patches", patched),
			slog.Uint64("append.value", appendValue),
		)
	}
	return counters, result.Success, nil
}

// batchPlan is the stream state reconciliation of one batch. It is computed for the whole batch
// before anything is encoded, so adjacent lists requiring the same state share one transition.
type batchPlan struct {
	transitions [][]cmds.Command
	final       streamprops.Properties
	relaxed     bool
}

// transitionsAfterFirst returns true if a list other than the first needs state reprogrammed
func (p batchPlan) transitionsAfterFirst() bool {
	for _, transitions := range p.transitions[1:] {
		if len(transitions) > 0 {
			return true
		}
	}
	return false
}

func (q *Queue) planBatch(lists []CommandList) batchPlan {
	plan := batchPlan{
		transitions: make([][]cmds.Command, len(lists)),
		final:       q.streamState,
	}

	for i, list := range lists {
		if !q.options.CopyOnly {
			plan.transitions[i] = plan.final.TransitionTo(list.RequiredState())
		}
		plan.final.Merge(list.FinalState())
		plan.relaxed = plan.relaxed || list.HasRelaxedOrderingDependencies()
	}
	return plan
}

func (q *Queue) useStaticScheduler(lists []CommandList, plan batchPlan) bool {
	return plan.relaxed &&
		q.caps.RelaxedOrderingSupported &&
		q.backend.RelaxedOrderingActive() &&
		len(lists) <= relaxed.MaxTasks &&
		!plan.transitionsAfterFirst()
}

func (q *Queue) encodeSequential(c *container.Container, lists []CommandList, plan batchPlan) (result.Result, error) {
	for i, list := range lists {
		commands := append(plan.transitions[i], &cmds.BatchBufferStart{
			Address:     list.Container().StartAddress(),
			SecondLevel: true,
		})
		if _, res, err := c.Encode(commands...); err != nil {
			return res, err
		}
	}
	return result.Success, nil
}

// encodeScheduled dispatches the lists through a static scheduler, each gated on the dependency its
// first commands wait for
func (q *Queue) encodeScheduled(c *container.Container, lists []CommandList, plan batchPlan) (result.Result, error) {
	if q.schedulerData == nil {
		alloc, vkRes, err := q.allocator.Allocate(memory.AllocationProperties{
			Type: memory.AllocationTypeSchedulerData,
			Size: schedulerDataSize,
			Name: "scheduler data",
		})
		if err != nil {
			res := result.FromVkResult(vkRes)
			if res == result.ErrorUnknown {
				res = result.ErrorOutOfDeviceMemory
			}
			return res, result.Wrapf(res, err, "could not allocate scheduler data")
		}
		q.schedulerData = alloc
	}

	if len(plan.transitions[0]) > 0 {
		if _, res, err := c.Encode(plan.transitions[0]...); err != nil {
			return res, err
		}
	}

	// A task with nothing to wait for is gated on the tag allocation reaching zero
	tasks := make([]relaxed.Task, 0, len(lists))
	for _, list := range lists {
		task := relaxed.Task{
			BatchAddress:   list.Container().StartAddress(),
			CounterAddress: q.backend.TagAllocation().GPUAddress(),
		}
		if dependency, ok := list.RelaxedDependency(); ok {
			task.CounterAddress = dependency.CounterAddress
			task.Target = dependency.Target
			task.Partitions = dependency.Partitions
		}
		tasks = append(tasks, task)
	}

	scheduler := relaxed.StaticScheduler{
		PendingAddress: q.schedulerData.GPUAddress(),
		Tasks:          tasks,
		Clients:        q.backend.ClientCount(),
	}
	loc, data, res, err := c.GetSpace(scheduler.Size())
	if err != nil {
		return res, err
	}
	scheduler.Address = c.GPUAddress(loc)
	if _, err := scheduler.Encode(data); err != nil {
		return result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not encode the static scheduler")
	}

	c.AddToResidency(q.schedulerData)
	return result.Success, nil
}

func (q *Queue) flush(startAddress uint64, residency *container.ResidencyContainer, flags csr.DispatchFlags) (uint64, result.Result, error) {
	residency.Add(q.backend.TagAllocation())

	stamp, res, err := q.backend.Flush(csr.Submission{
		StartAddress: startAddress,
		Residency:    residency.Allocations(),
		Flags:        flags,
	})
	if err != nil {
		if res == result.ErrorDeviceLost {
			q.markDeviceLost(err)
		}
		return 0, res, err
	}

	q.lastStamp = stamp
	return stamp, result.Success, nil
}

// ExecuteCommandLists submits closed lists in order. A synchronous queue blocks until they complete,
// returning NotReady if SyncTimeout expires first.
func (q *Queue) ExecuteCommandLists(lists ...CommandList) (result.Result, error) {
	q.logger.Debug("Queue::ExecuteCommandLists")

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if res, err := q.checkUsable(); err != nil {
		return res, err
	}
	if len(lists) == 0 {
		return result.Success, nil
	}
	if res, err := q.validateLists(lists); err != nil {
		return res, err
	}

	plan := q.planBatch(lists)
	buffer, res, err := q.acquireBuffer()
	if err != nil {
		return res, err
	}

	scheduled := q.useStaticScheduler(lists, plan)
	if scheduled {
		res, err = q.encodeScheduled(buffer.container, lists, plan)
	} else {
		res, err = q.encodeSequential(buffer.container, lists, plan)
	}
	if err != nil {
		return res, err
	}
	if _, res, err := buffer.container.Encode(&cmds.BatchBufferEnd{}); err != nil {
		return res, err
	}

	counters, res, err := q.patchInOrderLists(lists)
	if err != nil {
		return res, err
	}

	residency := container.NewResidencyContainer()
	residency.Merge(buffer.container.Residency())
	for _, list := range lists {
		residency.Merge(list.Container().Residency())
	}

	stamp, res, err := q.flush(buffer.container.StartAddress(), residency, csr.DispatchFlags{
		RelaxedOrdering: plan.relaxed && q.backend.RelaxedOrderingActive(),
		CopyEngine:      q.options.CopyOnly,
	})
	if err != nil {
		return res, err
	}
	buffer.stamp = stamp
	q.streamState = plan.final
	for _, info := range counters {
		info.RegisterRegularSubmission()
	}

	q.logger.LogAttrs(context.Background(), slog.LevelDebug, "Submitted batch",
		slog.Int("lists", len(lists)),
		slog.Uint64("stamp", stamp),
		slog.Int("residency", residency.Len()),
		slog.Bool("scheduled", scheduled),
	)

	if !q.options.Synchronous {
		return result.Success, nil
	}

	res, err = q.wait(stamp, q.options.SyncTimeout)
	if res != result.Success {
		return res, err
	}
	for _, list := range lists {
		if info := list.InOrderExecInfo(); info != nil {
			info.SetLastWaitedCounterValue(info.SubmittedCounterValue())
		}
	}
	return result.Success, nil
}

// ExecuteImmediate submits one append of an immediate list. The chunk carries its own state
// transitions, so it is flushed as is. It blocks when the queue is synchronous or the configuration
// forces immediate lists to be.
func (q *Queue) ExecuteImmediate(list CommandList, chunk ImmediateChunk) (result.Result, error) {
	q.logger.Debug("Queue::ExecuteImmediate")

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if res, err := q.checkUsable(); err != nil {
		return res, err
	}
	if list == nil || chunk.StartAddress == 0 {
		return result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "an immediate submission needs a list and a start address")
	}

	residency := container.NewResidencyContainer()
	residency.Merge(list.Container().Residency())

	stamp, res, err := q.flush(chunk.StartAddress, residency, csr.DispatchFlags{
		RelaxedOrdering: chunk.Relaxed && q.backend.RelaxedOrderingActive(),
		CopyEngine:      q.options.CopyOnly,
	})
	if err != nil {
		return res, err
	}
	q.streamState.Merge(list.FinalState())

	if !q.options.Synchronous && !q.options.Config.ForceImmediateSynchronous {
		return result.Success, nil
	}

	res, err = q.wait(stamp, q.options.SyncTimeout)
	if res != result.Success {
		return res, err
	}

	if chunk.Signal != nil && chunk.Signal.QueryStatus() == result.NotReady {
		if err := chunk.Signal.HostSignal(); err != nil {
			return result.ErrorUnknown, result.Wrapf(result.ErrorUnknown, err, "could not signal the completion event")
		}
	}
	if info := list.InOrderExecInfo(); info != nil {
		info.SetLastWaitedCounterValue(chunk.CounterValue)
	}
	return result.Success, nil
}

// Synchronize waits for everything submitted so far. A negative timeout waits forever and a zero
// timeout only polls.
func (q *Queue) Synchronize(timeout time.Duration) (result.Result, error) {
	q.logger.Debug("Queue::Synchronize")

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if res, err := q.checkUsable(); err != nil {
		return res, err
	}
	if q.lastStamp == 0 {
		return result.Success, nil
	}
	return q.wait(q.lastStamp, timeout)
}

// LastStamp is the completion stamp of the most recent submission
func (q *Queue) LastStamp() uint64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.lastStamp
}

func (q *Queue) IsDeviceLost() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.deviceLost
}

// StreamState is the stream state the queue expects the engine to be in after its last submission
func (q *Queue) StreamState() streamprops.Properties {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.streamState
}

// Destroy waits for outstanding work, frees the queue's buffers and unregisters from the backend
func (q *Queue) Destroy() error {
	q.logger.Debug("Queue::Destroy")

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.destroyed {
		return nil
	}

	var errs error
	if !q.deviceLost && q.lastStamp > 0 {
		if _, err := q.wait(q.lastStamp, q.options.SyncTimeout); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	q.destroyed = true

	for _, buffer := range q.buffers {
		errs = errors.CombineErrors(errs, buffer.container.Destroy())
	}
	q.buffers = nil
	if q.schedulerData != nil {
		errs = errors.CombineErrors(errs, q.allocator.Free(q.schedulerData))
		q.schedulerData = nil
	}

	q.backend.UnregisterClient()
	return errs
}

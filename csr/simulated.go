package csr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
	"github.com/vkngwrapper/dispatch/streamprops"
	"golang.org/x/exp/slog"
)

const (
	defaultHangTimeout = time.Second
	defaultQueueDepth  = 16
	tagSize            = 4096
)

// Memory is what the simulated engine executes against: the allocator it takes its tag allocation
// from and the address space commands read and write through
type Memory interface {
	memory.Allocator
	memory.AddressSpace
	FindAllocation(gpuAddress uint64) (*memory.GraphicsAllocation, bool)
}

// SimulatedOptions contains optional settings when creating a simulated backend
type SimulatedOptions struct {
	// RelaxedOrdering enables relaxed-ordering dispatch
	RelaxedOrdering bool
	// RelaxedOrderingMinClients is the number of registered clients relaxed ordering needs before it
	// becomes active. Zero means one.
	RelaxedOrderingMinClients int
	// ExplicitMemoryWrites makes ExplicitMemoryWrites report true, as a validating or deferring
	// backend would
	ExplicitMemoryWrites bool
	// HangTimeout is how long one submission may execute before the engine is declared hung. Zero
	// selects one second.
	HangTimeout time.Duration
	// CheckResidency faults every access to memory that is not in the submission's residency list
	CheckResidency bool
	// QueueDepth is the number of submissions that can be pending before Flush blocks. Zero selects 16.
	QueueDepth int
}

// SimulatedStats counts what a simulated backend has done
type SimulatedStats struct {
	Submissions        int
	RelaxedSubmissions int
	Commands           int
	ExplicitWrites     int
}

type pendingSubmission struct {
	submission Submission
	stamp      uint64
}

// Simulated is a Backend that executes submissions in order on a single worker goroutine. Each
// submission that runs to its final BatchBufferEnd has its stamp written to the tag allocation.
type Simulated struct {
	logger  *slog.Logger
	memory  Memory
	options SimulatedOptions

	tag *memory.GraphicsAllocation

	flushMutex sync.Mutex
	nextStamp  uint64
	queue      chan pendingSubmission
	worker     sync.WaitGroup

	progressMutex sync.Mutex
	progress      chan struct{}
	hung          atomic.Bool
	hangErr       error
	engineState   streamprops.Properties

	clients            atomic.Int32
	submissions        atomic.Int64
	relaxedSubmissions atomic.Int64
	commands           atomic.Int64
	explicitWrites     atomic.Int64

	destroyed bool
}

var _ Backend = &Simulated{}

// NewSimulated allocates the tag allocation and starts the worker
func NewSimulated(logger *slog.Logger, mem Memory, options SimulatedOptions) (*Simulated, result.Result, error) {
	if logger == nil {
		return nil, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a logger is required")
	}
	if options.HangTimeout == 0 {
		options.HangTimeout = defaultHangTimeout
	}
	if options.QueueDepth == 0 {
		options.QueueDepth = defaultQueueDepth
	}
	if options.RelaxedOrderingMinClients < 1 {
		options.RelaxedOrderingMinClients = 1
	}

	tag, vkRes, err := mem.Allocate(memory.AllocationProperties{
		Type: memory.AllocationTypeTagBuffer,
		Size: tagSize,
		Pool: memory.PoolSystem,
		Name: "completion tag",
	})
	if err != nil {
		res := result.FromVkResult(vkRes)
		if res == result.ErrorUnknown {
			res = result.ErrorOutOfDeviceMemory
		}
		return nil, res, result.Wrapf(res, err, "could not allocate the completion tag")
	}

	s := &Simulated{
		logger:    logger,
		memory:    mem,
		options:   options,
		tag:       tag,
		nextStamp: 1,
		queue:     make(chan pendingSubmission, options.QueueDepth),
		progress:  make(chan struct{}),
	}

	s.worker.Add(1)
	go s.run()

	return s, result.Success, nil
}

func (s *Simulated) run() {
	defer s.worker.Done()

	for pending := range s.queue {
		if s.hung.Load() {
			continue
		}

		err := s.execute(pending)
		if err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "Engine hang",
				slog.Uint64("stamp", pending.stamp),
				slog.Any("error", err),
			)

			s.progressMutex.Lock()
			s.hangErr = err
			s.progressMutex.Unlock()
			s.hung.Store(true)
		}

		s.notify()
	}
}

func (s *Simulated) notify() {
	s.progressMutex.Lock()
	defer s.progressMutex.Unlock()

	close(s.progress)
	s.progress = make(chan struct{})
}

func (s *Simulated) execute(pending pendingSubmission) error {
	var resident *swiss.Map[uint64, struct{}]
	if s.options.CheckResidency {
		resident = swiss.NewMap[uint64, struct{}](uint32(len(pending.submission.Residency) + 1))
		resident.Put(s.tag.ID(), struct{}{})
		for _, alloc := range pending.submission.Residency {
			resident.Put(alloc.ID(), struct{}{})
		}
	}

	s.progressMutex.Lock()
	state := s.engineState
	s.progressMutex.Unlock()

	e := &engine{
		memory:   s.memory,
		resident: resident,
		deadline: time.Now().Add(s.options.HangTimeout),
		state:    state,
	}
	err := e.run(pending.submission.StartAddress)

	s.commands.Add(int64(e.executed))
	s.progressMutex.Lock()
	s.engineState = e.state
	s.progressMutex.Unlock()

	if err != nil {
		return errors.Wrapf(err, "submission %d", pending.stamp)
	}

	memutils.AtomicStoreUint64(s.tag.Data(), pending.stamp)
	return nil
}

func (s *Simulated) Flush(submission Submission) (uint64, result.Result, error) {
	s.logger.Debug("Simulated::Flush")

	s.flushMutex.Lock()
	defer s.flushMutex.Unlock()

	if s.destroyed {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the backend was destroyed")
	}
	if s.hung.Load() {
		return 0, result.ErrorDeviceLost, result.Wrapf(result.ErrorDeviceLost, s.HangError(), "the engine is hung")
	}
	if submission.StartAddress == 0 {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a submission needs a start address")
	}

	stamp := s.nextStamp
	s.nextStamp++

	s.submissions.Add(1)
	if submission.Flags.RelaxedOrdering && s.RelaxedOrderingActive() {
		s.relaxedSubmissions.Add(1)
	}

	s.queue <- pendingSubmission{submission: submission, stamp: stamp}
	return stamp, result.Success, nil
}

func (s *Simulated) WaitForCompletion(stamp uint64, timeout time.Duration) (WaitStatus, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		s.progressMutex.Lock()
		progress := s.progress
		s.progressMutex.Unlock()

		if s.CompletedStamp() >= stamp {
			return WaitSuccess, nil
		}
		if s.hung.Load() {
			return WaitGPUHang, s.HangError()
		}
		if timeout == 0 {
			return WaitTimeout, nil
		}

		select {
		case <-progress:
		case <-timer:
			return WaitTimeout, nil
		}
	}
}

func (s *Simulated) NextStamp() uint64 {
	s.flushMutex.Lock()
	defer s.flushMutex.Unlock()

	return s.nextStamp
}

func (s *Simulated) CompletedStamp() uint64 {
	return memutils.AtomicLoadUint64(s.tag.Data())
}

func (s *Simulated) TagAllocation() *memory.GraphicsAllocation {
	return s.tag
}

func (s *Simulated) RegisterClient() int {
	return int(s.clients.Add(1))
}

func (s *Simulated) UnregisterClient() int {
	for {
		current := s.clients.Load()
		if current == 0 {
			return 0
		}
		if s.clients.CompareAndSwap(current, current-1) {
			return int(current - 1)
		}
	}
}

func (s *Simulated) ClientCount() int {
	return int(s.clients.Load())
}

func (s *Simulated) RelaxedOrderingActive() bool {
	return s.options.RelaxedOrdering && s.ClientCount() >= s.options.RelaxedOrderingMinClients
}

func (s *Simulated) ExplicitMemoryWrites() bool {
	return s.options.ExplicitMemoryWrites
}

func (s *Simulated) WriteMemory(gpuAddress uint64, data []byte) error {
	dst, err := s.memory.Resolve(gpuAddress, len(data))
	if err != nil {
		return errors.Wrapf(err, "could not write %d bytes at 0x%x", len(data), gpuAddress)
	}
	copy(dst, data)
	s.explicitWrites.Add(1)
	return nil
}

// HangError returns what caused the engine to hang, or nil
func (s *Simulated) HangError() error {
	s.progressMutex.Lock()
	defer s.progressMutex.Unlock()

	return s.hangErr
}

// EngineState is the pipeline, front-end and state base state the executed commands left behind
func (s *Simulated) EngineState() streamprops.Properties {
	s.progressMutex.Lock()
	defer s.progressMutex.Unlock()

	return s.engineState
}

func (s *Simulated) Stats() SimulatedStats {
	return SimulatedStats{
		Submissions:        int(s.submissions.Load()),
		RelaxedSubmissions: int(s.relaxedSubmissions.Load()),
		Commands:           int(s.commands.Load()),
		ExplicitWrites:     int(s.explicitWrites.Load()),
	}
}

// Destroy waits for pending submissions to execute, stops the worker and frees the tag allocation
func (s *Simulated) Destroy() error {
	s.logger.Debug("Simulated::Destroy")

	s.flushMutex.Lock()
	if s.destroyed {
		s.flushMutex.Unlock()
		return nil
	}
	s.destroyed = true
	close(s.queue)
	s.flushMutex.Unlock()

	s.worker.Wait()
	return s.memory.Free(s.tag)
}

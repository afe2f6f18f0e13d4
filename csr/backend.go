// Package csr defines the submission backend command queues hand finished command buffers to, and
// provides Simulated, a command stream receiver that executes the binary stream against simulated
// memory on a background worker.
package csr

import (
	"fmt"
	"time"

	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/result"
)

//go:generate mockgen -destination mocks/backend.go -package mocks github.com/vkngwrapper/dispatch/csr Backend

// WaitStatus is the outcome of waiting for a completion stamp
type WaitStatus uint8

const (
	WaitSuccess WaitStatus = iota
	// WaitTimeout means the stamp was not reached before the timeout expired
	WaitTimeout
	// WaitGPUHang means the engine stopped making progress; the stamp will never be reached
	WaitGPUHang
)

var waitStatusMapping = map[WaitStatus]string{
	WaitSuccess: "Success",
	WaitTimeout: "Timeout",
	WaitGPUHang: "GPUHang",
}

func (s WaitStatus) String() string {
	str, ok := waitStatusMapping[s]
	if !ok {
		return fmt.Sprintf("WaitStatus(%d)", uint8(s))
	}
	return str
}

// DispatchFlags describe how a submission must be dispatched
type DispatchFlags struct {
	// RelaxedOrdering marks a submission containing relaxed-ordering sections, which the backend may
	// dispatch before the work it depends on completes
	RelaxedOrdering bool
	// CopyEngine routes the submission to the copy engine
	CopyEngine bool
}

// Submission is one flush: the address of the first command to execute and every allocation the
// commands reference
type Submission struct {
	StartAddress uint64
	Residency    []*memory.GraphicsAllocation
	Flags        DispatchFlags
}

// Backend is the submission backend. Stamps increase by one with every flush, and the backend writes
// a submission's stamp to the tag allocation once its commands complete.
type Backend interface {
	// Flush hands a submission to the engine and returns its completion stamp
	Flush(submission Submission) (uint64, result.Result, error)
	// WaitForCompletion blocks until stamp has been written to the tag allocation. A zero timeout
	// only polls and a negative timeout waits forever.
	WaitForCompletion(stamp uint64, timeout time.Duration) (WaitStatus, error)
	// NextStamp is the stamp the next Flush will return
	NextStamp() uint64
	// CompletedStamp is the last stamp written to the tag allocation
	CompletedStamp() uint64
	// TagAllocation is where completion stamps are written
	TagAllocation() *memory.GraphicsAllocation

	// RegisterClient adds a client and returns the new client count
	RegisterClient() int
	// UnregisterClient removes a client and returns the new client count
	UnregisterClient() int
	ClientCount() int

	// RelaxedOrderingActive returns true if relaxed-ordering submissions are dispatched as such
	RelaxedOrderingActive() bool

	// ExplicitMemoryWrites returns true if host writes to device memory are only visible to the engine
	// when made through WriteMemory
	ExplicitMemoryWrites() bool
	WriteMemory(gpuAddress uint64, data []byte) error
}

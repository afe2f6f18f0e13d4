package csr

import (
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/streamprops"
)

const (
	maxCallDepth     = 8
	semaphorePollGap = 2 * time.Microsecond
)

type callFrame struct {
	returnAddress    uint64
	predicateEnabled bool
	predicatePass    bool
}

// engine executes one submission. Second-level batch starts push a frame; the batch end of a called
// batch returns to the caller with the caller's predicate restored, and a called batch starts with
// predication disabled.
type engine struct {
	memory   Memory
	resident *swiss.Map[uint64, struct{}]
	deadline time.Time

	registers        [cmds.RegisterCount]uint64
	predicateEnabled bool
	predicatePass    bool
	stack            []callFrame

	state    streamprops.Properties
	executed int
}

func (e *engine) checkHang(address uint64) error {
	if time.Now().After(e.deadline) {
		return errors.Errorf("no progress at 0x%x before the hang timeout", address)
	}
	return nil
}

func (e *engine) resolve(address uint64, size int) ([]byte, error) {
	if e.resident != nil {
		alloc, ok := e.memory.FindAllocation(address)
		if !ok || !e.resident.Has(alloc.ID()) {
			return nil, errors.Errorf("page fault: 0x%x is not resident", address)
		}
	}

	data, err := e.memory.Resolve(address, size)
	if err != nil {
		return nil, errors.Wrapf(err, "page fault at 0x%x", address)
	}
	return data, nil
}

func (e *engine) read64(address uint64) (uint64, error) {
	data, err := e.resolve(address, 8)
	if err != nil {
		return 0, err
	}
	return memutils.AtomicLoadUint64(data), nil
}

func (e *engine) write64(address uint64, value uint64) error {
	data, err := e.resolve(address, 8)
	if err != nil {
		return err
	}
	memutils.AtomicStoreUint64(data, value)
	return nil
}

func (e *engine) fetch(address uint64) (cmds.Command, int, error) {
	header, err := e.resolve(address, cmds.HeaderSize)
	if err != nil {
		return nil, 0, err
	}
	size, err := cmds.PeekSize(header)
	if err != nil {
		return nil, 0, err
	}

	data, err := e.resolve(address, size)
	if err != nil {
		return nil, 0, err
	}
	return cmds.DecodeOne(data)
}

func (e *engine) predicated(cmd cmds.Command) bool {
	switch cmd.Opcode() {
	case cmds.OpcodeSetPredicate, cmds.OpcodeArbCheck, cmds.OpcodeNoop:
		return false
	}
	return e.predicateEnabled && !e.predicatePass
}

func (e *engine) run(start uint64) error {
	address := start
	for {
		cmd, size, err := e.fetch(address)
		if err != nil {
			return errors.Wrapf(err, "could not fetch the command at 0x%x", address)
		}
		e.executed++

		next := address + uint64(size)
		if e.predicated(cmd) {
			address = next
			continue
		}

		switch c := cmd.(type) {
		case *cmds.BatchBufferEnd:
			if len(e.stack) == 0 {
				return nil
			}
			frame := e.stack[len(e.stack)-1]
			e.stack = e.stack[:len(e.stack)-1]
			e.predicateEnabled = frame.predicateEnabled
			e.predicatePass = frame.predicatePass
			next = frame.returnAddress

		case *cmds.BatchBufferStart:
			if c.SecondLevel {
				if len(e.stack) == maxCallDepth {
					return errors.Errorf("second-level batch at 0x%x exceeds the call depth of %d", c.Address, maxCallDepth)
				}
				e.stack = append(e.stack, callFrame{
					returnAddress:    next,
					predicateEnabled: e.predicateEnabled,
					predicatePass:    e.predicatePass,
				})
				e.predicateEnabled = false
			}
			next = c.Address

		case *cmds.ArbCheck:
			runtime.Gosched()
			if err := e.checkHang(address); err != nil {
				return err
			}

		default:
			if err := e.executeCommand(address, cmd); err != nil {
				return errors.Wrapf(err, "%s at 0x%x", cmd.Opcode(), address)
			}
		}

		address = next
	}
}

func (e *engine) executeCommand(address uint64, cmd cmds.Command) error {
	switch c := cmd.(type) {
	case *cmds.Noop:
	case *cmds.SetPredicate:
		e.predicateEnabled = c.Mode != cmds.PredicateDisable
		nonZero := e.registers[c.Register] != 0
		e.predicatePass = nonZero == (c.Mode == cmds.PredicateOnNonZero)

	case *cmds.LoadRegisterImm:
		e.registers[c.Register] = c.Value
	case *cmds.LoadRegisterMem:
		value, err := e.read64(c.Address)
		if err != nil {
			return err
		}
		e.registers[c.Register] = value
	case *cmds.LoadRegisterReg:
		e.registers[c.Destination] = e.registers[c.Source]
	case *cmds.Math:
		e.registers[c.Destination] = c.Operation.Evaluate(e.registers[c.A], e.registers[c.B])

	case *cmds.SemaphoreWait:
		return e.semaphoreWait(address, c)
	case *cmds.StoreDataImm:
		return e.write64(c.Address, c.Value)
	case *cmds.FlushDw:
		if c.PostSync {
			return e.write64(c.Address, c.Value)
		}

	case *cmds.PipeControl:
		switch c.PostSync {
		case cmds.PostSyncWriteImmediate:
			return e.write64(c.Address, c.Value)
		case cmds.PostSyncWriteTimestamp:
			return e.write64(c.Address, uint64(time.Now().UnixNano()))
		}
	case *cmds.ComputeWalker:
		return e.walker(c)

	case *cmds.PipelineSelect:
		e.state.Pipeline.Update(streamprops.Pipeline{Pipeline: c.Pipeline, SystolicMode: c.SystolicMode})
	case *cmds.FrontEndState:
		e.state.FrontEnd.Update(streamprops.FrontEnd{CooperativeDispatch: c.CooperativeDispatch, DisableOverdispatch: c.DisableOverdispatch})
	case *cmds.StateBaseAddress:
		e.state.StateBase.Update(streamprops.StateBase{
			SurfaceStateBase:   c.SurfaceStateBase,
			DynamicStateBase:   c.DynamicStateBase,
			IndirectObjectBase: c.IndirectObjectBase,
		})

	case *cmds.XYCopyBlt:
		return e.copyBlt(c)
	case *cmds.XYColorBlt:
		return e.colorBlt(c)
	case *cmds.MemSet:
		return e.memSet(c)

	default:
		return errors.Errorf("the engine cannot execute %s", cmd.Opcode())
	}
	return nil
}

func (e *engine) semaphoreWait(address uint64, c *cmds.SemaphoreWait) error {
	for {
		value, err := e.read64(c.Address)
		if err != nil {
			return err
		}
		if c.Compare.Evaluate(value, c.Value) {
			return nil
		}
		if err := e.checkHang(address); err != nil {
			return errors.Wrapf(err, "waiting for 0x%x to reach %d", c.Address, c.Value)
		}
		time.Sleep(semaphorePollGap)
	}
}

func (e *engine) walker(c *cmds.ComputeWalker) error {
	if _, err := e.resolve(c.KernelStartAddress, 4); err != nil {
		return errors.Wrap(err, "kernel instructions")
	}
	if c.PostSync != cmds.PostSyncWriteImmediate {
		return nil
	}

	partitions := max(int(c.PartitionCount), 1)
	for p := 0; p < partitions; p++ {
		if err := e.write64(c.PostSyncAddress+uint64(p*8), c.PostSyncValue); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) copyBlt(c *cmds.XYCopyBlt) error {
	rowBytes := c.Width * c.PixelSize
	for y := 0; y < c.Height; y++ {
		srcAddress := c.SourceAddress + uint64((c.SourceY+y)*c.SourcePitch+c.SourceX*c.PixelSize)
		dstAddress := c.DestinationAddress + uint64((c.DestinationY+y)*c.DestinationPitch+c.DestinationX*c.PixelSize)

		src, err := e.resolve(srcAddress, rowBytes)
		if err != nil {
			return err
		}
		dst, err := e.resolve(dstAddress, rowBytes)
		if err != nil {
			return err
		}
		copy(dst, src)
	}
	return nil
}

func (e *engine) colorBlt(c *cmds.XYColorBlt) error {
	pattern := c.Pattern[:c.PixelSize]
	for y := 0; y < c.Height; y++ {
		dst, err := e.resolve(c.DestinationAddress+uint64(y*c.DestinationPitch), c.Width*c.PixelSize)
		if err != nil {
			return err
		}
		for x := 0; x < len(dst); x += c.PixelSize {
			if c.ByteMask == 0 {
				copy(dst[x:], pattern)
				continue
			}
			for i, b := range pattern {
				if c.ByteMask&(1<<i) != 0 {
					dst[x+i] = b
				}
			}
		}
	}
	return nil
}

func (e *engine) memSet(c *cmds.MemSet) error {
	rows, pitch := 1, 0
	if c.Mode == cmds.MemSetMatrix {
		rows, pitch = c.Height, c.DestinationPitch
	}

	for y := 0; y < rows; y++ {
		dst, err := e.resolve(c.DestinationAddress+uint64(y*pitch), c.Width)
		if err != nil {
			return err
		}
		for i := range dst {
			dst[i] = c.Value
		}
	}
	return nil
}

package relaxed

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/result"
)

// MaxTasks is the largest number of task descriptors a static scheduler polls
const MaxTasks = 16

// PendingSize is the scheduler data one task's pending flag occupies
const PendingSize = 8

// Registers used by the dynamic section. The static scheduler keeps its state in the upper half of
// the register file, so a task running dynamic sections does not disturb the scheduler loop.
var (
	regAnyPending = cmds.GPR(0)
	regCounter    = cmds.GPR(1)
	regCompare    = cmds.GPR(2)
	regTarget     = cmds.GPR(3)

	regSchedAnyPending  = cmds.GPR(8)
	regSchedPrevDone    = cmds.GPR(9)
	regSchedTarget      = cmds.GPR(10)
	regSchedCounterDone = cmds.GPR(11)
	regSchedCounter     = cmds.GPR(12)
	regSchedCompare     = cmds.GPR(13)
	regSchedPending     = cmds.GPR(14)
	regSchedOne         = cmds.GPR(15)
)

// DynamicSection polls one dependency counter until every partition slot reaches Target. It is
// emitted in place of a semaphore wait: when the counter is behind, the section branches back to its
// own start through an arbitration check instead of stalling the engine.
type DynamicSection struct {
	CounterAddress uint64
	Target         uint64
	Partitions     int
}

// DynamicSectionSize is the size of a dynamic section polling the given number of partitions
func DynamicSectionSize(partitions int) int {
	return cmds.TotalSize(DynamicSection{Partitions: partitions}.commands(0)...)
}

// dynamicTargetOffset is where the target immediate's LoadRegisterImm starts within the section
const dynamicTargetOffset = cmds.ArbCheckSize + cmds.LoadRegisterImmSize

func (d DynamicSection) commands(address uint64) []cmds.Command {
	partitions := max(d.Partitions, 1)

	commands := []cmds.Command{
		&cmds.ArbCheck{},
		&cmds.LoadRegisterImm{Register: regAnyPending, Value: 0},
		&cmds.LoadRegisterImm{Register: regTarget, Value: d.Target},
	}
	for p := 0; p < partitions; p++ {
		commands = append(commands,
			&cmds.LoadRegisterMem{Register: regCounter, Address: d.CounterAddress + uint64(p*8)},
			&cmds.Math{Operation: cmds.MathLess, Destination: regCompare, A: regCounter, B: regTarget},
			&cmds.Math{Operation: cmds.MathOr, Destination: regAnyPending, A: regAnyPending, B: regCompare},
		)
	}
	return append(commands,
		&cmds.SetPredicate{Mode: cmds.PredicateOnNonZero, Register: regAnyPending},
		&cmds.BatchBufferStart{Address: address},
		&cmds.SetPredicate{Mode: cmds.PredicateDisable},
	)
}

// Size is the encoded size of the section
func (d DynamicSection) Size() int {
	return DynamicSectionSize(d.Partitions)
}

// Encode writes the section to dst, which the engine will read at address. It returns the offset in
// dst of the LoadRegisterImm carrying Target, which is what a patch record must rewrite.
func (d DynamicSection) Encode(dst []byte, address uint64) int {
	cmds.EncodeAll(dst, d.commands(address)...)
	return dynamicTargetOffset
}

// Space is the part of a command buffer container a section is encoded into
type Space interface {
	GetSpace(n int) (container.Location, []byte, result.Result, error)
	GPUAddress(loc container.Location) uint64
}

// AppendDynamicSection encodes d contiguously into space and returns the location of its patchable
// target immediate
func AppendDynamicSection(space Space, d DynamicSection) (container.Location, result.Result, error) {
	loc, data, res, err := space.GetSpace(d.Size())
	if err != nil {
		return container.Location{}, res, err
	}

	offset := d.Encode(data, space.GPUAddress(loc))
	return container.Location{Buffer: loc.Buffer, Offset: loc.Offset + offset}, result.Success, nil
}

// Task is one entry the static scheduler dispatches: a second-level batch that may run once its
// dependency counter reaches Target
type Task struct {
	BatchAddress   uint64
	CounterAddress uint64
	Target         uint64
	Partitions     int
}

// StaticScheduler is the section emitted once per relaxed-ordering submission. It marks every task
// pending, then loops: each pass runs, in order, every pending task whose dependency is satisfied and
// whose predecessor has run, and branches back while any task is still pending. Every pass starts with
// one arbitration check per registered client so other queues are not starved.
type StaticScheduler struct {
	// Address is the GPU address the section is encoded at
	Address uint64
	// PendingAddress is the scheduler data holding one PendingSize flag per task
	PendingAddress uint64
	Tasks          []Task
	// Clients is the number of clients registered with the backend
	Clients int
}

func (s StaticScheduler) preamble() []cmds.Command {
	commands := make([]cmds.Command, 0, len(s.Tasks))
	for i := range s.Tasks {
		commands = append(commands, &cmds.StoreDataImm{Address: s.pendingFlag(i), Value: 1})
	}
	return commands
}

func (s StaticScheduler) pendingFlag(i int) uint64 {
	return s.PendingAddress + uint64(i*PendingSize)
}

func (s StaticScheduler) commands() []cmds.Command {
	preamble := s.preamble()
	loopAddress := s.Address + uint64(cmds.TotalSize(preamble...))

	commands := preamble
	for i := 0; i < max(s.Clients, 1); i++ {
		commands = append(commands, &cmds.ArbCheck{})
	}
	commands = append(commands,
		&cmds.LoadRegisterImm{Register: regSchedAnyPending, Value: 0},
		&cmds.LoadRegisterImm{Register: regSchedPrevDone, Value: 1},
		&cmds.LoadRegisterImm{Register: regSchedOne, Value: 1},
	)

	for i, task := range s.Tasks {
		commands = append(commands,
			&cmds.LoadRegisterImm{Register: regSchedTarget, Value: task.Target},
			&cmds.LoadRegisterImm{Register: regSchedCounterDone, Value: 1},
		)
		for p := 0; p < max(task.Partitions, 1); p++ {
			commands = append(commands,
				&cmds.LoadRegisterMem{Register: regSchedCounter, Address: task.CounterAddress + uint64(p*8)},
				&cmds.Math{Operation: cmds.MathGreaterOrEqual, Destination: regSchedCompare, A: regSchedCounter, B: regSchedTarget},
				&cmds.Math{Operation: cmds.MathAnd, Destination: regSchedCounterDone, A: regSchedCounterDone, B: regSchedCompare},
			)
		}

		// runnable = counter done & pending & predecessor done
		commands = append(commands,
			&cmds.LoadRegisterMem{Register: regSchedPending, Address: s.pendingFlag(i)},
			&cmds.Math{Operation: cmds.MathAnd, Destination: regSchedCompare, A: regSchedCounterDone, B: regSchedPending},
			&cmds.Math{Operation: cmds.MathAnd, Destination: regSchedCompare, A: regSchedCompare, B: regSchedPrevDone},
			&cmds.SetPredicate{Mode: cmds.PredicateOnNonZero, Register: regSchedCompare},
			&cmds.StoreDataImm{Address: s.pendingFlag(i), Value: 0},
			&cmds.BatchBufferStart{Address: task.BatchAddress, SecondLevel: true},
			&cmds.SetPredicate{Mode: cmds.PredicateDisable},

			&cmds.LoadRegisterMem{Register: regSchedPending, Address: s.pendingFlag(i)},
			&cmds.Math{Operation: cmds.MathLess, Destination: regSchedPrevDone, A: regSchedPending, B: regSchedOne},
			&cmds.Math{Operation: cmds.MathOr, Destination: regSchedAnyPending, A: regSchedAnyPending, B: regSchedPending},
		)
	}

	return append(commands,
		&cmds.SetPredicate{Mode: cmds.PredicateOnNonZero, Register: regSchedAnyPending},
		&cmds.BatchBufferStart{Address: loopAddress},
		&cmds.SetPredicate{Mode: cmds.PredicateDisable},
	)
}

// Size is the encoded size of the scheduler
func (s StaticScheduler) Size() int {
	return cmds.TotalSize(s.commands()...)
}

// PendingDataSize is the scheduler data the section needs
func (s StaticScheduler) PendingDataSize() int {
	return len(s.Tasks) * PendingSize
}

func (s StaticScheduler) Validate() error {
	if len(s.Tasks) == 0 || len(s.Tasks) > MaxTasks {
		return errors.Errorf("a static scheduler dispatches between 1 and %d tasks, was given %d", MaxTasks, len(s.Tasks))
	}
	if s.PendingAddress%8 != 0 {
		return errors.Errorf("scheduler data address 0x%x is not qword aligned", s.PendingAddress)
	}
	return nil
}

// Encode writes the scheduler to dst and returns the number of bytes written
func (s StaticScheduler) Encode(dst []byte) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	commands := s.commands()
	size := cmds.TotalSize(commands...)
	if len(dst) < size {
		return 0, errors.Errorf("static scheduler needs %d bytes, only %d available", size, len(dst))
	}
	return cmds.EncodeAll(dst, commands...), nil
}

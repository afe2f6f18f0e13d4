package cmds

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Register identifies one of the engine's 64-bit general purpose registers
type Register uint32

// RegisterCount is the number of general purpose registers
const RegisterCount = 16

// GPR returns general purpose register n
func GPR(n int) Register {
	if n < 0 || n >= RegisterCount {
		panic(fmt.Sprintf("general purpose register %d does not exist", n))
	}
	return Register(n)
}

func (r Register) String() string {
	return fmt.Sprintf("GPR%d", uint32(r))
}

func (r Register) valid() error {
	if r >= RegisterCount {
		return errors.Errorf("register %d does not exist", uint32(r))
	}
	return nil
}

// LoadRegisterImm loads the 64-bit Value into Register
type LoadRegisterImm struct {
	Register Register
	Value    uint64
}

const (
	LoadRegisterImmSize        = 4 * dword
	LoadRegisterImmValueOffset = 2 * dword
)

func (c *LoadRegisterImm) Opcode() Opcode { return OpcodeLoadRegisterImm }
func (c *LoadRegisterImm) Size() int      { return LoadRegisterImmSize }

func (c *LoadRegisterImm) Encode(dst []byte) {
	putHeader(dst, OpcodeLoadRegisterImm, 0, LoadRegisterImmSize)
	putU32(dst, dword, uint32(c.Register))
	putU64(dst, LoadRegisterImmValueOffset, c.Value)
}

func (c *LoadRegisterImm) decode(flags uint8, body []byte) error {
	if err := checkSize(body, LoadRegisterImmSize); err != nil {
		return err
	}
	c.Register = Register(getU32(body, dword))
	c.Value = getU64(body, LoadRegisterImmValueOffset)
	return c.Register.valid()
}

func (c *LoadRegisterImm) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Register").String(c.Register.String())
	obj.Name("Value").Float64(float64(c.Value))
}

// LoadRegisterMem loads the 64-bit value at Address into Register
type LoadRegisterMem struct {
	Register Register
	Address  uint64
}

const (
	LoadRegisterMemSize          = 4 * dword
	LoadRegisterMemAddressOffset = 2 * dword
)

func (c *LoadRegisterMem) Opcode() Opcode { return OpcodeLoadRegisterMem }
func (c *LoadRegisterMem) Size() int      { return LoadRegisterMemSize }

func (c *LoadRegisterMem) Encode(dst []byte) {
	putHeader(dst, OpcodeLoadRegisterMem, 0, LoadRegisterMemSize)
	putU32(dst, dword, uint32(c.Register))
	putU64(dst, LoadRegisterMemAddressOffset, c.Address)
}

func (c *LoadRegisterMem) decode(flags uint8, body []byte) error {
	if err := checkSize(body, LoadRegisterMemSize); err != nil {
		return err
	}
	c.Register = Register(getU32(body, dword))
	c.Address = getU64(body, LoadRegisterMemAddressOffset)
	return c.Register.valid()
}

func (c *LoadRegisterMem) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Register").String(c.Register.String())
	obj.Name("Address").String(hexAddress(c.Address))
}

// LoadRegisterReg copies Source into Destination
type LoadRegisterReg struct {
	Destination Register
	Source      Register
}

const LoadRegisterRegSize = 3 * dword

func (c *LoadRegisterReg) Opcode() Opcode { return OpcodeLoadRegisterReg }
func (c *LoadRegisterReg) Size() int      { return LoadRegisterRegSize }

func (c *LoadRegisterReg) Encode(dst []byte) {
	putHeader(dst, OpcodeLoadRegisterReg, 0, LoadRegisterRegSize)
	putU32(dst, dword, uint32(c.Destination))
	putU32(dst, 2*dword, uint32(c.Source))
}

func (c *LoadRegisterReg) decode(flags uint8, body []byte) error {
	if err := checkSize(body, LoadRegisterRegSize); err != nil {
		return err
	}
	c.Destination = Register(getU32(body, dword))
	c.Source = Register(getU32(body, 2*dword))
	return errors.CombineErrors(c.Destination.valid(), c.Source.valid())
}

func (c *LoadRegisterReg) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Destination").String(c.Destination.String())
	obj.Name("Source").String(c.Source.String())
}

// MathOperation is an ALU operation performed by Math
type MathOperation uint8

const (
	MathAdd MathOperation = iota
	MathSub
	MathAnd
	MathOr
	// MathGreaterOrEqual produces 1 if A >= B and 0 otherwise
	MathGreaterOrEqual
	// MathLess produces 1 if A < B and 0 otherwise
	MathLess
)

var mathOperationMapping = map[MathOperation]string{
	MathAdd:            "Add",
	MathSub:            "Sub",
	MathAnd:            "And",
	MathOr:             "Or",
	MathGreaterOrEqual: "GreaterOrEqual",
	MathLess:           "Less",
}

func (o MathOperation) String() string {
	str, ok := mathOperationMapping[o]
	if !ok {
		return fmt.Sprintf("MathOperation(%d)", uint8(o))
	}
	return str
}

// Evaluate applies the operation
func (o MathOperation) Evaluate(a, b uint64) uint64 {
	switch o {
	case MathAdd:
		return a + b
	case MathSub:
		return a - b
	case MathAnd:
		return a & b
	case MathOr:
		return a | b
	case MathGreaterOrEqual:
		if a >= b {
			return 1
		}
	case MathLess:
		if a < b {
			return 1
		}
	}
	return 0
}

// Math computes Destination = A Operation B
type Math struct {
	Operation   MathOperation
	Destination Register
	A           Register
	B           Register
}

const MathSize = 4 * dword

func (c *Math) Opcode() Opcode { return OpcodeMath }
func (c *Math) Size() int      { return MathSize }

func (c *Math) Encode(dst []byte) {
	putHeader(dst, OpcodeMath, uint8(c.Operation), MathSize)
	putU32(dst, dword, uint32(c.Destination))
	putU32(dst, 2*dword, uint32(c.A))
	putU32(dst, 3*dword, uint32(c.B))
}

func (c *Math) decode(flags uint8, body []byte) error {
	if err := checkSize(body, MathSize); err != nil {
		return err
	}
	c.Operation = MathOperation(flags)
	if _, ok := mathOperationMapping[c.Operation]; !ok {
		return errors.Errorf("unknown math operation %d", flags)
	}
	c.Destination = Register(getU32(body, dword))
	c.A = Register(getU32(body, 2*dword))
	c.B = Register(getU32(body, 3*dword))
	return errors.CombineErrors(c.Destination.valid(), errors.CombineErrors(c.A.valid(), c.B.valid()))
}

func (c *Math) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Operation").String(c.Operation.String())
	obj.Name("Destination").String(c.Destination.String())
	obj.Name("A").String(c.A.String())
	obj.Name("B").String(c.B.String())
}

// PredicateMode controls whether the commands after a SetPredicate execute
type PredicateMode uint8

const (
	// PredicateDisable executes every subsequent command
	PredicateDisable PredicateMode = iota
	// PredicateOnNonZero executes subsequent commands only while the register is nonzero
	PredicateOnNonZero
	// PredicateOnZero executes subsequent commands only while the register is zero
	PredicateOnZero
)

var predicateModeMapping = map[PredicateMode]string{
	PredicateDisable:   "Disable",
	PredicateOnNonZero: "OnNonZero",
	PredicateOnZero:    "OnZero",
}

func (m PredicateMode) String() string {
	str, ok := predicateModeMapping[m]
	if !ok {
		return fmt.Sprintf("PredicateMode(%d)", uint8(m))
	}
	return str
}

// SetPredicate makes execution of the following commands conditional on Register, sampled when
// this command executes. SetPredicate, ArbCheck and Noop always execute.
type SetPredicate struct {
	Mode     PredicateMode
	Register Register
}

const SetPredicateSize = 2 * dword

func (c *SetPredicate) Opcode() Opcode { return OpcodeSetPredicate }
func (c *SetPredicate) Size() int      { return SetPredicateSize }

func (c *SetPredicate) Encode(dst []byte) {
	putHeader(dst, OpcodeSetPredicate, uint8(c.Mode), SetPredicateSize)
	putU32(dst, dword, uint32(c.Register))
}

func (c *SetPredicate) decode(flags uint8, body []byte) error {
	if err := checkSize(body, SetPredicateSize); err != nil {
		return err
	}
	c.Mode = PredicateMode(flags)
	if _, ok := predicateModeMapping[c.Mode]; !ok {
		return errors.Errorf("unknown predicate mode %d", flags)
	}
	c.Register = Register(getU32(body, dword))
	return c.Register.valid()
}

func (c *SetPredicate) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Mode").String(c.Mode.String())
	if c.Mode != PredicateDisable {
		obj.Name("Register").String(c.Register.String())
	}
}

package cmds

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// CompareOperation is the condition a SemaphoreWait polls for
type CompareOperation uint8

const (
	// CompareGreaterOrEqual waits until memory >= value
	CompareGreaterOrEqual CompareOperation = iota
	// CompareEqual waits until memory == value
	CompareEqual
	// CompareNotEqual waits until memory != value
	CompareNotEqual
)

var compareOperationMapping = map[CompareOperation]string{
	CompareGreaterOrEqual: "GreaterOrEqual",
	CompareEqual:          "Equal",
	CompareNotEqual:       "NotEqual",
}

func (o CompareOperation) String() string {
	str, ok := compareOperationMapping[o]
	if !ok {
		return fmt.Sprintf("CompareOperation(%d)", uint8(o))
	}
	return str
}

// Evaluate compares a memory value against the operation's immediate
func (o CompareOperation) Evaluate(memory, value uint64) bool {
	switch o {
	case CompareEqual:
		return memory == value
	case CompareNotEqual:
		return memory != value
	}
	return memory >= value
}

// SemaphoreWait stalls the engine until the 64-bit value at Address satisfies Compare against Value
type SemaphoreWait struct {
	Address uint64
	Value   uint64
	Compare CompareOperation
}

const (
	SemaphoreWaitSize          = 5 * dword
	SemaphoreWaitAddressOffset = dword
	SemaphoreWaitValueOffset   = 3 * dword
)

func (c *SemaphoreWait) Opcode() Opcode { return OpcodeSemaphoreWait }
func (c *SemaphoreWait) Size() int      { return SemaphoreWaitSize }

func (c *SemaphoreWait) Encode(dst []byte) {
	putHeader(dst, OpcodeSemaphoreWait, uint8(c.Compare), SemaphoreWaitSize)
	putU64(dst, SemaphoreWaitAddressOffset, c.Address)
	putU64(dst, SemaphoreWaitValueOffset, c.Value)
}

func (c *SemaphoreWait) decode(flags uint8, body []byte) error {
	if err := checkSize(body, SemaphoreWaitSize); err != nil {
		return err
	}
	c.Compare = CompareOperation(flags)
	if _, ok := compareOperationMapping[c.Compare]; !ok {
		return errors.Errorf("unknown compare operation %d", flags)
	}
	c.Address = getU64(body, SemaphoreWaitAddressOffset)
	c.Value = getU64(body, SemaphoreWaitValueOffset)
	return nil
}

func (c *SemaphoreWait) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Address").String(hexAddress(c.Address))
	obj.Name("Value").Float64(float64(c.Value))
	obj.Name("Compare").String(c.Compare.String())
}

// StoreDataImm writes the 64-bit Value to Address
type StoreDataImm struct {
	Address uint64
	Value   uint64
}

const (
	StoreDataImmSize          = 5 * dword
	StoreDataImmAddressOffset = dword
	StoreDataImmValueOffset   = 3 * dword
)

func (c *StoreDataImm) Opcode() Opcode { return OpcodeStoreDataImm }
func (c *StoreDataImm) Size() int      { return StoreDataImmSize }

func (c *StoreDataImm) Encode(dst []byte) {
	putHeader(dst, OpcodeStoreDataImm, 0, StoreDataImmSize)
	putU64(dst, StoreDataImmAddressOffset, c.Address)
	putU64(dst, StoreDataImmValueOffset, c.Value)
}

func (c *StoreDataImm) decode(flags uint8, body []byte) error {
	if err := checkSize(body, StoreDataImmSize); err != nil {
		return err
	}
	c.Address = getU64(body, StoreDataImmAddressOffset)
	c.Value = getU64(body, StoreDataImmValueOffset)
	if c.Address%8 != 0 {
		return errors.Errorf("store address 0x%x is not qword aligned", c.Address)
	}
	return nil
}

func (c *StoreDataImm) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Address").String(hexAddress(c.Address))
	obj.Name("Value").Float64(float64(c.Value))
}

const (
	flushDwPostSync uint8 = 1 << iota
)

// FlushDw is the copy engine's fence: it drains outstanding writes and, with PostSync set, then writes
// Value to Address
type FlushDw struct {
	PostSync bool
	Address  uint64
	Value    uint64
}

const (
	FlushDwSize          = 5 * dword
	FlushDwAddressOffset = dword
	FlushDwValueOffset   = 3 * dword
)

func (c *FlushDw) Opcode() Opcode { return OpcodeFlushDw }
func (c *FlushDw) Size() int      { return FlushDwSize }

func (c *FlushDw) Encode(dst []byte) {
	var flags uint8
	if c.PostSync {
		flags |= flushDwPostSync
	}
	putHeader(dst, OpcodeFlushDw, flags, FlushDwSize)
	putU64(dst, FlushDwAddressOffset, c.Address)
	putU64(dst, FlushDwValueOffset, c.Value)
}

func (c *FlushDw) decode(flags uint8, body []byte) error {
	if err := checkSize(body, FlushDwSize); err != nil {
		return err
	}
	c.PostSync = flags&flushDwPostSync != 0
	c.Address = getU64(body, FlushDwAddressOffset)
	c.Value = getU64(body, FlushDwValueOffset)
	return nil
}

func (c *FlushDw) writeFields(obj *jwriter.ObjectState) {
	obj.Name("PostSync").Bool(c.PostSync)
	if c.PostSync {
		obj.Name("Address").String(hexAddress(c.Address))
		obj.Name("Value").Float64(float64(c.Value))
	}
}

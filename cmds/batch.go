package cmds

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Noop does nothing. Dwords is its length; a zero dword decodes as a one-dword Noop.
type Noop struct {
	Dwords int
}

func (c *Noop) Opcode() Opcode { return OpcodeNoop }

func (c *Noop) Size() int {
	if c.Dwords < 1 {
		return dword
	}
	return c.Dwords * dword
}

func (c *Noop) Encode(dst []byte) {
	size := c.Size()
	clear(dst[:size])
	putHeader(dst, OpcodeNoop, 0, size)
}

func (c *Noop) decode(flags uint8, body []byte) error {
	c.Dwords = len(body) / dword
	return nil
}

func (c *Noop) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Dwords").Int(c.Dwords)
}

// ArbCheck is an arbitration point: the hardware may switch to another context here
type ArbCheck struct{}

const ArbCheckSize = dword

func (c *ArbCheck) Opcode() Opcode { return OpcodeArbCheck }
func (c *ArbCheck) Size() int      { return ArbCheckSize }
func (c *ArbCheck) Encode(dst []byte) {
	putHeader(dst, OpcodeArbCheck, 0, ArbCheckSize)
}
func (c *ArbCheck) decode(flags uint8, body []byte) error {
	return checkSize(body, ArbCheckSize)
}
func (c *ArbCheck) writeFields(obj *jwriter.ObjectState) {}

// BatchBufferEnd ends a second-level batch, returning to the command after the BatchBufferStart that
// called it, or ends the submission if executed at the top level
type BatchBufferEnd struct{}

const BatchBufferEndSize = dword

func (c *BatchBufferEnd) Opcode() Opcode { return OpcodeBatchBufferEnd }
func (c *BatchBufferEnd) Size() int      { return BatchBufferEndSize }
func (c *BatchBufferEnd) Encode(dst []byte) {
	putHeader(dst, OpcodeBatchBufferEnd, 0, BatchBufferEndSize)
}
func (c *BatchBufferEnd) decode(flags uint8, body []byte) error {
	return checkSize(body, BatchBufferEndSize)
}
func (c *BatchBufferEnd) writeFields(obj *jwriter.ObjectState) {}

const (
	batchStartSecondLevel uint8 = 1 << iota
)

// BatchBufferStart continues execution at Address. A first-level start is a jump, used to chain
// command buffers together and to loop. A second-level start is a call: the BatchBufferEnd that
// finishes the called batch resumes execution after this command.
type BatchBufferStart struct {
	Address     uint64
	SecondLevel bool
}

const (
	BatchBufferStartSize          = 3 * dword
	BatchBufferStartAddressOffset = dword
)

func (c *BatchBufferStart) Opcode() Opcode { return OpcodeBatchBufferStart }
func (c *BatchBufferStart) Size() int      { return BatchBufferStartSize }

func (c *BatchBufferStart) Encode(dst []byte) {
	var flags uint8
	if c.SecondLevel {
		flags |= batchStartSecondLevel
	}
	putHeader(dst, OpcodeBatchBufferStart, flags, BatchBufferStartSize)
	putU64(dst, BatchBufferStartAddressOffset, c.Address)
}

func (c *BatchBufferStart) decode(flags uint8, body []byte) error {
	if err := checkSize(body, BatchBufferStartSize); err != nil {
		return err
	}
	c.SecondLevel = flags&batchStartSecondLevel != 0
	c.Address = getU64(body, BatchBufferStartAddressOffset)
	if c.Address%dword != 0 {
		return errors.Errorf("batch address 0x%x is not dword aligned", c.Address)
	}
	return nil
}

func (c *BatchBufferStart) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Address").String(hexAddress(c.Address))
	obj.Name("SecondLevel").Bool(c.SecondLevel)
}

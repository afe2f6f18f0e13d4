package cmds

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Opcode identifies a command. It occupies bits 31..24 of a command's header dword.
type Opcode uint8

const (
	OpcodeNoop             Opcode = 0x00
	OpcodeSetPredicate     Opcode = 0x01
	OpcodeArbCheck         Opcode = 0x05
	OpcodeBatchBufferEnd   Opcode = 0x0a
	OpcodeMath             Opcode = 0x1a
	OpcodeSemaphoreWait    Opcode = 0x1c
	OpcodeStoreDataImm     Opcode = 0x20
	OpcodeLoadRegisterImm  Opcode = 0x22
	OpcodeFlushDw          Opcode = 0x26
	OpcodeLoadRegisterMem  Opcode = 0x29
	OpcodeLoadRegisterReg  Opcode = 0x2a
	OpcodeBatchBufferStart Opcode = 0x31
	OpcodePipelineSelect   Opcode = 0x40
	OpcodeFrontEndState    Opcode = 0x41
	OpcodeStateBaseAddress Opcode = 0x42
	OpcodePipeControl      Opcode = 0x43
	OpcodeComputeWalker    Opcode = 0x44
	OpcodeXYColorBlt       Opcode = 0x50
	OpcodeXYCopyBlt        Opcode = 0x53
	OpcodeMemSet           Opcode = 0x5b
)

var opcodeMapping = map[Opcode]string{
	OpcodeNoop:             "Noop",
	OpcodeSetPredicate:     "SetPredicate",
	OpcodeArbCheck:         "ArbCheck",
	OpcodeBatchBufferEnd:   "BatchBufferEnd",
	OpcodeMath:             "Math",
	OpcodeSemaphoreWait:    "SemaphoreWait",
	OpcodeStoreDataImm:     "StoreDataImm",
	OpcodeLoadRegisterImm:  "LoadRegisterImm",
	OpcodeFlushDw:          "FlushDw",
	OpcodeLoadRegisterMem:  "LoadRegisterMem",
	OpcodeLoadRegisterReg:  "LoadRegisterReg",
	OpcodeBatchBufferStart: "BatchBufferStart",
	OpcodePipelineSelect:   "PipelineSelect",
	OpcodeFrontEndState:    "FrontEndState",
	OpcodeStateBaseAddress: "StateBaseAddress",
	OpcodePipeControl:      "PipeControl",
	OpcodeComputeWalker:    "ComputeWalker",
	OpcodeXYColorBlt:       "XYColorBlt",
	OpcodeXYCopyBlt:        "XYCopyBlt",
	OpcodeMemSet:           "MemSet",
}

func (o Opcode) String() string {
	str, ok := opcodeMapping[o]
	if !ok {
		return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
	}
	return str
}

// IsBlit returns true for commands executed by the copy engine
func (o Opcode) IsBlit() bool {
	return o == OpcodeXYCopyBlt || o == OpcodeXYColorBlt || o == OpcodeMemSet
}

// IsState returns true for commands that program engine state rather than doing work
func (o Opcode) IsState() bool {
	return o == OpcodePipelineSelect || o == OpcodeFrontEndState || o == OpcodeStateBaseAddress
}

// Command is one hardware command. The encoded form is a little-endian sequence of dwords whose first
// dword is the header: opcode in bits 31..24, command-specific flags in bits 23..16 and the command
// length in dwords, minus one, in bits 15..0.
type Command interface {
	Opcode() Opcode
	// Size is the encoded size in bytes
	Size() int
	// Encode writes the command into dst, which must hold at least Size() bytes
	Encode(dst []byte)

	decode(flags uint8, body []byte) error
	writeFields(obj *jwriter.ObjectState)
}

const dword = 4

// HeaderSize is the size of a command header
const HeaderSize = dword

func putHeader(dst []byte, op Opcode, flags uint8, size int) {
	length := uint32(size/dword - 1)
	binary.LittleEndian.PutUint32(dst, uint32(op)<<24|uint32(flags)<<16|length&0xffff)
}

func parseHeader(header uint32) (Opcode, uint8, int) {
	return Opcode(header >> 24), uint8(header >> 16), (int(header&0xffff) + 1) * dword
}

func putU32(dst []byte, offset int, value uint32) {
	binary.LittleEndian.PutUint32(dst[offset:], value)
}

func putU64(dst []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(dst[offset:], value)
}

// body offsets are relative to the start of the command, so body[0:4] is the header
func getU32(body []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(body[offset:])
}

func getU64(body []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(body[offset:])
}

// PatchU64 overwrites the 64-bit immediate at offset in an encoded command
func PatchU64(encoded []byte, offset int, value uint64) {
	putU64(encoded, offset, value)
}

// ReadU64 reads the 64-bit immediate at offset in an encoded command
func ReadU64(encoded []byte, offset int) uint64 {
	return getU64(encoded, offset)
}

func hexAddress(address uint64) string {
	return fmt.Sprintf("0x%x", address)
}

var factories = map[Opcode]func() Command{
	OpcodeNoop:             func() Command { return &Noop{} },
	OpcodeSetPredicate:     func() Command { return &SetPredicate{} },
	OpcodeArbCheck:         func() Command { return &ArbCheck{} },
	OpcodeBatchBufferEnd:   func() Command { return &BatchBufferEnd{} },
	OpcodeMath:             func() Command { return &Math{} },
	OpcodeSemaphoreWait:    func() Command { return &SemaphoreWait{} },
	OpcodeStoreDataImm:     func() Command { return &StoreDataImm{} },
	OpcodeLoadRegisterImm:  func() Command { return &LoadRegisterImm{} },
	OpcodeFlushDw:          func() Command { return &FlushDw{} },
	OpcodeLoadRegisterMem:  func() Command { return &LoadRegisterMem{} },
	OpcodeLoadRegisterReg:  func() Command { return &LoadRegisterReg{} },
	OpcodeBatchBufferStart: func() Command { return &BatchBufferStart{} },
	OpcodePipelineSelect:   func() Command { return &PipelineSelect{} },
	OpcodeFrontEndState:    func() Command { return &FrontEndState{} },
	OpcodeStateBaseAddress: func() Command { return &StateBaseAddress{} },
	OpcodePipeControl:      func() Command { return &PipeControl{} },
	OpcodeComputeWalker:    func() Command { return &ComputeWalker{} },
	OpcodeXYColorBlt:       func() Command { return &XYColorBlt{} },
	OpcodeXYCopyBlt:        func() Command { return &XYCopyBlt{} },
	OpcodeMemSet:           func() Command { return &MemSet{} },
}

// PeekSize returns the encoded size of the command whose header starts data
func PeekSize(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, errors.Errorf("a command header needs %d bytes but only %d remain", HeaderSize, len(data))
	}
	_, _, size := parseHeader(binary.LittleEndian.Uint32(data))
	return size, nil
}

// DecodeOne decodes the command at the start of data and returns it with its encoded size
func DecodeOne(data []byte) (Command, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, errors.Errorf("a command header needs %d bytes but only %d remain", HeaderSize, len(data))
	}

	op, flags, size := parseHeader(binary.LittleEndian.Uint32(data))
	factory, ok := factories[op]
	if !ok {
		return nil, 0, errors.Errorf("unknown opcode 0x%02x", uint8(op))
	}
	if size > len(data) {
		return nil, 0, errors.Errorf("%s declares %d bytes but only %d remain", op, size, len(data))
	}

	cmd := factory()
	if err := cmd.decode(flags, data[:size]); err != nil {
		return nil, 0, errors.Wrapf(err, "could not decode %s", op)
	}
	return cmd, size, nil
}

// Decode decodes every command in stream
func Decode(stream []byte) ([]Command, error) {
	var commands []Command
	for offset := 0; offset < len(stream); {
		cmd, size, err := DecodeOne(stream[offset:])
		if err != nil {
			return nil, errors.Wrapf(err, "at offset %d", offset)
		}

		commands = append(commands, cmd)
		offset += size
	}
	return commands, nil
}

// TotalSize returns the sum of the encoded sizes of commands
func TotalSize(commands ...Command) int {
	total := 0
	for _, cmd := range commands {
		total += cmd.Size()
	}
	return total
}

// EncodeAll encodes commands back to back into dst and returns the number of bytes written
func EncodeAll(dst []byte, commands ...Command) int {
	offset := 0
	for _, cmd := range commands {
		cmd.Encode(dst[offset:])
		offset += cmd.Size()
	}
	return offset
}

func checkSize(body []byte, expected int) error {
	if len(body) != expected {
		return errors.Errorf("expected %d bytes, found %d", expected, len(body))
	}
	return nil
}

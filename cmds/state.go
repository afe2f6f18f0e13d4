package cmds

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
)

// PipeControlFlags select the flushes and stalls a PipeControl performs
type PipeControlFlags uint32

var pipeControlFlagsMapping = common.NewFlagStringMapping[PipeControlFlags]()

func (f PipeControlFlags) Register(str string) {
	pipeControlFlagsMapping.Register(f, str)
}
func (f PipeControlFlags) String() string {
	return pipeControlFlagsMapping.FlagsToString(f)
}

const (
	// PipeControlCommandStreamerStall waits for all prior work to finish before continuing
	PipeControlCommandStreamerStall PipeControlFlags = 1 << iota
	PipeControlDataCacheFlush
	PipeControlUntypedDataPortCacheFlush
	PipeControlTextureCacheInvalidate
	PipeControlConstantCacheInvalidate
	PipeControlStateCacheInvalidate
	PipeControlInstructionCacheInvalidate
)

func init() {
	PipeControlCommandStreamerStall.Register("CommandStreamerStall")
	PipeControlDataCacheFlush.Register("DataCacheFlush")
	PipeControlUntypedDataPortCacheFlush.Register("UntypedDataPortCacheFlush")
	PipeControlTextureCacheInvalidate.Register("TextureCacheInvalidate")
	PipeControlConstantCacheInvalidate.Register("ConstantCacheInvalidate")
	PipeControlStateCacheInvalidate.Register("StateCacheInvalidate")
	PipeControlInstructionCacheInvalidate.Register("InstructionCacheInvalidate")
}

// PipeControlBarrierFlags is the flag set an execution barrier uses
const PipeControlBarrierFlags = PipeControlCommandStreamerStall | PipeControlDataCacheFlush | PipeControlUntypedDataPortCacheFlush

// PostSyncOperation is the write a PipeControl or ComputeWalker performs once its work completes
type PostSyncOperation uint32

const (
	PostSyncNone PostSyncOperation = iota
	// PostSyncWriteImmediate writes the 64-bit immediate to the post-sync address
	PostSyncWriteImmediate
	// PostSyncWriteTimestamp writes the engine timestamp to the post-sync address
	PostSyncWriteTimestamp
)

var postSyncOperationMapping = map[PostSyncOperation]string{
	PostSyncNone:           "None",
	PostSyncWriteImmediate: "WriteImmediate",
	PostSyncWriteTimestamp: "WriteTimestamp",
}

func (o PostSyncOperation) String() string {
	str, ok := postSyncOperationMapping[o]
	if !ok {
		return fmt.Sprintf("PostSyncOperation(%d)", uint32(o))
	}
	return str
}

// PipeControl flushes and stalls the compute pipeline and optionally performs a post-sync write
type PipeControl struct {
	Flags    PipeControlFlags
	PostSync PostSyncOperation
	Address  uint64
	Value    uint64
}

const (
	PipeControlSize          = 6 * dword
	PipeControlAddressOffset = 2 * dword
	PipeControlValueOffset   = 4 * dword
)

func (c *PipeControl) Opcode() Opcode { return OpcodePipeControl }
func (c *PipeControl) Size() int      { return PipeControlSize }

func (c *PipeControl) Encode(dst []byte) {
	putHeader(dst, OpcodePipeControl, uint8(c.PostSync), PipeControlSize)
	putU32(dst, dword, uint32(c.Flags))
	putU64(dst, PipeControlAddressOffset, c.Address)
	putU64(dst, PipeControlValueOffset, c.Value)
}

func (c *PipeControl) decode(flags uint8, body []byte) error {
	if err := checkSize(body, PipeControlSize); err != nil {
		return err
	}
	c.PostSync = PostSyncOperation(flags)
	if _, ok := postSyncOperationMapping[c.PostSync]; !ok {
		return errors.Errorf("unknown post-sync operation %d", flags)
	}
	c.Flags = PipeControlFlags(getU32(body, dword))
	c.Address = getU64(body, PipeControlAddressOffset)
	c.Value = getU64(body, PipeControlValueOffset)
	return nil
}

func (c *PipeControl) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Flags").String(c.Flags.String())
	obj.Name("PostSync").String(c.PostSync.String())
	if c.PostSync != PostSyncNone {
		obj.Name("Address").String(hexAddress(c.Address))
		obj.Name("Value").Float64(float64(c.Value))
	}
}

// Pipeline is the pipeline a PipelineSelect activates
type Pipeline uint8

const (
	PipelineUnknown Pipeline = iota
	Pipeline3D
	PipelineCompute
)

var pipelineMapping = map[Pipeline]string{
	PipelineUnknown: "Unknown",
	Pipeline3D:      "3D",
	PipelineCompute: "Compute",
}

func (p Pipeline) String() string {
	return pipelineMapping[p]
}

// PipelineSelect switches the engine between pipelines
type PipelineSelect struct {
	Pipeline Pipeline
	// SystolicMode enables the matrix units for the compute pipeline
	SystolicMode bool
}

const PipelineSelectSize = 2 * dword

func (c *PipelineSelect) Opcode() Opcode { return OpcodePipelineSelect }
func (c *PipelineSelect) Size() int      { return PipelineSelectSize }

func (c *PipelineSelect) Encode(dst []byte) {
	putHeader(dst, OpcodePipelineSelect, uint8(c.Pipeline), PipelineSelectSize)
	var mode uint32
	if c.SystolicMode {
		mode = 1
	}
	putU32(dst, dword, mode)
}

func (c *PipelineSelect) decode(flags uint8, body []byte) error {
	if err := checkSize(body, PipelineSelectSize); err != nil {
		return err
	}
	c.Pipeline = Pipeline(flags)
	if c.Pipeline != Pipeline3D && c.Pipeline != PipelineCompute {
		return errors.Errorf("unknown pipeline %d", flags)
	}
	c.SystolicMode = getU32(body, dword)&1 != 0
	return nil
}

func (c *PipelineSelect) writeFields(obj *jwriter.ObjectState) {
	obj.Name("Pipeline").String(c.Pipeline.String())
	obj.Name("SystolicMode").Bool(c.SystolicMode)
}

const (
	frontEndCooperativeDispatch uint32 = 1 << iota
	frontEndDisableOverdispatch
)

// FrontEndState programs how the front end distributes workgroups
type FrontEndState struct {
	// CooperativeDispatch dispatches every workgroup of a walker concurrently
	CooperativeDispatch bool
	DisableOverdispatch bool
}

const FrontEndStateSize = 2 * dword

func (c *FrontEndState) Opcode() Opcode { return OpcodeFrontEndState }
func (c *FrontEndState) Size() int      { return FrontEndStateSize }

func (c *FrontEndState) Encode(dst []byte) {
	putHeader(dst, OpcodeFrontEndState, 0, FrontEndStateSize)
	var bits uint32
	if c.CooperativeDispatch {
		bits |= frontEndCooperativeDispatch
	}
	if c.DisableOverdispatch {
		bits |= frontEndDisableOverdispatch
	}
	putU32(dst, dword, bits)
}

func (c *FrontEndState) decode(flags uint8, body []byte) error {
	if err := checkSize(body, FrontEndStateSize); err != nil {
		return err
	}
	bits := getU32(body, dword)
	c.CooperativeDispatch = bits&frontEndCooperativeDispatch != 0
	c.DisableOverdispatch = bits&frontEndDisableOverdispatch != 0
	return nil
}

func (c *FrontEndState) writeFields(obj *jwriter.ObjectState) {
	obj.Name("CooperativeDispatch").Bool(c.CooperativeDispatch)
	obj.Name("DisableOverdispatch").Bool(c.DisableOverdispatch)
}

// StateBaseAddress programs the base addresses that heap offsets in later commands are relative to.
// A zero address leaves that base unprogrammed.
type StateBaseAddress struct {
	SurfaceStateBase   uint64
	DynamicStateBase   uint64
	IndirectObjectBase uint64
}

const StateBaseAddressSize = 7 * dword

func (c *StateBaseAddress) Opcode() Opcode { return OpcodeStateBaseAddress }
func (c *StateBaseAddress) Size() int      { return StateBaseAddressSize }

func (c *StateBaseAddress) Encode(dst []byte) {
	putHeader(dst, OpcodeStateBaseAddress, 0, StateBaseAddressSize)
	putU64(dst, dword, c.SurfaceStateBase)
	putU64(dst, 3*dword, c.DynamicStateBase)
	putU64(dst, 5*dword, c.IndirectObjectBase)
}

func (c *StateBaseAddress) decode(flags uint8, body []byte) error {
	if err := checkSize(body, StateBaseAddressSize); err != nil {
		return err
	}
	c.SurfaceStateBase = getU64(body, dword)
	c.DynamicStateBase = getU64(body, 3*dword)
	c.IndirectObjectBase = getU64(body, 5*dword)
	return nil
}

func (c *StateBaseAddress) writeFields(obj *jwriter.ObjectState) {
	obj.Name("SurfaceStateBase").String(hexAddress(c.SurfaceStateBase))
	obj.Name("DynamicStateBase").String(hexAddress(c.DynamicStateBase))
	obj.Name("IndirectObjectBase").String(hexAddress(c.IndirectObjectBase))
}

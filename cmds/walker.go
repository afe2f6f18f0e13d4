package cmds

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// ComputeWalker dispatches a kernel. When PostSync is set, every one of PartitionCount partitions
// writes PostSyncValue to its own 8-byte slot starting at PostSyncAddress once its share of the
// workgroups completes.
type ComputeWalker struct {
	GroupCountX     uint32
	GroupCountY     uint32
	GroupCountZ     uint32
	ThreadGroupSize uint32

	// IndirectDataOffset and IndirectDataLength locate the kernel arguments in the indirect object
	// heap when descriptors are addressed globally
	IndirectDataOffset uint32
	IndirectDataLength uint32
	KernelStartAddress uint64

	PartitionCount  uint32
	PostSync        PostSyncOperation
	PostSyncAddress uint64
	PostSyncValue   uint64

	// InlineData carries the kernel arguments inside the command when descriptors are inline. Its
	// length must be a multiple of 4.
	InlineData []byte
}

const (
	computeWalkerFixedSize = 15 * dword

	ComputeWalkerPostSyncAddressOffset = 11 * dword
	ComputeWalkerPostSyncValueOffset   = 13 * dword
)

func (c *ComputeWalker) Opcode() Opcode { return OpcodeComputeWalker }

func (c *ComputeWalker) Size() int {
	return computeWalkerFixedSize + (len(c.InlineData)+dword-1)/dword*dword
}

func (c *ComputeWalker) Encode(dst []byte) {
	size := c.Size()
	putHeader(dst, OpcodeComputeWalker, 0, size)
	putU32(dst, 1*dword, c.GroupCountX)
	putU32(dst, 2*dword, c.GroupCountY)
	putU32(dst, 3*dword, c.GroupCountZ)
	putU32(dst, 4*dword, c.ThreadGroupSize)
	putU32(dst, 5*dword, c.IndirectDataOffset)
	putU32(dst, 6*dword, c.IndirectDataLength)
	putU64(dst, 7*dword, c.KernelStartAddress)
	putU32(dst, 9*dword, c.PartitionCount)
	putU32(dst, 10*dword, uint32(c.PostSync))
	putU64(dst, ComputeWalkerPostSyncAddressOffset, c.PostSyncAddress)
	putU64(dst, ComputeWalkerPostSyncValueOffset, c.PostSyncValue)

	inline := dst[computeWalkerFixedSize:size]
	clear(inline)
	copy(inline, c.InlineData)
}

func (c *ComputeWalker) decode(flags uint8, body []byte) error {
	if len(body) < computeWalkerFixedSize {
		return errors.Errorf("expected at least %d bytes, found %d", computeWalkerFixedSize, len(body))
	}
	c.GroupCountX = getU32(body, 1*dword)
	c.GroupCountY = getU32(body, 2*dword)
	c.GroupCountZ = getU32(body, 3*dword)
	c.ThreadGroupSize = getU32(body, 4*dword)
	c.IndirectDataOffset = getU32(body, 5*dword)
	c.IndirectDataLength = getU32(body, 6*dword)
	c.KernelStartAddress = getU64(body, 7*dword)
	c.PartitionCount = getU32(body, 9*dword)
	c.PostSync = PostSyncOperation(getU32(body, 10*dword))
	c.PostSyncAddress = getU64(body, ComputeWalkerPostSyncAddressOffset)
	c.PostSyncValue = getU64(body, ComputeWalkerPostSyncValueOffset)

	c.InlineData = nil
	if len(body) > computeWalkerFixedSize {
		c.InlineData = append([]byte(nil), body[computeWalkerFixedSize:]...)
	}

	if _, ok := postSyncOperationMapping[c.PostSync]; !ok {
		return errors.Errorf("unknown post-sync operation %d", c.PostSync)
	}
	if c.PartitionCount == 0 {
		return errors.New("partition count must be at least 1")
	}
	return nil
}

func (c *ComputeWalker) writeFields(obj *jwriter.ObjectState) {
	groups := obj.Name("GroupCount").Array()
	groups.Int(int(c.GroupCountX))
	groups.Int(int(c.GroupCountY))
	groups.Int(int(c.GroupCountZ))
	groups.End()

	obj.Name("ThreadGroupSize").Int(int(c.ThreadGroupSize))
	obj.Name("KernelStartAddress").String(hexAddress(c.KernelStartAddress))
	obj.Maybe("IndirectDataOffset", c.IndirectDataLength > 0).Int(int(c.IndirectDataOffset))
	obj.Maybe("IndirectDataLength", c.IndirectDataLength > 0).Int(int(c.IndirectDataLength))
	obj.Maybe("InlineDataLength", len(c.InlineData) > 0).Int(len(c.InlineData))
	obj.Name("PartitionCount").Int(int(c.PartitionCount))
	obj.Name("PostSync").String(c.PostSync.String())
	if c.PostSync != PostSyncNone {
		obj.Name("PostSyncAddress").String(hexAddress(c.PostSyncAddress))
		obj.Name("PostSyncValue").Float64(float64(c.PostSyncValue))
	}
}

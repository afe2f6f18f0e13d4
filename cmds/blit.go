package cmds

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
)

// BlitMemoryFlags describe the memory on either side of a blit command
type BlitMemoryFlags uint32

var blitMemoryFlagsMapping = common.NewFlagStringMapping[BlitMemoryFlags]()

func (f BlitMemoryFlags) Register(str string) {
	blitMemoryFlagsMapping.Register(f, str)
}
func (f BlitMemoryFlags) String() string {
	return blitMemoryFlagsMapping.FlagsToString(f)
}

const (
	BlitDestinationCompressed BlitMemoryFlags = 1 << iota
	BlitSourceCompressed
	// BlitDestinationSystemMemory marks a destination that is not device-local
	BlitDestinationSystemMemory
	// BlitSourceSystemMemory marks a source that is not device-local
	BlitSourceSystemMemory
)

func init() {
	BlitDestinationCompressed.Register("DestinationCompressed")
	BlitSourceCompressed.Register("SourceCompressed")
	BlitDestinationSystemMemory.Register("DestinationSystemMemory")
	BlitSourceSystemMemory.Register("SourceSystemMemory")
}

// ValidPixelSize returns true for the pixel sizes blit commands accept: 1, 2, 4, 8 and 16 bytes
func ValidPixelSize(size int) bool {
	switch size {
	case 1, 2, 4, 8, 16:
		return true
	}
	return false
}

// XYCopyBlt copies a Width x Height rectangle of pixels. Row y of the rectangle starts at
// Address + (Y+y)*Pitch + X*PixelSize on each side.
type XYCopyBlt struct {
	PixelSize int
	Width     int
	Height    int

	DestinationAddress uint64
	DestinationPitch   int
	DestinationX       int
	DestinationY       int

	SourceAddress uint64
	SourcePitch   int
	SourceX       int
	SourceY       int

	DestinationCompressionFormat uint32
	SourceCompressionFormat      uint32
	Flags                        BlitMemoryFlags
}

const XYCopyBltSize = 17 * dword

func (c *XYCopyBlt) Opcode() Opcode { return OpcodeXYCopyBlt }
func (c *XYCopyBlt) Size() int      { return XYCopyBltSize }

func (c *XYCopyBlt) Encode(dst []byte) {
	putHeader(dst, OpcodeXYCopyBlt, 0, XYCopyBltSize)
	putU32(dst, 1*dword, uint32(c.PixelSize))
	putU32(dst, 2*dword, uint32(c.Width))
	putU32(dst, 3*dword, uint32(c.Height))
	putU32(dst, 4*dword, uint32(c.DestinationPitch))
	putU32(dst, 5*dword, uint32(c.DestinationX))
	putU32(dst, 6*dword, uint32(c.DestinationY))
	putU64(dst, 7*dword, c.DestinationAddress)
	putU32(dst, 9*dword, uint32(c.SourcePitch))
	putU32(dst, 10*dword, uint32(c.SourceX))
	putU32(dst, 11*dword, uint32(c.SourceY))
	putU64(dst, 12*dword, c.SourceAddress)
	putU32(dst, 14*dword, c.DestinationCompressionFormat)
	putU32(dst, 15*dword, c.SourceCompressionFormat)
	putU32(dst, 16*dword, uint32(c.Flags))
}

func (c *XYCopyBlt) decode(flags uint8, body []byte) error {
	if err := checkSize(body, XYCopyBltSize); err != nil {
		return err
	}
	c.PixelSize = int(getU32(body, 1*dword))
	c.Width = int(getU32(body, 2*dword))
	c.Height = int(getU32(body, 3*dword))
	c.DestinationPitch = int(getU32(body, 4*dword))
	c.DestinationX = int(getU32(body, 5*dword))
	c.DestinationY = int(getU32(body, 6*dword))
	c.DestinationAddress = getU64(body, 7*dword)
	c.SourcePitch = int(getU32(body, 9*dword))
	c.SourceX = int(getU32(body, 10*dword))
	c.SourceY = int(getU32(body, 11*dword))
	c.SourceAddress = getU64(body, 12*dword)
	c.DestinationCompressionFormat = getU32(body, 14*dword)
	c.SourceCompressionFormat = getU32(body, 15*dword)
	c.Flags = BlitMemoryFlags(getU32(body, 16*dword))

	if !ValidPixelSize(c.PixelSize) {
		return errors.Errorf("invalid pixel size %d", c.PixelSize)
	}
	if c.Width < 1 || c.Height < 1 {
		return errors.Errorf("empty copy rectangle %dx%d", c.Width, c.Height)
	}
	return nil
}

func (c *XYCopyBlt) writeFields(obj *jwriter.ObjectState) {
	obj.Name("PixelSize").Int(c.PixelSize)
	obj.Name("Width").Int(c.Width)
	obj.Name("Height").Int(c.Height)
	obj.Name("DestinationAddress").String(hexAddress(c.DestinationAddress))
	obj.Name("DestinationPitch").Int(c.DestinationPitch)
	obj.Name("DestinationX").Int(c.DestinationX)
	obj.Name("DestinationY").Int(c.DestinationY)
	obj.Name("SourceAddress").String(hexAddress(c.SourceAddress))
	obj.Name("SourcePitch").Int(c.SourcePitch)
	obj.Name("SourceX").Int(c.SourceX)
	obj.Name("SourceY").Int(c.SourceY)
	obj.Maybe("DestinationCompressionFormat", c.DestinationCompressionFormat != 0).Int(int(c.DestinationCompressionFormat))
	obj.Maybe("SourceCompressionFormat", c.SourceCompressionFormat != 0).Int(int(c.SourceCompressionFormat))
	obj.Maybe("Flags", c.Flags != 0).String(c.Flags.String())
}

// XYColorBlt fills a Width x Height rectangle of PixelSize-byte pixels with the first PixelSize
// bytes of Pattern. A non-zero ByteMask restricts the write to the pixel bytes whose bit is set.
type XYColorBlt struct {
	PixelSize          int
	Width              int
	Height             int
	DestinationAddress uint64
	DestinationPitch   int
	Pattern            [16]byte
	ByteMask           uint16

	DestinationCompressionFormat uint32
	Flags                        BlitMemoryFlags
}

const XYColorBltSize = 14 * dword

func (c *XYColorBlt) Opcode() Opcode { return OpcodeXYColorBlt }
func (c *XYColorBlt) Size() int      { return XYColorBltSize }

func (c *XYColorBlt) Encode(dst []byte) {
	putHeader(dst, OpcodeXYColorBlt, 0, XYColorBltSize)
	putU32(dst, 1*dword, uint32(c.PixelSize))
	putU32(dst, 2*dword, uint32(c.Width))
	putU32(dst, 3*dword, uint32(c.Height))
	putU32(dst, 4*dword, uint32(c.DestinationPitch))
	putU64(dst, 5*dword, c.DestinationAddress)
	putU32(dst, 7*dword, c.DestinationCompressionFormat)
	putU32(dst, 8*dword, uint32(c.Flags))
	copy(dst[9*dword:13*dword], c.Pattern[:])
	putU32(dst, 13*dword, uint32(c.ByteMask))
}

func (c *XYColorBlt) decode(flags uint8, body []byte) error {
	if err := checkSize(body, XYColorBltSize); err != nil {
		return err
	}
	c.PixelSize = int(getU32(body, 1*dword))
	c.Width = int(getU32(body, 2*dword))
	c.Height = int(getU32(body, 3*dword))
	c.DestinationPitch = int(getU32(body, 4*dword))
	c.DestinationAddress = getU64(body, 5*dword)
	c.DestinationCompressionFormat = getU32(body, 7*dword)
	c.Flags = BlitMemoryFlags(getU32(body, 8*dword))
	copy(c.Pattern[:], body[9*dword:13*dword])
	mask := getU32(body, 13*dword)

	if !ValidPixelSize(c.PixelSize) {
		return errors.Errorf("invalid pixel size %d", c.PixelSize)
	}
	if c.Width < 1 || c.Height < 1 {
		return errors.Errorf("empty fill rectangle %dx%d", c.Width, c.Height)
	}
	if mask>>c.PixelSize != 0 {
		return errors.Errorf("byte mask %#x selects bytes outside a %d-byte pixel", mask, c.PixelSize)
	}
	c.ByteMask = uint16(mask)
	return nil
}

func (c *XYColorBlt) writeFields(obj *jwriter.ObjectState) {
	obj.Name("PixelSize").Int(c.PixelSize)
	obj.Name("Width").Int(c.Width)
	obj.Name("Height").Int(c.Height)
	obj.Name("DestinationAddress").String(hexAddress(c.DestinationAddress))
	obj.Name("DestinationPitch").Int(c.DestinationPitch)
	obj.Maybe("ByteMask", c.ByteMask != 0).Int(int(c.ByteMask))
	obj.Maybe("DestinationCompressionFormat", c.DestinationCompressionFormat != 0).Int(int(c.DestinationCompressionFormat))
	obj.Maybe("Flags", c.Flags != 0).String(c.Flags.String())
}

// MemSetMode selects how MemSet interprets its extent
type MemSetMode uint8

const (
	// MemSetLinear fills Width contiguous bytes; Height and Pitch are ignored
	MemSetLinear MemSetMode = iota
	// MemSetMatrix fills Height rows of Width bytes spaced Pitch bytes apart
	MemSetMatrix
)

// MemSet fills bytes with the single byte Value. It is the fill used for 1-byte patterns.
type MemSet struct {
	Mode               MemSetMode
	Width              int
	Height             int
	DestinationPitch   int
	DestinationAddress uint64
	Value              byte

	DestinationCompressionFormat uint32
	Flags                        BlitMemoryFlags
}

const MemSetSize = 9 * dword

func (c *MemSet) Opcode() Opcode { return OpcodeMemSet }
func (c *MemSet) Size() int      { return MemSetSize }

func (c *MemSet) Encode(dst []byte) {
	putHeader(dst, OpcodeMemSet, uint8(c.Mode), MemSetSize)
	putU32(dst, 1*dword, uint32(c.Width))
	putU32(dst, 2*dword, uint32(c.Height))
	putU32(dst, 3*dword, uint32(c.DestinationPitch))
	putU64(dst, 4*dword, c.DestinationAddress)
	putU32(dst, 6*dword, uint32(c.Value))
	putU32(dst, 7*dword, c.DestinationCompressionFormat)
	putU32(dst, 8*dword, uint32(c.Flags))
}

func (c *MemSet) decode(flags uint8, body []byte) error {
	if err := checkSize(body, MemSetSize); err != nil {
		return err
	}
	c.Mode = MemSetMode(flags)
	c.Width = int(getU32(body, 1*dword))
	c.Height = int(getU32(body, 2*dword))
	c.DestinationPitch = int(getU32(body, 3*dword))
	c.DestinationAddress = getU64(body, 4*dword)
	c.Value = byte(getU32(body, 6*dword))
	c.DestinationCompressionFormat = getU32(body, 7*dword)
	c.Flags = BlitMemoryFlags(getU32(body, 8*dword))

	if c.Mode != MemSetLinear && c.Mode != MemSetMatrix {
		return errors.Errorf("unknown mem set mode %d", flags)
	}
	if c.Width < 1 || (c.Mode == MemSetMatrix && c.Height < 1) {
		return errors.Errorf("empty fill %dx%d", c.Width, c.Height)
	}
	return nil
}

// ByteCount returns the number of bytes the command writes
func (c *MemSet) ByteCount() int {
	if c.Mode == MemSetLinear {
		return c.Width
	}
	return c.Width * c.Height
}

func (c *MemSet) writeFields(obj *jwriter.ObjectState) {
	if c.Mode == MemSetLinear {
		obj.Name("Mode").String("Linear")
	} else {
		obj.Name("Mode").String("Matrix")
		obj.Name("Height").Int(c.Height)
		obj.Name("DestinationPitch").Int(c.DestinationPitch)
	}
	obj.Name("Width").Int(c.Width)
	obj.Name("DestinationAddress").String(hexAddress(c.DestinationAddress))
	obj.Name("Value").Int(int(c.Value))
	obj.Maybe("DestinationCompressionFormat", c.DestinationCompressionFormat != 0).Int(int(c.DestinationCompressionFormat))
	obj.Maybe("Flags", c.Flags != 0).String(c.Flags.String())
}

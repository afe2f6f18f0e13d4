package hwinfo

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dispatch/config"
)

// ProductFamily identifies a hardware generation. Command lists pick their encoder strategy with it.
type ProductFamily uint32

const (
	ProductFamilyUnknown ProductFamily = iota
	// ProductFamilyBaseline is a single-tile integrated part with global descriptor heaps
	ProductFamilyBaseline
	// ProductFamilyDiscrete is a single-tile discrete part with inline descriptors and relaxed ordering
	ProductFamilyDiscrete
	// ProductFamilyDiscreteMultiTile is a discrete part with two partitions and no atomic in-order signalling
	ProductFamilyDiscreteMultiTile
	// ProductFamilyLegacy is recognized but has no encoder; constructing a list for it fails
	ProductFamilyLegacy
)

var productFamilyMapping = map[ProductFamily]string{
	ProductFamilyUnknown:           "Unknown",
	ProductFamilyBaseline:          "Baseline",
	ProductFamilyDiscrete:          "Discrete",
	ProductFamilyDiscreteMultiTile: "DiscreteMultiTile",
	ProductFamilyLegacy:            "Legacy",
}

func (f ProductFamily) String() string {
	return productFamilyMapping[f]
}

// HeapAddressing is how hardware commands find kernel descriptors
type HeapAddressing uint32

const (
	// HeapAddressingGlobal programs surface, dynamic state and indirect object heap base addresses
	// with a state base address command, and commands reference the heaps by offset
	HeapAddressingGlobal HeapAddressing = iota
	// HeapAddressingInline carries descriptors inline in the dispatch command; only the surface heap exists
	HeapAddressingInline
)

var heapAddressingMapping = map[HeapAddressing]string{
	HeapAddressingGlobal: "Global",
	HeapAddressingInline: "Inline",
}

func (h HeapAddressing) String() string {
	return heapAddressingMapping[h]
}

// Capabilities are the per-product constants the encoders read
type Capabilities struct {
	Family ProductFamily

	// MaxBlitWidth is the largest width, in pixels, a single blit command can address
	MaxBlitWidth int
	// MaxBlitHeight is the largest number of rows a single blit command can address
	MaxBlitHeight int
	// BlitCompressionFormat is written into blit commands touching compressible memory
	BlitCompressionFormat uint32
	BlitCompressionSupported bool
	// PreBlitFenceRequired means prior writes must be drained with a fence before a blit starts
	PreBlitFenceRequired bool
	// PostBlitArbitrationCheck means every blit is followed by an arbitration check so the
	// arbiter can reclaim the engine
	PostBlitArbitrationCheck bool

	RelaxedOrderingSupported bool
	// InOrderAtomicSignaling means one atomic write signals an in-order counter for all partitions
	InOrderAtomicSignaling bool
	// PartitionCount is the number of hardware partitions that each write a counter slot when
	// signalling is not atomic
	PartitionCount int

	HeapAddressing HeapAddressing
	// TrackFrontEndState means front-end state (cooperative dispatch) must be programmed explicitly
	TrackFrontEndState bool
	// TrackPipelineSelect means the pipeline must be selected explicitly before compute work
	TrackPipelineSelect bool
}

// CounterSlots is the number of 8-byte slots an in-order counter occupies
func (c Capabilities) CounterSlots() int {
	if c.InOrderAtomicSignaling || c.PartitionCount < 1 {
		return 1
	}
	return c.PartitionCount
}

// WithOverrides applies the overrides in cfg
func (c Capabilities) WithOverrides(cfg config.EncoderConfig) Capabilities {
	if cfg.MaxBlitWidth > 0 {
		c.MaxBlitWidth = cfg.MaxBlitWidth
	}
	if cfg.MaxBlitHeight > 0 {
		c.MaxBlitHeight = cfg.MaxBlitHeight
	}
	if cfg.ForceBlitCompressionFormat != 0 {
		c.BlitCompressionFormat = cfg.ForceBlitCompressionFormat
	}
	c.PreBlitFenceRequired = cfg.PreBlitFence.Apply(c.PreBlitFenceRequired)
	c.RelaxedOrderingSupported = cfg.RelaxedOrdering.Apply(c.RelaxedOrderingSupported)
	c.InOrderAtomicSignaling = cfg.InOrderAtomicSignaling.Apply(c.InOrderAtomicSignaling)
	return c
}

func (c Capabilities) Validate() error {
	if c.MaxBlitWidth < 1 || c.MaxBlitHeight < 1 {
		return errors.Errorf("max blit extent must be positive, was %dx%d", c.MaxBlitWidth, c.MaxBlitHeight)
	}
	if c.PartitionCount < 1 {
		return errors.Errorf("partition count must be positive, was %d", c.PartitionCount)
	}
	return nil
}

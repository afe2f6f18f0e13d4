package hwinfo

var registry = map[ProductFamily]Capabilities{
	ProductFamilyBaseline: {
		Family:                   ProductFamilyBaseline,
		MaxBlitWidth:             0x4000,
		MaxBlitHeight:            0x4000,
		PostBlitArbitrationCheck: true,
		InOrderAtomicSignaling:   true,
		PartitionCount:           1,
		HeapAddressing:           HeapAddressingGlobal,
		TrackFrontEndState:       true,
		TrackPipelineSelect:      true,
	},
	ProductFamilyDiscrete: {
		Family:                   ProductFamilyDiscrete,
		MaxBlitWidth:             0x4000,
		MaxBlitHeight:            0x4000,
		BlitCompressionFormat:    0x2,
		BlitCompressionSupported: true,
		PreBlitFenceRequired:     true,
		PostBlitArbitrationCheck: true,
		RelaxedOrderingSupported: true,
		InOrderAtomicSignaling:   true,
		PartitionCount:           1,
		HeapAddressing:           HeapAddressingInline,
		TrackFrontEndState:       true,
	},
	ProductFamilyDiscreteMultiTile: {
		Family:                   ProductFamilyDiscreteMultiTile,
		MaxBlitWidth:             0x4000,
		MaxBlitHeight:            0x4000,
		BlitCompressionFormat:    0x2,
		BlitCompressionSupported: true,
		PreBlitFenceRequired:     true,
		PostBlitArbitrationCheck: true,
		RelaxedOrderingSupported: true,
		PartitionCount:           2,
		HeapAddressing:           HeapAddressingInline,
		TrackFrontEndState:       true,
	},
}

// Lookup returns the capability table of a product family. Families without an encoder return false.
func Lookup(family ProductFamily) (Capabilities, bool) {
	caps, ok := registry[family]
	return caps, ok
}

// IsSupported returns true if command lists can be created for the family
func IsSupported(family ProductFamily) bool {
	_, ok := registry[family]
	return ok
}

package blit

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/memutils"
	"github.com/vkngwrapper/dispatch/result"
)

// Direction is what a blit moves between
type Direction uint8

const (
	DirectionBufferToBuffer Direction = iota
	DirectionBufferToImage
	DirectionImageToBuffer
	DirectionImageToImage
	DirectionFill
)

var directionMapping = map[Direction]string{
	DirectionBufferToBuffer: "BufferToBuffer",
	DirectionBufferToImage:  "BufferToImage",
	DirectionImageToBuffer:  "ImageToBuffer",
	DirectionImageToImage:   "ImageToImage",
	DirectionFill:           "Fill",
}

func (d Direction) String() string {
	str, ok := directionMapping[d]
	if !ok {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return str
}

// Endpoint is one side of a blit: an offset into an allocation, or a raw address that no allocation
// backs. Raw addresses are treated as system memory and never compressed.
type Endpoint struct {
	Allocation *memory.GraphicsAllocation
	Offset     uint64
	// RawAddress is used when Allocation is nil
	RawAddress uint64
}

// AllocationEndpoint addresses offset bytes into alloc
func AllocationEndpoint(alloc *memory.GraphicsAllocation, offset uint64) Endpoint {
	return Endpoint{Allocation: alloc, Offset: offset}
}

// RawEndpoint addresses memory no allocation backs
func RawEndpoint(address uint64) Endpoint {
	return Endpoint{RawAddress: address}
}

// GPUAddress is the address of the endpoint's first byte
func (e Endpoint) GPUAddress() uint64 {
	if e.Allocation == nil {
		return e.RawAddress + e.Offset
	}
	return e.Allocation.GPUAddress() + e.Offset
}

// IsRaw returns true if no allocation backs the endpoint
func (e Endpoint) IsRaw() bool {
	return e.Allocation == nil
}

// IsSystemMemory returns true if the endpoint is not device-local
func (e Endpoint) IsSystemMemory() bool {
	return e.Allocation == nil || e.Allocation.Pool().IsSystemMemory()
}

func (e Endpoint) isCompressible() bool {
	return e.Allocation != nil && e.Allocation.IsCompressible()
}

// Surface is an endpoint seen as a 3D box of bytes: X is in bytes, Y in rows and Z in slices
type Surface struct {
	Endpoint
	X          int
	Y          int
	Z          int
	RowPitch   int
	SlicePitch int
}

// address returns the first byte of row y of slice z, relative to the surface origin
func (s Surface) address(y, z int) uint64 {
	return s.GPUAddress() + uint64((s.Z+z)*s.SlicePitch+(s.Y+y)*s.RowPitch+s.X)
}

func (s Surface) sliceAddress(z int) uint64 {
	return s.GPUAddress() + uint64((s.Z+z)*s.SlicePitch)
}

// Tiling is the memory layout of an image
type Tiling uint8

const (
	TilingLinear Tiling = iota
	// TilingTiled lays the image out in 128 byte by 32 row tiles
	TilingTiled
)

const (
	tileWidthBytes = 128
	tileHeightRows = 32
)

// ImageInfo describes the layout of an image endpoint
type ImageInfo struct {
	Format    gputypes.TextureFormat
	Size      gputypes.Extent3D
	Dimension gputypes.TextureDimension
	Tiling    Tiling
	// RowPitch and SlicePitch override the pitches derived from the size and tiling when non-zero
	RowPitch   int
	SlicePitch int
}

// BytesPerPixel returns the size of one pixel of format. Block-compressed and depth/stencil formats
// cannot be blitted and return false.
func BytesPerPixel(format gputypes.TextureFormat) (int, bool) {
	switch format {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm, gputypes.TextureFormatR8Uint,
		gputypes.TextureFormatR8Sint:
		return 1, true
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm, gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR16Sint, gputypes.TextureFormatR16Float, gputypes.TextureFormatRG8Unorm,
		gputypes.TextureFormatRG8Snorm, gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint:
		return 2, true
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint, gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm, gputypes.TextureFormatRG16Uint,
		gputypes.TextureFormatRG16Sint, gputypes.TextureFormatRG16Float, gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb, gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint, gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm, gputypes.TextureFormatRG11B10Ufloat,
		gputypes.TextureFormatRGB9E5Ufloat:
		return 4, true
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm, gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA16Sint, gputypes.TextureFormatRGBA16Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint, gputypes.TextureFormatRGBA32Sint:
		return 16, true
	}
	return 0, false
}

// ResolveImagePitch returns the row and slice pitch of an image in bytes. Explicit pitches win;
// otherwise linear images are packed and tiled images are padded to whole tiles.
func ResolveImagePitch(info ImageInfo) (int, int, error) {
	bpp, ok := BytesPerPixel(info.Format)
	if !ok {
		return 0, 0, result.Errorf(result.ErrorUnsupportedFeature, "images of format %s cannot be blitted", info.Format)
	}

	width := int(info.Size.Width)
	height := int(max(info.Size.Height, 1))

	rowPitch := info.RowPitch
	if rowPitch == 0 {
		rowPitch = width * bpp
		if info.Tiling == TilingTiled {
			rowPitch = memutils.AlignUp(rowPitch, tileWidthBytes)
		}
	}
	if rowPitch < width*bpp {
		return 0, 0, result.Errorf(result.ErrorInvalidArgument, "row pitch %d is smaller than a %d pixel row", rowPitch, width)
	}

	slicePitch := info.SlicePitch
	if slicePitch == 0 {
		rows := height
		if info.Tiling == TilingTiled {
			rows = memutils.AlignUp(rows, tileHeightRows)
		}
		slicePitch = rowPitch * rows
	}
	if slicePitch < rowPitch*height {
		return 0, 0, result.Errorf(result.ErrorInvalidArgument, "slice pitch %d is smaller than %d rows of %d bytes", slicePitch, height, rowPitch)
	}

	return rowPitch, slicePitch, nil
}

// Properties describes one copy or fill, normalized to byte boxes. It is built per call by one of the
// Construct functions and consumed by the matching Dispatch function.
type Properties struct {
	Direction   Direction
	Destination Surface
	Source      Surface

	// Width is in bytes, Height in rows and Depth in slices
	Width  int
	Height int
	Depth  int

	// Pattern is the fill pattern; only fills use it
	Pattern []byte

	DestinationImage *ImageInfo
	SourceImage      *ImageInfo
}

// Bytes is the number of bytes the blit writes
func (p Properties) Bytes() int {
	return p.Width * p.Height * p.Depth
}

// IsEmpty returns true if the blit writes nothing
func (p Properties) IsEmpty() bool {
	return p.Width == 0 || p.Height == 0 || p.Depth == 0
}

// Allocations returns the allocations the blit touches
func (p Properties) Allocations() []*memory.GraphicsAllocation {
	var allocs []*memory.GraphicsAllocation
	if p.Destination.Allocation != nil {
		allocs = append(allocs, p.Destination.Allocation)
	}
	if p.Direction != DirectionFill && p.Source.Allocation != nil {
		allocs = append(allocs, p.Source.Allocation)
	}
	return allocs
}

func (s Surface) span(width, height, depth int) (uint64, uint64) {
	start := s.address(0, 0)
	end := s.address(height-1, depth-1) + uint64(width)
	return start, end
}

// Overlaps returns true if a copy reads bytes it also writes. The check is conservative: it compares
// the first and last byte each side touches.
func (p Properties) Overlaps() bool {
	if p.Direction == DirectionFill || p.IsEmpty() {
		return false
	}

	dstStart, dstEnd := p.Destination.span(p.Width, p.Height, p.Depth)
	srcStart, srcEnd := p.Source.span(p.Width, p.Height, p.Depth)
	return dstStart < srcEnd && srcStart < dstEnd
}

func checkSurface(name string, s Surface, width, height, depth int) error {
	if s.X < 0 || s.Y < 0 || s.Z < 0 {
		return result.Errorf(result.ErrorInvalidArgument, "%s origin (%d, %d, %d) is negative", name, s.X, s.Y, s.Z)
	}
	if height > 1 && s.RowPitch < s.X+width {
		return result.Errorf(result.ErrorInvalidArgument, "%s row pitch %d cannot hold %d bytes at offset %d", name, s.RowPitch, width, s.X)
	}
	if depth > 1 && s.SlicePitch < (s.Y+height)*s.RowPitch {
		return result.Errorf(result.ErrorInvalidArgument, "%s slice pitch %d cannot hold %d rows", name, s.SlicePitch, s.Y+height)
	}

	if s.Allocation != nil && width > 0 && height > 0 && depth > 0 {
		_, end := s.span(width, height, depth)
		if end > s.Allocation.GPUAddress()+uint64(s.Allocation.Size()) {
			return result.Errorf(result.ErrorInvalidArgument, "%s region ends past the %d byte allocation", name, s.Allocation.Size())
		}
	}
	return nil
}

// ConstructPropertiesForCopy describes a linear copy of size bytes
func ConstructPropertiesForCopy(dst, src Endpoint, size int) (Properties, error) {
	if size < 0 {
		return Properties{}, result.Errorf(result.ErrorInvalidArgument, "copy size %d is negative", size)
	}

	props := Properties{
		Direction:   DirectionBufferToBuffer,
		Destination: Surface{Endpoint: dst, RowPitch: size, SlicePitch: size},
		Source:      Surface{Endpoint: src, RowPitch: size, SlicePitch: size},
		Width:       size,
		Height:      1,
		Depth:       1,
	}
	return props, props.validate()
}

// Region is a 3D box copied between two buffers. Origins and Size.Width are in bytes; layouts give
// the row and slice pitches of each side, with zero meaning tightly packed.
type Region struct {
	DestinationOrigin gputypes.Origin3D
	SourceOrigin      gputypes.Origin3D
	Size              gputypes.Extent3D
	DestinationLayout gputypes.TextureDataLayout
	SourceLayout      gputypes.TextureDataLayout
}

func layoutSurface(endpoint Endpoint, origin gputypes.Origin3D, layout gputypes.TextureDataLayout, size gputypes.Extent3D) Surface {
	rowPitch := int(layout.BytesPerRow)
	if rowPitch == 0 {
		rowPitch = int(origin.X + size.Width)
	}
	rows := int(layout.RowsPerImage)
	if rows == 0 {
		rows = int(origin.Y + max(size.Height, 1))
	}

	endpoint.Offset += layout.Offset
	return Surface{
		Endpoint:   endpoint,
		X:          int(origin.X),
		Y:          int(origin.Y),
		Z:          int(origin.Z),
		RowPitch:   rowPitch,
		SlicePitch: rowPitch * rows,
	}
}

// ConstructPropertiesForRegion describes a 2D or 3D copy between buffers
func ConstructPropertiesForRegion(dst, src Endpoint, region Region) (Properties, error) {
	props := Properties{
		Direction:   DirectionBufferToBuffer,
		Destination: layoutSurface(dst, region.DestinationOrigin, region.DestinationLayout, region.Size),
		Source:      layoutSurface(src, region.SourceOrigin, region.SourceLayout, region.Size),
		Width:       int(region.Size.Width),
		Height:      int(region.Size.Height),
		Depth:       int(region.Size.DepthOrArrayLayers),
	}
	return props, props.validate()
}

// ImageCopy describes a copy with at least one image endpoint. Origins and Size are in pixels. The
// buffer side of a buffer/image copy is described by BufferLayout, whose BytesPerRow and RowsPerImage
// are zero when the buffer is tightly packed.
type ImageCopy struct {
	Direction Direction

	Destination       Endpoint
	DestinationImage  *ImageInfo
	DestinationOrigin gputypes.Origin3D

	Source       Endpoint
	SourceImage  *ImageInfo
	SourceOrigin gputypes.Origin3D

	Size         gputypes.Extent3D
	BufferLayout gputypes.TextureDataLayout
}

func imageSurface(endpoint Endpoint, info *ImageInfo, origin gputypes.Origin3D, bpp int) (Surface, error) {
	rowPitch, slicePitch, err := ResolveImagePitch(*info)
	if err != nil {
		return Surface{}, err
	}
	return Surface{
		Endpoint:   endpoint,
		X:          int(origin.X) * bpp,
		Y:          int(origin.Y),
		Z:          int(origin.Z),
		RowPitch:   rowPitch,
		SlicePitch: slicePitch,
	}, nil
}

func bufferSurface(endpoint Endpoint, layout gputypes.TextureDataLayout, size gputypes.Extent3D, bpp int) Surface {
	rowPitch := int(layout.BytesPerRow)
	if rowPitch == 0 {
		rowPitch = int(size.Width) * bpp
	}
	rows := int(layout.RowsPerImage)
	if rows == 0 {
		rows = int(max(size.Height, 1))
	}
	endpoint.Offset += layout.Offset
	return Surface{Endpoint: endpoint, RowPitch: rowPitch, SlicePitch: rowPitch * rows}
}

// ConstructPropertiesForImage describes a copy to, from or between images. Pitches come from each
// image's tiling unless the image overrides them, and each slice starts SlicePitch bytes after the last.
func ConstructPropertiesForImage(request ImageCopy) (Properties, error) {
	var format gputypes.TextureFormat
	switch request.Direction {
	case DirectionBufferToImage:
		if request.DestinationImage == nil {
			return Properties{}, result.Errorf(result.ErrorInvalidArgument, "a buffer to image copy needs a destination image")
		}
		format = request.DestinationImage.Format
	case DirectionImageToBuffer:
		if request.SourceImage == nil {
			return Properties{}, result.Errorf(result.ErrorInvalidArgument, "an image to buffer copy needs a source image")
		}
		format = request.SourceImage.Format
	case DirectionImageToImage:
		if request.DestinationImage == nil || request.SourceImage == nil {
			return Properties{}, result.Errorf(result.ErrorInvalidArgument, "an image to image copy needs both images")
		}
		format = request.DestinationImage.Format
		dstBpp, _ := BytesPerPixel(request.DestinationImage.Format)
		srcBpp, _ := BytesPerPixel(request.SourceImage.Format)
		if dstBpp != srcBpp {
			return Properties{}, result.Errorf(result.ErrorInvalidArgument, "cannot copy between %s and %s images", request.SourceImage.Format, request.DestinationImage.Format)
		}
	default:
		return Properties{}, result.Errorf(result.ErrorInvalidArgument, "%s is not an image copy", request.Direction)
	}

	bpp, ok := BytesPerPixel(format)
	if !ok {
		return Properties{}, result.Errorf(result.ErrorUnsupportedFeature, "images of format %s cannot be blitted", format)
	}

	props := Properties{
		Direction:        request.Direction,
		Width:            int(request.Size.Width) * bpp,
		Height:           int(request.Size.Height),
		Depth:            int(request.Size.DepthOrArrayLayers),
		DestinationImage: request.DestinationImage,
		SourceImage:      request.SourceImage,
	}

	var err error
	if request.DestinationImage != nil {
		props.Destination, err = imageSurface(request.Destination, request.DestinationImage, request.DestinationOrigin, bpp)
		if err != nil {
			return Properties{}, err
		}
		if err := checkImageBounds("destination", request.DestinationImage, request.DestinationOrigin, request.Size); err != nil {
			return Properties{}, err
		}
	} else {
		props.Destination = bufferSurface(request.Destination, request.BufferLayout, request.Size, bpp)
	}

	if request.SourceImage != nil {
		props.Source, err = imageSurface(request.Source, request.SourceImage, request.SourceOrigin, bpp)
		if err != nil {
			return Properties{}, err
		}
		if err := checkImageBounds("source", request.SourceImage, request.SourceOrigin, request.Size); err != nil {
			return Properties{}, err
		}
	} else {
		props.Source = bufferSurface(request.Source, request.BufferLayout, request.Size, bpp)
	}

	return props, props.validate()
}

func checkImageBounds(name string, info *ImageInfo, origin gputypes.Origin3D, size gputypes.Extent3D) error {
	depth := max(info.Size.DepthOrArrayLayers, 1)
	if origin.X+size.Width > info.Size.Width ||
		origin.Y+size.Height > max(info.Size.Height, 1) ||
		origin.Z+size.DepthOrArrayLayers > depth {
		return result.Errorf(result.ErrorInvalidArgument, "%s region exceeds the %dx%dx%d image", name, info.Size.Width, info.Size.Height, depth)
	}
	return nil
}

// ConstructPropertiesForFill describes filling size bytes with a repeating pattern
func ConstructPropertiesForFill(dst Endpoint, size int, pattern []byte) (Properties, error) {
	switch len(pattern) {
	case 1, 2, 4, 8, 16:
	default:
		return Properties{}, result.Errorf(result.ErrorInvalidArgument, "fill patterns must be 1, 2, 4, 8 or 16 bytes, was %d", len(pattern))
	}
	if size < 0 || size%len(pattern) != 0 {
		return Properties{}, result.Errorf(result.ErrorInvalidArgument, "fill size %d is not a multiple of the %d byte pattern", size, len(pattern))
	}
	if dst.GPUAddress()%uint64(len(pattern)) != 0 {
		return Properties{}, result.Errorf(result.ErrorInvalidArgument, "fill address 0x%x is not aligned to the %d byte pattern", dst.GPUAddress(), len(pattern))
	}

	props := Properties{
		Direction:   DirectionFill,
		Destination: Surface{Endpoint: dst, RowPitch: size, SlicePitch: size},
		Width:       size,
		Height:      1,
		Depth:       1,
		Pattern:     pattern,
	}
	return props, props.validate()
}

func (p Properties) validate() error {
	if p.Width < 0 || p.Height < 0 || p.Depth < 0 {
		return result.Errorf(result.ErrorInvalidArgument, "blit extent %dx%dx%d is negative", p.Width, p.Height, p.Depth)
	}
	if err := checkSurface("destination", p.Destination, p.Width, p.Height, p.Depth); err != nil {
		return err
	}
	if p.Direction != DirectionFill {
		if err := checkSurface("source", p.Source, p.Width, p.Height, p.Depth); err != nil {
			return err
		}
	}
	return nil
}

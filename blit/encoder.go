// Package blit turns copy and fill descriptions into copy engine commands. It picks the widest pixel
// the layout allows, splits work that exceeds one command's extent, resolves image pitches and
// compression, and brackets the blits with the fences the hardware needs.
package blit

import (
	"context"

	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/memory"
	"github.com/vkngwrapper/dispatch/result"
	"golang.org/x/exp/slog"
)

// Encoder is the part of a command buffer container blits are recorded into
type Encoder interface {
	Encode(commands ...cmds.Command) (container.Location, result.Result, error)
	AddToResidency(allocs ...*memory.GraphicsAllocation)
}

var pixelSizes = [...]int{16, 8, 4, 2, 1}

// SelectPixelSize returns the largest pixel size, among 16, 8, 4, 2 and 1 bytes, that divides every
// value. Callers pass the copy width, both origins, both pitches and both base addresses.
func SelectPixelSize(values ...int) int {
	for _, size := range pixelSizes {
		fits := true
		for _, value := range values {
			if value%size != 0 {
				fits = false
				break
			}
		}
		if fits {
			return size
		}
	}
	return 1
}

func addressAlignment(address uint64) int {
	return int(address % 16)
}

// memorySettings resolves the compression formats and memory flags of a blit. Raw destinations skip
// compression entirely. Otherwise compression applies when either side is compressible, except when
// the destination is device memory with compression disabled.
func memorySettings(props Properties, caps hwinfo.Capabilities) (uint32, uint32, cmds.BlitMemoryFlags) {
	var flags cmds.BlitMemoryFlags
	if props.Destination.IsSystemMemory() {
		flags |= cmds.BlitDestinationSystemMemory
	}
	fill := props.Direction == DirectionFill
	if !fill && props.Source.IsSystemMemory() {
		flags |= cmds.BlitSourceSystemMemory
	}

	if !caps.BlitCompressionSupported || props.Destination.IsRaw() {
		return 0, 0, flags
	}

	dstCompressed := props.Destination.isCompressible()
	srcCompressed := !fill && props.Source.isCompressible()
	if !dstCompressed && !srcCompressed {
		return 0, 0, flags
	}
	if !dstCompressed && !props.Destination.IsSystemMemory() {
		return 0, 0, flags
	}

	var dstFormat, srcFormat uint32
	if dstCompressed {
		flags |= cmds.BlitDestinationCompressed
		dstFormat = caps.BlitCompressionFormat
	}
	if srcCompressed {
		flags |= cmds.BlitSourceCompressed
		srcFormat = caps.BlitCompressionFormat
	}
	return dstFormat, srcFormat, flags
}

// planBuffer splits a linear copy into commands of at most MaxBlitWidth pixels per row and
// MaxBlitHeight rows, each covering as many whole rows as fit
func planBuffer(props Properties, caps hwinfo.Capabilities) []cmds.Command {
	pixelSize := SelectPixelSize(props.Width,
		addressAlignment(props.Destination.GPUAddress()), addressAlignment(props.Source.GPUAddress()))
	dstFormat, srcFormat, flags := memorySettings(props, caps)

	var commands []cmds.Command
	remaining := props.Width / pixelSize
	offset := uint64(0)
	for remaining > 0 {
		width := min(remaining, caps.MaxBlitWidth)
		height := min(remaining/width, caps.MaxBlitHeight)

		commands = append(commands, &cmds.XYCopyBlt{
			PixelSize:                    pixelSize,
			Width:                        width,
			Height:                       height,
			DestinationAddress:           props.Destination.GPUAddress() + offset,
			DestinationPitch:             width * pixelSize,
			SourceAddress:                props.Source.GPUAddress() + offset,
			SourcePitch:                  width * pixelSize,
			DestinationCompressionFormat: dstFormat,
			SourceCompressionFormat:      srcFormat,
			Flags:                        flags,
		})

		covered := width * height
		remaining -= covered
		offset += uint64(covered * pixelSize)
	}
	return commands
}

// planRegion covers a 3D box with a grid of commands per slice, each at most MaxBlitWidth by
// MaxBlitHeight pixels. Every slice starts SlicePitch bytes after the previous one.
func planRegion(props Properties, caps hwinfo.Capabilities) []cmds.Command {
	pixelSize := SelectPixelSize(props.Width,
		props.Destination.X, props.Source.X,
		props.Destination.RowPitch, props.Source.RowPitch,
		props.Destination.SlicePitch, props.Source.SlicePitch,
		addressAlignment(props.Destination.GPUAddress()), addressAlignment(props.Source.GPUAddress()))
	dstFormat, srcFormat, flags := memorySettings(props, caps)

	pixels := props.Width / pixelSize
	var commands []cmds.Command
	for z := 0; z < props.Depth; z++ {
		dstSlice := props.Destination.sliceAddress(z)
		srcSlice := props.Source.sliceAddress(z)

		for y := 0; y < props.Height; y += caps.MaxBlitHeight {
			for x := 0; x < pixels; x += caps.MaxBlitWidth {
				commands = append(commands, &cmds.XYCopyBlt{
					PixelSize:                    pixelSize,
					Width:                        min(caps.MaxBlitWidth, pixels-x),
					Height:                       min(caps.MaxBlitHeight, props.Height-y),
					DestinationAddress:           dstSlice,
					DestinationPitch:             props.Destination.RowPitch,
					DestinationX:                 props.Destination.X/pixelSize + x,
					DestinationY:                 props.Destination.Y + y,
					SourceAddress:                srcSlice,
					SourcePitch:                  props.Source.RowPitch,
					SourceX:                      props.Source.X/pixelSize + x,
					SourceY:                      props.Source.Y + y,
					DestinationCompressionFormat: dstFormat,
					SourceCompressionFormat:      srcFormat,
					Flags:                        flags,
				})
			}
		}
	}
	return commands
}

// planFill covers the fill with color blits of up to MaxBlitWidth by MaxBlitHeight pixels. A 1-byte
// pattern has no wider pixel to replicate into, so it fills 1-byte pixels under an explicit byte mask.
func planFill(props Properties, caps hwinfo.Capabilities) []cmds.Command {
	dstFormat, _, flags := memorySettings(props, caps)
	pixelSize := len(props.Pattern)
	base := props.Destination.GPUAddress()

	var pattern [16]byte
	copy(pattern[:], props.Pattern)
	var mask uint16
	if pixelSize%2 != 0 {
		mask = 1<<pixelSize - 1
	}

	var commands []cmds.Command
	remaining := props.Width / pixelSize
	offset := uint64(0)
	for remaining > 0 {
		width := min(remaining, caps.MaxBlitWidth)
		height := min(remaining/width, caps.MaxBlitHeight)

		commands = append(commands, &cmds.XYColorBlt{
			PixelSize:                    pixelSize,
			Width:                        width,
			Height:                       height,
			DestinationAddress:           base + offset,
			DestinationPitch:             width * pixelSize,
			Pattern:                      pattern,
			ByteMask:                     mask,
			DestinationCompressionFormat: dstFormat,
			Flags:                        flags,
		})

		covered := width * height
		remaining -= covered
		offset += uint64(covered * pixelSize)
	}
	return commands
}

func plan(props Properties, caps hwinfo.Capabilities) ([]cmds.Command, error) {
	if err := caps.Validate(); err != nil {
		return nil, result.Wrapf(result.ErrorInvalidArgument, err, "bad blit capabilities")
	}
	if props.IsEmpty() {
		return nil, nil
	}

	switch {
	case props.Direction == DirectionFill:
		return planFill(props, caps), nil
	case props.Direction == DirectionBufferToBuffer && props.Height == 1 && props.Depth == 1 &&
		props.Destination.X == 0 && props.Source.X == 0:
		return planBuffer(props, caps), nil
	default:
		return planRegion(props, caps), nil
	}
}

// EstimateCommandCount returns the number of blit commands props needs, not counting fences
func EstimateCommandCount(props Properties, caps hwinfo.Capabilities) (int, error) {
	commands, err := plan(props, caps)
	return len(commands), err
}

func withFences(commands []cmds.Command, caps hwinfo.Capabilities) []cmds.Command {
	fenced := make([]cmds.Command, 0, len(commands)+2)
	if caps.PreBlitFenceRequired {
		fenced = append(fenced, &cmds.FlushDw{})
	}
	fenced = append(fenced, commands...)
	if caps.PostBlitArbitrationCheck {
		fenced = append(fenced, &cmds.ArbCheck{})
	}
	return fenced
}

func dispatch(logger *slog.Logger, encoder Encoder, props Properties, caps hwinfo.Capabilities) (int, result.Result, error) {
	commands, err := plan(props, caps)
	if err != nil {
		return 0, result.Of(err), err
	}
	if len(commands) == 0 {
		return 0, result.Success, nil
	}

	if _, res, err := encoder.Encode(withFences(commands, caps)...); err != nil {
		return 0, res, err
	}
	encoder.AddToResidency(props.Allocations()...)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Encoded blit",
		slog.String("direction", props.Direction.String()),
		slog.Int("bytes", props.Bytes()),
		slog.Int("commands", len(commands)),
	)
	return len(commands), result.Success, nil
}

// DispatchBlitForBuffer records a linear buffer copy and returns the number of blit commands
func DispatchBlitForBuffer(logger *slog.Logger, encoder Encoder, props Properties, caps hwinfo.Capabilities) (int, result.Result, error) {
	if props.Direction != DirectionBufferToBuffer || props.Height > 1 || props.Depth > 1 {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a %s blit of %d rows is not a linear buffer copy", props.Direction, props.Height)
	}
	if props.Overlaps() {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the source and destination ranges overlap")
	}
	return dispatch(logger, encoder, props, caps)
}

// DispatchBlitForRegion records a 2D or 3D buffer copy
func DispatchBlitForRegion(logger *slog.Logger, encoder Encoder, props Properties, caps hwinfo.Capabilities) (int, result.Result, error) {
	if props.Direction != DirectionBufferToBuffer {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a %s blit is not a buffer region copy", props.Direction)
	}
	if props.Overlaps() {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "the source and destination regions overlap")
	}
	return dispatch(logger, encoder, props, caps)
}

// DispatchBlitForImage records a copy with at least one image endpoint, one slice at a time
func DispatchBlitForImage(logger *slog.Logger, encoder Encoder, props Properties, caps hwinfo.Capabilities) (int, result.Result, error) {
	switch props.Direction {
	case DirectionBufferToImage, DirectionImageToBuffer, DirectionImageToImage:
	default:
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a %s blit is not an image copy", props.Direction)
	}
	return dispatch(logger, encoder, props, caps)
}

// DispatchMemoryFill records a pattern fill
func DispatchMemoryFill(logger *slog.Logger, encoder Encoder, props Properties, caps hwinfo.Capabilities) (int, result.Result, error) {
	if props.Direction != DirectionFill {
		return 0, result.ErrorInvalidArgument, result.Errorf(result.ErrorInvalidArgument, "a %s blit is not a fill", props.Direction)
	}
	return dispatch(logger, encoder, props, caps)
}

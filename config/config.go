package config

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Toggle is a three-state override: leave the hardware default alone, force it on, or force it off
type Toggle int8

const (
	ToggleDefault Toggle = iota
	ToggleEnabled
	ToggleDisabled
)

var toggleMapping = map[Toggle]string{
	ToggleDefault:  "Default",
	ToggleEnabled:  "Enabled",
	ToggleDisabled: "Disabled",
}

func (t Toggle) String() string {
	return toggleMapping[t]
}

// Apply returns the overridden value, or def if the toggle is ToggleDefault
func (t Toggle) Apply(def bool) bool {
	switch t {
	case ToggleEnabled:
		return true
	case ToggleDisabled:
		return false
	}
	return def
}

const (
	// DefaultRelaxedOrderingThreshold is the dependency count at which an append becomes eligible
	// for relaxed ordering when EncoderConfig.RelaxedOrderingThreshold is zero
	DefaultRelaxedOrderingThreshold = 1
	// DefaultRelaxedOrderingQueueDepth is the number of consecutive dependent submissions the counter
	// heuristic waits for when EncoderConfig.RelaxedOrderingQueueDepth is zero
	DefaultRelaxedOrderingQueueDepth = 2
	// DefaultCommandBufferSize is the size of every command buffer in a container chain when
	// EncoderConfig.CommandBufferSize is zero. It is 64KB.
	DefaultCommandBufferSize = 64 * 1024
)

// EncoderConfig carries every override that changes how commands are encoded or submitted. The zero
// value encodes exactly what the hardware capability table asks for.
type EncoderConfig struct {
	// ForceImmediateSynchronous makes every immediate command list block until each append completes,
	// regardless of the mode it was created with
	ForceImmediateSynchronous bool

	// RelaxedOrdering overrides whether the hardware's relaxed ordering support is used. Relaxed
	// ordering still requires the submission backend to report it active.
	RelaxedOrdering Toggle
	// RelaxedOrderingThreshold is the minimum number of outstanding dependencies for an append to be
	// encoded with a relaxed-ordering sequence. Zero selects DefaultRelaxedOrderingThreshold.
	RelaxedOrderingThreshold int
	// RelaxedOrderingCounterHeuristic additionally requires the queue to have seen
	// RelaxedOrderingQueueDepth consecutive dependent submissions before relaxed ordering kicks in
	RelaxedOrderingCounterHeuristic bool
	// RelaxedOrderingQueueDepth is used by the counter heuristic. Zero selects DefaultRelaxedOrderingQueueDepth.
	RelaxedOrderingQueueDepth int

	// MaxBlitWidth overrides the largest width, in pixels, a single blit command can address
	MaxBlitWidth int
	// MaxBlitHeight overrides the largest height, in rows, a single blit command can address
	MaxBlitHeight int
	// ForceBlitCompressionFormat overrides the compression format written into blit commands
	// that touch compressible memory. Zero keeps the encoder's choice.
	ForceBlitCompressionFormat uint32
	// PreBlitFence overrides whether blit commands are preceded by a fence draining prior writes
	PreBlitFence Toggle

	// CommandBufferSize is the default size of a command buffer. Zero selects DefaultCommandBufferSize.
	CommandBufferSize int

	// InOrderAtomicSignaling overrides whether in-order counters are signalled with a single atomic
	// write (one counter slot) or once per partition
	InOrderAtomicSignaling Toggle
	// InOrderHostMirror duplicates in-order counters to host-visible storage so the host can poll them
	// without reading device memory
	InOrderHostMirror Toggle
	// DisableInOrderPatching leaves commands recorded against in-order counters untouched when a regular
	// list is executed again
	DisableInOrderPatching bool
}

// ResolvedRelaxedOrderingThreshold returns RelaxedOrderingThreshold or its default
func (c EncoderConfig) ResolvedRelaxedOrderingThreshold() int {
	if c.RelaxedOrderingThreshold > 0 {
		return c.RelaxedOrderingThreshold
	}
	return DefaultRelaxedOrderingThreshold
}

// ResolvedRelaxedOrderingQueueDepth returns RelaxedOrderingQueueDepth or its default
func (c EncoderConfig) ResolvedRelaxedOrderingQueueDepth() int {
	if c.RelaxedOrderingQueueDepth > 0 {
		return c.RelaxedOrderingQueueDepth
	}
	return DefaultRelaxedOrderingQueueDepth
}

// ResolvedCommandBufferSize returns CommandBufferSize or its default
func (c EncoderConfig) ResolvedCommandBufferSize() int {
	if c.CommandBufferSize > 0 {
		return c.CommandBufferSize
	}
	return DefaultCommandBufferSize
}

// WriteJSON writes every field that differs from its zero value
func (c EncoderConfig) WriteJSON(json *jwriter.ObjectState) {
	json.Maybe("ForceImmediateSynchronous", c.ForceImmediateSynchronous).Bool(c.ForceImmediateSynchronous)
	json.Maybe("RelaxedOrdering", c.RelaxedOrdering != ToggleDefault).String(c.RelaxedOrdering.String())
	json.Maybe("RelaxedOrderingThreshold", c.RelaxedOrderingThreshold != 0).Int(c.RelaxedOrderingThreshold)
	json.Maybe("RelaxedOrderingCounterHeuristic", c.RelaxedOrderingCounterHeuristic).Bool(c.RelaxedOrderingCounterHeuristic)
	json.Maybe("RelaxedOrderingQueueDepth", c.RelaxedOrderingQueueDepth != 0).Int(c.RelaxedOrderingQueueDepth)
	json.Maybe("MaxBlitWidth", c.MaxBlitWidth != 0).Int(c.MaxBlitWidth)
	json.Maybe("MaxBlitHeight", c.MaxBlitHeight != 0).Int(c.MaxBlitHeight)
	json.Maybe("ForceBlitCompressionFormat", c.ForceBlitCompressionFormat != 0).Int(int(c.ForceBlitCompressionFormat))
	json.Maybe("PreBlitFence", c.PreBlitFence != ToggleDefault).String(c.PreBlitFence.String())
	json.Maybe("CommandBufferSize", c.CommandBufferSize != 0).Int(c.CommandBufferSize)
	json.Maybe("InOrderAtomicSignaling", c.InOrderAtomicSignaling != ToggleDefault).String(c.InOrderAtomicSignaling.String())
	json.Maybe("InOrderHostMirror", c.InOrderHostMirror != ToggleDefault).String(c.InOrderHostMirror.String())
	json.Maybe("DisableInOrderPatching", c.DisableInOrderPatching).Bool(c.DisableInOrderPatching)
}

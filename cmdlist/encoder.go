package cmdlist

import (
	"github.com/vkngwrapper/dispatch/cmds"
	"github.com/vkngwrapper/dispatch/container"
	"github.com/vkngwrapper/dispatch/hwinfo"
	"github.com/vkngwrapper/dispatch/result"
	"github.com/vkngwrapper/dispatch/streamprops"
)

const indirectDataAlignment = 64

// encoder is the part of recording that differs between product families: where kernel arguments
// live and which stream state a dispatch needs
type encoder interface {
	// placeArguments stores the kernel arguments and fills the walker fields that locate them
	placeArguments(c *container.Container, kernel *Kernel, walker *cmds.ComputeWalker) (result.Result, error)
	// kernelState is the stream state a dispatch needs. It is called after placeArguments, which may
	// have replaced a heap.
	kernelState(c *container.Container, kernel *Kernel) (streamprops.Properties, result.Result, error)
}

var encoderFactories = map[hwinfo.ProductFamily]func(caps hwinfo.Capabilities) encoder{
	hwinfo.ProductFamilyBaseline:          newGlobalHeapEncoder,
	hwinfo.ProductFamilyDiscrete:          newInlineEncoder,
	hwinfo.ProductFamilyDiscreteMultiTile: newInlineEncoder,
}

// pipelineState is the pipeline and front-end state every compute dispatch needs on hardware that
// tracks them
func pipelineState(caps hwinfo.Capabilities, kernel *Kernel) streamprops.Properties {
	var state streamprops.Properties
	if caps.TrackPipelineSelect {
		state.Pipeline.Update(streamprops.Pipeline{Pipeline: cmds.PipelineCompute})
	}
	if caps.TrackFrontEndState {
		state.FrontEnd.Update(streamprops.FrontEnd{CooperativeDispatch: kernel.Cooperative})
	}
	return state
}

// globalHeapEncoder places arguments in the indirect object heap, which the dispatch finds through
// the state base address
type globalHeapEncoder struct {
	caps hwinfo.Capabilities
}

func newGlobalHeapEncoder(caps hwinfo.Capabilities) encoder {
	return &globalHeapEncoder{caps: caps}
}

func (e *globalHeapEncoder) placeArguments(c *container.Container, kernel *Kernel, walker *cmds.ComputeWalker) (result.Result, error) {
	if len(kernel.Arguments) == 0 {
		return result.Success, nil
	}

	_, offset, data, res, err := c.GetHeapSpace(container.HeapIndirectObject, len(kernel.Arguments), indirectDataAlignment)
	if err != nil {
		return res, err
	}
	copy(data, kernel.Arguments)

	walker.IndirectDataOffset = uint32(offset)
	walker.IndirectDataLength = uint32(len(kernel.Arguments))
	return result.Success, nil
}

func (e *globalHeapEncoder) kernelState(c *container.Container, kernel *Kernel) (streamprops.Properties, result.Result, error) {
	state := pipelineState(e.caps, kernel)

	var bases [3]uint64
	for i, heapType := range []container.HeapType{container.HeapSurfaceState, container.HeapDynamicState, container.HeapIndirectObject} {
		heap, res, err := c.GetIndirectHeap(heapType)
		if err != nil {
			return streamprops.Properties{}, res, err
		}
		// A replaced heap has a new address, so the state base differs and is reprogrammed
		heap.ClearDirty()
		bases[i] = heap.GPUAddress()
	}

	state.StateBase.Update(streamprops.StateBase{
		SurfaceStateBase:   bases[0],
		DynamicStateBase:   bases[1],
		IndirectObjectBase: bases[2],
	})
	return state, result.Success, nil
}

// inlineEncoder carries arguments inside the dispatch command and needs no heap base addresses
type inlineEncoder struct {
	caps hwinfo.Capabilities
}

func newInlineEncoder(caps hwinfo.Capabilities) encoder {
	return &inlineEncoder{caps: caps}
}

func (e *inlineEncoder) placeArguments(c *container.Container, kernel *Kernel, walker *cmds.ComputeWalker) (result.Result, error) {
	walker.InlineData = append([]byte(nil), kernel.Arguments...)
	return result.Success, nil
}

func (e *inlineEncoder) kernelState(c *container.Container, kernel *Kernel) (streamprops.Properties, result.Result, error) {
	return pipelineState(e.caps, kernel), result.Success, nil
}

package container

import (
	"github.com/cockroachdb/errors"
)

// Checkpoint is the recording position of a container. Rolling back to it discards every command,
// heap byte and residency entry written since, freeing the buffers and heaps allocated for them.
type Checkpoint struct {
	location  Location
	heaps     [heapTypeCount]*IndirectHeap
	heapUsed  [heapTypeCount]int
	heapDirty [heapTypeCount]bool
	retired   int
	residency int
}

// Checkpoint captures the current recording position
func (c *Container) Checkpoint() Checkpoint {
	cp := Checkpoint{
		location:  c.CurrentLocation(),
		heaps:     c.heaps,
		retired:   len(c.retired),
		residency: c.residency.Len(),
	}
	for i, heap := range c.heaps {
		if heap != nil {
			cp.heapUsed[i] = heap.used
			cp.heapDirty[i] = heap.dirty
		}
	}
	return cp
}

// Rollback returns the container to cp. The checkpoint must have been taken on this container with no
// Reset in between.
func (c *Container) Rollback(cp Checkpoint) error {
	c.logger.Debug("Container::Rollback")

	if c.destroyed {
		return nil
	}
	if cp.location.Buffer >= len(c.chain) || cp.retired > len(c.retired) || cp.residency > c.residency.Len() {
		return errors.New("the checkpoint is ahead of the container")
	}

	var errs error
	for _, buffer := range c.chain[cp.location.Buffer+1:] {
		errs = errors.CombineErrors(errs, c.allocator.Free(buffer.alloc))
	}
	clear(c.chain[cp.location.Buffer+1:])
	c.chain = c.chain[:cp.location.Buffer+1]

	buffer := c.current()
	clear(buffer.alloc.Data()[cp.location.Offset:buffer.used])
	buffer.used = cp.location.Offset

	// Heaps retired since the checkpoint are either the checkpoint's own heaps, which come back, or
	// replacements made during the rolled back recording
	for _, heap := range c.retired[cp.retired:] {
		if cp.heaps[heap.heapType] != heap {
			errs = errors.CombineErrors(errs, c.allocator.Free(heap.alloc))
		}
	}
	clear(c.retired[cp.retired:])
	c.retired = c.retired[:cp.retired]

	for i, heap := range c.heaps {
		if heap != nil && heap != cp.heaps[i] {
			errs = errors.CombineErrors(errs, c.allocator.Free(heap.alloc))
		}
		c.heaps[i] = cp.heaps[i]
		if cp.heaps[i] != nil {
			cp.heaps[i].rewindTo(cp.heapUsed[i], cp.heapDirty[i])
		}
	}

	c.residency.truncate(cp.residency)
	return errs
}

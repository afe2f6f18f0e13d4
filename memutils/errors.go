package memutils

import "github.com/pkg/errors"

var (
	// PowerOfTwoError is wrapped by CheckPow2 for sizes and alignments the block allocator cannot use
	PowerOfTwoError = errors.New("number must be a power of two")
	// AlignmentError is wrapped by CheckAligned for addresses and offsets off their required alignment
	AlignmentError = errors.New("value is not aligned")
)

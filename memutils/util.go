package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that sizes, offsets and counts in this module are expressed in
type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns an error wrapping AlignmentError when value is not a multiple of alignment
func CheckAligned[T Number](value T, alignment T, name string) error {
	if !IsAligned(value, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s is %d, alignment is %d", name, value, alignment)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignUp64 is AlignUp for GPU virtual addresses
func AlignUp64(value uint64, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// IsAligned returns true if value is a multiple of alignment. Unlike AlignUp, alignment does not need
// to be a power of two.
func IsAligned[T Number](value T, alignment T) bool {
	if alignment == 0 {
		return false
	}
	return value%alignment == 0
}

// DivideRoundUp returns numerator / denominator, rounded away from zero
func DivideRoundUp[T Number](numerator, denominator T) T {
	return (numerator + denominator - 1) / denominator
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

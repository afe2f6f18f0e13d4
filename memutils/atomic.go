package memutils

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// word checks the length without touching the bytes other goroutines may be writing
func word(data []byte) *uint64 {
	if len(data) < 8 {
		panic(fmt.Sprintf("atomic access needs 8 bytes, slice has %d", len(data)))
	}
	return (*uint64)(unsafe.Pointer(&data[0]))
}

// AtomicLoadUint64 reads the little-endian 64-bit word at data[0:8]. data must be 8-byte aligned, which
// holds for any offset that is a multiple of 8 into memory handed out by the memory package.
func AtomicLoadUint64(data []byte) uint64 {
	return atomic.LoadUint64(word(data))
}

// AtomicStoreUint64 writes the 64-bit word at data[0:8]. The same alignment rules as AtomicLoadUint64 apply.
func AtomicStoreUint64(data []byte, value uint64) {
	atomic.StoreUint64(word(data), value)
}

// AtomicAddUint64 adds delta to the 64-bit word at data[0:8] and returns the new value
func AtomicAddUint64(data []byte, delta uint64) uint64 {
	return atomic.AddUint64(word(data), delta)
}

// AlignedBytes returns a zeroed byte slice of the requested size whose first byte is 8-byte aligned
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	words := make([]uint64, DivideRoundUp(size, 8))
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

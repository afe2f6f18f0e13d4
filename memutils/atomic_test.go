package memutils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/memutils"
)

func TestAtomicWordsUnderConcurrentAccess(t *testing.T) {
	data := memutils.AlignedBytes(16)

	// Readers and writers share the word only through the atomic helpers, so this stays clean
	// under the race detector
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				memutils.AtomicAddUint64(data[8:], 1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if value := memutils.AtomicLoadUint64(data[8:]); value > 8000 {
					t.Errorf("counter overshot to %d", value)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(8000), memutils.AtomicLoadUint64(data[8:]))
	require.Zero(t, memutils.AtomicLoadUint64(data))

	memutils.AtomicStoreUint64(data, 42)
	require.Equal(t, uint64(42), memutils.AtomicLoadUint64(data))
}

func TestAtomicWordsRejectShortSlices(t *testing.T) {
	data := memutils.AlignedBytes(16)

	require.Panics(t, func() { memutils.AtomicLoadUint64(data[:4]) })
	require.Panics(t, func() { memutils.AtomicStoreUint64(data[:7], 1) })
	require.Panics(t, func() { memutils.AtomicAddUint64(data[12:], 1) })
}

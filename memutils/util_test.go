package memutils_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dispatch/memutils"
)

func TestAlignment(t *testing.T) {
	require.Equal(t, 64, memutils.AlignUp(1, 64))
	require.Equal(t, 64, memutils.AlignUp(64, 64))
	require.Equal(t, 0, memutils.AlignDown(63, 64))
	require.Equal(t, uint64(0x10000), memutils.AlignUp64(0xFFFF, 0x1000))

	require.True(t, memutils.IsAligned(24, 8))
	require.True(t, memutils.IsAligned(30, 3))
	require.False(t, memutils.IsAligned(10, 4))
	require.False(t, memutils.IsAligned(10, 0))

	require.NoError(t, memutils.CheckAligned(16, 4, "offset"))
	err := memutils.CheckAligned(18, 4, "offset")
	require.ErrorIs(t, err, memutils.AlignmentError)
	require.EqualError(t, err, "offset is 18, alignment is 4: value is not aligned")
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(4096, "size"))
	require.ErrorIs(t, memutils.CheckPow2(3000, "size"), memutils.PowerOfTwoError)
}

func TestDivideRoundUp(t *testing.T) {
	require.Equal(t, 2, memutils.DivideRoundUp(4096, 3000))
	require.Equal(t, 1, memutils.DivideRoundUp(3000, 3000))
	require.Equal(t, uint64(0), memutils.DivideRoundUp(uint64(0), 7))
	require.Equal(t, 3, memutils.Max(1, 3))
	require.Equal(t, 1, memutils.Min(1, 3))
}

package result_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/dispatch/result"
)

func TestFromVkResult(t *testing.T) {
	require.Equal(t, result.Success, result.FromVkResult(core1_0.VKSuccess))
	require.Equal(t, result.ErrorOutOfDeviceMemory, result.FromVkResult(core1_0.VKErrorOutOfDeviceMemory))
	require.Equal(t, result.ErrorDeviceLost, result.FromVkResult(core1_0.VKErrorDeviceLost))
	require.Equal(t, result.NotReady, result.FromVkResult(core1_0.VKTimeout))
	require.Equal(t, result.ErrorUnknown, result.FromVkResult(core1_0.VKErrorUnknown))
}

func TestErrorCarriesCode(t *testing.T) {
	err := result.Errorf(result.ErrorInvalidArgument, "bad region %d", 3)
	require.EqualError(t, err, "bad region 3")
	require.Equal(t, result.ErrorInvalidArgument, result.Of(err))

	wrapped := errors.Wrap(err, "append copy")
	require.Equal(t, result.ErrorInvalidArgument, result.Of(wrapped))

	require.Equal(t, result.Success, result.Of(nil))
	require.Equal(t, result.ErrorUnknown, result.Of(errors.New("plain")))
}

func TestWrapf(t *testing.T) {
	cause := errors.New("heap exhausted")
	err := result.Wrapf(result.ErrorOutOfDeviceMemory, cause, "could not grow command buffer")
	require.EqualError(t, err, "could not grow command buffer: heap exhausted")
	require.True(t, errors.Is(err, cause))
	require.Equal(t, result.ErrorOutOfDeviceMemory, result.Of(err))

	outer := result.Wrapf(result.ErrorDeviceLost, err, "submit")
	require.Equal(t, result.ErrorDeviceLost, result.Of(outer))
}

func TestResultString(t *testing.T) {
	require.Equal(t, "ErrorDeviceLost", result.ErrorDeviceLost.String())
	require.Equal(t, "Result(0x5)", result.Result(5).String())
	require.True(t, result.ErrorUninitialized.IsError())
	require.False(t, result.NotReady.IsError())
}

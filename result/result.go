package result

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Result is the status code returned alongside an error from every public operation in this module.
// Success and NotReady are not failures; every other value accompanies a non-nil error.
type Result int32

const (
	Success  Result = 0
	NotReady Result = 1

	ErrorDeviceLost         Result = 0x70000001
	ErrorOutOfHostMemory    Result = 0x70000002
	ErrorOutOfDeviceMemory  Result = 0x70000003
	ErrorUninitialized      Result = 0x78000001
	ErrorUnsupportedFeature Result = 0x78000003
	ErrorInvalidArgument    Result = 0x78000004
	ErrorUnknown            Result = 0x7ffffffe
)

var resultMapping = map[Result]string{
	Success:                 "Success",
	NotReady:                "NotReady",
	ErrorDeviceLost:         "ErrorDeviceLost",
	ErrorOutOfHostMemory:    "ErrorOutOfHostMemory",
	ErrorOutOfDeviceMemory:  "ErrorOutOfDeviceMemory",
	ErrorUninitialized:      "ErrorUninitialized",
	ErrorUnsupportedFeature: "ErrorUnsupportedFeature",
	ErrorInvalidArgument:    "ErrorInvalidArgument",
	ErrorUnknown:            "ErrorUnknown",
}

func (r Result) String() string {
	str, ok := resultMapping[r]
	if !ok {
		return fmt.Sprintf("Result(0x%x)", int32(r))
	}
	return str
}

// IsError returns true for every code that represents a failure
func (r Result) IsError() bool {
	return r != Success && r != NotReady
}

// FromVkResult translates a result code produced by the memory manager into a Result
func FromVkResult(res common.VkResult) Result {
	switch res {
	case core1_0.VKSuccess:
		return Success
	case core1_0.VKNotReady, core1_0.VKTimeout:
		return NotReady
	case core1_0.VKErrorOutOfDeviceMemory:
		return ErrorOutOfDeviceMemory
	case core1_0.VKErrorOutOfHostMemory:
		return ErrorOutOfHostMemory
	case core1_0.VKErrorDeviceLost:
		return ErrorDeviceLost
	case core1_0.VKErrorInitializationFailed:
		return ErrorUninitialized
	case core1_0.VKErrorFeatureNotPresent:
		return ErrorUnsupportedFeature
	}

	return ErrorUnknown
}

// Error is the error type produced by Errorf: it carries the Result so callers that only have the
// error in hand can recover the code with Of
type Error struct {
	Code  Result
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf builds an error that carries the provided Result code
func Errorf(code Result, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, msg: fmt.Sprintf(format, args...)})
}

// Wrapf attaches code to err. When an error carries several codes, Of reports the outermost.
func Wrapf(code Result, err error, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, msg: fmt.Sprintf(format, args...), cause: err})
}

// Of returns the Result carried by err, Success if err is nil, and ErrorUnknown if err carries no code
func Of(err error) Result {
	if err == nil {
		return Success
	}

	var resErr *Error
	if errors.As(err, &resErr) {
		return resErr.Code
	}

	return ErrorUnknown
}

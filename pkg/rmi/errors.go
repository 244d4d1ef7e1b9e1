package rmi

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered        = errors.New("endpoint is not registered")
	ErrInvalidService       = errors.New("invalid service")
	ErrInvalidServiceMethod = errors.New("invalid service method")
	ErrInvalidArguments     = errors.New("invalid arguments")
	ErrInvalidReturnData    = errors.New("invalid return data")
	ErrUnroutable           = errors.New("no route to endpoint")
	ErrClosed               = errors.New("interface is closed")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrTransportClosed      = errors.New("transport is closed")
)

// RemoteError is the failure a Call completes with when the Return carries a
// non-zero error code.
type RemoteError struct {
	Code    int32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (code %d): %s", e.Code, e.Message)
}

// Is maps the error code back onto the matching sentinel.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case ErrorCodeInvalidService:
		return target == ErrInvalidService
	case ErrorCodeInvalidMethod:
		return target == ErrInvalidServiceMethod
	case ErrorCodeInvalidArguments:
		return target == ErrInvalidArguments
	}
	return false
}

// errorCode picks the code reported for a failed local dispatch. Failures
// propagated from nested remote calls are reported as generic failures.
func errorCode(err error) int32 {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return ErrorCodeFailure
	}
	switch {
	case errors.Is(err, ErrInvalidService):
		return ErrorCodeInvalidService
	case errors.Is(err, ErrInvalidServiceMethod):
		return ErrorCodeInvalidMethod
	case errors.Is(err, ErrInvalidArguments):
		return ErrorCodeInvalidArguments
	}
	return ErrorCodeFailure
}

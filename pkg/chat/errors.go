package chat

import (
	"errors"
	"fmt"
)

// ErrUpstreamEmptyResponse is returned when the completion service answered
// without any usable text.
var ErrUpstreamEmptyResponse = errors.New("no response from completion service")

// ValidationError reports caller input that cannot be processed. Nothing is
// written to the session store when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// UpstreamError wraps a transport or provider failure of the completion call,
// including timeouts and cancellation.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion service request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

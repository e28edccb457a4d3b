package toolset

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is reported when the model calls a tool no source provides.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrTimeout is reported when a tool does not answer within the invocation timeout.
	ErrTimeout = errors.New("tool execution timed out")
)

// ClientError is a problem with the input the model produced, like malformed arguments
// or a schema violation. Its message is sent back to the model so it can correct itself.
type ClientError struct {
	Reason string
	Err    error
}

func (e *ClientError) Error() string {
	return "invalid tool input: " + e.Reason
}

func (e *ClientError) Unwrap() error { return e.Err }

// IsClientError reports whether err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// ToolFailure is an error the tool itself reported.
type ToolFailure struct {
	Message string
}

func (e *ToolFailure) Error() string {
	return e.Message
}

type panicError struct{ p any }

func (e *panicError) Error() string {
	return "tool panicked: " + fmt.Sprint(e.p)
}

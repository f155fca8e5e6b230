package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when a turn is started without text.
	ErrEmptyMessage = errors.New("message must not be empty")
	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// CompletionServiceError is a failed or malformed completion call. It aborts
// the turn.
type CompletionServiceError struct {
	Err error
}

func (e *CompletionServiceError) Error() string {
	return "completion service: " + e.Err.Error()
}

func (e *CompletionServiceError) Unwrap() error { return e.Err }

// UnknownToolError is a tool call naming a tool that is not registered. It
// is reported to the model as the call's result.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// InvalidArgumentsError is a tool call whose arguments do not fit the tool's
// input schema. It is reported to the model as the call's result.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// LoopExceededError is returned when the model keeps requesting tools past
// the iteration limit.
type LoopExceededError struct {
	Limit int
}

func (e *LoopExceededError) Error() string {
	return fmt.Sprintf("agent loop exceeded %d model calls without a final answer", e.Limit)
}

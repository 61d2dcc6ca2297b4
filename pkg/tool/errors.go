package tool

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a tool name is not registered.
	ErrNotFound = errors.New("tool not found")
	// ErrDuplicate is returned when a tool name is registered twice.
	ErrDuplicate = errors.New("tool already registered")
)

// ValidationError reports arguments or output that failed schema validation.
// It is recoverable: callers feed it back to the model instead of failing.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// ExecError wraps a failure raised by a tool's Execute.
type ExecError struct {
	Tool string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a tool execution that exceeded its declared timeout.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
}

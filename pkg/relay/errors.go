package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by Admit and Enqueue when accepting the entries
	// would exceed the configured per-key capacity.
	ErrQueueFull = errors.New("relay: queue full")

	// ErrClosed is returned by Admit after the dispatcher has been closed.
	ErrClosed = errors.New("relay: dispatcher closed")

	// ErrUnknownKey is the panic value used when Peek or PopFront is called
	// for a key the registry holds no state for.
	ErrUnknownKey = errors.New("relay: unknown key")
)

// TaskPanicError wraps a value recovered from a panicking task.
type TaskPanicError struct {
	Value any
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("relay: task panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

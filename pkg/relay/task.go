package relay

import (
	"context"
	"log/slog"
)

// Task processes one entry. It is called from the key's dispatch goroutine
// and must return once the entry is done, successfully or not.
//
// The context carries the dispatcher's task timeout, if any. The dispatcher
// cannot interrupt a task that ignores its context; such a task stalls every
// later entry of the same key.
type Task[K comparable, E any] interface {
	Process(ctx context.Context, key K, entry E) error
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc[K comparable, E any] func(ctx context.Context, key K, entry E) error

// Process calls f.
func (f TaskFunc[K, E]) Process(ctx context.Context, key K, entry E) error {
	return f(ctx, key, entry)
}

// Emitter sends replies for a single inbound event. Entries usually carry one
// so that their task can answer the right conversation.
type Emitter interface {
	// EmitText sends a text reply.
	EmitText(ctx context.Context, text string) error

	// EmitAudio sends the audio artifact found at locator (a file path or
	// URL understood by the transport).
	EmitAudio(ctx context.Context, locator string) error
}

// ErrorSink receives the errors of failed tasks. It is purely observational.
type ErrorSink[K comparable] interface {
	ReportError(key K, err error)
}

// ErrorSinkFunc adapts an ordinary function to the ErrorSink interface.
type ErrorSinkFunc[K comparable] func(key K, err error)

// ReportError calls f.
func (f ErrorSinkFunc[K]) ReportError(key K, err error) {
	f(key, err)
}

// LogSink returns an ErrorSink writing to logger at error level. A nil logger
// means slog.Default().
func LogSink[K comparable](logger *slog.Logger) ErrorSink[K] {
	if logger == nil {
		logger = slog.Default()
	}
	return ErrorSinkFunc[K](func(key K, err error) {
		attrs := []any{"key", key, "error", err}
		if pe, ok := err.(*TaskPanicError); ok {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		logger.Error("relay: task failed", attrs...)
	})
}

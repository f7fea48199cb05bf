package relay

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Dispatcher.
type Config[K comparable, E any] struct {
	// Task processes every admitted entry. Required.
	Task Task[K, E]

	// Registry holds the per-key queues. If nil, a registry is created from
	// Shards and Capacity.
	Registry *Registry[K, E]

	// Shards and Capacity configure the default registry.
	Shards   int
	Capacity int

	// ErrorSink receives failed tasks. Default LogSink(Logger).
	ErrorSink ErrorSink[K]

	// Logger is used for dispatcher diagnostics. Default slog.Default().
	Logger *slog.Logger

	// TaskTimeout bounds the context handed to each task. Zero means no
	// deadline.
	TaskTimeout time.Duration

	// BaseContext is the parent of every task context. Default
	// context.Background(). Cancelling it cancels running and future tasks
	// but does not drop queued entries; they are still handed to the task.
	BaseContext context.Context
}

// Stats is a point-in-time view of a dispatcher.
type Stats struct {
	// Keys is the number of keys holding registry state.
	Keys int
	// Pending is the number of queued entries, including in-flight ones.
	Pending int
	// Running is the number of live dispatch goroutines.
	Running int64
	// Completed and Failed count finished tasks by outcome.
	Completed int64
	Failed    int64
}

// Dispatcher admits entries and drains each key's queue on its own goroutine.
type Dispatcher[K comparable, E any] struct {
	task     Task[K, E]
	registry *Registry[K, E]
	sink     ErrorSink[K]
	logger   *slog.Logger
	timeout  time.Duration
	baseCtx  context.Context

	// mu orders Admit (read side) against Close (write side) so that no
	// loop is added to wg once Close has returned.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a dispatcher. It panics if cfg.Task is nil.
func New[K comparable, E any](cfg Config[K, E]) *Dispatcher[K, E] {
	if cfg.Task == nil {
		panic("relay: Config.Task is required")
	}
	d := &Dispatcher[K, E]{
		task:     cfg.Task,
		registry: cfg.Registry,
		sink:     cfg.ErrorSink,
		logger:   cfg.Logger,
		timeout:  cfg.TaskTimeout,
		baseCtx:  cfg.BaseContext,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.registry == nil {
		d.registry = NewRegistry[K, E](RegistryConfig{Shards: cfg.Shards, Capacity: cfg.Capacity})
	}
	if d.sink == nil {
		d.sink = LogSink[K](d.logger)
	}
	if d.baseCtx == nil {
		d.baseCtx = context.Background()
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher[K, E]) Registry() *Registry[K, E] {
	return d.registry
}

// Admit queues entries for key and starts a dispatch goroutine if none is
// running for it. It never waits for processing. Admitting no entries is a
// no-op.
func (d *Dispatcher[K, E]) Admit(key K, entries ...E) error {
	if len(entries) == 0 {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	first, err := d.registry.Enqueue(key, entries...)
	if err != nil {
		return err
	}
	if first {
		d.wg.Add(1)
		go d.drain(key)
	}
	return nil
}

// drain processes the key's queue until it is empty.
func (d *Dispatcher[K, E]) drain(key K) {
	defer d.wg.Done()
	d.running.Add(1)
	defer d.running.Add(-1)

	for {
		entry, ok := d.registry.Peek(key)
		if !ok {
			d.logger.Warn("relay: active key without entries", "key", key)
			d.registry.release(key)
			return
		}
		if err := d.run(key, entry); err != nil {
			d.failed.Add(1)
			d.report(key, err)
		} else {
			d.completed.Add(1)
		}
		if !d.registry.PopFront(key) {
			return
		}
	}
}

// report hands err to the sink. A panicking sink is logged so the key is
// still released.
func (d *Dispatcher[K, E]) report(key K, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("relay: error sink panicked", "key", key, "panic", r, "error", err)
		}
	}()
	d.sink.ReportError(key, err)
}

func (d *Dispatcher[K, E]) run(key K, entry E) (err error) {
	ctx := d.baseCtx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &TaskPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return d.task.Process(ctx, key, entry)
}

// Close stops admission. Queued entries are still processed.
func (d *Dispatcher[K, E]) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every dispatch goroutine has exited or ctx is done.
// Call Close first; otherwise new admissions may keep Wait blocked.
func (d *Dispatcher[K, E]) Wait(ctx context.Context) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if !closed {
		return errors.New("relay: Wait called before Close")
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the dispatcher and waits for queued work to drain.
func (d *Dispatcher[K, E]) Shutdown(ctx context.Context) error {
	d.Close()
	return d.Wait(ctx)
}

// Stats returns current counters.
func (d *Dispatcher[K, E]) Stats() Stats {
	return Stats{
		Keys:      d.registry.Len(),
		Pending:   d.registry.total(),
		Running:   d.running.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Package relay serializes work per user key.
//
// # Model
//
// Work arrives as entries tagged with a key (typically the sender address of
// a chat message). For every key the package keeps a FIFO queue and an
// "active" flag inside a [Registry]. A [Dispatcher] runs at most one
// goroutine per active key; that goroutine executes the queued entries one
// at a time through a [Task] and exits as soon as the queue is empty.
//
//	Admit(k, e) ──► Registry.Enqueue ──first?──► go drain(k)
//	                                                 │
//	                 ┌───────────────────────────────┘
//	                 ▼
//	            Peek ─► Task.Process ─► PopFront ─more?─┐
//	              ▲                                     │
//	              └─────────────────────────────────────┘
//
// Guarantees:
//   - Entries of one key are processed in admission order.
//   - At most one entry per key is in flight.
//   - Keys never wait for each other; the registry is sharded and no lock is
//     held while a task runs.
//   - A key's state is removed from the registry in the same critical section
//     that pops its last entry, so an idle key costs no memory.
//
// # Failures
//
// A task returns an error (panics are converted to [*TaskPanicError]). The
// dispatcher hands the error to an [ErrorSink] and moves on to the next entry
// of the same key. Tasks that want to tell the user something went wrong do
// so themselves, through the [Emitter] they carry in their entry.
//
// # Backpressure
//
// The registry is unbounded unless a capacity is configured, in which case
// [Dispatcher.Admit] fails fast with [ErrQueueFull].
package relay

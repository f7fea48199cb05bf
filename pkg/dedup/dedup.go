// Package dedup filters inbound events that the gateway delivers more than
// once. Chat platforms redeliver messages after reconnects; the bot marks
// every message ID before admitting it and drops the ones already seen.
package dedup

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long an ID is remembered when the store is created with
// a zero TTL.
const DefaultTTL = 24 * time.Hour

// ErrEmptyID is returned by MarkSeen for an empty message ID.
var ErrEmptyID = errors.New("dedup: empty id")

// Store remembers message IDs for a bounded time.
type Store interface {
	// MarkSeen records id and reports whether it had already been recorded.
	// It is atomic: of concurrent calls with the same id exactly one sees
	// seen == false.
	MarkSeen(ctx context.Context, id string) (seen bool, err error)

	// Forget removes id so a redelivery is treated as new. Forgetting an
	// unknown id is not an error.
	Forget(ctx context.Context, id string) error

	Close() error
}

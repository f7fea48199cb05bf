package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "dedup:"

// maxConflictRetries bounds retries of a MarkSeen transaction that lost a
// race with a concurrent writer.
const maxConflictRetries = 8

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory, for tests.
	InMemory bool

	// TTL is how long IDs are remembered. Zero means DefaultTTL.
	TTL time.Duration

	// Logger receives badger warnings and errors. Default slog.Default().
	Logger *slog.Logger
}

// Badger is a Store that survives restarts. IDs expire through badger's
// native entry TTL.
type Badger struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadger opens a Badger store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("dedup: BadgerOptions.Dir is required for on-disk mode")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{opts.Logger})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("dedup: open badger: %w", err)
	}
	return &Badger{db: db, ttl: opts.TTL}, nil
}

func (b *Badger) MarkSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	key := []byte(badgerKeyPrefix + id)
	for range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var seen bool
		err := b.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			switch {
			case err == nil:
				seen = true
				return nil
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			return txn.SetEntry(badger.NewEntry(key, nil).WithTTL(b.ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("dedup: mark %s: %w", id, err)
		}
		return seen, nil
	}
	return false, fmt.Errorf("dedup: mark %s: %w", id, badger.ErrConflict)
}

func (b *Badger) Forget(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("dedup: forget %s: %w", id, err)
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)

// badgerLogger forwards badger warnings and errors to slog and drops the
// chatty info and debug output.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any) {
	b.l.Error("dedup: badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Warningf(f string, v ...any) {
	b.l.Warn("dedup: badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}

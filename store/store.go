// Package store defines the persistence adapter consumed by the queue
// dispatch engine: a durable table of queued messages keyed by destination,
// ordered by (priority, timestamp), per spec §2.2 and §6.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by Insert or Fetch when the underlying store
// cannot be reached. The broker treats SEND-path persistence failures as
// connection-level errors (spec §7, §9).
var ErrUnavailable = errors.New("store: persistence backend unavailable")

// Record is one row of the queued-message table.
type Record struct {
	ID          string
	Destination string
	Priority    int32
	Timestamp   time.Time
	Body        []byte
}

// Store is the persistence interface consumed by the queue dispatch engine.
// Implementations must be safe for concurrent use: the broker calls it from
// every connection's session goroutine, and a Store may be shared across
// multiple broker processes.
type Store interface {
	// Insert durably records rec for later replay to a consumer of its
	// destination.
	Insert(ctx context.Context, rec Record) error

	// Fetch returns up to limit records for destination, ordered by
	// (priority ASC, timestamp ASC), the order replay must preserve.
	Fetch(ctx context.Context, destination string, limit int) ([]Record, error)

	// Close releases any resources held by the store.
	Close() error
}

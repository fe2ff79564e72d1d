// Package memory is an in-memory store.Store, primarily for tests and
// single-node deployments without a database. It mirrors the locking and
// copy-on-read discipline of the teacher's in-memory queue store
// (queue/storage/memory/memory.go in the retrieval pack): a single mutex
// guarding a map keyed by destination, sorted on read rather than on write.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/stompd/stompd/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu   sync.Mutex
	rows map[string][]store.Record // destination -> records, insertion order
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{rows: make(map[string][]store.Record)}
}

// Insert appends rec to its destination's row set.
func (s *Store) Insert(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.Destination] = append(s.rows[rec.Destination], rec)
	return nil
}

// Fetch returns up to limit rows for destination ordered by
// (priority ASC, timestamp ASC), matching the replay order spec §4.4
// requires. The returned records are removed from the store.
func (s *Store) Fetch(_ context.Context, destination string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[destination]
	sorted := make([]store.Record, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}
	taken := sorted[:limit]

	remaining := make(map[string]struct{}, limit)
	for _, r := range taken {
		remaining[r.ID] = struct{}{}
	}
	kept := rows[:0:0]
	for _, r := range rows {
		if _, consumed := remaining[r.ID]; consumed {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		delete(s.rows, destination)
	} else {
		s.rows[destination] = kept
	}

	return taken, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

package broker

import (
	"sync/atomic"
	"time"
)

// Stats tracks broker-wide counters using atomic counters, mirroring the
// teacher's per-protocol Stats types (e.g. amqp/broker/stats.go).
type Stats struct {
	startTime time.Time

	fannedOut  atomic.Uint64
	dispatched atomic.Uint64
	persisted  atomic.Uint64
	replayed   atomic.Uint64
	errors     atomic.Uint64
}

// NewStats creates a zeroed stats collector.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) incFannedOut(n uint64)  { s.fannedOut.Add(n) }
func (s *Stats) incDispatched()         { s.dispatched.Add(1) }
func (s *Stats) incPersisted()          { s.persisted.Add(1) }
func (s *Stats) incReplayed(n uint64)   { s.replayed.Add(n) }
func (s *Stats) incErrors()             { s.errors.Add(1) }

// Snapshot is a point-in-time copy of the counters, suitable for logging.
type Snapshot struct {
	FannedOut  uint64
	Dispatched uint64
	Persisted  uint64
	Replayed   uint64
	Errors     uint64
	Uptime     time.Duration
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FannedOut:  s.fannedOut.Load(),
		Dispatched: s.dispatched.Load(),
		Persisted:  s.persisted.Load(),
		Replayed:   s.replayed.Load(),
		Errors:     s.errors.Load(),
		Uptime:     time.Since(s.startTime),
	}
}

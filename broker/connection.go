package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/stompd/stompd/frame"
)

// Subscription is a single consumer's binding to one destination on one
// connection (spec §3). It is shared by reference between the owning
// connection's local map and the destination index's sets — never copied.
type Subscription struct {
	Destination string
	Prefetch    int
	PendingAcks map[string]struct{}
}

// NewSubscription creates a subscription with the given prefetch and an
// empty pending-ack set. Default prefetch is 10 per spec §3.
func NewSubscription(destination string, prefetch int) *Subscription {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Subscription{
		Destination: destination,
		Prefetch:    prefetch,
		PendingAcks: make(map[string]struct{}),
	}
}

// AtCapacity reports whether the subscription's pending-ack set has reached
// its prefetch limit.
func (s *Subscription) AtCapacity() bool {
	return len(s.PendingAcks) >= s.Prefetch
}

var connIDCounter atomic.Uint64

// NextConnID returns the next monotonically increasing connection id,
// unique for the broker's lifetime (spec §3).
func NextConnID() uint64 {
	return connIDCounter.Add(1)
}

// Connection is a live client session (spec §3). It exclusively owns its
// output channel and its two local subscription maps.
type Connection struct {
	ID              uint64
	DefaultPrefetch int

	out    chan *frame.Frame
	closed atomic.Bool
	logger *slog.Logger

	mu     sync.Mutex
	Queues map[string]*Subscription // queue name -> subscription
	Topics map[string]*Subscription // topic name -> subscription

	unacked atomic.Int64 // running count of unacknowledged messages, reserved per spec §3
}

// outboxSize bounds the per-connection output channel. A slow consumer
// drops frames once full rather than blocking a publisher (spec §4.5
// "Fan-out is fire-and-forget"); the same policy is applied to queue
// dispatch for uniformity (spec §5 "In-flight writes to a terminating
// connection may fail silently").
const outboxSize = 256

// NewConnection creates a not-yet-registered connection wrapping an output channel of STOMP frames. The caller is responsible for
// draining out (typically a per-connection writer goroutine) and for
// calling Close when the session ends.
func NewConnection(logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ID:              NextConnID(),
		DefaultPrefetch: 10,
		out:             make(chan *frame.Frame, outboxSize),
		logger:          logger,
		Queues:          make(map[string]*Subscription),
		Topics:          make(map[string]*Subscription),
	}
}

// Outbox returns the channel a writer goroutine should drain.
func (c *Connection) Outbox() <-chan *frame.Frame {
	return c.out
}

// Send enqueues f for delivery to this connection. It never blocks: if the
// outbox is full or the connection has been closed, the frame is dropped.
// A drop on a full outbox is logged at Debug level.
func (c *Connection) Send(f *frame.Frame) {
	if c.closed.Load() {
		return
	}
	select {
	case c.out <- f:
	default:
		c.logger.Debug("dropping frame, outbox full", slog.Uint64("conn_id", c.ID), slog.String("command", f.Command))
	}
}

// Close marks the connection closed and stops further enqueues. It does not
// close the outbox channel itself, avoiding a send-on-closed-channel panic
// if a dispatch is racing a teardown; the writer goroutine exits when its
// caller's loop observes the closed I/O stream instead.
func (c *Connection) Close() {
	c.closed.Store(true)
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// localSubscription returns the connection's own subscription record for
// destination d, or nil.
func (c *Connection) localSubscription(d Destination) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Kind == KindQueue {
		return c.Queues[d.Name]
	}
	return c.Topics[d.Name]
}

// setLocalSubscription replaces the connection's local subscription entry
// for d with sub (spec §4.4: "replace any existing entry").
func (c *Connection) setLocalSubscription(d Destination, sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Kind == KindQueue {
		c.Queues[d.Name] = sub
	} else {
		c.Topics[d.Name] = sub
	}
}

// Registry is the set of live client sessions (spec §2 item 3, §4.1).
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint64]*Connection)}
}

// Register adds conn to the registry.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

// Get looks up a live connection by id.
func (r *Registry) Get(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Unregister removes conn from the registry. It is idempotent and safe on
// partially-constructed connections (spec §4.1); the caller (Broker.Disconnect)
// is responsible for also removing conn from the topic and queue indices.
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn.ID)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stompd/stompd/frame"
	"github.com/stompd/stompd/store"
)

// Broker is the destination dispatch engine: the public entry points
// publish, subscribe, unsubscribe, and disconnect described in spec §2
// item 6, wired to a Connection Registry, Topic Index, Queue Index, and a
// persistence Store.
type Broker struct {
	registry *Registry
	topics   *TopicIndex
	queues   *QueueIndex
	store    store.Store
	logger   *slog.Logger
	stats    *Stats
	now      func() time.Time

	// ReceiptSuppressOnError resolves spec §9 Open Question 4: when true,
	// the receipt combinator (commands.go) does not emit RECEIPT for a
	// command whose handler already produced an ERROR frame.
	ReceiptSuppressOnError bool
}

// New creates a Broker backed by st. A nil logger falls back to
// slog.Default(); a nil stats collector gets a fresh one.
func New(st store.Store, logger *slog.Logger, stats *Stats) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Broker{
		registry:               NewRegistry(),
		topics:                 NewTopicIndex(),
		queues:                 NewQueueIndex(),
		store:                  st,
		logger:                 logger,
		stats:                  stats,
		now:                    time.Now,
		ReceiptSuppressOnError: true,
	}
}

// Stats returns the broker's statistics collector.
func (b *Broker) Stats() *Stats { return b.stats }

// Register adds conn to the connection registry. Call once per accepted
// socket, immediately after a successful CONNECT handshake (spec §3).
func (b *Broker) Register(conn *Connection) {
	b.registry.Register(conn)
}

// Publish routes msg to its destination: fan-out for a topic, round-robin
// dispatch (with overflow persistence) for a queue (spec §4.5).
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	switch msg.Destination.Kind {
	case KindTopic:
		b.publishTopic(msg)
		return nil
	default:
		return b.publishQueue(ctx, msg)
	}
}

// publishTopic fans msg out to every member of the topic's set.
// Fire-and-forget: write failures (a full per-connection outbox) don't
// abort the publish, and the broker doesn't wait for deliveries to land
// (spec §4.5).
func (b *Broker) publishTopic(msg Message) {
	members := b.topics.Members(msg.Destination.Name)
	f := b.messageFrame(msg)
	for _, conn := range members {
		conn.Send(f)
	}
	b.stats.incFannedOut(uint64(len(members)))
}

// publishQueue runs the round-robin dispatch algorithm and either delivers
// msg to the selected subscriber or persists it (spec §4.3, §4.5).
func (b *Broker) publishQueue(ctx context.Context, msg Message) error {
	sel := b.queues.Dispatch(msg.Destination.Name, msg.ID)
	if sel.Persist {
		return b.persist(ctx, msg)
	}
	sel.Pair.Conn.Send(b.messageFrame(msg))
	b.stats.incDispatched()
	return nil
}

// persist inserts msg into the durable store. Dispatch asks for this when the
// queue has no listener group, or when the group has no round-robin cursor
// yet and none of its members is ready (spec §4.3, §4.5).
func (b *Broker) persist(ctx context.Context, msg Message) error {
	rec := store.Record{
		ID:          msg.ID,
		Destination: msg.Destination.Name,
		Priority:    msg.Priority,
		Timestamp:   msg.Timestamp,
		Body:        msg.Body,
	}
	if err := b.store.Insert(ctx, rec); err != nil {
		b.stats.incErrors()
		return fmt.Errorf("persist message to %s: %w", msg.Destination, err)
	}
	b.stats.incPersisted()
	return nil
}

// SubscribeTopic binds conn to topic, replacing any existing subscription
// (spec §4.4).
func (b *Broker) SubscribeTopic(conn *Connection, topic string) {
	sub := NewSubscription(topic, conn.DefaultPrefetch)
	conn.setLocalSubscription(Destination{Kind: KindTopic, Name: topic}, sub)
	b.topics.Add(topic, conn)
}

// UnsubscribeTopic removes conn from topic's set (spec §4.4). A no-op if
// topic is unknown.
func (b *Broker) UnsubscribeTopic(conn *Connection, topic string) {
	b.topics.Remove(topic, conn)
}

// SubscribeQueue binds conn to queue, replacing any existing subscription,
// then replays up to (prefetch - len(pending)) persisted messages to conn
// in priority-then-timestamp order (spec §4.4). The replayed frames are
// enqueued onto conn's outbox in that order, which a single-consumer channel
// preserves; only an error is returned.
func (b *Broker) SubscribeQueue(ctx context.Context, conn *Connection, queue string) error {
	sub := NewSubscription(queue, conn.DefaultPrefetch)
	conn.setLocalSubscription(Destination{Kind: KindQueue, Name: queue}, sub)
	b.queues.Attach(queue, conn, sub)

	limit := sub.Prefetch - len(sub.PendingAcks)
	if limit <= 0 {
		return nil
	}

	recs, err := b.store.Fetch(ctx, queue, limit)
	if err != nil {
		return fmt.Errorf("replay from %s: %w", queue, err)
	}
	if len(recs) == 0 {
		return nil
	}

	for _, rec := range recs {
		sub.PendingAcks[rec.ID] = struct{}{}
	}
	if sub.AtCapacity() {
		b.queues.blockAfterReplay(queue, conn.ID)
	}

	for _, rec := range recs {
		msg := Message{
			ID:          rec.ID,
			Destination: Destination{Kind: KindQueue, Name: queue},
			Priority:    rec.Priority,
			Timestamp:   rec.Timestamp,
			Body:        rec.Body,
		}
		conn.Send(b.messageFrame(msg))
	}
	b.stats.incReplayed(uint64(len(recs)))
	return nil
}

// UnsubscribeQueue removes conn's pair from queue's listener group (spec
// §4.4). A no-op if queue is unknown.
func (b *Broker) UnsubscribeQueue(conn *Connection, queue string) {
	b.queues.Detach(queue, conn.ID)
}

// Ack processes a client ACK for one message on one queue subscription: it
// is the SPEC_FULL.md deviation from the source (Open Question 1, option
// (b)) — removing the acked id unblocks the subscription once its pending
// count drops below prefetch.
func (b *Broker) Ack(queue string, conn *Connection, msgID string) {
	b.queues.Ack(queue, conn.ID, msgID)
}

// Disconnect tears down conn: removes it from the connection registry, the
// topic index (every topic it appeared in), and the queue index (every
// queue it appeared in), per spec §4.1.
func (b *Broker) Disconnect(conn *Connection) {
	conn.Close()
	b.topics.RemoveConnection(conn)
	b.queues.RemoveConnection(conn)
	b.registry.Unregister(conn)
}

// messageFrame builds an outgoing MESSAGE frame for msg (spec §6).
func (b *Broker) messageFrame(msg Message) *frame.Frame {
	f := frame.New("MESSAGE")
	f.Set("message-id", msg.ID)
	f.Set("destination", msg.Destination.String())
	f.Body = msg.Body
	return f
}

// NewMessageID delegates to NewMsgID/ClientMsgID using the broker's own
// clock, primarily so tests can stub b.now.
func (b *Broker) NewMessageID(connID uint64, clientOriginated bool) string {
	if clientOriginated {
		return ClientMsgID(connID, b.now())
	}
	return NewMsgID(b.now())
}

// Now returns the broker's current time, exposed for handlers building a
// Message's Timestamp field.
func (b *Broker) Now() time.Time {
	return b.now()
}

package broker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stompd/stompd/broker"
)

func TestQueueIndexPersistsWhenNoListenerGroup(t *testing.T) {
	q := broker.NewQueueIndex()
	sel := q.Dispatch("work", "m1")
	require.True(t, sel.Persist)
}

func TestQueueIndexDispatchesToSoleSubscriber(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	sub := broker.NewSubscription("work", 10)
	q.Attach("work", a, sub)

	sel := q.Dispatch("work", "m1")
	require.False(t, sel.Persist)
	require.Equal(t, a.ID, sel.Pair.Conn.ID)
	require.Contains(t, sub.PendingAcks, "m1")
}

// TestQueueIndexRoundRobinsDescendingThenWraps reproduces spec scenario 2:
// two subscribers A (lower id) and B (higher id) yield dispatch order
// B, A, B, ... under the descending-connection-id ordering.
func TestQueueIndexRoundRobinsDescendingThenWraps(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil) // lower id, attached first
	b := broker.NewConnection(nil) // higher id
	subA := broker.NewSubscription("work", 10)
	subB := broker.NewSubscription("work", 10)
	q.Attach("work", a, subA)
	q.Attach("work", b, subB)

	sel1 := q.Dispatch("work", "m1")
	require.Equal(t, b.ID, sel1.Pair.Conn.ID)

	sel2 := q.Dispatch("work", "m2")
	require.Equal(t, a.ID, sel2.Pair.Conn.ID)

	sel3 := q.Dispatch("work", "m3")
	require.Equal(t, b.ID, sel3.Pair.Conn.ID)
}

// TestQueueIndexPrefetchBlocksThenRedeliversToSameSubscriber reproduces
// spec scenario 3: a single subscriber with prefetch 2 goes blocked after
// two unacked messages; a third message dispatch re-selects the same
// blocked subscriber rather than persisting (the documented design quirk,
// spec §9 Open Question 3).
func TestQueueIndexPrefetchBlocksThenRedeliversToSameSubscriber(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	sub := broker.NewSubscription("work", 2)
	q.Attach("work", a, sub)

	sel1 := q.Dispatch("work", "m1")
	require.Equal(t, a.ID, sel1.Pair.Conn.ID)
	sel2 := q.Dispatch("work", "m2")
	require.Equal(t, a.ID, sel2.Pair.Conn.ID)
	require.True(t, sub.AtCapacity())

	sel3 := q.Dispatch("work", "m3")
	require.False(t, sel3.Persist)
	require.Equal(t, a.ID, sel3.Pair.Conn.ID)
	require.Contains(t, sub.PendingAcks, "m3")
}

func TestQueueIndexAckUnblocksSubscriber(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	sub := broker.NewSubscription("work", 1)
	q.Attach("work", a, sub)

	q.Dispatch("work", "m1")
	require.True(t, sub.AtCapacity())

	q.Ack("work", a.ID, "m1")
	require.NotContains(t, sub.PendingAcks, "m1")

	sel := q.Dispatch("work", "m2")
	require.Equal(t, a.ID, sel.Pair.Conn.ID)
}

func TestQueueIndexDetachDropsEmptyGroup(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	sub := broker.NewSubscription("work", 10)
	q.Attach("work", a, sub)
	require.True(t, q.HasGroup("work"))

	q.Detach("work", a.ID)
	require.False(t, q.HasGroup("work"))
}

func TestQueueIndexRemoveConnectionDetachesFromAllQueues(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	q.Attach("work1", a, broker.NewSubscription("work1", 10))
	q.Attach("work2", a, broker.NewSubscription("work2", 10))

	q.RemoveConnection(a)

	require.False(t, q.HasGroup("work1"))
	require.False(t, q.HasGroup("work2"))
}

func TestQueueIndexNewSubscriberJoinsRotation(t *testing.T) {
	q := broker.NewQueueIndex()
	a := broker.NewConnection(nil)
	subA := broker.NewSubscription("work", 10)
	q.Attach("work", a, subA)

	q.Dispatch("work", "m1") // cursor now at a

	b := broker.NewConnection(nil)
	subB := broker.NewSubscription("work", 10)
	q.Attach("work", b, subB)

	// b has a higher connection id than a, so it is the successor of a
	// under the descending-id order and should receive the next message.
	sel := q.Dispatch("work", "m2")
	require.Equal(t, b.ID, sel.Pair.Conn.ID)
}

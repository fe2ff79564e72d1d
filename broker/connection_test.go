package broker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stompd/stompd/broker"
	"github.com/stompd/stompd/frame"
)

func TestConnectionSendDropsOnFullOutbox(t *testing.T) {
	conn := broker.NewConnection(nil)
	for i := 0; i < 1000; i++ {
		conn.Send(frame.New("MESSAGE"))
	}
	// Must not block or panic; the outbox has a fixed bound and drops.
	drained := 0
	for {
		select {
		case <-conn.Outbox():
			drained++
		default:
			require.Greater(t, drained, 0)
			return
		}
	}
}

func TestConnectionSendAfterCloseIsNoop(t *testing.T) {
	conn := broker.NewConnection(nil)
	conn.Close()
	require.True(t, conn.Closed())
	conn.Send(frame.New("MESSAGE"))
	select {
	case <-conn.Outbox():
		t.Fatal("expected no frame after close")
	default:
	}
}

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := broker.NewRegistry()
	c1 := broker.NewConnection(nil)
	c2 := broker.NewConnection(nil)
	r.Register(c1)
	r.Register(c2)
	require.Equal(t, 2, r.Len())

	got, ok := r.Get(c1.ID)
	require.True(t, ok)
	require.Equal(t, c1, got)

	r.Unregister(c1)
	require.Equal(t, 1, r.Len())
	require.False(t, r.Contains(c1.ID))
}

func TestConnIDsAreMonotonicAndUnique(t *testing.T) {
	a := broker.NewConnection(nil)
	b := broker.NewConnection(nil)
	require.Less(t, a.ID, b.ID)
}

func TestSubscriptionAtCapacity(t *testing.T) {
	sub := broker.NewSubscription("work", 2)
	require.False(t, sub.AtCapacity())
	sub.PendingAcks["m1"] = struct{}{}
	require.False(t, sub.AtCapacity())
	sub.PendingAcks["m2"] = struct{}{}
	require.True(t, sub.AtCapacity())
}

func TestNewSubscriptionDefaultsPrefetch(t *testing.T) {
	sub := broker.NewSubscription("work", 0)
	require.Equal(t, 10, sub.Prefetch)
}

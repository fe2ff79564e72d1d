package broker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stompd/stompd/broker"
	"github.com/stompd/stompd/frame"
	"github.com/stompd/stompd/store/memory"
)

func drainOne(t *testing.T, conn *broker.Connection) *frame.Frame {
	t.Helper()
	select {
	case f := <-conn.Outbox():
		return f
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestDispatchConnectRepliesConnected(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)

	f := frame.New("CONNECT")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))

	got := drainOne(t, conn)
	require.Equal(t, "CONNECTED", got.Command)
}

func TestDispatchSendThenSubscribeTopicFanOut(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	sub := broker.NewConnection(nil)
	pub := broker.NewConnection(nil)

	subscribe := frame.New("SUBSCRIBE")
	subscribe.Set("destination", "/topic/news")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, sub, subscribe))

	send := frame.New("SEND")
	send.Set("destination", "/topic/news")
	send.Body = []byte("hello")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, pub, send))

	got := drainOne(t, sub)
	require.Equal(t, "MESSAGE", got.Command)
	require.Equal(t, []byte("hello"), got.Body)
}

func TestDispatchUnknownCommandProducesErrorAndStaysOpen(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)

	f := frame.New("WIGGLE")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))

	got := drainOne(t, conn)
	require.Equal(t, "ERROR", got.Command)
	require.Contains(t, string(got.Body), "WIGGLE")
	require.False(t, conn.Closed())
}

func TestDispatchReceiptEmittedWhenRequested(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)

	f := frame.New("SUBSCRIBE")
	f.Set("destination", "/topic/news")
	f.Set("receipt", "r-1")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))

	got := drainOne(t, conn)
	require.Equal(t, "RECEIPT", got.Command)
	v, ok := got.Get("receipt-id")
	require.True(t, ok)
	require.Equal(t, "r-1", v)
}

func TestDispatchReceiptSuppressedAfterError(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)

	f := frame.New("SUBSCRIBE")
	f.Set("destination", "not-a-valid-destination")
	f.Set("receipt", "r-1")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))

	got := drainOne(t, conn)
	require.Equal(t, "ERROR", got.Command)

	select {
	case extra := <-conn.Outbox():
		t.Fatalf("expected no further frame, got %s", extra.Command)
	default:
	}
}

func TestDispatchDisconnectNeverEmitsReceipt(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)
	b.Register(conn)

	f := frame.New("DISCONNECT")
	f.Set("receipt", "r-1")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))

	select {
	case got := <-conn.Outbox():
		t.Fatalf("expected no frame, got %s", got.Command)
	default:
	}
	require.True(t, conn.Closed())
}

func TestDispatchBeginCommitAbortAreNoops(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)

	for _, cmd := range []string{"BEGIN", "COMMIT", "ABORT"} {
		f := frame.New(cmd)
		require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, f))
		select {
		case got := <-conn.Outbox():
			t.Fatalf("expected no frame for %s, got %s", cmd, got.Command)
		default:
		}
	}
}

func TestDispatchAckRemovesPendingAndUnblocks(t *testing.T) {
	b := broker.New(memory.New(), nil, nil)
	table := broker.NewCommandTable()
	conn := broker.NewConnection(nil)
	conn.DefaultPrefetch = 1

	subscribe := frame.New("SUBSCRIBE")
	subscribe.Set("destination", "/queue/work")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, subscribe))

	send := frame.New("SEND")
	send.Set("destination", "/queue/work")
	send.Body = []byte("1")
	pub := broker.NewConnection(nil)
	require.NoError(t, broker.Dispatch(context.Background(), table, b, pub, send))

	delivered := drainOne(t, conn)
	msgID, ok := delivered.Get("message-id")
	require.True(t, ok)

	ack := frame.New("ACK")
	ack.Set("destination", "/queue/work")
	ack.Set("message-id", msgID)
	require.NoError(t, broker.Dispatch(context.Background(), table, b, conn, ack))

	send2 := frame.New("SEND")
	send2.Set("destination", "/queue/work")
	send2.Body = []byte("2")
	require.NoError(t, broker.Dispatch(context.Background(), table, b, pub, send2))

	got := drainOne(t, conn)
	require.Equal(t, "MESSAGE", got.Command)
	require.Equal(t, []byte("2"), got.Body)
}

package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stompd/stompd/frame"
)

// Result is what a command handler reports back to the receipt combinator.
type Result struct {
	// WroteError is true when the handler already wrote an ERROR frame to
	// conn; it governs whether a RECEIPT still follows (spec §9 Open
	// Question 4, SPEC_FULL.md decision).
	WroteError bool
}

// Handler processes one STOMP frame for one connection. Command handlers
// write their own reply/ERROR frames directly to conn via conn.Send; the
// return value only carries bookkeeping for the receipt combinator and an
// error that ends the session (returned by SEND when the message could not
// be persisted).
type Handler func(ctx context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error)

// CommandTable maps uppercased STOMP command names to handlers (spec §2
// item 7, §4.6).
type CommandTable map[string]Handler

// NewCommandTable returns the default dispatch table: CONNECT, SUBSCRIBE,
// UNSUBSCRIBE, SEND, DISCONNECT, BEGIN, COMMIT, ABORT, and ACK (the
// SPEC_FULL.md deviation resolving Open Question 1).
func NewCommandTable() CommandTable {
	return CommandTable{
		"CONNECT":     handleConnect,
		"SUBSCRIBE":   handleSubscribe,
		"UNSUBSCRIBE": handleUnsubscribe,
		"SEND":        handleSend,
		"DISCONNECT":  handleDisconnect,
		"BEGIN":       handleNoop,
		"COMMIT":      handleNoop,
		"ABORT":       handleNoop,
		"ACK":         handleAck,
	}
}

// WithReceipt wraps h so that, after its effect completes, a RECEIPT frame
// carrying the original receipt-id is emitted if the frame requested one
// (spec §4.6). When b.ReceiptSuppressOnError is set, a RECEIPT is withheld
// if the handler itself already wrote an ERROR frame for this command.
func WithReceipt(h Handler) Handler {
	return func(ctx context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error) {
		res, err := h(ctx, b, conn, f)
		if err != nil {
			return res, err
		}
		if b.ReceiptSuppressOnError && res.WroteError {
			return res, nil
		}
		if receiptID, ok := f.Get("receipt"); ok {
			receipt := frame.New("RECEIPT")
			receipt.Set("receipt-id", receiptID)
			conn.Send(receipt)
		}
		return res, nil
	}
}

// Dispatch looks up f's command in table (case-insensitively, per spec
// §4.6) and runs it, wrapped with WithReceipt unless the command is
// DISCONNECT. Unknown commands get an ERROR frame naming the offending
// command and the connection stays open (spec §7).
func Dispatch(ctx context.Context, table CommandTable, b *Broker, conn *Connection, f *frame.Frame) error {
	cmd := f.UpperCommand()
	h, ok := table[cmd]
	if !ok {
		conn.Send(errorFrame(fmt.Sprintf("Unknown command: %s", f.Command)))
		return nil
	}
	if cmd != "DISCONNECT" {
		h = WithReceipt(h)
	}
	_, err := h(ctx, b, conn, f)
	return err
}

func errorFrame(body string) *frame.Frame {
	f := frame.New("ERROR")
	f.Body = []byte(body)
	return f
}

// handleConnect replies with a CONNECTED frame carrying the connection's
// id as its session (spec §4.6).
func handleConnect(_ context.Context, _ *Broker, conn *Connection, _ *frame.Frame) (Result, error) {
	connected := frame.New("CONNECTED")
	connected.Set("session", strconv.FormatUint(conn.ID, 10))
	conn.Send(connected)
	return Result{}, nil
}

// handleSubscribe implements spec §4.4 SUBSCRIBE for both topic and queue
// destinations, including replay for queues.
func handleSubscribe(ctx context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error) {
	header, _ := f.Get("destination")
	dest, err := ParseDestination(header)
	if err != nil {
		conn.Send(errorFrame(err.Error()))
		return Result{WroteError: true}, nil
	}

	switch dest.Kind {
	case KindTopic:
		b.SubscribeTopic(conn, dest.Name)
	case KindQueue:
		if err := b.SubscribeQueue(ctx, conn, dest.Name); err != nil {
			b.logger.Warn("subscribe replay failed", "destination", dest.String(), "error", err)
			conn.Send(errorFrame(fmt.Sprintf("Subscribe failed: %v", err)))
			return Result{WroteError: true}, nil
		}
	}
	return Result{}, nil
}

// handleUnsubscribe implements spec §4.4 UNSUBSCRIBE. Both paths are
// no-ops on an unknown destination, never an error.
func handleUnsubscribe(_ context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error) {
	header, _ := f.Get("destination")
	dest, err := ParseDestination(header)
	if err != nil {
		conn.Send(errorFrame(err.Error()))
		return Result{WroteError: true}, nil
	}

	switch dest.Kind {
	case KindTopic:
		b.UnsubscribeTopic(conn, dest.Name)
	case KindQueue:
		b.UnsubscribeQueue(conn, dest.Name)
	}
	return Result{}, nil
}

// handleSend publishes a client-originated message with broker-minted id
// conn-<conn_id>:<new_msg_id>, priority 0, timestamp now() (spec §4.6).
func handleSend(ctx context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error) {
	header, _ := f.Get("destination")
	dest, err := ParseDestination(header)
	if err != nil {
		conn.Send(errorFrame(err.Error()))
		return Result{WroteError: true}, nil
	}

	msg := Message{
		ID:          b.NewMessageID(conn.ID, true),
		Destination: dest,
		Priority:    0,
		Timestamp:   b.Now(),
		Body:        f.Body,
	}
	if err := b.Publish(ctx, msg); err != nil {
		b.logger.Error("publish failed", "destination", dest.String(), "error", err)
		conn.Send(errorFrame(fmt.Sprintf("Publish failed: %v", err)))
		return Result{WroteError: true}, err
	}
	return Result{}, nil
}

// handleDisconnect terminates the session. It is never wrapped with
// WithReceipt (spec §4.6: "Every command handler except DISCONNECT").
func handleDisconnect(_ context.Context, b *Broker, conn *Connection, _ *frame.Frame) (Result, error) {
	b.Disconnect(conn)
	return Result{}, nil
}

// handleNoop accepts and ignores BEGIN, COMMIT, and ABORT (spec §1
// Non-goals: no transactional semantics; receipt is still honored).
func handleNoop(_ context.Context, _ *Broker, _ *Connection, _ *frame.Frame) (Result, error) {
	return Result{}, nil
}

// handleAck implements the SPEC_FULL.md ACK deviation (Open Question 1,
// option (b)): remove the acknowledged id from the subscription's
// pending-ack set and run an unblock-sweep.
func handleAck(_ context.Context, b *Broker, conn *Connection, f *frame.Frame) (Result, error) {
	header, _ := f.Get("destination")
	msgID, _ := f.Get("message-id")
	dest, err := ParseDestination(header)
	if err != nil || dest.Kind != KindQueue || msgID == "" {
		conn.Send(errorFrame("Invalid ACK: requires a queue destination and message-id"))
		return Result{WroteError: true}, nil
	}
	b.Ack(dest.Name, conn, msgID)
	return Result{}, nil
}

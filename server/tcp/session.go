package tcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/stompd/stompd/broker"
	"github.com/stompd/stompd/codec"
	"github.com/stompd/stompd/frame"
)

// session drives one STOMP connection: a reader goroutine (this one, via
// run) that decodes frames and dispatches them against the broker, and a
// writer goroutine that drains the Connection's outbox back onto the wire.
// The first frame must be CONNECT (spec §4.6); anything else gets an ERROR
// frame and the connection is dropped.
type session struct {
	conn   net.Conn
	broker *broker.Broker
	table  broker.CommandTable
	cfg    Config
	logger *slog.Logger
}

func newSession(conn net.Conn, b *broker.Broker, table broker.CommandTable, cfg Config, logger *slog.Logger) *session {
	return &session{conn: conn, broker: b, table: table, cfg: cfg, logger: logger}
}

func (s *session) run(ctx context.Context) {
	bc := broker.NewConnection(s.logger)
	dec := codec.NewDecoder(s.conn)
	enc := codec.NewEncoder(s.conn, s.cfg.FrameMode)

	stopWriter := make(chan struct{})
	writerDone := make(chan struct{})
	go s.writeLoop(bc, enc, stopWriter, writerDone)

	defer func() {
		s.broker.Disconnect(bc)
		bc.Close()
		close(stopWriter)
		<-writerDone
	}()

	first, err := dec.Decode()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Debug("handshake read failed", slog.String("error", err.Error()))
		}
		return
	}
	if first.UpperCommand() != "CONNECT" {
		errFrame := frame.New("ERROR")
		errFrame.Body = []byte("First frame must be CONNECT")
		bc.Send(errFrame)
		return
	}
	s.broker.Register(bc)
	if err := broker.Dispatch(ctx, s.table, s.broker, bc, first); err != nil {
		s.logger.Debug("handshake dispatch failed", slog.String("error", err.Error()))
		return
	}

	for {
		f, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("frame read failed", slog.String("error", err.Error()), slog.Uint64("conn_id", bc.ID))
			}
			return
		}
		if bc.Closed() {
			return
		}
		if err := broker.Dispatch(ctx, s.table, s.broker, bc, f); err != nil {
			s.logger.Debug("dispatch failed", slog.String("error", err.Error()), slog.Uint64("conn_id", bc.ID))
			return
		}
		if bc.Closed() {
			return
		}
	}
}

// writeLoop drains bc's outbox onto the wire. It selects against stopWriter
// rather than ranging over the outbox directly, because Connection.Close
// never closes the outbox channel itself (to avoid a send-on-closed-channel
// race against a concurrent dispatch) — so a plain range would block
// forever once the reader side has nothing left to feed it. On stop it
// flushes whatever is already queued (e.g. a handshake ERROR frame) before
// returning.
func (s *session) writeLoop(bc *broker.Connection, enc *codec.Encoder, stopWriter <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case f := <-bc.Outbox():
			if err := enc.Encode(f); err != nil {
				return
			}
		case <-stopWriter:
			s.drainRemaining(bc, enc)
			return
		}
	}
}

// drainRemaining flushes whatever is already buffered in bc's outbox,
// non-blockingly, so a final frame queued right before shutdown (e.g. the
// handshake-violation ERROR) still reaches the client.
func (s *session) drainRemaining(bc *broker.Connection, enc *codec.Encoder) {
	for {
		select {
		case f := <-bc.Outbox():
			if err := enc.Encode(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

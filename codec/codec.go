// Package codec reads and writes STOMP 1.0 frames over a bidirectional byte
// stream. It is the Frame Codec component of the broker: a byte-level
// tokenizer/serializer with no knowledge of destinations, subscriptions, or
// dispatch.
//
// Wire grammar (spec):
//
//	COMMAND \n
//	(HEADER-KEY ':' SPACE* HEADER-VALUE \n)*
//	\n
//	BODY \x00 [\n]
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stompd/stompd/frame"
)

// ErrEmptyCommand names the case of a blank first line, which in STOMP is a
// heartbeat newline rather than a frame. Decode does not return it: it skips
// blank lines before a command.
var ErrEmptyCommand = errors.New("codec: empty command line")

// Mode controls whether Encode appends a trailing newline after the frame's
// null terminator, the broker-wide boolean described in spec §6. Both
// framing modes are accepted on ingress without configuration: the decoder
// simply consumes an optional trailing '\n' after the null byte if present.
type Mode struct {
	TrailingNewline bool
}

// DefaultMode matches the spec's stated default: trailing newline present.
var DefaultMode = Mode{TrailingNewline: true}

// Decoder reads frames off a buffered stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for frame-at-a-time decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads and returns the next frame. It returns io.EOF (wrapped or
// bare, per the underlying reader) when the stream ends cleanly between
// frames.
func (d *Decoder) Decode() (*frame.Frame, error) {
	command, err := d.readCommandLine()
	if err != nil {
		return nil, err
	}

	f := &frame.Frame{Command: command}

	contentLength := -1
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, fmt.Errorf("codec: reading headers: %w", err)
		}
		if line == "" {
			break
		}
		key, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		f.Add(key, value)
		if key == "content-length" {
			if n, err := strconv.Atoi(value); err == nil {
				contentLength = n
			}
		}
	}

	body, err := d.readBody(contentLength)
	if err != nil {
		return nil, fmt.Errorf("codec: reading body: %w", err)
	}
	f.Body = body

	return f, nil
}

// readCommandLine skips leading blank lines (heartbeats) and returns the
// first non-blank line as the command.
func (d *Decoder) readCommandLine() (string, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

func (d *Decoder) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func splitHeader(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

// readBody reads exactly contentLength bytes followed by the null
// terminator, or, when contentLength is unknown (-1), reads up to the next
// null byte, preserving any embedded newlines.
func (d *Decoder) readBody(contentLength int) ([]byte, error) {
	if contentLength >= 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, err
		}
		sep, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if sep != 0 {
			return nil, fmt.Errorf("codec: expected null terminator after body, got %q", sep)
		}
		d.consumeOptionalTrailingNewline()
		return body, nil
	}

	body, err := d.r.ReadBytes(0)
	if err != nil {
		return nil, err
	}
	body = body[:len(body)-1] // drop the trailing null
	d.consumeOptionalTrailingNewline()
	return body, nil
}

// consumeOptionalTrailingNewline swallows a single '\n' that immediately
// follows the null terminator, the optional framing mode from spec §6. Only
// already-buffered input is inspected, so Decode never waits on the stream
// for a byte that may not come; a '\n' that arrives later is skipped by
// readCommandLine as a blank line.
func (d *Decoder) consumeOptionalTrailingNewline() {
	if d.r.Buffered() == 0 {
		return
	}
	b, err := d.r.Peek(1)
	if err == nil && len(b) == 1 && b[0] == '\n' {
		_, _ = d.r.Discard(1)
	}
}

// Encoder writes frames to a stream.
type Encoder struct {
	w    io.Writer
	mode Mode
}

// NewEncoder wraps w for frame-at-a-time encoding using mode's framing.
func NewEncoder(w io.Writer, mode Mode) *Encoder {
	return &Encoder{w: w, mode: mode}
}

// Encode serializes f and writes it to the underlying stream. A
// content-length header is inserted if f does not already carry one
// (spec: "Outgoing frames always include content-length"). The command is
// written uppercased regardless of how it was set on f.
func (e *Encoder) Encode(f *frame.Frame) error {
	var b strings.Builder
	b.WriteString(f.UpperCommand())
	b.WriteByte('\n')

	hasContentLength := false
	for _, h := range f.Headers {
		if h.Key == "content-length" {
			hasContentLength = true
		}
		b.WriteString(h.Key)
		b.WriteByte(':')
		b.WriteString(h.Value)
		b.WriteByte('\n')
	}
	if !hasContentLength {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(e.w, b.String()); err != nil {
		return err
	}
	if _, err := e.w.Write(f.Body); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte{0}); err != nil {
		return err
	}
	if e.mode.TrailingNewline {
		if _, err := e.w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

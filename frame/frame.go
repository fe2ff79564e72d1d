// Package frame defines the in-memory representation of a STOMP 1.0 frame.
package frame

import "strings"

// Header is a single header line, key and value already unescaped.
type Header struct {
	Key   string
	Value string
}

// Frame is a decoded STOMP frame: a command, an ordered list of headers,
// and a body. Header order is preserved on the wire for outgoing frames;
// ingress header keys are lowercased by the codec before the frame reaches
// application code (spec: "Headers are read line-by-line; header keys are
// lowercased, values whitespace-trimmed, on ingress").
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// New creates a frame with the given command and no headers or body.
func New(command string) *Frame {
	return &Frame{Command: command}
}

// Get returns the value of the first header matching key and whether it was
// found. Lookup is case-sensitive; callers comparing against a
// lowercased-on-ingress header should pass a lowercase key.
func (f *Frame) Get(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Set replaces the first header matching key, or appends a new one.
func (f *Frame) Set(key, value string) {
	for i := range f.Headers {
		if f.Headers[i].Key == key {
			f.Headers[i].Value = value
			return
		}
	}
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// Add appends a header without checking for an existing one of the same key.
func (f *Frame) Add(key, value string) {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// UpperCommand returns the command uppercased, the form used for ingress
// dispatch-table lookup and all egress commands.
func (f *Frame) UpperCommand() string {
	return strings.ToUpper(f.Command)
}

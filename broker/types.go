// Package broker implements the destination dispatch engine: routing of
// published frames to topics (fan-out) or queues (round-robin with
// prefetch-based flow control and overflow persistence), and the
// connection/subscription bookkeeping that keeps both consistent across
// connection churn. This is the core described in spec §1–§5.
package broker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DestinationKind distinguishes the two STOMP destination families.
type DestinationKind int

const (
	// KindQueue is a fair-share destination with round-robin delivery.
	KindQueue DestinationKind = iota
	// KindTopic is a fan-out destination.
	KindTopic
)

// Destination is the tagged union of spec §3: either Queue(name) or
// Topic(name).
type Destination struct {
	Kind DestinationKind
	Name string
}

// String renders the destination in wire form, e.g. "/queue/work".
func (d Destination) String() string {
	switch d.Kind {
	case KindQueue:
		return "/queue/" + d.Name
	case KindTopic:
		return "/topic/" + d.Name
	default:
		return d.Name
	}
}

// ErrInvalidDestination is returned by ParseDestination when the header
// value isn't prefixed with /queue/ or /topic/.
type ErrInvalidDestination struct{ Header string }

func (e ErrInvalidDestination) Error() string {
	return "Invalid or missing destination: must be of the form /queue/xxx or /topic/xxx."
}

// ParseDestination parses a destination header per spec §4.6: valid iff it
// begins with "/topic/" or "/queue/"; the remainder is the name.
func ParseDestination(header string) (Destination, error) {
	switch {
	case strings.HasPrefix(header, "/topic/"):
		name := header[len("/topic/"):]
		if name == "" {
			return Destination{}, ErrInvalidDestination{Header: header}
		}
		return Destination{Kind: KindTopic, Name: name}, nil
	case strings.HasPrefix(header, "/queue/"):
		name := header[len("/queue/"):]
		if name == "" {
			return Destination{}, ErrInvalidDestination{Header: header}
		}
		return Destination{Kind: KindQueue, Name: name}, nil
	default:
		return Destination{}, ErrInvalidDestination{Header: header}
	}
}

// Message is the unit dispatched or persisted, per spec §3.
type Message struct {
	ID          string
	Destination Destination
	Priority    int32
	Timestamp   time.Time
	Body        []byte
}

// idCounter backs new-message-id minting; it is only ever incremented, so
// ids stay unique within one broker run (spec §3 invariant).
var idCounter atomic.Uint64

// NewMsgID mints a broker-local id formatted "msg-<unix-seconds-float>-<counter>",
// matching spec §3's format for broker-minted ids.
func NewMsgID(now time.Time) string {
	n := idCounter.Add(1)
	return fmt.Sprintf("msg-%s-%d", strconv.FormatFloat(float64(now.UnixNano())/1e9, 'f', 6, 64), n)
}

// ClientMsgID formats a client-originated SEND id: "conn-<conn_id>:<new_msg_id>".
func ClientMsgID(connID uint64, now time.Time) string {
	return fmt.Sprintf("conn-%d:%s", connID, NewMsgID(now))
}

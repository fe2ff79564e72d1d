package broker

import "sync"

// TopicIndex is the Topic Index of spec §4.2: for each topic name, the set
// of connections currently subscribed. Fan-out is best-effort; there is no
// flow control here.
type TopicIndex struct {
	mu      sync.Mutex
	members map[string]map[uint64]*Connection // topic name -> conn id -> conn
}

// NewTopicIndex creates an empty topic index.
func NewTopicIndex() *TopicIndex {
	return &TopicIndex{members: make(map[string]map[uint64]*Connection)}
}

// Add inserts conn into topic's set, creating the entry if absent.
func (t *TopicIndex) Add(topic string, conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[topic]
	if !ok {
		set = make(map[uint64]*Connection)
		t.members[topic] = set
	}
	set[conn.ID] = conn
}

// Remove removes conn from topic's set; deletes the entry if the set
// becomes empty.
func (t *TopicIndex) Remove(topic string, conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[topic]
	if !ok {
		return
	}
	delete(set, conn.ID)
	if len(set) == 0 {
		delete(t.members, topic)
	}
}

// RemoveConnection removes conn from every topic set it belongs to,
// dropping any entry that becomes empty. Used on connection teardown.
func (t *TopicIndex) RemoveConnection(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, set := range t.members {
		if _, ok := set[conn.ID]; !ok {
			continue
		}
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(t.members, topic)
		}
	}
}

// Members returns a snapshot slice of the connections subscribed to topic.
// The snapshot is safe to iterate without holding the index lock, matching
// the fan-out path's need to write to each member without serializing on
// topic-index mutation (spec §4.5 "fire-and-forget").
func (t *TopicIndex) Members(topic string) []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[topic]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// HasTopic reports whether topic has any subscribers.
func (t *TopicIndex) HasTopic(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.members[topic]
	return ok
}

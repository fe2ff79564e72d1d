package broker

import "sync"

// pair is a (connection, subscription) binding to one queue, the unit the
// Queue Index moves between ready and blocked (spec §3 "Listener Group").
type pair struct {
	Conn *Connection
	Sub  *Subscription
}

// listenerGroup is the per-queue-name bookkeeping of spec §3: two disjoint
// sets keyed by connection id, and an optional round-robin cursor.
type listenerGroup struct {
	ready    map[uint64]pair
	blocked  map[uint64]pair
	lastSent *pair
}

func newListenerGroup() *listenerGroup {
	return &listenerGroup{
		ready:   make(map[uint64]pair),
		blocked: make(map[uint64]pair),
	}
}

func (g *listenerGroup) empty() bool {
	return len(g.ready) == 0 && len(g.blocked) == 0
}

// QueueIndex is the Queue Index of spec §4.3: per queue name, a listener
// group carrying ready/blocked subscription sets and a round-robin cursor.
// This is the round-robin and flow-control crux of the broker.
type QueueIndex struct {
	mu     sync.Mutex
	groups map[string]*listenerGroup
}

// NewQueueIndex creates an empty queue index.
func NewQueueIndex() *QueueIndex {
	return &QueueIndex{groups: make(map[string]*listenerGroup)}
}

// ordering: the total order is descending connection id — among two pairs,
// the one with the higher connection id is "smaller" (sorts first). This
// mirrors the source comparator `t2.id - t1.id` (spec §4.3); any other
// deterministic total order would work as long as it is applied
// consistently everywhere a "next" or "min" is taken.

func minOrdered(set map[uint64]pair) (pair, bool) {
	var best pair
	found := false
	for _, p := range set {
		if !found || p.Conn.ID > best.Conn.ID {
			best, found = p, true
		}
	}
	return best, found
}

func successorOrdered(c pair, set map[uint64]pair) pair {
	var best pair
	found := false
	for _, p := range set {
		if p.Conn.ID < c.Conn.ID && (!found || p.Conn.ID > best.Conn.ID) {
			best, found = p, true
		}
	}
	if found {
		return best
	}
	min, _ := minOrdered(set)
	return min
}

// unblockSweep partitions blocked into newly-ready (pending < prefetch) and
// the remainder, moving the former into ready (spec §4.3 "Unblock-sweep").
func unblockSweep(g *listenerGroup) {
	for id, p := range g.blocked {
		if len(p.Sub.PendingAcks) < p.Sub.Prefetch {
			delete(g.blocked, id)
			g.ready[id] = p
		}
	}
}

// Attach binds (conn, sub) to queue's ready set, creating the listener
// group if it doesn't exist (spec §4.3 "attach").
func (q *QueueIndex) Attach(queue string, conn *Connection, sub *Subscription) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[queue]
	if !ok {
		g = newListenerGroup()
		q.groups[queue] = g
	}
	delete(g.blocked, conn.ID)
	g.ready[conn.ID] = pair{Conn: conn, Sub: sub}
}

// blockAfterReplay moves conn's pair from ready to blocked once replay has
// filled its pending-ack set to capacity (spec §4.4).
func (q *QueueIndex) blockAfterReplay(queue string, connID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[queue]
	if !ok {
		return
	}
	p, ok := g.ready[connID]
	if !ok {
		return
	}
	delete(g.ready, connID)
	g.blocked[connID] = p
}

// Detach removes any pair keyed by conn's id from both ready and blocked of
// queue's listener group, dropping the group once both are empty. Removal
// is keyed purely by connection id (spec §9 Open Question 2): a connection
// can hold at most one subscription per queue, so this unambiguously
// identifies which pair to remove without comparing subscription identity.
func (q *QueueIndex) Detach(queue string, connID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[queue]
	if !ok {
		return
	}
	if g.lastSent != nil && g.lastSent.Conn.ID == connID {
		g.lastSent = nil
	}
	delete(g.ready, connID)
	delete(g.blocked, connID)
	if g.empty() {
		delete(q.groups, queue)
	}
}

// RemoveConnection detaches conn from every queue it's a member of. Used on
// connection teardown.
func (q *QueueIndex) RemoveConnection(conn *Connection) {
	q.mu.Lock()
	queues := make([]string, 0, len(q.groups))
	for name, g := range q.groups {
		if _, ok := g.ready[conn.ID]; ok {
			queues = append(queues, name)
			continue
		}
		if _, ok := g.blocked[conn.ID]; ok {
			queues = append(queues, name)
		}
	}
	q.mu.Unlock()

	for _, name := range queues {
		q.Detach(name, conn.ID)
	}
}

// HasGroup reports whether queue currently has a listener group at all.
// Dispatch persists a message when it does not, and also when the group has
// no round-robin cursor yet and an empty ready set (spec §4.3, §9 Open
// Question 3).
func (q *QueueIndex) HasGroup(queue string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.groups[queue]
	return ok
}

// selection describes the outcome of running the dispatch algorithm:
// either a pair to deliver to, or a signal to persist because no listener
// group exists at all.
type selection struct {
	Pair       pair
	ShouldSend bool
	Persist    bool
}

// Dispatch runs the round-robin dispatch algorithm of spec §4.3 against
// queue's listener group and, in the same critical section, commits the
// result: adds msgID to the selected subscription's pending-ack set,
// advances the round-robin cursor, and moves the pair to blocked if it just
// reached its prefetch limit (spec §4.3 step 3). Selection and commit are
// combined into one locked call so a concurrent Subscribe/Unsubscribe on
// the same queue can never observe or act on a half-selected dispatch —
// the single-threaded-event-loop atomicity spec §5 assumes, reproduced here
// with a mutex per spec §9 ("Concurrency upgrade").
func (q *QueueIndex) Dispatch(queue string, msgID string) selection {
	q.mu.Lock()
	defer q.mu.Unlock()

	sel := q.selectLocked(queue)
	if sel.ShouldSend {
		q.commitLocked(queue, sel, msgID)
	}
	return sel
}

func (q *QueueIndex) selectLocked(queue string) selection {
	g, ok := q.groups[queue]
	if !ok {
		return selection{Persist: true}
	}

	if g.lastSent == nil {
		p, ok := minOrdered(g.ready)
		if !ok {
			return selection{Persist: true}
		}
		return selection{Pair: p, ShouldSend: true}
	}

	c := *g.lastSent

	if len(g.ready) == 0 {
		unblockSweep(g)
	}

	if len(g.ready) == 0 {
		// Design quirk preserved from the source (spec §9 Open Question 3,
		// scenario 3): once the group has a cursor, a message is not
		// persisted even when every member is blocked; instead the cursor
		// re-selects its own last recipient (or, if that
		// recipient is no longer a member, the order-minimum of blocked).
		if _, stillThere := g.blocked[c.Conn.ID]; stillThere {
			return selection{Pair: c, ShouldSend: true}
		}
		if p, ok := minOrdered(g.blocked); ok {
			return selection{Pair: p, ShouldSend: true}
		}
		return selection{Persist: true}
	}

	if _, cursorReady := g.ready[c.Conn.ID]; !cursorReady {
		// Cursor no longer in ready (stale or blocked): spec §9 says to
		// fall back to min(ready) rather than compute a successor from an
		// invalid position.
		p, _ := minOrdered(g.ready)
		return selection{Pair: p, ShouldSend: true}
	}

	succ := successorOrdered(c, g.ready)
	if min, _ := minOrdered(g.ready); succ.Conn.ID == min.Conn.ID {
		// Cursor has wrapped through the entire ready set.
		unblockSweep(g)
		succ = successorOrdered(c, g.ready)
	}
	return selection{Pair: succ, ShouldSend: true}
}

// commitLocked records that msgID was sent to sel.Pair; caller holds q.mu.
func (q *QueueIndex) commitLocked(queue string, sel selection, msgID string) {
	g, ok := q.groups[queue]
	if !ok {
		return
	}

	sel.Pair.Sub.PendingAcks[msgID] = struct{}{}
	g.lastSent = &sel.Pair

	if sel.Pair.Sub.AtCapacity() {
		delete(g.ready, sel.Pair.Conn.ID)
		g.blocked[sel.Pair.Conn.ID] = sel.Pair
	}
}

// Ack removes msgID from the subscription's pending-ack set for (queue,
// connID) and runs an unblock-sweep, moving the pair back to ready if it
// drops below prefetch. This implements the ACK handling decided in
// SPEC_FULL.md (Open Question 1, option (b)).
func (q *QueueIndex) Ack(queue string, connID uint64, msgID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g, ok := q.groups[queue]
	if !ok {
		return
	}

	if p, ok := g.blocked[connID]; ok {
		delete(p.Sub.PendingAcks, msgID)
		unblockSweep(g)
		return
	}
	if p, ok := g.ready[connID]; ok {
		delete(p.Sub.PendingAcks, msgID)
	}
}

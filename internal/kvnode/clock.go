package kvnode

import "sync"

// Clock holds the Lamport scalar and the vector clock for a single node.
// Both advance under the same mutex so a tick or merge is observed
// atomically by any TraceSink emission that follows it.
//
// Grounded on the logical-clock discipline in
// original_source/Task1/program/peer_node.py (l_on_send/l_on_receive,
// v_on_send/v_on_receive) and on the LogicalClock.Tick/Tock/Leap shape
// used by pkg/mcast/protocol.go and pkg/mcast/core/peer.go.
type Clock struct {
	mu sync.Mutex

	self int // index into vector, id-1

	lamport uint64
	vector  []uint64
}

// NewClock creates a clock for node id (1-based) in a cluster of n nodes.
func NewClock(id, n int) *Clock {
	return &Clock{
		self:   id - 1,
		vector: make([]uint64, n),
	}
}

// Snapshot is an immutable copy of the clock state at emission time.
type Snapshot struct {
	Lamport uint64
	Vector  []uint64
}

// TickLocal advances the clock for a locally-initiated event and
// returns the resulting snapshot.
func (c *Clock) TickLocal() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lamport++
	c.vector[c.self]++
	return c.snapshotLocked()
}

// Merge advances the clock on receipt of a message carrying (lamport,
// vector) and returns the resulting snapshot. Per spec §4.1: L <- max(L,
// L') + 1; V[i] <- max(V[i], V'[i]) for all i; then V[self] += 1.
func (c *Clock) Merge(lamport uint64, vector []uint64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lamport > c.lamport {
		c.lamport = lamport
	}
	c.lamport++

	for i := range c.vector {
		if i < len(vector) && vector[i] > c.vector[i] {
			c.vector[i] = vector[i]
		}
	}
	c.vector[c.self]++

	return c.snapshotLocked()
}

// Current returns the present snapshot without advancing anything.
func (c *Clock) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Clock) snapshotLocked() Snapshot {
	v := make([]uint64, len(c.vector))
	copy(v, c.vector)
	return Snapshot{Lamport: c.lamport, Vector: v}
}

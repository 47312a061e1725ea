package kvnode

import "sync"

// GrantResult is the outcome of a lock request (spec §4.3).
type GrantResult int

const (
	Granted GrantResult = iota
	Queued
)

// MutexCoordinator exists on every node but is only meaningful while the
// node is leader: it serializes exclusive-access grants across the
// cluster via a FIFO wait queue. Grounded on
// original_source/Task2/program/kv.py's MutexCoordinator, with the
// single-mutex-guards-all-state discipline used throughout
// pkg/mcast/core/peer.go.
type MutexCoordinator struct {
	mu      sync.Mutex
	heldBy  int // 0 means none
	waiters []int
}

// NewMutexCoordinator creates an unheld coordinator.
func NewMutexCoordinator() *MutexCoordinator {
	return &MutexCoordinator{}
}

// Req requests the mutex on behalf of nid. Returns Granted if nid now
// holds it, Queued if nid was appended to the wait queue (duplicates are
// not appended again).
func (m *MutexCoordinator) Req(nid int) GrantResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heldBy == 0 {
		m.heldBy = nid
		return Granted
	}
	if m.heldBy == nid {
		return Granted
	}
	for _, w := range m.waiters {
		if w == nid {
			return Queued
		}
	}
	m.waiters = append(m.waiters, nid)
	return Queued
}

// Rel releases the mutex held by nid. It is a no-op if nid does not
// currently hold it. If waiters are queued, the head becomes the new
// holder and its id is returned -- the coordinator does not proactively
// notify that node; it learns of the grant on its next retry (spec
// §4.3).
func (m *MutexCoordinator) Rel(nid int) (next int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heldBy != nid {
		return 0, false
	}
	m.heldBy = 0
	if len(m.waiters) == 0 {
		return 0, false
	}
	next = m.waiters[0]
	m.waiters = m.waiters[1:]
	m.heldBy = next
	return next, true
}

// Reset clears all coordinator state. Used when a node stops being
// leader so stale grants from a previous leader epoch cannot leak into
// the next one it serves.
func (m *MutexCoordinator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heldBy = 0
	m.waiters = nil
}

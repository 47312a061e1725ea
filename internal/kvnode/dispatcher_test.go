package kvnode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnewland/gossipkv/internal/log"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := Config{ID: 1, Peers: testPeers(), NumNodes: len(testPeers())}
	clock := NewClock(1, cfg.NumNodes)
	store := NewStore()
	trace := NewTraceSink(1, "", log.New(false))
	gossip := NewGossip(1, cfg.Peers, log.New(false))
	mutex := NewMutexCoordinator()
	replicator := NewReplicator(cfg, log.New(false))
	return NewDispatcher(cfg, clock, store, trace, gossip, mutex, replicator, log.New(false))
}

// TestDispatcher_ReplPutMissingVectorRejected exercises spec §7(a):
// a malformed stream request must reply ERR, not be silently accepted
// with an under-merged (zero) vector.
func TestDispatcher_ReplPutMissingVectorRejected(t *testing.T) {
	d := newTestDispatcher(t)

	reply := d.dispatch("REPL_PUT", []string{"REPL_PUT", "color", "blue", "7"})
	require.Equal(t, "ERR", reply)
	require.Equal(t, NilValue, d.store.Get("color"), "rejected REPL_PUT must not apply")
}

func TestDispatcher_ReplPutWithVectorAccepted(t *testing.T) {
	d := newTestDispatcher(t)

	reply := d.dispatch("REPL_PUT", []string{"REPL_PUT", "color", "blue", "7", "[0,1,0]"})
	require.Equal(t, "OK", reply)
	require.Equal(t, "blue", d.store.Get("color"))
}

package kvnode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jnewland/gossipkv/internal/log"
)

func testPeers() []Peer {
	return []Peer{
		{ID: 1, Host: "127.0.0.1", StreamPort: 18001, DgramPort: 19001},
		{ID: 2, Host: "127.0.0.1", StreamPort: 18002, DgramPort: 19002},
		{ID: 3, Host: "127.0.0.1", StreamPort: 18003, DgramPort: 19003},
	}
}

func TestGossip_SelfIsAlwaysAlive(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	require.Equal(t, Alive, g.table[1].state)
}

func TestGossip_LeaderIsMaxAliveID(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.table[2].state = Alive
	g.table[3].state = Alive

	require.Equal(t, 3, g.Leader())
}

func TestGossip_LeaderIgnoresDeadAndSuspect(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.table[2].state = Suspect
	g.table[3].state = Dead

	require.Equal(t, 1, g.Leader())
}

func TestGossip_LeaderNoneWhenNobodyAlive(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.table[1].state = Dead
	require.Equal(t, 0, g.Leader())
}

func TestGossip_DeadIsSticky(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.applyDigest(digest{Type: "gossip", From: 2, Heartbeat: 1, Known: map[string]knownEntry{
		"3": {State: string(Dead), HB: 1},
	}})
	require.Equal(t, Dead, g.table[3].state)

	g.applyDigest(digest{Type: "gossip", From: 2, Heartbeat: 2, Known: map[string]knownEntry{
		"3": {State: string(Alive), HB: 2},
	}})
	require.Equal(t, Dead, g.table[3].state, "DEAD is sticky for the remainder of the process")
}

func TestGossip_TickAgesRecordsToSuspectThenDead(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.table[2].lastSeen = time.Now().Add(-3 * time.Second)
	g.table[3].lastSeen = time.Now().Add(-6 * time.Second)

	g.mu.Lock()
	g.ageLocked(time.Now())
	g.mu.Unlock()

	require.Equal(t, Suspect, g.table[2].state)
	require.Equal(t, Dead, g.table[3].state)
}

// TestGossip_DigestAddrIsTwoElementHostPortArray pins the wire shape of
// spec.md §6: "addr":[host,port], a string host and a numeric port --
// not a single combined "host:port" string.
func TestGossip_DigestAddrIsTwoElementHostPortArray(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))

	g.mu.Lock()
	d := g.buildDigestLocked()
	g.mu.Unlock()

	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.Contains(t, string(data), `"addr":["127.0.0.1",19001]`)

	var decoded digest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "127.0.0.1", decoded.Known["1"].Addr.Host)
	require.Equal(t, 19001, decoded.Known["1"].Addr.Port)
}

// TestGossip_ApplyDigestDecodesHostPortArray exercises the receive side
// against a literal datagram in the exact spec shape, the way a second
// implementation or conformance checker would send it.
func TestGossip_ApplyDigestDecodesHostPortArray(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))

	raw := []byte(`{"type":"gossip","from":2,"heartbeat":1,"known":{"3":{"state":"ALIVE","hb":1,"addr":["10.0.0.9",20003]}}}`)
	var d digest
	require.NoError(t, json.Unmarshal(raw, &d))
	g.applyDigest(d)

	require.Equal(t, "10.0.0.9:20003", g.table[3].addr)
}

func TestGossip_SelfNeverAgesOutEvenIfLastSeenIsStale(t *testing.T) {
	g := NewGossip(1, testPeers(), log.New(false))
	g.table[1].lastSeen = time.Now().Add(-time.Hour)

	g.mu.Lock()
	g.ageLocked(time.Now())
	g.mu.Unlock()

	require.Equal(t, Alive, g.table[1].state, "self is updated before ages are evaluated (spec §9(b))")
}

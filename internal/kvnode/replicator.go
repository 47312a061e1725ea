package kvnode

import (
	"fmt"
	"net"
	"time"

	"github.com/jnewland/gossipkv/internal/log"
)

const replDialTimeout = 400 * time.Millisecond

// Replicator fans a local PUT out to every other known peer over the
// stream endpoint, best-effort. Grounded on
// original_source/Task2/program/kv.py's _replicate_put and on the
// per-peer Unicast loop in pkg/mcast/core/peer.go's send().
type Replicator struct {
	config Config
	log    log.Logger
}

// NewReplicator creates a replicator bound to the node's static peer
// list.
func NewReplicator(config Config, logger log.Logger) *Replicator {
	return &Replicator{config: config, log: logger}
}

// Fanout sends REPL_PUT to every peer other than self, using the peer
// table snapshot at call time (spec §4.4: fan-out ordering). Peers
// currently considered DEAD by Gossip are still attempted -- that state
// is advisory only. Failures are logged and otherwise ignored; there is
// no retry (spec §7(c)).
func (r *Replicator) Fanout(key, value string, snap Snapshot) {
	payload := encodeReplPut(key, value, snap)
	for _, peer := range r.config.Others() {
		if err := sendLine(peer.streamAddr(), payload, replDialTimeout); err != nil {
			r.log.Debugf("replicator: failed sending to peer %d: %v", peer.ID, err)
		}
	}
}

func encodeReplPut(key, value string, snap Snapshot) string {
	vec := "["
	for i, v := range snap.Vector {
		if i > 0 {
			vec += ","
		}
		vec += fmt.Sprintf("%d", v)
	}
	vec += "]"
	return fmt.Sprintf("REPL_PUT %s %s %d %s", key, value, snap.Lamport, vec)
}

// sendLine opens a fresh connection, writes a single newline-terminated
// command, and discards the reply -- the fire-and-forget shape used by
// TraceSink.Emit and by the teacher's per-peer Unicast calls.
func sendLine(addr, line string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	_, err = conn.Write([]byte(line + "\n"))
	return err
}

package kvnode

import (
	"encoding/json"
	"net"
	"time"

	"github.com/jnewland/gossipkv/internal/log"
)

// Stage tags a node must emit (spec §6).
const (
	StageGet        = "GET"
	StageMutexReq   = "MUTEX_REQ"
	StageMutexGot   = "MUTEX_GOT"
	StageApplyLocal = "APPLY_LOCAL"
	StageReplSend   = "REPL_SEND"
	StageMutexRel   = "MUTEX_REL"
	StageReplRecv   = "REPL_RECV"
)

// traceEvent is the wire shape sent to the collector (spec §6).
type traceEvent struct {
	Node    int      `json:"node"`
	Stage   string   `json:"stage"`
	Op      string   `json:"op"`
	PhyTS   float64  `json:"phy_ts"`
	Lamport uint64   `json:"lamport"`
	Vector  []uint64 `json:"vector"`
}

// TraceSink emits one structured event per instrumented stage to the
// external collector. Failures are swallowed: instrumentation must
// never block or fail a user operation (spec §4.5, §7(d)).
//
// Grounded on the short-lived connect-marshal-send shape of
// pkg/mcast/core/transport.go's apply/Unicast, and on
// original_source/Task2/program/kv.py's Node._log, which opens a fresh
// TCP connection per event.
type TraceSink struct {
	nodeID        int
	collectorAddr string
	dialTimeout   time.Duration
	log           log.Logger
}

// NewTraceSink creates a sink that reports events as node nodeID to
// collectorAddr. An empty collectorAddr disables emission entirely
// (useful for tests that don't run a collector).
func NewTraceSink(nodeID int, collectorAddr string, logger log.Logger) *TraceSink {
	return &TraceSink{
		nodeID:        nodeID,
		collectorAddr: collectorAddr,
		dialTimeout:   300 * time.Millisecond,
		log:           logger,
	}
}

// Emit sends one trace event. It never returns an error to the caller:
// the caller's operation must proceed regardless of collector
// reachability.
func (t *TraceSink) Emit(stage, op string, snap Snapshot) {
	if t.collectorAddr == "" {
		return
	}

	ev := traceEvent{
		Node:    t.nodeID,
		Stage:   stage,
		Op:      op,
		PhyTS:   float64(time.Now().UnixNano()) / 1e9,
		Lamport: snap.Lamport,
		Vector:  snap.Vector,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.log.Errorf("trace: failed marshalling event %#v: %v", ev, err)
		return
	}

	conn, err := net.DialTimeout("tcp", t.collectorAddr, t.dialTimeout)
	if err != nil {
		t.log.Debugf("trace: collector unreachable: %v", err)
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(t.dialTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.log.Debugf("trace: failed sending event: %v", err)
	}
}

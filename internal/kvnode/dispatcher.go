package kvnode

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jnewland/gossipkv/internal/log"
)

const (
	lockRetryBackoff = 50 * time.Millisecond
	lockDialTimeout  = 500 * time.Millisecond
)

// Dispatcher is the stream-endpoint request handler. It interprets
// client and peer commands, drives clock transitions, and calls Store,
// Gossip, MutexCoordinator, TraceSink and Replicator in the order spec
// §4.4 requires. One request is handled per accepted connection, which
// is then closed.
//
// Grounded on pkg/mcast/protocol.go's Unity.process/processGMCast
// dispatch-by-command-type shape, and on
// original_source/Task2/program/kv.py's Node.handle_conn for the exact
// command set and reply strings.
type Dispatcher struct {
	id   int
	cfg  Config
	log  log.Logger

	clock      *Clock
	store      *Store
	trace      *TraceSink
	gossip     *Gossip
	mutex      *MutexCoordinator
	replicator *Replicator

	listener net.Listener
}

// NewDispatcher wires a dispatcher over the given components.
func NewDispatcher(cfg Config, clock *Clock, store *Store, trace *TraceSink, gossip *Gossip, mutex *MutexCoordinator, replicator *Replicator, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		id:         cfg.ID,
		cfg:        cfg,
		log:        logger,
		clock:      clock,
		store:      store,
		trace:      trace,
		gossip:     gossip,
		mutex:      mutex,
		replicator: replicator,
	}
}

// Serve binds the stream endpoint and accepts connections until Stop is
// called. It blocks; callers typically run it in its own goroutine.
func (d *Dispatcher) Serve() error {
	self, err := d.cfg.Self()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", self.StreamPort))
	if err != nil {
		return err
	}
	d.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed by Stop
		}
		go d.handleConn(conn)
	}
}

// Stop closes the stream listener, unblocking Serve.
func (d *Dispatcher) Stop() {
	if d.listener != nil {
		d.listener.Close()
	}
}

func (d *Dispatcher) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	fields := strings.Fields(line)
	cmd := strings.ToUpper(fields[0])

	reply := d.dispatch(cmd, fields)
	_, _ = conn.Write([]byte(reply + "\n"))
}

func (d *Dispatcher) dispatch(cmd string, fields []string) string {
	switch cmd {
	case "GET":
		if len(fields) != 2 {
			return "ERR"
		}
		return d.handleGet(fields[1])

	case "PUT":
		if len(fields) < 3 {
			return "ERR"
		}
		key := fields[1]
		value := strings.Join(fields[2:], " ")
		d.handlePut(key, value)
		return "OK"

	case "REPL_PUT":
		// cmd key value lamport vector: 5 tokens minimum (spec §6).
		if len(fields) < 5 {
			return "ERR"
		}
		return d.handleReplPut(fields[1:])

	case "LOCK_REQ":
		if len(fields) != 2 {
			return "ERR"
		}
		nid, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR"
		}
		if d.mutex.Req(nid) == Granted {
			return "GRANTED"
		}
		return "QUEUED"

	case "LOCK_REL":
		if len(fields) != 2 {
			return "ERR"
		}
		nid, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR"
		}
		d.mutex.Rel(nid)
		return "OK"

	default:
		return "ERR"
	}
}

func (d *Dispatcher) handleGet(key string) string {
	snap := d.clock.TickLocal()
	d.trace.Emit(StageGet, key, snap)
	return d.store.Get(key)
}

// handlePut implements the client-initiated PUT flow of spec §4.4:
// optional mutex acquisition, local apply, fan-out replication, then
// optional mutex release.
func (d *Dispatcher) handlePut(key, value string) {
	if d.cfg.MutexEnabled {
		snap := d.clock.TickLocal()
		d.trace.Emit(StageMutexReq, key, snap)
		d.acquireMutex()
		d.trace.Emit(StageMutexGot, key, d.clock.Current())
	}

	applySnap := d.clock.TickLocal()
	d.trace.Emit(StageApplyLocal, key+"="+value, applySnap)
	d.store.Put(key, value)

	sendSnap := d.clock.TickLocal()
	d.trace.Emit(StageReplSend, key+"="+value, sendSnap)
	d.replicator.Fanout(key, value, sendSnap)

	if d.cfg.MutexEnabled {
		relSnap := d.clock.TickLocal()
		d.releaseMutex()
		d.trace.Emit(StageMutexRel, key, relSnap)
	}
}

// handleReplPut implements the peer-initiated REPL_PUT flow: merge
// clocks, emit REPL_RECV, apply to the store. Replication is
// intentionally not re-fanned-out (spec §4.4).
func (d *Dispatcher) handleReplPut(fields []string) string {
	key := fields[0]
	value := fields[1]
	lamport, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return "ERR"
	}
	vector, err := parseVector(strings.Join(fields[3:], " "))
	if err != nil {
		return "ERR"
	}

	snap := d.clock.Merge(lamport, vector)
	d.trace.Emit(StageReplRecv, key+"="+value, snap)
	d.store.Put(key, value)
	return "OK"
}

// acquireMutex implements the non-leader client protocol of spec §4.3:
// resolve the current leader, request the mutex, and retry with
// backoff on anything other than GRANTED -- including transport
// errors and an as-yet-unknown leader. Retries are unbounded by
// design (spec §9: "do not invent a timeout that aborts the
// operation").
func (d *Dispatcher) acquireMutex() {
	for {
		leader := d.gossip.Leader()
		if leader == 0 {
			time.Sleep(lockRetryBackoff)
			continue
		}
		if leader == d.id {
			if d.mutex.Req(d.id) == Granted {
				return
			}
			time.Sleep(lockRetryBackoff)
			continue
		}

		addr := d.gossip.AddrOf(leader)
		if addr == "" {
			time.Sleep(lockRetryBackoff)
			continue
		}

		resp, err := sendRequest(addr, fmt.Sprintf("LOCK_REQ %d", d.id), lockDialTimeout)
		if err != nil {
			d.log.Debugf("mutex: lock request to leader %d failed: %v", leader, err)
			time.Sleep(lockRetryBackoff)
			continue
		}
		if resp == "GRANTED" {
			return
		}
		time.Sleep(lockRetryBackoff)
	}
}

// releaseMutex sends LOCK_REL to whoever is leader at the moment of
// release (spec §4.3). Failures are logged only; release is not
// retried.
func (d *Dispatcher) releaseMutex() {
	leader := d.gossip.Leader()
	if leader == d.id {
		d.mutex.Rel(d.id)
		return
	}
	if leader == 0 {
		return
	}

	addr := d.gossip.AddrOf(leader)
	if addr == "" {
		return
	}
	if _, err := sendRequest(addr, fmt.Sprintf("LOCK_REL %d", d.id), lockDialTimeout); err != nil {
		d.log.Debugf("mutex: lock release to leader %d failed: %v", leader, err)
	}
}

// sendRequest opens a fresh connection, writes a single
// newline-terminated command, and reads the single-line reply.
func sendRequest(addr, line string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", err
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func parseVector(s string) ([]uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing vector clock %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}

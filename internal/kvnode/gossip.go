package kvnode

import (
	"encoding/json"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/jnewland/gossipkv/internal/log"
)

// Membership state for a single known node (spec §3, §4.2).
type memberState string

const (
	Alive   memberState = "ALIVE"
	Suspect memberState = "SUSPECT"
	Dead    memberState = "DEAD"
)

const (
	gossipInterval   = 500 * time.Millisecond
	fanout           = 2
	suspectThreshold = 2 * time.Second
	deadThreshold    = 5 * time.Second
)

// record is one node's membership entry in the local table.
type record struct {
	state     memberState
	heartbeat uint64
	lastSeen  time.Time
	addr      string // dgram address, when known
}

// digest is the gossip datagram payload (spec §6).
type digest struct {
	Type      string                `json:"type"`
	From      int                   `json:"from"`
	Heartbeat uint64                `json:"heartbeat"`
	Known     map[string]knownEntry `json:"known"`
}

type knownEntry struct {
	State string    `json:"state"`
	HB    uint64    `json:"hb"`
	Addr  *wireAddr `json:"addr,omitempty"`
}

// wireAddr is the (host, port) pair as the spec's wire format pins it:
// a two-element JSON array of a string host and a numeric port, e.g.
// ["127.0.0.1",19001] -- not a single combined "host:port" string.
type wireAddr struct {
	Host string
	Port int
}

func (w wireAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{w.Host, w.Port})
}

func (w *wireAddr) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &w.Host); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &w.Port)
}

// Gossip maintains the per-peer membership table, runs the sender and
// receiver loops, and elects a leader. Grounded on
// original_source/Task2/program/kv.py's Gossip class for the
// heartbeat/suspicion/death thresholds and on
// mcastellin-golang-mastery/gossip/pkg/{gossiper,statemachine,receiver}.go
// for the split between a long-lived send/receive loop and a guarded
// in-memory table.
type Gossip struct {
	selfID int
	peers  map[int]Peer // by id, includes self

	mu    sync.Mutex
	table map[int]*record

	conn *net.UDPConn
	log  log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewGossip creates the membership component for selfID, bound to
// localAddr, aware of the full static peer list (including self).
func NewGossip(selfID int, peers []Peer, logger log.Logger) *Gossip {
	byID := make(map[int]Peer, len(peers))
	table := make(map[int]*record, len(peers))
	now := time.Now()
	for _, p := range peers {
		byID[p.ID] = p
		state := Alive
		if p.ID != selfID {
			state = Suspect
		}
		table[p.ID] = &record{state: state, lastSeen: now, addr: p.dgramAddr()}
	}

	return &Gossip{
		selfID: selfID,
		peers:  byID,
		table:  table,
		log:    logger,
		stop:   make(chan struct{}),
	}
}

// Start binds the datagram endpoint and launches the sender and
// receiver loops.
func (g *Gossip) Start() error {
	self := g.peers[g.selfID]
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: self.DgramPort})
	if err != nil {
		return err
	}
	g.conn = conn

	g.wg.Add(2)
	go g.receiveLoop()
	go g.sendLoop()
	return nil
}

// Stop halts both loops and closes the datagram socket.
func (g *Gossip) Stop() {
	close(g.stop)
	if g.conn != nil {
		g.conn.Close()
	}
	g.wg.Wait()
}

// Leader returns max(id) over currently ALIVE records, or 0 if none
// (spec §4.2). Callers must tolerate this value changing between
// successive calls.
func (g *Gossip) Leader() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	leader := 0
	for id, r := range g.table {
		if r.state == Alive && id > leader {
			leader = id
		}
	}
	return leader
}

// AddrOf returns the stream address for a known peer id, or "" if
// unknown.
func (g *Gossip) AddrOf(id int) string {
	if p, ok := g.peers[id]; ok {
		return p.streamAddr()
	}
	return ""
}

func (g *Gossip) sendLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

// tick updates self heartbeat/last-seen/state first (spec §9(b): this
// order keeps the self record from aging itself out), ages every other
// record, then sends the digest to a random fanout of peers.
func (g *Gossip) tick() {
	now := time.Now()

	g.mu.Lock()
	g.ageLocked(now)
	msg := g.buildDigestLocked()
	targets := g.pickTargetsLocked()
	g.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		g.log.Errorf("gossip: failed marshalling digest: %v", err)
		return
	}
	for _, addr := range targets {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			continue
		}
		_, _ = g.conn.WriteToUDP(data, udpAddr)
	}
}

// ageLocked updates self heartbeat/last-seen/state, then evaluates
// every other record's age against the suspicion and death thresholds.
// Caller must hold g.mu.
func (g *Gossip) ageLocked(now time.Time) {
	self := g.table[g.selfID]
	self.heartbeat++
	self.lastSeen = now
	self.state = Alive

	for id, r := range g.table {
		if id == g.selfID {
			continue
		}
		age := now.Sub(r.lastSeen)
		switch {
		case age > deadThreshold:
			r.state = Dead
		case age > suspectThreshold && r.state == Alive:
			r.state = Suspect
		}
	}
}

func (g *Gossip) buildDigestLocked() digest {
	known := make(map[string]knownEntry, len(g.table))
	for id, r := range g.table {
		entry := knownEntry{State: string(r.state), HB: r.heartbeat}
		if r.addr != "" {
			if host, portStr, err := net.SplitHostPort(r.addr); err == nil {
				if port := atoiOr(portStr, -1); port >= 0 {
					entry.Addr = &wireAddr{Host: host, Port: port}
				}
			}
		}
		known[itoa(id)] = entry
	}
	self := g.table[g.selfID]
	return digest{Type: "gossip", From: g.selfID, Heartbeat: self.heartbeat, Known: known}
}

func (g *Gossip) pickTargetsLocked() []string {
	candidates := make([]string, 0, len(g.table))
	for id, r := range g.table {
		if id != g.selfID && r.addr != "" {
			candidates = append(candidates, r.addr)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > fanout {
		candidates = candidates[:fanout]
	}
	return candidates
}

func (g *Gossip) receiveLoop() {
	defer g.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, _, err := g.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-g.stop:
				return
			default:
				continue
			}
		}

		var d digest
		if err := json.Unmarshal(buf[:n], &d); err != nil || d.Type != "gossip" {
			// malformed datagram: silently dropped (spec §7(b))
			continue
		}
		g.applyDigest(d)
	}
}

func (g *Gossip) applyDigest(d digest) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if d.From != g.selfID {
		sender := g.ensureLocked(d.From)
		sender.state = Alive
		if d.Heartbeat > sender.heartbeat {
			sender.heartbeat = d.Heartbeat
		}
		sender.lastSeen = now
	}

	for idStr, incoming := range d.Known {
		id := atoiOr(idStr, -1)
		if id < 0 || id == g.selfID {
			continue
		}
		r := g.ensureLocked(id)
		if incoming.HB > r.heartbeat {
			r.heartbeat = incoming.HB
		}
		switch memberState(incoming.State) {
		case Dead:
			r.state = Dead // DEAD is sticky
		case Alive:
			if r.state != Dead {
				r.state = Alive
			}
		}
		if incoming.Addr != nil && incoming.Addr.Host != "" {
			r.addr = net.JoinHostPort(incoming.Addr.Host, itoa(incoming.Addr.Port))
		}
	}
}

func (g *Gossip) ensureLocked(id int) *record {
	r, ok := g.table[id]
	if !ok {
		r = &record{state: Suspect, lastSeen: time.Now()}
		g.table[id] = r
	}
	return r
}

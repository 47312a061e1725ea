package kvnode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jnewland/gossipkv/internal/log"
)

// stdin is the source read by interactiveLoop; overridable in tests.
var stdin io.Reader = os.Stdin

const leaderWatchInterval = 250 * time.Millisecond

// Node wires every component together and owns the process-lifetime
// background loops (spec §2, §9: "one per gossip-send, one per
// gossip-receive, one per stream-accept, one per connection-handler").
//
// Grounded on pkg/mcast/protocol.go's NewUnity/Unity.run wiring -- a
// single owning struct that constructs every collaborator and starts
// its background loop(s) -- generalized to the node's own component
// set instead of Unity's peer/transport/state-machine trio.
type Node struct {
	cfg Config
	log log.Logger

	Clock      *Clock
	Store      *Store
	Trace      *TraceSink
	Gossip     *Gossip
	Mutex      *MutexCoordinator
	Replicator *Replicator
	Dispatcher *Dispatcher

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New constructs a node from its validated configuration.
func New(cfg Config, logger log.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	nodeLog := logger.With("node", cfg.ID)

	clock := NewClock(cfg.ID, cfg.NumNodes)
	store := NewStore()
	trace := NewTraceSink(cfg.ID, cfg.CollectorAddr, nodeLog.With("component", "trace"))
	gossip := NewGossip(cfg.ID, cfg.Peers, nodeLog.With("component", "gossip"))
	mutex := NewMutexCoordinator()
	replicator := NewReplicator(cfg, nodeLog.With("component", "replicator"))
	dispatcher := NewDispatcher(cfg, clock, store, trace, gossip, mutex, replicator, nodeLog.With("component", "dispatcher"))

	return &Node{
		cfg:        cfg,
		log:        nodeLog,
		Clock:      clock,
		Store:      store,
		Trace:      trace,
		Gossip:     gossip,
		Mutex:      mutex,
		Replicator: replicator,
		Dispatcher: dispatcher,
		stop:       make(chan struct{}),
	}, nil
}

// Serve starts every background loop: gossip send/receive, the stream
// accept loop, the leader-change watcher, and (if configured) the
// interactive stdin reader. It returns once the stream listener is
// bound; the loops keep running until Shutdown is called.
func (n *Node) Serve() error {
	if err := n.Gossip.Start(); err != nil {
		return fmt.Errorf("starting gossip: %w", err)
	}

	ready := make(chan error, 1)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ready <- nil
		if err := n.Dispatcher.Serve(); err != nil {
			n.log.Errorf("dispatcher stopped: %v", err)
		}
	}()
	<-ready

	n.wg.Add(1)
	go n.watchLeader()

	if n.cfg.Interactive {
		n.wg.Add(1)
		go n.interactiveLoop()
	}

	n.log.Infof("node %d serving, mutex_enabled=%v", n.cfg.ID, n.cfg.MutexEnabled)
	return nil
}

// streamPort returns this node's own TCP stream port, for tests that
// need to dial it directly.
func (n *Node) streamPort() int {
	self, _ := n.cfg.Self()
	return self.StreamPort
}

// Shutdown stops every background loop and releases the stream and
// datagram sockets.
func (n *Node) Shutdown() {
	n.stopOnce.Do(func() {
		close(n.stop)
		n.Dispatcher.Stop()
		n.Gossip.Stop()
		n.wg.Wait()
	})
}

// watchLeader destroys stale mutex state when this node stops being
// leader, per the lifecycle in spec §3: "Mutex grants are created on
// request and destroyed on release or leader change."
func (n *Node) watchLeader() {
	defer n.wg.Done()

	wasLeader := n.Gossip.Leader() == n.cfg.ID
	ticker := time.NewTicker(leaderWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			isLeader := n.Gossip.Leader() == n.cfg.ID
			if wasLeader && !isLeader {
				n.Mutex.Reset()
			}
			wasLeader = isLeader
		}
	}
}

// interactiveLoop supplements the stream endpoint with a local stdin
// command loop, matching original_source/Task2/program/kv.py's
// interactive_loop (GET/PUT typed directly at the node's own console,
// in addition to the stream protocol). Commands are routed through the
// same dispatch path a stream connection would use.
func (n *Node) interactiveLoop() {
	defer n.wg.Done()

	reader := bufio.NewReader(stdin)
	for {
		select {
		case <-n.stop:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		reply := n.Dispatcher.dispatch(strings.ToUpper(fields[0]), fields)
		n.log.Infof("interactive: %s -> %s", line, reply)
	}
}

// Command gossipkv-node runs a single cluster node: gossip membership,
// a leader-elected mutex, a replicated LWW key-value store, and
// Lamport+vector trace emission to an external collector.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jnewland/gossipkv/internal/kvnode"
	"github.com/jnewland/gossipkv/internal/log"
)

var (
	nodeID        int
	streamPort    int
	dgramPort     int
	peersFile     string
	collectorAddr string
	numNodes      int
	mutexEnabled  bool
	interactive   bool
	debug         bool
)

var rootCmd = &cobra.Command{
	Use:   "gossipkv-node",
	Short: "Run a gossipkv cluster node",
	Long: `gossipkv-node boots one peer of a fixed-membership distributed
key-value store. Nodes gossip liveness over UDP, elect a transient
leader to serialize PUTs through a distributed mutex, replicate writes
to every peer over TCP, and report causal ordering evidence to an
external trace collector.`,
	RunE: runNode,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&nodeID, "id", 0, "this node's id (1..numnodes)")
	flags.IntVar(&streamPort, "stream-port", 0, "override this node's TCP stream port from the peer file")
	flags.IntVar(&dgramPort, "dgram-port", 0, "override this node's UDP gossip port from the peer file")
	flags.StringVar(&peersFile, "peers", "", "path to the YAML peer-list file (includes self)")
	flags.StringVar(&collectorAddr, "collector", "", "host:port of the trace collector (empty disables tracing)")
	flags.IntVar(&numNodes, "numnodes", 0, "total number of nodes in the cluster")
	flags.BoolVar(&mutexEnabled, "mutex", true, "serialize PUTs through the leader-elected mutex")
	flags.BoolVar(&interactive, "interactive", false, "also read GET/PUT commands from stdin")
	flags.BoolVar(&debug, "debug", false, "enable debug-level logging")

	_ = rootCmd.MarkFlagRequired("id")
	_ = rootCmd.MarkFlagRequired("peers")
	_ = rootCmd.MarkFlagRequired("numnodes")
}

func runNode(cmd *cobra.Command, args []string) error {
	peers, err := kvnode.LoadPeers(peersFile)
	if err != nil {
		return err
	}
	for i := range peers {
		if peers[i].ID != nodeID {
			continue
		}
		if streamPort != 0 {
			peers[i].StreamPort = streamPort
		}
		if dgramPort != 0 {
			peers[i].DgramPort = dgramPort
		}
	}

	cfg := kvnode.Config{
		ID:            nodeID,
		Peers:         peers,
		CollectorAddr: collectorAddr,
		NumNodes:      numNodes,
		MutexEnabled:  mutexEnabled,
		Interactive:   interactive,
		Debug:         debug,
	}

	logger := log.New(debug)

	node, err := kvnode.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	if err := node.Serve(); err != nil {
		return fmt.Errorf("serving node: %w", err)
	}

	waitForSignal()
	node.Shutdown()
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

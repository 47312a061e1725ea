package kvnode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Peer is a static peer descriptor (spec §3). Self is always included.
type Peer struct {
	ID         int    `yaml:"id"`
	Host       string `yaml:"host"`
	StreamPort int    `yaml:"stream_port"`
	DgramPort  int    `yaml:"dgram_port"`
}

func (p Peer) streamAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.StreamPort)
}

func (p Peer) dgramAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.DgramPort)
}

// peerFile is the on-disk shape of the YAML peer-list config (spec §6
// "Process configuration"), loaded once at startup -- dynamic membership
// is a spec non-goal, so there is no reload path.
type peerFile struct {
	Peers []Peer `yaml:"peers"`
}

// LoadPeers reads the static peer list from a YAML file.
func LoadPeers(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading peer file %s: %w", path, err)
	}

	var pf peerFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing peer file %s: %w", path, err)
	}
	if len(pf.Peers) == 0 {
		return nil, fmt.Errorf("peer file %s declares no peers", path)
	}
	return pf.Peers, nil
}

// Config is a node's full startup configuration (spec §6).
type Config struct {
	ID            int
	Peers         []Peer // includes self
	CollectorAddr string
	NumNodes      int
	MutexEnabled  bool
	Interactive   bool
	Debug         bool
}

// Self returns the caller's own peer descriptor.
func (c Config) Self() (Peer, error) {
	for _, p := range c.Peers {
		if p.ID == c.ID {
			return p, nil
		}
	}
	return Peer{}, fmt.Errorf("node id %d not present in peer list", c.ID)
}

// Others returns every peer other than self.
func (c Config) Others() []Peer {
	out := make([]Peer, 0, len(c.Peers)-1)
	for _, p := range c.Peers {
		if p.ID != c.ID {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the minimal shape required to boot a node.
func (c Config) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("node id must be positive, got %d", c.ID)
	}
	if c.NumNodes <= 0 {
		return fmt.Errorf("numnodes must be positive, got %d", c.NumNodes)
	}
	if _, err := c.Self(); err != nil {
		return err
	}
	return nil
}

// Package peernet is the party-to-party transport used by engine sessions:
// one authenticated TCP connection per peer, established per session, with
// every frame sealed by a nacl/box key shared between the two parties'
// static keys.
package peernet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parties is the fixed size of the network.
const Parties = 3

// PartyConfig describes one party in the topology file.
type PartyConfig struct {
	Index     int    `yaml:"index"`
	PeerAddr  string `yaml:"peer_addr"`
	PublicKey string `yaml:"public_key"`
}

// Topology lists every party's peer address and static public key.
type Topology struct {
	Parties []PartyConfig `yaml:"parties"`
}

// LoadTopology reads and validates a YAML topology file.
func LoadTopology(path string) (Topology, error) {
	file, err := os.Open(path)
	if err != nil {
		return Topology{}, fmt.Errorf("open topology: %w", err)
	}
	defer file.Close()

	var topology Topology
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&topology); err != nil {
		return Topology{}, fmt.Errorf("decode topology: %w", err)
	}
	if err := topology.Validate(); err != nil {
		return Topology{}, err
	}
	return topology, nil
}

// Validate checks that the topology names each party exactly once with an
// address and a 32-byte hex public key.
func (t Topology) Validate() error {
	if len(t.Parties) != Parties {
		return fmt.Errorf("topology must list %d parties, got %d", Parties, len(t.Parties))
	}
	seen := make(map[int]bool, Parties)
	for _, party := range t.Parties {
		if party.Index < 0 || party.Index >= Parties {
			return fmt.Errorf("party index %d out of range", party.Index)
		}
		if seen[party.Index] {
			return fmt.Errorf("party index %d listed twice", party.Index)
		}
		seen[party.Index] = true
		if strings.TrimSpace(party.PeerAddr) == "" {
			return fmt.Errorf("party %d: peer_addr is required", party.Index)
		}
		if _, err := decodeKey(party.PublicKey); err != nil {
			return fmt.Errorf("party %d: %w", party.Index, err)
		}
	}
	return nil
}

// WithPeerAddrs returns a copy of t with addresses replaced by addrs, ordered
// by party index. An empty list leaves t unchanged.
func (t Topology) WithPeerAddrs(addrs []string) (Topology, error) {
	if len(addrs) == 0 {
		return t, nil
	}
	if len(addrs) != Parties {
		return Topology{}, fmt.Errorf("peer address override must list %d addresses, got %d", Parties, len(addrs))
	}
	out := Topology{Parties: make([]PartyConfig, len(t.Parties))}
	copy(out.Parties, t.Parties)
	for i := range out.Parties {
		index := out.Parties[i].Index
		if index >= 0 && index < Parties {
			out.Parties[i].PeerAddr = addrs[index]
		}
	}
	return out, nil
}

// Party returns the entry for index.
func (t Topology) Party(index int) (PartyConfig, bool) {
	for _, party := range t.Parties {
		if party.Index == index {
			return party, true
		}
	}
	return PartyConfig{}, false
}

func (t Topology) publicKey(index int) ([32]byte, error) {
	party, ok := t.Party(index)
	if !ok {
		return [32]byte{}, fmt.Errorf("party %d not in topology", index)
	}
	return decodeKey(party.PublicKey)
}

func decodeKey(value string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return key, fmt.Errorf("public_key: %w", err)
	}
	if len(raw) != len(key) {
		return key, errors.New("public_key must be 32 bytes")
	}
	copy(key[:], raw)
	return key, nil
}

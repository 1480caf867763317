// Package peer maintains the peer related information such as the set
// of known peers and their status.
package peer

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Peer represents information about a node in the network.
type Peer struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	LastSeen     time.Time `json:"lastSeen"`
	IsConnected  bool      `json:"isConnected"`
	Latency      float64   `json:"latency"`
	TrustScore   float64   `json:"trustScore"`
	Version      string    `json:"version"`
	Capabilities []string  `json:"capabilities"`
}

// HasCapability reports whether the peer advertises the capability.
func (p Peer) HasCapability(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

// =============================================================================

// Set represents the data representation to maintain a set of known peers
// keyed by peer id.
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewSet constructs a new set to manage node peer information.
func NewSet() *Set {
	return &Set{
		set: make(map[string]Peer),
	}
}

// Add adds a new peer to the set. It returns false if a peer with the same
// id is already known.
func (s *Set) Add(p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.set[p.ID]; exists {
		return false
	}

	p.Capabilities = slices.Clone(p.Capabilities)
	s.set[p.ID] = p
	return true
}

// Remove removes a peer from the set.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.set, id)
}

// Get returns the peer for the specified id.
func (s *Set) Get(id string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.set[id]
	if !exists {
		return Peer{}, false
	}

	p.Capabilities = slices.Clone(p.Capabilities)
	return p, true
}

// Update applies fn to the stored peer. It returns false if the peer is
// unknown.
func (s *Set) Update(id string, fn func(p *Peer)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.set[id]
	if !exists {
		return false
	}

	fn(&p)
	p.ID = id
	s.set[id] = p

	return true
}

// UpdateAll applies fn to every stored peer.
func (s *Set) UpdateAll(fn func(p *Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.set {
		fn(&p)
		p.ID = id
		s.set[id] = p
	}
}

// Copy returns a list of the known peers ordered by id.
func (s *Set) Copy() []Peer {
	return s.filter(func(Peer) bool { return true })
}

// Connected returns a list of the connected peers ordered by id.
func (s *Set) Connected() []Peer {
	return s.filter(func(p Peer) bool { return p.IsConnected })
}

// Count returns the number of known peers.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.set)
}

// ConnectedCount returns the number of connected peers.
func (s *Set) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, p := range s.set {
		if p.IsConnected {
			n++
		}
	}

	return n
}

func (s *Set) filter(keep func(Peer) bool) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]Peer, 0, len(s.set))
	for _, p := range s.set {
		if keep(p) {
			p.Capabilities = slices.Clone(p.Capabilities)
			peers = append(peers, p)
		}
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	return peers
}

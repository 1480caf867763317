package state

import (
	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/btn-network/blockchain/foundation/blockchain/registry"
)

// Stats is the combined view of the node.
type Stats struct {
	NodeID      string                   `json:"nodeId"`
	ChainLength int                      `json:"chainLength"`
	ChainValid  bool                     `json:"chainValid"`
	Mining      mining.Stats             `json:"mining"`
	Network     network.Stats            `json:"network"`
	Consensus   consensus.NetworkMetrics `json:"consensus"`
	Ledger      ledger.Stats             `json:"ledger"`
}

// Stats returns the combined view of the node.
func (s *State) Stats() Stats {
	return Stats{
		NodeID:      s.network.NodeID(),
		ChainLength: s.ledger.ChainLength(),
		ChainValid:  s.ledger.IsChainValid(),
		Mining:      s.mining.Stats(),
		Network:     s.network.Stats(),
		Consensus:   s.consensus.NetworkMetrics(),
		Ledger:      s.ledger.Stats(),
	}
}

// NodeID returns the id of this node on the network.
func (s *State) NodeID() string {
	return s.network.NodeID()
}

// MiningStats returns the mining figures.
func (s *State) MiningStats() mining.Stats {
	return s.mining.Stats()
}

// NetworkStats returns the gossip figures.
func (s *State) NetworkStats() network.Stats {
	return s.network.Stats()
}

// NetworkMetrics returns the figures consensus keeps about the network.
func (s *State) NetworkMetrics() consensus.NetworkMetrics {
	return s.consensus.NetworkMetrics()
}

// LedgerStats returns the size of every persisted collection.
func (s *State) LedgerStats() ledger.Stats {
	return s.ledger.Stats()
}

// =============================================================================

// RecentBlocks returns up to n blocks, newest first.
func (s *State) RecentBlocks(n int) []ledger.Block {
	return s.ledger.RecentBlocks(n)
}

// ChainLength returns the number of blocks including genesis.
func (s *State) ChainLength() int {
	return s.ledger.ChainLength()
}

// IsChainValid reports whether every block is correctly hashed and linked.
func (s *State) IsChainValid() bool {
	return s.ledger.IsChainValid()
}

// Balance returns the balance of the address.
func (s *State) Balance(address string) float64 {
	return s.ledger.Balance(address)
}

// Balances returns a copy of the balance table.
func (s *State) Balances() map[string]float64 {
	return s.ledger.Balances()
}

// TransactionsFor returns the mined transactions involving the address.
func (s *State) TransactionsFor(address string) []ledger.Transaction {
	return s.ledger.TransactionsFor(address)
}

// Pending returns the transactions waiting to be mined.
func (s *State) Pending() []ledger.Transaction {
	return s.ledger.Pending()
}

// =============================================================================

// Insights returns what consensus has learned so far.
func (s *State) Insights() consensus.Insights {
	return s.consensus.Insights()
}

// ConsensusHistory returns the latest block decisions, oldest first.
func (s *State) ConsensusHistory(limit int) []consensus.Decision {
	return s.consensus.History(limit)
}

// PredictUserBehavior returns the actions the user is most likely to take.
func (s *State) PredictUserBehavior(userID string) []string {
	return s.consensus.PredictUserBehavior(userID)
}

// UserProfile returns the behavioral profile of the user.
func (s *State) UserProfile(userID string) (consensus.Profile, bool) {
	return s.consensus.Profile(userID)
}

// =============================================================================

// Peers returns every known peer.
func (s *State) Peers() []peer.Peer {
	return s.network.Peers()
}

// ConnectedPeers returns the peers with an open connection.
func (s *State) ConnectedPeers() []peer.Peer {
	return s.network.ConnectedPeers()
}

// Topology returns the shape of the network as seen from this node.
func (s *State) Topology() network.Topology {
	return s.network.Topology()
}

// Inbox returns the messages delivered to a native peer.
func (s *State) Inbox(peerID string) []network.Message {
	return s.inbox.Messages(peerID)
}

// =============================================================================

// Contract returns a deployed contract.
func (s *State) Contract(id string) (registry.Contract, error) {
	return s.registry.Contract(id)
}

// Collections returns every NFT collection.
func (s *State) Collections() []registry.Collection {
	return s.registry.Collections()
}

// NFTsByOwner returns the tokens held by the owner.
func (s *State) NFTsByOwner(owner string) []registry.NFT {
	return s.registry.NFTsByOwner(owner)
}

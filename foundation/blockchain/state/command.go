package state

import (
	"context"
	"fmt"

	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/btn-network/blockchain/foundation/blockchain/registry"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/gorilla/websocket"
)

// ActionResult describes the outcome of a user action.
type ActionResult struct {
	Validation  consensus.ActionValidation `json:"validation"`
	Transaction ledger.Transaction         `json:"transaction"`
	Multiplier  float64                    `json:"multiplier"`
}

// analyticsRecord is the entry kept in the analytics table for every
// accepted action.
type analyticsRecord struct {
	UserID     string  `json:"userId"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reward     float64 `json:"reward"`
	Timestamp  int64   `json:"timestamp"`
}

// =============================================================================

// StartMining moves the mining engine to Active.
func (s *State) StartMining() {
	s.mining.Start(s.now())
}

// StopMining moves the mining engine back to Idle.
func (s *State) StopMining() {
	s.mining.Stop()
}

// SetPerformance replaces the device signals driving the mining intensity.
func (s *State) SetPerformance(perf mining.Performance) {
	s.mining.SetPerformance(perf)
}

// SetHidden records whether the page hosting the miner is hidden.
func (s *State) SetHidden(hidden bool) {
	s.mining.SetHidden(hidden)
}

// JoinPool joins the mining pool.
func (s *State) JoinPool(poolID string) {
	s.mining.JoinPool(poolID)
}

// LeavePool leaves the current mining pool.
func (s *State) LeavePool() {
	s.mining.LeavePool()
}

// SubmitAction validates the user action with consensus. A genuine action
// pays the action reward to the miner, a rejected one returns
// ErrActionRejected along with the validation.
func (s *State) SubmitAction(userID string, action string) (ActionResult, error) {
	v := s.consensus.ValidateUserAction(userID, action)
	res := ActionResult{
		Validation: v,
		Multiplier: mining.ActionMultiplier(action),
	}

	if !v.IsGenuine {
		err := fmt.Errorf("user[%s] action[%s]: confidence %.2f: %w", userID, action, v.Confidence, ErrActionRejected)
		s.miningMetrics.ObserveAction(action, err)
		return res, err
	}

	now := s.now()
	tx, err := s.mining.ProcessUserAction(action, now)
	s.miningMetrics.ObserveAction(action, err)
	if err != nil {
		return res, err
	}
	res.Transaction = tx

	rec := analyticsRecord{
		UserID:     userID,
		Action:     action,
		Confidence: v.Confidence,
		Reward:     v.RecommendedReward,
		Timestamp:  now.UnixMilli(),
	}
	if err := s.ledger.SetRecord(ledger.TableAnalytics, tx.ID, rec); err != nil {
		s.evHandler("state: SubmitAction: WARNING: analytics: %s", err)
	}

	s.evHandler("viewer: action: user[%s]: %s: reward[%g]", userID, action, tx.Amount)

	return res, nil
}

// Transfer adds the transaction to the pending pool and shares it with the
// network. A missing id or timestamp is filled in.
func (s *State) Transfer(tx ledger.Transaction) (ledger.Transaction, error) {
	now := s.now()
	if tx.Timestamp == 0 {
		tx.Timestamp = now.UnixMilli()
	}
	if tx.ID == "" {
		tx.ID = fmt.Sprintf("tx_%d_%s", tx.Timestamp, ledger.Hash(tx.From + tx.To + fmt.Sprint(tx.Amount, tx.Timestamp))[:12])
	}

	if err := validate.Check(tx); err != nil {
		return ledger.Transaction{}, err
	}

	if err := s.ledger.AddTransaction(tx); err != nil {
		return ledger.Transaction{}, err
	}

	if err := s.network.BroadcastTransaction(tx); err != nil {
		s.evHandler("state: Transfer: WARNING: broadcast %s: %s", tx.ID, err)
	}

	return tx, nil
}

// HandleMessage checks the frame of an inbound message and passes it to the
// network.
func (s *State) HandleMessage(msg network.Message) error {
	if err := validate.Check(msg); err != nil {
		return err
	}

	s.network.HandleIncomingMessage(msg)
	return nil
}

// ConnectPeer opens a connection to the peer address.
func (s *State) ConnectPeer(ctx context.Context, address string) (peer.Peer, error) {
	return s.network.ConnectPeer(ctx, address)
}

// AcceptPeer registers a peer that dialed this node over a websocket.
func (s *State) AcceptPeer(address string, conn *websocket.Conn) (peer.Peer, error) {
	return s.network.AcceptPeer(address, conn)
}

// ConnectNetwork reconnects the node to the native network.
func (s *State) ConnectNetwork() {
	s.network.Connect(s.now())
}

// OptimizeTopology prunes the peer set down to the best peers.
func (s *State) OptimizeTopology() {
	s.network.OptimizeTopology()
}

// =============================================================================

// DeployContract records a new contract.
func (s *State) DeployContract(spec registry.ContractSpec) (string, error) {
	return s.registry.DeployContract(spec)
}

// CallContract records a call to a deployed contract.
func (s *State) CallContract(call registry.Call) (registry.CallResult, error) {
	return s.registry.CallContract(call)
}

// CreateCollection records a new NFT collection.
func (s *State) CreateCollection(spec registry.CollectionSpec) (string, error) {
	return s.registry.CreateCollection(spec)
}

// MintNFT mints a token into an existing collection.
func (s *State) MintNFT(spec registry.NFTSpec) (string, error) {
	return s.registry.MintNFT(spec)
}

// TransferNFT moves a token between owners.
func (s *State) TransferNFT(nftID string, from string, to string) error {
	return s.registry.TransferNFT(nftID, from, to)
}

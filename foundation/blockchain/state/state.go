// Package state is the core API for the node. It wires the ledger, the
// mining engine, the gossip network, the consensus engine and the registry
// together and drives them from a single clock.
package state

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/registry"
	"github.com/btn-network/blockchain/foundation/blockchain/storage"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/memory"
	"github.com/btn-network/blockchain/foundation/metrics"
)

// ErrActionRejected is returned when consensus judges a user action as not
// genuine. No reward is paid.
var ErrActionRejected = errors.New("action rejected")

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing the clock and the inbound message processing.
type Worker interface {
	Shutdown()
	SignalMessage(msg network.Message)
}

// =============================================================================

// Config represents the configuration required to start the node.
type Config struct {
	Store          storage.Store
	Miner          string
	Difficulty     int
	MiningReward   float64
	Performance    mining.Performance
	Searcher       mining.Searcher
	Monitor        func() (float64, error)
	NodeID         string
	MaxConnections int
	Quorum         consensus.Quorum
	Now            func() time.Time
	Rand           *rand.Rand
	EvHandler      EventHandler
}

// State manages the components of the node.
type State struct {
	store     storage.Store
	now       func() time.Time
	evHandler EventHandler

	ledger    *ledger.Ledger
	consensus *consensus.Engine
	mining    *mining.Engine
	network   *network.Node
	inbox     *network.Inbox
	registry  *registry.Registry

	miningMetrics metrics.Mining
	gossipMetrics metrics.Gossip

	Worker Worker
}

// New constructs the node, restores what the store holds and connects the
// node to the native network.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Store == nil {
		cfg.Store = memory.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	// Every component gets its own source so their draws don't interleave.
	fork := func() *rand.Rand {
		return rand.New(rand.NewPCG(cfg.Rand.Uint64(), cfg.Rand.Uint64()))
	}

	ldgr := ledger.New(ledger.Config{
		Store:        cfg.Store,
		Difficulty:   cfg.Difficulty,
		MiningReward: cfg.MiningReward,
		Now:          cfg.Now,
		EvHandler:    ev,
	})

	// Consensus needs the hash rate of the mining engine, and the mining
	// engine is built after it, so the hash rate is read through the state.
	s := State{
		store:     cfg.Store,
		now:       cfg.Now,
		evHandler: ev,
		ledger:    ldgr,
	}

	quorum := cfg.Quorum
	if quorum == nil {
		quorum = consensus.NewRandomQuorum(fork(), consensus.DefaultAgreement)
	}

	s.consensus = consensus.New(consensus.Config{
		HashRater: hashRater{&s},
		Quorum:    quorum,
		Recorder:  ldgr,
		Now:       cfg.Now,
		Rand:      fork(),
		EvHandler: ev,
	})

	restored := s.consensus.Restore(ldgr.Records(ledger.TableProfiles))
	ev("state: New: restored %d user profiles", restored)

	mng, err := mining.New(mining.Config{
		Ledger:      ldgr,
		Miner:       cfg.Miner,
		Searcher:    cfg.Searcher,
		Performance: cfg.Performance,
		Difficulty:  ldgr.Difficulty(),
		Rand:        fork(),
		EvHandler:   ev,
		Monitor:     cfg.Monitor,
	})
	if err != nil {
		return nil, fmt.Errorf("mining: %w", err)
	}
	s.mining = mng

	s.inbox = network.NewInbox(ldgr)
	ws := network.NewWebSocket(ev)

	node, err := network.New(network.Config{
		NodeID:         cfg.NodeID,
		MaxConnections: cfg.MaxConnections,
		Ledger:         ldgr,
		Validator:      s.consensus,
		HashRater:      mng,
		Transports: map[string]network.Transport{
			"native": s.inbox,
			"ws":     ws,
			"wss":    ws,
		},
		Now:       cfg.Now,
		Rand:      fork(),
		EvHandler: ev,
	})
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	s.network = node

	reg, err := registry.New(registry.Config{
		Ledger:    ldgr,
		Now:       cfg.Now,
		Rand:      fork(),
		EvHandler: ev,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	s.registry = reg

	s.network.Connect(cfg.Now())

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop the worker first so nothing ticks the components during shutdown.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.mining.Stop()
	s.network.Disconnect()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	return nil
}

// Tick drives every component with the clock. A block mined during the tick
// is broadcast to the network before the network runs its own tasks.
func (s *State) Tick(ctx context.Context, now time.Time) {
	if b, mined := s.mining.Tick(ctx, now); mined {
		s.miningMetrics.ObserveBlock(b.Miner)
		s.evHandler("viewer: block: %d: mined by %s: hash[%s]", b.Index, b.Miner, b.Hash)

		if err := s.network.BroadcastBlock(b); err != nil {
			s.evHandler("state: Tick: WARNING: broadcast block %d: %s", b.Index, err)
		}
	}

	s.network.Tick(now)
	s.consensus.Tick(now)

	st := s.mining.Stats()
	s.miningMetrics.Set(st.HashRate, st.TargetHashRate, st.Difficulty, st.WorkerHashRate)

	ns := s.network.Stats()
	s.gossipMetrics.SetPeers(ns.TotalPeers, ns.ConnectedPeers)
}

// =============================================================================

// hashRater defers to the mining engine once it exists.
type hashRater struct {
	s *State
}

func (h hashRater) HashRate() float64 {
	if h.s.mining == nil {
		return 0
	}
	return h.s.mining.HashRate()
}

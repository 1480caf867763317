// Package ledger maintains the chain of blocks, the balance table derived
// from it and the pool of pending transactions. The whole ledger, including
// the native tables other components keep in it, is persisted as a single
// blob through a storage.Store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/mempool"
	"github.com/btn-network/blockchain/foundation/blockchain/storage"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/memory"
)

// Set of defaults used when the configuration leaves a value empty.
const (
	DefaultDifficulty   = 2
	DefaultMiningReward = 0.1
)

// ErrInvalidAmount is returned when a transaction carries a negative or
// non-finite amount.
var ErrInvalidAmount = errors.New("amount must be a non-negative number")

// Config represents the configuration required to construct a ledger.
type Config struct {
	Store        storage.Store
	Difficulty   int
	MiningReward float64
	Now          func() time.Time
	EvHandler    func(v string, args ...any)
}

// Ledger manages the blockchain and the balances of every address.
type Ledger struct {
	mu           sync.RWMutex
	store        storage.Store
	difficulty   int
	miningReward float64
	now          func() time.Time
	evHandler    func(v string, args ...any)

	chain    []Block
	balances map[string]float64
	settled  []Transaction
	pending  *mempool.Mempool[Transaction]
	tables   map[Table]map[string]json.RawMessage
	messages map[string][]json.RawMessage
}

// New constructs a ledger and restores any state found in the store. A
// missing or corrupt state is not an error: the ledger starts over from a
// fresh genesis block.
func New(cfg Config) *Ledger {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Store == nil {
		cfg.Store = memory.New()
	}
	if cfg.Difficulty <= 0 {
		cfg.Difficulty = DefaultDifficulty
	}
	if cfg.MiningReward <= 0 {
		cfg.MiningReward = DefaultMiningReward
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := Ledger{
		store:        cfg.Store,
		difficulty:   cfg.Difficulty,
		miningReward: cfg.MiningReward,
		now:          cfg.Now,
		evHandler:    ev,
		balances:     make(map[string]float64),
		pending:      mempool.New(txKey),
		tables:       newTables(),
		messages:     make(map[string][]json.RawMessage),
	}

	l.load()

	return &l
}

// Difficulty returns the number of leading zeros a block hash must have.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// MiningReward returns the amount credited to the miner of each block.
func (l *Ledger) MiningReward() float64 {
	return l.miningReward
}

// =============================================================================

// AddBlock snapshots the pending pool, mines a new block chained to the
// current head and appends it. The miner is credited with the mining reward
// and then every pending transaction is settled against the balances. A
// transaction whose sender can't cover the amount stays inside the mined
// block but has no effect on the balances. The pending pool is always cleared.
func (l *Ledger) AddBlock(ctx context.Context, miner string) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := l.pending.Copy()
	prev := l.chain[len(l.chain)-1]

	candidate := Block{
		Index:        prev.Index + 1,
		Timestamp:    l.now().UnixMilli(),
		Transactions: pending,
		PreviousHash: prev.Hash,
		Reward:       l.miningReward,
		Miner:        miner,
	}

	block, err := MineBlock(ctx, candidate, l.difficulty, l.evHandler)
	if err != nil {
		return Block{}, fmt.Errorf("mining block %d: %w", candidate.Index, err)
	}

	l.chain = append(l.chain, block)
	l.balances[miner] += l.miningReward

	for _, tx := range pending {
		if l.balances[tx.From] < tx.Amount {
			l.evHandler("ledger: AddBlock: tx[%s]: insufficient balance: has[%g]", tx, l.balances[tx.From])
			continue
		}

		l.balances[tx.From] -= tx.Amount
		l.balances[tx.To] += tx.Amount
		l.settled = append(l.settled, tx)
	}

	l.pending.Truncate()
	l.save()

	l.evHandler("ledger: AddBlock: blk[%d]: hash[%s]: txs[%d]: miner[%s]", block.Index, block.Hash, len(block.Transactions), miner)

	return block, nil
}

// AddTransaction appends the transaction to the pending pool. No balance
// check happens here; that is deferred until the transaction is mined.
func (l *Ledger) AddTransaction(tx Transaction) error {
	if err := checkAmount(tx.Amount); err != nil {
		return fmt.Errorf("tx %s: %w", tx.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending.Upsert(tx)
	l.save()

	return nil
}

// Credit applies the transaction directly as a credit to the receiver,
// bypassing the pending pool and the sender balance check. It is used for
// rewards minted by the network.
func (l *Ledger) Credit(tx Transaction) error {
	if err := checkAmount(tx.Amount); err != nil {
		return fmt.Errorf("tx %s: %w", tx.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[tx.To] += tx.Amount
	l.settled = append(l.settled, tx)
	l.save()

	return nil
}

// =============================================================================

// Balance returns the current balance for the address.
func (l *Ledger) Balance(address string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[address]
}

// Balances returns a copy of the balance table.
func (l *Ledger) Balances() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := make(map[string]float64, len(l.balances))
	for addr, amount := range l.balances {
		cp[addr] = amount
	}

	return cp
}

// ChainLength returns the number of blocks including genesis.
func (l *Ledger) ChainLength() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.chain)
}

// LatestBlock returns the head of the chain.
func (l *Ledger) LatestBlock() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.chain[len(l.chain)-1]
}

// Chain returns a copy of the full chain.
func (l *Ledger) Chain() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chain := make([]Block, len(l.chain))
	copy(chain, l.chain)

	return chain
}

// RecentBlocks returns up to n blocks, most recent first.
func (l *Ledger) RecentBlocks(n int) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n = min(max(n, 0), len(l.chain))

	blocks := make([]Block, 0, n)
	for i := len(l.chain) - 1; i >= len(l.chain)-n; i-- {
		blocks = append(blocks, l.chain[i])
	}

	return blocks
}

// Pending returns the transactions waiting to be mined.
func (l *Ledger) Pending() []Transaction {
	return l.pending.Copy()
}

// TransactionsFor returns every settled transaction the address took part in.
func (l *Ledger) TransactionsFor(address string) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var txs []Transaction
	for _, tx := range l.settled {
		if tx.From == address || tx.To == address {
			txs = append(txs, tx)
		}
	}

	return txs
}

// IsChainValid recomputes every block hash and checks every block points at
// the hash of the block before it.
func (l *Ledger) IsChainValid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return ValidateChain(l.chain) == nil
}

// =============================================================================

// ValidateChain returns the first broken invariant found in the chain.
func ValidateChain(chain []Block) error {
	if len(chain) == 0 {
		return errors.New("chain is empty")
	}

	if chain[0].Index != 0 || chain[0].PreviousHash != "0" {
		return errors.New("first block is not a genesis block")
	}

	for i, b := range chain {
		if hash := ComputeHash(b); b.Hash != hash {
			return fmt.Errorf("blk[%d]: hash mismatch, got %s, exp %s", b.Index, b.Hash, hash)
		}

		if i == 0 {
			continue
		}

		if b.PreviousHash != chain[i-1].Hash {
			return fmt.Errorf("blk[%d]: previous hash doesn't match parent, got %s, exp %s", b.Index, b.PreviousHash, chain[i-1].Hash)
		}
	}

	return nil
}

// checkAmount validates the amount can be applied to a balance.
func checkAmount(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}

	return nil
}

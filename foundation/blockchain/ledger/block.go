package ledger

import (
	"context"
)

// Block represents a group of transactions batched together and chained to
// the block before it.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Nonce        int64         `json:"nonce"`
	Reward       float64       `json:"reward"`
	Miner        string        `json:"miner"`
}

// Genesis constructs the first block of every chain.
func Genesis(timestamp int64) Block {
	b := Block{
		Index:        0,
		Timestamp:    timestamp,
		Transactions: []Transaction{},
		PreviousHash: "0",
		Nonce:        0,
		Reward:       0,
		Miner:        "genesis",
	}
	b.Hash = ComputeHash(b)

	return b
}

// MineBlock does the work of mining to find a valid hash for the specified
// block. The nonce is incremented before every attempt until the hash starts
// with difficulty zero characters. There is no upper bound on the number of
// attempts; only the context can stop the search.
func MineBlock(ctx context.Context, b Block, difficulty int, ev func(v string, args ...any)) (Block, error) {
	ev("ledger: MineBlock: MINING: started: blk[%d]", b.Index)
	defer ev("ledger: MineBlock: MINING: completed: blk[%d]", b.Index)

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("ledger: MineBlock: MINING: attempts[%d]", attempts)
		}

		// Did we get told to stop trying to solve the problem.
		if ctx.Err() != nil {
			ev("ledger: MineBlock: MINING: CANCELLED")
			return Block{}, ctx.Err()
		}

		b.Nonce++
		b.Hash = ComputeHash(b)
		if !isHashSolved(difficulty, b.Hash) {
			continue
		}

		ev("ledger: MineBlock: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.PreviousHash, b.Hash, attempts)

		return b, nil
	}
}

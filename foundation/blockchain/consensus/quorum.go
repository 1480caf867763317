package consensus

import (
	"math/rand/v2"
	"sync"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
)

// DefaultAgreement is the probability the random quorum agrees on a block.
const DefaultAgreement = 0.9

// Quorum decides whether the network agrees on a block.
type Quorum interface {
	Agree(b ledger.Block) bool
}

// RandomQuorum agrees with a fixed probability. It stands in for a real
// quorum vote.
type RandomQuorum struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
}

// NewRandomQuorum constructs a quorum that agrees with the probability.
func NewRandomQuorum(rng *rand.Rand, probability float64) *RandomQuorum {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &RandomQuorum{
		rng:         rng,
		probability: probability,
	}
}

// Agree implements the Quorum interface.
func (q *RandomQuorum) Agree(ledger.Block) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.rng.Float64() > 1-q.probability
}

// StaticQuorum always returns the same answer.
type StaticQuorum bool

// Agree implements the Quorum interface.
func (q StaticQuorum) Agree(ledger.Block) bool {
	return bool(q)
}

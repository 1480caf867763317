// Package mempool maintains the pool of pending transactions waiting to be
// embedded in the next mined block.
package mempool

import "sync"

// Mempool represents the pending-transaction pool. Transactions are kept in
// arrival order and are keyed so a transaction seen twice is replaced in place
// instead of being mined twice.
type Mempool[T any] struct {
	mu    sync.RWMutex
	keyFn func(T) string
	order []string
	pool  map[string]T
}

// New constructs a new mempool that identifies transactions with keyFn.
func New[T any](keyFn func(T) string) *Mempool[T] {
	return &Mempool[T]{
		keyFn: keyFn,
		pool:  make(map[string]T),
	}
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool[T]) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.order)
}

// Upsert adds or replaces a transaction in the pool and returns the new size.
func (mp *Mempool[T]) Upsert(tx T) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := mp.keyFn(tx)
	if _, exists := mp.pool[key]; !exists {
		mp.order = append(mp.order, key)
	}
	mp.pool[key] = tx

	return len(mp.order)
}

// Delete removes a transaction from the pool.
func (mp *Mempool[T]) Delete(tx T) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := mp.keyFn(tx)
	if _, exists := mp.pool[key]; !exists {
		return
	}

	delete(mp.pool, key)
	for i, k := range mp.order {
		if k == key {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool[T]) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.order = nil
	mp.pool = make(map[string]T)
}

// Copy returns the pending transactions in arrival order.
func (mp *Mempool[T]) Copy() []T {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]T, 0, len(mp.order))
	for _, key := range mp.order {
		txs = append(txs, mp.pool[key])
	}

	return txs
}

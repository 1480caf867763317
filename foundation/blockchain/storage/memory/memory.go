// Package memory implements the storage.Store interface using a map. It is
// the default store for tests and for nodes that don't need durability.
package memory

import (
	"fmt"
	"sync"

	"github.com/btn-network/blockchain/foundation/blockchain/storage"
)

// Memory represents the serialization implementation for storing the node
// state in memory.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under the key.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.data[key]
	if !exists {
		return nil, fmt.Errorf("get %q: %w", key, storage.ErrNotFound)
	}

	cp := make([]byte, len(v))
	copy(cp, v)

	return cp, nil
}

// Set stores a copy of the value under the key, replacing what was there.
func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp

	return nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

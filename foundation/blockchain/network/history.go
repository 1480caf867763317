package network

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Settings for the message id history.
const (
	historyCap   = 1000
	historyEvict = 500
	bloomFPRate  = 0.01
)

// history is the bounded set of message ids already handled. A bloom filter
// answers the common "never seen" case and the set confirms the rest.
type history struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	order  []string
	seen   map[string]struct{}
}

func newHistory() *history {
	return &history{
		filter: bloom.NewWithEstimates(historyCap, bloomFPRate),
		seen:   make(map[string]struct{}),
	}
}

// record adds the id and reports whether it was new. When the history grows
// past its cap the oldest ids are evicted and the filter is rebuilt.
func (h *history) record(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.filter.TestString(id) {
		if _, exists := h.seen[id]; exists {
			return false
		}
	}

	h.seen[id] = struct{}{}
	h.order = append(h.order, id)
	h.filter.AddString(id)

	if len(h.order) > historyCap {
		for _, old := range h.order[:historyEvict] {
			delete(h.seen, old)
		}
		h.order = append([]string(nil), h.order[historyEvict:]...)

		h.filter = bloom.NewWithEstimates(historyCap, bloomFPRate)
		for _, id := range h.order {
			h.filter.AddString(id)
		}
	}

	return true
}

// contains reports whether the id is in the history.
func (h *history) contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.seen[id]
	return exists
}

// size returns the number of ids held.
func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.order)
}

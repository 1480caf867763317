package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btn-network/blockchain/foundation/blockchain/storage"
)

// StorageKey is the key the native blockchain state is stored under.
const StorageKey = "btn_native_blockchain"

// Entry is a key/value pair that is encoded as a two element JSON array so
// map shaped tables round-trip as [[key, value], ...].
type Entry[V any] struct {
	Key   string
	Value V
}

// MarshalJSON implements the json.Marshaler interface.
func (e Entry[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Key, e.Value})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (e *Entry[V]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw) != 2 {
		return fmt.Errorf("entry has %d elements, exp 2", len(raw))
	}

	if err := json.Unmarshal(raw[0], &e.Key); err != nil {
		return fmt.Errorf("entry key: %w", err)
	}

	if err := json.Unmarshal(raw[1], &e.Value); err != nil {
		return fmt.Errorf("entry %q value: %w", e.Key, err)
	}

	return nil
}

// Snapshot is the persisted form of the ledger and its native tables. The
// timestamp records when the snapshot was taken.
type Snapshot struct {
	Blocks              []Block                    `json:"blocks"`
	Transactions        []Transaction              `json:"transactions"`
	Balances            []Entry[float64]           `json:"balances"`
	PendingTransactions []Transaction              `json:"pendingTransactions"`
	UserProfiles        []Entry[json.RawMessage]   `json:"userProfiles"`
	Contracts           []Entry[json.RawMessage]   `json:"contracts"`
	NFTs                []Entry[json.RawMessage]   `json:"nfts"`
	Messages            []Entry[[]json.RawMessage] `json:"messages"`
	Analytics           []Entry[json.RawMessage]   `json:"analytics"`
	Timestamp           int64                      `json:"timestamp"`
}

// ReadSnapshot reads and decodes the persisted state from the store.
func ReadSnapshot(store storage.Store) (Snapshot, error) {
	data, err := store.Get(StorageKey)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	return snap, nil
}

// =============================================================================

// load restores the ledger from the store. Any failure falls back to a fresh
// genesis chain.
func (l *Ledger) load() {
	snap, err := ReadSnapshot(l.store)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			l.evHandler("ledger: load: no persisted state, starting from genesis")
		default:
			l.evHandler("ledger: load: WARNING: unable to restore state, starting from genesis: %s", err)
		}
		l.reset()
		return
	}

	if err := ValidateChain(snap.Blocks); err != nil {
		l.evHandler("ledger: load: WARNING: persisted chain rejected, starting from genesis: %s", err)
		l.reset()
		return
	}

	l.chain = snap.Blocks
	l.settled = snap.Transactions

	for _, e := range snap.Balances {
		l.balances[e.Key] = e.Value
	}

	for _, tx := range snap.PendingTransactions {
		l.pending.Upsert(tx)
	}

	restore := func(table Table, es []Entry[json.RawMessage]) {
		for _, e := range es {
			l.tables[table][e.Key] = e.Value
		}
	}
	restore(TableProfiles, snap.UserProfiles)
	restore(TableContracts, snap.Contracts)
	restore(TableNFTs, snap.NFTs)
	restore(TableAnalytics, snap.Analytics)

	for _, e := range snap.Messages {
		l.messages[e.Key] = e.Value
	}

	l.evHandler("ledger: load: restored state: blocks[%d]: pending[%d]: saved[%d]", len(l.chain), l.pending.Count(), snap.Timestamp)
}

// reset starts the ledger over with only the genesis block.
func (l *Ledger) reset() {
	l.chain = []Block{Genesis(l.now().UnixMilli())}
	l.settled = nil
	l.balances = make(map[string]float64)
	l.pending.Truncate()
	l.tables = newTables()
	l.messages = make(map[string][]json.RawMessage)
}

// save writes the current state to the store. A failure is logged and the
// in-memory state is kept. The caller must hold the write lock.
func (l *Ledger) save() {
	snap := Snapshot{
		Blocks:              l.chain,
		Transactions:        l.settled,
		Balances:            entries(l.balances),
		PendingTransactions: l.pending.Copy(),
		UserProfiles:        entries(l.tables[TableProfiles]),
		Contracts:           entries(l.tables[TableContracts]),
		NFTs:                entries(l.tables[TableNFTs]),
		Messages:            entries(l.messages),
		Analytics:           entries(l.tables[TableAnalytics]),
		Timestamp:           l.now().UnixMilli(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		l.evHandler("ledger: save: WARNING: encoding state: %s", err)
		return
	}

	if err := l.store.Set(StorageKey, data); err != nil {
		l.evHandler("ledger: save: WARNING: writing state: %s", err)
	}
}

// entries converts a map into key ordered pairs.
func entries[V any](m map[string]V) []Entry[V] {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	es := make([]Entry[V], len(keys))
	for i, k := range keys {
		es[i] = Entry[V]{Key: k, Value: m[k]}
	}

	return es
}

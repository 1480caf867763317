package ledger

import (
	"encoding/json"
	"fmt"
)

// Table names a native key/value table persisted alongside the chain.
type Table string

// Set of native tables kept by the ledger.
const (
	TableProfiles  Table = "userProfiles"
	TableContracts Table = "contracts"
	TableNFTs      Table = "nfts"
	TableAnalytics Table = "analytics"
)

// maxInbox is the number of messages kept per peer inbox. Older messages are
// dropped first.
const maxInbox = 100

// Stats represents the size of every persisted collection.
type Stats struct {
	Blocks       int `json:"blocks"`
	Transactions int `json:"transactions"`
	Pending      int `json:"pending"`
	Balances     int `json:"balances"`
	UserProfiles int `json:"userProfiles"`
	Contracts    int `json:"contracts"`
	NFTs         int `json:"nfts"`
	Messages     int `json:"messages"`
	Analytics    int `json:"analytics"`
}

func newTables() map[Table]map[string]json.RawMessage {
	return map[Table]map[string]json.RawMessage{
		TableProfiles:  {},
		TableContracts: {},
		TableNFTs:      {},
		TableAnalytics: {},
	}
}

// SetRecord encodes v and stores it under the key in the named table.
func (l *Ledger) SetRecord(table Table, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record %q: %w", table, key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, exists := l.tables[table]
	if !exists {
		return fmt.Errorf("unknown table %q", table)
	}

	t[key] = data
	l.save()

	return nil
}

// Record returns the encoded record stored under the key in the named table.
func (l *Ledger) Record(table Table, key string) (json.RawMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	data, exists := l.tables[table][key]
	return data, exists
}

// Records returns a copy of every record in the named table.
func (l *Ledger) Records(table Table) map[string]json.RawMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := make(map[string]json.RawMessage, len(l.tables[table]))
	for k, v := range l.tables[table] {
		cp[k] = v
	}

	return cp
}

// AddMessage appends the encoded message to the inbox of the specified peer.
func (l *Ledger) AddMessage(peerID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", peerID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inbox := append(l.messages[peerID], data)
	if len(inbox) > maxInbox {
		inbox = inbox[len(inbox)-maxInbox:]
	}
	l.messages[peerID] = inbox
	l.save()

	return nil
}

// Messages returns the inbox of the specified peer, oldest first.
func (l *Ledger) Messages(peerID string) []json.RawMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := make([]json.RawMessage, len(l.messages[peerID]))
	copy(msgs, l.messages[peerID])

	return msgs
}

// Stats returns the size of the chain and every native table.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var msgs int
	for _, inbox := range l.messages {
		msgs += len(inbox)
	}

	return Stats{
		Blocks:       len(l.chain),
		Transactions: len(l.settled),
		Pending:      l.pending.Count(),
		Balances:     len(l.balances),
		UserProfiles: len(l.tables[TableProfiles]),
		Contracts:    len(l.tables[TableContracts]),
		NFTs:         len(l.tables[TableNFTs]),
		Messages:     msgs,
		Analytics:    len(l.tables[TableAnalytics]),
	}
}

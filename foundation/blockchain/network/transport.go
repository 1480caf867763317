package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btn-network/blockchain/foundation/blockchain/peer"
)

// ErrNoConnection is returned by a transport that has no open connection to
// the peer. The node treats it as a no-op rather than a failure.
var ErrNoConnection = errors.New("no open connection to peer")

// Transport delivers messages to a peer.
type Transport interface {
	Send(p peer.Peer, msg Message) error
	Close() error
}

// Scheme returns the scheme of a peer address, the part before "://".
func Scheme(address string) string {
	scheme, _, found := strings.Cut(address, "://")
	if !found {
		return ""
	}
	return scheme
}

// =============================================================================

// MessageStore represents the per peer inbox storage used by the in process
// transport.
type MessageStore interface {
	AddMessage(peerID string, msg any) error
	Messages(peerID string) []json.RawMessage
}

// Inbox is the in process transport. Sending appends the message to the
// inbox of the target peer where it can be read back by peer id.
type Inbox struct {
	store MessageStore
}

// NewInbox constructs an in process transport over the store.
func NewInbox(store MessageStore) *Inbox {
	return &Inbox{
		store: store,
	}
}

// Send appends the message to the inbox of the peer.
func (in *Inbox) Send(p peer.Peer, msg Message) error {
	if err := in.store.AddMessage(p.ID, msg); err != nil {
		return fmt.Errorf("inbox %s: %w", p.ID, err)
	}
	return nil
}

// Messages returns the decoded inbox of the peer, oldest first. Entries that
// don't decode as messages are skipped.
func (in *Inbox) Messages(peerID string) []Message {
	raws := in.store.Messages(peerID)

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs
}

// Close implements the Transport interface. The inbox holds no resources.
func (in *Inbox) Close() error {
	return nil
}

package network

import (
	"encoding/json"
	"fmt"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/google/uuid"
)

// MessageType identifies the payload carried by a message.
type MessageType string

// Set of message types understood by the node.
const (
	TypeBlock         MessageType = "block"
	TypeTransaction   MessageType = "transaction"
	TypePeerDiscovery MessageType = "peer_discovery"
	TypeSyncRequest   MessageType = "sync_request"
	TypeSyncResponse  MessageType = "sync_response"
	TypeConsensus     MessageType = "consensus"
	TypeHeartbeat     MessageType = "heartbeat"
)

// Message is the unit of gossip between nodes. TTL is the number of hops the
// message may still be forwarded.
type Message struct {
	ID        string          `json:"id" validate:"required"`
	Type      MessageType     `json:"type" validate:"required,oneof=block transaction peer_discovery sync_request sync_response consensus heartbeat"`
	Payload   json.RawMessage `json:"data"`
	Sender    string          `json:"sender" validate:"required"`
	Timestamp int64           `json:"timestamp"`
	TTL       int             `json:"ttl" validate:"gte=0"`
	Signature string          `json:"signature,omitempty"`

	// from is the peer the message was read from, when it came in over a
	// connection.
	from string
}

// newMessage constructs a message with a fresh id and the encoded payload.
func newMessage(typ MessageType, sender string, timestamp int64, ttl int, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}

	msg := Message{
		ID:        fmt.Sprintf("msg_%d_%s", timestamp, uuid.NewString()[:8]),
		Type:      typ,
		Payload:   data,
		Sender:    sender,
		Timestamp: timestamp,
		TTL:       ttl,
	}

	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload of %s: %w", m.Type, m.ID, err)
	}
	return nil
}

// =============================================================================

// BlockPayload is carried by block messages.
type BlockPayload struct {
	Block ledger.Block `json:"block"`
}

// PeerInfo describes a peer inside a discovery response.
type PeerInfo struct {
	ID           string   `json:"id"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// DiscoveryPayload is carried by peer_discovery messages. A request sets
// RequestPeerList, a response carries Peers.
type DiscoveryPayload struct {
	NodeID          string     `json:"nodeId"`
	RequestPeerList bool       `json:"requestPeerList,omitempty"`
	MaxPeers        *int       `json:"maxPeers,omitempty"`
	Peers           []PeerInfo `json:"peers,omitempty"`
	Capabilities    []string   `json:"capabilities,omitempty"`
	Version         string     `json:"version,omitempty"`
}

// HeartbeatPayload is carried by heartbeat messages.
type HeartbeatPayload struct {
	NodeID       string   `json:"nodeId"`
	Timestamp    int64    `json:"timestamp"`
	BlockHeight  int      `json:"blockHeight"`
	HashRate     float64  `json:"hashRate"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// SyncRequestPayload is carried by sync_request messages.
type SyncRequestPayload struct {
	NodeID        string `json:"nodeId"`
	CurrentHeight *int   `json:"currentHeight,omitempty"`
	LastBlockHash string `json:"lastBlockHash,omitempty"`
}

// SyncResponsePayload is carried by sync_response messages.
type SyncResponsePayload struct {
	NodeID        string         `json:"nodeId"`
	Blocks        []ledger.Block `json:"blocks"`
	CurrentHeight int            `json:"currentHeight"`
}

// ConsensusPayload is carried by consensus messages.
type ConsensusPayload struct {
	Type string `json:"type"`
}

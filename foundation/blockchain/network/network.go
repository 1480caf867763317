// Package network implements the gossip node. It keeps the peer registry,
// runs discovery, heartbeat and synchronization on a schedule driven by
// Tick, and floods messages between peers bounded by a hop budget.
package network

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/btn-network/blockchain/foundation/metrics"
	"github.com/gorilla/websocket"
)

// Set of intervals for the periodic tasks.
const (
	DiscoveryInterval = 30 * time.Second
	HeartbeatInterval = 15 * time.Second
	SyncInterval      = 45 * time.Second
	PeerTimeout       = time.Minute
)

// Set of network limits and defaults.
const (
	DefaultMaxConnections = 8
	DefaultMinTrust       = 0.8
	maxKnownPeers         = 50
	maxForward            = 3
	maxSyncBlocks         = 10
	defaultShareMaxPeers  = 5
	nativeVersion         = "1.0.0-native"
	peerVersion           = "1.0.0"
)

// Set of time to live values used for outbound messages.
const (
	ttlBlock       = 3
	ttlTransaction = 2
	ttlDiscovery   = 2
	ttlIntroduce   = 3
	ttlSync        = 2
	ttlHeartbeat   = 1
	ttlReply       = 1
)

// capabilities advertised by this node.
var capabilities = []string{"mining", "consensus", "storage"}

// allCapabilities is the pool synthesized peers draw from.
var allCapabilities = []string{"mining", "consensus", "storage", "relay", "discovery", "analytics", "native"}

// bootstrapCapabilities are the capabilities of the three native peers.
var bootstrapCapabilities = [][]string{
	{"mining", "consensus", "storage", "native"},
	{"mining", "relay", "discovery", "native"},
	{"consensus", "storage", "analytics", "native"},
}

// Ledger represents the ledger behavior the node needs.
type Ledger interface {
	ChainLength() int
	LatestBlock() ledger.Block
	RecentBlocks(n int) []ledger.Block
	AddTransaction(tx ledger.Transaction) error
}

// Validator represents the consensus behavior used to admit inbound blocks
// and transactions.
type Validator interface {
	ValidateBlock(b ledger.Block) consensus.Decision
	ValidateUserAction(userID string, action string) consensus.ActionValidation
}

// HashRater provides the hash rate reported in heartbeats.
type HashRater interface {
	HashRate() float64
}

// HandlerFunc handles a message of a single type.
type HandlerFunc func(msg Message)

// Topology summarizes the shape of the network as seen from this node.
type Topology struct {
	TotalNodes            int     `json:"totalNodes"`
	ConnectedNodes        int     `json:"connectedNodes"`
	NetworkDiameter       int     `json:"networkDiameter"`
	ClusteringCoefficient float64 `json:"clusteringCoefficient"`
	AverageLatency        float64 `json:"averageLatency"`
}

// Stats represents the public network figures.
type Stats struct {
	TotalPeers       int      `json:"totalPeers"`
	ConnectedPeers   int      `json:"connectedPeers"`
	AvgLatency       float64  `json:"avgLatency"`
	NetworkHealth    float64  `json:"networkHealth"`
	MessagesSent     int64    `json:"messagesSent"`
	MessagesReceived int64    `json:"messagesReceived"`
	Topology         Topology `json:"topology"`
}

// Config represents the configuration required to construct a node.
type Config struct {
	NodeID         string
	MaxConnections int
	Ledger         Ledger
	Validator      Validator
	HashRater      HashRater
	Transports     map[string]Transport
	Now            func() time.Time
	Rand           *rand.Rand
	EvHandler      func(v string, args ...any)
}

// Node manages the peer registry and message flooding.
type Node struct {
	nodeID     string
	maxConns   int
	ledger     Ledger
	validator  Validator
	hashRater  HashRater
	transports map[string]Transport
	now        func() time.Time
	evHandler  func(v string, args ...any)
	peers      *peer.Set
	history    *history
	metrics    metrics.Gossip
	sent       atomic.Int64
	received   atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu            sync.Mutex
	connected     bool
	nextDiscovery time.Time
	nextHeartbeat time.Time
	nextSync      time.Time
	topology      Topology
	handlers      map[MessageType]HandlerFunc
}

// New constructs a disconnected node.
func New(cfg Config) (*Node, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("network node requires a ledger")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}

	n := Node{
		maxConns:   cfg.MaxConnections,
		ledger:     cfg.Ledger,
		validator:  cfg.Validator,
		hashRater:  cfg.HashRater,
		transports: make(map[string]Transport),
		now:        cfg.Now,
		evHandler:  ev,
		peers:      peer.NewSet(),
		history:    newHistory(),
		rng:        cfg.Rand,
		topology:   Topology{TotalNodes: 1, NetworkDiameter: 1},
	}

	for scheme, t := range cfg.Transports {
		n.transports[scheme] = t
	}

	n.nodeID = cfg.NodeID
	if n.nodeID == "" {
		n.nodeID = fmt.Sprintf("btn_node_%d_%s", n.now().UnixMilli(), n.randomString(9))
	}

	n.handlers = map[MessageType]HandlerFunc{
		TypeBlock:         n.handleBlock,
		TypeTransaction:   n.handleTransaction,
		TypePeerDiscovery: n.handlePeerDiscovery,
		TypeSyncRequest:   n.handleSyncRequest,
		TypeSyncResponse:  n.handleSyncResponse,
		TypeConsensus:     n.handleConsensus,
		TypeHeartbeat:     n.handleHeartbeat,
	}

	return &n, nil
}

// Handle registers the handler for the message type, replacing any
// existing one.
func (n *Node) Handle(typ MessageType, fn HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers[typ] = fn
}

// =============================================================================

// Connect seeds the native bootstrap peers and arms the three periodic
// tasks. Connecting a connected node does nothing.
func (n *Node) Connect(now time.Time) {
	n.mu.Lock()
	if n.connected {
		n.mu.Unlock()
		return
	}
	n.connected = true
	n.nextDiscovery = now.Add(DiscoveryInterval)
	n.nextHeartbeat = now.Add(HeartbeatInterval)
	n.nextSync = now.Add(SyncInterval)
	n.mu.Unlock()

	for i, caps := range bootstrapCapabilities {
		p := peer.Peer{
			ID:           fmt.Sprintf("btn_native_node_%d_%s", i+1, suffix(n.nodeID, 6)),
			Address:      fmt.Sprintf("native://btn-node-%d-%s", i+1, suffix(n.nodeID, 8)),
			LastSeen:     now,
			IsConnected:  true,
			Latency:      5 + n.randFloat()*50,
			TrustScore:   0.9 + n.randFloat()*0.1,
			Version:      nativeVersion,
			Capabilities: caps,
		}

		if !n.peers.Add(p) {
			n.peers.Update(p.ID, func(p *peer.Peer) {
				p.IsConnected = true
				p.LastSeen = now
			})
		}
	}

	n.evHandler("network: Connect: node[%s]: connected to %d native nodes", n.nodeID, len(bootstrapCapabilities))
}

// Disconnect clears the periodic tasks, closes every transport and marks
// every peer disconnected. It is safe to call more than once.
func (n *Node) Disconnect() {
	n.mu.Lock()
	if !n.connected {
		n.mu.Unlock()
		return
	}
	n.connected = false
	n.nextDiscovery = time.Time{}
	n.nextHeartbeat = time.Time{}
	n.nextSync = time.Time{}
	n.mu.Unlock()

	for scheme, t := range n.transports {
		if err := t.Close(); err != nil {
			n.evHandler("network: Disconnect: WARNING: closing %s transport: %s", scheme, err)
		}
	}

	n.peers.UpdateAll(func(p *peer.Peer) {
		p.IsConnected = false
	})

	n.evHandler("network: Disconnect: node[%s]: disconnected from network", n.nodeID)
}

// Tick runs every periodic task that is due at now.
func (n *Node) Tick(now time.Time) {
	n.mu.Lock()
	if !n.connected {
		n.mu.Unlock()
		return
	}

	discovery := !now.Before(n.nextDiscovery)
	if discovery {
		n.nextDiscovery = now.Add(DiscoveryInterval)
	}

	heartbeat := !now.Before(n.nextHeartbeat)
	if heartbeat {
		n.nextHeartbeat = now.Add(HeartbeatInterval)
	}

	syncDue := !now.Before(n.nextSync)
	if syncDue {
		n.nextSync = now.Add(SyncInterval)
	}
	n.mu.Unlock()

	if discovery {
		n.performDiscovery(now)
		n.OptimizeTopology()
	}

	if heartbeat {
		n.sendHeartbeat(now)
		n.checkPeerHealth(now)
	}

	if syncDue {
		n.synchronize(now)
	}
}

// ConnectPeer opens a connection to the address, registers the peer and
// sends it an introduction. Native addresses need no connection.
func (n *Node) ConnectPeer(ctx context.Context, address string) (peer.Peer, error) {
	scheme := Scheme(address)

	t, exists := n.transports[scheme]
	if !exists {
		return peer.Peer{}, fmt.Errorf("no transport for address %q", address)
	}

	if d, ok := t.(dialer); ok {
		if err := d.Dial(ctx, address, n.receive, n.markPeerDisconnected); err != nil {
			n.markPeerDisconnected(address)
			return peer.Peer{}, fmt.Errorf("connecting to peer: %w", err)
		}
	}

	p := n.registerConnected(address)

	intro := DiscoveryPayload{
		NodeID:       n.nodeID,
		Capabilities: capabilities,
		Version:      peerVersion,
	}
	if err := n.sendNew(TypePeerDiscovery, ttlIntroduce, intro, p.ID); err != nil {
		return peer.Peer{}, err
	}

	n.evHandler("network: ConnectPeer: connected to peer: %s", address)

	return p, nil
}

// AcceptPeer registers an inbound duplex connection under the address and
// handles every message read from it.
func (n *Node) AcceptPeer(address string, conn *websocket.Conn) (peer.Peer, error) {
	t, exists := n.transports[Scheme(address)]
	if !exists {
		return peer.Peer{}, fmt.Errorf("no transport for address %q", address)
	}

	a, ok := t.(acceptor)
	if !ok {
		return peer.Peer{}, fmt.Errorf("transport for %q can't accept connections", address)
	}

	a.Accept(address, conn, n.receive, n.markPeerDisconnected)

	p := n.registerConnected(address)
	n.evHandler("network: AcceptPeer: accepted peer: %s", address)

	return p, nil
}

// AddPeer adds the peer to the registry. It returns false if the id is
// already known.
func (n *Node) AddPeer(p peer.Peer) bool {
	added := n.peers.Add(p)
	if added {
		n.evHandler("network: AddPeer: added peer: %s (%s)", p.ID, p.Address)
	}
	return added
}

// RemovePeer disconnects and forgets the peer.
func (n *Node) RemovePeer(peerID string) {
	if _, exists := n.peers.Get(peerID); !exists {
		return
	}

	n.disconnectPeer(peerID)
	n.peers.Remove(peerID)

	n.evHandler("network: RemovePeer: removed peer: %s", peerID)
}

// =============================================================================

// HandleIncomingMessage processes a message received from a peer. A message
// id already in the history is ignored. Otherwise the sender is refreshed,
// the handler for the type runs and the message is forwarded while it still
// has hops left.
func (n *Node) HandleIncomingMessage(msg Message) {
	if !n.history.record(msg.ID) {
		n.metrics.ObserveMessage(string(msg.Type), "duplicate")
		return
	}

	n.received.Add(1)
	n.metrics.ObserveMessage(string(msg.Type), "received")

	now := n.now()
	n.peers.Update(msg.Sender, func(p *peer.Peer) {
		p.LastSeen = now
	})

	n.mu.Lock()
	handler, exists := n.handlers[msg.Type]
	n.mu.Unlock()

	switch exists {
	case true:
		handler(msg)
	default:
		n.evHandler("network: HandleIncomingMessage: WARNING: no handler for type %q", msg.Type)
	}

	if msg.TTL > 0 {
		msg.TTL--
		n.forward(msg)
	}
}

// receive handles a message read from the connection to the address. The
// peer behind the connection is refreshed whatever node id the message
// names, and the message is never forwarded back to it.
func (n *Node) receive(address string, msg Message) {
	now := n.now()
	n.peers.UpdateAll(func(p *peer.Peer) {
		if p.Address != address {
			return
		}
		p.LastSeen = now
		p.IsConnected = true
		msg.from = p.ID
	})

	n.HandleIncomingMessage(msg)
}

// BroadcastBlock sends the block to every connected peer.
func (n *Node) BroadcastBlock(b ledger.Block) error {
	return n.broadcastNew(TypeBlock, ttlBlock, BlockPayload{Block: b})
}

// BroadcastTransaction sends the transaction to every connected peer.
func (n *Node) BroadcastTransaction(tx ledger.Transaction) error {
	return n.broadcastNew(TypeTransaction, ttlTransaction, tx)
}

// =============================================================================

// NodeID returns the id of this node.
func (n *Node) NodeID() string {
	return n.nodeID
}

// IsConnected reports whether the node is connected and has at least one
// connected peer.
func (n *Node) IsConnected() bool {
	n.mu.Lock()
	connected := n.connected
	n.mu.Unlock()

	return connected && n.peers.ConnectedCount() > 0
}

// Peer returns the peer for the id.
func (n *Node) Peer(peerID string) (peer.Peer, bool) {
	return n.peers.Get(peerID)
}

// Peers returns every known peer.
func (n *Node) Peers() []peer.Peer {
	return n.peers.Copy()
}

// ConnectedPeers returns every connected peer.
func (n *Node) ConnectedPeers() []peer.Peer {
	return n.peers.Connected()
}

// PeersByCapability returns the connected peers advertising the capability.
func (n *Node) PeersByCapability(capability string) []peer.Peer {
	var peers []peer.Peer
	for _, p := range n.peers.Connected() {
		if p.HasCapability(capability) {
			peers = append(peers, p)
		}
	}
	return peers
}

// HighTrustPeers returns the connected peers with a trust score of at least
// minTrust.
func (n *Node) HighTrustPeers(minTrust float64) []peer.Peer {
	var peers []peer.Peer
	for _, p := range n.peers.Connected() {
		if p.TrustScore >= minTrust {
			peers = append(peers, p)
		}
	}
	return peers
}

// Topology returns the topology computed by the last optimization.
func (n *Node) Topology() Topology {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.topology
}

// Stats returns the public network figures.
func (n *Node) Stats() Stats {
	connected := n.peers.Connected()
	total := n.peers.Count()

	var health float64
	if total > 0 {
		health = float64(len(connected)) / float64(total)
	}

	return Stats{
		TotalPeers:       total,
		ConnectedPeers:   len(connected),
		AvgLatency:       averageLatency(connected),
		NetworkHealth:    health,
		MessagesSent:     n.sent.Load(),
		MessagesReceived: n.received.Load(),
		Topology:         n.Topology(),
	}
}

// =============================================================================

// OptimizeTopology recomputes the topology and, when there are more
// connected peers than allowed, disconnects the lowest ranked ones. Peers
// are ranked by trust score minus latency in seconds.
func (n *Node) OptimizeTopology() {
	connected := n.peers.Connected()
	total := n.peers.Count() + 1

	topo := Topology{
		TotalNodes:            total,
		ConnectedNodes:        len(connected),
		NetworkDiameter:       int(math.Ceil(math.Log2(float64(total)))) + 1,
		ClusteringCoefficient: float64(len(connected)) / float64(total),
		AverageLatency:        averageLatency(connected),
	}

	n.mu.Lock()
	n.topology = topo
	n.mu.Unlock()

	if len(connected) <= n.maxConns {
		return
	}

	sort.SliceStable(connected, func(i, j int) bool {
		return score(connected[i]) > score(connected[j])
	})

	for _, p := range connected[n.maxConns:] {
		n.disconnectPeer(p.ID)
	}

	n.evHandler("network: OptimizeTopology: pruned %d connections", len(connected)-n.maxConns)
}

// performDiscovery asks the connected peers for more peers, may synthesize
// a new peer and simulates churn on the connected ones.
func (n *Node) performDiscovery(now time.Time) {
	maxPeers := n.maxConns - n.peers.ConnectedCount()
	req := DiscoveryPayload{
		NodeID:          n.nodeID,
		RequestPeerList: true,
		MaxPeers:        &maxPeers,
	}
	if err := n.broadcastNew(TypePeerDiscovery, ttlDiscovery, req); err != nil {
		n.evHandler("network: discovery: ERROR: %s", err)
	}

	if n.randFloat() < 0.3 && n.peers.Count() < maxKnownPeers {
		n.AddPeer(n.synthesizePeer(now))
	}

	for _, p := range n.peers.Connected() {
		if n.randFloat() < 0.05 {
			n.peers.Update(p.ID, func(p *peer.Peer) {
				p.IsConnected = false
				p.LastSeen = now.Add(-PeerTimeout)
			})
		}
	}
}

// synthesizePeer builds a randomized peer entry.
func (n *Node) synthesizePeer(now time.Time) peer.Peer {
	caps := make([]string, len(allCapabilities))
	n.rngMu.Lock()
	for i, j := range n.rng.Perm(len(allCapabilities)) {
		caps[i] = allCapabilities[j]
	}
	count := 2 + n.rng.IntN(4)
	port := 8000 + n.rng.IntN(100)
	n.rngMu.Unlock()

	return peer.Peer{
		ID:           fmt.Sprintf("btn_node_%d_%s", now.UnixMilli(), n.randomString(6)),
		Address:      fmt.Sprintf("wss://peer-%s.btn.network:%d", n.randomString(8), port),
		LastSeen:     now,
		IsConnected:  n.randFloat() >= 0.3,
		Latency:      10 + n.randFloat()*200,
		TrustScore:   0.5 + n.randFloat()*0.5,
		Version:      peerVersion,
		Capabilities: caps[:count],
	}
}

// sendHeartbeat announces liveness and the chain height.
func (n *Node) sendHeartbeat(now time.Time) {
	var hashRate float64
	if n.hashRater != nil {
		hashRate = n.hashRater.HashRate()
	}

	hb := HeartbeatPayload{
		NodeID:       n.nodeID,
		Timestamp:    now.UnixMilli(),
		BlockHeight:  n.ledger.ChainLength(),
		HashRate:     hashRate,
		Capabilities: capabilities,
	}
	if err := n.broadcastNew(TypeHeartbeat, ttlHeartbeat, hb); err != nil {
		n.evHandler("network: heartbeat: ERROR: %s", err)
	}
}

// checkPeerHealth disconnects every connected peer that has been silent for
// longer than the peer timeout and lowers its trust.
func (n *Node) checkPeerHealth(now time.Time) {
	for _, p := range n.peers.Connected() {
		if now.Sub(p.LastSeen) <= PeerTimeout {
			continue
		}

		n.peers.Update(p.ID, func(p *peer.Peer) {
			p.IsConnected = false
			p.TrustScore = math.Max(0, p.TrustScore-0.1)
		})

		n.evHandler("network: heartbeat: peer[%s]: timed out", p.ID)
	}
}

// synchronize announces the local chain height.
func (n *Node) synchronize(now time.Time) {
	height := n.ledger.ChainLength()
	req := SyncRequestPayload{
		NodeID:        n.nodeID,
		CurrentHeight: &height,
		LastBlockHash: n.ledger.LatestBlock().Hash,
	}
	if err := n.broadcastNew(TypeSyncRequest, ttlSync, req); err != nil {
		n.evHandler("network: sync: ERROR: %s", err)
	}
}

// =============================================================================

// broadcastNew builds a message and sends it to every connected peer.
func (n *Node) broadcastNew(typ MessageType, ttl int, payload any) error {
	msg, err := newMessage(typ, n.nodeID, n.now().UnixMilli(), ttl, payload)
	if err != nil {
		return err
	}

	n.history.record(msg.ID)

	connected := n.peers.Connected()
	for _, p := range connected {
		n.sendToPeer(msg, p.ID)
	}

	n.evHandler("network: broadcast: %s message to %d peers", typ, len(connected))

	return nil
}

// sendNew builds a message and sends it to a single peer.
func (n *Node) sendNew(typ MessageType, ttl int, payload any, peerID string) error {
	msg, err := newMessage(typ, n.nodeID, n.now().UnixMilli(), ttl, payload)
	if err != nil {
		return err
	}

	n.history.record(msg.ID)
	n.sendToPeer(msg, peerID)

	return nil
}

// forward sends the message to up to three random connected peers,
// excluding the sender and the peer the message arrived from.
func (n *Node) forward(msg Message) {
	var candidates []peer.Peer
	for _, p := range n.peers.Connected() {
		if p.ID != msg.Sender && p.ID != msg.from {
			candidates = append(candidates, p)
		}
	}

	n.rngMu.Lock()
	order := n.rng.Perm(len(candidates))
	n.rngMu.Unlock()

	for _, i := range order[:min(maxForward, len(order))] {
		n.sendToPeer(msg, candidates[i].ID)
	}
}

// sendToPeer delivers the message through the transport for the peer
// address. Peers that are unknown or disconnected are skipped. A failed
// send marks the peer disconnected.
func (n *Node) sendToPeer(msg Message, peerID string) {
	p, exists := n.peers.Get(peerID)
	if !exists || !p.IsConnected {
		return
	}

	t, exists := n.transports[Scheme(p.Address)]
	if !exists {
		n.metrics.ObserveMessage(string(msg.Type), "dropped")
		return
	}

	err := t.Send(p, msg)
	switch {
	case err == nil:
		n.sent.Add(1)
		n.metrics.ObserveMessage(string(msg.Type), "sent")

	case errors.Is(err, ErrNoConnection):
		n.metrics.ObserveMessage(string(msg.Type), "dropped")

	default:
		n.evHandler("network: send: ERROR: failed to send message to %s: %s", peerID, err)
		n.metrics.ObserveMessage(string(msg.Type), "failed")
		n.markPeerDisconnected(p.Address)
	}
}

// replyTo returns the peer a reply to the message goes to. That is the
// sender when it is a known peer, otherwise the peer the message arrived
// from.
func (n *Node) replyTo(msg Message) string {
	if _, exists := n.peers.Get(msg.Sender); exists || msg.from == "" {
		return msg.Sender
	}
	return msg.from
}

// markPeerDisconnected marks every peer with the address disconnected and
// lowers its trust.
func (n *Node) markPeerDisconnected(address string) {
	n.peers.UpdateAll(func(p *peer.Peer) {
		if p.Address != address {
			return
		}
		p.IsConnected = false
		p.TrustScore = math.Max(0, p.TrustScore-0.05)
	})
}

// disconnectPeer closes any connection to the peer and marks it
// disconnected without a trust penalty.
func (n *Node) disconnectPeer(peerID string) {
	p, exists := n.peers.Get(peerID)
	if !exists {
		return
	}

	if d, ok := n.transports[Scheme(p.Address)].(disconnector); ok {
		d.Disconnect(p.Address)
	}

	n.peers.Update(peerID, func(p *peer.Peer) {
		p.IsConnected = false
	})
}

// registerConnected adds or refreshes a connected peer keyed by its address.
func (n *Node) registerConnected(address string) peer.Peer {
	now := n.now()

	p := peer.Peer{
		ID:           address,
		Address:      address,
		LastSeen:     now,
		IsConnected:  true,
		TrustScore:   0.5,
		Version:      peerVersion,
		Capabilities: []string{},
	}

	if !n.peers.Add(p) {
		n.peers.Update(address, func(p *peer.Peer) {
			p.IsConnected = true
			p.LastSeen = now
		})
	}

	p, _ = n.peers.Get(address)
	return p
}

// =============================================================================

// dialer is implemented by transports that open outbound connections.
type dialer interface {
	Dial(ctx context.Context, address string, onMessage func(address string, msg Message), onClose func(address string)) error
}

// acceptor is implemented by transports that take inbound connections.
type acceptor interface {
	Accept(address string, conn *websocket.Conn, onMessage func(address string, msg Message), onClose func(address string))
}

// disconnector is implemented by transports that hold a connection per
// address.
type disconnector interface {
	Disconnect(address string)
}

func (n *Node) randFloat() float64 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()

	return n.rng.Float64()
}

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (n *Node) randomString(length int) string {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()

	var b strings.Builder
	for range length {
		b.WriteByte(alphabet[n.rng.IntN(len(alphabet))])
	}
	return b.String()
}

func score(p peer.Peer) float64 {
	return p.TrustScore - p.Latency/1000
}

func averageLatency(peers []peer.Peer) float64 {
	if len(peers) == 0 {
		return 0
	}

	var sum float64
	for _, p := range peers {
		sum += p.Latency
	}
	return sum / float64(len(peers))
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

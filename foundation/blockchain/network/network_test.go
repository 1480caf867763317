package network_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// delivery is a message handed to the fake transport.
type delivery struct {
	peerID string
	msg    network.Message
}

// transport records every message sent through it.
type transport struct {
	mu         sync.Mutex
	deliveries []delivery
	fail       map[string]error
	closed     int
}

func (tr *transport) Send(p peer.Peer, msg network.Message) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if err := tr.fail[p.ID]; err != nil {
		return err
	}

	tr.deliveries = append(tr.deliveries, delivery{peerID: p.ID, msg: msg})
	return nil
}

func (tr *transport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.closed++
	return nil
}

func (tr *transport) sent() []delivery {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]delivery(nil), tr.deliveries...)
}

func (tr *transport) reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.deliveries = nil
}

// validator returns fixed answers.
type validator struct {
	validBlock bool
	genuine    bool
	blocks     int
}

func (v *validator) ValidateBlock(b ledger.Block) consensus.Decision {
	v.blocks++
	return consensus.Decision{BlockHash: b.Hash, IsValid: v.validBlock, Reasoning: []string{"fixed"}}
}

func (v *validator) ValidateUserAction(userID string, action string) consensus.ActionValidation {
	return consensus.ActionValidation{UserID: userID, ActionType: action, IsGenuine: v.genuine}
}

type fixture struct {
	node      *network.Node
	ledger    *ledger.Ledger
	transport *transport
	validator *validator
	now       *time.Time
}

func newFixture(t *testing.T, maxConns int) fixture {
	t.Helper()

	now := start
	clock := func() time.Time { return now }

	l := ledger.New(ledger.Config{Now: clock})
	tr := transport{fail: make(map[string]error)}
	v := validator{validBlock: true, genuine: true}

	n, err := network.New(network.Config{
		NodeID:         "btn_node_test",
		MaxConnections: maxConns,
		Ledger:         l,
		Validator:      &v,
		Transports:     map[string]network.Transport{"fake": &tr},
		Now:            clock,
		Rand:           rand.New(rand.NewPCG(3, 5)),
	})
	require.NoError(t, err)

	return fixture{node: n, ledger: l, transport: &tr, validator: &v, now: &now}
}

func (f fixture) addPeers(count int) {
	for i := range count {
		f.node.AddPeer(peer.Peer{
			ID:          fmt.Sprintf("p%02d", i),
			Address:     fmt.Sprintf("fake://p%02d", i),
			LastSeen:    start,
			IsConnected: true,
			Latency:     10,
			TrustScore:  float64(i) / 100,
		})
	}
}

func message(t *testing.T, id string, typ network.MessageType, sender string, ttl int, payload any) network.Message {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return network.Message{
		ID:        id,
		Type:      typ,
		Payload:   data,
		Sender:    sender,
		Timestamp: start.UnixMilli(),
		TTL:       ttl,
	}
}

// =============================================================================

func TestOptimizeTopology(t *testing.T) {
	t.Log("Given the need to bound the number of connections.")
	{
		t.Log("\tWhen twelve peers are connected and eight are allowed.")
		{
			f := newFixture(t, 8)
			f.addPeers(12)

			f.node.OptimizeTopology()

			connected := f.node.ConnectedPeers()
			if len(connected) != 8 {
				t.Fatalf("\t%s\tShould keep eight connections: %d", failed, len(connected))
			}
			t.Logf("\t%s\tShould keep eight connections.", success)

			for _, p := range connected {
				if p.TrustScore < 0.04 {
					t.Fatalf("\t%s\tShould keep the best ranked peers: %s", failed, p.ID)
				}
			}
			t.Logf("\t%s\tShould keep the best ranked peers.", success)

			require.Len(t, f.node.Peers(), 12)
			t.Logf("\t%s\tShould keep the pruned peers known.", success)

			topo := f.node.Topology()
			require.Equal(t, 13, topo.TotalNodes)
			require.Equal(t, 12, topo.ConnectedNodes)
			require.Equal(t, 5, topo.NetworkDiameter)
			require.InDelta(t, 10.0, topo.AverageLatency, 1e-9)
			t.Logf("\t%s\tShould record the topology before pruning.", success)
		}
	}
}

func TestFlooding(t *testing.T) {
	t.Log("Given the need to flood messages between peers.")
	{
		f := newFixture(t, 8)
		f.addPeers(5)

		var handled int
		f.node.Handle(network.TypeConsensus, func(network.Message) { handled++ })

		t.Log("\tWhen a message has no hops left.")
		{
			f.node.HandleIncomingMessage(message(t, "m1", network.TypeConsensus, "p00", 0, network.ConsensusPayload{Type: "vote"}))

			require.Equal(t, 1, handled)
			require.Empty(t, f.transport.sent())
			t.Logf("\t%s\tShould handle it without forwarding.", success)
		}

		t.Log("\tWhen a message has hops left.")
		{
			f.node.HandleIncomingMessage(message(t, "m2", network.TypeConsensus, "p00", 2, network.ConsensusPayload{Type: "vote"}))

			sent := f.transport.sent()
			if len(sent) != 3 {
				t.Fatalf("\t%s\tShould forward to three peers: %d", failed, len(sent))
			}
			for _, d := range sent {
				require.NotEqual(t, "p00", d.peerID)
				require.Equal(t, 1, d.msg.TTL)
				require.Equal(t, "m2", d.msg.ID)
			}
			t.Logf("\t%s\tShould forward to three peers other than the sender.", success)
		}

		t.Log("\tWhen the same message arrives again.")
		{
			f.transport.reset()
			f.node.HandleIncomingMessage(message(t, "m2", network.TypeConsensus, "p01", 2, network.ConsensusPayload{Type: "vote"}))

			require.Equal(t, 2, handled)
			require.Empty(t, f.transport.sent())
			t.Logf("\t%s\tShould handle it only once.", success)
		}

		stats := f.node.Stats()
		require.EqualValues(t, 2, stats.MessagesReceived)
		require.EqualValues(t, 3, stats.MessagesSent)
		t.Logf("\t%s\tShould count the messages.", success)
	}
}

func TestBroadcast(t *testing.T) {
	t.Log("Given the need to broadcast new blocks and transactions.")
	{
		f := newFixture(t, 8)
		f.addPeers(4)
		f.node.RemovePeer("p03")

		b, err := f.ledger.AddBlock(context.Background(), "miner")
		require.NoError(t, err)
		require.NoError(t, f.node.BroadcastBlock(b))

		sent := f.transport.sent()
		require.Len(t, sent, 3)

		var pl network.BlockPayload
		require.NoError(t, sent[0].msg.Decode(&pl))
		require.Equal(t, b.Hash, pl.Block.Hash)
		require.Equal(t, 3, sent[0].msg.TTL)
		t.Logf("\t%s\tShould send the block to every connected peer.", success)

		f.node.HandleIncomingMessage(sent[0].msg)
		require.Zero(t, f.validator.blocks)
		t.Logf("\t%s\tShould ignore its own message echoed back.", success)

		f.transport.reset()
		require.NoError(t, f.node.BroadcastTransaction(ledger.Transaction{ID: "tx1", From: "a", To: "b", Amount: 1}))
		require.Len(t, f.transport.sent(), 3)
		require.Equal(t, 2, f.transport.sent()[0].msg.TTL)
		t.Logf("\t%s\tShould send the transaction to every connected peer.", success)
	}
}

func TestSendFailure(t *testing.T) {
	t.Log("Given the need to react to failed sends.")
	{
		f := newFixture(t, 8)
		f.addPeers(2)

		f.transport.fail["p00"] = errors.New("broken pipe")
		f.transport.fail["p01"] = network.ErrNoConnection

		require.NoError(t, f.node.BroadcastTransaction(ledger.Transaction{ID: "tx1", From: "a", To: "b", Amount: 1}))

		p, _ := f.node.Peer("p00")
		require.False(t, p.IsConnected)
		require.InDelta(t, 0, p.TrustScore, 1e-9)
		t.Logf("\t%s\tShould disconnect a peer that failed.", success)

		p, _ = f.node.Peer("p01")
		require.True(t, p.IsConnected)
		require.InDelta(t, 0.01, p.TrustScore, 1e-9)
		t.Logf("\t%s\tShould leave a peer without a connection alone.", success)
	}
}

func TestInboundTraffic(t *testing.T) {
	t.Log("Given the need to route inbound messages.")
	{
		t.Log("\tWhen receiving a transaction from a genuine sender.")
		{
			f := newFixture(t, 8)
			tx := ledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 2}

			f.node.HandleIncomingMessage(message(t, "m1", network.TypeTransaction, "p00", 0, tx))
			require.Len(t, f.ledger.Pending(), 1)
			t.Logf("\t%s\tShould add it to the pending pool.", success)
		}

		t.Log("\tWhen receiving a transaction from a suspicious sender.")
		{
			f := newFixture(t, 8)
			f.validator.genuine = false
			tx := ledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 2}

			f.node.HandleIncomingMessage(message(t, "m1", network.TypeTransaction, "p00", 0, tx))
			require.Empty(t, f.ledger.Pending())
			t.Logf("\t%s\tShould drop it.", success)
		}

		t.Log("\tWhen receiving a malformed transaction.")
		{
			f := newFixture(t, 8)
			tx := ledger.Transaction{ID: "tx1", To: "bob", Amount: 2}

			f.node.HandleIncomingMessage(message(t, "m1", network.TypeTransaction, "p00", 0, tx))
			require.Empty(t, f.ledger.Pending())
			t.Logf("\t%s\tShould drop it.", success)
		}

		t.Log("\tWhen receiving a block.")
		{
			f := newFixture(t, 8)
			b := ledger.Block{Index: 5, Hash: "h"}

			f.node.HandleIncomingMessage(message(t, "m1", network.TypeBlock, "p00", 0, network.BlockPayload{Block: b}))
			require.Equal(t, 1, f.validator.blocks)
			require.Equal(t, 1, f.ledger.ChainLength())
			t.Logf("\t%s\tShould validate it without changing the chain.", success)
		}
	}
}

func TestSync(t *testing.T) {
	t.Log("Given the need to help peers catch up.")
	{
		f := newFixture(t, 8)
		f.addPeers(1)

		for range 3 {
			_, err := f.ledger.AddBlock(context.Background(), "miner")
			require.NoError(t, err)
		}

		t.Log("\tWhen a peer reports a shorter chain.")
		{
			height := 1
			f.node.HandleIncomingMessage(message(t, "m1", network.TypeSyncRequest, "p00", 0, network.SyncRequestPayload{NodeID: "p00", CurrentHeight: &height}))

			sent := f.transport.sent()
			require.Len(t, sent, 1)
			require.Equal(t, "p00", sent[0].peerID)
			require.Equal(t, network.TypeSyncResponse, sent[0].msg.Type)

			var pl network.SyncResponsePayload
			require.NoError(t, sent[0].msg.Decode(&pl))
			require.Len(t, pl.Blocks, 3)
			require.Equal(t, 4, pl.CurrentHeight)
			require.Equal(t, f.ledger.LatestBlock().Hash, pl.Blocks[0].Hash)
			t.Logf("\t%s\tShould reply with the missing blocks.", success)
		}

		t.Log("\tWhen a peer reports an equal chain.")
		{
			f.transport.reset()
			height := 4
			f.node.HandleIncomingMessage(message(t, "m2", network.TypeSyncRequest, "p00", 0, network.SyncRequestPayload{NodeID: "p00", CurrentHeight: &height}))
			require.Empty(t, f.transport.sent())
			t.Logf("\t%s\tShould not reply.", success)
		}

		t.Log("\tWhen receiving a sync response.")
		{
			pl := network.SyncResponsePayload{NodeID: "p00", Blocks: f.ledger.RecentBlocks(2), CurrentHeight: 4}
			f.node.HandleIncomingMessage(message(t, "m3", network.TypeSyncResponse, "p00", 0, pl))
			require.Equal(t, 2, f.validator.blocks)
			require.Equal(t, 4, f.ledger.ChainLength())
			t.Logf("\t%s\tShould validate every block without applying it.", success)
		}
	}
}

func TestDiscovery(t *testing.T) {
	t.Log("Given the need to exchange peer lists.")
	{
		f := newFixture(t, 8)
		f.addPeers(4)

		t.Log("\tWhen a peer asks for two peers.")
		{
			maxPeers := 2
			req := network.DiscoveryPayload{NodeID: "p00", RequestPeerList: true, MaxPeers: &maxPeers}
			f.node.HandleIncomingMessage(message(t, "m1", network.TypePeerDiscovery, "p00", 0, req))

			sent := f.transport.sent()
			require.Len(t, sent, 1)
			require.Equal(t, "p00", sent[0].peerID)

			var pl network.DiscoveryPayload
			require.NoError(t, sent[0].msg.Decode(&pl))
			require.Len(t, pl.Peers, 2)
			require.Equal(t, 1, sent[0].msg.TTL)
			t.Logf("\t%s\tShould reply with at most two peers.", success)
		}

		t.Log("\tWhen a peer shares its peer list.")
		{
			resp := network.DiscoveryPayload{
				NodeID: "p01",
				Peers: []network.PeerInfo{
					{ID: "p00", Address: "fake://p00"},
					{ID: "remote", Address: "fake://remote", Capabilities: []string{"relay"}},
				},
			}
			f.node.HandleIncomingMessage(message(t, "m2", network.TypePeerDiscovery, "p01", 0, resp))

			p, exists := f.node.Peer("remote")
			require.True(t, exists)
			require.False(t, p.IsConnected)
			require.Equal(t, 0.5, p.TrustScore)
			require.True(t, p.HasCapability("relay"))
			require.Len(t, f.node.Peers(), 5)
			t.Logf("\t%s\tShould learn the unknown peers.", success)
		}
	}
}

func TestHeartbeat(t *testing.T) {
	t.Log("Given the need to track peer liveness.")
	{
		f := newFixture(t, 8)
		f.node.Connect(start)

		require.True(t, f.node.IsConnected())
		require.Len(t, f.node.ConnectedPeers(), 3)
		for _, p := range f.node.Peers() {
			require.GreaterOrEqual(t, p.TrustScore, 0.9)
			require.True(t, p.HasCapability("native"))
		}
		t.Logf("\t%s\tShould connect to the native nodes.", success)

		t.Log("\tWhen a heartbeat names a known peer.")
		{
			id := f.node.Peers()[0].ID
			*f.now = start.Add(50 * time.Second)

			hb := network.HeartbeatPayload{NodeID: id, Timestamp: f.now.UnixMilli(), Capabilities: []string{"relay"}}
			f.node.HandleIncomingMessage(message(t, "m1", network.TypeHeartbeat, id, 0, hb))

			p, _ := f.node.Peer(id)
			require.True(t, p.LastSeen.Equal(*f.now))
			require.Equal(t, []string{"relay"}, p.Capabilities)
			t.Logf("\t%s\tShould refresh the peer.", success)

			t.Log("\tWhen the other peers stay silent past the timeout.")
			{
				*f.now = start.Add(75 * time.Second)
				f.node.Tick(*f.now)

				for _, p := range f.node.Peers() {
					if p.ID == id || p.LastSeen.Equal(*f.now) {
						continue
					}
					if p.IsConnected {
						t.Fatalf("\t%s\tShould disconnect silent peer %s.", failed, p.ID)
					}
				}
				t.Logf("\t%s\tShould disconnect the silent peers.", success)
			}
		}

		f.node.Disconnect()
		f.node.Disconnect()
		require.False(t, f.node.IsConnected())
		require.Empty(t, f.node.ConnectedPeers())
		require.Equal(t, 1, f.transport.closed)
		t.Logf("\t%s\tShould disconnect once.", success)
	}
}

func TestInbox(t *testing.T) {
	t.Log("Given the need to deliver messages in process.")
	{
		now := start
		l := ledger.New(ledger.Config{Now: func() time.Time { return now }})
		inbox := network.NewInbox(l)

		n, err := network.New(network.Config{
			NodeID:     "btn_node_test",
			Ledger:     l,
			Transports: map[string]network.Transport{"native": inbox},
			Now:        func() time.Time { return now },
			Rand:       rand.New(rand.NewPCG(1, 1)),
		})
		require.NoError(t, err)

		n.Connect(now)
		require.NoError(t, n.BroadcastTransaction(ledger.Transaction{ID: "tx1", From: "a", To: "b", Amount: 1}))

		for _, p := range n.ConnectedPeers() {
			msgs := inbox.Messages(p.ID)
			if len(msgs) != 1 {
				t.Fatalf("\t%s\tShould deliver to the inbox of %s: %d", failed, p.ID, len(msgs))
			}
			require.Equal(t, network.TypeTransaction, msgs[0].Type)
			require.Equal(t, "btn_node_test", msgs[0].Sender)
		}
		t.Logf("\t%s\tShould deliver to the inbox of every native peer.", success)

		require.EqualValues(t, 3, n.Stats().MessagesSent)
		require.Empty(t, inbox.Messages("unknown"))
		t.Logf("\t%s\tShould count the deliveries.", success)
	}
}

func TestScheme(t *testing.T) {
	tt := map[string]string{
		"native://btn-node-1": "native",
		"ws://host:8080/p2p":  "ws",
		"wss://peer.btn":      "wss",
		"nowhere":             "",
	}

	for address, exp := range tt {
		if got := network.Scheme(address); got != exp {
			t.Fatalf("%s\tShould get scheme %q for %q: got %q", failed, exp, address, got)
		}
	}
	t.Logf("%s\tShould get the scheme of every address.", success)
}

package network

import (
	"strings"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/peer"
	"github.com/btn-network/blockchain/foundation/validate"
)

// handleBlock routes an inbound block through consensus. The chain is never
// changed by a relayed block.
func (n *Node) handleBlock(msg Message) {
	var pl BlockPayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: block: ERROR: %s", err)
		return
	}

	if n.validator != nil {
		d := n.validator.ValidateBlock(pl.Block)
		if !d.IsValid {
			n.evHandler("network: block: rejected block from network: %s", strings.Join(d.Reasoning, ", "))
			n.metrics.ObserveMessage(string(msg.Type), "rejected")
			return
		}
	}

	n.evHandler("network: block: received valid block #%d from network", pl.Block.Index)
}

// handleTransaction routes an inbound transaction through consensus and
// adds it to the pending pool when the sender looks genuine.
func (n *Node) handleTransaction(msg Message) {
	var tx ledger.Transaction
	if err := msg.Decode(&tx); err != nil {
		n.evHandler("network: transaction: ERROR: %s", err)
		return
	}

	if err := validate.Check(tx); err != nil {
		n.evHandler("network: transaction: ERROR: invalid transaction: %s", err)
		return
	}

	if n.validator != nil {
		v := n.validator.ValidateUserAction(tx.From, "transaction")
		if !v.IsGenuine {
			n.evHandler("network: transaction: rejected suspicious transaction from %s", tx.From)
			n.metrics.ObserveMessage(string(msg.Type), "rejected")
			return
		}
	}

	if err := n.ledger.AddTransaction(tx); err != nil {
		n.evHandler("network: transaction: ERROR: %s", err)
		return
	}

	n.evHandler("network: transaction: received transaction: %s", tx.ID)
}

// handlePeerDiscovery answers peer list requests and learns the peers from
// peer list responses.
func (n *Node) handlePeerDiscovery(msg Message) {
	var pl DiscoveryPayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: discovery: ERROR: %s", err)
		return
	}

	switch {
	case pl.RequestPeerList:
		maxPeers := defaultShareMaxPeers
		if pl.MaxPeers != nil {
			maxPeers = max(*pl.MaxPeers, 0)
		}

		connected := n.peers.Connected()
		connected = connected[:min(maxPeers, len(connected))]

		infos := make([]PeerInfo, len(connected))
		for i, p := range connected {
			infos[i] = PeerInfo{ID: p.ID, Address: p.Address, Capabilities: p.Capabilities}
		}

		resp := DiscoveryPayload{
			NodeID: n.nodeID,
			Peers:  infos,
		}
		if err := n.sendNew(TypePeerDiscovery, ttlReply, resp, n.replyTo(msg)); err != nil {
			n.evHandler("network: discovery: ERROR: %s", err)
		}

	case pl.Peers != nil:
		now := n.now()
		for _, info := range pl.Peers {
			if n.peers.Count() >= maxKnownPeers {
				break
			}

			caps := info.Capabilities
			if caps == nil {
				caps = []string{}
			}

			n.AddPeer(peer.Peer{
				ID:           info.ID,
				Address:      info.Address,
				LastSeen:     now,
				IsConnected:  false,
				Latency:      0,
				TrustScore:   0.5,
				Version:      peerVersion,
				Capabilities: caps,
			})
		}
	}
}

// handleSyncRequest sends the most recent blocks to a peer that reports a
// shorter chain.
func (n *Node) handleSyncRequest(msg Message) {
	var pl SyncRequestPayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: sync: ERROR: %s", err)
		return
	}

	ours := n.ledger.ChainLength()
	if pl.CurrentHeight == nil || *pl.CurrentHeight >= ours {
		return
	}

	resp := SyncResponsePayload{
		NodeID:        n.nodeID,
		Blocks:        n.ledger.RecentBlocks(min(maxSyncBlocks, ours-*pl.CurrentHeight)),
		CurrentHeight: ours,
	}
	if err := n.sendNew(TypeSyncResponse, ttlReply, resp, n.replyTo(msg)); err != nil {
		n.evHandler("network: sync: ERROR: %s", err)
	}
}

// handleSyncResponse validates the received blocks and logs the outcome.
func (n *Node) handleSyncResponse(msg Message) {
	var pl SyncResponsePayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: sync: ERROR: %s", err)
		return
	}

	n.evHandler("network: sync: received %d blocks for synchronization", len(pl.Blocks))

	if n.validator == nil {
		return
	}

	for _, b := range pl.Blocks {
		d := n.validator.ValidateBlock(b)
		n.evHandler("network: sync: blk[%d]: valid[%t]: confidence[%.2f]", b.Index, d.IsValid, d.Confidence)
	}
}

// handleConsensus logs the consensus message.
func (n *Node) handleConsensus(msg Message) {
	var pl ConsensusPayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: consensus: ERROR: %s", err)
		return
	}

	n.evHandler("network: consensus: received consensus message from %s: %s", msg.Sender, pl.Type)
}

// handleHeartbeat refreshes the peer named in the heartbeat.
func (n *Node) handleHeartbeat(msg Message) {
	var pl HeartbeatPayload
	if err := msg.Decode(&pl); err != nil {
		n.evHandler("network: heartbeat: ERROR: %s", err)
		return
	}

	now := n.now()
	n.peers.Update(pl.NodeID, func(p *peer.Peer) {
		p.LastSeen = now
		p.IsConnected = true
		if pl.Capabilities != nil {
			p.Capabilities = pl.Capabilities
		}
	})
}

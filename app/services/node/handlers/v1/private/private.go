// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"fmt"
	"net/http"

	"github.com/btn-network/blockchain/business/web/errs"
	"github.com/btn-network/blockchain/foundation/blockchain/consensus"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/state"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/btn-network/blockchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var latest ledger.Block
	if blocks := h.State.RecentBlocks(1); len(blocks) == 1 {
		latest = blocks[0]
	}

	status := struct {
		NodeID      string                   `json:"nodeId"`
		ChainLength int                      `json:"chainLength"`
		LatestHash  string                   `json:"latestHash"`
		LatestIndex int64                    `json:"latestIndex"`
		Mining      mining.Stats             `json:"mining"`
		Network     network.Stats            `json:"network"`
		Consensus   consensus.NetworkMetrics `json:"consensus"`
		Ledger      ledger.Stats             `json:"ledger"`
	}{
		NodeID:      h.State.NodeID(),
		ChainLength: h.State.ChainLength(),
		LatestHash:  latest.Hash,
		LatestIndex: latest.Index,
		Mining:      h.State.MiningStats(),
		Network:     h.State.NetworkStats(),
		Consensus:   h.State.NetworkMetrics(),
		Ledger:      h.State.LedgerStats(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Message queues a gossip message sent by a peer.
func (h Handlers) Message(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var msg network.Message
	if err := web.Decode(r, &msg); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	switch h.State.Worker {
	case nil:
		if err := h.State.HandleMessage(msg); err != nil {
			return err
		}
	default:
		h.State.Worker.SignalMessage(msg)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: fmt.Sprintf("message %s queued", msg.ID),
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// Gossip upgrades the request to a web socket and registers the caller as a
// duplex peer. The peer names itself with the address query parameter.
func (h Handlers) Gossip(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := r.URL.Query().Get("address")
	if address == "" {
		address = "ws://" + r.RemoteAddr
	}
	if network.Scheme(address) != "ws" && network.Scheme(address) != "wss" {
		return errs.NewTrusted(fmt.Errorf("address %q is not a websocket address", address), http.StatusBadRequest)
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	// The network owns the connection from here on.
	p, err := h.State.AcceptPeer(address, c)
	if err != nil {
		c.Close()
		return err
	}

	h.Log.Infow("gossip", "traceid", web.GetTraceID(ctx), "peer", p.ID, "address", p.Address)

	return nil
}

// Inbox returns the messages delivered to a native peer.
func (h Handlers) Inbox(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Inbox(web.Param(r, "peer")), http.StatusOK)
}

// ConnectPeer opens a connection to a peer.
func (h Handlers) ConnectPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Address string `json:"address" validate:"required"`
	}
	if err := web.Decode(r, &req); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	p, err := h.State.ConnectPeer(ctx, req.Address)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	return web.Respond(ctx, w, p, http.StatusOK)
}

// StartMining moves the mining engine to Active.
func (h Handlers) StartMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.StartMining()
	return web.Respond(ctx, w, h.State.MiningStats(), http.StatusOK)
}

// StopMining moves the mining engine back to Idle.
func (h Handlers) StopMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.StopMining()
	return web.Respond(ctx, w, h.State.MiningStats(), http.StatusOK)
}

// Performance replaces the device signals that drive the mining intensity.
func (h Handlers) Performance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var perf mining.Performance
	if err := web.Decode(r, &perf); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.State.SetPerformance(perf)

	return web.Respond(ctx, w, h.State.MiningStats(), http.StatusOK)
}

// Pool joins the pool named in the path, or leaves the current pool on a
// delete.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodDelete:
		h.State.LeavePool()
	default:
		h.State.JoinPool(web.Param(r, "id"))
	}

	return web.Respond(ctx, w, h.State.MiningStats(), http.StatusOK)
}

// Visibility records whether the page hosting the miner is hidden.
func (h Handlers) Visibility(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.State.SetHidden(req.Hidden)

	return web.Respond(ctx, w, h.State.MiningStats(), http.StatusOK)
}

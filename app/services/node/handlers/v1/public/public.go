// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btn-network/blockchain/business/web/errs"
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/registry"
	"github.com/btn-network/blockchain/foundation/blockchain/state"
	"github.com/btn-network/blockchain/foundation/events"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/btn-network/blockchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxRecentBlocks caps the number of blocks a client can ask for.
const maxRecentBlocks = 100

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Stats returns the combined view of the node.
func (h Handlers) Stats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Stats(), http.StatusOK)
}

// RecentBlocks returns the latest blocks, newest first.
func (h Handlers) RecentBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n, err := strconv.Atoi(web.Param(r, "n"))
	if err != nil || n <= 0 {
		return errs.NewTrusted(fmt.Errorf("invalid block count %q", web.Param(r, "n")), http.StatusBadRequest)
	}

	blocks := h.State.RecentBlocks(min(n, maxRecentBlocks))

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// ValidateChain verifies every block of the chain.
func (h Handlers) ValidateChain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cs := chainStatus{
		Valid:       h.State.IsChainValid(),
		ChainLength: h.State.ChainLength(),
	}
	if latest := h.State.RecentBlocks(1); len(latest) == 1 {
		cs.LatestHash = latest[0].Hash
	}

	return web.Respond(ctx, w, cs, http.StatusOK)
}

// Balance returns the balance of an address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	b := balance{
		Address: address,
		Balance: h.State.Balance(address),
	}

	return web.Respond(ctx, w, b, http.StatusOK)
}

// Transactions returns the mined transactions involving an address.
func (h Handlers) Transactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	txs := transactions{
		Address:      address,
		Transactions: h.State.TransactionsFor(address),
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Peers returns every known peer.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Peers(), http.StatusOK)
}

// ConsensusHistory returns the latest block decisions. The limit query
// parameter bounds the result.
func (h Handlers) ConsensusHistory(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil {
			return errs.NewTrusted(fmt.Errorf("invalid limit %q", s), http.StatusBadRequest)
		}
		limit = l
	}

	return web.Respond(ctx, w, h.State.ConsensusHistory(limit), http.StatusOK)
}

// Insights returns what consensus has learned so far.
func (h Handlers) Insights(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Insights(), http.StatusOK)
}

// PredictUserBehavior returns the actions the user is most likely to take.
func (h Handlers) PredictUserBehavior(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	userID := web.Param(r, "id")

	p := prediction{
		UserID:  userID,
		Actions: h.State.PredictUserBehavior(userID),
	}

	return web.Respond(ctx, w, p, http.StatusOK)
}

// Mine submits a user action for a reward.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var act action
	if err := web.Decode(r, &act); err != nil {
		return decodeError(err)
	}

	res, err := h.State.SubmitAction(act.UserID, act.ActionType)
	if err != nil {
		if errors.Is(err, state.ErrActionRejected) {
			return errs.NewTrusted(err, http.StatusUnprocessableEntity)
		}
		return fmt.Errorf("submitting action: %w", err)
	}

	h.Log.Infow("mine", "traceid", web.GetTraceID(ctx), "user", act.UserID, "action", act.ActionType, "confidence", res.Validation.Confidence)

	return web.Respond(ctx, w, res, http.StatusOK)
}

// Transfer adds a transfer to the pending pool.
func (h Handlers) Transfer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tr transfer
	if err := web.Decode(r, &tr); err != nil {
		return decodeError(err)
	}

	tx, err := h.State.Transfer(ledger.Transaction{
		From:   tr.From,
		To:     tr.To,
		Amount: tr.Amount,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return fmt.Errorf("transfer: %w", err)
	}

	return web.Respond(ctx, w, tx, http.StatusAccepted)
}

// DeployContract records a new contract.
func (h Handlers) DeployContract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var spec registry.ContractSpec
	if err := web.Decode(r, &spec); err != nil {
		return decodeError(err)
	}

	id, err := h.State.DeployContract(spec)
	if err != nil {
		return fmt.Errorf("deploying contract: %w", err)
	}

	return web.Respond(ctx, w, created{ID: id}, http.StatusCreated)
}

// CallContract records a call to a deployed contract.
func (h Handlers) CallContract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var c call
	if err := web.Decode(r, &c); err != nil {
		return decodeError(err)
	}

	res, err := h.State.CallContract(registry.Call{
		ContractID: web.Param(r, "id"),
		Method:     c.Method,
		Params:     c.Params,
		Caller:     c.Caller,
		Value:      c.Value,
	})
	if err != nil {
		if errors.Is(err, registry.ErrContractNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return fmt.Errorf("calling contract: %w", err)
	}

	return web.Respond(ctx, w, res, http.StatusOK)
}

// CreateCollection records a new NFT collection.
func (h Handlers) CreateCollection(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var spec registry.CollectionSpec
	if err := web.Decode(r, &spec); err != nil {
		return decodeError(err)
	}

	id, err := h.State.CreateCollection(spec)
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	return web.Respond(ctx, w, created{ID: id}, http.StatusCreated)
}

// MintNFT mints a token into a collection.
func (h Handlers) MintNFT(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var spec registry.NFTSpec
	if err := web.Decode(r, &spec); err != nil {
		return decodeError(err)
	}

	id, err := h.State.MintNFT(spec)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrCollectionNotFound):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.Is(err, registry.ErrMaxSupply):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return fmt.Errorf("minting nft: %w", err)
	}

	return web.Respond(ctx, w, created{ID: id}, http.StatusCreated)
}

// =============================================================================

// decodeError keeps field errors as they are so they render with the fields
// map, anything else is a malformed body.
func decodeError(err error) error {
	if validate.IsFieldErrors(err) {
		return err
	}
	return errs.NewTrusted(err, http.StatusBadRequest)
}

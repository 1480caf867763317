// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/btn-network/blockchain/app/services/node/handlers/v1/private"
	"github.com/btn-network/blockchain/app/services/node/handlers/v1/public"
	"github.com/btn-network/blockchain/foundation/blockchain/state"
	"github.com/btn-network/blockchain/foundation/events"
	"github.com/btn-network/blockchain/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config, mw ...web.Middleware) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/stats", pbl.Stats, mw...)
	app.Handle(http.MethodGet, version, "/blocks/recent/:n", pbl.RecentBlocks, mw...)
	app.Handle(http.MethodGet, version, "/chain/validate", pbl.ValidateChain, mw...)
	app.Handle(http.MethodGet, version, "/balances/:address", pbl.Balance, mw...)
	app.Handle(http.MethodGet, version, "/transactions/:address", pbl.Transactions, mw...)
	app.Handle(http.MethodGet, version, "/peers", pbl.Peers, mw...)
	app.Handle(http.MethodGet, version, "/consensus/history", pbl.ConsensusHistory, mw...)
	app.Handle(http.MethodGet, version, "/consensus/insights", pbl.Insights, mw...)
	app.Handle(http.MethodGet, version, "/users/:id/predict", pbl.PredictUserBehavior, mw...)
	app.Handle(http.MethodPost, version, "/mine", pbl.Mine, mw...)
	app.Handle(http.MethodPost, version, "/transfer", pbl.Transfer, mw...)
	app.Handle(http.MethodPost, version, "/contracts", pbl.DeployContract, mw...)
	app.Handle(http.MethodPost, version, "/contracts/:id/call", pbl.CallContract, mw...)
	app.Handle(http.MethodPost, version, "/nfts/collections", pbl.CreateCollection, mw...)
	app.Handle(http.MethodPost, version, "/nfts", pbl.MintNFT, mw...)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/message", prv.Message)
	app.Handle(http.MethodGet, version, "/node/gossip", prv.Gossip)
	app.Handle(http.MethodGet, version, "/node/inbox/:peer", prv.Inbox)
	app.Handle(http.MethodPost, version, "/node/peers", prv.ConnectPeer)
	app.Handle(http.MethodPost, version, "/node/mining/start", prv.StartMining)
	app.Handle(http.MethodPost, version, "/node/mining/stop", prv.StopMining)
	app.Handle(http.MethodPut, version, "/node/mining/performance", prv.Performance)
	app.Handle(http.MethodPut, version, "/node/mining/visibility", prv.Visibility)
	app.Handle(http.MethodPost, version, "/node/mining/pool/:id", prv.Pool)
	app.Handle(http.MethodDelete, version, "/node/mining/pool", prv.Pool)
}

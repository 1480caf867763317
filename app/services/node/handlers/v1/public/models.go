package public

import (
	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
)

type action struct {
	UserID     string `json:"userId" validate:"required"`
	ActionType string `json:"actionType" validate:"required"`
}

type transfer struct {
	From   string  `json:"from" validate:"required"`
	To     string  `json:"to" validate:"required"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

type call struct {
	Method string  `json:"method" validate:"required"`
	Params []any   `json:"params"`
	Caller string  `json:"caller" validate:"required"`
	Value  float64 `json:"value" validate:"gte=0"`
}

type created struct {
	ID string `json:"id"`
}

type chainStatus struct {
	Valid       bool   `json:"valid"`
	ChainLength int    `json:"chainLength"`
	LatestHash  string `json:"latestHash"`
}

type balance struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

type transactions struct {
	Address      string               `json:"address"`
	Transactions []ledger.Transaction `json:"transactions"`
}

type prediction struct {
	UserID  string   `json:"userId"`
	Actions []string `json:"predictedActions"`
}

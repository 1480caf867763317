package ledger

import "fmt"

// Transaction represents a transfer of value between two addresses. Once
// created it is never modified; it is held in the pending pool until mined
// and then embedded verbatim into a block.
type Transaction struct {
	ID        string  `json:"id" validate:"required"`
	From      string  `json:"from" validate:"required"`
	To        string  `json:"to" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Timestamp int64   `json:"timestamp"`
	Signature string  `json:"signature,omitempty"`
}

// String implements the fmt.Stringer interface for logging.
func (tx Transaction) String() string {
	return fmt.Sprintf("%s:%s->%s:%g", tx.ID, tx.From, tx.To, tx.Amount)
}

// txKey identifies a transaction inside the pending pool.
func txKey(tx Transaction) string {
	return tx.ID
}

// Event payloads published to the message bus. Subjects are
// <prefix>.orders.<state>, <prefix>.escrows.<type> and <prefix>.fills.<id>.
package events

import (
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
)

// OrderTransition announces one swap order state change
type OrderTransition struct {
	OrderID   string           `json:"order_id"`
	FromState models.SwapState `json:"from_state,omitempty"`
	State     models.SwapState `json:"state"`
	FromChain string           `json:"from_chain"`
	ToChain   string           `json:"to_chain"`
	Amount    string           `json:"amount"`
	ToAmount  string           `json:"to_amount,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	At        time.Time        `json:"at"`
}

// FillRecorded announces a partial fill against a parent order
type FillRecorded struct {
	ParentOrderID string    `json:"parent_order_id"`
	ChildOrderID  string    `json:"child_order_id"`
	FilledAmount  string    `json:"filled_amount"`
	Remaining     string    `json:"remaining"`
	At            time.Time `json:"at"`
}

package inventory

import "time"

// MovementAggregate is the aggregate type under which movements are appended.
const MovementAggregate = "StockMovement"

// Movement event types.
const (
	EventStockCreated   = "StockCreated"
	EventStockReserved  = "StockReserved"
	EventStockConfirmed = "StockConfirmed"
	EventStockReleased  = "StockReleased"
	EventStockAdjusted  = "StockAdjusted"
	EventStockRestocked = "StockRestocked"
)

// Movement is a write-once audit fact for one ledger operation. Replaying
// QuantityChange from zero yields the record's Quantity.
type Movement struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	Type             string    `json:"type"`
	QuantityChange   int       `json:"quantity_change"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Reason           string    `json:"reason"`
	ReferenceID      string    `json:"reference_id,omitempty"`
	Actor            string    `json:"actor,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	reasonCreated   = "Initial stock"
	reasonReserved  = "Reserved for order"
	reasonConfirmed = "Order confirmed - stock deducted"
	reasonReleased  = "Reservation released"
	reasonRestocked = "Order cancelled after confirmation - stock returned"
)

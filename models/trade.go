package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the trade order's state machine; filled, cancelled and
// expired are terminal.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// TradeOrder is one order-book entry.
type TradeOrder struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OwnerID         uuid.UUID   `json:"owner_id" db:"owner_id"`
	VillageID       uuid.UUID   `json:"village_id" db:"village_id"`
	Side            OrderSide   `json:"side" db:"side"`
	ResourceType    string      `json:"resource_type" db:"resource_type"`
	Quantity        int         `json:"quantity" db:"quantity"`
	QuantityFilled  int         `json:"quantity_filled" db:"quantity_filled"`
	PricePerUnit    int         `json:"price_per_unit" db:"price_per_unit"`
	Status          OrderStatus `json:"status" db:"status"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// QuantityRemaining is quantity - quantity_filled.
func (o *TradeOrder) QuantityRemaining() int {
	return o.Quantity - o.QuantityFilled
}

func (o *TradeOrder) IsTerminal() bool {
	switch o.Status {
	case OrderFilled, OrderCancelled, OrderExpired:
		return true
	}
	return false
}

// LockType is the closed set of resource-lock purposes.
type LockType string

const TradeOrderLock LockType = "trade_order"

// ResourceLock reserves resources on behalf of a reference (order id,
// mission id, ...). The effective available amount for a village is
// village.amount − Σ active-lock.amount for that resource.
type ResourceLock struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	VillageID    uuid.UUID  `json:"village_id" db:"village_id"`
	ResourceType string     `json:"resource_type" db:"resource_type"`
	Amount       int        `json:"amount" db:"amount"`
	LockType     LockType   `json:"lock_type" db:"lock_type"`
	ReferenceID  uuid.UUID  `json:"reference_id" db:"reference_id"`
	ReleasedAt   *time.Time `json:"released_at,omitempty" db:"released_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

func (l *ResourceLock) IsActive() bool { return l.ReleasedAt == nil }

// TradeTransaction records one fill against an order, per §4.F step 4/5
// "record a trade transaction". The spec's open question about a missing
// paired buy-order row (§9) is resolved here by making both sides of the
// record nullable-by-omission: BuyerID/SellerID are always the two real
// parties to the fill, and OrderID references whichever order was
// accepted against, not a synthetic counterpart order.
type TradeTransaction struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrderID      uuid.UUID `json:"order_id" db:"order_id"`
	BuyerID      uuid.UUID `json:"buyer_id" db:"buyer_id"`
	SellerID     uuid.UUID `json:"seller_id" db:"seller_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PricePerUnit int        `json:"price_per_unit" db:"price_per_unit"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

const (
	MinOrderQuantity = 100
	MaxOrderQuantity = 1_000_000
	MinOrderPrice    = 1
	MaxOrderPrice    = 10_000
	MinExpiryHours   = 1
	MaxExpiryHours   = 168
	MaxOpenOrdersPerUser = 50
	MinFillQuantity  = 100
)

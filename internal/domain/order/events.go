package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreatedEvent is emitted once a cart has been materialized into an order
// and its stock reservations are held.
type CreatedEvent struct {
	OrderID     string          `json:"order_id"`
	OwnerID     string          `json:"owner_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	LineCount   int             `json:"line_count"`
	ExpiresAt   time.Time       `json:"expires_at"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (CreatedEvent) EventName() string       { return "order.created" }
func (e CreatedEvent) PartitionKey() string  { return e.OrderID }

func NewCreatedEvent(o *Order) CreatedEvent {
	return CreatedEvent{
		OrderID:     o.ID,
		OwnerID:     o.OwnerID,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		LineCount:   len(o.Lines),
		ExpiresAt:   o.ExpiresAt,
		OccurredAt:  time.Now().UTC(),
	}
}

// StatusChangedEvent is emitted for every successful transition.
type StatusChangedEvent struct {
	OrderID    string    `json:"order_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Trigger    Trigger   `json:"trigger"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (StatusChangedEvent) EventName() string      { return "order.status_changed" }
func (e StatusChangedEvent) PartitionKey() string { return e.OrderID }

func NewStatusChangedEvent(orderID string, from, to Status, trg Trigger) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    orderID,
		From:       from,
		To:         to,
		Trigger:    trg,
		OccurredAt: time.Now().UTC(),
	}
}

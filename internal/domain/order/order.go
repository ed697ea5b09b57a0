package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: already exists")
	ErrNoLines           = errors.New("order: at least one line is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidUnitPrice  = errors.New("order: unit price must be zero or greater")
	ErrIllegalTransition = errors.New("order: illegal transition")
)

type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusApproved        Status = "approved"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusExpired         Status = "expired"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
)

// Line is a priced order line. Quantity and unit price are copied from the
// cart and catalog at materialization time and never recomputed.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is immutable after creation except for Status and the two gateway
// references, which are each written once.
type Order struct {
	ID          string
	OwnerID     string
	Lines       []Line
	TotalAmount decimal.Decimal
	Currency    string
	Status      Status

	GatewayIntentID   string
	GatewayPaymentRef string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// New builds an order snapshot in the awaiting_payment state. TotalAmount is
// fixed here as the sum of line subtotals.
func New(id, ownerID, currency string, lines []Line, paymentWindow time.Duration) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}

	total := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return nil, ErrInvalidUnitPrice
		}
		total = total.Add(l.Subtotal())
	}

	now := time.Now().UTC()
	return &Order{
		ID:          id,
		OwnerID:     ownerID,
		Lines:       append([]Line(nil), lines...),
		TotalAmount: total,
		Currency:    currency,
		Status:      StatusAwaitingPayment,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(paymentWindow),
	}, nil
}

// AwaitingPayment reports whether the order can still accept a payment.
func (o *Order) AwaitingPayment() bool { return o.Status == StatusAwaitingPayment }

// PaymentDue reports whether the payment window is still open at t.
func (o *Order) PaymentDue(t time.Time) bool {
	return o.AwaitingPayment() && t.Before(o.ExpiresAt)
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

package stock

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductUnavailable = errors.New("stock: product unavailable")
	ErrInsufficientStock  = errors.New("stock: insufficient stock")
	ErrInvalidQuantity    = errors.New("stock: quantity must be greater than zero")
)

// InsufficientStockError carries the contention detail a caller needs to
// retry with fresh data.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type State string

const (
	StateHeld      State = "held"
	StateCommitted State = "committed"
	StateReleased  State = "released"
)

// Reservation is a provisional hold on stock tied to one order. Reservations
// are never deleted, only state-transitioned, so the ledger doubles as an
// audit trail.
type Reservation struct {
	ID        string
	ProductID string
	OrderID   string
	Quantity  int
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Line is a reservation request for one product.
type Line struct {
	ProductID string
	Quantity  int
}

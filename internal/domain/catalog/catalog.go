package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("catalog: product not found")

// Availability is what the checkout flow needs from the catalog: the current
// price and the stock not yet held or committed by reservations.
type Availability struct {
	Price          decimal.Decimal
	AvailableStock int
}

// Provider is the outbound port to the product catalog collaborator.
type Provider interface {
	GetAvailability(ctx context.Context, productID string) (Availability, error)
}

package memory

import (
	"context"
	"sync"

	domain "github.com/shopkit/checkout/internal/domain/catalog"
	"github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopspring/decimal"
)

// Catalog is a price table backed by the reservation ledger for availability,
// so AvailableStock already accounts for held and committed reservations.
type Catalog struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	ledger stock.Ledger
}

func NewCatalog(ledger stock.Ledger) *Catalog {
	return &Catalog{
		prices: make(map[string]decimal.Decimal),
		ledger: ledger,
	}
}

// SetProduct registers or updates a product's price.
func (c *Catalog) SetProduct(productID string, price decimal.Decimal) {
	c.mu.Lock()
	c.prices[productID] = price
	c.mu.Unlock()
}

func (c *Catalog) GetAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	c.mu.RLock()
	price, ok := c.prices[productID]
	c.mu.RUnlock()
	if !ok {
		return domain.Availability{}, domain.ErrNotFound
	}

	available, err := c.ledger.Available(ctx, productID)
	if err != nil {
		return domain.Availability{}, domain.ErrNotFound
	}

	return domain.Availability{Price: price, AvailableStock: available}, nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/shopkit/checkout/internal/domain/stock"
)

type productStock struct {
	mu        sync.Mutex
	total     int
	held      int
	committed int
}

func (p *productStock) available() int { return p.total - p.held - p.committed }

// StockLedger is the in-memory reservation ledger. Stock checks are
// serialized per product, not globally: each product carries its own mutex
// and multi-product reservations lock products in sorted order so unrelated
// checkouts never contend and concurrent ones cannot deadlock.
type StockLedger struct {
	mu           sync.RWMutex
	products     map[string]*productStock
	reservations map[string][]*domain.Reservation // orderID -> reservations
}

func NewStockLedger() *StockLedger {
	return &StockLedger{
		products:     make(map[string]*productStock),
		reservations: make(map[string][]*domain.Reservation),
	}
}

func (l *StockLedger) SetTotal(ctx context.Context, productID string, total int) error {
	_ = ctx
	if total < 0 {
		return domain.ErrInvalidQuantity
	}

	p := l.product(productID, true)
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
	return nil
}

func (l *StockLedger) Available(ctx context.Context, productID string) (int, error) {
	_ = ctx

	p := l.product(productID, false)
	if p == nil {
		return 0, domain.ErrProductUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available(), nil
}

// Reserve holds stock for all lines or none. The per-product check-and-hold
// is done under that product's lock; on the first failing line every hold
// already taken in this call is undone before returning.
func (l *StockLedger) Reserve(ctx context.Context, orderID string, lines []domain.Line) ([]*domain.Reservation, error) {
	_ = ctx
	if len(lines) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	sorted := append([]domain.Line(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	now := time.Now().UTC()
	taken := make([]domain.Line, 0, len(sorted))
	reservations := make([]*domain.Reservation, 0, len(sorted))

	for _, line := range sorted {
		if line.Quantity <= 0 {
			l.undo(taken)
			return nil, domain.ErrInvalidQuantity
		}

		p := l.product(line.ProductID, false)
		if p == nil {
			l.undo(taken)
			return nil, domain.ErrProductUnavailable
		}

		p.mu.Lock()
		if p.available() < line.Quantity {
			available := p.available()
			p.mu.Unlock()
			l.undo(taken)
			return nil, &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			}
		}
		p.held += line.Quantity
		p.mu.Unlock()

		taken = append(taken, line)
		reservations = append(reservations, &domain.Reservation{
			ID:        uuid.NewString(),
			ProductID: line.ProductID,
			OrderID:   orderID,
			Quantity:  line.Quantity,
			State:     domain.StateHeld,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	l.mu.Lock()
	l.reservations[orderID] = append(l.reservations[orderID], reservations...)
	l.mu.Unlock()

	return cloneReservations(reservations), nil
}

func (l *StockLedger) Commit(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateHeld, domain.StateCommitted, func(p *productStock, qty int) {
		p.held -= qty
		p.committed += qty
	})
}

func (l *StockLedger) Release(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateHeld, domain.StateReleased, func(p *productStock, qty int) {
		p.held -= qty
	})
}

func (l *StockLedger) ReleaseCommitted(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateCommitted, domain.StateReleased, func(p *productStock, qty int) {
		p.committed -= qty
	})
}

func (l *StockLedger) ByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneReservations(l.reservations[orderID]), nil
}

// transition moves the order's reservations in state from to state to,
// adjusting the product counters. Reservations in other states are skipped,
// which makes the operation idempotent.
func (l *StockLedger) transition(ctx context.Context, orderID string, from, to domain.State, adjust func(*productStock, int)) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.reservations[orderID] {
		if r.State != from {
			continue
		}

		// l.mu is already held; reading the map directly avoids re-locking
		// through product(), which would self-deadlock.
		p := l.products[r.ProductID]
		if p != nil {
			p.mu.Lock()
			adjust(p, r.Quantity)
			p.mu.Unlock()
		}

		r.State = to
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (l *StockLedger) undo(taken []domain.Line) {
	for _, line := range taken {
		if p := l.product(line.ProductID, false); p != nil {
			p.mu.Lock()
			p.held -= line.Quantity
			p.mu.Unlock()
		}
	}
}

func (l *StockLedger) product(productID string, create bool) *productStock {
	l.mu.RLock()
	p := l.products[productID]
	l.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if p = l.products[productID]; p == nil {
		p = &productStock{}
		l.products[productID] = p
	}
	return p
}

func cloneReservations(rs []*domain.Reservation) []*domain.Reservation {
	out := make([]*domain.Reservation, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Clone())
	}
	return out
}

package stock

import "context"

// Ledger tracks available, held, and committed quantities per product.
// Implementations guarantee that held + committed never exceeds total stock:
// every check-and-reserve is a single atomic operation per product, and
// callers never read-then-write the counters themselves.
type Ledger interface {
	// SetTotal seeds or adjusts the total stock of a product.
	SetTotal(ctx context.Context, productID string, total int) error
	// Available returns total - held - committed for the product.
	Available(ctx context.Context, productID string) (int, error)
	// Reserve holds stock for every line or for none of them. On success one
	// held Reservation per line is recorded against orderID.
	Reserve(ctx context.Context, orderID string, lines []Line) ([]*Reservation, error)
	// Commit moves the order's held reservations to committed. Idempotent.
	Commit(ctx context.Context, orderID string) error
	// Release moves the order's held reservations to released, returning the
	// quantity to available stock. Idempotent.
	Release(ctx context.Context, orderID string) error
	// ReleaseCommitted moves the order's committed reservations to released,
	// returning sold quantity to available stock (refunds). Idempotent.
	ReleaseCommitted(ctx context.Context, orderID string) error
	// ByOrder returns every reservation ever made for the order.
	ByOrder(ctx context.Context, orderID string) ([]*Reservation, error)
}

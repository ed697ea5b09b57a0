package order

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// ListExpiring returns awaiting_payment orders whose payment window
	// closed at or before asOf, oldest first, capped at limit.
	ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]*Order, error)
	// ListByStatus returns every order currently in one of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Order, error)
}

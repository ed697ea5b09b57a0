package cart

import "context"

type Repository interface {
	Get(ctx context.Context, ownerID string) (*Cart, error)
	Save(ctx context.Context, cart *Cart) error
	Delete(ctx context.Context, ownerID string) error
}

package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domain "github.com/shopkit/checkout/internal/domain/cart"
	"github.com/shopkit/checkout/internal/observability"
)

const cartTTL = 15 * time.Minute

// CartRepository is a read-through cache in front of another cart repository.
// Writes go to the backing store first and invalidate the cached entry, so a
// cache outage only costs latency, never correctness.
type CartRepository struct {
	client *redis.Client
	next   domain.Repository
	log    observability.Logger
}

func New(client *redis.Client, next domain.Repository, logger observability.Logger) *CartRepository {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CartRepository{
		client: client,
		next:   next,
		log:    logger.With(observability.F("component", "cart_cache")),
	}
}

func (r *CartRepository) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	key := cacheKey(ownerID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var cart domain.Cart
		if err := json.Unmarshal(data, &cart); err == nil {
			return &cart, nil
		}
		// corrupt entry: drop and fall through to the store
		_ = r.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn("cart_cache_get_failed",
			observability.F("owner_id", ownerID),
			observability.F("error", err.Error()),
		)
	}

	cart, err := r.next.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	r.fill(ctx, cart)
	return cart, nil
}

func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	if err := r.next.Save(ctx, cart); err != nil {
		return err
	}
	r.fill(ctx, cart)
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	if err := r.next.Delete(ctx, ownerID); err != nil {
		return err
	}
	if err := r.client.Del(ctx, cacheKey(ownerID)).Err(); err != nil {
		r.log.Warn("cart_cache_invalidate_failed",
			observability.F("owner_id", ownerID),
			observability.F("error", err.Error()),
		)
	}
	return nil
}

func (r *CartRepository) fill(ctx context.Context, cart *domain.Cart) {
	data, err := json.Marshal(cart)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, cacheKey(cart.OwnerID), data, cartTTL).Err(); err != nil {
		r.log.Warn("cart_cache_fill_failed",
			observability.F("owner_id", cart.OwnerID),
			observability.F("error", err.Error()),
		)
	}
}

func cacheKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}

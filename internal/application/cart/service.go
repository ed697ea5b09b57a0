package cart

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/shopkit/checkout/internal/domain/cart"
	"github.com/shopkit/checkout/internal/domain/catalog"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"
)

// Service manages pre-checkout carts. Cart mutations validate the product
// against the catalog but never touch the stock ledger: holds are only taken
// at checkout.
type Service struct {
	carts   domain.Repository
	catalog catalog.Provider

	log        observability.Logger
	reqCounter observability.Counter
}

func NewService(carts domain.Repository, catalog catalog.Provider, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		carts:      carts,
		catalog:    catalog,
		log:        tel.Logger().With(observability.F("service", "cart-service")),
		reqCounter: tel.Metrics().Counter(observability.MUsecaseRequests),
	}
}

// Get returns the owner's cart. A missing cart reads as an empty one.
func (s *Service) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.New(ownerID), nil
	}
	return c, err
}

// AddItem merges quantity into the owner's cart line for productID.
func (s *Service) AddItem(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, "cart.add_item", ownerID, productID, quantity, func(c *domain.Cart) error {
		return c.Add(productID, quantity)
	})
}

// SetItem replaces the line quantity. Zero removes the line.
func (s *Service) SetItem(ctx context.Context, ownerID, productID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, "cart.set_item", ownerID, productID, quantity, func(c *domain.Cart) error {
		return c.Set(productID, quantity)
	})
}

// RemoveItem drops the product line. Removing an absent line is a no-op.
func (s *Service) RemoveItem(ctx context.Context, ownerID, productID string) (*domain.Cart, error) {
	c, err := s.Get(ctx, ownerID)
	if err != nil {
		s.count("cart.remove_item", "error")
		return nil, err
	}
	c.Remove(productID)
	if err := s.carts.Save(ctx, c); err != nil {
		s.count("cart.remove_item", "error")
		return nil, fmt.Errorf("cart: save: %w", err)
	}
	s.count("cart.remove_item", "success")
	return c, nil
}

// Clear empties the owner's cart.
func (s *Service) Clear(ctx context.Context, ownerID string) error {
	if err := s.carts.Delete(ctx, ownerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.count("cart.clear", "error")
		return err
	}
	s.count("cart.clear", "success")
	return nil
}

func (s *Service) mutate(
	ctx context.Context,
	useCase, ownerID, productID string,
	quantity int,
	apply func(*domain.Cart) error,
) (*domain.Cart, error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("owner_id", ownerID),
		observability.F("product_id", productID),
	)

	if quantity > 0 {
		if _, err := s.catalog.GetAvailability(ctx, productID); err != nil {
			s.count(useCase, "rejected")
			return nil, err
		}
	}

	c, err := s.Get(ctx, ownerID)
	if err != nil {
		s.count(useCase, "error")
		return nil, err
	}
	if err := apply(c); err != nil {
		s.count(useCase, "rejected")
		return nil, err
	}
	if err := s.carts.Save(ctx, c); err != nil {
		s.count(useCase, "error")
		return nil, fmt.Errorf("cart: save: %w", err)
	}

	s.count(useCase, "success")
	logger.Debug("cart_updated", observability.F("quantity", quantity))
	return c, nil
}

func (s *Service) count(useCase, outcome string) {
	s.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}

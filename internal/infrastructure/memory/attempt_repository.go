package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/shopkit/checkout/internal/domain/payment"
)

type AttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt   // attemptID -> attempt
	byOrder  map[string][]*domain.Attempt // orderID -> attempts, oldest first
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{
		attempts: make(map[string]*domain.Attempt),
		byOrder:  make(map[string][]*domain.Attempt),
	}
}

func (r *AttemptRepository) Insert(ctx context.Context, attempt *domain.Attempt) error {
	_ = ctx
	if attempt == nil || attempt.ID == "" {
		return fmt.Errorf("attempt repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := attempt.Clone()
	r.attempts[clone.ID] = clone
	r.byOrder[clone.OrderID] = append(r.byOrder[clone.OrderID], clone)
	return nil
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *domain.Attempt) error {
	_ = ctx
	if attempt == nil || attempt.ID == "" {
		return fmt.Errorf("attempt repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.attempts[attempt.ID]
	if !ok {
		return domain.ErrAttemptNotFound
	}

	*existing = *attempt.Clone()
	return nil
}

func (r *AttemptRepository) LatestByOrder(ctx context.Context, orderID string) (*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := r.byOrder[orderID]
	if len(attempts) == 0 {
		return nil, domain.ErrAttemptNotFound
	}

	latest := attempts[0]
	for _, a := range attempts[1:] {
		if a.UpdatedAt.After(latest.UpdatedAt) {
			latest = a
		}
	}
	return latest.Clone(), nil
}

func (r *AttemptRepository) AuthorizedByOrder(ctx context.Context, orderID string) (*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.byOrder[orderID] {
		if a.Outcome == domain.OutcomeAuthorized {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrAttemptNotFound
}

package gormstore

import (
	"context"
	"errors"

	domain "github.com/shopkit/checkout/internal/domain/payment"
	"gorm.io/gorm"
)

type AttemptRepository struct{ db *gorm.DB }

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Insert(ctx context.Context, attempt *domain.Attempt) error {
	return r.db.WithContext(ctx).Create(toAttemptModel(attempt)).Error
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *domain.Attempt) error {
	res := r.db.WithContext(ctx).Model(&attemptModel{}).Where("id = ?", attempt.ID).
		Updates(map[string]any{
			"gateway_payment_ref": attempt.GatewayPaymentRef,
			"signature_valid":     attempt.SignatureValid,
			"outcome":             string(attempt.Outcome),
			"updated_at":          attempt.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptRepository) LatestByOrder(ctx context.Context, orderID string) (*domain.Attempt, error) {
	var model attemptModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).
		Order("updated_at desc").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(&model), nil
}

func (r *AttemptRepository) AuthorizedByOrder(ctx context.Context, orderID string) (*domain.Attempt, error) {
	var model attemptModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND outcome = ?", orderID, string(domain.OutcomeAuthorized)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(&model), nil
}

func toAttemptModel(a *domain.Attempt) *attemptModel {
	return &attemptModel{
		ID:                a.ID,
		OrderID:           a.OrderID,
		GatewayIntentID:   a.GatewayIntentID,
		GatewayPaymentRef: a.GatewayPaymentRef,
		SignatureValid:    a.SignatureValid,
		Outcome:           string(a.Outcome),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) *domain.Attempt {
	return &domain.Attempt{
		ID:                m.ID,
		OrderID:           m.OrderID,
		GatewayIntentID:   m.GatewayIntentID,
		GatewayPaymentRef: m.GatewayPaymentRef,
		SignatureValid:    m.SignatureValid,
		Outcome:           domain.Outcome(m.Outcome),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

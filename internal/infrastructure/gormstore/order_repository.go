package gormstore

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/shopkit/checkout/internal/domain/order"
	"gorm.io/gorm"
)

type OrderRepository struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var model orderModel
	err := r.db.WithContext(ctx).Preload("Lines").Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromOrderModel(&model), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	res := r.db.WithContext(ctx).Model(&orderModel{}).Where("id = ?", order.ID).Updates(map[string]any{
		"status":              string(order.Status),
		"gateway_intent_id":   order.GatewayIntentID,
		"gateway_payment_ref": order.GatewayPaymentRef,
		"updated_at":          order.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]*domain.Order, error) {
	var models []orderModel
	q := r.db.WithContext(ctx).Preload("Lines").
		Where("status = ? AND expires_at <= ?", string(domain.StatusAwaitingPayment), asOf).
		Order("expires_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return fromOrderModels(models), nil
}

func (r *OrderRepository) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.Order, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	var models []orderModel
	if err := r.db.WithContext(ctx).Preload("Lines").
		Where("status IN ?", names).Find(&models).Error; err != nil {
		return nil, err
	}
	return fromOrderModels(models), nil
}

func toOrderModel(o *domain.Order) *orderModel {
	model := &orderModel{
		ID:                o.ID,
		OwnerID:           o.OwnerID,
		TotalAmount:       o.TotalAmount,
		Currency:          o.Currency,
		Status:            string(o.Status),
		GatewayIntentID:   o.GatewayIntentID,
		GatewayPaymentRef: o.GatewayPaymentRef,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		ExpiresAt:         o.ExpiresAt,
	}
	for i, l := range o.Lines {
		model.Lines = append(model.Lines, orderLineModel{
			OrderID:   o.ID,
			Position:  i,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return model
}

func fromOrderModel(m *orderModel) *domain.Order {
	lines := append([]orderLineModel(nil), m.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })

	o := &domain.Order{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		TotalAmount:       m.TotalAmount,
		Currency:          m.Currency,
		Status:            domain.Status(m.Status),
		GatewayIntentID:   m.GatewayIntentID,
		GatewayPaymentRef: m.GatewayPaymentRef,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		ExpiresAt:         m.ExpiresAt,
	}
	for _, l := range lines {
		o.Lines = append(o.Lines, domain.Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return o
}

func fromOrderModels(models []orderModel) []*domain.Order {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, fromOrderModel(&models[i]))
	}
	return out
}

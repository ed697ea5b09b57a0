package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domain "github.com/shopkit/checkout/internal/domain/stock"
	"gorm.io/gorm"
)

// StockLedger persists reservations in MySQL. The check-and-hold is a single
// conditional UPDATE guarded by `total - held - committed >= ?`, so the
// database row lock serializes concurrent checkouts per product. Multi-line
// reservations run inside one transaction and roll back as a whole.
type StockLedger struct{ db *gorm.DB }

func NewStockLedger(db *gorm.DB) *StockLedger {
	return &StockLedger{db: db}
}

func (l *StockLedger) SetTotal(ctx context.Context, productID string, total int) error {
	if total < 0 {
		return domain.ErrInvalidQuantity
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row productStockModel
		err := tx.Where("product_id = ?", productID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&productStockModel{
				ProductID: productID,
				Total:     total,
				UpdatedAt: time.Now().UTC(),
			}).Error
		case err != nil:
			return err
		}
		return tx.Model(&productStockModel{}).Where("product_id = ?", productID).
			Updates(map[string]any{"total": total, "updated_at": time.Now().UTC()}).Error
	})
}

func (l *StockLedger) Available(ctx context.Context, productID string) (int, error) {
	var row productStockModel
	err := l.db.WithContext(ctx).Where("product_id = ?", productID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, domain.ErrProductUnavailable
	}
	if err != nil {
		return 0, err
	}
	return row.Total - row.Held - row.Committed, nil
}

func (l *StockLedger) Reserve(ctx context.Context, orderID string, lines []domain.Line) ([]*domain.Reservation, error) {
	if len(lines) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := time.Now().UTC()
	reservations := make([]*domain.Reservation, 0, len(lines))

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				return domain.ErrInvalidQuantity
			}

			res := tx.Model(&productStockModel{}).
				Where("product_id = ? AND total - held - committed >= ?", line.ProductID, line.Quantity).
				Updates(map[string]any{
					"held":       gorm.Expr("held + ?", line.Quantity),
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var row productStockModel
				err := tx.Where("product_id = ?", line.ProductID).First(&row).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrProductUnavailable
				}
				if err != nil {
					return err
				}
				return &domain.InsufficientStockError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: row.Total - row.Held - row.Committed,
				}
			}

			model := reservationModel{
				ID:        uuid.NewString(),
				ProductID: line.ProductID,
				OrderID:   orderID,
				Quantity:  line.Quantity,
				State:     string(domain.StateHeld),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			reservations = append(reservations, fromReservationModel(&model))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (l *StockLedger) Commit(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateHeld, domain.StateCommitted)
}

// counterUpdates maps a reservation state change to the counter updates it
// implies for the product row.
func counterUpdates(from, to domain.State, qty int, now time.Time) map[string]any {
	updates := map[string]any{"updated_at": now}
	switch {
	case from == domain.StateHeld && to == domain.StateCommitted:
		updates["held"] = gorm.Expr("held - ?", qty)
		updates["committed"] = gorm.Expr("committed + ?", qty)
	case from == domain.StateHeld && to == domain.StateReleased:
		updates["held"] = gorm.Expr("held - ?", qty)
	case from == domain.StateCommitted && to == domain.StateReleased:
		updates["committed"] = gorm.Expr("committed - ?", qty)
	}
	return updates
}

func (l *StockLedger) Release(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateHeld, domain.StateReleased)
}

func (l *StockLedger) ReleaseCommitted(ctx context.Context, orderID string) error {
	return l.transition(ctx, orderID, domain.StateCommitted, domain.StateReleased)
}

func (l *StockLedger) ByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []reservationModel
	if err := l.db.WithContext(ctx).Where("order_id = ?", orderID).
		Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		out = append(out, fromReservationModel(&models[i]))
	}
	return out, nil
}

func (l *StockLedger) transition(ctx context.Context, orderID string, from, to domain.State) error {
	now := time.Now().UTC()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []reservationModel
		if err := tx.Where("order_id = ? AND state = ?", orderID, string(from)).
			Find(&models).Error; err != nil {
			return err
		}

		for _, m := range models {
			if err := tx.Model(&productStockModel{}).
				Where("product_id = ?", m.ProductID).
				Updates(counterUpdates(from, to, m.Quantity, now)).Error; err != nil {
				return err
			}
			if err := tx.Model(&reservationModel{}).
				Where("id = ? AND state = ?", m.ID, string(from)).
				Updates(map[string]any{"state": string(to), "updated_at": now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func fromReservationModel(m *reservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:        m.ID,
		ProductID: m.ProductID,
		OrderID:   m.OrderID,
		Quantity:  m.Quantity,
		State:     domain.State(m.State),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

package gormstore

import (
	"context"
	"errors"
	"time"

	domain "github.com/shopkit/checkout/internal/domain/cart"
	"gorm.io/gorm"
)

type CartRepository struct{ db *gorm.DB }

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var model cartModel
	err := r.db.WithContext(ctx).Preload("Lines").Where("owner_id = ?", ownerID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cart := domain.New(ownerID)
	cart.UpdatedAt = model.UpdatedAt
	for _, l := range model.Lines {
		cart.Lines[l.ProductID] = domain.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return cart, nil
}

func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := cartModel{OwnerID: cart.OwnerID, UpdatedAt: time.Now().UTC()}
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", cart.OwnerID).Delete(&cartLineModel{}).Error; err != nil {
			return err
		}
		for _, l := range cart.Lines {
			line := cartLineModel{OwnerID: cart.OwnerID, ProductID: l.ProductID, Quantity: l.Quantity}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CartRepository) Delete(ctx context.Context, ownerID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", ownerID).Delete(&cartLineModel{}).Error; err != nil {
			return err
		}
		return tx.Where("owner_id = ?", ownerID).Delete(&cartModel{}).Error
	})
}

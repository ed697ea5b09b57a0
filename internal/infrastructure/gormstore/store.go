package gormstore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to MySQL and migrates the checkout schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	if err := db.AutoMigrate(
		&orderModel{},
		&orderLineModel{},
		&cartModel{},
		&cartLineModel{},
		&productStockModel{},
		&reservationModel{},
		&attemptModel{},
	); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}

	return db, nil
}

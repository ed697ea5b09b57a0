package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

type orderModel struct {
	ID                string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OwnerID           string          `gorm:"column:owner_id;type:varchar(36);index;not null"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:decimal(20,2);not null"`
	Currency          string          `gorm:"column:currency;type:varchar(8);not null"`
	Status            string          `gorm:"column:status;type:varchar(24);index;not null"`
	GatewayIntentID   string          `gorm:"column:gateway_intent_id;type:varchar(64)"`
	GatewayPaymentRef string          `gorm:"column:gateway_payment_ref;type:varchar(64)"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
	ExpiresAt         time.Time       `gorm:"column:expires_at;index"`
	Lines             []orderLineModel `gorm:"foreignKey:OrderID"`
}

func (orderModel) TableName() string { return "orders" }

type orderLineModel struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	OrderID   string          `gorm:"column:order_id;type:varchar(36);index;not null"`
	Position  int             `gorm:"column:position;not null"`
	ProductID string          `gorm:"column:product_id;type:varchar(36);not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(20,2);not null"`
}

func (orderLineModel) TableName() string { return "order_lines" }

type cartModel struct {
	OwnerID   string          `gorm:"column:owner_id;type:varchar(36);primaryKey"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
	Lines     []cartLineModel `gorm:"foreignKey:OwnerID"`
}

func (cartModel) TableName() string { return "carts" }

type cartLineModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID   string `gorm:"column:owner_id;type:varchar(36);index;not null"`
	ProductID string `gorm:"column:product_id;type:varchar(36);not null"`
	Quantity  int    `gorm:"column:quantity;not null"`
}

func (cartLineModel) TableName() string { return "cart_lines" }

type productStockModel struct {
	ProductID string    `gorm:"column:product_id;type:varchar(36);primaryKey"`
	Total     int       `gorm:"column:total;not null"`
	Held      int       `gorm:"column:held;not null"`
	Committed int       `gorm:"column:committed;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (productStockModel) TableName() string { return "product_stock" }

type reservationModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	ProductID string    `gorm:"column:product_id;type:varchar(36);index;not null"`
	OrderID   string    `gorm:"column:order_id;type:varchar(36);index;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	State     string    `gorm:"column:state;type:varchar(16);index;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (reservationModel) TableName() string { return "stock_reservations" }

type attemptModel struct {
	ID                string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID           string    `gorm:"column:order_id;type:varchar(36);index;not null"`
	GatewayIntentID   string    `gorm:"column:gateway_intent_id;type:varchar(64)"`
	GatewayPaymentRef string    `gorm:"column:gateway_payment_ref;type:varchar(64)"`
	SignatureValid    bool      `gorm:"column:signature_valid;not null"`
	Outcome           string    `gorm:"column:outcome;type:varchar(16);index;not null"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (attemptModel) TableName() string { return "payment_attempts" }

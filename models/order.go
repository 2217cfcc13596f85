package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

type Order struct {
	ID        int             `json:"id"`
	UserID    int             `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderItem is one product quantity within an order. Line totals sum to the
// order total at creation time; that is enforced by the order-placement
// collaborator, not here.
type OrderItem struct {
	ID        int             `json:"id"`
	OrderID   int             `json:"order_id"`
	ProductID int             `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// Product is the stock-relevant projection this service mutates. The full
// catalog record (name, price, images) belongs to the storefront.
type Product struct {
	ID    int `json:"id"`
	Stock int `json:"stock"`
}

package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusCompleted: 1,
	OrderStatusShipped:   2,
	OrderStatusDelivered: 3,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// CanTransitionTo reports whether next is strictly later in the fulfilment
// sequence than s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	cur, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	n, ok := orderStatusRank[next]
	return ok && n > cur
}

// Order is immutable once created except for Status and CompletedAt.
type Order struct {
	ID              int64       `json:"id"`
	Reference       string      `json:"reference"`
	MemberID        int64       `json:"member_id"`
	IdempotencyKey  string      `json:"-"`
	TotalCents      int64       `json:"total_cents"`
	TokensEarned    int64       `json:"tokens_earned"`
	Status          OrderStatus `json:"status"`
	ShippingAddress string      `json:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at"`
	CompletedAt     *time.Time  `json:"completed_at"`
	Items           []OrderItem `json:"items"`
}

// OrderItem snapshots the product price and reward at purchase time.
type OrderItem struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order_id"`
	ProductID    *int64 `json:"product_id"`
	ProductName  string `json:"product_name"`
	Quantity     int64  `json:"quantity"`
	Size         string `json:"size"`
	PriceCents   int64  `json:"price_at_purchase_cents"`
	TokensEarned int64  `json:"tokens_earned"`
}

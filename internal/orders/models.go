package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	ShippingAddress string          `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	Note            string          `json:"note,omitempty"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	OrderStatus     Status          `json:"orderStatus"`
	IdempotencyKey  string          `json:"-"`
	Items           []OrderItem     `json:"items,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// OrderItem snapshots price and quantity at order time. Rows are never
// updated after creation.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Options carries the optional parts of a checkout. The zero value is valid.
type Options struct {
	ShippingFee    decimal.Decimal
	Note           string
	IdempotencyKey string
}

func DefaultOptions() Options {
	return Options{ShippingFee: decimal.Zero}
}

type CreateOrderInput struct {
	UserID          string
	Items           []ItemInput
	ShippingAddress string
	PaymentMethod   string
	Options         Options
}

type CreatedOrder struct {
	ID            string          `json:"id"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	OrderStatus   Status          `json:"orderStatus"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
	Idempotent    bool            `json:"idempotent,omitempty"`
}

// StatusUpdate is an admin status change; nil fields are left as they are.
type StatusUpdate struct {
	OrderStatus   *Status        `json:"orderStatus,omitempty"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
}

type StatusResult struct {
	ID            string        `json:"id"`
	UserID        string        `json:"-"`
	OrderStatus   Status        `json:"orderStatus"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (r StatusResult) StatusView() StatusView {
	return StatusView{ID: r.ID, UserID: r.UserID, OrderStatus: r.OrderStatus, PaymentStatus: r.PaymentStatus, UpdatedAt: r.UpdatedAt}
}

// Summary is the checkout response shape.
func (o Order) Summary() CreatedOrder {
	return CreatedOrder{
		ID:            o.ID,
		TotalAmount:   o.TotalAmount,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		CreatedAt:     o.CreatedAt,
	}
}

// StatusView is the cacheable projection served by the status endpoint.
type StatusView struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	OrderStatus   Status        `json:"orderStatus"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (o Order) StatusView() StatusView {
	return StatusView{ID: o.ID, UserID: o.UserID, OrderStatus: o.OrderStatus, PaymentStatus: o.PaymentStatus, UpdatedAt: o.UpdatedAt}
}

func (o Order) statusResult() StatusResult {
	return StatusResult{ID: o.ID, UserID: o.UserID, OrderStatus: o.OrderStatus, PaymentStatus: o.PaymentStatus, UpdatedAt: o.UpdatedAt}
}

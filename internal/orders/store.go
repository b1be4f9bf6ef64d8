package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

// Store is the relational backing for orders. Reads outside InTx are plain
// non-locking reads.
type Store interface {
	// InTx runs fn in one transaction: commit when fn returns nil, roll back
	// otherwise (including on panic and context cancellation).
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetOrder loads an order with its items. A non-empty userID scopes the
	// lookup to that owner; a mismatch is ErrOrderNotFound.
	GetOrder(ctx context.Context, id, userID string) (Order, error)
	ListOrders(ctx context.Context, f ListFilter) (Page, error)
	Stats(ctx context.Context) (Stats, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)
}

// Tx is the write side available inside InTx.
type Tx interface {
	inventory.StockTx

	// FindByIdempotencyKey returns the user's order created under key, if any.
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, bool, error)
	// InsertOrder writes the order row and all of its items. A concurrent
	// insert under the same idempotency key yields ErrDuplicateRequest.
	InsertOrder(ctx context.Context, o Order) error
	// LockOrder loads an order with items and holds a write lock on the order
	// row. userID scopes like Store.GetOrder.
	LockOrder(ctx context.Context, id, userID string) (Order, error)
	// SetStatus writes both statuses and stamps updated_at with at.
	SetStatus(ctx context.Context, id string, s Status, p PaymentStatus, at time.Time) error
	// DeleteOrder removes the items and then the order.
	DeleteOrder(ctx context.Context, id string) error
}

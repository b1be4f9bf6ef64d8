package orders

import (
	"errors"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

var (
	ErrEmptyOrder        = errors.New("no order items")
	ErrInvalidInput      = errors.New("invalid input")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateRequest  = errors.New("duplicate order request in flight")

	// Ledger errors surface unchanged through the workflows.
	ErrProductNotFound    = inventory.ErrProductNotFound
	ErrProductUnavailable = inventory.ErrProductUnavailable
	ErrInsufficientStock  = inventory.ErrInsufficientStock
)

// IsClientError reports whether err belongs to the caller-correctable
// taxonomy. Everything else is an infrastructure failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrEmptyOrder, ErrInvalidInput, ErrOrderNotFound, ErrInvalidTransition, ErrDuplicateRequest,
		ErrProductNotFound, ErrProductUnavailable, ErrInsufficientStock, inventory.ErrInvalidQuantity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

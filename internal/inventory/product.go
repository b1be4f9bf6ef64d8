package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available")
	ErrInsufficientStock  = errors.New("not enough stock")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

// Product is the slice of a catalog row the ledger cares about.
// The catalog owns every other column.
type Product struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Quantity  int                 `json:"quantity"`
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"salePrice"`
	Status    ProductStatus       `json:"status"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// EffectivePrice is the sale price when one is set, the list price otherwise.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal
	}
	return p.Price
}

func (p Product) Orderable() bool { return p.Status == ProductActive }

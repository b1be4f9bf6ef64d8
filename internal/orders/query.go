package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListFilter selects orders for listing. Zero-valued fields do not filter.
type ListFilter struct {
	UserID        string
	OrderStatus   Status
	PaymentStatus PaymentStatus
	MinAmount     decimal.NullDecimal
	MaxAmount     decimal.NullDecimal
	From          *time.Time
	To            *time.Time

	Page  int
	Limit int
}

// Normalize applies paging defaults and clamps the limit.
func (f ListFilter) Normalize(defaultLimit, maxLimit int) ListFilter {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}

func (f ListFilter) Offset() int { return (f.Page - 1) * f.Limit }

type Page struct {
	Count       int     `json:"count"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
	Orders      []Order `json:"orders"`
}

func NewPage(count int, f ListFilter, rows []Order) Page {
	if rows == nil {
		rows = []Order{}
	}
	pages := 0
	if f.Limit > 0 {
		pages = (count + f.Limit - 1) / f.Limit
	}
	return Page{Count: count, TotalPages: pages, CurrentPage: f.Page, Orders: rows}
}

type Stats struct {
	TotalOrders           int                   `json:"totalOrders"`
	TotalRevenue          decimal.Decimal       `json:"totalRevenue"`
	OrdersByStatus        map[Status]int        `json:"ordersByStatus"`
	OrdersByPaymentStatus map[PaymentStatus]int `json:"ordersByPaymentStatus"`
	RecentOrders          []Order               `json:"recentOrders"`
}

const RecentOrdersLimit = 5

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations are idempotent")

	s := &Store{DB: db}
	require.NoError(t, s.SaveProduct(ctx, inventory.Product{
		ID: "A", Name: "Kopi", Quantity: 3, Price: decimal.RequireFromString("19.99"), Status: inventory.ProductActive,
	}))
	return s
}

func sampleOrder(user, key string) orders.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return orders.Order{
		ID:             id,
		UserID:         user,
		TotalAmount:    decimal.RequireFromString("39.98"),
		ShippingFee:    decimal.Zero,
		PaymentStatus:  orders.PaymentPending,
		OrderStatus:    orders.StatusPending,
		IdempotencyKey: key,
		Items: []orders.OrderItem{{
			ID: uuid.NewString(), OrderID: id, ProductID: "A", Quantity: 2,
			Price: decimal.RequireFromString("19.99"), Subtotal: decimal.RequireFromString("39.98"),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx orders.Tx) error { return tx.AdjustStock(ctx, "A", -4) })
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.AdjustStock(ctx, "A", -3) }))
	p, err := s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)

	err = s.InTx(ctx, func(tx orders.Tx) error { return tx.AdjustStock(ctx, "missing", 1) })
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx orders.Tx) error {
		require.NoError(t, tx.AdjustStock(ctx, "A", -2))
		require.NoError(t, tx.InsertOrder(ctx, sampleOrder("u1", "")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)
	page, err := s.ListOrders(ctx, orders.ListFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Count)
}

func TestInsertOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("u1", "k1")
	o.Note = "ring twice"
	o.ShippingAddress = "Jl. Asia Afrika 8"

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))

	got, err := s.GetOrder(ctx, o.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "k1", got.IdempotencyKey)
	assert.True(t, got.TotalAmount.Equal(o.TotalAmount))
	assert.Equal(t, o.CreatedAt, got.CreatedAt)
	assert.Equal(t, "ring twice", got.Note)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("19.99")))

	_, err = s.GetOrder(ctx, o.ID, "u2")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestIdempotencyKeyIsUniquePerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, sampleOrder("u1", "k1")) }))
	err := s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, sampleOrder("u1", "k1")) })
	require.ErrorIs(t, err, orders.ErrDuplicateRequest)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, sampleOrder("u2", "k1")) }))
	// orders without a key never collide
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, sampleOrder("u1", "")) }))
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, sampleOrder("u1", "")) }))

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		o, ok, err := tx.FindByIdempotencyKey(ctx, "u1", "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Len(t, o.Items, 1)
		_, ok, err = tx.FindByIdempotencyKey(ctx, "u1", "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestSetStatusAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := sampleOrder("u1", "")
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))
	at := o.UpdatedAt.Add(time.Minute)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		return tx.SetStatus(ctx, o.ID, orders.StatusConfirmed, orders.PaymentPaid, at)
	}))
	got, err := s.GetOrder(ctx, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.OrderStatus)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, at, got.UpdatedAt)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.DeleteOrder(ctx, o.ID) }))
	_, err = s.GetOrder(ctx, o.ID, "")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	var items int
	require.NoError(t, s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = ?`, o.ID).Scan(&items))
	assert.Zero(t, items)

	err = s.InTx(ctx, func(tx orders.Tx) error { return tx.SetStatus(ctx, o.ID, orders.StatusShipped, orders.PaymentPaid, at) })
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestProductsAndSalePrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProduct(ctx, inventory.Product{
		ID: "B", Name: "Bakso", Quantity: 1, Price: decimal.NewFromInt(30),
		SalePrice: decimal.NewNullDecimal(decimal.NewFromInt(25)),
	}))

	ps, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "B", ps[0].ID)
	assert.Equal(t, inventory.ProductActive, ps[0].Status)
	assert.True(t, ps[0].SalePrice.Valid)
	assert.True(t, ps[0].EffectivePrice().Equal(decimal.NewFromInt(25)))
	assert.False(t, ps[1].SalePrice.Valid)

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{"A", "B", "Z"})
		require.NoError(t, err)
		assert.Len(t, locked, 2)
		return nil
	}))
}

func TestListOrdersAmountFilterIsExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// both totals round to the same float64
	below := sampleOrder("u1", "")
	below.TotalAmount = decimal.RequireFromString("19.999999999999999999")
	exact := sampleOrder("u1", "")
	exact.TotalAmount = decimal.RequireFromString("20")
	for _, o := range []orders.Order{below, exact} {
		require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))
	}

	page, err := s.ListOrders(ctx, orders.ListFilter{Page: 1, Limit: 10,
		MinAmount: decimal.NewNullDecimal(decimal.NewFromInt(20))})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, exact.ID, page.Orders[0].ID)

	page, err = s.ListOrders(ctx, orders.ListFilter{Page: 1, Limit: 10,
		MaxAmount: decimal.NewNullDecimal(below.TotalAmount)})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, below.ID, page.Orders[0].ID)
}

func TestItemsKeepLineOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("u1", "")
	want := []string{"E", "B", "D", "A", "C"}
	o.Items[0].ProductID = want[0]
	for _, pid := range want[1:] {
		it := o.Items[0]
		it.ID = uuid.NewString()
		it.ProductID = pid
		o.Items = append(o.Items, it)
	}
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))

	got, err := s.GetOrder(ctx, o.ID, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(got.Items))
	for _, it := range got.Items {
		ids = append(ids, it.ProductID)
	}
	assert.Equal(t, want, ids)
}

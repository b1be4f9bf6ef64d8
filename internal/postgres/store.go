package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const orderColumns = `id, user_id, total_amount, shipping_fee, shipping_address, payment_method, note,
	payment_status, order_status, COALESCE(idempotency_key, ''), created_at, updated_at`

const productColumns = `id, name, quantity, price, sale_price, status, updated_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements orders.Store on Postgres. Workflow transactions run at
// READ COMMITTED; correctness comes from row locks (FOR UPDATE) on the
// product and order rows they touch.
type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// no-op after commit; also runs while a panic unwinds
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id, userID string) (orders.Order, error) {
	return loadOrder(ctx, s.DB, id, userID, false)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	where, args := whereClause(f)

	var count int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&count); err != nil {
		return orders.Page{}, fmt.Errorf("count orders: %w", err)
	}

	pageArgs := append(args, f.Limit, f.Offset())
	q := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)
	list, err := queryOrders(ctx, s.DB, q, pageArgs...)
	if err != nil {
		return orders.Page{}, err
	}
	if err := attachItems(ctx, s.DB, list); err != nil {
		return orders.Page{}, err
	}
	return orders.NewPage(count, f, list), nil
}

func (s *Store) Stats(ctx context.Context) (orders.Stats, error) {
	st := orders.Stats{
		OrdersByStatus:        map[orders.Status]int{},
		OrdersByPaymentStatus: map[orders.PaymentStatus]int{},
	}
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&st.TotalOrders); err != nil {
		return st, fmt.Errorf("count orders: %w", err)
	}
	if err := s.DB.QueryRow(ctx, `SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE payment_status = 'paid'`).
		Scan(&st.TotalRevenue); err != nil {
		return st, fmt.Errorf("sum revenue: %w", err)
	}

	rows, err := s.DB.Query(ctx, `SELECT order_status, COUNT(*) FROM orders GROUP BY order_status`)
	if err != nil {
		return st, fmt.Errorf("orders by status: %w", err)
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.OrdersByStatus[orders.Status(k)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.DB.Query(ctx, `SELECT payment_status, COUNT(*) FROM orders GROUP BY payment_status`)
	if err != nil {
		return st, fmt.Errorf("orders by payment status: %w", err)
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.OrdersByPaymentStatus[orders.PaymentStatus(k)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	st.RecentOrders, err = queryOrders(ctx, s.DB,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, orders.RecentOrdersLimit)
	if err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProduct upserts a catalog row. The catalog service owns products; this
// exists for seeding and tests.
func (s *Store) SaveProduct(ctx context.Context, p inventory.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products (id, name, quantity, price, sale_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, quantity = EXCLUDED.quantity, price = EXCLUDED.price,
			sale_price = EXCLUDED.sale_price, status = EXCLUDED.status, updated_at = now()`,
		p.ID, p.Name, p.Quantity, p.Price, p.SalePrice, string(p.Status))
	return err
}

type pgTx struct{ tx pgx.Tx }

// LockProducts takes the row locks in id order (callers pass sorted ids) so
// overlapping orders queue behind each other instead of deadlocking.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]inventory.Product, error) {
	out := make(map[string]inventory.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0`, productID, delta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
			return fmt.Errorf("%w: product %s", inventory.ErrInsufficientStock, productID)
		}
		return fmt.Errorf("adjust stock %s: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %s", inventory.ErrInsufficientStock, productID)
	}
	return nil
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, userID, key string) (orders.Order, bool, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	if o.Items, err = loadItems(ctx, t.tx, o.ID); err != nil {
		return orders.Order{}, false, err
	}
	return o, true, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order) error {
	var idemKey *string
	if o.IdempotencyKey != "" {
		idemKey = &o.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_amount, shipping_fee, shipping_address, payment_method, note,
			payment_status, order_status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.UserID, o.TotalAmount, o.ShippingFee, o.ShippingAddress, o.PaymentMethod, o.Note,
		string(o.PaymentStatus), string(o.OrderStatus), idemKey, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: key %q", orders.ErrDuplicateRequest, o.IdempotencyKey)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	b := &pgx.Batch{}
	for i, it := range o.Items {
		b.Queue(`INSERT INTO order_items (id, order_id, line_no, product_id, quantity, price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			it.ID, o.ID, i, it.ProductID, it.Quantity, it.Price, it.Subtotal)
	}
	br := t.tx.SendBatch(ctx, b)
	for i := range o.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return br.Close()
}

func (t *pgTx) LockOrder(ctx context.Context, id, userID string) (orders.Order, error) {
	return loadOrder(ctx, t.tx, id, userID, true)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, s orders.Status, p orders.PaymentStatus, at time.Time) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE orders SET order_status = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
		id, string(s), string(p), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id, userID string, lock bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	args := []any{id}
	if userID != "" {
		sql += ` AND user_id = $2`
		args = append(args, userID)
	}
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("load order: %w", err)
	}
	if o.Items, err = loadItems(ctx, q, o.ID); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// loadItems returns items in the order they were placed.
func loadItems(ctx context.Context, q querier, orderID string) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY line_no, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	var items []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// attachItems loads items for a page of orders in one query.
func attachItems(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	idx := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no, id`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.Subtotal); err != nil {
			return err
		}
		i := idx[it.OrderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]orders.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func whereClause(f orders.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.OrderStatus != "" {
		add("order_status = $%d", string(f.OrderStatus))
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.MinAmount.Valid {
		add("total_amount >= $%d", f.MinAmount.Decimal)
	}
	if f.MaxAmount.Valid {
		add("total_amount <= $%d", f.MaxAmount.Decimal)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (orders.Order, error) {
	var (
		o      orders.Order
		os, ps string
	)
	err := r.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.ShippingFee, &o.ShippingAddress, &o.PaymentMethod, &o.Note,
		&ps, &os, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	o.OrderStatus = orders.Status(os)
	o.PaymentStatus = orders.PaymentStatus(ps)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanProduct(r rowScanner) (inventory.Product, error) {
	var (
		p      inventory.Product
		status string
		sale   decimal.NullDecimal
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Quantity, &p.Price, &sale, &status, &p.UpdatedAt); err != nil {
		return inventory.Product{}, err
	}
	p.SalePrice = sale
	p.Status = inventory.ProductStatus(status)
	return p, nil
}

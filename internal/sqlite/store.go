package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const orderColumns = `id, user_id, total_amount, shipping_fee, shipping_address, payment_method, note,
	payment_status, order_status, COALESCE(idempotency_key, ''), created_at, updated_at`

const productColumns = `id, name, quantity, price, sale_price, status, updated_at`

const itemColumns = `id, order_id, product_id, quantity, price, subtotal`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements orders.Store on SQLite. The single pooled connection and
// IMMEDIATE transactions give each workflow exclusive write access for its
// whole duration, which stands in for row locks.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var _ orders.Store = (*Store)(nil)

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id, userID string) (orders.Order, error) {
	return loadOrder(ctx, s.DB, id, userID)
}

func (s *Store) ListOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	where, args := whereClause(f)

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&count); err != nil {
		return orders.Page{}, fmt.Errorf("count orders: %w", err)
	}

	q := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	list, err := queryOrders(ctx, s.DB, q, append(args, f.Limit, f.Offset())...)
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
		TotalRevenue:          decimal.Zero,
		OrdersByStatus:        map[orders.Status]int{},
		OrdersByPaymentStatus: map[orders.PaymentStatus]int{},
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&st.TotalOrders); err != nil {
		return st, fmt.Errorf("count orders: %w", err)
	}

	// amounts are TEXT; sum them exactly in Go rather than as SQLite REALs
	rows, err := s.DB.QueryContext(ctx, `SELECT total_amount FROM orders WHERE payment_status = 'paid'`)
	if err != nil {
		return st, fmt.Errorf("sum revenue: %w", err)
	}
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			rows.Close()
			return st, err
		}
		st.TotalRevenue = st.TotalRevenue.Add(amt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := countBy(ctx, s.DB, "order_status", func(k string, n int) {
		st.OrdersByStatus[orders.Status(k)] = n
	}); err != nil {
		return st, err
	}
	if err := countBy(ctx, s.DB, "payment_status", func(k string, n int) {
		st.OrdersByPaymentStatus[orders.PaymentStatus(k)] = n
	}); err != nil {
		return st, err
	}

	st.RecentOrders, err = queryOrders(ctx, s.DB,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT ?`, orders.RecentOrdersLimit)
	return st, err
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
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

// SaveProduct upserts a catalog row for seeding and tests.
func (s *Store) SaveProduct(ctx context.Context, p inventory.Product) error {
	now := s.now().UnixNano()
	status := p.Status
	if status == "" {
		status = inventory.ProductActive
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO products (id, name, quantity, price, sale_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, quantity = excluded.quantity, price = excluded.price,
			sale_price = excluded.sale_price, status = excluded.status, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Quantity, p.Price, p.SalePrice, string(status), now, now)
	return err
}

// GetProduct reads one catalog row.
func (s *Store) GetProduct(ctx context.Context, id string) (inventory.Product, error) {
	p, err := scanProduct(s.DB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	return p, err
}

// DeleteProduct removes a catalog row. Order items keep their snapshot.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	return err
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) LockProducts(ctx context.Context, ids []string) (map[string]inventory.Product, error) {
	out := make(map[string]inventory.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
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

func (t *sqliteTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET quantity = quantity + ?, updated_at = ?
		WHERE id = ? AND quantity + ? >= 0`, delta, t.now().UnixNano(), productID, delta)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_CHECK) {
			return fmt.Errorf("%w: product %s", inventory.ErrInsufficientStock, productID)
		}
		return fmt.Errorf("adjust stock %s: %w", productID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("%w: product %s", inventory.ErrInsufficientStock, productID)
	}
	return nil
}

func (t *sqliteTx) FindByIdempotencyKey(ctx context.Context, userID, key string) (orders.Order, bool, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND idempotency_key = ?`, userID, key))
	if errors.Is(err, sql.ErrNoRows) {
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

func (t *sqliteTx) InsertOrder(ctx context.Context, o orders.Order) error {
	var idemKey any
	if o.IdempotencyKey != "" {
		idemKey = o.IdempotencyKey
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, total_amount, shipping_fee, shipping_address, payment_method, note,
			payment_status, order_status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.TotalAmount, o.ShippingFee, o.ShippingAddress, o.PaymentMethod, o.Note,
		string(o.PaymentStatus), string(o.OrderStatus), idemKey, o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return fmt.Errorf("%w: key %q", orders.ErrDuplicateRequest, o.IdempotencyKey)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO order_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare order items: %w", err)
	}
	defer stmt.Close()
	for i, it := range o.Items {
		if _, err := stmt.ExecContext(ctx, it.ID, o.ID, it.ProductID, it.Quantity, it.Price, it.Subtotal); err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

// LockOrder needs no explicit lock: the IMMEDIATE transaction already holds
// the database write lock.
func (t *sqliteTx) LockOrder(ctx context.Context, id, userID string) (orders.Order, error) {
	return loadOrder(ctx, t.tx, id, userID)
}

func (t *sqliteTx) SetStatus(ctx context.Context, id string, s orders.Status, p orders.PaymentStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET order_status = ?, payment_status = ?, updated_at = ? WHERE id = ?`,
		string(s), string(p), at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOne(res, id)
}

func (t *sqliteTx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id, userID string) (orders.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	args := []any{id}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
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

func loadItems(ctx context.Context, q querier, orderID string) ([]orders.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY rowid`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	var items []orders.OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func attachItems(ctx context.Context, q querier, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	args := make([]any, len(list))
	idx := make(map[string]int, len(list))
	for i, o := range list {
		args[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id IN (`+placeholders(len(list))+`) ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return err
		}
		i := idx[it.OrderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]orders.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

func countBy(ctx context.Context, q querier, column string, set func(string, int)) error {
	rows, err := q.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM orders GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("orders by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		set(k, n)
	}
	return rows.Err()
}

func whereClause(f orders.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		conds, args = append(conds, "user_id = ?"), append(args, f.UserID)
	}
	if f.OrderStatus != "" {
		conds, args = append(conds, "order_status = ?"), append(args, string(f.OrderStatus))
	}
	if f.PaymentStatus != "" {
		conds, args = append(conds, "payment_status = ?"), append(args, string(f.PaymentStatus))
	}
	if f.MinAmount.Valid {
		conds, args = append(conds, "decimal_cmp(total_amount, ?) >= 0"), append(args, f.MinAmount.Decimal.String())
	}
	if f.MaxAmount.Valid {
		conds, args = append(conds, "decimal_cmp(total_amount, ?) <= 0"), append(args, f.MaxAmount.Decimal.String())
	}
	if f.From != nil {
		conds, args = append(conds, "created_at >= ?"), append(args, f.From.UnixNano())
	}
	if f.To != nil {
		conds, args = append(conds, "created_at <= ?"), append(args, f.To.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isConstraint(err error, code int) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == code
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (orders.Order, error) {
	var (
		o                orders.Order
		os, ps           string
		created, updated int64
	)
	err := r.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.ShippingFee, &o.ShippingAddress, &o.PaymentMethod, &o.Note,
		&ps, &os, &o.IdempotencyKey, &created, &updated)
	if err != nil {
		return orders.Order{}, err
	}
	o.OrderStatus = orders.Status(os)
	o.PaymentStatus = orders.PaymentStatus(ps)
	o.CreatedAt = time.Unix(0, created).UTC()
	o.UpdatedAt = time.Unix(0, updated).UTC()
	return o, nil
}

func scanItem(r rowScanner) (orders.OrderItem, error) {
	var it orders.OrderItem
	err := r.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.Subtotal)
	return it, err
}

func scanProduct(r rowScanner) (inventory.Product, error) {
	var (
		p       inventory.Product
		status  string
		updated int64
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Quantity, &p.Price, &p.SalePrice, &status, &updated); err != nil {
		return inventory.Product{}, err
	}
	p.Status = inventory.ProductStatus(status)
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

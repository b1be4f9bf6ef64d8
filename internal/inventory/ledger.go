package inventory

import (
	"context"
	"fmt"
	"sort"
)

// StockTx is the part of a store transaction the ledger needs.
// LockProducts must hold a write lock on every returned row until the
// transaction ends; missing ids are simply absent from the result.
type StockTx interface {
	LockProducts(ctx context.Context, ids []string) (map[string]Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// Ledger reserves and releases stock for a fixed set of products locked
// inside one transaction. It is not safe for concurrent use; it lives for
// exactly one workflow call.
type Ledger struct {
	tx     StockTx
	locked map[string]Product
}

// Open locks the given products (duplicates allowed) in ascending id order,
// so two workflows touching overlapping products always lock them in the
// same order.
func Open(ctx context.Context, tx StockTx, productIDs []string) (*Ledger, error) {
	ids := dedupe(productIDs)
	sort.Strings(ids)
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return &Ledger{tx: tx, locked: locked}, nil
}

// Product returns the locked snapshot, reflecting reservations made so far.
func (l *Ledger) Product(id string) (Product, error) {
	p, ok := l.locked[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

// Reserve decrements the product's quantity by qty.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, fmt.Errorf("%w: product %s qty %d", ErrInvalidQuantity, productID, qty)
	}
	p, err := l.Product(productID)
	if err != nil {
		return Product{}, err
	}
	if !p.Orderable() {
		return Product{}, fmt.Errorf("%w: %s", ErrProductUnavailable, p.Name)
	}
	if p.Quantity < qty {
		return Product{}, fmt.Errorf("%w: %s (requested %d, available %d)", ErrInsufficientStock, p.Name, qty, p.Quantity)
	}
	if err := l.tx.AdjustStock(ctx, productID, -qty); err != nil {
		return Product{}, err
	}
	p.Quantity -= qty
	l.locked[productID] = p
	return p, nil
}

// Release gives qty back to the product. Callers guarantee a reservation is
// released at most once.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s qty %d", ErrInvalidQuantity, productID, qty)
	}
	p, err := l.Product(productID)
	if err != nil {
		return err
	}
	if err := l.tx.AdjustStock(ctx, productID, qty); err != nil {
		return err
	}
	p.Quantity += qty
	l.locked[productID] = p
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

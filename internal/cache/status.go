// Package cache holds the in-process status cache used when no Redis
// server is configured.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type StatusLRU struct {
	mu  sync.Mutex // serializes SetIfNewer's compare and add
	lru *expirable.LRU[string, orders.StatusView]
}

func NewStatusLRU(size int, ttl time.Duration) *StatusLRU {
	if size <= 0 {
		size = 10000
	}
	return &StatusLRU{lru: expirable.NewLRU[string, orders.StatusView](size, nil, ttl)}
}

func (c *StatusLRU) Get(_ context.Context, orderID string) (orders.StatusView, bool, error) {
	v, ok := c.lru.Get(orderID)
	return v, ok, nil
}

// SetIfNewer keeps the entry with the latest UpdatedAt.
func (c *StatusLRU) SetIfNewer(_ context.Context, v orders.StatusView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if have, ok := c.lru.Peek(v.ID); ok && !v.UpdatedAt.After(have.UpdatedAt) {
		return nil
	}
	c.lru.Add(v.ID, v)
	return nil
}

func (c *StatusLRU) Invalidate(_ context.Context, orderID string) error {
	c.lru.Remove(orderID)
	return nil
}

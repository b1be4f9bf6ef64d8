package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusCache keeps order status views under KeyOrderStatus. The store is
// always authoritative; entries only save a round trip.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache { return &StatusCache{rdb: rdb} }

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusView, bool, error) {
	b, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.StatusView{}, false, nil
	}
	if err != nil {
		return orders.StatusView{}, false, err
	}
	var v orders.StatusView
	if err := json.Unmarshal(b, &v); err != nil {
		return orders.StatusView{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return v, true, nil
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, statusKey(orderID)).Err()
}

// SetIfNewer writes v unless the cached entry is already at least as recent.
// Events for one order can arrive out of order across topics.
func (c *StatusCache) SetIfNewer(ctx context.Context, v orders.StatusView) error {
	key := statusKey(v.ID)
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var have orders.StatusView
				if json.Unmarshal(cur, &have) == nil && !v.UpdatedAt.After(have.UpdatedAt) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, b, TTLStatusCache)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

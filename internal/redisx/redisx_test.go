package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, Ping(context.Background(), rdb))
	return mr, rdb
}

func TestStatusCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)

	_, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	v := orders.StatusView{ID: "o-1", OrderStatus: orders.StatusPending, PaymentStatus: orders.PaymentPending, UpdatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, c.SetIfNewer(ctx, v))
	assert.True(t, mr.Exists("order_status:o-1"))
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o-1"))

	got, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, got)

	require.NoError(t, c.Invalidate(ctx, "o-1"))
	_, ok, err = c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.Set("order_status:bad", "{not json")
	_, _, err = c.Get(ctx, "bad")
	assert.Error(t, err)
}

func TestStatusCache_SetIfNewer(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)

	newer := orders.StatusView{ID: "o-1", OrderStatus: orders.StatusCancelled, UpdatedAt: time.Unix(200, 0).UTC()}
	older := orders.StatusView{ID: "o-1", OrderStatus: orders.StatusPending, UpdatedAt: time.Unix(100, 0).UTC()}

	require.NoError(t, c.SetIfNewer(ctx, newer))
	require.NoError(t, c.SetIfNewer(ctx, older))

	got, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusCancelled, got.OrderStatus)
}

func TestIdempotencyIndex(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	x := NewIdempotencyIndex(rdb)

	_, ok, err := x.Lookup(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, x.Remember(ctx, "u1", "k1", "o-9"))
	assert.Equal(t, TTLIdempotency, mr.TTL("idem:order:create:u1:k1"))

	id, ok, err := x.Lookup(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "o-9", id)

	_, ok, err = x.Lookup(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, x.Forget(ctx, "u1", "k1"))
	_, ok, _ = x.Lookup(ctx, "u1", "k1")
	assert.False(t, ok)
}

func TestDedup(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	d := NewDedup(rdb, "projector")

	first, err := d.FirstSeen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:projector:ev-1"))

	require.NoError(t, d.Release(ctx, "ev-1"))
	first, err = d.FirstSeen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)
}

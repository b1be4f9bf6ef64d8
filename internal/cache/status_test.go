package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLRU(t *testing.T) {
	ctx := context.Background()
	c := NewStatusLRU(2, time.Minute)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.SetIfNewer(ctx, orders.StatusView{ID: id, OrderStatus: orders.StatusPending, UpdatedAt: time.Unix(int64(i+1), 0)}))
	}
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "evicted")

	v, ok, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, orders.StatusPending, v.OrderStatus)

	require.NoError(t, c.Invalidate(ctx, "c"))
	_, ok, _ = c.Get(ctx, "c")
	assert.False(t, ok)
}

func TestStatusLRU_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewStatusLRU(10, 20*time.Millisecond)
	require.NoError(t, c.SetIfNewer(ctx, orders.StatusView{ID: "a", UpdatedAt: time.Unix(1, 0)}))

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStatusLRU_SetIfNewer(t *testing.T) {
	ctx := context.Background()
	c := NewStatusLRU(10, time.Minute)

	cancelled := orders.StatusView{ID: "a", OrderStatus: orders.StatusCancelled, UpdatedAt: time.Unix(200, 0)}
	pending := orders.StatusView{ID: "a", OrderStatus: orders.StatusPending, UpdatedAt: time.Unix(100, 0)}

	require.NoError(t, c.SetIfNewer(ctx, cancelled))
	require.NoError(t, c.SetIfNewer(ctx, pending))
	v, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, orders.StatusCancelled, v.OrderStatus)

	require.NoError(t, c.Invalidate(ctx, "a"))
	require.NoError(t, c.SetIfNewer(ctx, pending))
	v, ok, _ = c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, v.OrderStatus)
}

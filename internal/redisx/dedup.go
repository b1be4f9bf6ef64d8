package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Dedup marks processed event ids per consumer.
type Dedup struct {
	rdb      *redis.Client
	consumer string
}

func NewDedup(rdb *redis.Client, consumer string) *Dedup {
	return &Dedup{rdb: rdb, consumer: consumer}
}

// FirstSeen claims id and reports whether this call was the first.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupKey(d.consumer, id), "1", TTLDedup).Result()
}

// Release drops a claim so a redelivered event is processed again.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, dedupKey(d.consumer, id)).Err()
}

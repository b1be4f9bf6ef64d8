package redisx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// IdempotencyIndex maps (user, Idempotency-Key) to the order it created.
type IdempotencyIndex struct {
	rdb *redis.Client
}

func NewIdempotencyIndex(rdb *redis.Client) *IdempotencyIndex { return &IdempotencyIndex{rdb: rdb} }

func (x *IdempotencyIndex) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	id, err := x.rdb.Get(ctx, idemKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (x *IdempotencyIndex) Remember(ctx context.Context, userID, key, orderID string) error {
	return x.rdb.Set(ctx, idemKey(userID, key), orderID, TTLIdempotency).Err()
}

func (x *IdempotencyIndex) Forget(ctx context.Context, userID, key string) error {
	return x.rdb.Del(ctx, idemKey(userID, key)).Err()
}

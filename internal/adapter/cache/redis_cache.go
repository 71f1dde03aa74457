package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func statusKey(orderCode string) string { return "order:status:" + orderCode }

func (r *RedisCache) SetStatus(ctx context.Context, snap usecase.StatusSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, statusKey(snap.OrderCode), b, r.ttl).Err()
}

func (r *RedisCache) GetStatus(ctx context.Context, orderCode string) (usecase.StatusSnapshot, bool, error) {
	b, err := r.rdb.Get(ctx, statusKey(orderCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return usecase.StatusSnapshot{}, false, nil
	}
	if err != nil {
		return usecase.StatusSnapshot{}, false, err
	}
	var snap usecase.StatusSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return usecase.StatusSnapshot{}, false, err
	}
	return snap, true, nil
}

var _ usecase.OrderCache = (*RedisCache)(nil)

package redis

import (
	"context"
	"time"

	"DMSync/tools/idem"

	"github.com/redis/go-redis/v9"
)

// idem key: dm:idem:<key>
func idemKey(key string) string { return "dm:idem:" + key }

type redisIdem struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewIdem 多节点共享的幂等存储，SETNX 成功即第一次出现
func NewIdem(rdb redis.UniversalClient, defaultTTL time.Duration) idem.Store {
	return &redisIdem{rdb: rdb, ttl: defaultTTL}
}

func (r *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	ok, err := r.rdb.SetNX(ctx, idemKey(key), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (r *redisIdem) Forget(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, idemKey(key)).Err()
}

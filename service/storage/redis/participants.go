package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// participants key: dm:conv:<id>:participants
// 成员一旦创建不再变化，缓存只需要 TTL 控制内存
func participantsKey(convID string) string { return "dm:conv:" + convID + ":participants" }

type ParticipantCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewParticipantCache(rdb redis.UniversalClient, ttl time.Duration) *ParticipantCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ParticipantCache{rdb: rdb, ttl: ttl}
}

// Get 未命中返回 ok=false
func (c *ParticipantCache) Get(ctx context.Context, convID string) ([]string, bool, error) {
	members, err := c.rdb.SMembers(ctx, participantsKey(convID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	return members, true, nil
}

func (c *ParticipantCache) Set(ctx context.Context, convID string, participants []string) error {
	if len(participants) == 0 {
		return nil
	}
	key := participantsKey(convID)
	members := make([]any, 0, len(participants))
	for _, p := range participants {
		members = append(members, p)
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

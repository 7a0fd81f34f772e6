package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"DMSync/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis：DMSYNC_TEST_REDIS=127.0.0.1:6379
func testClient(t *testing.T) Config {
	addr := os.Getenv("DMSYNC_TEST_REDIS")
	if addr == "" {
		t.Skip("DMSYNC_TEST_REDIS not set")
	}
	return Config{Addr: addr, DB: 15}
}

func TestParticipantCache(t *testing.T) {
	cfg := testClient(t)
	rdb := NewClient(cfg)
	defer rdb.Close()
	ctx := context.Background()

	c := NewParticipantCache(rdb, time.Minute)
	conv := "p2p:" + ids.UUID()

	_, ok, err := c.Get(ctx, conv)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, conv, []string{"b", "a"}))
	got, ok, err := c.Get(ctx, conv)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, got)

	ttl, err := rdb.TTL(ctx, participantsKey(conv)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisIdem(t *testing.T) {
	cfg := testClient(t)
	rdb := NewClient(cfg)
	defer rdb.Close()
	ctx := context.Background()

	store := NewIdem(rdb, time.Minute)
	key := "test:" + ids.UUID()

	seen, err := store.SeenOnce(ctx, key, 0)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.SeenOnce(ctx, key, 0)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestParticipantsKey(t *testing.T) {
	assert.Equal(t, "dm:conv:p2p:a_b:participants", participantsKey("p2p:a_b"))
}

func TestRedisIdemForget(t *testing.T) {
	cfg := testClient(t)
	rdb := NewClient(cfg)
	defer rdb.Close()
	ctx := context.Background()

	store := NewIdem(rdb, time.Minute)
	key := "test:" + ids.UUID()
	_, err := store.SeenOnce(ctx, key, 0)
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, key))

	seen, err := store.SeenOnce(ctx, key, 0)
	require.NoError(t, err)
	assert.False(t, seen)
}

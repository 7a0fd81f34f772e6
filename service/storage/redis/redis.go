package redis

import (
	"context"
	"sync"
	"time"

	"DMSync/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	redisOnce sync.Once
	redisMgr  *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func NewClient(c Config) *redis.Client {
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
}

// InitRedis 初始化 Redis 管理器（单例）
func InitRedis(c Config) error {
	var initErr error
	redisOnce.Do(func() {
		rdb := NewClient(c)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			initErr = err
			return
		}
		logger.Info("[redis] connected", zap.String("addr", c.Addr), zap.Int("db", c.DB))
		redisMgr = &RedisManager{client: rdb}
	})
	return initErr
}

// GetRedis 获取 Redis Client
func GetRedis() *redis.Client {
	if redisMgr == nil {
		panic("Redis not initialized, call InitRedis first")
	}
	return redisMgr.client
}

// TryGetRedis 未配置 Redis 时返回 false
func TryGetRedis() (*redis.Client, bool) {
	if redisMgr == nil || redisMgr.client == nil {
		return nil, false
	}
	return redisMgr.client, true
}

// CloseRedis 关闭连接
func CloseRedis() error {
	if redisMgr != nil && redisMgr.client != nil {
		return redisMgr.client.Close()
	}
	return nil
}

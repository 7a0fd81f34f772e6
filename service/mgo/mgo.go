package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "DMSync/data/database/mgo/mongoutil"
	"DMSync/logger"
	"DMSync/tools/errs"
	"DMSync/tools/safe"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second
	failThresh  = 3 // 连续 ping 失败次数，达到后断开重连
)

// MongoManager 持有当前连接；掉线后后台重连，连接对象会被替换
type MongoManager struct {
	mu     sync.RWMutex
	client *mgo.Client

	readyCh   chan struct{}
	readyOnce sync.Once
	lastErr   atomic.Value // error
}

var globalMgr = &MongoManager{readyCh: make(chan struct{})}

func Manager() *MongoManager { return globalMgr }

// StartAsync 后台维持连接直到 ctx 结束；首次连上时 WaitReady 返回
func StartAsync(ctx context.Context, cfg *mgo.Config) {
	safe.SafeGo("mongo.manager", func() { globalMgr.run(ctx, cfg) })
}

func (m *MongoManager) run(ctx context.Context, cfg *mgo.Config) {
	defer m.drop()
	for {
		if !m.connect(ctx, cfg) {
			return
		}
		if !m.watch(ctx) {
			return
		}
	}
}

// connect 带退避重试，ctx 结束时返回 false
func (m *MongoManager) connect(ctx context.Context, cfg *mgo.Config) bool {
	for attempt := 0; ; attempt++ {
		cli, err := mgo.NewMongoDB(ctx, cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("[mongo] connected", zap.String("database", cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		logger.Warn("[mongo] connect failed", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func backoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	// 抖动 ±10%
	return d - d/10 + time.Duration(rand.Int63n(int64(d/5)+1))
}

// watch 周期 ping；连续失败后断开并返回 true 让 run 重连
func (m *MongoManager) watch(ctx context.Context) bool {
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if err := m.ping(ctx); err != nil {
			fail++
			m.lastErr.Store(err)
			logger.Warn("[mongo] health check failed", zap.Int("fail", fail), zap.Error(err))
			if fail >= failThresh {
				m.drop()
				return true
			}
			continue
		}
		fail = 0
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Close(context.Background())
		m.client = nil
	}
}

func (m *MongoManager) current() (*mgo.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client, m.client != nil
}

func (m *MongoManager) ping(ctx context.Context) error {
	cli, ok := m.current()
	if !ok {
		var cause error
		if v := m.lastErr.Load(); v != nil {
			cause = v.(error)
		}
		return errs.ErrStoreUnavailable.WrapErr(cause, "mongo not connected")
	}
	if err := cli.GetDB().Client().Ping(ctx, nil); err != nil {
		return errs.ErrStoreUnavailable.WrapErr(err, "mongo ping")
	}
	return nil
}

func TryGetDB() (*mongo.Database, bool) {
	cli, ok := globalMgr.current()
	if !ok {
		return nil, false
	}
	return cli.GetDB(), true
}

// TryGetClient 当前连接；重连后返回新的 client，调用方不要缓存
func TryGetClient() (*mgo.Client, bool) {
	return globalMgr.current()
}

// Ping 用于健康检查接口
func Ping(ctx context.Context) error {
	return globalMgr.ping(ctx)
}

// WaitReady blocks until the first successful connect.
func WaitReady(ctx context.Context, m *MongoManager) error {
	if _, ok := m.current(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.ErrStoreUnavailable.WrapErr(ctx.Err(), "mongo not ready")
	}
}

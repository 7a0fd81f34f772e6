package idem

import (
	"context"
	"sync"
	"time"
)

// Store 幂等存储：SeenOnce 第一次返回 false，TTL 内再次返回 true
type Store interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
	// Forget 处理失败时撤销标记，允许重投
	Forget(ctx context.Context, key string) error
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

// NewMemIdem 过期 key 在写入时顺带清理，不起后台协程
func NewMemIdem(defaultTTL time.Duration) Store {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	mi.mu.Lock()
	defer mi.mu.Unlock()
	now := mi.now()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	if len(mi.m) > 4096 {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
	}
	return false, nil
}

func (mi *memIdem) Forget(_ context.Context, key string) error {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
	return nil
}

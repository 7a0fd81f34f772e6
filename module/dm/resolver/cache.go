package resolver

import (
	"context"
	"sync"
)

// ParticipantCache 会话成员缓存，成员创建后不可变
type ParticipantCache interface {
	Get(ctx context.Context, conversationID string) (participants []string, ok bool, err error)
	Set(ctx context.Context, conversationID string, participants []string) error
}

type memCache struct {
	mu sync.RWMutex
	m  map[string][]string
}

func NewMemCache() ParticipantCache {
	return &memCache{m: make(map[string][]string)}
}

func (c *memCache) Get(_ context.Context, id string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.m[id]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), p...), true, nil
}

func (c *memCache) Set(_ context.Context, id string, participants []string) error {
	c.mu.Lock()
	c.m[id] = append([]string(nil), participants...)
	c.mu.Unlock()
	return nil
}

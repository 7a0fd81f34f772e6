package live

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type Kind string

const (
	KindMessage Kind = "message" // 会话有新消息，key = conversation id
	KindInbox   Kind = "inbox"   // 用户会话列表变化，key = user id
	KindNotify  Kind = "notify"  // 用户通知变化，key = user id
)

// Event 只是变更提示：订阅方收到后回存储读取最新状态，所以重复、乱序都无害
type Event struct {
	Kind Kind      `json:"kind"`
	Key  string    `json:"key"`
	Seq  int64     `json:"seq,omitempty"`
	At   time.Time `json:"at"`
}

// ID 用于跨来源去重（直接发布与 change stream 投影可能各发一次）
func (e Event) ID() string {
	if e.Seq > 0 {
		return string(e.Kind) + ":" + e.Key + ":" + strconv.FormatInt(e.Seq, 10)
	}
	return ""
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers fn for events of kind on key. fn must not block.
	Subscribe(kind Kind, key string, fn func(Event)) (cancel func(), err error)
}

// Notify publishes one hint per key and returns the first error.
func Notify(ctx context.Context, bus Bus, kind Kind, seq int64, keys ...string) error {
	var first error
	now := time.Now()
	for _, k := range keys {
		if err := bus.Publish(ctx, Event{Kind: kind, Key: k, Seq: seq, At: now}); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemBus 进程内总线，单节点部署与单测使用
type MemBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Event)
}

func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string]map[uint64]func(Event))}
}

func topic(kind Kind, key string) string { return string(kind) + "|" + key }

func (b *MemBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs[topic(ev.Kind, ev.Key)]))
	for _, fn := range b.subs[topic(ev.Kind, ev.Key)] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (b *MemBus) Subscribe(kind Kind, key string, fn func(Event)) (func(), error) {
	t := topic(kind, key)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]func(Event))
	}
	b.subs[t][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[t], id)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		})
	}, nil
}

// Subscribers 当前订阅数
func (b *MemBus) Subscribers(kind Kind, key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic(kind, key)])
}

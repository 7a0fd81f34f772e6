package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"DMSync/logger"
	"DMSync/tools/safe"

	"go.uber.org/zap"
)

const (
	retryEvery = 2 * time.Second
	staleEvery = 250 * time.Millisecond
)

// ErrStale 表示读到的状态暂时不完整（例如并发事务尚未全部可见），
// 值照常推送，稍后自动重读
var ErrStale = errors.New("live: state not settled")

// PollFunc reads the current state; changed=false suppresses delivery.
type PollFunc[T any] func(ctx context.Context) (value T, changed bool, err error)

// Watch 推送式订阅：先推送一次当前快照，之后每次收到提示重新读取并推送变化。
// Cancel 可重复调用。
type Watch[T any] struct {
	ch     chan T
	hint   chan struct{}
	done   chan struct{}
	once   sync.Once
	unsub  func()
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Start subscribes before the first poll, so no change between the two is lost.
func Start[T any](ctx context.Context, bus Bus, kind Kind, key string, poll PollFunc[T]) (*Watch[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch[T]{
		ch:     make(chan T, 1),
		hint:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	unsub, err := bus.Subscribe(kind, key, func(Event) { w.wake() })
	if err != nil {
		cancel()
		return nil, err
	}
	w.unsub = unsub

	first, _, err := poll(ctx)
	stale := errors.Is(err, ErrStale)
	if err != nil && !stale {
		unsub()
		cancel()
		return nil, err
	}
	w.ch <- first

	safe.SafeGo("live.watch."+string(kind), func() { w.loop(ctx, kind, key, poll, stale) })
	return w, nil
}

func (w *Watch[T]) wake() {
	select {
	case w.hint <- struct{}{}:
	default: // 已有待处理提示，合并
	}
}

func (w *Watch[T]) loop(ctx context.Context, kind Kind, key string, poll PollFunc[T], stale bool) {
	defer close(w.ch)
	defer w.Cancel()

	var retry <-chan time.Time
	if stale {
		retry = time.After(staleEvery)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.hint:
		case <-retry:
		}
		retry = nil

		v, changed, err := poll(ctx)
		if errors.Is(err, ErrStale) {
			retry = time.After(staleEvery)
			err = nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.setErr(err)
			logger.Warn("[live] poll failed, retry later", zap.String("kind", string(kind)), zap.String("key", key), zap.Error(err))
			retry = time.After(retryEvery)
			continue
		}
		w.setErr(nil)
		if !changed {
			continue
		}
		select {
		case w.ch <- v:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watch[T]) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Updates is closed after Cancel.
func (w *Watch[T]) Updates() <-chan T { return w.ch }

// Err returns the last poll error, nil once a later poll succeeds.
func (w *Watch[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watch[T]) Cancel() {
	w.once.Do(func() {
		close(w.done)
		w.unsub()
		w.cancel()
	})
}

// Done is closed once the watch is cancelled.
func (w *Watch[T]) Done() <-chan struct{} { return w.done }

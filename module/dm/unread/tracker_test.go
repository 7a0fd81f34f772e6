package unread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/module/dm/store"
	"DMSync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = model.Caller{UserID: "alice"}

func sysPayload(msg string) map[string]any { return map[string]any{"message": msg} }

func setup() (*Tracker, *store.MemStore, *live.MemBus) {
	st := store.NewMemStore()
	bus := live.NewMemBus()
	return New(st, bus), st, bus
}

func recvInt(t *testing.T, w *live.Watch[int64]) int64 {
	t.Helper()
	select {
	case v, ok := <-w.Updates():
		require.True(t, ok)
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
	return 0
}

func TestCountAndMarkAllRead(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("hello"))
		require.NoError(t, err)
	}
	_, err := tr.Notify(ctx, "bob", model.NotifySystem, sysPayload("other"))
	require.NoError(t, err)

	n, err := tr.CountUnread(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	cleared, err := tr.MarkAllRead(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	n, err = tr.CountUnread(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	cleared, err = tr.MarkAllRead(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Zero(t, cleared)

	n, err = tr.CountUnread(ctx, model.Caller{UserID: "bob"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarkAllRead_ConcurrentClearsOnce(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("x"))
		require.NoError(t, err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := tr.MarkAllRead(ctx, alice, "alice")
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), total)
}

func TestWatchUnread(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()
	_, err := tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("a"))
	require.NoError(t, err)

	w, err := tr.WatchUnread(ctx, alice, "alice")
	require.NoError(t, err)
	defer w.Cancel()
	assert.Equal(t, int64(1), recvInt(t, w))

	_, err = tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), recvInt(t, w))

	_, err = tr.MarkAllRead(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), recvInt(t, w))
}

func TestWatchList(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()

	w, err := tr.WatchList(ctx, alice, "alice", 10)
	require.NoError(t, err)
	defer w.Cancel()

	first := <-w.Updates()
	assert.Empty(t, first)

	n, err := tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("a"))
	require.NoError(t, err)
	select {
	case list := <-w.Updates():
		require.Len(t, list, 1)
		assert.Equal(t, n.ID, list[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
}

func TestAccessRules(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()

	_, err := tr.CountUnread(ctx, model.Caller{}, "alice")
	assert.ErrorIs(t, err, errs.ErrNotAuthenticated)

	_, err = tr.CountUnread(ctx, model.Caller{UserID: "bob"}, "alice")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = tr.MarkAllRead(ctx, model.Caller{UserID: "bob"}, "alice")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = tr.WatchUnread(ctx, model.Caller{UserID: "bob"}, "alice")
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestNotify_ValidatesPayload(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()

	_, err := tr.Notify(ctx, "alice", model.NotifyNewApplication, map[string]any{"jobId": "j1"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = tr.Notify(ctx, "alice", "carrier_pigeon", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = tr.Notify(ctx, "alice", model.NotifyApplicationStatus, map[string]any{"jobId": 42, "status": "accepted"})
	assert.NoError(t, err)
}

func TestNotifyOnce_Idempotent(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()
	p := map[string]any{"conversationId": "p2p:a_b", "messageId": "m1", "senderId": "bob"}

	_, created, err := tr.NotifyOnce(ctx, "msg:m1:alice", "alice", model.NotifyNewMessage, p)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = tr.NotifyOnce(ctx, "msg:m1:alice", "alice", model.NotifyNewMessage, p)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := tr.CountUnread(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDelete(t *testing.T) {
	tr, _, _ := setup()
	ctx := context.Background()
	n, err := tr.Notify(ctx, "alice", model.NotifySystem, sysPayload("bye"))
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Delete(ctx, model.Caller{UserID: "bob"}, n.ID), errs.ErrForbidden)
	require.NoError(t, tr.Delete(ctx, alice, n.ID))
	assert.ErrorIs(t, tr.Delete(ctx, alice, n.ID), errs.ErrNotFound)
}

type downStore struct{ *store.MemStore }

func (downStore) CountUnread(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestStoreUnavailable(t *testing.T) {
	tr := New(downStore{store.NewMemStore()}, live.NewMemBus())
	_, err := tr.CountUnread(context.Background(), alice, "alice")
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

type nopBus struct{}

func (nopBus) Publish(context.Context, live.Event) error { return nil }
func (nopBus) Subscribe(live.Kind, string, func(live.Event)) (func(), error) {
	return func() {}, nil
}

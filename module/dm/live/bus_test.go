package live

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBus_PublishSubscribe(t *testing.T) {
	bus := NewMemBus()
	ctx := context.Background()

	var hits, other int32
	cancel, err := bus.Subscribe(KindMessage, "p2p:a_b", func(ev Event) {
		assert.Equal(t, int64(3), ev.Seq)
		atomic.AddInt32(&hits, 1)
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(KindInbox, "p2p:a_b", func(Event) { atomic.AddInt32(&other, 1) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Kind: KindMessage, Key: "p2p:a_b", Seq: 3}))
	require.NoError(t, bus.Publish(ctx, Event{Kind: KindMessage, Key: "p2p:a_c", Seq: 3}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.EqualValues(t, 0, atomic.LoadInt32(&other))

	cancel()
	cancel()
	require.NoError(t, bus.Publish(ctx, Event{Kind: KindMessage, Key: "p2p:a_b", Seq: 3}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Equal(t, 0, bus.Subscribers(KindMessage, "p2p:a_b"))
}

func TestMemBus_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewMemBus().Publish(ctx, Event{Kind: KindNotify, Key: "u1"}))
}

func TestNotify_FansOut(t *testing.T) {
	bus := NewMemBus()
	got := make(chan string, 2)
	for _, u := range []string{"u1", "u2"} {
		_, err := bus.Subscribe(KindInbox, u, func(ev Event) { got <- ev.Key })
		require.NoError(t, err)
	}
	require.NoError(t, Notify(context.Background(), bus, KindInbox, 7, "u1", "u2"))
	assert.ElementsMatch(t, []string{"u1", "u2"}, []string{<-got, <-got})
}

func TestEventID(t *testing.T) {
	assert.Equal(t, "message:p2p:a_b:4", Event{Kind: KindMessage, Key: "p2p:a_b", Seq: 4}.ID())
	assert.Empty(t, Event{Kind: KindNotify, Key: "u1"}.ID())
}

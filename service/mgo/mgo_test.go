package mgo

import (
	"context"
	"testing"
	"time"

	"DMSync/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/10)
	}
	assert.GreaterOrEqual(t, backoff(0), baseBackoff-baseBackoff/10)
}

func TestNotConnected(t *testing.T) {
	m := &MongoManager{readyCh: make(chan struct{})}

	err := m.ping(context.Background())
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitReady(ctx, m), errs.ErrStoreUnavailable)

	_, ok := m.current()
	assert.False(t, ok)
}

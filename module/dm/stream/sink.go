package stream

import (
	"context"

	"DMSync/module/dm/model"
)

//go:generate mockgen -destination=../mocks/mock_sink.go -package=mocks DMSync/module/dm/stream EventSink

// EventSink receives every committed message exactly once per successful send.
type EventSink interface {
	MessageSent(ctx context.Context, ev model.MessageSent) error
}

type nopSink struct{}

func (nopSink) MessageSent(context.Context, model.MessageSent) error { return nil }

package unread

import (
	"context"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/model"
	"DMSync/tools/decode"
	"DMSync/tools/errs"
	"DMSync/tools/idem"

	"go.uber.org/zap"
)

const notifierDedupTTL = 24 * time.Hour

// Notifier 为每条新消息给接收方生成 new_message 通知。
// 直连模式下作为 stream 的 EventSink，Kafka 模式下由消费者调用。
type Notifier struct {
	tracker *Tracker
	idem    idem.Store
}

func NewNotifier(t *Tracker, store idem.Store) *Notifier {
	if store == nil {
		store = idem.NewMemIdem(notifierDedupTTL)
	}
	return &Notifier{tracker: t, idem: store}
}

func NewMessageNotificationID(messageID, recipient string) string {
	return "msg:" + messageID + ":" + recipient
}

func (n *Notifier) MessageSent(ctx context.Context, ev model.MessageSent) error {
	payload, err := decode.ToMap(NewMessagePayload{
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		SenderID:       ev.SenderID,
		Preview:        ev.Preview,
	})
	if err != nil {
		return errs.ErrInvalidArgument.WrapErr(err, "new_message payload", "message", ev.MessageID)
	}
	var first error
	for _, r := range ev.Recipients {
		id := NewMessageNotificationID(ev.MessageID, r)
		seen, err := n.idem.SeenOnce(ctx, id, notifierDedupTTL)
		if err != nil {
			// 通知 id 是确定的，重复插入也只会保留一条
			logger.Warn("[notifier] idem store", zap.String("id", id), zap.Error(err))
		} else if seen {
			continue
		}
		_, _, err = n.tracker.NotifyOnce(ctx, id, r, model.NotifyNewMessage, payload)
		if err != nil {
			logger.Error("[notifier] new_message", zap.String("id", id), zap.Error(err))
			if ferr := n.idem.Forget(ctx, id); ferr != nil {
				logger.Warn("[notifier] idem forget", zap.String("id", id), zap.Error(ferr))
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}

package stream

import (
	"context"
	"errors"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/module/dm/resolver"
	"DMSync/module/dm/store"
	"DMSync/tools/errs"
	"DMSync/tools/ids"
	"DMSync/tools/safe"

	"go.uber.org/zap"
)

// Update 推给订阅方的一次变化；Messages 为截至目前的完整有序列表，Added 为本次新增
type Update struct {
	Messages []*model.Message `json:"messages"`
	Added    []*model.Message `json:"added"`
	Initial  bool             `json:"initial"`
}

const gapWait = 5 * time.Second

type Subscription struct {
	*live.Watch[Update]
}

type Stream struct {
	msgs     store.MessageStore
	resolver *resolver.Resolver
	bus      live.Bus
	sink     EventSink
}

func New(msgs store.MessageStore, r *resolver.Resolver, bus live.Bus, sink EventSink) *Stream {
	safe.MustNotNil(msgs, "message store")
	safe.MustNotNil(r, "resolver")
	safe.MustNotNil(bus, "bus")
	if sink == nil {
		sink = nopSink{}
	}
	return &Stream{msgs: msgs, resolver: r, bus: bus, sink: sink}
}

// Subscribe 先推送完整历史，之后每次新消息推送一次；每条消息在 Added 中恰好出现一次
func (s *Stream) Subscribe(ctx context.Context, caller model.Caller, conversationID string) (*Subscription, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	if err := s.resolver.Authorize(ctx, conversationID, caller.UserID); err != nil {
		return nil, err
	}

	var (
		all      []*model.Message
		last     int64
		initial  = true
		gapSince time.Time
	)
	poll := func(ctx context.Context) (Update, bool, error) {
		added, err := s.msgs.ListMessages(ctx, conversationID, last, 0)
		if err != nil {
			return Update{}, false, errs.ErrStoreUnavailable.WrapErr(err, "list messages", "conversation", conversationID)
		}
		// seq 连续分配；新出现的空洞说明更小 seq 的事务还未可见，先推送连续部分。
		// 空洞之后的消息已超过 gapWait 时，空洞视为永久（写入中途失败），直接跳过
		var stale error
		n, skipped := settled(added, last, time.Now())
		if n < len(added) {
			if gapSince.IsZero() {
				gapSince = time.Now()
			}
			if time.Since(gapSince) < gapWait {
				added, stale = added[:n], live.ErrStale
			} else {
				skipped++
				gapSince = time.Time{}
			}
		} else {
			gapSince = time.Time{}
		}
		if skipped > 0 {
			logger.Warn("[stream] seq gap skipped", zap.String("conversation", conversationID), zap.Int64("after", last), zap.Int("holes", skipped))
		}
		if len(added) == 0 && !initial {
			return Update{}, false, stale
		}
		all = append(all, added...)
		if n := len(added); n > 0 {
			last = added[n-1].Seq
		}
		u := Update{
			Messages: append([]*model.Message(nil), all...),
			Added:    added,
			Initial:  initial,
		}
		initial = false
		return u, true, stale
	}

	w, err := live.Start[Update](ctx, s.bus, live.KindMessage, conversationID, poll)
	if err != nil {
		return nil, err
	}
	return &Subscription{Watch: w}, nil
}

// Send 追加一条消息；提交成功后才发布提示并交给 EventSink
func (s *Stream) Send(ctx context.Context, caller model.Caller, conversationID, senderID string, content model.Content) (*model.Message, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	content, err := content.Normalize()
	if err != nil {
		return nil, err
	}
	if senderID != caller.UserID {
		return nil, errs.ErrNotAParticipant.WrapMsg("sender is not caller", "sender", senderID, "caller", caller.UserID)
	}
	participants, err := s.resolver.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !contains(participants, senderID) {
		return nil, errs.ErrNotAParticipant.WrapMsg("sender not in conversation", "conversation", conversationID, "sender", senderID)
	}

	msg, err := s.msgs.AppendMessage(ctx, &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           content.Text,
		Attachment:     content.Attachment,
	})
	switch {
	case errors.Is(err, store.ErrNotParticipant):
		return nil, errs.ErrNotAParticipant.WrapMsg("sender not in conversation", "conversation", conversationID, "sender", senderID)
	case errors.Is(err, store.ErrNotFound):
		return nil, errs.ErrConversationNotFound.WrapMsg("no such conversation", "id", conversationID)
	case err != nil:
		return nil, errs.ErrSendFailed.WrapErr(err, "append message", "conversation", conversationID)
	}

	if err := live.Notify(ctx, s.bus, live.KindMessage, msg.Seq, conversationID); err != nil {
		logger.Warn("[stream] message hint", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := live.Notify(ctx, s.bus, live.KindInbox, msg.Seq, participants...); err != nil {
		logger.Warn("[stream] inbox hint", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := s.sink.MessageSent(ctx, model.NewMessageSent(msg, participants)); err != nil {
		logger.Error("[stream] event sink", zap.String("conversation", conversationID), zap.String("message", msg.ID), zap.Error(err))
	}
	return msg, nil
}

// History 分页读取，afterSeq 之后最多 limit 条
func (s *Stream) History(ctx context.Context, caller model.Caller, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	if err := s.resolver.Authorize(ctx, conversationID, caller.UserID); err != nil {
		return nil, err
	}
	out, err := s.msgs.ListMessages(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "list messages", "conversation", conversationID)
	}
	return out, nil
}

// settled returns how many leading messages can be delivered after last, and how
// many holes it stepped over. A hole is stepped over once the message after it is
// older than gapWait; a younger hole stops the walk.
func settled(ms []*model.Message, last int64, now time.Time) (n, skipped int) {
	want := last + 1
	for i, m := range ms {
		if m.Seq != want {
			if now.Sub(m.CreatedAt) < gapWait {
				return i, skipped
			}
			skipped++
		}
		want = m.Seq + 1
	}
	return len(ms), skipped
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

package unread

import (
	"context"
	"errors"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/module/dm/store"
	"DMSync/tools/errs"
	"DMSync/tools/ids"
	"DMSync/tools/safe"

	"go.uber.org/zap"
)

// Tracker 维护每个用户的未读通知
type Tracker struct {
	store store.NotificationStore
	bus   live.Bus
	now   func() time.Time
}

func New(st store.NotificationStore, bus live.Bus) *Tracker {
	safe.MustNotNil(st, "notification store")
	safe.MustNotNil(bus, "bus")
	return &Tracker{store: st, bus: bus, now: time.Now}
}

func (t *Tracker) authorize(caller model.Caller, userID string) error {
	if !caller.Authenticated() {
		return errs.ErrNotAuthenticated.Wrap()
	}
	if caller.UserID != userID {
		return errs.ErrForbidden.WrapMsg("cannot access another user's notifications", "caller", caller.UserID, "user", userID)
	}
	return nil
}

func (t *Tracker) CountUnread(ctx context.Context, caller model.Caller, userID string) (int64, error) {
	if err := t.authorize(caller, userID); err != nil {
		return 0, err
	}
	n, err := t.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, errs.ErrStoreUnavailable.WrapErr(err, "count unread", "user", userID)
	}
	return n, nil
}

// WatchUnread 首个值立即推送，之后仅在数值变化时推送
func (t *Tracker) WatchUnread(ctx context.Context, caller model.Caller, userID string) (*live.Watch[int64], error) {
	if err := t.authorize(caller, userID); err != nil {
		return nil, err
	}
	last := int64(-1)
	return live.Start[int64](ctx, t.bus, live.KindNotify, userID, func(ctx context.Context) (int64, bool, error) {
		n, err := t.store.CountUnread(ctx, userID)
		if err != nil {
			return 0, false, errs.ErrStoreUnavailable.WrapErr(err, "count unread", "user", userID)
		}
		changed := n != last
		last = n
		return n, changed, nil
	})
}

// MarkAllRead 一次批量把 userID 的未读全部置为已读，返回清除数量
func (t *Tracker) MarkAllRead(ctx context.Context, caller model.Caller, userID string) (int64, error) {
	if err := t.authorize(caller, userID); err != nil {
		return 0, err
	}
	n, err := t.store.MarkAllRead(ctx, userID, t.now())
	if err != nil {
		return 0, errs.ErrStoreUnavailable.WrapErr(err, "mark all read", "user", userID)
	}
	if n > 0 {
		t.hint(ctx, userID)
	}
	return n, nil
}

// Notify creates an unread notification for userID.
func (t *Tracker) Notify(ctx context.Context, userID, typ string, payload map[string]any) (*model.Notification, error) {
	n, _, err := t.NotifyOnce(ctx, ids.GenerateString(), userID, typ, payload)
	return n, err
}

// NotifyOnce is idempotent on id; created=false when it already existed.
func (t *Tracker) NotifyOnce(ctx context.Context, id, userID, typ string, payload map[string]any) (*model.Notification, bool, error) {
	if userID == "" || id == "" {
		return nil, false, errs.ErrInvalidArgument.WrapMsg("notification needs id and user")
	}
	if err := validatePayload(typ, payload); err != nil {
		return nil, false, err
	}
	n := &model.Notification{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: t.now(),
	}
	created, err := t.store.InsertNotification(ctx, n)
	if err != nil {
		return nil, false, errs.ErrStoreUnavailable.WrapErr(err, "insert notification", "id", id)
	}
	if created {
		t.hint(ctx, userID)
	}
	return n, created, nil
}

// List 最新在前
func (t *Tracker) List(ctx context.Context, caller model.Caller, userID string, limit int) ([]*model.Notification, error) {
	if err := t.authorize(caller, userID); err != nil {
		return nil, err
	}
	out, err := t.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "list notifications", "user", userID)
	}
	return out, nil
}

func (t *Tracker) WatchList(ctx context.Context, caller model.Caller, userID string, limit int) (*live.Watch[[]*model.Notification], error) {
	if err := t.authorize(caller, userID); err != nil {
		return nil, err
	}
	var last string
	first := true
	return live.Start[[]*model.Notification](ctx, t.bus, live.KindNotify, userID, func(ctx context.Context) ([]*model.Notification, bool, error) {
		list, err := t.store.ListNotifications(ctx, userID, limit)
		if err != nil {
			return nil, false, errs.ErrStoreUnavailable.WrapErr(err, "list notifications", "user", userID)
		}
		fp := fingerprint(list)
		changed := first || fp != last
		first, last = false, fp
		return list, changed, nil
	})
}

// Delete 只有通知的接收者可以删除
func (t *Tracker) Delete(ctx context.Context, caller model.Caller, notificationID string) error {
	if !caller.Authenticated() {
		return errs.ErrNotAuthenticated.Wrap()
	}
	n, err := t.store.GetNotification(ctx, notificationID)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrNotFound.WrapMsg("no such notification", "id", notificationID)
	}
	if err != nil {
		return errs.ErrStoreUnavailable.WrapErr(err, "get notification", "id", notificationID)
	}
	if n.UserID != caller.UserID {
		return errs.ErrForbidden.WrapMsg("not the recipient", "id", notificationID)
	}
	if _, err := t.store.DeleteNotification(ctx, notificationID); err != nil {
		return errs.ErrStoreUnavailable.WrapErr(err, "delete notification", "id", notificationID)
	}
	t.hint(ctx, n.UserID)
	return nil
}

func (t *Tracker) hint(ctx context.Context, userID string) {
	if err := live.Notify(ctx, t.bus, live.KindNotify, 0, userID); err != nil {
		logger.Warn("[unread] notify hint", zap.String("user", userID), zap.Error(err))
	}
}

func fingerprint(list []*model.Notification) string {
	b := make([]byte, 0, len(list)*24)
	for _, n := range list {
		b = append(b, n.ID...)
		if n.Read {
			b = append(b, '+')
		} else {
			b = append(b, '-')
		}
	}
	return string(b)
}

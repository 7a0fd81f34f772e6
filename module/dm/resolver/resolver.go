package resolver

import (
	"context"
	"errors"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/module/dm/store"
	"DMSync/tools/errs"
	"DMSync/tools/safe"

	"go.uber.org/zap"
)

// Resolver 把两个用户映射到唯一的单聊会话
type Resolver struct {
	store store.ConversationStore
	bus   live.Bus
	cache ParticipantCache
	now   func() time.Time
}

func New(st store.ConversationStore, bus live.Bus, cache ParticipantCache) *Resolver {
	safe.MustNotNil(st, "conversation store")
	safe.MustNotNil(bus, "bus")
	if cache == nil {
		cache = NewMemCache()
	}
	return &Resolver{store: st, bus: bus, cache: cache, now: time.Now}
}

// GetOrCreate returns the id of the conversation whose participants are exactly
// {userA, userB}, creating it on first contact. Concurrent calls for the same
// pair converge on one id.
func (r *Resolver) GetOrCreate(ctx context.Context, caller model.Caller, userA, userB string) (string, error) {
	if !caller.Authenticated() {
		return "", errs.ErrNotAuthenticated.Wrap()
	}
	if userA == "" || userB == "" || userA == userB {
		return "", errs.ErrInvalidArgument.WrapMsg("need two distinct users", "userA", userA, "userB", userB)
	}
	if caller.UserID != userA && caller.UserID != userB {
		return "", errs.ErrNotAParticipant.WrapMsg("caller not in pair", "caller", caller.UserID)
	}
	lo, hi := model.NormPair(userA, userB)

	conv, err := r.store.FindConversationByPair(ctx, lo, hi)
	switch {
	case err == nil && conv.ExactPair(lo, hi):
		r.remember(ctx, conv)
		return conv.ID, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", errs.ErrStoreUnavailable.WrapErr(err, "find conversation", "pair", model.PairKey(lo, hi))
	}

	stored, created, err := r.store.CreateConversation(ctx, model.NewConversation(lo, hi, r.now()))
	if err != nil {
		return "", errs.ErrStoreUnavailable.WrapErr(err, "create conversation", "pair", model.PairKey(lo, hi))
	}
	r.remember(ctx, stored)
	if created {
		logger.Info("[resolver] conversation created", zap.String("id", stored.ID))
		if err := live.Notify(ctx, r.bus, live.KindInbox, 0, lo, hi); err != nil {
			logger.Warn("[resolver] inbox hint", zap.String("id", stored.ID), zap.Error(err))
		}
	}
	return stored.ID, nil
}

// Conversation loads a conversation visible to caller.
func (r *Resolver) Conversation(ctx context.Context, caller model.Caller, conversationID string) (*model.Conversation, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrNotAuthenticated.Wrap()
	}
	conv, err := r.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrConversationNotFound.WrapMsg("no such conversation", "id", conversationID)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "get conversation", "id", conversationID)
	}
	if !conv.Has(caller.UserID) {
		return nil, errs.ErrNotAParticipant.WrapMsg("caller not in conversation", "id", conversationID, "caller", caller.UserID)
	}
	r.remember(ctx, conv)
	return conv, nil
}

// Authorize checks that userID belongs to the conversation, using the cache first.
func (r *Resolver) Authorize(ctx context.Context, conversationID, userID string) error {
	participants, err := r.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p == userID {
			return nil
		}
	}
	return errs.ErrNotAParticipant.WrapMsg("not in conversation", "id", conversationID, "user", userID)
}

func (r *Resolver) Participants(ctx context.Context, conversationID string) ([]string, error) {
	p, ok, err := r.cache.Get(ctx, conversationID)
	if err != nil {
		logger.Warn("[resolver] participant cache get", zap.String("id", conversationID), zap.Error(err))
	} else if ok {
		return p, nil
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrConversationNotFound.WrapMsg("no such conversation", "id", conversationID)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "get conversation", "id", conversationID)
	}
	r.remember(ctx, conv)
	return conv.Participants, nil
}

func (r *Resolver) remember(ctx context.Context, conv *model.Conversation) {
	if err := r.cache.Set(ctx, conv.ID, conv.Participants); err != nil {
		logger.Warn("[resolver] participant cache set", zap.String("id", conv.ID), zap.Error(err))
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"DMSync/module/dm/model"
)

// MemStore 单进程内存实现，语义与 Mongo 实现一致；用于单测和本地调试
type MemStore struct {
	mu     sync.RWMutex
	now    func() time.Time
	convs  map[string]*model.Conversation
	msgs   map[string][]*model.Message // conversation -> seq 递增
	notifs map[string]*model.Notification
	users  map[string]*model.User
}

func NewMemStore() *MemStore {
	return &MemStore{
		now:    time.Now,
		convs:  make(map[string]*model.Conversation),
		msgs:   make(map[string][]*model.Message),
		notifs: make(map[string]*model.Notification),
		users:  make(map[string]*model.User),
	}
}

// SetClock overrides the server clock.
func (db *MemStore) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func (db *MemStore) PutUser(u *model.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *u
	db.users[u.ID] = &cp
}

// PutConversation stores conv as is, bypassing create-if-absent (legacy data).
func (db *MemStore) PutConversation(conv *model.Conversation) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.convs[conv.ID] = cloneConv(conv)
}

func cloneConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func cloneMsg(m *model.Message) *model.Message {
	cp := *m
	if m.Attachment != nil {
		a := *m.Attachment
		cp.Attachment = &a
	}
	return &cp
}

func cloneNotif(n *model.Notification) *model.Notification {
	cp := *n
	if n.Payload != nil {
		cp.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			cp.Payload[k] = v
		}
	}
	if n.ReadAt != nil {
		at := *n.ReadAt
		cp.ReadAt = &at
	}
	return &cp
}

func (db *MemStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConv(c), nil
}

func (db *MemStore) FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var best *model.Conversation
	for _, c := range db.convs {
		if !c.ExactPair(a, b) {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneConv(best), nil
}

func (db *MemStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.convs[conv.ID]; ok {
		return cloneConv(c), false, nil
	}
	// UNIQUE(pair_key)
	if conv.PairKey != "" {
		for _, c := range db.convs {
			if c.PairKey == conv.PairKey {
				return cloneConv(c), false, nil
			}
		}
	}
	cp := cloneConv(conv)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = db.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	db.convs[cp.ID] = cp
	return cloneConv(cp), true, nil
}

func (db *MemStore) ListConversations(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Conversation
	for _, c := range db.convs {
		if c.Has(userID) {
			out = append(out, cloneConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *MemStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.convs[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.Has(msg.SenderID) {
		return nil, ErrNotParticipant
	}

	// 服务端时间，且同一会话内单调不减
	at := db.now()
	if at.Before(c.LastAt) {
		at = c.LastAt
	}
	c.MaxSeq++
	c.LastAt = at
	c.UpdatedAt = at

	m := cloneMsg(msg)
	m.Seq = c.MaxSeq
	m.CreatedAt = at
	c.LastMessage = m.Summary()
	db.msgs[c.ID] = append(db.msgs[c.ID], m)
	return cloneMsg(m), nil
}

func (db *MemStore) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	all := db.msgs[conversationID]
	i := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	out := make([]*model.Message, 0, len(all)-i)
	for ; i < len(all); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneMsg(all[i]))
	}
	return out, nil
}

func (db *MemStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.notifs[n.ID]; ok {
		return false, nil
	}
	db.notifs[n.ID] = cloneNotif(n)
	return true, nil
}

func (db *MemStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n, ok := db.notifs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNotif(n), nil
}

func (db *MemStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*model.Notification
	for _, n := range db.notifs {
		if n.UserID == userID {
			out = append(out, cloneNotif(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *MemStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int64
	for _, r := range db.notifs {
		if r.UserID == userID && !r.Read {
			n++
		}
	}
	return n, nil
}

func (db *MemStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, r := range db.notifs {
		if r.UserID == userID && !r.Read {
			r.Read = true
			readAt := at
			r.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (db *MemStore) DeleteNotification(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.notifs[id]; !ok {
		return false, nil
	}
	delete(db.notifs, id)
	return true, nil
}

func (db *MemStore) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"DMSync/module/dm/model"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrNotParticipant = errors.New("sender not in participants")
	ErrUnavailable    = errors.New("store not connected")
)

type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// FindConversationByPair returns the oldest conversation whose participant
	// set is exactly {a, b}, or ErrNotFound.
	FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error)
	// CreateConversation inserts conv unless a document with the same id already
	// exists; the stored document is returned either way.
	CreateConversation(ctx context.Context, conv *model.Conversation) (stored *model.Conversation, created bool, err error)
	// ListConversations 最近活跃在前
	ListConversations(ctx context.Context, userID string, limit int) ([]*model.Conversation, error)
}

type MessageStore interface {
	// AppendMessage assigns Seq and CreatedAt, inserts the message and updates the
	// conversation summary as one unit.
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	// ListMessages returns messages with seq > afterSeq in order; limit <= 0 means all.
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)
}

type NotificationStore interface {
	// InsertNotification is idempotent on n.ID.
	InsertNotification(ctx context.Context, n *model.Notification) (created bool, err error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	// ListNotifications 最新在前
	ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	// MarkAllRead flips every unread record of userID in one batch and returns the count.
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteNotification(ctx context.Context, id string) (bool, error)
}

type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error)
}

type Store interface {
	ConversationStore
	MessageStore
	NotificationStore
	UserDirectory
}

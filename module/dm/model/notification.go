package model

import "time"

const (
	NotifyNewMessage        = "new_message"
	NotifyNewApplication    = "new_application"
	NotifyApplicationStatus = "application_status"
	NotifySystem            = "system"
)

// Notification 未读标记；read 只会从 false 变为 true
type Notification struct {
	ID        string         `bson:"_id" json:"id"`
	UserID    string         `bson:"user_id" json:"userId"`
	Type      string         `bson:"type" json:"type"`
	Payload   map[string]any `bson:"payload,omitempty" json:"payload,omitempty"`
	Read      bool           `bson:"read" json:"read"`
	ReadAt    *time.Time     `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt time.Time      `bson:"created_at" json:"createdAt"`
}

func (Notification) GetTableName() string { return "dm_notification" }

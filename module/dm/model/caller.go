package model

// Caller 调用方身份，由网关鉴权后显式传入各操作
type Caller struct {
	UserID string
}

func (c Caller) Authenticated() bool { return c.UserID != "" }

// User 用户资料（只读）
type User struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"username" json:"displayName"`
	AvatarURL   string `bson:"profile_picture,omitempty" json:"avatarUrl,omitempty"`
}

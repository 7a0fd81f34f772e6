package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"DMSync/tools/errs"
)

const MaxTextLength = 4000

type Attachment struct {
	URL       string `bson:"url" json:"url"`
	Name      string `bson:"name" json:"name"`
	MimeType  string `bson:"mime_type" json:"mimeType"`
	SizeBytes int64  `bson:"size_bytes" json:"sizeBytes"`
}

// Message 会话内一条消息；(CreatedAt, Seq) 为全序
type Message struct {
	ID             string      `bson:"_id" json:"id"`
	ConversationID string      `bson:"conversation_id" json:"conversationId"`
	Seq            int64       `bson:"seq" json:"seq"`
	SenderID       string      `bson:"sender_id" json:"senderId"`
	Text           string      `bson:"text,omitempty" json:"text,omitempty"`
	Attachment     *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"createdAt"`
}

func (Message) GetTableName() string { return "dm_message" }

// Before orders messages of one conversation.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// Summary 生成 lastMessage 摘要
func (m *Message) Summary() *LastMessage {
	text := m.Text
	if m.Attachment != nil {
		text = "[attachment] " + m.Attachment.Name
	}
	return &LastMessage{Text: text, SenderID: m.SenderID, CreatedAt: m.CreatedAt, Seq: m.Seq}
}

// Content send 的入参：text 与 attachment 二选一
type Content struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Normalize validates c and returns the trimmed form.
func (c Content) Normalize() (Content, error) {
	text := strings.TrimSpace(c.Text)
	switch {
	case text != "" && c.Attachment != nil:
		return Content{}, errs.ErrInvalidContent.WrapMsg("text and attachment are exclusive")
	case c.Attachment != nil:
		a := *c.Attachment
		a.Name = strings.TrimSpace(a.Name)
		if a.URL == "" || a.Name == "" {
			return Content{}, errs.ErrInvalidContent.WrapMsg("attachment requires url and name")
		}
		if a.SizeBytes < 0 {
			return Content{}, errs.ErrInvalidContent.WrapMsg("negative attachment size")
		}
		return Content{Attachment: &a}, nil
	case text == "":
		return Content{}, errs.ErrInvalidContent.WrapMsg("empty text")
	case utf8.RuneCountInString(text) > MaxTextLength:
		return Content{}, errs.ErrInvalidContent.WrapMsg("text too long", "max", MaxTextLength)
	}
	return Content{Text: text}, nil
}

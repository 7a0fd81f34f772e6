package model

import "time"

// MessageSent 消息提交后投递给下游（Kafka topic dm.message.sent）
type MessageSent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"senderId"`
	Recipients     []string  `json:"recipients"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewMessageSent(msg *Message, participants []string) MessageSent {
	ev := MessageSent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		SenderID:       msg.SenderID,
		Preview:        msg.Summary().Text,
		CreatedAt:      msg.CreatedAt,
	}
	for _, p := range participants {
		if p != msg.SenderID {
			ev.Recipients = append(ev.Recipients, p)
		}
	}
	return ev
}

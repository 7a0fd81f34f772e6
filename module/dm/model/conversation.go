package model

import "time"

const ConversationIDPrefix = "p2p:"

// Conversation 两人单聊会话，participants 始终按字典序存储
type Conversation struct {
	ID           string       `bson:"_id" json:"id"`
	Participants []string     `bson:"participants" json:"participants"`
	PairKey      string       `bson:"pair_key,omitempty" json:"-"`
	CreatedAt    time.Time    `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updatedAt"`
	LastMessage  *LastMessage `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	MaxSeq       int64        `bson:"max_seq" json:"maxSeq"`
	LastAt       time.Time    `bson:"last_at,omitempty" json:"-"`
}

// LastMessage 列表页使用的最后一条消息摘要，last-writer-wins
type LastMessage struct {
	Text      string    `bson:"text" json:"text"`
	SenderID  string    `bson:"sender_id" json:"senderId"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	Seq       int64     `bson:"seq" json:"seq"`
}

func (Conversation) GetTableName() string { return "dm_conversation" }

// NormPair returns the pair in canonical order.
func NormPair(a, b string) (lo, hi string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func PairKey(a, b string) string {
	lo, hi := NormPair(a, b)
	return lo + "_" + hi
}

func ConversationID(a, b string) string {
	return ConversationIDPrefix + PairKey(a, b)
}

func NewConversation(a, b string, now time.Time) *Conversation {
	lo, hi := NormPair(a, b)
	return &Conversation{
		ID:           ConversationID(lo, hi),
		Participants: []string{lo, hi},
		PairKey:      PairKey(lo, hi),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ExactPair is true only when the participant set is exactly {a, b}.
func (c *Conversation) ExactPair(a, b string) bool {
	if c == nil || len(c.Participants) != 2 || a == b {
		return false
	}
	return c.Has(a) && c.Has(b)
}

// Peer returns the other participant.
func (c *Conversation) Peer(userID string) (string, bool) {
	if len(c.Participants) != 2 || !c.Has(userID) {
		return "", false
	}
	if c.Participants[0] == userID {
		return c.Participants[1], true
	}
	return c.Participants[0], true
}

package model

import (
	"encoding/json"
	"sort"
	"time"
)

type Chat struct {
	ID            string     `json:"id"`
	ServiceID     *string    `json:"service_id"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	// PairKey задан только у чатов на двоих; уникален в хранилище.
	PairKey *string `json:"-"`
}

// ActivityAt: ключ сортировки списка чатов, время последнего сообщения или создания.
func (c *Chat) ActivityAt() time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.CreatedAt) {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

type ChatParticipant struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// MessagePreview: последнее сообщение в списке чатов.
type MessagePreview struct {
	MessageID   string      `json:"message_id"`
	SenderID    *string     `json:"sender_id"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
}

type ChatWithPreview struct {
	Chat        Chat            `json:"chat"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
}

type ChatDetails struct {
	Chat         Chat              `json:"chat"`
	Participants []ChatParticipant `json:"participants"`
}

// PairKey: ключ дедупликации чата на двоих (неупорядоченная пара плюс объявление)
// в виде JSON-массива, чтобы разделители внутри id не давали коллизий. nil кодируется как null.
func PairKey(userA, userB string, serviceID *string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	// Строки и *string кодируются без ошибок.
	key, _ := json.Marshal([]any{ids[0], ids[1], serviceID})
	return string(key)
}

// SameService сравнивает необязательные ссылки на объявление; два nil равны.
func SameService(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/marketchat/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate: ChatStore.Create, ключ пары уже занят.
	ErrDuplicate = errors.New("duplicate")
)

// ChatStore: чаты и участники. Реализации: repository (PostgreSQL), memory.
type ChatStore interface {
	Create(ctx context.Context, c *model.Chat) error
	GetByID(ctx context.Context, chatID string) (*model.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) error
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	GetParticipants(ctx context.Context, chatID string) ([]model.ChatParticipant, error)
	// FindExistingChat: чат ровно с участниками {userA, userB} в том же объявлении.
	FindExistingChat(ctx context.Context, userA, userB string, serviceID *string) (*model.Chat, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatWithPreview, error)
	UpdateLastMessage(ctx context.Context, chatID string, at time.Time) error
	Delete(ctx context.Context, chatID string) (bool, error)
}

// MessageStore: сообщения чата.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, messageID string) (*model.Message, error)
	// FindByChat: новые первыми.
	FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	MarkAsRead(ctx context.Context, messageID string) (*model.Message, error)
	// Delete удаляет строку, затем без гарантий освобождает файлы.
	Delete(ctx context.Context, messageID string) (*model.Message, error)
	// PurgeChat удаляет все сообщения чата, не трогая файлы.
	PurgeChat(ctx context.Context, chatID string) (int64, error)
}

// Messaging объединяет оба хранилища с границей транзакции.
type Messaging interface {
	Chats() ChatStore
	Messages() MessageStore
	// WithinTx выполняет fn в одной транзакции; ошибка fn откатывает всё.
	WithinTx(ctx context.Context, fn func(tx Messaging) error) error
}

// IdentityStore разрешает токены сессий, выданные сервисом авторизации.
// Реализации: redis.Client, memory.Identities (для -dev без Redis).
type IdentityStore interface {
	Resolve(ctx context.Context, token string) (*model.Identity, error)
	Close() error
}

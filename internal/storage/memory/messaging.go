package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

type state struct {
	chats        map[string]model.Chat
	pairKeys     map[string]string // ключ пары -> id чата
	participants map[string]map[string]time.Time
	messages     map[string]model.Message
}

func newState() *state {
	return &state{
		chats:        make(map[string]model.Chat),
		pairKeys:     make(map[string]string),
		participants: make(map[string]map[string]time.Time),
		messages:     make(map[string]model.Message),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.chats {
		c.chats[k] = v
	}
	for k, v := range s.pairKeys {
		c.pairKeys[k] = v
	}
	for k, members := range s.participants {
		m := make(map[string]time.Time, len(members))
		for u, t := range members {
			m[u] = t
		}
		c.participants[k] = m
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	return c
}

// Messaging: storage.Messaging в памяти для режима без PostgreSQL и для тестов.
// Транзакция: снимок состояния, при ошибке снимок возвращается.
type Messaging struct {
	mu    *sync.Mutex
	txMu  *sync.Mutex
	st    **state
	files attachment.Store
	inTx  bool
}

func NewMessaging(files attachment.Store) *Messaging {
	st := newState()
	return &Messaging{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, st: &st, files: files}
}

func (s *Messaging) Chats() storage.ChatStore       { return chatStore{s} }
func (s *Messaging) Messages() storage.MessageStore { return messageStore{s} }

func (s *Messaging) WithinTx(ctx context.Context, fn func(tx storage.Messaging) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := (*s.st).clone()
	s.mu.Unlock()

	tx := *s
	tx.inTx = true
	if err := fn(&tx); err != nil {
		s.mu.Lock()
		*s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Messaging) lock() *state {
	s.mu.Lock()
	return *s.st
}

func (s *Messaging) unlock() { s.mu.Unlock() }

type chatStore struct{ s *Messaging }

func (c chatStore) Create(ctx context.Context, chat *model.Chat) error {
	st := c.s.lock()
	defer c.s.unlock()
	if chat.PairKey != nil {
		if _, taken := st.pairKeys[*chat.PairKey]; taken {
			return storage.ErrDuplicate
		}
		st.pairKeys[*chat.PairKey] = chat.ID
	}
	st.chats[chat.ID] = *chat
	return nil
}

func (c chatStore) GetByID(ctx context.Context, chatID string) (*model.Chat, error) {
	st := c.s.lock()
	defer c.s.unlock()
	chat, ok := st.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &chat, nil
}

func (c chatStore) AddParticipant(ctx context.Context, chatID, userID string) error {
	st := c.s.lock()
	defer c.s.unlock()
	if _, ok := st.chats[chatID]; !ok {
		return storage.ErrNotFound
	}
	members, ok := st.participants[chatID]
	if !ok {
		members = make(map[string]time.Time)
		st.participants[chatID] = members
	}
	if _, ok := members[userID]; !ok {
		members[userID] = time.Now().UTC()
	}
	return nil
}

func (c chatStore) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	st := c.s.lock()
	defer c.s.unlock()
	_, ok := st.participants[chatID][userID]
	return ok, nil
}

func (c chatStore) GetParticipants(ctx context.Context, chatID string) ([]model.ChatParticipant, error) {
	st := c.s.lock()
	defer c.s.unlock()
	out := make([]model.ChatParticipant, 0, len(st.participants[chatID]))
	for userID, joined := range st.participants[chatID] {
		out = append(out, model.ChatParticipant{ChatID: chatID, UserID: userID, JoinedAt: joined})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (c chatStore) FindExistingChat(ctx context.Context, userA, userB string, serviceID *string) (*model.Chat, error) {
	st := c.s.lock()
	defer c.s.unlock()
	var found *model.Chat
	for id, chat := range st.chats {
		members := st.participants[id]
		if len(members) != 2 || !model.SameService(chat.ServiceID, serviceID) {
			continue
		}
		_, okA := members[userA]
		_, okB := members[userB]
		if !okA || !okB {
			continue
		}
		if found == nil || chat.CreatedAt.Before(found.CreatedAt) {
			ch := chat
			found = &ch
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (c chatStore) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatWithPreview, error) {
	st := c.s.lock()
	defer c.s.unlock()
	items := make([]model.ChatWithPreview, 0)
	for id, chat := range st.chats {
		if _, ok := st.participants[id][userID]; !ok {
			continue
		}
		item := model.ChatWithPreview{Chat: chat}
		if last := latestMessage(st, id); last != nil {
			item.LastMessage = last.Preview()
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		ai, aj := items[i].Chat.ActivityAt(), items[j].Chat.ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return items[i].Chat.ID < items[j].Chat.ID
	})
	return page(items, limit, offset), nil
}

func (c chatStore) UpdateLastMessage(ctx context.Context, chatID string, at time.Time) error {
	st := c.s.lock()
	defer c.s.unlock()
	chat, ok := st.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	chat.LastMessageAt = &at
	st.chats[chatID] = chat
	return nil
}

func (c chatStore) Delete(ctx context.Context, chatID string) (bool, error) {
	st := c.s.lock()
	defer c.s.unlock()
	chat, ok := st.chats[chatID]
	if !ok {
		return false, nil
	}
	if chat.PairKey != nil {
		delete(st.pairKeys, *chat.PairKey)
	}
	delete(st.chats, chatID)
	delete(st.participants, chatID)
	return true, nil
}

type messageStore struct{ s *Messaging }

func (m messageStore) Create(ctx context.Context, msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	st := m.s.lock()
	defer m.s.unlock()
	if _, ok := st.chats[msg.ChatID]; !ok {
		return storage.ErrNotFound
	}
	st.messages[msg.ID] = *msg
	return nil
}

func (m messageStore) GetByID(ctx context.Context, messageID string) (*model.Message, error) {
	st := m.s.lock()
	defer m.s.unlock()
	msg, ok := st.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &msg, nil
}

func (m messageStore) FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	st := m.s.lock()
	defer m.s.unlock()
	msgs := chatMessages(st, chatID)
	return page(msgs, limit, offset), nil
}

func (m messageStore) MarkAsRead(ctx context.Context, messageID string) (*model.Message, error) {
	st := m.s.lock()
	defer m.s.unlock()
	msg, ok := st.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msg.IsRead = true
	st.messages[messageID] = msg
	return &msg, nil
}

func (m messageStore) Delete(ctx context.Context, messageID string) (*model.Message, error) {
	st := m.s.lock()
	msg, ok := st.messages[messageID]
	if ok {
		delete(st.messages, messageID)
	}
	m.s.unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	attachment.Release(ctx, m.s.files, &msg)
	return &msg, nil
}

func (m messageStore) PurgeChat(ctx context.Context, chatID string) (int64, error) {
	st := m.s.lock()
	defer m.s.unlock()
	var n int64
	for id, msg := range st.messages {
		if msg.ChatID == chatID {
			delete(st.messages, id)
			n++
		}
	}
	return n, nil
}

// chatMessages: сообщения чата, новые первыми.
func chatMessages(st *state, chatID string) []model.Message {
	msgs := make([]model.Message, 0)
	for _, msg := range st.messages {
		if msg.ChatID == chatID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
	return msgs
}

func latestMessage(st *state, chatID string) *model.Message {
	var last *model.Message
	for _, msg := range st.messages {
		if msg.ChatID != chatID {
			continue
		}
		if last == nil || msg.CreatedAt.After(last.CreatedAt) || (msg.CreatedAt.Equal(last.CreatedAt) && msg.ID > last.ID) {
			m := msg
			last = &m
		}
	}
	return last
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

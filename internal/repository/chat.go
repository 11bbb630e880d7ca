package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

const chatCols = `c.id, c.service_id, c.created_by, c.created_at, c.last_message_at, c.pair_key`

type ChatRepository struct {
	db DBTX
}

func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

func scanChat(s scanner, c *model.Chat) error {
	return s.Scan(&c.ID, &c.ServiceID, &c.CreatedBy, &c.CreatedAt, &c.LastMessageAt, &c.PairKey)
}

func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	_, err := r.db.Exec(ctx,
		`INSERT INTO chats (id, service_id, created_by, created_at, last_message_at, pair_key)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ServiceID, c.CreatedBy, c.CreatedAt, c.LastMessageAt, c.PairKey,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, chatID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	err := scanChat(r.db.QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, chatID), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// AddParticipant идемпотентен: повторная вставка ничего не делает.
func (r *ChatRepository) AddParticipant(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("chat.AddParticipant", time.Now())()
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, joined_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		chatID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("chatRepo.AddParticipant: %w", err)
	}
	return nil
}

func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsParticipant", time.Now())()
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ChatRepository) GetParticipants(ctx context.Context, chatID string) ([]model.ChatParticipant, error) {
	defer logger.DeferLogDuration("chat.GetParticipants", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT chat_id, user_id, joined_at FROM chat_participants
		 WHERE chat_id = $1
		 ORDER BY joined_at, user_id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetParticipants query: %w", err)
	}
	defer rows.Close()

	participants := make([]model.ChatParticipant, 0, 4)
	for rows.Next() {
		var p model.ChatParticipant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("chatRepo.GetParticipants scan: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetParticipants rows: %w", err)
	}
	return participants, nil
}

// FindExistingChat ищет чат ровно с двумя участниками; NULL service_id совпадает только с NULL.
func (r *ChatRepository) FindExistingChat(ctx context.Context, userA, userB string, serviceID *string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindExistingChat", time.Now())()
	c := &model.Chat{}
	err := scanChat(r.db.QueryRow(ctx,
		`SELECT `+chatCols+`
		 FROM chats c
		 WHERE c.service_id IS NOT DISTINCT FROM $3
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = c.id AND user_id = $2)
		   AND (SELECT COUNT(*) FROM chat_participants WHERE chat_id = c.id) = 2
		 ORDER BY c.created_at
		 LIMIT 1`,
		userA, userB, serviceID,
	), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.FindExistingChat: %w", err)
	}
	return c, nil
}

// FindByUser: чаты пользователя с последним сообщением, свежая активность первой.
func (r *ChatRepository) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatWithPreview, error) {
	defer logger.DeferLogDuration("chat.FindByUser", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT `+chatCols+`,
		        lm.id, lm.sender_id, lm.content_type, lm.content, lm.created_at
		 FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id = $1
		 LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content_type, COALESCE(m.content, '') AS content, m.created_at
			FROM messages m
			WHERE m.chat_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		 ) lm ON true
		 ORDER BY GREATEST(COALESCE(c.last_message_at, c.created_at), c.created_at) DESC, c.id
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.FindByUser query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.ChatWithPreview, 0, limit)
	for rows.Next() {
		var (
			item        model.ChatWithPreview
			msgID       *string
			senderID    *string
			contentType *model.ContentType
			content     *string
			createdAt   *time.Time
		)
		c := &item.Chat
		if err := rows.Scan(&c.ID, &c.ServiceID, &c.CreatedBy, &c.CreatedAt, &c.LastMessageAt, &c.PairKey,
			&msgID, &senderID, &contentType, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("chatRepo.FindByUser scan: %w", err)
		}
		if msgID != nil {
			item.LastMessage = &model.MessagePreview{
				MessageID:   *msgID,
				SenderID:    senderID,
				ContentType: *contentType,
				Content:     *content,
				CreatedAt:   *createdAt,
			}
		}
		chats = append(chats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.FindByUser rows: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) UpdateLastMessage(ctx context.Context, chatID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.UpdateLastMessage", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE chats SET last_message_at = $1 WHERE id = $2`, at, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateLastMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete удаляет чат; участники уходят через ON DELETE CASCADE.
func (r *ChatRepository) Delete(ctx context.Context, chatID string) (bool, error) {
	defer logger.DeferLogDuration("chat.Delete", time.Now())()
	tag, err := r.db.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return false, fmt.Errorf("chatRepo.Delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

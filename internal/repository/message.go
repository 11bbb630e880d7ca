package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

const messageCols = `id, chat_id, sender_id, content_type, content, file_url, file_name, file_size,
	thumbnail_url, duration, metadata, is_read, created_at`

type MessageRepository struct {
	db    DBTX
	files attachment.Store
}

// NewMessageRepository; files может быть nil, тогда Delete не трогает вложения.
func NewMessageRepository(db DBTX, files attachment.Store) *MessageRepository {
	return &MessageRepository{db: db, files: files}
}

func scanMessage(s scanner, m *model.Message) error {
	var metadata []byte
	err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ContentType, &m.Content, &m.FileURL, &m.FileName, &m.FileSize,
		&m.ThumbnailURL, &m.Duration, &metadata, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return err
	}
	if len(metadata) > 0 {
		m.Metadata = metadata
	}
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if err := m.Validate(); err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	var metadata []byte
	if len(m.Metadata) > 0 {
		metadata = m.Metadata
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content_type, content, file_url, file_name, file_size,
		                       thumbnail_url, duration, metadata, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.ChatID, m.SenderID, m.ContentType, m.Content, m.FileURL, m.FileName, m.FileSize,
		m.ThumbnailURL, m.Duration, metadata, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, messageID), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// FindByChat: offset-пагинация, новые первыми. При равном created_at порядок по id.
func (r *MessageRepository) FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.FindByChat", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.FindByChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.FindByChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.FindByChat rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead идемпотентен; возвращает обновлённую строку.
func (r *MessageRepository) MarkAsRead(ctx context.Context, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages SET is_read = true WHERE id = $1 RETURNING `+messageCols, messageID,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return m, nil
}

// Delete сначала удаляет строку; очистка файлов после неё и не роняет вызов.
func (r *MessageRepository) Delete(ctx context.Context, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.db.QueryRow(ctx,
		`DELETE FROM messages WHERE id = $1 RETURNING `+messageCols, messageID,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Delete: %w", err)
	}
	attachment.Release(ctx, r.files, m)
	return m, nil
}

func (r *MessageRepository) PurgeChat(ctx context.Context, chatID string) (int64, error) {
	defer logger.DeferLogDuration("msg.PurgeChat", time.Now())()
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.PurgeChat: %w", err)
	}
	return tag.RowsAffected(), nil
}

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeDocument ContentType = "document"
	ContentTypeLocation ContentType = "location"
	ContentTypeLink     ContentType = "link"
)

const (
	MaxContentLength = 1000
	MaxFileSize      = 10 << 20 // 10 MiB
)

var (
	ErrUnknownContentType = errors.New("unknown content type")
	ErrMissingFileURL     = errors.New("file_url is required for non-text messages")
	ErrEmptyText          = errors.New("text content is required")
	ErrContentTooLong     = fmt.Errorf("content exceeds %d characters", MaxContentLength)
)

// Valid: t входит в типы, допустимые в хранилище.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo, ContentTypeAudio,
		ContentTypeDocument, ContentTypeLocation, ContentTypeLink:
		return true
	}
	return false
}

// IsAttachment: тип с файлом, принимаемый от клиента.
func (t ContentType) IsAttachment() bool {
	switch t {
	case ContentTypeImage, ContentTypeVideo, ContentTypeAudio, ContentTypeDocument:
		return true
	}
	return false
}

// Message: строка в БД. Какие необязательные поля значимы, зависит от ContentType;
// собирать из Payload, читать обратно через Payload().
type Message struct {
	ID           string          `json:"id"`
	ChatID       string          `json:"chat_id"`
	SenderID     *string         `json:"sender_id"`
	ContentType  ContentType     `json:"content_type"`
	Content      *string         `json:"content,omitempty"`
	FileURL      *string         `json:"file_url,omitempty"`
	FileName     *string         `json:"file_name,omitempty"`
	FileSize     *int64          `json:"file_size,omitempty"`
	ThumbnailURL *string         `json:"thumbnail_url,omitempty"`
	Duration     *int            `json:"duration,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	IsRead       bool            `json:"is_read"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Validate проверяет инварианты строки, общие для всех хранилищ.
func (m *Message) Validate() error {
	if !m.ContentType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownContentType, m.ContentType)
	}
	if m.ContentType == ContentTypeText {
		if m.Content == nil || strings.TrimSpace(*m.Content) == "" {
			return ErrEmptyText
		}
	} else if m.FileURL == nil || *m.FileURL == "" {
		return ErrMissingFileURL
	}
	if m.Content != nil && utf8.RuneCountInString(*m.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// Preview: сообщение в виде для списка чатов.
func (m *Message) Preview() *MessagePreview {
	p := &MessagePreview{
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		ContentType: m.ContentType,
		CreatedAt:   m.CreatedAt,
	}
	if m.Content != nil {
		p.Content = *m.Content
	}
	return p
}

// NewMessage собирает непрочитанное сообщение из варианта Payload.
func NewMessage(id, chatID string, senderID *string, p Payload, now time.Time) (*Message, error) {
	if p == nil {
		return nil, ErrUnknownContentType
	}
	m := &Message{
		ID:          id,
		ChatID:      chatID,
		SenderID:    senderID,
		ContentType: p.ContentType(),
		CreatedAt:   now,
	}
	p.apply(m)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Payload восстанавливает вариант по сохранённой строке.
func (m *Message) Payload() (Payload, error) {
	caption := deref(m.Content)
	file := File{URL: deref(m.FileURL), Name: deref(m.FileName)}
	if m.FileSize != nil {
		file.Size = *m.FileSize
	}
	duration := 0
	if m.Duration != nil {
		duration = *m.Duration
	}
	switch m.ContentType {
	case ContentTypeText:
		return Text{Body: caption}, nil
	case ContentTypeImage:
		return Image{File: file, ThumbnailURL: deref(m.ThumbnailURL), Caption: caption}, nil
	case ContentTypeVideo:
		return Video{File: file, ThumbnailURL: deref(m.ThumbnailURL), Duration: duration, Caption: caption}, nil
	case ContentTypeAudio:
		return Audio{File: file, Duration: duration, Caption: caption}, nil
	case ContentTypeDocument:
		return Document{File: file, Caption: caption}, nil
	case ContentTypeLocation:
		return Location{URL: file.URL, Metadata: m.Metadata, Caption: caption}, nil
	case ContentTypeLink:
		return Link{URL: file.URL, Metadata: m.Metadata, Caption: caption}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, m.ContentType)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

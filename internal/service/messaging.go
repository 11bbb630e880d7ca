package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

const (
	DefaultChatsLimit    = 20
	DefaultMessagesLimit = 50
	MaxPageLimit         = 100
)

// errChatGone прерывает транзакцию удаления, если чата уже нет.
var errChatGone = errors.New("chat gone")

type MessagingService struct {
	store storage.Messaging
	files attachment.Store
	now   func() time.Time
	newID func() string
}

func NewMessagingService(store storage.Messaging, files attachment.Store) *MessagingService {
	return &MessagingService{
		store: store,
		files: files,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// SendMessageInput: тело сообщения от клиента. File обязателен для image/video/audio/document.
type SendMessageInput struct {
	ChatID      string
	ContentType model.ContentType
	Content     string
	Duration    int
	File        *attachment.Upload
}

// CreateChat создаёт чат вызывающего с указанными пользователями; вызывающий всегда участник.
// Чат на двоих уникален для пары и объявления; повтор возвращает Conflict с id существующего.
func (s *MessagingService) CreateChat(ctx context.Context, caller model.Identity, participantIDs []string, serviceID *string) (*model.Chat, error) {
	serviceID = normalizeServiceID(serviceID)
	members := distinctParticipants(caller.UserID, participantIDs)
	if len(members) < 2 {
		return nil, apperr.BadRequest("chat requires at least 2 distinct participants", nil)
	}

	chat := &model.Chat{
		ID:        s.newID(),
		ServiceID: serviceID,
		CreatedBy: caller.UserID,
		CreatedAt: s.now(),
	}
	if len(members) == 2 {
		existing, err := s.store.Chats().FindExistingChat(ctx, members[0], members[1], serviceID)
		if err == nil {
			return nil, apperr.Conflict(existing.ID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Internal("failed to check existing chat", err)
		}
		key := model.PairKey(members[0], members[1], serviceID)
		chat.PairKey = &key
	}

	err := s.store.WithinTx(ctx, func(tx storage.Messaging) error {
		if err := tx.Chats().Create(ctx, chat); err != nil {
			return err
		}
		for _, userID := range members {
			if err := tx.Chats().AddParticipant(ctx, chat.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// Параллельный запрос успел создать тот же чат.
		existing, findErr := s.store.Chats().FindExistingChat(ctx, members[0], members[1], serviceID)
		if findErr != nil {
			return nil, apperr.Internal("failed to resolve duplicate chat", errors.Join(err, findErr))
		}
		return nil, apperr.Conflict(existing.ID)
	}
	if err != nil {
		return nil, apperr.Internal("failed to create chat", err)
	}
	logger.Infof("chat created id=%s by=%s participants=%d", chat.ID, caller.UserID, len(members))
	return chat, nil
}

func (s *MessagingService) StartChatWithUser(ctx context.Context, caller model.Identity, targetUserID string, serviceID *string) (*model.Chat, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, apperr.BadRequest("user_id is required", nil)
	}
	return s.CreateChat(ctx, caller, []string{caller.UserID, targetUserID}, serviceID)
}

func (s *MessagingService) ListUserChats(ctx context.Context, caller model.Identity, limit, offset int) ([]model.ChatWithPreview, error) {
	limit, offset = normalizePage(limit, offset, DefaultChatsLimit)
	chats, err := s.store.Chats().FindByUser(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}
	return chats, nil
}

// GetChatDetails: участник или админ. Непричастный пользователь получает Forbidden
// и для несуществующего чата, чтобы не раскрывать его наличие.
func (s *MessagingService) GetChatDetails(ctx context.Context, caller model.Identity, chatID string) (*model.ChatDetails, error) {
	if !caller.IsAdmin() {
		if err := s.requireParticipant(ctx, caller, chatID); err != nil {
			return nil, err
		}
	}
	chat, err := s.store.Chats().GetByID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("chat")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load chat", err)
	}
	participants, err := s.store.Chats().GetParticipants(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal("failed to load participants", err)
	}
	return &model.ChatDetails{Chat: *chat, Participants: participants}, nil
}

// SendMessage проверяет всё до записи. Файл, сохранённый перед ошибкой, удаляется.
func (s *MessagingService) SendMessage(ctx context.Context, caller model.Identity, in SendMessageInput) (*model.Message, error) {
	if err := s.requireParticipant(ctx, caller, in.ChatID); err != nil {
		return nil, err
	}

	var payload model.Payload
	switch {
	case in.ContentType == model.ContentTypeText:
		body := strings.TrimSpace(in.Content)
		if body == "" {
			return nil, apperr.BadRequest("message content is required", nil)
		}
		if utf8.RuneCountInString(body) > model.MaxContentLength {
			return nil, apperr.BadRequest(model.ErrContentTooLong.Error(), nil)
		}
		if in.File != nil {
			return nil, apperr.BadRequest("text messages do not carry a file", nil)
		}
		payload = model.Text{Body: body}
	case in.ContentType.IsAttachment():
		if in.File == nil || len(in.File.Data) == 0 {
			return nil, apperr.BadRequest("file is required for "+string(in.ContentType)+" messages", nil)
		}
		if utf8.RuneCountInString(in.Content) > model.MaxContentLength {
			return nil, apperr.BadRequest(model.ErrContentTooLong.Error(), nil)
		}
		if in.Duration < 0 {
			return nil, apperr.BadRequest("duration must not be negative", nil)
		}
		if err := attachment.Validate(*in.File, in.ContentType); err != nil {
			return nil, apperr.BadRequest(err.Error(), err)
		}
	default:
		return nil, apperr.BadRequest("unsupported content type: "+string(in.ContentType), nil)
	}

	var savedPath string
	if payload == nil {
		p, err := s.files.Save(ctx, in.ChatID, in.File.Filename, in.File.Data)
		if err != nil {
			return nil, apperr.Internal("failed to store attachment", err)
		}
		savedPath = p
		payload = attachmentPayload(in, p)
	}

	msg, err := model.NewMessage(s.newID(), in.ChatID, &caller.UserID, payload, s.now())
	if err != nil {
		s.discard(ctx, savedPath)
		return nil, apperr.BadRequest(err.Error(), err)
	}
	err = s.store.WithinTx(ctx, func(tx storage.Messaging) error {
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}
		return tx.Chats().UpdateLastMessage(ctx, msg.ChatID, msg.CreatedAt)
	})
	if err != nil {
		s.discard(ctx, savedPath)
		return nil, apperr.Internal("failed to send message", err)
	}
	return msg, nil
}

func (s *MessagingService) GetMessages(ctx context.Context, caller model.Identity, chatID string, limit, offset int) ([]model.Message, error) {
	if err := s.requireParticipant(ctx, caller, chatID); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset, DefaultMessagesLimit)
	msgs, err := s.store.Messages().FindByChat(ctx, chatID, limit, offset)
	if err != nil {
		return nil, apperr.Internal("failed to load messages", err)
	}
	return msgs, nil
}

// MarkMessageRead идемпотентен, нужна только аутентификация.
func (s *MessagingService) MarkMessageRead(ctx context.Context, caller model.Identity, messageID string) (*model.Message, error) {
	msg, err := s.store.Messages().MarkAsRead(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message")
	}
	if err != nil {
		return nil, apperr.Internal("failed to mark message read", err)
	}
	return msg, nil
}

// DeleteMessage: только автор сообщения или админ. Файлы удаляются после строки, ошибки очистки только логируются.
func (s *MessagingService) DeleteMessage(ctx context.Context, caller model.Identity, messageID string) error {
	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("message")
	}
	if err != nil {
		return apperr.Internal("failed to load message", err)
	}
	if !caller.IsAdmin() && (msg.SenderID == nil || *msg.SenderID != caller.UserID) {
		return apperr.Forbidden("only the sender or an admin can delete a message")
	}
	if _, err := s.store.Messages().Delete(ctx, messageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("message")
		}
		return apperr.Internal("failed to delete message", err)
	}
	logger.Infof("message deleted id=%s chat=%s by=%s", messageID, msg.ChatID, caller.UserID)
	return nil
}

// DeleteChat удаляет чат с сообщениями и участниками в одной транзакции,
// затем без гарантий удаляет файлы чата.
func (s *MessagingService) DeleteChat(ctx context.Context, caller model.Identity, chatID string) error {
	if !caller.IsAdmin() {
		return apperr.Forbidden("only an admin can delete a chat")
	}
	var purged int64
	err := s.store.WithinTx(ctx, func(tx storage.Messaging) error {
		n, err := tx.Messages().PurgeChat(ctx, chatID)
		if err != nil {
			return err
		}
		purged = n
		deleted, err := tx.Chats().Delete(ctx, chatID)
		if err != nil {
			return err
		}
		if !deleted {
			return errChatGone
		}
		return nil
	})
	if errors.Is(err, errChatGone) {
		return apperr.NotFound("chat")
	}
	if err != nil {
		return apperr.Internal("failed to delete chat", err)
	}
	if err := s.files.DeleteChat(ctx, chatID); err != nil {
		logger.Errorf("chat %s deleted, attachments cleanup failed: %v", chatID, err)
	}
	logger.Infof("chat deleted id=%s by=%s messages=%d", chatID, caller.UserID, purged)
	return nil
}

// AuthorizeAttachment: файл доступен участникам чата-владельца и админам.
func (s *MessagingService) AuthorizeAttachment(ctx context.Context, caller model.Identity, path string) error {
	chatID, err := attachment.ChatIDFromPath(path)
	if err != nil {
		return apperr.NotFound("attachment")
	}
	if caller.IsAdmin() {
		return nil
	}
	return s.requireParticipant(ctx, caller, chatID)
}

func (s *MessagingService) requireParticipant(ctx context.Context, caller model.Identity, chatID string) error {
	ok, err := s.store.Chats().IsParticipant(ctx, chatID, caller.UserID)
	if err != nil {
		return apperr.Internal("failed to check chat membership", err)
	}
	if !ok {
		return apperr.Forbidden("not a participant of this chat")
	}
	return nil
}

func (s *MessagingService) discard(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.files.Delete(ctx, path); err != nil {
		logger.Errorf("discard attachment %s: %v", path, err)
	}
}

func attachmentPayload(in SendMessageInput, path string) model.Payload {
	file := model.File{
		URL:  path,
		Name: attachment.SafeFilename(in.File.Filename),
		Size: int64(len(in.File.Data)),
	}
	caption := strings.TrimSpace(in.Content)
	switch in.ContentType {
	case model.ContentTypeImage:
		return model.Image{File: file, Caption: caption}
	case model.ContentTypeVideo:
		return model.Video{File: file, Duration: in.Duration, Caption: caption}
	case model.ContentTypeAudio:
		return model.Audio{File: file, Duration: in.Duration, Caption: caption}
	default:
		return model.Document{File: file, Caption: caption}
	}
}

// distinctParticipants ставит вызывающего первым, убирает пустые и повторы.
func distinctParticipants(callerID string, ids []string) []string {
	seen := map[string]bool{callerID: true}
	out := []string{callerID}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func normalizeServiceID(serviceID *string) *string {
	if serviceID == nil {
		return nil
	}
	v := strings.TrimSpace(*serviceID)
	if v == "" {
		return nil
	}
	return &v
}

func normalizePage(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

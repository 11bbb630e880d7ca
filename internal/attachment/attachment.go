// Package attachment: хранение файлов сообщений вне БД и проверка загрузок.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

var (
	ErrInvalid     = errors.New("invalid attachment")
	ErrEmpty       = fmt.Errorf("%w: file is empty", ErrInvalid)
	ErrTooLarge    = fmt.Errorf("%w: file exceeds %d MiB", ErrInvalid, model.MaxFileSize>>20)
	ErrTypeDenied  = fmt.Errorf("%w: file type not allowed", ErrInvalid)
	ErrKindInvalid = fmt.Errorf("%w: content type does not carry a file", ErrInvalid)
	ErrBadPath     = errors.New("attachment path outside store")
)

// Store хранит вложения под префиксом чата.
type Store interface {
	// Save пишет данные и возвращает относительный путь (file_url сообщения).
	Save(ctx context.Context, chatID, originalFilename string, data []byte) (string, error)
	// Delete удаляет один файл; отсутствие файла не ошибка.
	Delete(ctx context.Context, path string) error
	// DeleteChat удаляет все файлы чата.
	DeleteChat(ctx context.Context, chatID string) error
}

// Opener реализуют хранилища, которые умеют отдавать файл клиенту.
// Отсутствующий файл: fs.ErrNotExist.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Upload: файл, полученный от клиента.
type Upload struct {
	Filename string
	MIME     string // заявленный клиентом, может быть пустым
	Data     []byte
}

// Блокируем исполняемые и скрипты независимо от MIME.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

var allowedMIME = map[model.ContentType][]string{
	model.ContentTypeImage: {"image/jpeg", "image/png", "image/gif", "image/webp"},
	model.ContentTypeVideo: {
		"video/mp4", "video/x-msvideo", "video/avi", "video/quicktime", "video/mov",
		"video/x-ms-wmv", "video/wmv", "video/x-ms-asf",
	},
	model.ContentTypeAudio: {
		"audio/mpeg", "audio/mp3", "audio/wav", "audio/x-wav", "audio/wave",
		"audio/x-m4a", "audio/m4a", "audio/mp4", "audio/ogg",
	},
	model.ContentTypeDocument: {
		"application/pdf", "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain",
	},
}

// Контейнеры, которые по байтам не отличить от содержимого (docx это zip, doc это OLE);
// для них решает заявленный клиентом MIME.
var containerMIME = []string{"application/zip", "application/x-ole-storage"}

// Validate проверяет лимит размера и белый список MIME для типа сообщения.
// Тип определяется по байтам; заявленному MIME верим только для контейнеров.
func Validate(u Upload, kind model.ContentType) error {
	allowed, ok := allowedMIME[kind]
	if !ok {
		return ErrKindInvalid
	}
	if len(u.Data) == 0 {
		return ErrEmpty
	}
	if len(u.Data) > model.MaxFileSize {
		return ErrTooLarge
	}
	if blockedExt[strings.ToLower(filepath.Ext(u.Filename))] {
		return ErrTypeDenied
	}

	// Только точное совпадение: родитель text/html и image/svg+xml это text/plain.
	detected := mimetype.Detect(u.Data)
	if isAny(detected, allowed) {
		return nil
	}
	if isAny(detected, containerMIME) && contains(allowed, normalizeMIME(u.MIME)) {
		return nil
	}
	logger.Debugf("attachment rejected kind=%s detected=%s declared=%q", kind, detected.String(), u.MIME)
	return ErrTypeDenied
}

func isAny(m *mimetype.MIME, list []string) bool {
	for _, s := range list {
		if m.Is(s) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeMIME(s string) string {
	if idx := strings.Index(s, ";"); idx >= 0 {
		s = s[:idx]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// fileName: {chatID}_{unixMillis}{ext}.
func fileName(chatID string, at time.Time, ext string) string {
	return chatID + "_" + strconv.FormatInt(at.UnixMilli(), 10) + ext
}

// chatPrefix: каталог чата в относительной раскладке.
func chatPrefix(chatID string) string {
	return path.Join("chats", chatID)
}

// extension возвращает короткое расширение исходного имени в нижнем регистре.
func extension(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(originalFilename, "+", " ")))
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext[min(1, len(ext)):] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ""
		}
	}
	return ext
}

// validSegment отсекает id, которые вывели бы за каталог чата.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`+"\x00")
}

// cleanRelative нормализует путь и не пускает за пределы "chats/".
func cleanRelative(p string) (string, error) {
	p = path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimPrefix(p, "/")
	if !strings.HasPrefix(p, "chats/") {
		return "", ErrBadPath
	}
	return p, nil
}

// ChatIDFromPath возвращает чат-владелец пути chats/{chatID}/{file}.
func ChatIDFromPath(p string) (string, error) {
	rel, err := cleanRelative(p)
	if err != nil {
		return "", err
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 3 || !validSegment(parts[1]) || parts[2] == "" {
		return "", ErrBadPath
	}
	return parts[1], nil
}

// ContentTypeByExt: Content-Type отдаваемого файла по расширению.
func ContentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".wmv":
		return "video/x-ms-wmv"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// SafeFilename оставляет имя файла пригодным для отображения и Content-Disposition.
func SafeFilename(s string) string {
	s = strings.TrimSpace(filepath.Base(strings.ReplaceAll(s, "+", " ")))
	if s == "" || s == "." || s == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Release удаляет файлы удалённого сообщения; ошибки только логируются.
func Release(ctx context.Context, store Store, m *model.Message) {
	if store == nil || m == nil {
		return
	}
	for _, p := range []*string{m.FileURL, m.ThumbnailURL} {
		if p == nil || *p == "" {
			continue
		}
		if _, err := cleanRelative(*p); err != nil {
			// URL location/link не файлы хранилища.
			continue
		}
		if err := store.Delete(ctx, *p); err != nil {
			logger.Errorf("attachment release message=%s path=%s: %v", m.ID, *p, err)
		}
	}
}

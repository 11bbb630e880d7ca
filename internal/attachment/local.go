package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/marketchat/internal/logger"
)

const maxNameAttempts = 16

// LocalStore хранит вложения на диске в root/chats/{chatID}/.
type LocalStore struct {
	root string
	now  func() time.Time
}

func NewLocal(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("attachment.NewLocal: %w", err)
	}
	return &LocalStore{root: root, now: time.Now}, nil
}

func (s *LocalStore) Save(ctx context.Context, chatID, originalFilename string, data []byte) (string, error) {
	defer logger.DeferLogDuration("attachment.Save", time.Now())()
	if !validSegment(chatID) {
		return "", fmt.Errorf("attachment.Save: %w", ErrBadPath)
	}
	dir := chatPrefix(chatID)
	if err := os.MkdirAll(filepath.Join(s.root, filepath.FromSlash(dir)), 0o755); err != nil {
		return "", fmt.Errorf("attachment.Save mkdir: %w", err)
	}

	ext := extension(originalFilename)
	at := s.now()
	// Две загрузки в одну миллисекунду получают соседние метки вместо перезаписи.
	for i := 0; i < maxNameAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("attachment.Save: %w", err)
		}
		rel := path.Join(dir, fileName(chatID, at.Add(time.Duration(i)*time.Millisecond), ext))
		dst := filepath.Join(s.root, filepath.FromSlash(rel))
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("attachment.Save create: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(dst)
			return "", fmt.Errorf("attachment.Save write: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(dst)
			return "", fmt.Errorf("attachment.Save close: %w", err)
		}
		return rel, nil
	}
	return "", fmt.Errorf("attachment.Save: no free name for chat %s", chatID)
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	defer logger.DeferLogDuration("attachment.Delete", time.Now())()
	rel, err := cleanRelative(p)
	if err != nil {
		return fmt.Errorf("attachment.Delete: %w", err)
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("attachment.Delete: %w", err)
	}
	return nil
}

func (s *LocalStore) DeleteChat(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("attachment.DeleteChat", time.Now())()
	if !validSegment(chatID) {
		return fmt.Errorf("attachment.DeleteChat: %w", ErrBadPath)
	}
	if err := os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(chatPrefix(chatID)))); err != nil {
		return fmt.Errorf("attachment.DeleteChat: %w", err)
	}
	return nil
}

// Open открывает файл для отдачи клиенту.
func (s *LocalStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	rel, err := cleanRelative(p)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.root, filepath.FromSlash(rel)))
}

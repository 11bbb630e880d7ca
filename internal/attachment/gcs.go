package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/marketchat/internal/logger"
)

// GCSStore хранит вложения в бакете Cloud Storage; имена объектов повторяют локальную раскладку
// под необязательным префиксом, так что file_url одинаков для обоих бэкендов.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("attachment.NewGCS: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}, nil
}

func (s *GCSStore) object(rel string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, rel))
}

func (s *GCSStore) Save(ctx context.Context, chatID, originalFilename string, data []byte) (string, error) {
	defer logger.DeferLogDuration("attachment.gcs.Save", time.Now())()
	if !validSegment(chatID) {
		return "", fmt.Errorf("attachment.gcs.Save: %w", ErrBadPath)
	}
	ext := extension(originalFilename)
	at := s.now()
	for i := 0; i < maxNameAttempts; i++ {
		rel := path.Join(chatPrefix(chatID), fileName(chatID, at.Add(time.Duration(i)*time.Millisecond), ext))
		// DoesNotExist делает запись аналогом O_EXCL.
		w := s.object(rel).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = ContentTypeByExt(ext)
		w.CacheControl = "private, max-age=86400"
		if _, err := w.Write(data); err != nil {
			w.Close()
			return "", fmt.Errorf("attachment.gcs.Save write: %w", err)
		}
		err := w.Close()
		if err == nil {
			return rel, nil
		}
		if isPreconditionFailed(err) {
			continue
		}
		return "", fmt.Errorf("attachment.gcs.Save close: %w", err)
	}
	return "", fmt.Errorf("attachment.gcs.Save: no free name for chat %s", chatID)
}

func (s *GCSStore) Delete(ctx context.Context, p string) error {
	defer logger.DeferLogDuration("attachment.gcs.Delete", time.Now())()
	rel, err := cleanRelative(p)
	if err != nil {
		return fmt.Errorf("attachment.gcs.Delete: %w", err)
	}
	if err := s.object(rel).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("attachment.gcs.Delete: %w", err)
	}
	return nil
}

func (s *GCSStore) DeleteChat(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("attachment.gcs.DeleteChat", time.Now())()
	if !validSegment(chatID) {
		return fmt.Errorf("attachment.gcs.DeleteChat: %w", ErrBadPath)
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: path.Join(s.prefix, chatPrefix(chatID)) + "/"})
	var failed int
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("attachment.gcs.DeleteChat list: %w", err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			logger.Errorf("attachment.gcs.DeleteChat object=%s: %v", attrs.Name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("attachment.gcs.DeleteChat: %d objects not deleted", failed)
	}
	return nil
}

func (s *GCSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	rel, err := cleanRelative(p)
	if err != nil {
		return nil, err
	}
	r, err := s.object(rel).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("attachment.gcs.Open: %w", err)
	}
	return r, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

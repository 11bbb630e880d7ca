package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

// Сессии пишет сервис авторизации: HASH session:{token} с полями user_id, role, active.
const (
	sessionKeyPrefix = "session:"
	SessionTTL       = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Resolve возвращает личность по токену. Неизвестный или неактивный токен: storage.ErrNotFound.
func (c *Client) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, storage.ErrNotFound
	}
	vals, err := c.cli.HGetAll(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis resolve: %w", err)
	}
	userID := vals["user_id"]
	if userID == "" {
		return nil, storage.ErrNotFound
	}
	active := true
	if raw, ok := vals["active"]; ok {
		if active, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("redis resolve: bad active flag %q: %w", raw, err)
		}
	}
	if !active {
		return nil, storage.ErrNotFound
	}
	role := model.Role(vals["role"])
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	return &model.Identity{UserID: userID, Role: role, IsActive: true}, nil
}

// PutSession записывает сессию (используется в -dev для засева и в тестах).
func (c *Client) PutSession(ctx context.Context, token string, id model.Identity) error {
	key := sessionKeyPrefix + token
	pipe := c.cli.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"user_id": id.UserID,
		"role":    string(id.Role),
		"active":  strconv.FormatBool(id.IsActive),
	})
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	return c.cli.Del(ctx, sessionKeyPrefix+token).Err()
}

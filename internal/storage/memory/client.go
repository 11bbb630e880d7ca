package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
)

const sessionTTL = 30 * 24 * time.Hour

type item struct {
	id  model.Identity
	exp time.Time
}

// Identities: хранилище сессий в памяти (режим -dev без Redis, тесты).
type Identities struct {
	mu       sync.RWMutex
	sessions map[string]item
}

func NewIdentities() *Identities {
	return &Identities{sessions: make(map[string]item)}
}

func (c *Identities) Close() error { return nil }

func (c *Identities) Put(token string, id model.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[token] = item{id: id, exp: time.Now().Add(sessionTTL)}
}

func (c *Identities) Delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, token)
}

func (c *Identities) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[token]
	if !ok || time.Now().After(v.exp) || !v.id.IsActive {
		return nil, storage.ErrNotFound
	}
	id := v.id
	return &id, nil
}

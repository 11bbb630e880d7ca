package middleware

import (
	"context"

	"github.com/marketchat/internal/model"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	IdentityKey contextKey = "identity"
)

// WithIdentity кладёт личность вызывающего в контекст (Authenticate, тесты).
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	ctx = context.WithValue(ctx, IdentityKey, id)
	return context.WithValue(ctx, UserIDKey, id.UserID)
}

// GetIdentity возвращает личность, установленную Authenticate.
func GetIdentity(ctx context.Context) (model.Identity, bool) {
	v, ok := ctx.Value(IdentityKey).(model.Identity)
	return v, ok
}

// GetUserID возвращает user_id из контекста.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/storage"
)

// Authenticate разрешает токен сессии (Authorization: Bearer или X-Session-Id) через IdentityStore.
// Неизвестный или неактивный пользователь: 401.
func Authenticate(store storage.IdentityStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w)
				return
			}
			id, err := store.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					logger.Errorf("auth resolve token=%s: %v", MaskToken(token), err)
				}
				writeUnauthorized(w)
				return
			}
			if !id.IsActive {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-Session-Id"))
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","code":"UNAUTHORIZED"}` + "\n"))
}

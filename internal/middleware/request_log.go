package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/marketchat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap, ok := w.(*statusWriter)
		if !ok {
			wrap = &statusWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(wrap, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+strconv.Itoa(wrap.status), start)
	})
}

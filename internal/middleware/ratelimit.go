package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 200
	rateLimitMaxUser = 100
)

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		r.times[key] = slice
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// RateLimitAPI ограничивает запросы к /api/* по IP и по user_id (если есть в контексте). 429 при превышении.
// Ставится после Authenticate, иначе лимит по пользователю не применяется.
func RateLimitAPI(maxPerIP, maxPerUser int) func(http.Handler) http.Handler {
	if maxPerIP <= 0 {
		maxPerIP = rateLimitMaxIP
	}
	if maxPerUser <= 0 {
		maxPerUser = rateLimitMaxUser
	}
	byIP := newRateLimiter(maxPerIP, rateLimitWindow)
	byUser := newRateLimiter(maxPerUser, rateLimitWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !byIP.allow(ip, now) {
				writeTooManyRequests(w)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !byUser.allow("u:"+userID, now) {
					writeTooManyRequests(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests","code":"RATE_LIMITED"}` + "\n"))
}

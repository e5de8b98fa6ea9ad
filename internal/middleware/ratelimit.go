package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/studybuddy-ai/server/pkg/utils"
)

const rateLimitedMessage = "Too many requests, please try again later."

type window struct {
	count   int
	resetAt time.Time
}

// limiter tracks fixed-window request counts per key. Expired windows
// are swept whenever a key rolls over, so the map stays bounded by the
// number of keys active within one span.
type limiter struct {
	max  int
	span time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(max int, span time.Duration) *limiter {
	return &limiter{
		max:     max,
		span:    span,
		windows: make(map[string]*window),
	}
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.windows[key]
	if !ok || now.After(win.resetAt) {
		l.sweep(now)
		win = &window{resetAt: now.Add(l.span)}
		l.windows[key] = win
	}
	win.count++
	return win.count <= l.max
}

func (l *limiter) sweep(now time.Time) {
	for key, win := range l.windows {
		if now.After(win.resetAt) {
			delete(l.windows, key)
		}
	}
}

// RateLimit enforces a fixed-window request quota per authenticated
// user (falling back to the remote address). Requests beyond the quota
// are rejected with 429, not queued.
func RateLimit(max int, span time.Duration) func(http.Handler) http.Handler {
	l := newLimiter(max, span)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}

			if !l.allow(key, time.Now()) {
				utils.RespondError(w, http.StatusTooManyRequests, rateLimitedMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

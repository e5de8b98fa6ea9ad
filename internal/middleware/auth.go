package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/studybuddy-ai/server/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "userID"

// Auth requires a bearer token and the caller's user identity header.
// The token is the opaque credential the frontend stores client-side;
// requests without both are rejected before reaching any handler.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

		token := ""
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}

		if token == "" || userID == "" {
			utils.RespondError(w, http.StatusUnauthorized, "Not authorized.")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id stored by Auth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

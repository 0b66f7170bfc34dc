package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"

	// TokenCookie is the cookie the web client stores its token in.
	TokenCookie = "chattu-token"
)

// TokenValidator is what we need from the user service.
// Returns userID, display name, error.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects requests without a valid token and stores the identity in
// the request context.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, name, err := am.validator.ValidateToken(tokenString)
		if err != nil || userID == "" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, name)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken checks the Authorization header, then the cookie, then the
// token query parameter (browsers cannot set headers on websocket upgrades).
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if t := strings.TrimSpace(parts[1]); t != "" {
				return t
			}
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Identity returns what Handle stored in ctx.
func Identity(ctx context.Context) (userID, name string, ok bool) {
	userID, ok = ctx.Value(UserKey).(string)
	if !ok || userID == "" {
		return "", "", false
	}
	name, _ = ctx.Value(UsernameKey).(string)
	return userID, name, true
}

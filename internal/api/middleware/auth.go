package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Rrens/ai-session-manager/internal/api/response"
	"github.com/Rrens/ai-session-manager/internal/security"
	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey    contextKey = "userID"
	UserEmailKey contextKey = "userEmail"
	TabIDKey     contextKey = "tabID"
)

// TabHeader carries the browser tab id that selects the session slot
const TabHeader = "X-Tab-ID"

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager *security.JWTManager
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *security.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Authenticate requires a valid access token
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		ctx, err := m.withClaims(r.Context(), authHeader)
		if err != nil {
			response.Unauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuthenticate attaches the user when a token is present and lets
// anonymous requests through
func (m *AuthMiddleware) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx, err := m.withClaims(r.Context(), authHeader)
		if err != nil {
			response.Unauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) withClaims(ctx context.Context, authHeader string) (context.Context, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, errInvalidHeader
	}

	claims, err := m.jwtManager.ValidateAccessToken(parts[1])
	if err != nil {
		return nil, errInvalidToken
	}

	ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
	return ctx, nil
}

// GetUserID gets the user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// GetUserEmail gets the user email from context
func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}

// GetTabID gets the tab id from context
func GetTabID(ctx context.Context) (string, bool) {
	tab, ok := ctx.Value(TabIDKey).(string)
	return tab, ok
}

// TabContext extracts the tab id header and adds it to context
func TabContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tab := strings.TrimSpace(r.Header.Get(TabHeader))
		if tab == "" {
			response.BadRequest(w, "missing "+TabHeader+" header")
			return
		}
		if len(tab) > 128 {
			response.BadRequest(w, "invalid "+TabHeader+" header")
			return
		}

		ctx := context.WithValue(r.Context(), TabIDKey, tab)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/welldanyogia/event-bridge/backend/internal/auth"
	appctx "github.com/welldanyogia/event-bridge/backend/internal/context"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	CodeTokenMissing   = "AUTH_TOKEN_MISSING"
	CodeTokenInvalid   = "AUTH_TOKEN_INVALID"
	CodeTokenWrongKind = "AUTH_TOKEN_WRONG_KIND"
)

// AuthMiddleware handles JWT authentication for protected routes
type AuthMiddleware struct {
	tokenService *auth.TokenService
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokenService *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate returns a middleware that accepts only tokens of the given kind
// from the Authorization header.
func (m *AuthMiddleware) Authenticate(kind auth.Kind) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				m.writeError(w, http.StatusUnauthorized, CodeTokenMissing, "Authorization header is required")
				return
			}

			tokenString, ok := BearerToken(authHeader)
			if !ok {
				m.writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid authorization header format")
				return
			}

			claims, err := m.tokenService.Validate(tokenString, kind)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidTokenKind) {
					m.writeError(w, http.StatusForbidden, CodeTokenWrongKind, "Token is not valid for this endpoint")
					return
				}
				m.writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid or expired token")
				return
			}

			ctx := appctx.WithClient(r.Context(), claims.ClientID(), string(claims.Kind))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ExtractClientID extracts the authenticated client id from the request context
func ExtractClientID(ctx context.Context) (string, bool) {
	return appctx.ExtractClientID(ctx)
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/services/token"
	"github.com/gfmateus5/Mateus2121/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating session tokens
type TokenValidator interface {
	// ValidateToken validates a session token and returns its claims
	ValidateToken(ctx context.Context, token string) (*token.Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie name for session tokens (Authorization header takes precedence)
// sessionCookieName is set by the auth handler after the Fenix callback
const authTokenCookieName = "auth_token"
const sessionCookieName = "session"

// RequireAuth is a middleware that requires a valid session token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		// Extract token from Authorization header ("Bearer TOKEN") or cookie
		raw := extractToken(r)
		if raw == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, raw)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)
		if userID, err := uuid.Parse(claims.UserID); err == nil {
			ctx = WithUserID(ctx, &userID)
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("username", claims.Username),
			zap.String("role", string(claims.Role)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires one of the given roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			hasRole := false
			for _, role := range roles {
				if claims.HasRole(role) {
					hasRole = true
					break
				}
			}

			if !hasRole {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("username", claims.Username),
					zap.String("role", string(claims.Role)))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the token from the Authorization header ("Bearer TOKEN")
// or the auth_token/session cookies. The header takes precedence.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	for _, name := range []string{authTokenCookieName, sessionCookieName} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

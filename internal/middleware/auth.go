// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/httputil"
	"github.com/fotogem/studio-gateway/internal/logging"
)

// Claims represents the identity-token claims the gateway cares about.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the stable account identifier carried by the token.
// Identity providers that issue RS256 ID tokens put it in the subject.
func (c *Claims) AccountID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// AuthMiddleware verifies bearer identity tokens.
type AuthMiddleware struct {
	publicKey *rsa.PublicKey
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests whose path
// is in skipPaths pass through unauthenticated.
func NewAuthMiddleware(publicKey *rsa.PublicKey, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		publicKey: publicKey,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		accountID := claims.AccountID()
		if accountID == "" {
			m.respondError(w, r, errors.Unauthorized("Token carries no account identifier"))
			return
		}

		ctx := logging.WithUserID(r.Context(), accountID)
		if claims.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
		}

		m.logger.WithContext(ctx).Debug("authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken parses and verifies an RS256 identity token.
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.publicKey, nil
	})

	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}

	return claims, nil
}

// respondError sends an error response and logs the failure.
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("authentication failed")
}

// GetUserID extracts the authenticated account ID from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// RequireUserID ensures an account ID is present in context.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

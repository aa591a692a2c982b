// Package middleware provides HTTP middleware for the API server
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/wallet"
)

type contextKey string

// AddressKey carries the authenticated wallet address in a request context.
const AddressKey contextKey = "wallet_address"

// GetAddress returns the authenticated wallet address from a context, or "".
func GetAddress(ctx context.Context) string {
	if addr, ok := ctx.Value(AddressKey).(string); ok {
		return addr
	}
	return ""
}

// SessionStore looks up live sessions by hashed token. Logout deletes
// the row, which is what actually revokes a token before its JWT expiry.
type SessionStore interface {
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*database.UserSession, error)
}

// AuthMiddleware authenticates requests with wallet session tokens.
type AuthMiddleware struct {
	issuer    *wallet.TokenIssuer
	sessions  SessionStore
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(issuer *wallet.TokenIssuer, sessions SessionStore, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		issuer:    issuer,
		sessions:  sessions,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler. Requests without credentials
// pass through unauthenticated; handlers that need a wallet enforce it
// themselves. A credential that is present but invalid is rejected.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, verr := m.issuer.Validate(tokenString)
		if verr != nil {
			m.logger.WithContext(r.Context()).WithError(verr).Warn("Token validation failed")
			m.respondError(w, r, errors.InvalidToken(verr))
			return
		}

		// A valid JWT is not enough: the session row must still exist,
		// since logout revokes by deleting it.
		if _, serr := m.sessions.GetSessionByTokenHash(r.Context(), wallet.HashToken(tokenString)); serr != nil {
			m.logger.WithContext(r.Context()).WithError(serr).Warn("Session lookup failed")
			m.respondError(w, r, errors.InvalidToken(serr))
			return
		}

		ctx := context.WithValue(r.Context(), logging.UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, AddressKey, strings.ToLower(claims.Address))

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id": claims.UserID,
			"address": claims.Address,
		}).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads a bearer token from the Authorization header, or
// from the token query parameter for WebSocket upgrades where browsers
// cannot set headers. Returns "" when no credential was supplied.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r.URL.Query().Get("token")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// respondError sends an error response
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
	}).Warn("Authentication failed")
}

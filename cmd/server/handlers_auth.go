package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/httputil"
	"github.com/tokenrooms/backend/internal/middleware"
	"github.com/tokenrooms/backend/internal/wallet"
)

// =============================================================================
// Auth Handlers
// =============================================================================

func (a *app) nonceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string `json:"address"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			writeError(w, r, errors.InvalidFormat("invalid request body"))
			return
		}
		if !wallet.IsValidAddress(req.Address) {
			writeError(w, r, errors.InvalidFormat("address is not a valid wallet address"))
			return
		}
		address := strings.ToLower(req.Address)

		nonce, err := wallet.GenerateNonce()
		if err != nil {
			writeError(w, r, errors.Internal("failed to generate nonce", err))
			return
		}

		// Get or create the user row for this wallet. Only a missing
		// row means create; a store failure must not mint a duplicate.
		user, err := a.repo.GetUserByAddress(r.Context(), address)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			writeError(w, r, errors.Internal("failed to load user", err))
			return
		}
		if err != nil {
			user = &database.User{
				ID:        uuid.New().String(),
				Address:   address,
				CreatedAt: time.Now(),
			}
			if cerr := a.repo.CreateUser(r.Context(), user); cerr != nil {
				writeError(w, r, errors.Internal("failed to create user", cerr))
				return
			}
		}

		if err := a.repo.UpdateUserNonce(r.Context(), user.ID, nonce); err != nil {
			writeError(w, r, errors.Internal("failed to store nonce", err))
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"nonce":   nonce,
			"message": wallet.ChallengeMessage(nonce),
		})
	}
}

func (a *app) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address   string `json:"address"`
			Signature string `json:"signature"`
			Message   string `json:"message"`
			Nonce     string `json:"nonce"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			writeError(w, r, errors.InvalidFormat("invalid request body"))
			return
		}
		if req.Signature == "" || req.Message == "" || req.Nonce == "" {
			writeError(w, r, errors.InvalidFormat("signature, message, and nonce are required"))
			return
		}

		// Signature verification proves wallet ownership
		if !wallet.VerifySignature(req.Address, req.Message, req.Signature) {
			writeError(w, r, errors.Unauthorized("signature verification failed"))
			return
		}
		address := strings.ToLower(req.Address)

		user, err := a.repo.GetUserByAddress(r.Context(), address)
		if err != nil {
			writeError(w, r, errors.NotFound("user not found, request a nonce first"))
			return
		}

		// Enforce nonce binding and one-time use
		if user.Nonce == "" || user.Nonce != req.Nonce {
			writeError(w, r, errors.Unauthorized("invalid nonce"))
			return
		}
		if !strings.Contains(req.Message, user.Nonce) {
			writeError(w, r, errors.Unauthorized("nonce not present in signed message"))
			return
		}

		token, expiresAt, err := a.issuer.Issue(user.ID, address)
		if err != nil {
			writeError(w, r, errors.Internal("failed to generate token", err))
			return
		}

		session := &database.UserSession{
			UserID:    user.ID,
			TokenHash: wallet.HashToken(token),
			ExpiresAt: expiresAt,
			CreatedAt: time.Now(),
		}
		if err := a.repo.CreateSession(r.Context(), session); err != nil {
			writeError(w, r, errors.Internal("failed to create session", err))
			return
		}

		// Rotate the nonce to prevent replay
		if nextNonce, nerr := wallet.GenerateNonce(); nerr == nil {
			_ = a.repo.UpdateUserNonce(r.Context(), user.ID, nextNonce)
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user_id":    user.ID,
			"address":    address,
			"token":      token,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}
}

func (a *app) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetAddress(r.Context()) == "" {
			writeError(w, r, errors.Unauthorized("authentication required"))
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 {
			writeError(w, r, errors.Unauthorized("missing session token"))
			return
		}

		if err := a.repo.DeleteSession(r.Context(), wallet.HashToken(parts[1])); err != nil {
			writeError(w, r, errors.Internal("failed to end session", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"logged_out": true,
		})
	}
}

func equalAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// requireAddress returns the authenticated wallet address or an error
// suitable for the response.
func requireAddress(r *http.Request) (string, error) {
	address := middleware.GetAddress(r.Context())
	if address == "" {
		return "", errors.Unauthorized("authentication required")
	}
	return address, nil
}

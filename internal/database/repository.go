// Package database provides the Supabase-backed data layer.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tokenrooms/backend/supabase/client"
)

// Sentinel errors callers branch on. Everything else is a transport or
// store failure and is surfaced as-is.
var (
	ErrNotFound  = errors.New("row not found")
	ErrDuplicate = errors.New("duplicate row")
)

// Room is a row of the rooms table. Name is the primary key, always
// lowercase.
type Room struct {
	Name              string  `json:"name"`
	OwnerAddress      string  `json:"owner_address"`
	CreatedAt         string  `json:"created_at,omitempty"`
	TokenAddress      *string `json:"token_address"`
	TokenNetwork      *string `json:"token_network"`
	RequiredTokens    float64 `json:"required_tokens"`
	AvatarURL         *string `json:"avatar_url"`
	AvatarUpdatedAt   *string `json:"avatar_updated_at"`
	UseContractAvatar bool    `json:"use_contract_avatar"`
}

// Message is a row of the messages table. Immutable once inserted.
type Message struct {
	ID                string  `json:"id,omitempty"`
	RoomID            string  `json:"room_id"`
	UserAddress       string  `json:"user_address"`
	Content           string  `json:"content"`
	CreatedAt         string  `json:"created_at,omitempty"`
	FarcasterUsername *string `json:"farcaster_username,omitempty"`
	FarcasterAvatar   *string `json:"farcaster_avatar,omitempty"`
}

// User is a row of the users table.
type User struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSession is a row of the user_sessions table.
type UserSession struct {
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository wraps the Supabase client with typed table access.
type Repository struct {
	client *client.Client
}

// NewRepository creates a Repository.
func NewRepository(c *client.Client) *Repository {
	return &Repository{client: c}
}

// Client exposes the underlying Supabase client (storage, realtime URL).
func (r *Repository) Client() *client.Client {
	return r.client
}

// HealthCheck verifies the store answers.
func (r *Repository) HealthCheck(ctx context.Context) error {
	resp, err := r.client.From("rooms").Select("name").Limit(1).Execute(ctx)
	if err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("store health check: status %d", resp.StatusCode)
	}
	return nil
}

// mapError converts a PostgREST error response into a sentinel or passes
// it through.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case client.IsNoRows(err):
		return ErrNotFound
	case client.IsUniqueViolation(err):
		return ErrDuplicate
	default:
		return err
	}
}

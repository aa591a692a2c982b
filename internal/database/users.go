package database

import (
	"context"
	"fmt"
	"strings"
)

// GetUserByAddress fetches a user by wallet address.
func (r *Repository) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	address = strings.ToLower(address)

	resp, err := r.client.From("users").Select("*").Eq("address", address).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", address, err)
	}
	if err := mapError(resp.Err()); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", address, err)
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", address, err)
	}
	return &user, nil
}

// CreateUser inserts a user row.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	user.Address = strings.ToLower(user.Address)

	resp, err := r.client.From("users").ExecuteInsert(ctx, user)
	if err != nil {
		return fmt.Errorf("create user %s: %w", user.Address, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return fmt.Errorf("create user %s: %w", user.Address, err)
	}
	return nil
}

// UpdateUserNonce stores a fresh login nonce for the user.
func (r *Repository) UpdateUserNonce(ctx context.Context, userID, nonce string) error {
	resp, err := r.client.From("users").Eq("id", userID).ExecuteUpdate(ctx, map[string]string{"nonce": nonce})
	if err != nil {
		return fmt.Errorf("update nonce for %s: %w", userID, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return fmt.Errorf("update nonce for %s: %w", userID, err)
	}
	return nil
}

// CreateSession inserts a session row.
func (r *Repository) CreateSession(ctx context.Context, session *UserSession) error {
	resp, err := r.client.From("user_sessions").ExecuteInsert(ctx, session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := mapError(resp.Err()); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash fetches a live session by its token hash.
// Returns ErrNotFound for revoked or never-issued tokens.
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error) {
	resp, err := r.client.From("user_sessions").Select("*").Eq("token_hash", tokenHash).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := mapError(resp.Err()); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session UserSession
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes a session by its token hash.
func (r *Repository) DeleteSession(ctx context.Context, tokenHash string) error {
	resp, err := r.client.From("user_sessions").Eq("token_hash", tokenHash).ExecuteDelete(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := mapError(resp.Err()); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

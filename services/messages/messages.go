// Package messages implements chat message history and delivery.
package messages

import (
	"context"
	"fmt"
	"strings"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
	"github.com/tokenrooms/backend/services/identity"
)

const (
	// DefaultPageSize is the number of messages returned per history page.
	DefaultPageSize = 50
	maxContentLen   = 4000
)

// Service reads and writes chat messages.
type Service struct {
	repo     *database.Repository
	identity *identity.Resolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewService creates a message service.
func NewService(repo *database.Repository, resolver *identity.Resolver, logger *logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		identity: resolver,
		logger:   logger,
		metrics:  m,
	}
}

// Page is one page of message history, oldest first.
type Page struct {
	Messages []database.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

// List returns up to limit messages for a room, oldest first. before,
// when set, restricts the page to messages created strictly earlier,
// which is how older history is paged in.
func (s *Service) List(ctx context.Context, roomID string, limit int, before string) (*Page, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}

	rows, err := s.repo.ListMessages(ctx, roomID, limit, before)
	s.metrics.RecordStoreCall("messages", "select", err)
	if err != nil {
		return nil, fmt.Errorf("list messages for room %q: %w", roomID, err)
	}

	// Rows arrive newest-first; flip them for display order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	return &Page{
		Messages: rows,
		HasMore:  len(rows) == limit,
	}, nil
}

// Send stores a message, enriching it with the sender's Farcaster
// identity when one is known. Identity lookup failures never block the
// message.
func (s *Service) Send(ctx context.Context, roomID, userAddress, content string) (*database.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.InvalidFormat("message content is required")
	}
	if len(content) > maxContentLen {
		return nil, errors.InvalidFormat("message content too long")
	}

	msg := &database.Message{
		RoomID:      strings.ToLower(roomID),
		UserAddress: strings.ToLower(userAddress),
		Content:     content,
	}

	if profile := s.identity.Resolve(ctx, userAddress); profile != nil {
		msg.FarcasterUsername = &profile.Username
		if profile.AvatarURL != "" {
			msg.FarcasterAvatar = &profile.AvatarURL
		}
	}

	stored, err := s.repo.InsertMessage(ctx, msg)
	s.metrics.RecordStoreCall("messages", "insert", err)
	if err != nil {
		return nil, fmt.Errorf("send message to room %q: %w", roomID, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"room":   msg.RoomID,
		"sender": msg.UserAddress,
	}).Debug("Message stored")
	return stored, nil
}

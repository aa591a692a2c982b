// Package rooms implements room resolution, gating configuration and
// avatar management.
package rooms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenrooms/backend/internal/chain"
	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/errors"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
	"github.com/tokenrooms/backend/supabase/client"
)

const (
	avatarBucket      = "avatars"
	maxAvatarSize     = 2 * 1024 * 1024
	popularRoomsLimit = 11
)

var allowedAvatarTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/svg+xml": true,
}

// Service coordinates room lifecycle against the store and the chain.
type Service struct {
	repo      *database.Repository
	storage   *client.StorageClient
	resolvers map[chain.Network]*chain.OwnerResolver
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewService creates a room service. resolvers maps each supported
// network to its contract owner resolver.
func NewService(repo *database.Repository, storage *client.StorageClient, resolvers map[chain.Network]*chain.OwnerResolver, logger *logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		storage:   storage,
		resolvers: resolvers,
		logger:    logger,
		metrics:   m,
	}
}

// ResolveRequest describes a room lookup that may create the room.
type ResolveRequest struct {
	Name         string
	OwnerAddress string
	TokenAddress string
	TokenNetwork string
}

// Resolve returns the room with the given name, creating it when it
// does not exist yet. An existing room is authoritative: its stored
// owner and gate win over anything in the request. For a new room named
// by a contract address the contract's controller becomes the owner
// unless one was supplied explicitly.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*database.Room, error) {
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		return nil, errors.InvalidFormat("room name is required")
	}

	existing, err := s.repo.GetRoom(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("look up room %q: %w", name, err)
	}

	owner := strings.ToLower(req.OwnerAddress)
	tokenNetwork := req.TokenNetwork
	if owner == "" && chain.IsContractAddress(name) {
		resolved, network := s.resolveContractOwner(ctx, name)
		if resolved != "" {
			owner = resolved
			if tokenNetwork == "" {
				tokenNetwork = network.String()
			}
		}
	}
	if owner == "" {
		return nil, errors.NeedsOwner(name)
	}

	room := &database.Room{
		Name:              name,
		OwnerAddress:      owner,
		RequiredTokens:    0,
		UseContractAvatar: chain.IsContractAddress(name),
	}
	if req.TokenAddress != "" {
		addr := strings.ToLower(req.TokenAddress)
		room.TokenAddress = &addr
		if tokenNetwork != "" {
			if _, perr := chain.ParseNetwork(tokenNetwork); perr != nil {
				return nil, errors.InvalidFormat(perr.Error())
			}
			room.TokenNetwork = &tokenNetwork
		}
	}

	created, err := s.repo.CreateRoom(ctx, room)
	if errors.Is(err, database.ErrDuplicate) {
		// Lost a creation race; the winner's row is the room.
		winner, gerr := s.repo.GetRoom(ctx, name)
		if gerr != nil {
			return nil, fmt.Errorf("re-fetch room %q after create race: %w", name, gerr)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"room":  name,
		"owner": owner,
	}).Info("Room created")
	return created, nil
}

// resolveContractOwner tries each network in resolution order and
// returns the first controller found along with its network.
func (s *Service) resolveContractOwner(ctx context.Context, contract string) (string, chain.Network) {
	addr := common.HexToAddress(contract)
	for _, network := range chain.ResolutionOrder {
		resolver, ok := s.resolvers[network]
		if !ok {
			continue
		}
		controller, err := resolver.ResolveController(ctx, addr)
		if err != nil {
			if !errors.Is(err, chain.ErrNoController) {
				s.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
					"contract": contract,
					"network":  network,
				}).Warn("Controller resolution failed")
			}
			continue
		}
		return controller, network
	}
	return "", ""
}

// Get returns a room without creating it.
func (s *Service) Get(ctx context.Context, name string) (*database.Room, error) {
	room, err := s.repo.GetRoom(ctx, strings.ToLower(name))
	if errors.Is(err, database.ErrNotFound) {
		return nil, errors.NotFound(fmt.Sprintf("room %q not found", name))
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GateUpdate describes a change to a room's token gate.
type GateUpdate struct {
	TokenAddress   string
	TokenNetwork   string
	RequiredTokens float64
}

// UpdateGate changes a room's token gate. Only the room owner may do so.
func (s *Service) UpdateGate(ctx context.Context, name, caller string, update GateUpdate) (*database.Room, error) {
	room, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(room.OwnerAddress, caller) {
		return nil, errors.Forbidden("only the room owner can change the token gate")
	}

	if update.RequiredTokens < 0 {
		return nil, errors.InvalidFormat("required_tokens must not be negative")
	}

	patch := database.RoomGateUpdate{RequiredTokens: update.RequiredTokens}
	if update.TokenAddress != "" {
		if !chain.IsContractAddress(update.TokenAddress) {
			return nil, errors.InvalidFormat("token_address is not a valid contract address")
		}
		network, perr := chain.ParseNetwork(update.TokenNetwork)
		if perr != nil {
			return nil, errors.InvalidFormat(perr.Error())
		}
		addr := strings.ToLower(update.TokenAddress)
		networkStr := network.String()
		patch.TokenAddress = &addr
		patch.TokenNetwork = &networkStr
	}

	updated, err := s.repo.UpdateRoomGate(ctx, room.Name, patch)
	if err != nil {
		return nil, fmt.Errorf("update gate for room %q: %w", name, err)
	}
	return updated, nil
}

// SetAvatar uploads a custom room avatar and points the room at it.
// Only the room owner may change the avatar.
func (s *Service) SetAvatar(ctx context.Context, name, caller, contentType string, data []byte) (string, error) {
	room, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(room.OwnerAddress, caller) {
		return "", errors.Forbidden("only the room owner can change the avatar")
	}
	if !allowedAvatarTypes[contentType] {
		return "", errors.InvalidFormat("only PNG, JPEG and SVG avatars are allowed")
	}
	if len(data) == 0 || len(data) > maxAvatarSize {
		return "", errors.InvalidFormat("avatar must be between 1 byte and 2MB")
	}

	bucket := s.storage.From(avatarBucket)
	path := fmt.Sprintf("room-avatars/%s-%d", room.Name, time.Now().UnixMilli())
	resp, err := bucket.Upload(ctx, path, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload avatar for room %q: %w", name, err)
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("upload avatar for room %q: %w", name, err)
	}

	publicURL := bucket.GetPublicURL(path)
	updatedAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.repo.UpdateRoomAvatar(ctx, room.Name, publicURL, updatedAt); err != nil {
		return "", fmt.Errorf("store avatar for room %q: %w", name, err)
	}
	return publicURL, nil
}

// ResetAvatar clears a custom avatar and falls back to the contract one.
func (s *Service) ResetAvatar(ctx context.Context, name, caller string) error {
	room, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if !strings.EqualFold(room.OwnerAddress, caller) {
		return errors.Forbidden("only the room owner can change the avatar")
	}
	if err := s.repo.ResetRoomAvatar(ctx, room.Name); err != nil {
		return fmt.Errorf("reset avatar for room %q: %w", name, err)
	}
	return nil
}

// Popular returns rooms ranked by recent message volume.
func (s *Service) Popular(ctx context.Context, limit int) ([]database.PopularRoom, error) {
	if limit <= 0 || limit > 50 {
		limit = popularRoomsLimit
	}
	return s.repo.PopularRooms(ctx, limit)
}

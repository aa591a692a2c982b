package database

import (
	"context"
	"fmt"
	"strings"
)

// GetRoom fetches a room by its lowercase name. Returns ErrNotFound when
// the room does not exist.
func (r *Repository) GetRoom(ctx context.Context, name string) (*Room, error) {
	name = strings.ToLower(name)

	resp, err := r.client.From("rooms").Select("*").Eq("name", name).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", name, err)
	}
	if err := mapError(resp.Err()); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room %s: %w", name, err)
	}

	var room Room
	if err := resp.JSON(&room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", name, err)
	}
	return &room, nil
}

// CreateRoom inserts a room row. Returns ErrDuplicate when another writer
// created the same name first.
func (r *Repository) CreateRoom(ctx context.Context, room *Room) (*Room, error) {
	room.Name = strings.ToLower(room.Name)
	room.OwnerAddress = strings.ToLower(room.OwnerAddress)

	resp, err := r.client.From("rooms").ExecuteInsert(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", room.Name, err)
	}
	if err := mapError(resp.Err()); err != nil {
		if err == ErrDuplicate {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create room %s: %w", room.Name, err)
	}

	var rows []Room
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode created room %s: %w", room.Name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create room %s: empty representation", room.Name)
	}
	return &rows[0], nil
}

// RoomGateUpdate carries the owner-mutable token gate fields.
type RoomGateUpdate struct {
	TokenAddress   *string `json:"token_address"`
	TokenNetwork   *string `json:"token_network"`
	RequiredTokens float64 `json:"required_tokens"`
}

// UpdateRoomGate updates a room's token gate fields.
func (r *Repository) UpdateRoomGate(ctx context.Context, name string, update RoomGateUpdate) (*Room, error) {
	name = strings.ToLower(name)

	resp, err := r.client.From("rooms").Eq("name", name).ExecuteUpdate(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("update room gate %s: %w", name, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return nil, fmt.Errorf("update room gate %s: %w", name, err)
	}

	var rows []Room
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode updated room %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdateRoomAvatar sets a room's uploaded avatar URL and clears the
// use-contract-image flag.
func (r *Repository) UpdateRoomAvatar(ctx context.Context, name, avatarURL, updatedAt string) (*Room, error) {
	name = strings.ToLower(name)

	update := map[string]any{
		"avatar_url":          avatarURL,
		"avatar_updated_at":   updatedAt,
		"use_contract_avatar": false,
	}

	resp, err := r.client.From("rooms").Eq("name", name).ExecuteUpdate(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("update room avatar %s: %w", name, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return nil, fmt.Errorf("update room avatar %s: %w", name, err)
	}

	var rows []Room
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode updated room %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ResetRoomAvatar clears a room's uploaded avatar and falls back to the
// contract image.
func (r *Repository) ResetRoomAvatar(ctx context.Context, name string) error {
	name = strings.ToLower(name)

	update := map[string]any{
		"avatar_url":          nil,
		"avatar_updated_at":   nil,
		"use_contract_avatar": true,
	}

	resp, err := r.client.From("rooms").Eq("name", name).ExecuteUpdate(ctx, update)
	if err != nil {
		return fmt.Errorf("reset room avatar %s: %w", name, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return fmt.Errorf("reset room avatar %s: %w", name, err)
	}
	return nil
}

// PopularRoom is a room joined with its activity counters from the
// room_stats view.
type PopularRoom struct {
	RoomName     string `json:"room_name"`
	MessageCount int    `json:"message_count"`
	UniqueUsers  int    `json:"unique_users"`
	Room         *Room  `json:"rooms"`
}

// PopularRooms returns the most active rooms, ranked by message count.
func (r *Repository) PopularRooms(ctx context.Context, limit int) ([]PopularRoom, error) {
	resp, err := r.client.From("room_stats").
		Select("room_name,message_count,unique_users,rooms(name,owner_address,token_address,token_network,required_tokens,avatar_url,use_contract_avatar)").
		Order("message_count", false).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("popular rooms: %w", err)
	}
	if err := mapError(resp.Err()); err != nil {
		return nil, fmt.Errorf("popular rooms: %w", err)
	}

	var rows []PopularRoom
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode popular rooms: %w", err)
	}
	return rows, nil
}

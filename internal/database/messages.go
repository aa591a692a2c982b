package database

import (
	"context"
	"fmt"
	"strings"
)

// ListMessages fetches up to limit messages for a room, newest first.
// A non-empty before timestamp restricts results to strictly older rows,
// which makes the cursor gap-and-overlap free at page boundaries.
func (r *Repository) ListMessages(ctx context.Context, roomID string, limit int, before string) ([]Message, error) {
	roomID = strings.ToLower(roomID)

	q := r.client.From("messages").
		Select("*").
		Eq("room_id", roomID).
		Order("created_at", false).
		Limit(limit)
	if before != "" {
		q = q.Lt("created_at", before)
	}

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", roomID, err)
	}
	if err := mapError(resp.Err()); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", roomID, err)
	}

	var rows []Message
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode messages %s: %w", roomID, err)
	}
	return rows, nil
}

// InsertMessage inserts a message row and returns the stored row with its
// server-assigned id and timestamp.
func (r *Repository) InsertMessage(ctx context.Context, msg *Message) (*Message, error) {
	msg.RoomID = strings.ToLower(msg.RoomID)

	resp, err := r.client.From("messages").ExecuteInsert(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := mapError(resp.Err()); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	var rows []Message
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode inserted message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert message: empty representation")
	}
	return &rows[0], nil
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// UpsertTyping records that the user started typing in the room at at.
func (s *Store) UpsertTyping(ctx context.Context, userID, roomID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO typing_indicators (user_id, room_id, started_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, room_id) DO UPDATE SET started_at = excluded.started_at`,
		userID, roomID, toMillis(at),
	); err != nil {
		return fmt.Errorf("upsert typing: %w", err)
	}
	return nil
}

// DeleteTyping removes the user's typing row for the room.
func (s *Store) DeleteTyping(ctx context.Context, userID, roomID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM typing_indicators WHERE user_id = ? AND room_id = ?`, userID, roomID,
	); err != nil {
		return fmt.Errorf("delete typing: %w", err)
	}
	return nil
}

// DeleteTypingBefore removes typing rows that started before cutoff.
func (s *Store) DeleteTypingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM typing_indicators WHERE started_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep typing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TypingInRoom returns the users with a typing row in the room.
func (s *Store) TypingInRoom(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM typing_indicators WHERE room_id = ? ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan typing: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordActivity appends to the activity log. A zero CreatedAt is set to now.
func (s *Store) RecordActivity(ctx context.Context, a chat.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (user_id, action, detail, created_at) VALUES (?, ?, ?, ?)`,
		a.UserID, a.Action, a.Detail, toMillis(a.CreatedAt),
	); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ActivityFor returns the user's most recent activity, newest first.
func (s *Store) ActivityFor(ctx context.Context, userID int64, limit int) ([]chat.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action, detail, created_at
		   FROM activity_log
		  WHERE user_id = ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []chat.Activity
	for rows.Next() {
		var (
			a         chat.Activity
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActivityBefore prunes activity older than cutoff.
func (s *Store) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

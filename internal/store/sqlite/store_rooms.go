package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// CreateRoom inserts a room. A zero CreatedAt is set to now.
func (s *Store) CreateRoom(ctx context.Context, r chat.Room) (chat.Room, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return chat.Room{}, fmt.Errorf("room name is required")
	}
	if !r.Kind.Valid() {
		return chat.Room{}, fmt.Errorf("invalid room kind %q", r.Kind)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var createdBy sql.NullInt64
	if r.CreatedBy != 0 {
		createdBy = sql.NullInt64{Int64: r.CreatedBy, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (name, kind, is_active, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, string(r.Kind), boolInt(r.Active), createdBy, toMillis(r.CreatedAt),
	)
	if err != nil {
		return chat.Room{}, fmt.Errorf("create room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Room{}, fmt.Errorf("create room id: %w", err)
	}
	r.ID = id
	r.Name = name
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Millisecond)
	return r, nil
}

// RoomByID returns the room or an error matching chat.ErrNotFound.
func (s *Store) RoomByID(ctx context.Context, roomID int64) (chat.Room, error) {
	var (
		r         chat.Room
		kind      string
		active    int
		createdBy sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, is_active, created_by, created_at FROM rooms WHERE id = ?`, roomID,
	).Scan(&r.ID, &r.Name, &kind, &active, &createdBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Room{}, chat.NotFound("room not found")
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("get room: %w", err)
	}
	r.Kind = chat.RoomKind(kind)
	r.Active = active != 0
	r.CreatedBy = createdBy.Int64
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

// SetRoomActive archives or reactivates a room.
func (s *Store) SetRoomActive(ctx context.Context, roomID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET is_active = ? WHERE id = ?`, boolInt(active), roomID)
	if err != nil {
		return fmt.Errorf("set room active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.NotFound("room not found")
	}
	return nil
}

// AddMember records membership. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, roomID, userID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, userID, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// IsMember reports whether the user has a membership row for the room.
func (s *Store) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// RoomIDsForUser lists the active rooms the user belongs to.
func (s *Store) RoomIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.room_id
		   FROM room_members m
		   JOIN rooms r ON r.id = m.room_id
		  WHERE m.user_id = ? AND r.is_active = 1
		  ORDER BY m.room_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms for user: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms for user: %w", err)
	}
	return ids, nil
}

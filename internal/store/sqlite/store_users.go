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

const userColumns = `id, username, display_name, avatar_url, is_banned`

func scanUser(row interface{ Scan(...any) error }) (chat.Identity, error) {
	var (
		u      chat.Identity
		banned int
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &banned); err != nil {
		return chat.Identity{}, err
	}
	u.Banned = banned != 0
	return u, nil
}

// CreateUser inserts a user and returns it with its id.
func (s *Store) CreateUser(ctx context.Context, u chat.Identity) (chat.Identity, error) {
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return chat.Identity{}, fmt.Errorf("username is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, avatar_url, is_banned, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		username, strings.TrimSpace(u.DisplayName), u.AvatarURL, boolInt(u.Banned), toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return chat.Identity{}, ErrAlreadyExists
		}
		return chat.Identity{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Identity{}, fmt.Errorf("create user id: %w", err)
	}
	u.ID = id
	u.Username = username
	return u, nil
}

// UserByID returns the user or an error matching chat.ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id int64) (chat.Identity, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Identity{}, chat.NotFound("user not found")
	}
	if err != nil {
		return chat.Identity{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UserByUsername looks a user up by login name.
func (s *Store) UserByUsername(ctx context.Context, username string) (chat.Identity, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Identity{}, chat.NotFound("user not found")
	}
	if err != nil {
		return chat.Identity{}, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// SetBanned marks the user as banned or clears the flag.
func (s *Store) SetBanned(ctx context.Context, userID int64, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, boolInt(banned), userID)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.NotFound("user not found")
	}
	return nil
}

// SetUserStatus records the user's presence and last-seen time.
func (s *Store) SetUserStatus(ctx context.Context, userID int64, status chat.Status, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`,
		string(status), toMillis(at), userID,
	); err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	return nil
}

// UserStatus returns the stored presence and last-seen time.
func (s *Store) UserStatus(ctx context.Context, userID int64) (chat.Status, time.Time, error) {
	var (
		status   string
		lastSeen sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, last_seen FROM users WHERE id = ?`, userID).Scan(&status, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, chat.NotFound("user not found")
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("get user status: %w", err)
	}
	var seen time.Time
	if lastSeen.Valid {
		seen = fromMillis(lastSeen.Int64)
	}
	return chat.Status(status), seen, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/roomcast/internal/chat"
)

const messageSelect = `
SELECT m.id, m.room_id, m.user_id, u.username, u.display_name, u.avatar_url,
       m.content, m.message_type, m.reply_to, m.file_url, m.file_name, m.file_size,
       m.is_edited, m.created_at
  FROM messages m
  JOIN users u ON u.id = m.user_id`

func getMessage(ctx context.Context, q rowQuerier, id int64) (chat.Message, error) {
	var (
		m         chat.Message
		kind      string
		replyTo   sql.NullInt64
		edited    int
		createdAt int64
	)
	err := q.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id).Scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.DisplayName, &m.AvatarURL,
		&m.Content, &kind, &replyTo, &m.FileURL, &m.FileName, &m.FileSize,
		&edited, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, chat.NotFound("message not found")
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("get message: %w", err)
	}
	if m.DisplayName == "" {
		m.DisplayName = m.Username
	}
	m.Kind = chat.MessageKind(kind)
	if replyTo.Valid {
		v := replyTo.Int64
		m.ReplyTo = &v
	}
	m.Edited = edited != 0
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// CreateMessage inserts a message and returns it joined with its author, in
// one transaction.
func (s *Store) CreateMessage(ctx context.Context, in chat.NewMessage) (chat.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin create message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var replyTo sql.NullInt64
	if in.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: *in.ReplyTo, Valid: true}
	}
	kind := in.Kind
	if kind == "" {
		kind = chat.MessageText
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room_id, user_id, content, message_type, reply_to, file_url, file_name, file_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.RoomID, in.UserID, in.Content, string(kind), replyTo,
		in.FileURL, in.FileName, in.FileSize, toMillis(time.Now()),
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message id: %w", err)
	}
	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return chat.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// MessageByID returns the message or an error matching chat.ErrNotFound.
func (s *Store) MessageByID(ctx context.Context, id int64) (chat.Message, error) {
	return getMessage(ctx, s.db, id)
}

// AddReaction records the user's emoji on the message. Repeating it is a no-op.
func (s *Store) AddReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		messageID, userID, emoji, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes the user's emoji on the message if present.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji,
	); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// ReactionsForMessage returns every reaction on the message, oldest first,
// with the reacting user's display name.
func (s *Store) ReactionsForMessage(ctx context.Context, messageID int64) ([]chat.Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.message_id, r.user_id, COALESCE(NULLIF(u.display_name, ''), u.username), r.emoji, r.created_at
		   FROM message_reactions r
		   JOIN users u ON u.id = r.user_id
		  WHERE r.message_id = ?
		  ORDER BY r.created_at, r.id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var out []chat.Reaction
	for rows.Next() {
		var (
			r         chat.Reaction
			createdAt int64
		)
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.DisplayName, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return out, nil
}

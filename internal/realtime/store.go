package realtime

import (
	"context"
	"time"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// Store is the durable collaborator of the engine. Lookups of missing rows
// return an error matching chat.ErrNotFound; any other error is treated as
// storage being unavailable.
type Store interface {
	RoomByID(ctx context.Context, roomID int64) (chat.Room, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	RoomIDsForUser(ctx context.Context, userID int64) ([]int64, error)

	CreateMessage(ctx context.Context, msg chat.NewMessage) (chat.Message, error)
	MessageByID(ctx context.Context, messageID int64) (chat.Message, error)

	AddReaction(ctx context.Context, messageID, userID int64, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) error
	ReactionsForMessage(ctx context.Context, messageID int64) ([]chat.Reaction, error)

	UpsertTyping(ctx context.Context, userID, roomID int64, at time.Time) error
	DeleteTyping(ctx context.Context, userID, roomID int64) error
	DeleteTypingBefore(ctx context.Context, cutoff time.Time) (int64, error)

	SetUserStatus(ctx context.Context, userID int64, status chat.Status, at time.Time) error
	RecordActivity(ctx context.Context, a chat.Activity) error
}

package realtime

import "github.com/Tyrowin/roomcast/internal/chat"

// Inbound frame types.
const (
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeSendMessage    = "send_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypeAddReaction    = "add_reaction"
	TypeRemoveReaction = "remove_reaction"
	TypeUpdateStatus   = "update_status"
)

// Outbound event types.
const (
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventPresenceChanged   = "presence_changed"
	EventJoinedRoom        = "joined_room"
	EventLeftRoom          = "left_room"
	EventUserJoinedRoom    = "user_joined_room"
	EventUserLeftRoom      = "user_left_room"
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventReactionAdded     = "reaction_added"
	EventReactionRemoved   = "reaction_removed"
	EventError             = "error"
)

// Event is the envelope written to clients.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload"`
}

// UserPayload describes a user in presence and membership events.
type UserPayload struct {
	UserID      int64       `json:"userId"`
	Username    string      `json:"username"`
	DisplayName string      `json:"displayName"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Status      chat.Status `json:"status,omitempty"`
}

func userPayload(id chat.Identity, status chat.Status) UserPayload {
	return UserPayload{
		UserID:      id.ID,
		Username:    id.Username,
		DisplayName: id.Name(),
		AvatarURL:   id.AvatarURL,
		Status:      status,
	}
}

// PresencePayload is sent with presence_changed.
type PresencePayload struct {
	UserID int64       `json:"userId"`
	Status chat.Status `json:"status"`
}

// JoinedRoomPayload answers a join_room request.
type JoinedRoomPayload struct {
	RoomID int64     `json:"roomId"`
	Room   chat.Room `json:"room"`
}

// RoomUserPayload is sent with user_joined_room.
type RoomUserPayload struct {
	RoomID int64       `json:"roomId"`
	User   UserPayload `json:"user"`
}

// RoomRefPayload is sent with left_room and user_left_room.
type RoomRefPayload struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// TypingPayload is sent with user_typing and user_stopped_typing.
type TypingPayload struct {
	RoomID      int64  `json:"roomId"`
	UserID      int64  `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ReactionPayload carries the full reaction aggregate of a message.
type ReactionPayload struct {
	MessageID int64             `json:"messageId"`
	RoomID    int64             `json:"roomId"`
	Emoji     string            `json:"emoji"`
	UserID    int64             `json:"userId"`
	Reactions ReactionAggregate `json:"reactions"`
}

// ErrorPayload is sent to the originating connection when a request fails.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEvent builds the error event for err.
func ErrorEvent(requestID string, err error) Event {
	return Event{
		Type:      EventError,
		RequestID: requestID,
		Payload: ErrorPayload{
			Message: chat.ClientMessage(err),
			Code:    chat.Code(err),
		},
	}
}

type roomPayload struct {
	RoomID int64 `json:"roomId"`
}

type sendPayload struct {
	RoomID      int64  `json:"roomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyTo     *int64 `json:"replyTo"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
}

type reactionPayload struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type statusPayload struct {
	Status string `json:"status"`
}

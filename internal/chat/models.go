// Package chat defines the domain types shared by the realtime engine, the
// credential validator, and the storage layer.
package chat

import "time"

// Identity is the verified user behind a connection. It is captured once at
// connect time and never refreshed for the lifetime of that connection.
type Identity struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Banned      bool   `json:"-"`
}

// Name returns the display name, falling back to the username.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

// RoomKind controls who may subscribe to a room.
type RoomKind string

const (
	RoomOpen    RoomKind = "open"
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Valid reports whether k is a known room kind.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomOpen, RoomPrivate, RoomGroup:
		return true
	}
	return false
}

// Room is a chat room. Its member set lives in storage.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      RoomKind  `json:"kind"`
	Active    bool      `json:"active"`
	CreatedBy int64     `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageKind is the content type of a message.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageEmoji  MessageKind = "emoji"
	MessageGIF    MessageKind = "gif"
	MessageSystem MessageKind = "system"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageEmoji, MessageGIF, MessageSystem:
		return true
	}
	return false
}

// NeedsAttachment reports whether messages of this kind carry a file URL.
func (k MessageKind) NeedsAttachment() bool {
	return k == MessageImage || k == MessageFile
}

// Message is a persisted chat message together with its author's display data.
type Message struct {
	ID          int64       `json:"id"`
	RoomID      int64       `json:"roomId"`
	UserID      int64       `json:"userId"`
	Username    string      `json:"username"`
	DisplayName string      `json:"displayName"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"messageType"`
	ReplyTo     *int64      `json:"replyTo,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	FileSize    int64       `json:"fileSize,omitempty"`
	Edited      bool        `json:"isEdited"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewMessage is the input for persisting a message.
type NewMessage struct {
	RoomID   int64
	UserID   int64
	Content  string
	Kind     MessageKind
	ReplyTo  *int64
	FileURL  string
	FileName string
	FileSize int64
}

// Reaction is one user's emoji on one message, joined with the reacting
// user's display name.
type Reaction struct {
	MessageID   int64
	UserID      int64
	DisplayName string
	Emoji       string
	CreatedAt   time.Time
}

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known presence state.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Activity is an audit record written for connection and room events.
type Activity struct {
	ID        int64
	UserID    int64
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Activity actions.
const (
	ActionConnect        = "connect"
	ActionDisconnect     = "disconnect"
	ActionJoinRoom       = "join_room"
	ActionLeaveRoom      = "leave_room"
	ActionSendMessage    = "send_message"
	ActionAddReaction    = "add_reaction"
	ActionRemoveReaction = "remove_reaction"
	ActionStatusChange   = "status_change"
)

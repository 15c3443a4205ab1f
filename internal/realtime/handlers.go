package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// Limits on inbound content, counted in runes after NFC normalization.
const (
	MaxContentLength = 2000
	MaxEmojiLength   = 10
)

type handlerFunc func(ctx context.Context, s *Session, requestID string, payload []byte) error

func (e *Engine) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypeJoinRoom:       e.joinRoom,
		TypeLeaveRoom:      e.leaveRoom,
		TypeSendMessage:    e.sendMessage,
		TypeTypingStart:    e.typingStart,
		TypeTypingStop:     e.typingStop,
		TypeAddReaction:    e.addReaction,
		TypeRemoveReaction: e.removeReaction,
		TypeUpdateStatus:   e.updateStatus,
	}
}

// HandleFrame decodes one inbound frame and runs its handler. Failures are
// reported to the originating session only.
func (e *Engine) HandleFrame(ctx context.Context, s *Session, raw []byte) {
	if !gjson.ValidBytes(raw) {
		e.metrics.EventHandled("invalid", "error")
		e.dispatcher.SendTo(s, ErrorEvent("", chat.Invalid("Invalid message format")))
		return
	}
	frame := gjson.ParseBytes(raw)
	kind := frame.Get("type").String()
	requestID := frame.Get("request_id").String()

	handler, ok := e.handlers[kind]
	if !ok {
		e.metrics.EventHandled("unknown", "error")
		e.dispatcher.SendTo(s, ErrorEvent(requestID, chat.Invalid("Unknown event type")))
		return
	}

	payload := frame.Get("payload")
	body := []byte("{}")
	switch {
	case payload.IsObject():
		body = []byte(payload.Raw)
	case payload.Exists() && payload.Type != gjson.Null:
		e.metrics.EventHandled(kind, "error")
		e.dispatcher.SendTo(s, ErrorEvent(requestID, chat.Invalid("Invalid %s payload", kind)))
		return
	}

	ctx, span := e.tracer.Start(ctx, "realtime."+kind, trace.WithAttributes(
		attribute.String("conn.id", s.ID()),
		attribute.Int64("user.id", s.UserID()),
	))
	defer span.End()

	if err := handler(ctx, s, requestID, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, chat.Code(err))
		e.metrics.EventHandled(kind, "error")
		e.fail(s, kind, requestID, err)
		return
	}
	e.metrics.EventHandled(kind, "ok")
}

func (e *Engine) fail(s *Session, kind, requestID string, err error) {
	fields := []zap.Field{
		zap.String("event", kind),
		zap.String("conn_id", s.ID()),
		zap.Int64("user_id", s.UserID()),
		zap.Error(err),
	}
	if errors.Is(err, chat.ErrStorageUnavailable) || chat.Code(err) == "INTERNAL" {
		e.logger.Error("event failed", fields...)
	} else {
		e.logger.Debug("event rejected", fields...)
	}
	e.dispatcher.SendTo(s, ErrorEvent(requestID, err))
}

func decode(body []byte, v any, kind string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return chat.Invalid("Invalid %s payload", kind)
	}
	return nil
}

func (e *Engine) reply(s *Session, requestID, eventType string, payload any) {
	e.dispatcher.SendTo(s, Event{Type: eventType, RequestID: requestID, Payload: payload})
}

func (e *Engine) joinRoom(ctx context.Context, s *Session, requestID string, body []byte) error {
	var p roomPayload
	if err := decode(body, &p, TypeJoinRoom); err != nil {
		return err
	}
	if p.RoomID <= 0 {
		return chat.Invalid("roomId is required")
	}
	room, err := e.authorizeRoom(ctx, s.Identity(), p.RoomID)
	if err != nil {
		return err
	}

	// Already subscribed: nothing is emitted to anyone.
	if !e.subs.Subscribe(s, room.ID) {
		return nil
	}
	e.reply(s, requestID, EventJoinedRoom, JoinedRoomPayload{RoomID: room.ID, Room: room})
	e.dispatcher.Publish(room.ID, Event{
		Type: EventUserJoinedRoom,
		Payload: RoomUserPayload{
			RoomID: room.ID,
			User:   userPayload(s.Identity(), e.presence.Status(s.UserID())),
		},
	}, ExceptConn(s.ID()))
	e.record(ctx, s.UserID(), chat.ActionJoinRoom, fmt.Sprintf("room:%d", room.ID))
	return nil
}

func (e *Engine) leaveRoom(ctx context.Context, s *Session, requestID string, body []byte) error {
	var p roomPayload
	if err := decode(body, &p, TypeLeaveRoom); err != nil {
		return err
	}
	if p.RoomID <= 0 {
		return chat.Invalid("roomId is required")
	}

	removed := e.subs.Unsubscribe(s.ID(), p.RoomID)
	if e.typing.StopConn(p.RoomID, s.UserID(), s.ID()) {
		e.publishStoppedTyping(TypingKey{RoomID: p.RoomID, UserID: s.UserID()})
		e.clearTypingMirror(ctx, s.UserID(), p.RoomID)
	}
	e.reply(s, requestID, EventLeftRoom, RoomRefPayload{RoomID: p.RoomID})
	if !removed {
		return nil
	}
	e.dispatcher.Publish(p.RoomID, Event{
		Type: EventUserLeftRoom,
		Payload: RoomRefPayload{
			RoomID:   p.RoomID,
			UserID:   s.UserID(),
			Username: s.Identity().Username,
		},
	})
	e.record(ctx, s.UserID(), chat.ActionLeaveRoom, fmt.Sprintf("room:%d", p.RoomID))
	return nil
}

func (e *Engine) sendMessage(ctx context.Context, s *Session, _ string, body []byte) error {
	var p sendPayload
	if err := decode(body, &p, TypeSendMessage); err != nil {
		return err
	}
	msg, err := e.validateMessage(p)
	if err != nil {
		return err
	}
	room, err := e.authorizeRoom(ctx, s.Identity(), p.RoomID)
	if err != nil {
		return err
	}
	if p.ReplyTo != nil {
		target, err := e.store.MessageByID(ctx, *p.ReplyTo)
		switch {
		case errors.Is(err, chat.ErrNotFound):
			return chat.NotFound("Reply target not found")
		case err != nil:
			return chat.Unavailable("load reply target", err)
		case target.RoomID != room.ID:
			return chat.Invalid("Reply target belongs to another room")
		}
	}

	msg.RoomID = room.ID
	msg.UserID = s.UserID()
	saved, err := e.store.CreateMessage(ctx, msg)
	if err != nil {
		return chat.Unavailable("insert message", err)
	}

	ev := Event{Type: EventNewMessage, Payload: saved}
	e.dispatcher.Publish(room.ID, ev)
	if !e.subs.IsSubscribed(s.ID(), room.ID) {
		e.dispatcher.SendTo(s, ev)
	}

	if e.typing.Stop(room.ID, s.UserID()) {
		e.publishStoppedTyping(TypingKey{RoomID: room.ID, UserID: s.UserID()})
		e.clearTypingMirror(ctx, s.UserID(), room.ID)
	}
	e.record(ctx, s.UserID(), chat.ActionSendMessage, fmt.Sprintf("message:%d", saved.ID))
	return nil
}

func (e *Engine) validateMessage(p sendPayload) (chat.NewMessage, error) {
	if p.RoomID <= 0 {
		return chat.NewMessage{}, chat.Invalid("roomId is required")
	}
	content := strings.TrimSpace(norm.NFC.String(p.Content))
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return chat.NewMessage{}, chat.Invalid("Message content is required")
	}
	if n > MaxContentLength {
		return chat.NewMessage{}, chat.Invalid("Message must be at most %d characters", MaxContentLength)
	}

	kind := chat.MessageKind(p.MessageType)
	if kind == "" {
		kind = chat.MessageText
	}
	if !kind.Valid() || kind == chat.MessageSystem {
		return chat.NewMessage{}, chat.Invalid("Invalid message type")
	}
	if kind.NeedsAttachment() && strings.TrimSpace(p.FileURL) == "" {
		return chat.NewMessage{}, chat.Invalid("fileUrl is required for %s messages", kind)
	}
	if p.FileSize < 0 {
		return chat.NewMessage{}, chat.Invalid("fileSize must not be negative")
	}
	if p.FileSize > e.maxFileSize {
		return chat.NewMessage{}, chat.Invalid("File exceeds the %s limit", humanize.IBytes(uint64(e.maxFileSize)))
	}

	return chat.NewMessage{
		Content:  content,
		Kind:     kind,
		ReplyTo:  p.ReplyTo,
		FileURL:  strings.TrimSpace(p.FileURL),
		FileName: p.FileName,
		FileSize: p.FileSize,
	}, nil
}

func (e *Engine) typingStart(ctx context.Context, s *Session, _ string, body []byte) error {
	var p roomPayload
	if err := decode(body, &p, TypeTypingStart); err != nil {
		return err
	}
	if p.RoomID <= 0 {
		return chat.Invalid("roomId is required")
	}
	if !e.subs.IsSubscribed(s.ID(), p.RoomID) {
		return chat.Forbidden("Access denied")
	}

	started := e.typing.Start(p.RoomID, s.UserID(), s.ID())
	if err := e.store.UpsertTyping(ctx, s.UserID(), p.RoomID, e.clock.Now()); err != nil {
		e.logger.Warn("typing mirror failed", zap.Int64("room_id", p.RoomID), zap.Error(err))
	}
	if !started {
		return nil
	}
	id := s.Identity()
	e.dispatcher.Publish(p.RoomID, Event{
		Type: EventUserTyping,
		Payload: TypingPayload{
			RoomID:      p.RoomID,
			UserID:      id.ID,
			Username:    id.Username,
			DisplayName: id.Name(),
		},
	}, ExceptUser(id.ID))
	return nil
}

func (e *Engine) typingStop(ctx context.Context, s *Session, _ string, body []byte) error {
	var p roomPayload
	if err := decode(body, &p, TypeTypingStop); err != nil {
		return err
	}
	if p.RoomID <= 0 {
		return chat.Invalid("roomId is required")
	}
	if !e.typing.Stop(p.RoomID, s.UserID()) {
		return nil
	}
	e.publishStoppedTyping(TypingKey{RoomID: p.RoomID, UserID: s.UserID()})
	e.clearTypingMirror(ctx, s.UserID(), p.RoomID)
	return nil
}

func (e *Engine) clearTypingMirror(ctx context.Context, userID, roomID int64) {
	if err := e.store.DeleteTyping(ctx, userID, roomID); err != nil {
		e.logger.Warn("clear typing mirror failed", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

func (e *Engine) addReaction(ctx context.Context, s *Session, _ string, body []byte) error {
	return e.mutateReaction(ctx, s, body, TypeAddReaction)
}

func (e *Engine) removeReaction(ctx context.Context, s *Session, _ string, body []byte) error {
	return e.mutateReaction(ctx, s, body, TypeRemoveReaction)
}

// mutateReaction applies one add or remove and broadcasts the recomputed
// aggregate. The whole sequence holds the message's lock so broadcasts for
// a message leave in the order their mutations were persisted.
func (e *Engine) mutateReaction(ctx context.Context, s *Session, body []byte, kind string) error {
	var p reactionPayload
	if err := decode(body, &p, kind); err != nil {
		return err
	}
	if p.MessageID <= 0 {
		return chat.Invalid("messageId is required")
	}
	emoji := strings.TrimSpace(norm.NFC.String(p.Emoji))
	if n := utf8.RuneCountInString(emoji); n == 0 || n > MaxEmojiLength {
		return chat.Invalid("Emoji must be 1-%d characters", MaxEmojiLength)
	}

	unlock := e.reactions.Lock(p.MessageID)
	defer unlock()

	msg, err := e.store.MessageByID(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.NotFound("Message not found")
		}
		return chat.Unavailable("load message", err)
	}
	if _, err := e.authorizeRoom(ctx, s.Identity(), msg.RoomID); err != nil {
		return err
	}

	eventType, action := EventReactionAdded, chat.ActionAddReaction
	if kind == TypeAddReaction {
		err = e.store.AddReaction(ctx, msg.ID, s.UserID(), emoji)
	} else {
		eventType, action = EventReactionRemoved, chat.ActionRemoveReaction
		err = e.store.RemoveReaction(ctx, msg.ID, s.UserID(), emoji)
	}
	if err != nil {
		return chat.Unavailable(kind, err)
	}

	rows, err := e.store.ReactionsForMessage(ctx, msg.ID)
	if err != nil {
		return chat.Unavailable("load reactions", err)
	}
	e.dispatcher.Publish(msg.RoomID, Event{
		Type: eventType,
		Payload: ReactionPayload{
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			Emoji:     emoji,
			UserID:    s.UserID(),
			Reactions: Aggregate(rows),
		},
	})
	e.record(ctx, s.UserID(), action, fmt.Sprintf("message:%d %s", msg.ID, emoji))
	return nil
}

func (e *Engine) updateStatus(ctx context.Context, s *Session, _ string, body []byte) error {
	var p statusPayload
	if err := decode(body, &p, TypeUpdateStatus); err != nil {
		return err
	}
	status := chat.Status(p.Status)
	if !status.Valid() {
		return chat.Invalid("Invalid status")
	}

	e.lifecycle.Lock()
	if !e.registry.IsOnline(s.UserID()) {
		e.lifecycle.Unlock()
		return nil
	}
	changed := e.presence.Set(s.UserID(), status)
	if changed {
		e.dispatcher.PublishGlobal(Event{
			Type:    EventPresenceChanged,
			Payload: PresencePayload{UserID: s.UserID(), Status: status},
		})
	}
	e.lifecycle.Unlock()

	if !changed {
		return nil
	}
	e.mirrorStatus(ctx, s.UserID(), status)
	e.record(ctx, s.UserID(), chat.ActionStatusChange, string(status))
	return nil
}

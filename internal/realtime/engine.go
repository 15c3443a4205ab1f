package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/metrics"
)

// ErrEngineClosed is returned by Connect after Close.
var ErrEngineClosed = errors.New("realtime engine closed")

// DefaultMaxFileSize bounds the declared size of file and image messages.
const DefaultMaxFileSize = 10 << 20

// Options configures an Engine.
type Options struct {
	Store       Store
	Clock       Clock
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	TypingTTL   time.Duration
	MaxFileSize int64
}

// Engine owns every piece of realtime state for the process. It is created
// at startup and closed at shutdown.
type Engine struct {
	store       Store
	clock       Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxFileSize int64

	// lifecycle serializes admit and teardown so first/last connection
	// decisions and the presence events they trigger cannot interleave.
	lifecycle sync.Mutex
	closed    bool

	registry   *Registry
	subs       *Subscriptions
	typing     *TypingTracker
	presence   *Presence
	dispatcher *Dispatcher
	reactions  *keyedMutex
	handlers   map[string]handlerFunc
}

// New builds an engine around the given store.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/Tyrowin/roomcast/internal/realtime")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	registry := NewRegistry()
	subs := NewSubscriptions()
	e := &Engine{
		store:       opts.Store,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		maxFileSize: opts.MaxFileSize,
		registry:    registry,
		subs:        subs,
		typing:      NewTypingTracker(opts.TypingTTL, opts.Clock),
		presence:    NewPresence(),
		dispatcher:  NewDispatcher(registry, subs, opts.Metrics, opts.Logger.Named("dispatch")),
		reactions:   newKeyedMutex(),
	}
	e.handlers = e.routes()
	return e
}

// Connect admits an authenticated connection: it subscribes the connection
// to every room the user belongs to and brings the user online if this is
// their first connection. Nothing is registered when memberships cannot be
// read.
func (e *Engine) Connect(ctx context.Context, conn Conn, identity chat.Identity) (*Session, error) {
	rooms, err := e.store.RoomIDsForUser(ctx, identity.ID)
	if err != nil {
		return nil, chat.Unavailable("load memberships", err)
	}

	s := newSession(conn, identity, e.clock.Now())

	e.lifecycle.Lock()
	if e.closed {
		e.lifecycle.Unlock()
		return nil, ErrEngineClosed
	}
	first, err := e.registry.Admit(s)
	if err != nil {
		e.lifecycle.Unlock()
		return nil, err
	}
	for _, roomID := range rooms {
		e.subs.Subscribe(s, roomID)
	}
	if first {
		e.presence.Set(identity.ID, chat.StatusOnline)
		e.dispatcher.PublishGlobal(Event{
			Type:    EventUserOnline,
			Payload: userPayload(identity, chat.StatusOnline),
		}, ExceptUser(identity.ID))
	}
	e.lifecycle.Unlock()

	e.metrics.SetConnections(e.registry.Len(), e.registry.OnlineUsers())
	e.logger.Info("connection admitted",
		zap.String("conn_id", s.ID()),
		zap.Int64("user_id", identity.ID),
		zap.Int("rooms", len(rooms)),
		zap.Bool("first", first))

	if first {
		e.mirrorStatus(ctx, identity.ID, chat.StatusOnline)
	}
	e.record(ctx, identity.ID, chat.ActionConnect, s.ID())
	return s, nil
}

// Disconnect tears down a connection: registry entry, subscriptions,
// presence if it was the user's last connection, then typing indicators.
// Unknown connections are ignored.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	e.lifecycle.Lock()
	s, last, ok := e.registry.Remove(connID)
	if !ok {
		e.lifecycle.Unlock()
		return
	}
	rooms := e.subs.UnsubscribeAll(connID)
	if last {
		e.presence.Clear(s.UserID())
		e.dispatcher.PublishGlobal(Event{
			Type:    EventUserOffline,
			Payload: userPayload(s.Identity(), chat.StatusOffline),
		})
	}
	stopped := e.typing.DropConnection(s.UserID(), connID, last)
	for _, key := range stopped {
		e.publishStoppedTyping(key)
	}
	e.lifecycle.Unlock()

	e.metrics.SetConnections(e.registry.Len(), e.registry.OnlineUsers())
	e.logger.Info("connection closed",
		zap.String("conn_id", connID),
		zap.Int64("user_id", s.UserID()),
		zap.Int("rooms", len(rooms)),
		zap.Duration("session", e.clock.Now().Sub(s.ConnectedAt())),
		zap.Bool("last", last))

	for _, key := range stopped {
		if err := e.store.DeleteTyping(ctx, key.UserID, key.RoomID); err != nil {
			e.logger.Warn("clear typing mirror failed", zap.Int64("room_id", key.RoomID), zap.Error(err))
		}
	}
	if last {
		e.mirrorStatus(ctx, s.UserID(), chat.StatusOffline)
	}
	e.record(ctx, s.UserID(), chat.ActionDisconnect, connID)
}

// SweepTyping removes expired typing indicators, tells each room the typist
// stopped, and prunes the durable mirror.
func (e *Engine) SweepTyping(ctx context.Context) int {
	expired := e.typing.Sweep()
	for _, key := range expired {
		e.publishStoppedTyping(key)
	}
	e.metrics.TypingExpired(len(expired))

	cutoff := e.clock.Now().Add(-e.typing.TTL())
	if n, err := e.store.DeleteTypingBefore(ctx, cutoff); err != nil {
		e.logger.Warn("sweep typing mirror failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Debug("typing mirror swept", zap.Int64("rows", n))
	}
	return len(expired)
}

// Run sweeps typing indicators every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTypingTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepTyping(ctx)
		}
	}
}

// Close stops admitting connections. Sessions already admitted keep working
// until the transport disconnects them.
func (e *Engine) Close() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.closed = true
}

// IsOnline reports whether the user has a live connection.
func (e *Engine) IsOnline(userID int64) bool { return e.registry.IsOnline(userID) }

// Status returns the user's presence state.
func (e *Engine) Status(userID int64) chat.Status { return e.presence.Status(userID) }

// ActiveTypists returns the users currently typing in the room.
func (e *Engine) ActiveTypists(roomID int64) []int64 { return e.typing.ActiveTypists(roomID) }

// Subscribers returns the number of connections following the room.
func (e *Engine) Subscribers(roomID int64) int { return e.subs.Count(roomID) }

// RoomsOf returns the rooms a connection is subscribed to.
func (e *Engine) RoomsOf(connID string) []int64 { return e.subs.RoomsOf(connID) }

// Connections returns the number of live connections.
func (e *Engine) Connections() int { return e.registry.Len() }

// RoomPresence is the read model served for a room.
type RoomPresence struct {
	RoomID int64         `json:"roomId"`
	Online []UserPayload `json:"online"`
	Typing []int64       `json:"typing"`
}

// RoomPresence returns who is connected to and typing in a room the
// identity may access.
func (e *Engine) RoomPresence(ctx context.Context, identity chat.Identity, roomID int64) (RoomPresence, error) {
	if _, err := e.authorizeRoom(ctx, identity, roomID); err != nil {
		return RoomPresence{}, err
	}

	seen := make(map[int64]struct{})
	online := make([]UserPayload, 0)
	for _, s := range e.subs.Subscribers(roomID) {
		if _, dup := seen[s.UserID()]; dup {
			continue
		}
		seen[s.UserID()] = struct{}{}
		online = append(online, userPayload(s.Identity(), e.presence.Status(s.UserID())))
	}
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })

	typing := e.typing.ActiveTypists(roomID)
	if typing == nil {
		typing = []int64{}
	}
	return RoomPresence{RoomID: roomID, Online: online, Typing: typing}, nil
}

// authorizeRoom loads the room and checks the identity may follow it.
func (e *Engine) authorizeRoom(ctx context.Context, identity chat.Identity, roomID int64) (chat.Room, error) {
	room, err := e.store.RoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Room{}, chat.NotFound("Room not found")
		}
		return chat.Room{}, chat.Unavailable("load room", err)
	}
	if !room.Active {
		return chat.Room{}, chat.NotFound("Room not found")
	}
	if room.Kind == chat.RoomOpen {
		return room, nil
	}
	member, err := e.store.IsMember(ctx, roomID, identity.ID)
	if err != nil {
		return chat.Room{}, chat.Unavailable("check membership", err)
	}
	if !member {
		return chat.Room{}, chat.Forbidden("Access denied")
	}
	return room, nil
}

func (e *Engine) publishStoppedTyping(key TypingKey) {
	e.dispatcher.Publish(key.RoomID, Event{
		Type:    EventUserStoppedTyping,
		Payload: TypingPayload{RoomID: key.RoomID, UserID: key.UserID},
	}, ExceptUser(key.UserID))
}

func (e *Engine) mirrorStatus(ctx context.Context, userID int64, status chat.Status) {
	if err := e.store.SetUserStatus(ctx, userID, status, e.clock.Now()); err != nil {
		e.logger.Warn("mirror status failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, userID int64, action, detail string) {
	err := e.store.RecordActivity(ctx, chat.Activity{
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		CreatedAt: e.clock.Now(),
	})
	if err != nil {
		e.logger.Warn("record activity failed", zap.String("action", action), zap.Error(err))
	}
}

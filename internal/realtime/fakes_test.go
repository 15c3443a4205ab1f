package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []Event
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *fakeConn) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type reactionKey struct {
	messageID int64
	userID    int64
	emoji     string
}

// memStore is an in-memory Store. Setting fail[op] makes that operation
// return the error.
type memStore struct {
	mu        sync.Mutex
	clock     Clock
	users     map[int64]chat.Identity
	rooms     map[int64]chat.Room
	members   map[int64]map[int64]bool
	messages  map[int64]chat.Message
	nextMsg   int64
	reactions []chat.Reaction
	typing    map[TypingKey]time.Time
	statuses  map[int64]chat.Status
	activity  []chat.Activity
	fail      map[string]error
}

func newMemStore(clock Clock) *memStore {
	return &memStore{
		clock:    clock,
		users:    make(map[int64]chat.Identity),
		rooms:    make(map[int64]chat.Room),
		members:  make(map[int64]map[int64]bool),
		messages: make(map[int64]chat.Message),
		nextMsg:  100,
		typing:   make(map[TypingKey]time.Time),
		statuses: make(map[int64]chat.Status),
		fail:     make(map[string]error),
	}
}

func (m *memStore) addUser(id int64, name string) chat.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident := chat.Identity{ID: id, Username: name, DisplayName: name}
	m.users[id] = ident
	return ident
}

func (m *memStore) addRoom(id int64, kind chat.RoomKind, members ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = chat.Room{ID: id, Name: "room", Kind: kind, Active: true}
	set := make(map[int64]bool)
	for _, u := range members {
		set[u] = true
	}
	m.members[id] = set
}

func (m *memStore) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *memStore) err(op string) error {
	return m.fail[op]
}

func (m *memStore) RoomByID(_ context.Context, roomID int64) (chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RoomByID"); err != nil {
		return chat.Room{}, err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, chat.NotFound("room not found")
	}
	return r, nil
}

func (m *memStore) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("IsMember"); err != nil {
		return false, err
	}
	return m.members[roomID][userID], nil
}

func (m *memStore) RoomIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RoomIDsForUser"); err != nil {
		return nil, err
	}
	var out []int64
	for roomID, set := range m.members {
		if set[userID] {
			out = append(out, roomID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) CreateMessage(_ context.Context, in chat.NewMessage) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CreateMessage"); err != nil {
		return chat.Message{}, err
	}
	m.nextMsg++
	author := m.users[in.UserID]
	msg := chat.Message{
		ID:          m.nextMsg,
		RoomID:      in.RoomID,
		UserID:      in.UserID,
		Username:    author.Username,
		DisplayName: author.Name(),
		Content:     in.Content,
		Kind:        in.Kind,
		ReplyTo:     in.ReplyTo,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		CreatedAt:   m.clock.Now(),
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *memStore) MessageByID(_ context.Context, id int64) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("MessageByID"); err != nil {
		return chat.Message{}, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return chat.Message{}, chat.NotFound("message not found")
	}
	return msg, nil
}

func (m *memStore) AddReaction(_ context.Context, messageID, userID int64, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("AddReaction"); err != nil {
		return err
	}
	for _, r := range m.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			return nil
		}
	}
	m.reactions = append(m.reactions, chat.Reaction{
		MessageID:   messageID,
		UserID:      userID,
		DisplayName: m.users[userID].Name(),
		Emoji:       emoji,
		CreatedAt:   m.clock.Now(),
	})
	return nil
}

func (m *memStore) RemoveReaction(_ context.Context, messageID, userID int64, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RemoveReaction"); err != nil {
		return err
	}
	kept := m.reactions[:0]
	for _, r := range m.reactions {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			continue
		}
		kept = append(kept, r)
	}
	m.reactions = kept
	return nil
}

func (m *memStore) ReactionsForMessage(_ context.Context, messageID int64) ([]chat.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ReactionsForMessage"); err != nil {
		return nil, err
	}
	var out []chat.Reaction
	for _, r := range m.reactions {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpsertTyping(_ context.Context, userID, roomID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("UpsertTyping"); err != nil {
		return err
	}
	m.typing[TypingKey{RoomID: roomID, UserID: userID}] = at
	return nil
}

func (m *memStore) DeleteTyping(_ context.Context, userID, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.typing, TypingKey{RoomID: roomID, UserID: userID})
	return nil
}

func (m *memStore) DeleteTypingBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, at := range m.typing {
		if at.Before(cutoff) {
			delete(m.typing, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetUserStatus(_ context.Context, userID int64, status chat.Status, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[userID] = status
	return nil
}

func (m *memStore) RecordActivity(_ context.Context, a chat.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, a)
	return nil
}

func (m *memStore) typingRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.typing)
}

func (m *memStore) status(userID int64) chat.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[userID]
}

func (m *memStore) finalReactions(messageID int64) ReactionAggregate {
	rows, _ := m.ReactionsForMessage(context.Background(), messageID)
	return Aggregate(rows)
}

type harness struct {
	t      *testing.T
	engine *Engine
	store  *memStore
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore(clock)
	engine := New(Options{Store: store, Clock: clock})
	return &harness{t: t, engine: engine, store: store, clock: clock}
}

func (h *harness) connect(id chat.Identity, connID string) (*Session, *fakeConn) {
	h.t.Helper()
	conn := newFakeConn(connID)
	s, err := h.engine.Connect(context.Background(), conn, id)
	require.NoError(h.t, err)
	return s, conn
}

func (h *harness) send(s *Session, eventType string, payload any) {
	h.t.Helper()
	raw, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	require.NoError(h.t, err)
	h.engine.HandleFrame(context.Background(), s, raw)
}

func errorMessage(t *testing.T, ev Event) string {
	t.Helper()
	p, ok := ev.Payload.(ErrorPayload)
	require.True(t, ok, "payload is %T", ev.Payload)
	return p.Message
}

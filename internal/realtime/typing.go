package realtime

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays live without a
// refresh.
const DefaultTypingTTL = 30 * time.Second

// TypingKey identifies one user typing in one room.
type TypingKey struct {
	RoomID int64
	UserID int64
}

type typingEntry struct {
	startedAt time.Time
	conns     map[string]struct{}
}

// TypingTracker holds live typing indicators. An entry older than the TTL is
// treated as absent by every read even before Sweep removes it.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[TypingKey]*typingEntry
}

// NewTypingTracker returns a tracker using clock for expiry.
func NewTypingTracker(ttl time.Duration, clock Clock) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &TypingTracker{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[TypingKey]*typingEntry),
	}
}

// TTL returns the configured expiry.
func (t *TypingTracker) TTL() time.Duration { return t.ttl }

func (t *TypingTracker) live(e *typingEntry, now time.Time) bool {
	return now.Sub(e.startedAt) <= t.ttl
}

// Start records that the user is typing in the room from connID. It reports
// true when this begins a new indicator; refreshing a live one reports false.
func (t *TypingTracker) Start(roomID, userID int64, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	key := TypingKey{RoomID: roomID, UserID: userID}
	e, ok := t.entries[key]
	if ok && t.live(e, now) {
		e.startedAt = now
		e.conns[connID] = struct{}{}
		return false
	}
	t.entries[key] = &typingEntry{
		startedAt: now,
		conns:     map[string]struct{}{connID: {}},
	}
	return true
}

// Stop clears the indicator. It reports whether an entry existed, including
// an expired one the sweeper has not yet announced.
func (t *TypingTracker) Stop(roomID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := TypingKey{RoomID: roomID, UserID: userID}
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// StopConn detaches connID from the user's indicator in the room and clears
// the indicator once no typing connection remains.
func (t *TypingTracker) StopConn(roomID, userID int64, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := TypingKey{RoomID: roomID, UserID: userID}
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return false
	}
	delete(t.entries, key)
	return true
}

// DropConnection removes connID from every indicator of the user. When last
// is true the user has no connections left and all of their indicators go.
// It returns the indicators that were cleared, ordered by room.
func (t *TypingTracker) DropConnection(userID int64, connID string, last bool) []TypingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stopped []TypingKey
	for key, e := range t.entries {
		if key.UserID != userID {
			continue
		}
		delete(e.conns, connID)
		if last || len(e.conns) == 0 {
			delete(t.entries, key)
			stopped = append(stopped, key)
		}
	}
	sortKeys(stopped)
	return stopped
}

// IsTyping reports whether a live indicator exists.
func (t *TypingTracker) IsTyping(roomID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[TypingKey{RoomID: roomID, UserID: userID}]
	return ok && t.live(e, t.clock.Now())
}

// ActiveTypists returns the users with a live indicator in the room, sorted.
func (t *TypingTracker) ActiveTypists(roomID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var out []int64
	for key, e := range t.entries {
		if key.RoomID == roomID && t.live(e, now) {
			out = append(out, key.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sweep removes expired indicators and returns them so observers can be
// told the typing stopped.
func (t *TypingTracker) Sweep() []TypingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var expired []TypingKey
	for key, e := range t.entries {
		if !t.live(e, now) {
			delete(t.entries, key)
			expired = append(expired, key)
		}
	}
	sortKeys(expired)
	return expired
}

// Len returns the number of stored entries, live or not.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func sortKeys(keys []TypingKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RoomID != keys[j].RoomID {
			return keys[i].RoomID < keys[j].RoomID
		}
		return keys[i].UserID < keys[j].UserID
	})
}

package realtime

import (
	"sort"
	"sync"
)

// Subscriptions maps rooms to the sessions that receive their broadcasts and
// back again, so a departing connection can be removed from every room
// without scanning all of them.
type Subscriptions struct {
	mu     sync.RWMutex
	byRoom map[int64]map[string]*Session
	byConn map[string]map[int64]struct{}
}

// NewSubscriptions returns an empty subscription table.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		byRoom: make(map[int64]map[string]*Session),
		byConn: make(map[string]map[int64]struct{}),
	}
}

// Subscribe adds s to the room. It reports false if s was already subscribed.
func (t *Subscriptions) Subscribe(s *Session, roomID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.byRoom[roomID]
	if !ok {
		members = make(map[string]*Session)
		t.byRoom[roomID] = members
	}
	if _, dup := members[s.ID()]; dup {
		return false
	}
	members[s.ID()] = s

	rooms, ok := t.byConn[s.ID()]
	if !ok {
		rooms = make(map[int64]struct{})
		t.byConn[s.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Unsubscribe removes the connection from the room. It reports false if the
// connection was not subscribed.
func (t *Subscriptions) Unsubscribe(connID string, roomID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(connID, roomID)
}

func (t *Subscriptions) removeLocked(connID string, roomID int64) bool {
	members, ok := t.byRoom[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(t.byRoom, roomID)
	}
	if rooms, ok := t.byConn[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.byConn, connID)
		}
	}
	return true
}

// UnsubscribeAll removes the connection from every room and returns the
// rooms it left, sorted.
func (t *Subscriptions) UnsubscribeAll(connID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := sortedRooms(t.byConn[connID])
	for _, roomID := range rooms {
		t.removeLocked(connID, roomID)
	}
	return rooms
}

// Subscribers returns a snapshot of the room's sessions.
func (t *Subscriptions) Subscribers(roomID int64) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byRoom[roomID]))
	for _, s := range t.byRoom[roomID] {
		out = append(out, s)
	}
	return out
}

// RoomsOf returns the rooms the connection is subscribed to, sorted.
func (t *Subscriptions) RoomsOf(connID string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedRooms(t.byConn[connID])
}

// IsSubscribed reports whether the connection follows the room.
func (t *Subscriptions) IsSubscribed(connID string, roomID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byRoom[roomID][connID]
	return ok
}

// Count returns the number of sessions subscribed to the room.
func (t *Subscriptions) Count(roomID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byRoom[roomID])
}

func sortedRooms(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

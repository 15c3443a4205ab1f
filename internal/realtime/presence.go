package realtime

import (
	"sync"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// Presence holds the self-reported status of connected users. A user with no
// entry is offline.
type Presence struct {
	mu       sync.RWMutex
	statuses map[int64]chat.Status
}

// NewPresence returns an empty presence table.
func NewPresence() *Presence {
	return &Presence{statuses: make(map[int64]chat.Status)}
}

// Status returns the user's current status.
func (p *Presence) Status(userID int64) chat.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.statuses[userID]; ok {
		return s
	}
	return chat.StatusOffline
}

// Set records status and reports whether it differs from the previous one.
func (p *Presence) Set(userID int64, status chat.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.statuses[userID]
	if !ok {
		prev = chat.StatusOffline
	}
	p.statuses[userID] = status
	return prev != status
}

// Clear forgets the user, returning them to offline.
func (p *Presence) Clear(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.statuses, userID)
}

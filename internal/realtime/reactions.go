package realtime

import (
	"sync"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// ReactionSummary is the per-emoji view of a message's reactions.
type ReactionSummary struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReactionAggregate maps emoji to its summary.
type ReactionAggregate map[string]ReactionSummary

// Aggregate groups rows by emoji. Users keep the order of rows, which the
// store returns oldest first.
func Aggregate(rows []chat.Reaction) ReactionAggregate {
	out := make(ReactionAggregate, len(rows))
	for _, r := range rows {
		s := out[r.Emoji]
		s.Count++
		s.Users = append(s.Users, r.DisplayName)
		out[r.Emoji] = s
	}
	return out
}

// keyedMutex serializes work per message id. Entries are reference counted
// and removed once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refLock)}
}

// Lock acquires the lock for id and returns its release func.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

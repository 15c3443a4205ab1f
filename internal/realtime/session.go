// Package realtime implements the in-process session and room-broadcast
// engine: who is connected, which connections follow which rooms, who is
// typing, and how events reach exactly the connections that should see them.
package realtime

import (
	"time"

	"github.com/Tyrowin/roomcast/internal/chat"
)

// Conn is a live transport endpoint. Send must not block: it either queues
// the event for delivery or reports false when the event was dropped.
type Conn interface {
	ID() string
	Send(Event) bool
}

// Session binds one connection to the identity it authenticated as.
type Session struct {
	conn        Conn
	identity    chat.Identity
	connectedAt time.Time
}

func newSession(conn Conn, identity chat.Identity, at time.Time) *Session {
	return &Session{conn: conn, identity: identity, connectedAt: at}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.conn.ID() }

// Identity returns the identity captured at connect time.
func (s *Session) Identity() chat.Identity { return s.identity }

// UserID is shorthand for Identity().ID.
func (s *Session) UserID() int64 { return s.identity.ID }

// ConnectedAt reports when the session was admitted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

func (s *Session) send(ev Event) bool {
	return s.conn.Send(ev)
}

// Clock abstracts wall time so expiry logic can be driven from tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

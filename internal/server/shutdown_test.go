package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestGracefulShutdownWithClients tests that Shutdown closes every client,
// tears down their sessions, and returns before its deadline.
func TestGracefulShutdownWithClients(t *testing.T) {
	env := newTestEnv(t)

	clients := []*wsClient{
		env.connect(t, "alice"),
		env.connect(t, "bob"),
		env.connect(t, "carol"),
	}
	waitFor(t, func() bool { return env.server.Hub().ClientCount() == 3 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Shutdown took too long: %v", elapsed)
	}

	for i, c := range clients {
		if !c.waitClosed(2 * time.Second) {
			t.Errorf("Client %d was not closed by shutdown", i)
		}
	}
	if n := env.engine.Connections(); n != 0 {
		t.Errorf("Expected all sessions torn down, got %d", n)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		if env.engine.IsOnline(env.users[name].ID) {
			t.Errorf("Expected %s offline after shutdown", name)
		}
	}
}

// TestConnectAfterShutdownRefused tests that the engine refuses new sessions
// once shutdown has begun.
func TestConnectAfterShutdownRefused(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Close()

	conn, _, err := env.dial(env.token(t, "alice"), testOrigin)
	if err != nil {
		t.Fatalf("Expected handshake to complete, got %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("Expected try-again-later close, got %v", err)
	}
	if env.engine.Connections() != 0 {
		t.Errorf("Expected no sessions, got %d", env.engine.Connections())
	}
}

// TestShutdownIsIdempotent tests that a second Shutdown is harmless.
func TestShutdownIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := env.server.Shutdown(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Shutdown %d returned %v", i+1, err)
		}
	}
}

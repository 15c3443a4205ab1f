package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/realtime"
	"github.com/Tyrowin/roomcast/internal/store/sqlite"
)

const testOrigin = "http://localhost:8080"

// testEnv is a running server backed by a fresh SQLite database seeded with
// users and rooms.
type testEnv struct {
	store     *sqlite.Store
	engine    *realtime.Engine
	server    *Server
	http      *httptest.Server
	validator *auth.Validator
	metrics   *metrics.Metrics
	users     map[string]chat.Identity
	rooms     map[string]chat.Room
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "roomcast.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store: store,
		users: make(map[string]chat.Identity),
		rooms: make(map[string]chat.Room),
	}

	for _, u := range []chat.Identity{
		{Username: "alice", DisplayName: "Alice"},
		{Username: "bob", DisplayName: "Bob"},
		{Username: "carol", DisplayName: "Carol"},
		{Username: "mallory", DisplayName: "Mallory", Banned: true},
	} {
		created, err := store.CreateUser(ctx, u)
		if err != nil {
			t.Fatalf("Failed to create user %s: %v", u.Username, err)
		}
		env.users[u.Username] = created
	}

	for key, r := range map[string]chat.Room{
		"lobby":    {Name: "Lobby", Kind: chat.RoomOpen, Active: true},
		"team":     {Name: "Team", Kind: chat.RoomGroup, Active: true},
		"archived": {Name: "Archived", Kind: chat.RoomOpen, Active: false},
	} {
		created, err := store.CreateRoom(ctx, r)
		if err != nil {
			t.Fatalf("Failed to create room %s: %v", key, err)
		}
		env.rooms[key] = created
	}
	for _, name := range []string{"alice", "bob"} {
		if err := store.AddMember(ctx, env.rooms["team"].ID, env.users[name].ID); err != nil {
			t.Fatalf("Failed to add member %s: %v", name, err)
		}
	}

	env.validator, err = auth.NewValidator("test-secret", store)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	env.metrics = metrics.New()
	env.engine = realtime.New(realtime.Options{Store: store, Metrics: env.metrics})

	cfg := Config{
		AllowedOrigins: []string{testOrigin},
		RateLimit:      RateLimitConfig{Burst: 100, RefillInterval: time.Second},
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	env.server, err = New(Options{
		Config:  cfg,
		Engine:  env.engine,
		Auth:    env.validator,
		Health:  store,
		Logger:  zap.NewNop(),
		Metrics: env.metrics,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.server.Shutdown(shutdownCtx)
		env.http.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	tok, err := e.validator.Issue(e.users[username].ID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

// dial opens a WebSocket with the given credential and Origin header. Empty
// values are omitted.
func (e *testEnv) dial(token, origin string) (*websocket.Conn, *http.Response, error) {
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// connect dials as username and waits until the engine has admitted the
// connection.
func (e *testEnv) connect(t *testing.T, username string) *wsClient {
	t.Helper()
	before := e.engine.Connections()
	conn, _, err := e.dial(e.token(t, username), testOrigin)
	if err != nil {
		t.Fatalf("Failed to connect as %s: %v", username, err)
	}
	waitFor(t, func() bool { return e.engine.Connections() > before })
	c := newWSClient(conn)
	t.Cleanup(c.close)
	return c
}

// get issues an HTTP GET with an optional bearer token.
func (e *testEnv) get(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.http.URL+path, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, body
}

// frame is an outbound event as seen by a client.
type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, v); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", f.Type, err)
	}
}

// wsClient reads frames on a background goroutine so tests can wait for a
// specific event without tearing the connection down on a read timeout.
type wsClient struct {
	conn   *websocket.Conn
	frames chan frame
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, frames: make(chan frame, 256)}
	go func() {
		defer close(c.frames)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
	return c
}

func (c *wsClient) send(t *testing.T, typ, requestID string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ, "payload": payload}
	if requestID != "" {
		msg["request_id"] = requestID
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

func (c *wsClient) sendRaw(t *testing.T, data string) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("Failed to send raw frame: %v", err)
	}
}

// expect returns the next frame of type typ, skipping others.
func (c *wsClient) expect(t *testing.T, typ string) frame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				t.Fatalf("Connection closed while waiting for %s", typ)
			}
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", typ)
		}
	}
}

// expectNone fails if a frame of type typ arrives within wait.
func (c *wsClient) expectNone(t *testing.T, typ string, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			if f.Type == typ {
				t.Errorf("Unexpected %s frame: %s", typ, f.Payload)
			}
		case <-timeout:
			return
		}
	}
}

// waitClosed reports whether the server closed the connection within wait.
func (c *wsClient) waitClosed(wait time.Duration) bool {
	timeout := time.After(wait)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func (c *wsClient) close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

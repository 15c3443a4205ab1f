package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/realtime"
)

// WebSocketHandler authenticates the request, upgrades it, admits the
// connection to the engine, and hands the client to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !s.origins.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	identity, err := s.auth.Validate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Debug("websocket credential rejected", zap.String("addr", r.RemoteAddr), zap.Error(err))
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.engine, s.cfg, r.RemoteAddr, s.logger.Named("client"), s.metrics)

	session, err := s.engine.Connect(r.Context(), client, identity)
	if err != nil {
		s.logger.Warn("connection not admitted",
			zap.Int64("user_id", identity.ID), zap.String("addr", r.RemoteAddr), zap.Error(err))
		rejectConnection(conn, err)
		return
	}
	client.Attach(session)

	if !s.hub.Register(client) {
		s.engine.Disconnect(r.Context(), client.ID())
		rejectConnection(conn, realtime.ErrEngineClosed)
	}
}

// rejectConnection closes an upgraded connection the engine refused.
func rejectConnection(conn *websocket.Conn, err error) {
	code := websocket.ClosePolicyViolation
	reason := chat.ClientMessage(err)
	if errors.Is(err, chat.ErrStorageUnavailable) || errors.Is(err, realtime.ErrEngineClosed) {
		code = websocket.CloseTryAgainLater
		reason = "Service unavailable"
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// HealthHandler reports whether the server and its store are reachable.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomcast server is running!")
}

// PresenceHandler serves who is online and typing in a room the caller may
// access.
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["roomID"], 10, 64)
	if err != nil || roomID <= 0 {
		writeError(w, chat.Invalid("Invalid room id"))
		return
	}

	identity, err := s.auth.Validate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	presence, err := s.engine.RoomPresence(r.Context(), identity, roomID)
	if err != nil {
		if errors.Is(err, chat.ErrStorageUnavailable) {
			s.logger.Error("presence lookup failed", zap.Int64("room_id", roomID), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorBody{Error: chat.ClientMessage(err), Code: chat.Code(err)})
}

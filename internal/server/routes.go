package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// routes wires the HTTP endpoints. /ws checks its own method so non-GET
// requests get an explanatory 405.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.HealthHandler)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.HandleFunc("/rooms/{roomID:[0-9]+}/presence", s.PresenceHandler).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

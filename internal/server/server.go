package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/realtime"
)

// Authenticator resolves a bearer credential to a verified identity.
type Authenticator interface {
	Validate(ctx context.Context, token string) (chat.Identity, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server to its collaborators. Engine and Auth are required.
type Options struct {
	Config  Config
	Engine  *realtime.Engine
	Auth    Authenticator
	Health  Pinger
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server is the HTTP front of the realtime engine.
type Server struct {
	cfg      Config
	engine   *realtime.Engine
	auth     Authenticator
	health   Pinger
	logger   *zap.Logger
	metrics  *metrics.Metrics
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a server and starts its hub loop.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("server: authenticator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := sanitizeConfig(opts.Config)

	s := &Server{
		cfg:     cfg,
		engine:  opts.Engine,
		auth:    opts.Auth,
		health:  opts.Health,
		logger:  logger,
		metrics: opts.Metrics,
		hub:     NewHub(logger.Named("hub")),
		origins: newOriginPolicy(cfg.AllowedOrigins, logger.Named("origin")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.isAllowed,
	}
	s.http = CreateServer(cfg.Port, s.routes())

	go s.hub.Run()
	return s, nil
}

// CreateServer creates an HTTP server with the specified port and handler
// and production timeouts.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Hub returns the client hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops admitting connections, drains the HTTP server, then closes
// every WebSocket client and waits for their pumps.
func (s *Server) Shutdown(ctx context.Context) error {
	s.engine.Close()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), time.Second)
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	return errors.Join(errs...)
}

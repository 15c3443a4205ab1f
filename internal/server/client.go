package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	disconnectWait = 5 * time.Second
)

// Client is one WebSocket connection. It implements realtime.Conn: the
// engine queues events with Send and the write pump drains them.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan realtime.Event
	hub            *Hub
	engine         *realtime.Engine
	session        *realtime.Session
	addr           string
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	logger         *zap.Logger
	metrics        *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. The caller attaches the engine session with Attach
// before registering the client with the hub.
func NewClient(conn *websocket.Conn, hub *Hub, engine *realtime.Engine, cfg Config, addr string, logger *zap.Logger, m *metrics.Metrics) *Client {
	cfg = sanitizeConfig(cfg)
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan realtime.Event, cfg.SendBufferSize),
		hub:            hub,
		engine:         engine,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With(zap.String("conn_id", id), zap.String("addr", addr)),
		metrics:        m,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Attach binds the engine session admitted for this client.
func (c *Client) Attach(s *realtime.Session) { c.session = s }

// Send queues ev without blocking. A client whose queue is full cannot keep
// up, so it is closed and the event is reported as dropped.
func (c *Client) Send(ev realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.closed = true
		close(c.send)
		c.logger.Warn("client removed due to full send buffer", zap.String("event", ev.Type))
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("frame exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

// allowFrame applies the per-connection rate limit. Rejected frames are
// answered with an error event and otherwise discarded.
func (c *Client) allowFrame() bool {
	if c.limiter.Allow() {
		return true
	}
	c.metrics.RateLimited()
	c.logger.Debug("rate limit exceeded; discarding frame",
		zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("interval", c.rateLimit.RefillInterval))
	c.Send(realtime.ErrorEvent("", chat.Invalid("Rate limit exceeded")))
	return false
}

func (c *Client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.hub.ctx), disconnectWait)
		c.engine.Disconnect(ctx, c.id)
		cancel()
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allowFrame() {
			continue
		}

		c.engine.HandleFrame(c.hub.ctx, c.session, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case ev, ok := <-c.send:
		return c.handleEvent(ev, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleEvent writes one outgoing event and returns false if the connection
// should be closed.
func (c *Client) handleEvent(ev realtime.Event, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("error encoding event", zap.String("event", ev.Type), zap.Error(err))
		return true
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing event", zap.String("event", ev.Type), zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("error writing ping", zap.Error(err))
		return false
	}
	return true
}

package realtime

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/metrics"
)

type publishOptions struct {
	exceptUser int64
	exceptConn string
}

// PublishOption narrows the set of recipients.
type PublishOption func(*publishOptions)

// ExceptUser skips every connection of the user.
func ExceptUser(userID int64) PublishOption {
	return func(o *publishOptions) { o.exceptUser = userID }
}

// ExceptConn skips one connection.
func ExceptConn(connID string) PublishOption {
	return func(o *publishOptions) { o.exceptConn = connID }
}

// Dispatcher delivers events to sessions. Delivery is best effort: a session
// that cannot take an event is skipped and the rest still receive it.
type Dispatcher struct {
	registry *Registry
	subs     *Subscriptions
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDispatcher returns a dispatcher over the given indexes.
func NewDispatcher(registry *Registry, subs *Subscriptions, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, subs: subs, metrics: m, logger: logger}
}

// Publish sends ev to the room's subscribers and returns how many accepted it.
func (d *Dispatcher) Publish(roomID int64, ev Event, opts ...PublishOption) int {
	return d.deliver(d.subs.Subscribers(roomID), ev, opts)
}

// PublishGlobal sends ev to every live session.
func (d *Dispatcher) PublishGlobal(ev Event, opts ...PublishOption) int {
	return d.deliver(d.registry.Sessions(), ev, opts)
}

// SendTo sends ev to one session.
func (d *Dispatcher) SendTo(s *Session, ev Event) bool {
	return d.deliver([]*Session{s}, ev, nil) == 1
}

func (d *Dispatcher) deliver(targets []*Session, ev Event, opts []PublishOption) int {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	queued, dropped := 0, 0
	for _, s := range targets {
		if o.exceptUser != 0 && s.UserID() == o.exceptUser {
			continue
		}
		if o.exceptConn != "" && s.ID() == o.exceptConn {
			continue
		}
		if s.send(ev) {
			queued++
			continue
		}
		dropped++
		d.logger.Debug("event dropped",
			zap.String("event", ev.Type),
			zap.String("conn_id", s.ID()),
			zap.Int64("user_id", s.UserID()))
	}
	d.metrics.Delivered(queued, dropped)
	return queued
}

// Package retention prunes the activity log on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomcast/internal/metrics"
)

// Pruner deletes activity rows created before cutoff.
type Pruner interface {
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// retryDelay is how long the scheduler waits after failing to compute the
// next tick.
const retryDelay = 30 * time.Second

// Job removes activity older than its period each time the schedule fires.
type Job struct {
	store    Pruner
	schedule string
	period   time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New validates the cron schedule and returns a job. An empty schedule
// means daily at 03:00 UTC.
func New(store Pruner, schedule string, period time.Duration, logger *zap.Logger, m *metrics.Metrics) (*Job, error) {
	if store == nil {
		return nil, errors.New("retention: store is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid retention cron expression: %q", schedule)
	}
	if period <= 0 {
		return nil, fmt.Errorf("retention period must be positive, got %s", period)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		store:    store,
		schedule: schedule,
		period:   period,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Schedule returns the cron expression in effect.
func (j *Job) Schedule() string { return j.schedule }

// Next returns the first tick strictly after t.
func (j *Job) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.schedule, t.UTC(), false)
}

// RunOnce deletes activity older than the retention period.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.period)
	n, err := j.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	j.metrics.RetentionDeleted("activity_log", n)
	j.logger.Info("retention run complete", zap.Time("cutoff", cutoff), zap.Int64("deleted", n))
	return n, nil
}

// Run blocks until ctx is done, pruning each time the schedule fires.
func (j *Job) Run(ctx context.Context) {
	j.logger.Info("retention scheduler started",
		zap.String("cron", j.schedule), zap.Duration("period", j.period))

	for {
		next, err := j.Next(j.now())
		wait := retryDelay
		if err != nil {
			j.logger.Error("retention next tick failed", zap.String("cron", j.schedule), zap.Error(err))
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("retention scheduler stopping")
			return
		case <-timer.C:
		}

		if err != nil {
			continue
		}
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("retention run failed", zap.Error(err))
		}
	}
}

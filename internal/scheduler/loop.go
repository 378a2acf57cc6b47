// Package scheduler drives the batch trigger on a jittered interval.
package scheduler

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/jobs"
)

// DefaultJitter is the standard deviation applied to each tick.
const DefaultJitter = 2 * time.Second

// BatchRunner processes due jobs.
type BatchRunner interface {
	RunDue(ctx context.Context, trigger string, limit int) (*jobs.CronSummary, error)
}

// Config holds the tunables of a Loop.
type Config struct {
	Interval time.Duration
	// Jitter is the tick deviation. Zero selects DefaultJitter and a
	// negative value disables it. It is capped at a quarter of Interval.
	Jitter  time.Duration
	Limit   int
	Trigger string
}

// Loop calls RunDue on every tick until its context is cancelled.
type Loop struct {
	runner BatchRunner
	cfg    Config
	logger *zap.SugaredLogger
}

// New creates a loop. Interval must be positive.
func New(runner BatchRunner, cfg Config) *Loop {
	switch {
	case cfg.Jitter == 0:
		cfg.Jitter = DefaultJitter
	case cfg.Jitter < 0:
		cfg.Jitter = 0
	}
	cfg.Jitter = min(cfg.Jitter, cfg.Interval/4)
	if cfg.Trigger == "" {
		cfg.Trigger = jobs.TriggerWorker
	}
	return &Loop{runner: runner, cfg: cfg, logger: zap.S().Named("scheduler")}
}

// Tick runs one batch and returns how many jobs were claimed.
func (l *Loop) Tick(ctx context.Context) int {
	summary, err := l.runner.RunDue(ctx, l.cfg.Trigger, l.cfg.Limit)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Errorw("batch run failed", "trigger", l.cfg.Trigger, "error", err)
		}
		return 0
	}
	return summary.Claimed
}

// Run ticks until ctx is done. The first batch runs immediately.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infow("scheduler started", "interval", l.cfg.Interval, "trigger", l.cfg.Trigger, "limit", l.cfg.Limit)
	l.Tick(ctx)

	ticker := jitterbug.New(l.cfg.Interval, &jitterbug.Norm{Stdev: l.cfg.Jitter})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Infow("scheduler stopped")
			return nil
		case <-ticker.C:
		}
		l.Tick(ctx)
	}
}

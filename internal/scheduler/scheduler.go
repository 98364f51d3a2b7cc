package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vc_metrics/internal/domain"
)

// Refresher defines the batch operation the scheduler triggers.
type Refresher interface {
	RefreshAll(ctx context.Context) (*domain.BatchResult, error)
}

// Config selects when batches run. A positive Interval wins over RunAt.
type Config struct {
	Interval     time.Duration
	RunAt        string
	Location     *time.Location
	RunOnStart   bool
	BatchTimeout time.Duration
}

type Scheduler struct {
	refresher    Refresher
	interval     time.Duration
	hour, minute int
	location     *time.Location
	runOnStart   bool
	batchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewScheduler(refresher Refresher, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		refresher:    refresher,
		interval:     cfg.Interval,
		location:     cfg.Location,
		runOnStart:   cfg.RunOnStart,
		batchTimeout: cfg.BatchTimeout,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.batchTimeout <= 0 {
		s.batchTimeout = 30 * time.Minute
	}

	if s.interval <= 0 {
		t, err := time.Parse("15:04", cfg.RunAt)
		if err != nil {
			return nil, fmt.Errorf("parse run_at %q: %w", cfg.RunAt, err)
		}
		s.hour, s.minute = t.Hour(), t.Minute()
	}

	return s, nil
}

// Start blocks until ctx is done, triggering a refresh batch on schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval > 0 {
		s.logger.Info("scheduler started", "interval", s.interval)
	} else {
		s.logger.Info("scheduler started",
			"run_at", fmt.Sprintf("%02d:%02d", s.hour, s.minute),
			"timezone", s.location.String(),
		)
	}

	if s.runOnStart {
		s.runRefresh(ctx)
	}

	for {
		next := s.next(s.now())
		s.logger.Debug("next refresh scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.runRefresh(ctx)
		}
	}
}

// next returns the first fire time strictly after now.
func (s *Scheduler) next(now time.Time) time.Time {
	if s.interval > 0 {
		return now.Add(s.interval)
	}

	local := now.In(s.location)
	t := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
	if !t.After(now) {
		t = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.location)
	}
	return t
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	batch, err := s.refresher.RefreshAll(runCtx)
	if err != nil {
		s.logger.Error("refresh failed", "error", err)
		return
	}

	s.logger.Info("refresh completed",
		"batch_id", batch.ID,
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"duration", batch.Duration(),
	)
}

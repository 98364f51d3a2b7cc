package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vc_metrics/internal/domain"
)

type countingRefresher struct {
	calls    atomic.Int32
	err      error
	deadline atomic.Bool
}

func (r *countingRefresher) RefreshAll(ctx context.Context) (*domain.BatchResult, error) {
	r.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		r.deadline.Store(true)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &domain.BatchResult{StartedAt: time.Now(), FinishedAt: time.Now()}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNext_Daily(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	s, err := NewScheduler(&countingRefresher{}, Config{RunAt: "03:15", Location: loc}, testLogger())
	require.NoError(t, err)

	before := time.Date(2025, 6, 10, 1, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 10, 3, 15, 0, 0, loc), s.next(before))

	exactly := time.Date(2025, 6, 10, 3, 15, 0, 0, loc)
	assert.Equal(t, time.Date(2025, 6, 11, 3, 15, 0, 0, loc), s.next(exactly))

	after := time.Date(2025, 12, 31, 22, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 1, 1, 3, 15, 0, 0, loc), s.next(after))
}

func TestNext_DailyAcrossTimezones(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	s, err := NewScheduler(&countingRefresher{}, Config{RunAt: "03:15", Location: loc}, testLogger())
	require.NoError(t, err)

	// 02:00 UTC in summer is 04:00 in Amsterdam, past today's run.
	now := time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC)
	next := s.next(now)
	assert.Equal(t, time.Date(2025, 7, 2, 1, 15, 0, 0, time.UTC), next.UTC())
}

func TestNext_Interval(t *testing.T) {
	s, err := NewScheduler(&countingRefresher{}, Config{Interval: 10 * time.Minute, RunAt: "bogus"}, testLogger())
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(10*time.Minute), s.next(now))
}

func TestNewScheduler_InvalidRunAt(t *testing.T) {
	_, err := NewScheduler(&countingRefresher{}, Config{RunAt: "3pm"}, testLogger())
	assert.Error(t, err)
}

func TestStart_RunsOnStartAndStops(t *testing.T) {
	refresher := &countingRefresher{}
	s, err := NewScheduler(refresher, Config{RunAt: "03:15", RunOnStart: true, BatchTimeout: time.Second}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.True(t, refresher.deadline.Load())
}

func TestStart_IntervalKeepsRunningOnErrors(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("list failed")}
	s, err := NewScheduler(refresher, Config{Interval: 5 * time.Millisecond}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = s.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, refresher.calls.Load(), int32(3))
}

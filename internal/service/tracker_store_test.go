package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vc_metrics/internal/config"
	"vc_metrics/internal/domain"
	"vc_metrics/internal/revenue"
	"vc_metrics/internal/storage/memory"
	"vc_metrics/testdata/utils"
)

// scriptedSource returns queued responses per content ID.
type scriptedSource struct {
	mu        sync.Mutex
	responses map[int64][]func() (*domain.Metrics, error)
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{responses: make(map[int64][]func() (*domain.Metrics, error))}
}

func (s *scriptedSource) ID() string { return "scripted" }

func (s *scriptedSource) push(id int64, fn func() (*domain.Metrics, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[id] = append(s.responses[id], fn)
}

func (s *scriptedSource) Fetch(ctx context.Context, id int64) (*domain.Metrics, error) {
	s.mu.Lock()
	queue := s.responses[id]
	if len(queue) == 0 {
		s.mu.Unlock()
		return nil, &domain.FetchError{ContentID: id, Reason: "no scripted response"}
	}
	next := queue[0]
	s.responses[id] = queue[1:]
	s.mu.Unlock()
	return next()
}

func metricsOf(title string, views, hits *int64) func() (*domain.Metrics, error) {
	return func() (*domain.Metrics, error) {
		return &domain.Metrics{Title: title, Counters: domain.Counters{Views: views, Hits: hits}, Strategy: "api-v2.10"}, nil
	}
}

func newStoreTracker(t *testing.T, source MetricsSource, workers int) (*Tracker, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := NewTracker(source, store, store, store, nil, nil, logger,
		config.RefreshConfig{Workers: workers, ItemTimeout: time.Second},
		revenue.Pricing{PlacementPrice: 15000},
	)
	return tracker, store
}

func TestTrackerStore_AbsentCounterStaysAbsent(t *testing.T) {
	ctx := context.Background()
	source := newScriptedSource()
	source.push(123456, metricsOf("first", utils.Ptr[int64](0), nil))
	source.push(123456, metricsOf("", utils.Ptr[int64](10), nil))

	tracker, _ := newStoreTracker(t, source, 1)

	added, err := tracker.AddArticle(ctx, "https://vc.ru/123456", nil)
	require.NoError(t, err)
	require.NotNil(t, added.Views)
	assert.Equal(t, int64(0), *added.Views)
	assert.Nil(t, added.Hits)

	refreshed, err := tracker.RefreshArticle(ctx, 123456)
	require.NoError(t, err)
	assert.Equal(t, "first", *refreshed.Title)
	assert.Equal(t, int64(10), *refreshed.Views)
	assert.Nil(t, refreshed.Hits)

	series, err := tracker.Series(ctx, 123456)
	require.NoError(t, err)
	require.Len(t, series, 2)
	for _, p := range series {
		assert.Nil(t, p.Hits)
		assert.NotNil(t, p.Views)
	}
}

func TestTrackerStore_FailedRefreshKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	source := newScriptedSource()
	source.push(123456, metricsOf("t", utils.Ptr[int64](5), utils.Ptr[int64](1)))
	source.push(123456, func() (*domain.Metrics, error) {
		return nil, &domain.FetchError{ContentID: 123456, StatusCode: 500}
	})

	tracker, store := newStoreTracker(t, source, 1)

	_, err := tracker.AddArticle(ctx, "https://vc.ru/123456", nil)
	require.NoError(t, err)

	_, err = tracker.RefreshArticle(ctx, 123456)
	require.Error(t, err)

	got, err := store.FindByID(ctx, 123456)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *got.Views)

	series, err := store.Series(ctx, 123456)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestTrackerStore_ConcurrentAddSameURL(t *testing.T) {
	ctx := context.Background()
	source := newScriptedSource()
	for i := 0; i < 8; i++ {
		source.push(2317921, metricsOf("t", utils.Ptr[int64](1), nil))
	}

	tracker, store := newStoreTracker(t, source, 1)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		added, dup int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.AddArticle(ctx, "https://vc.ru/marketing/2317921-zapret-reklamy", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				added++
			} else if errors.Is(err, domain.ErrDuplicate) {
				dup++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, added)
	assert.Equal(t, 7, dup)

	all, err := store.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	series, err := store.Series(ctx, 2317921)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestTrackerStore_RefreshAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	source := newScriptedSource()
	ids := []int64{100001, 100002, 100003, 100004, 100005}
	for _, id := range ids {
		source.push(id, metricsOf("t", utils.Ptr[int64](1), nil))
	}

	tracker, store := newStoreTracker(t, source, 3)
	for _, id := range ids {
		_, err := tracker.AddArticle(ctx, fmt.Sprintf("https://vc.ru/%d", id), nil)
		require.NoError(t, err)
	}

	for _, id := range ids {
		if id == 100003 {
			continue
		}
		source.push(id, metricsOf("t", utils.Ptr[int64](2), nil))
	}

	batch, err := tracker.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids)-1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)

	for _, item := range batch.Items {
		if item.ArticleID == 100003 {
			assert.Equal(t, domain.StatusFailed, item.Status)
			var fe *domain.FetchError
			assert.ErrorAs(t, item.Err, &fe)
			continue
		}
		assert.Equal(t, domain.StatusSucceeded, item.Status)
	}

	series, err := store.Series(ctx, 100003)
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestTrackerStore_DeleteThenSeries(t *testing.T) {
	ctx := context.Background()
	source := newScriptedSource()
	source.push(123456, metricsOf("t", utils.Ptr[int64](1), nil))

	tracker, store := newStoreTracker(t, source, 1)

	_, err := tracker.AddArticle(ctx, "https://vc.ru/123456", nil)
	require.NoError(t, err)
	require.NoError(t, tracker.DeleteArticle(ctx, 123456))

	series, err := store.Series(ctx, 123456)
	require.NoError(t, err)
	assert.Empty(t, series)

	_, err = tracker.Series(ctx, 123456)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, tracker.DeleteArticle(ctx, 123456), domain.ErrNotFound)
}

// gatedSource counts concurrent fetches and hangs on selected IDs until the
// caller's context ends.
type gatedSource struct {
	delay   time.Duration
	hang    map[int64]bool
	mu      sync.Mutex
	active  int
	peak    int
	fetched int
}

func (s *gatedSource) ID() string { return "gated" }

func (s *gatedSource) Fetch(ctx context.Context, id int64) (*domain.Metrics, error) {
	s.mu.Lock()
	s.active++
	s.fetched++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if s.hang[id] {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &domain.Metrics{ContentID: id, Counters: domain.Counters{Views: utils.Ptr[int64](id)}, Strategy: "api-v2.10"}, nil
}

func seedArticles(t *testing.T, store *memory.Store, ids ...int64) {
	t.Helper()
	now := time.Now().UTC()
	for _, id := range ids {
		require.NoError(t, store.Insert(context.Background(), &domain.Article{
			ID:          id,
			URL:         fmt.Sprintf("https://vc.ru/%d", id),
			LastUpdated: now,
			CreatedAt:   now,
		}))
	}
}

func TestTrackerStore_RefreshAllRespectsWorkerLimit(t *testing.T) {
	const workers = 3
	source := &gatedSource{delay: 20 * time.Millisecond}
	tracker, store := newStoreTracker(t, source, workers)
	seedArticles(t, store, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	batch, err := tracker.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, batch.Succeeded)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, 10, source.fetched)
	assert.LessOrEqual(t, source.peak, workers)
	assert.GreaterOrEqual(t, source.peak, 2)
}

func TestTrackerStore_RefreshAllGivesUpOnStuckItem(t *testing.T) {
	source := &gatedSource{delay: time.Millisecond, hang: map[int64]bool{3: true}}
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := NewTracker(source, store, store, store, nil, nil, logger,
		config.RefreshConfig{Workers: 2, ItemTimeout: 50 * time.Millisecond},
		revenue.Pricing{PlacementPrice: 15000},
	)
	seedArticles(t, store, 1, 2, 3, 4, 5)

	start := time.Now()
	batch, err := tracker.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 4, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	for _, item := range batch.Items {
		if item.ArticleID == 3 {
			assert.Equal(t, domain.StatusFailed, item.Status)
			assert.True(t, errors.Is(item.Err, context.DeadlineExceeded))
			continue
		}
		assert.Equal(t, domain.StatusSucceeded, item.Status, "article %d", item.ArticleID)
	}

	stuck, err := store.FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, stuck.Views)
}

func TestTrackerStore_RefreshAllBatchDeadlineFailsRemaining(t *testing.T) {
	source := &gatedSource{delay: time.Millisecond, hang: map[int64]bool{1: true}}
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := NewTracker(source, store, store, store, nil, nil, logger,
		config.RefreshConfig{Workers: 1, ItemTimeout: time.Minute},
		revenue.Pricing{PlacementPrice: 15000},
	)
	seedArticles(t, store, 1, 2, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	batch, err := tracker.RefreshAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, batch.Succeeded)
	assert.Equal(t, 3, batch.Failed)
	assert.Equal(t, 1, source.fetched)
	for _, item := range batch.Items {
		assert.Equal(t, domain.StatusFailed, item.Status)
		assert.True(t, errors.Is(item.Err, context.DeadlineExceeded), "article %d: %v", item.ArticleID, item.Err)
	}
}

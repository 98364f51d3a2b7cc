package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vc_metrics/internal/config"
	"vc_metrics/internal/domain"
	"vc_metrics/internal/resolver"
	"vc_metrics/internal/revenue"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Tracker registers articles, refreshes their counters and serves the
// derived figures.
type Tracker struct {
	source       MetricsSource
	articles     ArticleStore
	observations ObservationStore
	txManager    TransactionManager
	publisher    Publisher
	recorder     Recorder
	locks        *keyLock
	pricing      revenue.Pricing
	logger       *slog.Logger
	config       config.RefreshConfig
	now          func() time.Time
}

// NewTracker wires the service. publisher and recorder may be nil.
func NewTracker(
	source MetricsSource,
	articles ArticleStore,
	observations ObservationStore,
	txManager TransactionManager,
	publisher Publisher,
	recorder Recorder,
	logger *slog.Logger,
	cfg config.RefreshConfig,
	pricing revenue.Pricing,
) *Tracker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Tracker{
		source:       source,
		articles:     articles,
		observations: observations,
		txManager:    txManager,
		publisher:    publisher,
		recorder:     recorder,
		locks:        newKeyLock(),
		pricing:      pricing,
		logger:       logger.With("source", source.ID()),
		config:       cfg,
		now:          time.Now,
	}
}

func (s *Tracker) Pricing() revenue.Pricing {
	return s.pricing
}

// AddArticle resolves rawURL, fetches the first snapshot and stores the
// article together with its first observation.
func (s *Tracker) AddArticle(ctx context.Context, rawURL string, cost *float64) (*domain.Article, error) {
	if cost != nil && *cost < 0 {
		return nil, fmt.Errorf("%w: negative cost %v", domain.ErrInvalidInput, *cost)
	}

	id, err := resolver.Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	url, err := resolver.Normalize(rawURL)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	if existing != nil {
		return nil, &domain.DuplicateError{ID: id}
	}

	metrics, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	article := &domain.Article{
		ID:          id,
		URL:         url,
		Title:       titlePtr(metrics.Title),
		PublishedAt: metrics.PublishedAt,
		Cost:        cost,
		Counters:    metrics.Counters,
		LastUpdated: now,
		CreatedAt:   now,
	}

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.articles.Insert(ctx, article); err != nil {
			return err
		}
		return s.observations.Append(ctx, observationOf(id, now, metrics.Counters))
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("store article: %w", err)
	}

	s.logger.Info("article added",
		"article_id", id,
		"strategy", metrics.Strategy,
	)
	s.publish(ctx, domain.ActionCreated, id, article)

	return article, nil
}

// RefreshArticle fetches fresh counters and records them. The article update
// and the new observation commit together; on failure the previous snapshot
// stays untouched.
func (s *Tracker) RefreshArticle(ctx context.Context, id int64) (*domain.Article, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	if existing == nil {
		return nil, &domain.NotFoundError{ID: id}
	}

	metrics, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	counters := metrics.Counters
	patch := domain.ArticlePatch{
		Title:       titlePtr(metrics.Title),
		PublishedAt: metrics.PublishedAt,
		Counters:    &counters,
		LastUpdated: &now,
	}

	var updated *domain.Article
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = s.articles.Update(ctx, id, patch); err != nil {
			return err
		}
		return s.observations.Append(ctx, observationOf(id, now, counters))
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store refresh: %w", err)
	}

	s.logger.Debug("article refreshed",
		"article_id", id,
		"strategy", metrics.Strategy,
	)
	s.publish(ctx, domain.ActionRefreshed, id, updated)

	return updated, nil
}

// RefreshAll refreshes every tracked article on a bounded pool of workers.
// Individual failures are reported in the result; the returned error is only
// set when the article list cannot be read. Items that had not started when
// ctx ended are reported failed with the context error.
func (s *Tracker) RefreshAll(ctx context.Context) (*domain.BatchResult, error) {
	batch := &domain.BatchResult{
		ID:        uuid.New(),
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With("batch_id", batch.ID)

	articles, err := s.articles.List(ctx, domain.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	logger.Info("starting refresh batch",
		"articles", len(articles),
		"workers", s.config.Workers,
	)

	batch.Items = make([]domain.ItemResult, len(articles))
	for i, a := range articles {
		batch.Items[i] = domain.ItemResult{ArticleID: a.ID, Status: domain.StatusPending}
	}

	var g errgroup.Group
	g.SetLimit(s.config.Workers)

	for i := range batch.Items {
		if ctx.Err() != nil {
			break
		}
		item := &batch.Items[i]
		g.Go(func() error {
			s.refreshItem(ctx, item, logger)
			return nil
		})
	}
	_ = g.Wait()

	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status == domain.StatusPending {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			item.Status = domain.StatusFailed
			item.Err = err
			item.Error = err.Error()
		}
		if item.Status == domain.StatusSucceeded {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	batch.FinishedAt = s.now().UTC()

	if s.recorder != nil {
		s.recorder.RecordBatch(batch)
	}

	logger.Info("refresh batch finished",
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"duration", batch.Duration(),
	)

	return batch, nil
}

func (s *Tracker) refreshItem(ctx context.Context, item *domain.ItemResult, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	item.Status = domain.StatusInFlight

	itemCtx := ctx
	if s.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.config.ItemTimeout)
		defer cancel()
	}

	article, err := s.RefreshArticle(itemCtx, item.ArticleID)
	if err != nil {
		item.Status = domain.StatusFailed
		item.Err = err
		item.Error = err.Error()
		logger.Warn("refresh failed",
			"article_id", item.ArticleID,
			"error", err,
		)
		return
	}

	item.Status = domain.StatusSucceeded
	item.Article = article
}

// DeleteArticle removes the article and its history.
func (s *Tracker) DeleteArticle(ctx context.Context, id int64) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.articles.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete article: %w", err)
	}

	s.logger.Info("article deleted", "article_id", id)
	s.publish(ctx, domain.ActionDeleted, id, nil)

	return nil
}

// SetCost overrides the placement cost of one article.
func (s *Tracker) SetCost(ctx context.Context, id int64, cost float64) (*domain.Article, error) {
	if cost < 0 {
		return nil, fmt.Errorf("%w: negative cost %v", domain.ErrInvalidInput, cost)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	article, err := s.articles.Update(ctx, id, domain.ArticlePatch{Cost: &cost})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update cost: %w", err)
	}

	return article, nil
}

func (s *Tracker) ListArticles(ctx context.Context, filter domain.ListFilter) ([]domain.Article, error) {
	articles, err := s.articles.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

// Series returns the observation history of one article, oldest first.
func (s *Tracker) Series(ctx context.Context, id int64) ([]domain.Observation, error) {
	existing, err := s.articles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find article: %w", err)
	}
	if existing == nil {
		return nil, &domain.NotFoundError{ID: id}
	}

	series, err := s.observations.Series(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read series: %w", err)
	}
	return series, nil
}

func (s *Tracker) fetch(ctx context.Context, id int64) (*domain.Metrics, error) {
	start := time.Now()

	metrics, err := s.source.Fetch(ctx, id)
	if err != nil {
		s.record(resultFailure, "", time.Since(start))
		return nil, fmt.Errorf("fetch content %d: %w", id, err)
	}

	s.record(resultSuccess, metrics.Strategy, time.Since(start))
	return metrics, nil
}

func (s *Tracker) record(result, strategy string, d time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordRefresh(result, strategy, d)
}

func (s *Tracker) publish(ctx context.Context, action domain.EventAction, id int64, article *domain.Article) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, domain.NewArticleEvent(action, id, article)); err != nil {
		s.logger.Warn("failed to publish event",
			"article_id", id,
			"action", action,
			"error", err,
		)
		if s.recorder != nil {
			s.recorder.RecordPublishFailure()
		}
	}
}

func titlePtr(title string) *string {
	if title == "" {
		return nil
	}
	return &title
}

func observationOf(id int64, ts time.Time, c domain.Counters) domain.Observation {
	return domain.Observation{
		ArticleID: id,
		Timestamp: ts,
		Views:     c.Views,
		Hits:      c.Hits,
	}
}

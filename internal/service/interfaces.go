package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"vc_metrics/internal/domain"
)

type MetricsSource interface {
	ID() string
	Fetch(ctx context.Context, contentID int64) (*domain.Metrics, error)
}

type ArticleStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Article, error)
	Insert(ctx context.Context, article *domain.Article) error
	Update(ctx context.Context, id int64, patch domain.ArticlePatch) (*domain.Article, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Article, error)
}

type ObservationStore interface {
	Append(ctx context.Context, obs domain.Observation) error
	Series(ctx context.Context, articleID int64) ([]domain.Observation, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.ArticleEvent) error
	Close() error
}

type Recorder interface {
	RecordRefresh(result, strategy string, duration time.Duration)
	RecordBatch(batch *domain.BatchResult)
	RecordPublishFailure()
}

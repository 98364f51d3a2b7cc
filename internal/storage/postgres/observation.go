package postgres

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"vc_metrics/internal/domain"
)

type ObservationStore struct {
	db *sqlx.DB
}

func NewObservationStore(db *sqlx.DB) *ObservationStore {
	return &ObservationStore{db: db}
}

func (s *ObservationStore) Append(ctx context.Context, obs domain.Observation) error {
	query := `INSERT INTO observations (article_id, ts, views, hits) VALUES ($1, $2, $3, $4)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, obs.ArticleID, obs.Timestamp, obs.Views, obs.Hits)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return &domain.NotFoundError{ID: obs.ArticleID}
	}

	return err
}

// Series returns all points of an article, oldest first. Points sharing a
// timestamp keep their insertion order.
func (s *ObservationStore) Series(ctx context.Context, articleID int64) ([]domain.Observation, error) {
	query := `
		SELECT article_id, ts, views, hits
		FROM observations
		WHERE article_id = $1
		ORDER BY ts, id`

	series := []domain.Observation{}
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &series, query, articleID); err != nil {
		return nil, err
	}

	return series, nil
}

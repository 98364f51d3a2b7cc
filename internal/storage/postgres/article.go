package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"vc_metrics/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	articleColumns = []string{
		"id", "url", "title", "published_at", "cost", "views", "hits", "last_updated", "created_at",
	}

	sortColumns = map[string]string{
		domain.SortByCreatedAt:   "created_at",
		domain.SortByPublishedAt: "published_at",
		domain.SortByID:          "id",
	}
)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

func (s *ArticleStore) FindByID(ctx context.Context, id int64) (*domain.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var article domain.Article
	err = sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &article, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &article, nil
}

func (s *ArticleStore) Insert(ctx context.Context, article *domain.Article) error {
	query := `
		INSERT INTO articles (
			id, url, title, published_at, cost, views, hits, last_updated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING last_updated, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		article.ID,
		article.URL,
		article.Title,
		article.PublishedAt,
		article.Cost,
		article.Views,
		article.Hits,
		article.LastUpdated,
		article.CreatedAt,
	).Scan(&article.LastUpdated, &article.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &domain.DuplicateError{ID: article.ID}
	}

	return err
}

func (s *ArticleStore) Update(ctx context.Context, id int64, patch domain.ArticlePatch) (*domain.Article, error) {
	set := map[string]any{}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.PublishedAt != nil {
		set["published_at"] = *patch.PublishedAt
	}
	if patch.Counters != nil {
		set["views"] = patch.Counters.Views
		set["hits"] = patch.Counters.Hits
	}
	if patch.Cost != nil {
		set["cost"] = *patch.Cost
	}
	if patch.LastUpdated != nil {
		set["last_updated"] = *patch.LastUpdated
	}

	if len(set) == 0 {
		article, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if article == nil {
			return nil, &domain.NotFoundError{ID: id}
		}
		return article, nil
	}

	query, args, err := psql.Update("articles").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(articleColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var article domain.Article
	err = sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &article, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}

	return &article, nil
}

// Delete removes the article. Its observations go with it through the
// ON DELETE CASCADE foreign key.
func (s *ArticleStore) Delete(ctx context.Context, id int64) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, "DELETE FROM articles WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{ID: id}
	}

	return nil
}

func (s *ArticleStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Article, error) {
	q := psql.Select(articleColumns...).From("articles")

	if filter.PublishedFrom != nil {
		q = q.Where(sq.GtOrEq{"published_at": *filter.PublishedFrom})
	}
	if filter.PublishedTo != nil {
		q = q.Where(sq.LtOrEq{"published_at": *filter.PublishedTo})
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	q = q.OrderBy(fmt.Sprintf("%s %s NULLS LAST", column, direction), "id "+direction)

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	articles := []domain.Article{}
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &articles, query, args...); err != nil {
		return nil, err
	}

	return articles, nil
}

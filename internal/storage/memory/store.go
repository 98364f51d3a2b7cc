// Package memory is an in-process storage driver. It keeps articles and their
// observation history in maps and gives all-or-nothing transactions through
// an undo journal carried in the context.
package memory

import (
	"context"
	"sort"
	"sync"

	"vc_metrics/internal/domain"
)

type articleRecord struct {
	seq     int64
	article domain.Article
}

type observationRecord struct {
	seq int64
	obs domain.Observation
}

// Store implements the article store, the observation log and the
// transaction manager over the same state.
type Store struct {
	mu           sync.RWMutex
	seq          int64
	articles     map[int64]articleRecord
	observations map[int64][]observationRecord
}

func NewStore() *Store {
	return &Store{
		articles:     make(map[int64]articleRecord),
		observations: make(map[int64][]observationRecord),
	}
}

func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.articles[id]
	if !ok {
		return nil, nil
	}
	a := rec.article
	return &a, nil
}

func (s *Store) Insert(ctx context.Context, article *domain.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articles[article.ID]; ok {
		return &domain.DuplicateError{ID: article.ID}
	}

	s.seq++
	s.articles[article.ID] = articleRecord{seq: s.seq, article: *article}

	id := article.ID
	record(ctx, func() {
		delete(s.articles, id)
	})

	return nil
}

func (s *Store) Update(ctx context.Context, id int64, patch domain.ArticlePatch) (*domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.articles[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}

	next := prev
	next.article = patch.ApplyTo(prev.article)
	s.articles[id] = next

	record(ctx, func() {
		s.articles[id] = prev
	})

	a := next.article
	return &a, nil
}

// Delete removes the article together with its observations.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.articles[id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	prevObs := s.observations[id]

	delete(s.articles, id)
	delete(s.observations, id)

	record(ctx, func() {
		s.articles[id] = prev
		if prevObs != nil {
			s.observations[id] = prevObs
		}
	})

	return nil
}

func (s *Store) List(ctx context.Context, filter domain.ListFilter) ([]domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := make([]articleRecord, 0, len(s.articles))
	for _, rec := range s.articles {
		if filter.Matches(rec.article) {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return less(records[i], records[j], filter)
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	out := make([]domain.Article, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.article)
	}
	return out, nil
}

func less(a, b articleRecord, filter domain.ListFilter) bool {
	var cmp int
	switch filter.SortBy {
	case domain.SortByPublishedAt:
		cmp = compareOptionalTime(a.article, b.article)
		if cmp == 2 {
			// Articles without a publish date sort last in both directions.
			return a.article.PublishedAt != nil
		}
	case domain.SortByID:
		cmp = compareInt(a.article.ID, b.article.ID)
	default:
		cmp = compareInt(a.seq, b.seq)
	}

	if cmp == 0 {
		cmp = compareInt(a.article.ID, b.article.ID)
	}
	if filter.Desc {
		return cmp > 0
	}
	return cmp < 0
}

// compareOptionalTime returns 2 when exactly one side has no publish date.
func compareOptionalTime(a, b domain.Article) int {
	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		return 0
	case a.PublishedAt == nil || b.PublishedAt == nil:
		return 2
	}
	return a.PublishedAt.Compare(*b.PublishedAt)
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *Store) Append(ctx context.Context, obs domain.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.articles[obs.ArticleID]; !ok {
		return &domain.NotFoundError{ID: obs.ArticleID}
	}

	s.seq++
	seq := s.seq
	s.observations[obs.ArticleID] = append(s.observations[obs.ArticleID], observationRecord{seq: seq, obs: obs})

	articleID := obs.ArticleID
	record(ctx, func() {
		s.removeObservation(articleID, seq)
	})

	return nil
}

func (s *Store) removeObservation(articleID, seq int64) {
	recs := s.observations[articleID]
	for i, rec := range recs {
		if rec.seq == seq {
			s.observations[articleID] = append(recs[:i:i], recs[i+1:]...)
			break
		}
	}
	if len(s.observations[articleID]) == 0 {
		delete(s.observations, articleID)
	}
}

// Series returns the article's points ordered by timestamp, then by
// insertion order.
func (s *Store) Series(ctx context.Context, articleID int64) ([]domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	recs := append([]observationRecord(nil), s.observations[articleID]...)
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].obs.Timestamp.Before(recs[j].obs.Timestamp)
	})

	series := make([]domain.Observation, 0, len(recs))
	for _, rec := range recs {
		series = append(series, rec.obs)
	}
	return series, nil
}

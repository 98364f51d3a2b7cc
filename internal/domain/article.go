package domain

import "time"

// Article is a tracked publication keyed by its platform content ID.
type Article struct {
	ID          int64      `json:"id" db:"id"`
	URL         string     `json:"url" db:"url"`
	Title       *string    `json:"title" db:"title"`
	PublishedAt *time.Time `json:"published_at" db:"published_at"`
	Cost        *float64   `json:"cost" db:"cost"`
	Counters
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Counters holds engagement counters. A nil pointer means the platform did
// not report the counter, which is different from a reported zero.
type Counters struct {
	Views *int64 `json:"views" db:"views"`
	Hits  *int64 `json:"hits" db:"hits"`
}

// Observation is one point of an article's counter history.
type Observation struct {
	ArticleID int64     `json:"article_id" db:"article_id"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Views     *int64    `json:"views" db:"views"`
	Hits      *int64    `json:"hits" db:"hits"`
}

// Metrics is a normalized snapshot returned by a metrics source.
type Metrics struct {
	ContentID   int64
	Title       string
	URL         string
	PublishedAt *time.Time
	Counters
	Strategy string
}

// ArticlePatch describes a partial update. Nil fields are left unchanged.
type ArticlePatch struct {
	Title       *string
	PublishedAt *time.Time
	Counters    *Counters
	Cost        *float64
	LastUpdated *time.Time
}

// ApplyTo merges the patch into a copy of the article.
func (p ArticlePatch) ApplyTo(a Article) Article {
	if p.Title != nil {
		a.Title = p.Title
	}
	if p.PublishedAt != nil {
		a.PublishedAt = p.PublishedAt
	}
	if p.Counters != nil {
		a.Counters = *p.Counters
	}
	if p.Cost != nil {
		a.Cost = p.Cost
	}
	if p.LastUpdated != nil {
		a.LastUpdated = *p.LastUpdated
	}
	return a
}

const (
	SortByCreatedAt   = "created_at"
	SortByPublishedAt = "published_at"
	SortByID          = "id"
)

// ListFilter narrows and orders article listings. The zero value lists every
// article in insertion order.
type ListFilter struct {
	PublishedFrom *time.Time
	PublishedTo   *time.Time
	SortBy        string
	Desc          bool
	Limit         int
}

// Matches reports whether the article falls into the publish-date range.
// Articles without a publish date only match an unbounded range.
func (f ListFilter) Matches(a Article) bool {
	if f.PublishedFrom == nil && f.PublishedTo == nil {
		return true
	}
	if a.PublishedAt == nil {
		return false
	}
	if f.PublishedFrom != nil && a.PublishedAt.Before(*f.PublishedFrom) {
		return false
	}
	if f.PublishedTo != nil && a.PublishedAt.After(*f.PublishedTo) {
		return false
	}
	return true
}

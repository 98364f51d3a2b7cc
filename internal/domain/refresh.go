package domain

import (
	"time"

	"github.com/google/uuid"
)

type RefreshStatus string

const (
	StatusPending   RefreshStatus = "pending"
	StatusInFlight  RefreshStatus = "in_flight"
	StatusSucceeded RefreshStatus = "succeeded"
	StatusFailed    RefreshStatus = "failed"
)

// ItemResult is the outcome of refreshing one article within a batch.
type ItemResult struct {
	ArticleID int64         `json:"article_id"`
	Status    RefreshStatus `json:"status"`
	Article   *Article      `json:"article,omitempty"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// BatchResult summarizes a RefreshAll run.
type BatchResult struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Items      []ItemResult `json:"items"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
}

func (b *BatchResult) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

type EventAction string

const (
	ActionCreated   EventAction = "created"
	ActionRefreshed EventAction = "refreshed"
	ActionDeleted   EventAction = "deleted"
)

// ArticleEvent is emitted after a committed change to a tracked article.
type ArticleEvent struct {
	ID        uuid.UUID   `json:"id"`
	Action    EventAction `json:"action"`
	ArticleID int64       `json:"article_id"`
	Article   *Article    `json:"article,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewArticleEvent(action EventAction, articleID int64, article *Article) ArticleEvent {
	return ArticleEvent{
		ID:        uuid.New(),
		Action:    action,
		ArticleID: articleID,
		Article:   article,
		Timestamp: time.Now().UTC(),
	}
}

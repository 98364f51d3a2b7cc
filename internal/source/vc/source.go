// Package vc reads article counters from the vc.ru content API, falling back
// to the public article page when the API is unavailable.
package vc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"vc_metrics/internal/domain"
)

const (
	SourceID = "vc"

	StrategyAPIv210 = "api-v2.10"
	StrategyAPIv21  = "api-v2.1"
	StrategyScrape  = "scrape"

	maxBodySize = 5 << 20
	userAgent   = "VCMetrics/1.0"
)

type Config struct {
	APIBaseURL     string
	SiteBaseURL    string
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Selectors      Selectors
}

type strategy struct {
	name  string
	fetch func(ctx context.Context, contentID int64) (*domain.Metrics, error)
}

// Source implements service.MetricsSource for vc.ru.
type Source struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	apiBaseURL     string
	siteBaseURL    string
	selectors      Selectors
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sanitizer      *bluemonday.Policy
	strategies     []strategy
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	s := &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:        rate.NewLimiter(limit, burst),
		apiBaseURL:     strings.TrimRight(cfg.APIBaseURL, "/"),
		siteBaseURL:    strings.TrimRight(cfg.SiteBaseURL, "/"),
		selectors:      cfg.Selectors.withDefaults(),
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		sanitizer:      bluemonday.StrictPolicy(),
		logger:         logger.With("source", SourceID),
	}

	s.strategies = []strategy{
		{name: StrategyAPIv210, fetch: s.apiFetcher("v2.10", StrategyAPIv210)},
		{name: StrategyAPIv21, fetch: s.apiFetcher("v2.1", StrategyAPIv21)},
		{name: StrategyScrape, fetch: s.scrape},
	}

	return s
}

func (s *Source) ID() string {
	return SourceID
}

// Fetch returns the current counters of a content item. Strategies are tried
// in order and the first success wins. When all of them fail the returned
// *domain.FetchError joins the individual failures.
func (s *Source) Fetch(ctx context.Context, contentID int64) (*domain.Metrics, error) {
	var (
		errs          []error
		primaryStatus int
	)

	for i, st := range s.strategies {
		m, err := s.fetchWithRetry(ctx, st, contentID)
		if err == nil {
			m.ContentID = contentID
			m.Strategy = st.name
			if i > 0 {
				s.logger.Info("fetched via fallback",
					"content_id", contentID,
					"strategy", st.name,
				)
			}
			return m, nil
		}

		var fe *domain.FetchError
		if i == 0 && errors.As(err, &fe) {
			primaryStatus = fe.StatusCode
		}
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}

		s.logger.Debug("strategy failed",
			"content_id", contentID,
			"strategy", st.name,
			"error", err,
		)
	}

	return nil, &domain.FetchError{
		ContentID:  contentID,
		StatusCode: primaryStatus,
		Reason:     "all strategies failed",
		Err:        errors.Join(errs...),
	}
}

func (s *Source) fetchWithRetry(ctx context.Context, st strategy, contentID int64) (*domain.Metrics, error) {
	var (
		m   *domain.Metrics
		err error
	)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		m, err = st.fetch(ctx, contentID)
		if err == nil {
			return m, nil
		}

		var fe *domain.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() || attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"content_id", contentID,
			"strategy", st.name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, &domain.FetchError{ContentID: contentID, Strategy: st.name, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return nil, err
}

func (s *Source) apiFetcher(version, name string) func(context.Context, int64) (*domain.Metrics, error) {
	return func(ctx context.Context, contentID int64) (*domain.Metrics, error) {
		url := fmt.Sprintf("%s/%s/content?id=%d&markdown=false", s.apiBaseURL, version, contentID)

		body, err := s.doRequest(ctx, url, "application/json", contentID, name)
		if err != nil {
			return nil, err
		}

		var resp contentResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &domain.FetchError{ContentID: contentID, Strategy: name, Reason: "decode response", Err: err}
		}
		if resp.Result == nil {
			return nil, &domain.FetchError{ContentID: contentID, Strategy: name, Reason: "missing result"}
		}

		return s.normalize(resp.Result), nil
	}
}

func (s *Source) normalize(r *contentResult) *domain.Metrics {
	m := &domain.Metrics{
		Title: s.cleanTitle(string(r.Title)),
		URL:   string(r.URL),
	}

	if r.Counters != nil {
		m.Views = r.Counters.Views.Ptr()
		m.Hits = r.Counters.Hits.Ptr()
	}
	if m.Hits == nil {
		m.Hits = r.HitsCount.Ptr()
	}

	if d := r.Date.Ptr(); d != nil && *d > 0 {
		t := time.Unix(*d, 0).UTC()
		m.PublishedAt = &t
	}

	return m
}

func (s *Source) cleanTitle(title string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(title)))
}

func (s *Source) doRequest(ctx context.Context, url, accept string, contentID int64, strategy string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: strategy, Reason: "rate limit wait", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: strategy, Reason: "create request", Err: err}
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: strategy, Reason: "execute request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &domain.FetchError{ContentID: contentID, Strategy: strategy, StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: strategy, Reason: "read body", Err: err}
	}

	return body, nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if s.maxBackoff > 0 && backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

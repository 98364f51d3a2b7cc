// Package api is the inbound HTTP adapter for the tracker. Authentication is
// expected to happen upstream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vc_metrics/internal/domain"
	"vc_metrics/internal/service"
)

// Service is the use-case boundary the handler drives.
type Service interface {
	AddArticle(ctx context.Context, rawURL string, cost *float64) (*domain.Article, error)
	RefreshArticle(ctx context.Context, id int64) (*domain.Article, error)
	RefreshAll(ctx context.Context) (*domain.BatchResult, error)
	DeleteArticle(ctx context.Context, id int64) error
	SetCost(ctx context.Context, id int64, cost float64) (*domain.Article, error)
	Series(ctx context.Context, id int64) ([]domain.Observation, error)
	Report(ctx context.Context, filter domain.ListFilter) (*service.Report, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
	router chi.Router
}

// NewHandler registers all routes. metrics may be nil.
func NewHandler(svc Service, metrics http.Handler, requestTimeout time.Duration, logger *slog.Logger) *Handler {
	h := &Handler{svc: svc, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(middleware.Timeout(requestTimeout))
		}
		r.Post("/articles", h.handleAddArticle)
		r.Get("/articles", h.handleReport)
		r.Delete("/articles/{id}", h.handleDeleteArticle)
		r.Post("/articles/{id}/refresh", h.handleRefreshArticle)
		r.Put("/articles/{id}/cost", h.handleSetCost)
		r.Get("/articles/{id}/metrics", h.handleSeries)
		r.Post("/refresh-all", h.handleRefreshAll)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	h.router = r
	return h
}

func (h *Handler) Router() http.Handler {
	return h.router
}

type addArticleRequest struct {
	URL  string   `json:"url"`
	Cost *float64 `json:"cost"`
}

func (h *Handler) handleAddArticle(w http.ResponseWriter, r *http.Request) {
	var req addArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	article, err := h.svc.AddArticle(r.Context(), req.URL, req.Cost)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, article)
}

func (h *Handler) handleRefreshArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}

	article, err := h.svc.RefreshArticle(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, article)
}

func (h *Handler) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteArticle(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type setCostRequest struct {
	Cost *float64 `json:"cost"`
}

func (h *Handler) handleSetCost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}

	var req setCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cost == nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cost is required"})
		return
	}

	article, err := h.svc.SetCost(r.Context(), id, *req.Cost)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, article)
}

type seriesResponse struct {
	ArticleID int64                `json:"article_id"`
	Points    []domain.Observation `json:"points"`
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}

	points, err := h.svc.Series(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, seriesResponse{ArticleID: id, Points: points})
}

func (h *Handler) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.RefreshAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) articleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	ID    int64  `json:"id,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		dup   *domain.DuplicateError
		fetch *domain.FetchError
	)

	switch {
	case errors.As(err, &dup):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: "article already tracked", ID: dup.ID})
	case errors.Is(err, domain.ErrResolution), errors.Is(err, domain.ErrInvalidInput):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		h.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
	case errors.As(err, &fetch):
		h.logger.Warn("upstream fetch failed", "content_id", fetch.ContentID, "error", err)
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to read metrics from platform", ID: fetch.ContentID})
	default:
		h.logger.Error("request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", "error", err)
	}
}

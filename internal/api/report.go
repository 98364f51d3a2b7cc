package api

import (
	"net/http"
	"strconv"
	"time"

	"vc_metrics/internal/domain"
	"vc_metrics/internal/revenue"
	"vc_metrics/internal/service"
)

const dateLayout = "2006-01-02"

type reportItem struct {
	domain.Article
	Cost           float64  `json:"cost"`
	CPMByViews     *float64 `json:"cpm_views"`
	CPMByHits      *float64 `json:"cpm_hits"`
	RevenueByViews *float64 `json:"revenue_views"`
	RevenueByHits  *float64 `json:"revenue_hits"`
}

type reportTotals struct {
	Articles       int      `json:"articles"`
	Cost           float64  `json:"cost"`
	Views          int64    `json:"views"`
	Hits           int64    `json:"hits"`
	CPMByViews     *float64 `json:"cpm_views"`
	CPMByHits      *float64 `json:"cpm_hits"`
	RevenueByViews float64  `json:"revenue_views"`
	RevenueByHits  float64  `json:"revenue_hits"`
}

type reportResponse struct {
	Items   []reportItem    `json:"items"`
	Totals  reportTotals    `json:"totals"`
	Pricing revenue.Pricing `json:"pricing"`
}

// handleReport lists articles with rounded figures. It accepts optional
// `from` and `to` (YYYY-MM-DD or RFC3339) bounds on the publish date, `sort`
// (created_at, published_at, id) and `desc`.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.ListFilter

	if v := q.Get("from"); v != "" {
		t, err := parseBound(v, false)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid 'from' date"})
			return
		}
		filter.PublishedFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseBound(v, true)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid 'to' date"})
			return
		}
		filter.PublishedTo = &t
	}

	switch sort := q.Get("sort"); sort {
	case "", domain.SortByCreatedAt, domain.SortByPublishedAt, domain.SortByID:
		filter.SortBy = sort
	default:
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid 'sort'"})
		return
	}
	if v := q.Get("desc"); v != "" {
		desc, err := strconv.ParseBool(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid 'desc'"})
			return
		}
		filter.Desc = desc
	}

	report, err := h.svc.Report(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, renderReport(report))
}

// parseBound reads a date or timestamp. A bare date used as an upper bound
// covers the whole day.
func parseBound(v string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func renderReport(report *service.Report) reportResponse {
	resp := reportResponse{
		Items:   make([]reportItem, 0, len(report.Items)),
		Pricing: report.Pricing,
		Totals: reportTotals{
			Articles:       report.Totals.Articles,
			Cost:           revenue.Round2(report.Totals.Cost),
			Views:          report.Totals.Views,
			Hits:           report.Totals.Hits,
			CPMByViews:     revenue.Round2Ptr(report.Totals.CPMByViews),
			CPMByHits:      revenue.Round2Ptr(report.Totals.CPMByHits),
			RevenueByViews: revenue.Round2(report.Totals.RevenueByViews),
			RevenueByHits:  revenue.Round2(report.Totals.RevenueByHits),
		},
	}

	for _, item := range report.Items {
		resp.Items = append(resp.Items, reportItem{
			Article:        item.Article,
			Cost:           revenue.Round2(item.Figure.Cost),
			CPMByViews:     revenue.Round2Ptr(item.Figure.CPMByViews),
			CPMByHits:      revenue.Round2Ptr(item.Figure.CPMByHits),
			RevenueByViews: revenue.Round2Ptr(item.Figure.RevenueByViews),
			RevenueByHits:  revenue.Round2Ptr(item.Figure.RevenueByHits),
		})
	}

	return resp
}

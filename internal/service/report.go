package service

import (
	"context"
	"fmt"

	"vc_metrics/internal/domain"
	"vc_metrics/internal/revenue"
)

type ReportItem struct {
	Article domain.Article `json:"article"`
	Figure  revenue.Figure `json:"figures"`
}

type Report struct {
	Items   []ReportItem    `json:"items"`
	Totals  revenue.Totals  `json:"totals"`
	Pricing revenue.Pricing `json:"pricing"`
}

// Report lists articles with their per-article figures and portfolio totals
// at the configured pricing.
func (s *Tracker) Report(ctx context.Context, filter domain.ListFilter) (*Report, error) {
	articles, err := s.ListArticles(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Items:   make([]ReportItem, 0, len(articles)),
		Pricing: s.pricing,
	}
	for _, a := range articles {
		fig, err := revenue.Figures(a, s.pricing)
		if err != nil {
			return nil, fmt.Errorf("compute figures: %w", err)
		}
		report.Items = append(report.Items, ReportItem{Article: a, Figure: fig})
	}

	if report.Totals, err = revenue.Portfolio(articles, s.pricing); err != nil {
		return nil, fmt.Errorf("compute totals: %w", err)
	}

	return report, nil
}

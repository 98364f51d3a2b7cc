// Package revenue derives cost-per-mille and revenue figures from article
// counters. All functions are pure and never round; use Round2 at the
// presentation edge.
package revenue

import (
	"fmt"
	"math"

	"vc_metrics/internal/domain"
)

// Pricing carries the operator-configured rates.
type Pricing struct {
	PlacementPrice float64 `json:"placement_price" yaml:"placement_price"`
	CPMViews       float64 `json:"cpm_views" yaml:"cpm_views"`
	CPMHits        float64 `json:"cpm_hits" yaml:"cpm_hits"`
}

// CostOf returns the article's own placement cost, or the default price.
func (p Pricing) CostOf(a domain.Article) float64 {
	if a.Cost != nil {
		return *a.Cost
	}
	return p.PlacementPrice
}

// CPM returns cost per thousand counted events. The result is nil when the
// count is unknown or zero.
func CPM(cost float64, count *int64) (*float64, error) {
	if cost < 0 {
		return nil, fmt.Errorf("%w: negative cost %v", domain.ErrInvalidInput, cost)
	}
	if count == nil {
		return nil, nil
	}
	if *count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", domain.ErrInvalidInput, *count)
	}
	if *count == 0 {
		return nil, nil
	}
	v := cost / float64(*count) * 1000
	return &v, nil
}

// ECPM is CPM computed from a fixed budget.
func ECPM(budget float64, count *int64) (*float64, error) {
	return CPM(budget, count)
}

// Spend returns the amount earned at a fixed rate per thousand events.
func Spend(ratePerMille float64, count *int64) (*float64, error) {
	if ratePerMille < 0 {
		return nil, fmt.Errorf("%w: negative rate %v", domain.ErrInvalidInput, ratePerMille)
	}
	if count == nil {
		return nil, nil
	}
	if *count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", domain.ErrInvalidInput, *count)
	}
	v := float64(*count) / 1000 * ratePerMille
	return &v, nil
}

type Figure struct {
	Cost           float64  `json:"cost"`
	CPMByViews     *float64 `json:"cpm_views"`
	CPMByHits      *float64 `json:"cpm_hits"`
	RevenueByViews *float64 `json:"revenue_views"`
	RevenueByHits  *float64 `json:"revenue_hits"`
}

// Figures computes the per-article numbers shown next to each row.
func Figures(a domain.Article, p Pricing) (Figure, error) {
	f := Figure{Cost: p.CostOf(a)}

	var err error
	if f.CPMByViews, err = CPM(f.Cost, a.Views); err != nil {
		return Figure{}, fmt.Errorf("article %d views cpm: %w", a.ID, err)
	}
	if f.CPMByHits, err = CPM(f.Cost, a.Hits); err != nil {
		return Figure{}, fmt.Errorf("article %d hits cpm: %w", a.ID, err)
	}
	if f.RevenueByViews, err = Spend(p.CPMViews, a.Views); err != nil {
		return Figure{}, fmt.Errorf("article %d views revenue: %w", a.ID, err)
	}
	if f.RevenueByHits, err = Spend(p.CPMHits, a.Hits); err != nil {
		return Figure{}, fmt.Errorf("article %d hits revenue: %w", a.ID, err)
	}

	return f, nil
}

type Totals struct {
	Articles       int      `json:"articles"`
	Cost           float64  `json:"cost"`
	Views          int64    `json:"views"`
	Hits           int64    `json:"hits"`
	CPMByViews     *float64 `json:"cpm_views"`
	CPMByHits      *float64 `json:"cpm_hits"`
	RevenueByViews float64  `json:"revenue_views"`
	RevenueByHits  float64  `json:"revenue_hits"`
}

// Portfolio aggregates a set of articles. Portfolio CPM is total cost over
// total count, not the mean of per-article CPMs. An article with an unknown
// counter adds its cost but nothing to that counter's sum.
func Portfolio(articles []domain.Article, p Pricing) (Totals, error) {
	t := Totals{Articles: len(articles)}

	for _, a := range articles {
		cost := p.CostOf(a)
		if cost < 0 {
			return Totals{}, fmt.Errorf("article %d: %w: negative cost %v", a.ID, domain.ErrInvalidInput, cost)
		}
		t.Cost += cost

		if a.Views != nil {
			if *a.Views < 0 {
				return Totals{}, fmt.Errorf("article %d: %w: negative views", a.ID, domain.ErrInvalidInput)
			}
			t.Views += *a.Views
		}
		if a.Hits != nil {
			if *a.Hits < 0 {
				return Totals{}, fmt.Errorf("article %d: %w: negative hits", a.ID, domain.ErrInvalidInput)
			}
			t.Hits += *a.Hits
		}
	}

	var err error
	if t.CPMByViews, err = CPM(t.Cost, &t.Views); err != nil {
		return Totals{}, err
	}
	if t.CPMByHits, err = CPM(t.Cost, &t.Hits); err != nil {
		return Totals{}, err
	}
	t.RevenueByViews = float64(t.Views) / 1000 * p.CPMViews
	t.RevenueByHits = float64(t.Hits) / 1000 * p.CPMHits

	return t, nil
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round2Ptr is Round2 for optional values.
func Round2Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round2(*v)
	return &r
}

package vc

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vc_metrics/internal/domain"
)

// Selectors locate fields on the public article page.
type Selectors struct {
	Title     string
	Published string
	Views     string
	Hits      string
}

func (s Selectors) withDefaults() Selectors {
	if s.Title == "" {
		s.Title = `meta[property="og:title"]`
	}
	if s.Published == "" {
		s.Published = "time[datetime]"
	}
	if s.Views == "" {
		s.Views = "[data-counter=views]"
	}
	if s.Hits == "" {
		s.Hits = "[data-counter=hits]"
	}
	return s
}

func (s *Source) scrape(ctx context.Context, contentID int64) (*domain.Metrics, error) {
	pageURL := fmt.Sprintf("%s/%d", s.siteBaseURL, contentID)

	body, err := s.doRequest(ctx, pageURL, "text/html", contentID, StrategyScrape)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: StrategyScrape, Reason: "parse html", Err: err}
	}

	m := &domain.Metrics{
		Title: s.cleanTitle(s.pageTitle(doc)),
		URL:   pageURL,
	}
	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && canonical != "" {
		m.URL = canonical
	}
	m.PublishedAt = s.pagePublished(doc)
	m.Views = counterAt(doc, s.selectors.Views)
	m.Hits = counterAt(doc, s.selectors.Hits)

	// Interstitials and error pages carry a heading but no counters.
	if m.Views == nil && m.Hits == nil {
		return nil, &domain.FetchError{ContentID: contentID, Strategy: StrategyScrape, Reason: "no counters in page"}
	}

	return m, nil
}

func (s *Source) pageTitle(doc *goquery.Document) string {
	if title := textOrContent(doc.Find(s.selectors.Title).First()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func (s *Source) pagePublished(doc *goquery.Document) *time.Time {
	candidates := []*goquery.Selection{
		doc.Find(s.selectors.Published).First(),
		doc.Find(`meta[property="article:published_time"]`).First(),
	}

	for _, sel := range candidates {
		for _, attr := range []string{"datetime", "content"} {
			v, ok := sel.Attr(attr)
			if !ok {
				continue
			}
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}

	return nil
}

func textOrContent(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if v, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}

func counterAt(doc *goquery.Document, selector string) *int64 {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	label := sel.Text()
	if v, ok := sel.Attr("data-value"); ok {
		label = v
	}
	return ParseCounterLabel(label)
}

var (
	digitGap     = regexp.MustCompile(`(\d)[\s\x{00a0}\x{202f}\x{2009}]+(\d)`)
	counterValue = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s*(?:(тыс|млн|k|к|m|м)(?:[^\p{L}]|$))?`)
)

// ParseCounterLabel turns a human-formatted counter such as "1 234",
// "12,3K" or "5 тыс." into a number. It returns nil when the label holds no
// number.
func ParseCounterLabel(label string) *int64 {
	s := strings.ToLower(strings.TrimSpace(label))
	for digitGap.MatchString(s) {
		s = digitGap.ReplaceAllString(s, "$1$2")
	}

	m := counterValue.FindStringSubmatch(s)
	if m == nil {
		return nil
	}

	number, suffix := m[1], m[2]

	var multiplier float64
	switch suffix {
	case "k", "к", "тыс":
		multiplier = 1e3
	case "m", "м", "млн":
		multiplier = 1e6
	}

	if multiplier == 0 {
		n, err := strconv.ParseInt(strings.NewReplacer(",", "", ".", "").Replace(number), 10, 64)
		if err != nil {
			return nil
		}
		return &n
	}

	f, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil {
		return nil
	}
	n := int64(math.Round(f * multiplier))
	return &n
}

// Package resolver extracts platform content IDs from article URLs.
package resolver

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vc_metrics/internal/domain"
)

var (
	leadingDigits = regexp.MustCompile(`^(\d+)`)
	longDigitRun  = regexp.MustCompile(`\d{5,}`)
	idParams      = []string{"id", "content_id"}
)

// Resolve returns the numeric content ID encoded in rawURL.
//
// Candidates are tried in order: an id query parameter, the leading digits of
// the last path segment, then the last run of five or more digits anywhere in
// the URL.
func Resolve(rawURL string) (int64, error) {
	u, err := parse(rawURL)
	if err != nil {
		return 0, err
	}

	q := u.Query()
	for _, key := range idParams {
		if v := q.Get(key); v != "" {
			if id, ok := positive(v); ok {
				return id, nil
			}
		}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if last := segments[len(segments)-1]; last != "" {
		if m := leadingDigits.FindString(last); m != "" {
			if id, ok := positive(m); ok {
				return id, nil
			}
		}
	}

	runs := longDigitRun.FindAllString(u.Path+"?"+u.RawQuery+"#"+u.Fragment, -1)
	for i := len(runs) - 1; i >= 0; i-- {
		if id, ok := positive(runs[i]); ok {
			return id, nil
		}
	}

	return 0, &domain.ResolutionError{Input: rawURL, Reason: "no numeric candidate"}
}

// Normalize returns the URL in the form it is stored: trimmed, absolute, with
// utm_* markers and the fragment removed.
func Normalize(rawURL string) (string, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}

func parse(rawURL string) (*url.URL, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return nil, &domain.ResolutionError{Input: rawURL, Reason: "empty url"}
	}
	if strings.ContainsAny(s, " \t\n") {
		return nil, &domain.ResolutionError{Input: rawURL, Reason: "malformed url"}
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, &domain.ResolutionError{Input: rawURL, Reason: "malformed url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &domain.ResolutionError{Input: rawURL, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Host == "" || !strings.Contains(u.Hostname(), ".") {
		return nil, &domain.ResolutionError{Input: rawURL, Reason: "missing host"}
	}

	return u, nil
}

func positive(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

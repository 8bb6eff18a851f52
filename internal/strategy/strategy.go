// Package strategy holds the per-source search strategies: the cafe search
// API, the integrated search page and the paginated gallery walk.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

// ErrUnknownSourceType is returned when no strategy serves a source type.
var ErrUnknownSourceType = errors.New("unknown source type")

// Strategy searches one source for a keyword. Transient fetch and parse
// failures are logged and degrade to fewer (or zero) posts; the returned
// error is reserved for context cancellation.
type Strategy interface {
	Name() string
	Search(ctx context.Context, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) ([]crawler.RawPost, error)
}

// Set maps source types to the strategies that serve them.
type Set struct {
	API     Strategy
	Web     Strategy
	Gallery Strategy
}

// For returns the strategies for t, highest fidelity first.
func (s Set) For(t crawler.SourceType) ([]Strategy, error) {
	var plan []Strategy
	switch t {
	case crawler.SourceNaverCafe:
		plan = []Strategy{s.Web, s.API}
	case crawler.SourceNaverCafeAPI:
		plan = []Strategy{s.API}
	case crawler.SourceNaverCafeWeb:
		plan = []Strategy{s.Web}
	case crawler.SourceDCInside:
		plan = []Strategy{s.Gallery}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, t)
	}
	for _, st := range plan {
		if st == nil {
			return nil, fmt.Errorf("no strategy configured for %q", t)
		}
	}
	return plan, nil
}

const defaultMaxResults = 20

func maxResults(opts crawler.SearchOptions) int {
	if opts.MaxResults > 0 {
		return opts.MaxResults
	}
	return defaultMaxResults
}

var cafeIDPattern = regexp.MustCompile(`cafe\.naver\.com/([^/?#]+)`)

// CafeIDFromURL extracts the cafe identifier from a cafe or article URL.
func CafeIDFromURL(u string) string {
	m := cafeIDPattern.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1]
}

// CafeID returns the source's cafe identifier, preferring the stored one.
func CafeID(src crawler.CrawlSource) string {
	if src.SourceID != "" {
		return src.SourceID
	}
	return CafeIDFromURL(src.URL)
}

func webHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Referer", "https://www.naver.com/")
	return h
}

// canceled returns the context error once the caller has given up, so a
// search stops instead of degrading.
func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("search canceled: %w", err)
	}
	return nil
}

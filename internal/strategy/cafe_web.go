package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

const bootstrapMarker = "entry.bootstrap("

// CafeWebConfig configures the integrated search page strategy.
type CafeWebConfig struct {
	SearchURL string
	// MobileURL is the cafe mobile host used for the rendered fallback.
	MobileURL string
}

// CafeWeb scrapes the integrated search page. It reads the data payload the
// page embeds for client-side rendering and only falls back to DOM rows
// when no payload is present. Every result carries a parsed date.
type CafeWeb struct {
	cfg       CafeWebConfig
	fetcher   crawler.Fetcher
	renderer  crawler.Fetcher
	limiter   crawler.Limiter
	clock     crawler.Clock
	snapshots *Snapshotter
	logger    *zap.Logger
}

// NewCafeWeb builds the page strategy. renderer may be nil.
func NewCafeWeb(
	cfg CafeWebConfig,
	fetcher, renderer crawler.Fetcher,
	limiter crawler.Limiter,
	clock crawler.Clock,
	snapshots *Snapshotter,
	logger *zap.Logger,
) *CafeWeb {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CafeWeb{
		cfg:       cfg,
		fetcher:   fetcher,
		renderer:  renderer,
		limiter:   limiter,
		clock:     clock,
		snapshots: snapshots,
		logger:    logger.Named("strategy.cafe_web"),
	}
}

// Name implements Strategy.
func (s *CafeWeb) Name() string { return "cafe_web" }

// SearchURL builds the integrated search URL for keyword scoped to cafeID.
func (s *CafeWeb) SearchURL(keyword, cafeID string) string {
	q := url.Values{}
	q.Set("where", "article")
	q.Set("query", keyword)
	q.Set("sm", "tab_viw")
	if cafeID != "" {
		q.Set("cafe_url", cafeID)
	}
	return s.cfg.SearchURL + "?" + q.Encode()
}

// MobileSearchURL builds the cafe's own mobile search URL.
func (s *CafeWeb) MobileSearchURL(keyword, cafeID string) string {
	return fmt.Sprintf("%s/ca-fe/web/cafes/%s/search/articles?query=%s",
		strings.TrimRight(s.cfg.MobileURL, "/"), url.PathEscape(cafeID), url.QueryEscape(keyword))
}

// Search implements Strategy.
func (s *CafeWeb) Search(ctx context.Context, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) ([]crawler.RawPost, error) {
	log := s.logger.With(zap.String("source", src.ID), zap.String("keyword", keyword))
	cafeID := CafeID(src)

	if err := s.limiter.Wait(ctx, src.ID); err != nil {
		return nil, fmt.Errorf("wait for page slot: %w", err)
	}
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     s.SearchURL(keyword, cafeID),
		Headers: webHeaders(),
		Pace:    s.limiter,
		PaceKey: src.ID,
	})
	if err != nil {
		if cerr := canceled(ctx); cerr != nil {
			return nil, cerr
		}
		log.Warn("search page fetch failed", zap.Error(err))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("search page returned non-200", zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	s.snapshots.Save(ctx, src, resp.Body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("parse search page", zap.Error(err))
		return nil, nil
	}

	ext := extraction{src: src, keyword: keyword, cafeID: cafeID, opts: opts, now: s.clock.Now(), limit: maxResults(opts)}
	payloads := bootstrapPayloads(doc)
	if len(payloads) > 0 {
		for _, p := range payloads {
			ext.fromPayload(p)
		}
		log.Debug("payload extraction done", zap.Int("payloads", len(payloads)), zap.Int("posts", len(ext.posts)))
		return ext.posts, nil
	}

	ext.fromDOM(doc)
	if len(ext.posts) == 0 && s.renderer != nil && cafeID != "" {
		s.renderMobile(ctx, &ext, log)
		if cerr := canceled(ctx); cerr != nil {
			return nil, cerr
		}
	}
	log.Debug("dom extraction done", zap.Int("posts", len(ext.posts)))
	return ext.posts, nil
}

func (s *CafeWeb) renderMobile(ctx context.Context, ext *extraction, log *zap.Logger) {
	resp, err := s.renderer.Fetch(ctx, crawler.FetchRequest{
		URL:          s.MobileSearchURL(ext.keyword, ext.cafeID),
		Headers:      webHeaders(),
		WaitSelector: mobileRowSelector,
	})
	if err != nil {
		log.Debug("rendered fallback unavailable", zap.Error(err))
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("parse rendered page", zap.Error(err))
		return
	}
	ext.fromDOM(doc)
}

// bootstrapPayloads decodes every JSON object passed to entry.bootstrap in
// the page scripts. Undecodable payloads are skipped.
func bootstrapPayloads(doc *goquery.Document) []any {
	var out []any
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		for from := 0; ; {
			idx := strings.Index(text[from:], bootstrapMarker)
			if idx < 0 {
				return
			}
			idx += from
			from = idx + len(bootstrapMarker)
			brace := strings.IndexByte(text[idx:], '{')
			if brace < 0 {
				return
			}
			var payload any
			if err := json.NewDecoder(strings.NewReader(text[idx+brace:])).Decode(&payload); err != nil {
				continue
			}
			out = append(out, payload)
		}
	})
	return out
}

// walk visits every object in tree depth first, in key order. visit returns
// false to stop the whole walk.
func walk(node any, visit func(map[string]any) bool) bool {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if !walk(item, visit) {
				return false
			}
		}
	case map[string]any:
		if !visit(v) {
			return false
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !walk(v[k], visit) {
				return false
			}
		}
	}
	return true
}

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/normalize"
)

const (
	apiMaxDisplay = 100
	apiMaxStart   = 1000
)

// CafeAPIConfig configures the cafe article search API.
type CafeAPIConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
}

// CafeAPI pages through the cafe article search API. Its results carry no
// post date.
type CafeAPI struct {
	cfg     CafeAPIConfig
	fetcher crawler.Fetcher
	limiter crawler.Limiter
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewCafeAPI builds the API strategy.
func NewCafeAPI(cfg CafeAPIConfig, fetcher crawler.Fetcher, limiter crawler.Limiter, clock crawler.Clock, logger *zap.Logger) *CafeAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CafeAPI{cfg: cfg, fetcher: fetcher, limiter: limiter, clock: clock, logger: logger.Named("strategy.cafe_api")}
}

// Name implements Strategy.
func (s *CafeAPI) Name() string { return "cafe_api" }

type apiResponse struct {
	Total int       `json:"total"`
	Items []apiItem `json:"items"`
}

type apiItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	CafeName    string `json:"cafename"`
	CafeURL     string `json:"cafeurl"`
}

// Search implements Strategy. Any request or decode failure discards the
// partial result and returns no posts.
func (s *CafeAPI) Search(ctx context.Context, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) ([]crawler.RawPost, error) {
	log := s.logger.With(zap.String("source", src.ID), zap.String("keyword", keyword))
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		log.Warn("search api credentials are not configured")
		return nil, nil
	}

	limit := maxResults(opts)
	cafeID := CafeID(src)
	var posts []crawler.RawPost
	for start := 1; len(posts) < limit && start <= apiMaxStart; {
		display := min(limit-len(posts), apiMaxDisplay)
		if err := s.limiter.Wait(ctx, src.ID); err != nil {
			return nil, fmt.Errorf("wait for api slot: %w", err)
		}
		page, err := s.page(ctx, src.ID, keyword, start, display)
		if err != nil {
			if cerr := canceled(ctx); cerr != nil {
				return nil, cerr
			}
			log.Warn("search api request failed", zap.Int("start", start), zap.Error(err))
			return nil, nil
		}

		for _, item := range page.Items {
			if len(posts) >= limit {
				break
			}
			if cafeID != "" && item.CafeName != "" &&
				!strings.Contains(item.CafeURL, cafeID) && !strings.Contains(item.Link, cafeID) {
				continue
			}
			posts = append(posts, s.toRawPost(item, src, keyword))
		}

		if len(page.Items) < display {
			break
		}
		start += len(page.Items)
	}
	log.Debug("search api done", zap.Int("posts", len(posts)))
	return posts, nil
}

func (s *CafeAPI) page(ctx context.Context, key, keyword string, start, display int) (apiResponse, error) {
	q := url.Values{}
	q.Set("query", keyword)
	q.Set("display", strconv.Itoa(display))
	q.Set("start", strconv.Itoa(start))
	q.Set("sort", "date")

	headers := http.Header{}
	headers.Set("X-Naver-Client-Id", s.cfg.ClientID)
	headers.Set("X-Naver-Client-Secret", s.cfg.ClientSecret)
	headers.Set("Accept", "application/json")

	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     s.cfg.Endpoint + "?" + q.Encode(),
		Headers: headers,
		Pace:    s.limiter,
		PaceKey: key,
	})
	if err != nil {
		return apiResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("search api status %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	var out apiResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode search api response: %w", err)
	}
	return out, nil
}

func (s *CafeAPI) toRawPost(item apiItem, src crawler.CrawlSource, keyword string) crawler.RawPost {
	community := item.CafeURL
	if community == "" {
		community = src.URL
	}
	return crawler.RawPost{
		Title:         normalize.StripHTML(item.Title),
		URL:           item.Link,
		Author:        crawler.UnknownAuthor,
		Content:       normalize.StripHTML(item.Description),
		Keyword:       keyword,
		SourceType:    src.Type,
		CommunityURL:  community,
		CommunityName: item.CafeName,
		CollectedAt:   s.clock.Now(),
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// Package analytics is a cached read-through client for the downstream
// analytics service. Responses are passed through as raw JSON.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
)

const (
	// DefaultTimeout bounds every request except the health check.
	DefaultTimeout = 10 * time.Second
	healthTimeout  = 3 * time.Second
	cleanupPeriod  = 2 * time.Minute
)

// Cache lifetimes per endpoint family.
const (
	TTLAnalysis  = 10 * time.Minute
	TTLDaily     = 30 * time.Minute
	TTLWeekly    = 30 * time.Minute
	TTLAcademies = time.Hour
)

// Health reports whether the analytics service answered.
type Health struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url"`
}

// CacheStats summarizes cache usage since the last Clear.
type CacheStats struct {
	Keys    int    `json:"keys"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	HitRate string `json:"hitRate"`
}

// Client reads from the analytics service through a TTL cache.
type Client struct {
	baseURL    string
	apiURL     string
	httpClient *http.Client
	timeout    time.Duration
	cache      *gocache.Cache
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client. The client passed in is
// never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the HTTP
// client regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCache injects the cache instance.
func WithCache(cache *gocache.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:    baseURL,
		apiURL:     baseURL + "/api/v2",
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if c.cache == nil {
		c.cache = gocache.New(gocache.NoExpiration, cleanupPeriod)
	}
	c.logger = c.logger.Named("analytics")
	return c
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Summary returns today's analysis summary.
func (c *Client) Summary(ctx context.Context) json.RawMessage {
	return c.cachedGet(ctx, "/analysis/summary", nil, TTLAnalysis)
}

// AcademyStats returns per-academy statistics.
func (c *Client) AcademyStats(ctx context.Context) json.RawMessage {
	return c.cachedGet(ctx, "/analysis/academy-stats", nil, TTLAnalysis)
}

// Ranking returns the top limit entries by mentions.
func (c *Client) Ranking(ctx context.Context, limit int) json.RawMessage {
	if limit <= 0 {
		limit = 10
	}
	return c.cachedGet(ctx, "/analysis/ranking", params{"limit": limit}, TTLAnalysis)
}

// Today returns the full analysis report for today.
func (c *Client) Today(ctx context.Context) json.RawMessage {
	return c.cachedGet(ctx, "/analysis/today", nil, TTLAnalysis)
}

// Academies lists the academies the analytics service knows.
func (c *Client) Academies(ctx context.Context) json.RawMessage {
	return c.cachedGet(ctx, "/academies", nil, TTLAcademies)
}

// DailyReport returns the report for date (YYYY-MM-DD), or the latest when empty.
func (c *Client) DailyReport(ctx context.Context, date string) json.RawMessage {
	var p params
	if date != "" {
		p = params{"date": date}
	}
	return c.cachedGet(ctx, "/reports/daily", p, TTLDaily)
}

// CurrentWeek returns the current ISO week descriptor.
func (c *Client) CurrentWeek(ctx context.Context) json.RawMessage {
	return c.cachedGet(ctx, "/weekly/current", nil, TTLWeekly)
}

// WeeklySummary returns summary statistics for a week.
func (c *Client) WeeklySummary(ctx context.Context, year, week int) json.RawMessage {
	return c.cachedGet(ctx, "/weekly/summary", params{"year": year, "week": week}, TTLWeekly)
}

// WeeklyRanking returns the top limit entries for a week.
func (c *Client) WeeklyRanking(ctx context.Context, year, week, limit int) json.RawMessage {
	if limit <= 0 {
		limit = 20
	}
	return c.cachedGet(ctx, "/weekly/ranking", params{"year": year, "week": week, "limit": limit}, TTLWeekly)
}

// WeeklyReport returns the full report for a week.
func (c *Client) WeeklyReport(ctx context.Context, year, week int) json.RawMessage {
	return c.cachedGet(ctx, "/weekly/report", params{"year": year, "week": week}, TTLWeekly)
}

// Health checks the service without touching the cache.
func (c *Client) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := c.get(ctx, "/academies", nil); err != nil {
		c.logger.Debug("analytics health check failed", zap.Error(err))
		return Health{Connected: false, URL: c.baseURL}
	}
	return Health{Connected: true, URL: c.baseURL}
}

// CacheStats reports key count and hit ratio.
func (c *Client) CacheStats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	rate := "0%"
	if total := hits + misses; total > 0 {
		rate = strconv.FormatFloat(float64(hits)*100/float64(total), 'f', 1, 64) + "%"
	}
	return CacheStats{Keys: c.cache.ItemCount(), Hits: hits, Misses: misses, HitRate: rate}
}

// Clear drops every cached entry and resets the counters.
func (c *Client) Clear() {
	c.cache.Flush()
	c.hits.Store(0)
	c.misses.Store(0)
}

type params map[string]any

// cacheKey is path alone, or path:json(params). Map keys marshal sorted.
func cacheKey(path string, p params) string {
	if len(p) == 0 {
		return path
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return path
	}
	return path + ":" + string(raw)
}

// cachedGet returns nil when the fetch fails. Failures are not cached.
func (c *Client) cachedGet(ctx context.Context, path string, p params, ttl time.Duration) json.RawMessage {
	key := cacheKey(path, p)
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		telemetry.ObserveCache(true)
		c.logger.Debug("cache hit", zap.String("key", key))
		return v.(json.RawMessage)
	}
	c.misses.Add(1)
	telemetry.ObserveCache(false)
	c.logger.Debug("cache miss", zap.String("key", key))

	data, err := c.get(ctx, path, p)
	if err != nil {
		c.logger.Warn("analytics request failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	c.cache.Set(key, data, ttl)
	return data
}

func (c *Client) get(ctx context.Context, path string, p params) (json.RawMessage, error) {
	u := c.apiURL + path
	if len(p) > 0 {
		q := url.Values{}
		for k, v := range p {
			q.Set(k, fmt.Sprint(v))
		}
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("get %s: response is not JSON", path)
	}
	return json.RawMessage(body), nil
}

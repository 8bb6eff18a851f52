// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries bounds extra attempts after a timeout or 5xx.
	MaxRetries int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every fetch
// runs on a clone of one base collector so connection pooling is shared while
// callbacks stay per request.
type Fetcher struct {
	cfg           Config
	retry         *RetryPolicy
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// Search and listing URLs are revisited every sweep and clones share the
	// visited set.
	c.AllowURLRevisit = true
	// Hand non-2xx responses to OnResponse so callers can inspect the status.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		retry:         NewRetryPolicy(cfg.MaxRetries + 1),
		baseCollector: c,
		logger:        logger.Named("fetcher.colly"),
	}
}

// Fetch executes an HTTP GET, retrying timeouts and 5xx responses. Retries
// wait on request.Pace after the backoff when it is set. A final
// 5xx is returned as a *crawler.StatusError; other statuses are returned in
// the response with a nil error.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.fetchOnce(ctx, request)
		if err == nil && resp.StatusCode >= http.StatusInternalServerError {
			err = &crawler.StatusError{URL: request.URL, Code: resp.StatusCode}
		}
		telemetry.ObserveFetch(resp.StatusCode)
		if err == nil {
			return resp, nil
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		case <-timer.C:
		}
		if request.Pace != nil {
			if err := request.Pace.Wait(ctx, request.PaceKey); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("wait before retry: %w", err)
			}
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *crawler.StatusError
	return errors.As(err, &se) && se.Code == code
}

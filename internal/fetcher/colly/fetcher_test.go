package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/policy/ratelimit"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id-123", r.Header.Get("X-Naver-Client-Id"))
		assert.Equal(t, "test-agent", r.UserAgent())
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second}, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/search",
		Headers: http.Header{"X-Naver-Client-Id": {"id-123"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"items":[]}`, string(resp.Body))
	assert.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	assert.False(t, resp.UsedHeadless)
}

func TestFetchSurfacesClientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 2}, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 2}, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 1}, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchRetryWaitsForPace(t *testing.T) {
	t.Parallel()

	const interval = 400 * time.Millisecond
	var (
		hits  atomic.Int32
		times [2]time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		if n <= 2 {
			times[n-1] = time.Now()
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := ratelimit.New(ratelimit.Config{Interval: interval})
	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx, "src-g"))

	f := New(Config{MaxRetries: 2}, nil)
	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL, Pace: limiter, PaceKey: "src-g"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	require.Equal(t, int32(2), hits.Load())
	// A few milliseconds of slack for token bucket rounding.
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), interval-20*time.Millisecond)
}

func TestFetchRetryStopsWhenPaceCanceled(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{MaxRetries: 3}, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Pace: refusingPace{}, PaceKey: "src-g"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), hits.Load())
}

type refusingPace struct{}

func (refusingPace) Wait(context.Context, string) error { return context.Canceled }

func TestFetchHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{}, nil)
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "http://127.0.0.1:1/unreachable"})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"X-Trace": {"old"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, []string{"yes"}, collyReq.Headers.Values("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3)
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(&crawler.StatusError{Code: 500}, 1))
	assert.True(t, p.ShouldRetry(&crawler.StatusError{Code: 429}, 2))
	assert.False(t, p.ShouldRetry(&crawler.StatusError{Code: 500}, 3))
	assert.False(t, p.ShouldRetry(&crawler.StatusError{Code: 404}, 1))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(errors.New("parse failure"), 1))
	assert.True(t, p.ShouldRetry(&url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}, 1))

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, 1, NewRetryPolicy(0).maxAttempts)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

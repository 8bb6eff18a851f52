package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingServer struct {
	*httptest.Server
	calls  atomic.Int32
	status atomic.Int32
	last   atomic.Value
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.status.Store(http.StatusOK)
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.calls.Add(1)
		rs.last.Store(r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(rs.status.Load()))
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func TestCachedAccessorsHitCacheOnSecondCall(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	c := New(srv.URL + "/")
	ctx := context.Background()

	first := c.Summary(ctx)
	require.JSONEq(t, `{"path":"/api/v2/analysis/summary"}`, string(first))
	second := c.Summary(ctx)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), srv.calls.Load())

	stats := c.CacheStats()
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, "50.0%", stats.HitRate)
}

func TestParamsAreSeparateCacheEntries(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	require.NotNil(t, c.WeeklyRanking(ctx, 2026, 6, 0))
	assert.Equal(t, "/api/v2/weekly/ranking?limit=20&week=6&year=2026", srv.last.Load())
	require.NotNil(t, c.WeeklyRanking(ctx, 2026, 7, 0))
	require.NotNil(t, c.WeeklyRanking(ctx, 2026, 6, 0))
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Equal(t, 2, c.CacheStats().Keys)
}

func TestFailuresAreNotCached(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	srv.status.Store(http.StatusBadGateway)
	c := New(srv.URL)
	ctx := context.Background()

	assert.Nil(t, c.Ranking(ctx, 5))
	assert.Equal(t, 0, c.CacheStats().Keys)

	srv.status.Store(http.StatusOK)
	assert.NotNil(t, c.Ranking(ctx, 5))
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Equal(t, 1, c.CacheStats().Keys)
}

func TestHealthBypassesCache(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	assert.Equal(t, Health{Connected: true, URL: srv.URL}, c.Health(ctx))
	assert.Equal(t, Health{Connected: true, URL: srv.URL}, c.Health(ctx))
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Equal(t, 0, c.CacheStats().Keys)

	srv.status.Store(http.StatusInternalServerError)
	assert.False(t, c.Health(ctx).Connected)
}

func TestHealthUnreachable(t *testing.T) {
	t.Parallel()

	c := New("http://127.0.0.1:1")
	h := c.Health(context.Background())
	assert.False(t, h.Connected)
	assert.Equal(t, "http://127.0.0.1:1", h.URL)
}

func TestClearResetsCacheAndCounters(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	c.Academies(ctx)
	c.Academies(ctx)
	c.Clear()
	assert.Equal(t, CacheStats{HitRate: "0%"}, c.CacheStats())

	c.Academies(ctx)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestDailyReportKeying(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/reports/daily", cacheKey("/reports/daily", nil))
	assert.Equal(t, `/reports/daily:{"date":"2026-02-09"}`, cacheKey("/reports/daily", params{"date": "2026-02-09"}))
	assert.Equal(t, `/weekly/summary:{"week":6,"year":2026}`, cacheKey("/weekly/summary", params{"year": 2026, "week": 6}))
}

func TestTimeoutLeavesCallerClientUntouched(t *testing.T) {
	t.Parallel()

	shared := &http.Client{Timeout: time.Minute}
	for _, opts := range [][]Option{
		{WithHTTPClient(shared), WithTimeout(3 * time.Second)},
		{WithTimeout(3 * time.Second), WithHTTPClient(shared)},
	} {
		c := New("http://analytics.local", opts...)
		assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
		assert.NotSame(t, shared, c.httpClient)
	}
	assert.Equal(t, time.Minute, shared.Timeout)

	c := New("http://analytics.local", WithHTTPClient(shared))
	assert.Same(t, shared, c.httpClient)
}

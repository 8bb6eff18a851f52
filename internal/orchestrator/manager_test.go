package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/hash/sha256"
	"github.com/JakeFAU/academy-insight-crawler/internal/id/uuid"
	"github.com/JakeFAU/academy-insight-crawler/internal/ingest"
	pubmemory "github.com/JakeFAU/academy-insight-crawler/internal/publisher/memory"
	"github.com/JakeFAU/academy-insight-crawler/internal/storage/memory"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
	"github.com/JakeFAU/academy-insight-crawler/internal/tracker"
)

var sweepNow = time.Date(2026, 2, 9, 4, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type searchCall struct {
	source  string
	keyword string
	opts    crawler.SearchOptions
}

type fakeStrategy struct {
	name  string
	posts func(src crawler.CrawlSource, keyword string) []crawler.RawPost
	panic bool
	err   error

	mu    sync.Mutex
	calls []searchCall
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Search(_ context.Context, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) ([]crawler.RawPost, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{source: src.ID, keyword: keyword, opts: opts})
	f.mu.Unlock()
	if f.panic {
		panic("selector blew up")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.posts == nil {
		return nil, nil
	}
	return f.posts(src, keyword), nil
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type countingDetector struct {
	mu    sync.Mutex
	calls int
	seen  []string
	store *memory.Store
}

func (d *countingDetector) DetectAll(ctx context.Context, srcs []crawler.CrawlSource) ([]strategy.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	var out []strategy.Detection
	for _, s := range srcs {
		d.seen = append(d.seen, s.ID)
		if s.SourceID == "dead" {
			s.Active = false
			if err := d.store.UpdateSource(ctx, s); err != nil {
				return out, err
			}
			out = append(out, strategy.Detection{Source: s, Outcome: strategy.DetectDeactivated})
		}
	}
	return out, nil
}

func post(url, title string, dated bool) crawler.RawPost {
	p := crawler.RawPost{Title: title, URL: url, Author: crawler.UnknownAuthor, CollectedAt: sweepNow}
	if dated {
		d := sweepNow.Add(-time.Hour)
		p.PostedAt = &d
		p.PostedAtRaw = "1시간 전"
	}
	return p
}

type harness struct {
	store     *memory.Store
	api       *fakeStrategy
	web       *fakeStrategy
	gallery   *fakeStrategy
	detector  *countingDetector
	publisher *pubmemory.Publisher
	manager   *Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memory.NewStore()
	h := &harness{
		store:     store,
		api:       &fakeStrategy{name: "cafe_api"},
		web:       &fakeStrategy{name: "cafe_web"},
		gallery:   &fakeStrategy{name: "gallery"},
		detector:  &countingDetector{store: store},
		publisher: pubmemory.New(10, nil),
	}
	clock := fixedClock{sweepNow}
	h.manager = New(cfg, Deps{
		Store:      store,
		Strategies: strategy.Set{API: h.api, Web: h.web, Gallery: h.gallery},
		Detector:   h.detector,
		Samples:    strategy.NewSamples(clock, 7),
		Writer:     ingest.NewWriter(store, uuid.New(), sha256.New(), nil),
		Tracker:    tracker.New(store, uuid.New(), clock, nil),
		Publisher:  h.publisher,
		Clock:      clock,
	}, nil)
	return h
}

func (h *harness) academy(t *testing.T, name string, keywords []string, types ...crawler.SourceType) crawler.Academy {
	t.Helper()
	a, err := h.store.UpsertAcademy(context.Background(), crawler.Academy{
		ID: "academy-" + name, Name: name, Slug: name, Keywords: keywords, SourceTypes: types, Active: true,
	})
	require.NoError(t, err)
	return a
}

func (h *harness) source(t *testing.T, id string, typ crawler.SourceType) crawler.CrawlSource {
	t.Helper()
	s, err := h.store.UpsertSource(context.Background(), crawler.CrawlSource{
		ID: id, Type: typ, SourceID: id, Name: id, URL: "https://cafe.naver.com/" + id, Active: true,
	})
	require.NoError(t, err)
	return s
}

func (h *harness) jobs(t *testing.T, status crawler.JobStatus) []crawler.CrawlJob {
	t.Helper()
	jobs, err := h.store.ListJobs(context.Background(), crawler.JobFilter{Status: status})
	require.NoError(t, err)
	return jobs
}

func TestCrawlAllMergesHybridSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 20, Lookback: 24 * time.Hour, SampleFallback: true})
	h.academy(t, "ABC", []string{"ABC어학원"})
	h.source(t, "m2school", crawler.SourceNaverCafe)

	h.api.posts = func(crawler.CrawlSource, string) []crawler.RawPost {
		return []crawler.RawPost{
			post("https://cafe.naver.com/m2school/1", "api 1", false),
			post("https://cafe.naver.com/m2school/2", "api 2", false),
			post("http://m.cafe.naver.com/m2school/3?ref=api", "api 3 overlaps", false),
		}
	}
	h.web.posts = func(crawler.CrawlSource, string) []crawler.RawPost {
		return []crawler.RawPost{
			post("https://cafe.naver.com/m2school/3", "web 3", true),
			post("https://cafe.naver.com/m2school/4", "web 4", true),
		}
	}

	result, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalAcademies)
	require.Len(t, result.Results, 1)
	assert.Equal(t, crawler.AcademyResult{Academy: "ABC", TotalJobs: 1, Completed: 1, TotalPostsSaved: 4}, result.Results[0])
	assert.Equal(t, sweepNow, result.StartedAt)

	jobs := h.jobs(t, crawler.JobStatusCompleted)
	require.Len(t, jobs, 1)
	assert.Equal(t, 5, jobs[0].PostsFound)
	assert.Equal(t, 4, jobs[0].PostsSaved)
	assert.Equal(t, 1, jobs[0].DuplicatesSkipped)

	stored, err := h.store.FindPostByURL(context.Background(), "https://cafe.naver.com/m2school/3")
	require.NoError(t, err)
	assert.Equal(t, "web 3", stored.Title)

	require.Len(t, h.web.calls, 1)
	start := h.web.calls[0].opts.StartDate
	require.NotNil(t, start)
	assert.Equal(t, sweepNow.Add(-24*time.Hour), *start)
	assert.Equal(t, 20, h.web.calls[0].opts.MaxResults)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventSweepCompleted, msgs[0].Event)
	var published crawler.SweepResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &published))
	assert.Equal(t, 4, published.Results[0].TotalPostsSaved)
}

func TestCrawlAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10, Lookback: time.Hour, Concurrency: 3})
	h.academy(t, "ABC", []string{"ABC", "에이비씨"})
	h.source(t, "web-only", crawler.SourceNaverCafeWeb)
	h.source(t, "api-only", crawler.SourceNaverCafeAPI)

	h.web.panic = true
	h.api.posts = func(_ crawler.CrawlSource, kw string) []crawler.RawPost {
		return []crawler.RawPost{post("https://cafe.naver.com/api-only/"+kw, kw, false)}
	}

	result, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Results[0].TotalJobs)
	assert.Equal(t, 2, result.Results[0].Completed)
	assert.Equal(t, 2, result.Results[0].TotalPostsSaved)
	assert.Empty(t, result.Results[0].Error)

	failed := h.jobs(t, crawler.JobStatusFailed)
	require.Len(t, failed, 2)
	for _, j := range failed {
		assert.Equal(t, "web-only", j.SourceID)
		assert.Contains(t, j.Error, "selector blew up")
		assert.Zero(t, j.PostsFound)
		assert.NotNil(t, j.CompletedAt)
	}
}

func TestCrawlAllHonoursAcademySourceTypes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10})
	h.academy(t, "GalleryOnly", []string{"kw"}, crawler.SourceDCInside)
	h.source(t, "cafe", crawler.SourceNaverCafeAPI)
	h.source(t, "gall", crawler.SourceDCInside)

	_, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.api.callCount())
	assert.Equal(t, 1, h.gallery.callCount())
}

func TestGalleryDetectionRunsOncePerSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10})
	h.academy(t, "A", []string{"k1", "k2", "k3"})
	h.academy(t, "B", []string{"k4"})
	h.source(t, "live", crawler.SourceDCInside)
	h.source(t, "dead", crawler.SourceDCInside)

	_, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.detector.calls)
	assert.ElementsMatch(t, []string{"live", "dead"}, h.detector.seen)

	// The deactivated gallery is not crawled.
	assert.Equal(t, 4, h.gallery.callCount())
	for _, c := range h.gallery.calls {
		assert.Equal(t, "live", c.source)
	}
}

func TestSampleFallbackOnlyForCafes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 3, SampleFallback: true})
	h.academy(t, "A", []string{"kw"})
	h.source(t, "cafe", crawler.SourceNaverCafeAPI)
	h.source(t, "gall", crawler.SourceDCInside)

	_, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)

	jobs := h.jobs(t, crawler.JobStatusCompleted)
	require.Len(t, jobs, 2)
	bySource := map[string]crawler.CrawlJob{}
	for _, j := range jobs {
		bySource[j.SourceID] = j
	}
	assert.Equal(t, 3, bySource["cafe"].PostsFound)
	assert.Equal(t, 3, bySource["cafe"].PostsSaved)
	assert.Zero(t, bySource["gall"].PostsFound)

	posts, err := h.store.ListPosts(context.Background(), crawler.PostFilter{})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for _, p := range posts {
		assert.True(t, p.IsSample)
	}
}

func TestCrawlAllReclaimsStaleJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10, StaleJobAfter: 26 * time.Hour})
	require.NoError(t, h.store.CreateJob(context.Background(), crawler.CrawlJob{
		ID: "old", Status: crawler.JobStatusRunning, StartedAt: sweepNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, h.store.CreateJob(context.Background(), crawler.CrawlJob{
		ID: "recent", Status: crawler.JobStatusRunning, StartedAt: sweepNow.Add(-time.Hour),
	}))

	_, err := h.manager.CrawlAll(context.Background())
	require.NoError(t, err)

	failed := h.jobs(t, crawler.JobStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "old", failed[0].ID)
	assert.Equal(t, AbandonedReason, failed[0].Error)
	assert.Len(t, h.jobs(t, crawler.JobStatusRunning), 1)
}

func TestExecuteCrawlJobUnknownTypeFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10})
	job, err := h.manager.ExecuteCrawlJob(context.Background(),
		crawler.CrawlSource{ID: "x", Type: "tistory"}, "kw", "a", JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "unknown source type")
}

func TestBackfillRestrictsTypesAndWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10})
	h.academy(t, "A", []string{"kw"})
	h.source(t, "cafe", crawler.SourceNaverCafeAPI)
	h.source(t, "gall", crawler.SourceDCInside)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	h.gallery.posts = func(crawler.CrawlSource, string) []crawler.RawPost {
		out := make([]crawler.RawPost, 30)
		for i := range out {
			out[i] = post(fmt.Sprintf("https://gall.test/%d", i), "g", true)
		}
		return out
	}

	result, err := h.manager.Backfill(context.Background(), BackfillOptions{
		Types: []crawler.SourceType{crawler.SourceDCInside}, StartDate: &from, EndDate: &to,
	})
	require.NoError(t, err)
	assert.Zero(t, h.api.callCount())
	require.Equal(t, 1, h.gallery.callCount())
	assert.Equal(t, &from, h.gallery.calls[0].opts.StartDate)
	assert.Equal(t, &to, h.gallery.calls[0].opts.EndDate)
	assert.Equal(t, 30, result.Results[0].TotalPostsSaved)
	assert.Equal(t, EventBackfillCompleted, h.publisher.Messages()[0].Event)

	_, err = h.manager.Backfill(context.Background(), BackfillOptions{Types: []crawler.SourceType{"tistory"}})
	require.ErrorIs(t, err, strategy.ErrUnknownSourceType)
	_, err = h.manager.Backfill(context.Background(), BackfillOptions{StartDate: &to, EndDate: &from})
	require.Error(t, err)
}

func TestCanceledSweepRecordsInterruption(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResults: 10})
	h.academy(t, "A", []string{"kw"})
	h.source(t, "cafe", crawler.SourceNaverCafeAPI)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := h.manager.CrawlAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, result.Results[0].Error, "sweep interrupted")
	assert.Zero(t, h.api.callCount())
}

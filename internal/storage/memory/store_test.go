package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

func TestInsertPostEnforcesUniqueURL(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertPost(ctx, crawler.Post{ID: "p1", URL: "https://x/1", ViewCount: 5}))
	require.ErrorIs(t, s.InsertPost(ctx, crawler.Post{ID: "p2", URL: "https://x/1"}), crawler.ErrDuplicate)

	got, err := s.FindPostByURL(ctx, "https://x/1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = s.FindPostByURL(ctx, "https://x/2")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestConcurrentInsertsKeepOneRow(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.InsertPost(context.Background(), crawler.Post{ID: string(rune('a' + i)), URL: "https://same"})
		}(i)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestRaisePostCountsIsMonotonic(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertPost(ctx, crawler.Post{ID: "p1", URL: "u", ViewCount: 10, CommentCount: 2}))
	require.NoError(t, s.RaisePostCounts(ctx, "p1", 5, 7))

	got, err := s.FindPostByURL(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 10, got.ViewCount)
	assert.Equal(t, 7, got.CommentCount)
	require.ErrorIs(t, s.RaisePostCounts(ctx, "nope", 1, 1), crawler.ErrNotFound)
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	start := time.Date(2026, 2, 10, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateJob(ctx, crawler.CrawlJob{ID: "j1", Status: crawler.JobStatusRunning, StartedAt: start}))
	require.ErrorIs(t, s.CreateJob(ctx, crawler.CrawlJob{ID: "j1"}), crawler.ErrDuplicate)

	done := start.Add(time.Minute)
	require.NoError(t, s.FinishJob(ctx, crawler.CrawlJob{ID: "j1", Status: crawler.JobStatusCompleted, PostsSaved: 3, CompletedAt: &done}))
	require.ErrorIs(t, s.FinishJob(ctx, crawler.CrawlJob{ID: "j1", Status: crawler.JobStatusFailed}), crawler.ErrJobFinalized)
	require.ErrorIs(t, s.FinishJob(ctx, crawler.CrawlJob{ID: "nope"}), crawler.ErrNotFound)

	jobs, err := s.ListJobs(ctx, crawler.JobFilter{Status: crawler.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 3, jobs[0].PostsSaved)
}

func TestFailStaleJobs(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateJob(ctx, crawler.CrawlJob{ID: "old", Status: crawler.JobStatusRunning, StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.CreateJob(ctx, crawler.CrawlJob{ID: "fresh", Status: crawler.JobStatusRunning, StartedAt: now.Add(-time.Hour)}))

	n, err := s.FailStaleJobs(ctx, now.Add(-26*time.Hour), "abandoned", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err := s.ListJobs(ctx, crawler.JobFilter{Status: crawler.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "old", failed[0].ID)
	assert.Equal(t, "abandoned", failed[0].Error)
	require.NotNil(t, failed[0].CompletedAt)
}

func TestUpsertsAreKeyed(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	a1, err := s.UpsertAcademy(ctx, crawler.Academy{ID: "a1", Name: "A", Slug: "a", Active: true})
	require.NoError(t, err)
	a2, err := s.UpsertAcademy(ctx, crawler.Academy{ID: "a2", Name: "A renamed", Slug: "a", Active: true})
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)

	academies, err := s.ListActiveAcademies(ctx)
	require.NoError(t, err)
	require.Len(t, academies, 1)
	assert.Equal(t, "A renamed", academies[0].Name)

	src, err := s.UpsertSource(ctx, crawler.CrawlSource{ID: "s1", Type: crawler.SourceDCInside, SourceID: "g", Active: true})
	require.NoError(t, err)
	again, err := s.UpsertSource(ctx, crawler.CrawlSource{ID: "s2", Type: crawler.SourceDCInside, SourceID: "g", Active: true})
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.ID)

	require.NoError(t, s.UpdateSource(ctx, crawler.CrawlSource{ID: "s1", SourceID: "g2", URL: "u", Active: false}))
	active, err := s.ListActiveSources(ctx, crawler.SourceDCInside)
	require.NoError(t, err)
	assert.Empty(t, active)
	require.ErrorIs(t, s.UpdateSource(ctx, crawler.CrawlSource{ID: "zz"}), crawler.ErrNotFound)
}

func TestListPostsFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	older, newer := base.Add(-time.Hour), base
	require.NoError(t, s.InsertPost(ctx, crawler.Post{ID: "1", URL: "u1", AcademyID: "a", PostedAt: &older}))
	require.NoError(t, s.InsertPost(ctx, crawler.Post{ID: "2", URL: "u2", AcademyID: "a", PostedAt: &newer}))
	require.NoError(t, s.InsertPost(ctx, crawler.Post{ID: "3", URL: "u3", AcademyID: "b"}))

	got, err := s.ListPosts(ctx, crawler.PostFilter{AcademyID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)

	got, err = s.ListPosts(ctx, crawler.PostFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	since := base.Add(-30 * time.Minute)
	got, err = s.ListPosts(ctx, crawler.PostFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

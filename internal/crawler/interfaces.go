package crawler

import (
	"context"
	"io"
	"time"
)

// AcademyStore persists academies.
type AcademyStore interface {
	ListActiveAcademies(ctx context.Context) ([]Academy, error)
	UpsertAcademy(ctx context.Context, academy Academy) (Academy, error)
}

// SourceStore persists crawl sources.
type SourceStore interface {
	// ListActiveSources returns active sources, restricted to types when any are given.
	ListActiveSources(ctx context.Context, types ...SourceType) ([]CrawlSource, error)
	UpdateSource(ctx context.Context, source CrawlSource) error
	UpsertSource(ctx context.Context, source CrawlSource) (CrawlSource, error)
}

// PostStore persists posts. URL is unique across all posts.
type PostStore interface {
	FindPostByURL(ctx context.Context, url string) (Post, error)
	// InsertPost returns ErrDuplicate when the URL already exists.
	InsertPost(ctx context.Context, post Post) error
	// RaisePostCounts sets each count to the max of the stored and given values.
	RaisePostCounts(ctx context.Context, postID string, views, comments int) error
	ListPosts(ctx context.Context, filter PostFilter) ([]Post, error)
}

// JobStore persists crawl jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	// FinishJob moves a running job to a terminal state. It returns
	// ErrJobFinalized when the job is no longer running.
	FinishJob(ctx context.Context, job CrawlJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]CrawlJob, error)
	// FailStaleJobs fails running jobs started before cutoff and reports how many changed.
	FailStaleJobs(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int, error)
}

// Store bundles every persistence concern.
type Store interface {
	AcademyStore
	SourceStore
	PostStore
	JobStore
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes sweep summaries, tagged with an event name, to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Limiter paces requests sharing a key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Hasher computes digests for synthetic keys and snapshot names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

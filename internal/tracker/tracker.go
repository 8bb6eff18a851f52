// Package tracker records the lifecycle of crawl jobs. A job is created
// running and moves exactly once to completed or failed.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
)

// Tracker creates and finalizes CrawlJobs.
type Tracker struct {
	jobs   crawler.JobStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Tracker.
func New(jobs crawler.JobStore, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{jobs: jobs, ids: ids, clock: clock, logger: logger.Named("tracker")}
}

// Run is one running job.
type Run struct {
	t    *Tracker
	mu   sync.Mutex
	job  crawler.CrawlJob
	done bool
}

// Start persists a running job for the triple.
func (t *Tracker) Start(ctx context.Context, sourceID, academyID, keyword string) (*Run, error) {
	id, err := t.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.CrawlJob{
		ID:        id,
		SourceID:  sourceID,
		AcademyID: academyID,
		Keyword:   keyword,
		Status:    crawler.JobStatusRunning,
		StartedAt: t.clock.Now(),
	}
	if err := t.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.ObserveJob(string(crawler.JobStatusRunning))
	return &Run{t: t, job: job}, nil
}

// Job returns a copy of the job as last recorded.
func (r *Run) Job() crawler.CrawlJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// Complete finalizes the job with its counters.
func (r *Run) Complete(ctx context.Context, c crawler.JobCounters) (crawler.CrawlJob, error) {
	return r.finish(ctx, func(j *crawler.CrawlJob) {
		j.Status = crawler.JobStatusCompleted
		j.PostsFound = c.PostsFound
		j.PostsSaved = c.PostsSaved
		j.DuplicatesSkipped = c.DuplicatesSkipped
	})
}

// Fail finalizes the job with cause's message. Counters stay zero.
func (r *Run) Fail(ctx context.Context, cause error) (crawler.CrawlJob, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(ctx, func(j *crawler.CrawlJob) {
		j.Status = crawler.JobStatusFailed
		j.Error = msg
	})
}

func (r *Run) finish(ctx context.Context, apply func(*crawler.CrawlJob)) (crawler.CrawlJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.job, crawler.ErrJobFinalized
	}
	job := r.job
	apply(&job)
	completed := r.t.clock.Now()
	job.CompletedAt = &completed

	// Finalizing must survive a canceled sweep context.
	if err := r.t.jobs.FinishJob(context.WithoutCancel(ctx), job); err != nil {
		return r.job, fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	r.done = true
	r.job = job
	telemetry.ObserveJob(string(job.Status))
	r.t.logger.Debug("job finished",
		zap.String("job", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("found", job.PostsFound),
		zap.Int("saved", job.PostsSaved),
		zap.Int("skipped", job.DuplicatesSkipped),
		zap.String("error", job.Error),
	)
	return job, nil
}

// Package orchestrator fans a sweep out over every active academy, keyword
// and source, running one tracked crawl job per triple.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/ingest"
	"github.com/JakeFAU/academy-insight-crawler/internal/merge"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
	"github.com/JakeFAU/academy-insight-crawler/internal/tracker"
)

// Events published after a sweep.
const (
	EventSweepCompleted    = "sweep.completed"
	EventBackfillCompleted = "backfill.completed"
)

// AbandonedReason is recorded on running jobs reclaimed at sweep start.
const AbandonedReason = "abandoned: process exited before completion"

// Config tunes sweeps.
type Config struct {
	MaxResults     int
	Lookback       time.Duration
	Concurrency    int
	SampleFallback bool
	StaleJobAfter  time.Duration
}

// GalleryDetector settles gallery board paths before a sweep.
type GalleryDetector interface {
	DetectAll(ctx context.Context, sources []crawler.CrawlSource) ([]strategy.Detection, error)
}

// SampleGenerator supplies placeholder posts when a cafe search finds nothing.
type SampleGenerator interface {
	Generate(src crawler.CrawlSource, keyword string, limit int) []crawler.RawPost
}

// Deps are the Manager's collaborators. Detector, Samples and Publisher may be nil.
type Deps struct {
	Store      crawler.Store
	Strategies strategy.Set
	Detector   GalleryDetector
	Samples    SampleGenerator
	Writer     *ingest.Writer
	Tracker    *tracker.Tracker
	Publisher  crawler.Publisher
	Clock      crawler.Clock
}

// JobOptions bound a single crawl job.
type JobOptions struct {
	MaxResults int
	StartDate  *time.Time
	EndDate    *time.Time
}

// BackfillOptions bound a backfill. An empty Types means every type.
type BackfillOptions struct {
	Types      []crawler.SourceType
	StartDate  *time.Time
	EndDate    *time.Time
	MaxResults int
}

// Manager runs sweeps and individual crawl jobs.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New builds a Manager.
func New(cfg Config, deps Deps, logger *zap.Logger) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, deps: deps, logger: logger.Named("orchestrator")}
}

// CrawlAll runs the recurring sweep over the lookback window.
func (m *Manager) CrawlAll(ctx context.Context) (crawler.SweepResult, error) {
	start := m.deps.Clock.Now().Add(-m.cfg.Lookback)
	return m.sweep(ctx, EventSweepCompleted, nil, JobOptions{MaxResults: m.cfg.MaxResults, StartDate: &start})
}

// Backfill runs a sweep restricted to opts.Types over an explicit window.
func (m *Manager) Backfill(ctx context.Context, opts BackfillOptions) (crawler.SweepResult, error) {
	for _, t := range opts.Types {
		if !t.Valid() {
			return crawler.SweepResult{}, fmt.Errorf("%w: %q", strategy.ErrUnknownSourceType, t)
		}
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return crawler.SweepResult{}, fmt.Errorf("backfill window ends before it starts")
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = m.cfg.MaxResults
	}
	return m.sweep(ctx, EventBackfillCompleted, opts.Types,
		JobOptions{MaxResults: limit, StartDate: opts.StartDate, EndDate: opts.EndDate})
}

// DetectGalleries settles board paths for every active gallery source.
func (m *Manager) DetectGalleries(ctx context.Context) ([]strategy.Detection, error) {
	if m.deps.Detector == nil {
		return nil, nil
	}
	galleries, err := m.deps.Store.ListActiveSources(ctx, crawler.SourceDCInside)
	if err != nil {
		return nil, fmt.Errorf("list gallery sources: %w", err)
	}
	if len(galleries) == 0 {
		return nil, nil
	}
	dets, err := m.deps.Detector.DetectAll(ctx, galleries)
	if err != nil {
		return dets, fmt.Errorf("detect gallery paths: %w", err)
	}
	return dets, nil
}

func (m *Manager) sweep(ctx context.Context, event string, types []crawler.SourceType, opts JobOptions) (crawler.SweepResult, error) {
	startedAt := m.deps.Clock.Now()
	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "crawl.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("event", event))

	result, err := m.runSweep(ctx, types, opts)
	result.StartedAt = startedAt
	result.FinishedAt = m.deps.Clock.Now()
	dur := result.FinishedAt.Sub(startedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.ObserveSweep("error", dur)
		return result, err
	}
	telemetry.ObserveSweep("success", dur)
	m.publish(ctx, event, result)

	saved := 0
	for _, r := range result.Results {
		saved += r.TotalPostsSaved
	}
	span.SetAttributes(attribute.Int("academies", result.TotalAcademies), attribute.Int("posts_saved", saved))
	m.logger.Info("sweep finished",
		zap.String("event", event),
		zap.Int("academies", result.TotalAcademies),
		zap.Int("posts_saved", saved),
		zap.Duration("duration", dur),
	)
	return result, nil
}

func (m *Manager) runSweep(ctx context.Context, types []crawler.SourceType, opts JobOptions) (crawler.SweepResult, error) {
	m.reclaimStaleJobs(ctx)

	academies, err := m.deps.Store.ListActiveAcademies(ctx)
	if err != nil {
		return crawler.SweepResult{}, fmt.Errorf("list academies: %w", err)
	}
	sources, err := m.activeSources(ctx, types)
	if err != nil {
		return crawler.SweepResult{}, err
	}

	results := make([]crawler.AcademyResult, len(academies))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Concurrency)

	for i, academy := range academies {
		results[i].Academy = academy.Name
		for _, keyword := range academy.Keywords {
			for _, src := range sources {
				if !academy.Accepts(src.Type) {
					continue
				}
				if err := ctx.Err(); err != nil {
					mu.Lock()
					results[i].Error = fmt.Sprintf("sweep interrupted: %v", err)
					mu.Unlock()
					continue
				}
				g.Go(func() error {
					job, err := m.ExecuteCrawlJob(ctx, src, keyword, academy.ID, opts)
					mu.Lock()
					defer mu.Unlock()
					r := &results[i]
					if err != nil {
						r.Error = err.Error()
						return nil
					}
					r.TotalJobs++
					if job.Status == crawler.JobStatusCompleted {
						r.Completed++
						r.TotalPostsSaved += job.PostsSaved
					}
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	return crawler.SweepResult{TotalAcademies: len(academies), Results: results}, nil
}

// activeSources lists sources, settling gallery paths first when any gallery
// source is in scope.
func (m *Manager) activeSources(ctx context.Context, types []crawler.SourceType) ([]crawler.CrawlSource, error) {
	sources, err := m.deps.Store.ListActiveSources(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var galleries []crawler.CrawlSource
	for _, s := range sources {
		if s.Type == crawler.SourceDCInside {
			galleries = append(galleries, s)
		}
	}
	if len(galleries) == 0 || m.deps.Detector == nil {
		return sources, nil
	}
	if _, err := m.deps.Detector.DetectAll(ctx, galleries); err != nil {
		m.logger.Warn("gallery detection incomplete", zap.Error(err))
	}
	sources, err = m.deps.Store.ListActiveSources(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (m *Manager) reclaimStaleJobs(ctx context.Context) {
	if m.cfg.StaleJobAfter <= 0 {
		return
	}
	now := m.deps.Clock.Now()
	n, err := m.deps.Store.FailStaleJobs(ctx, now.Add(-m.cfg.StaleJobAfter), AbandonedReason, now)
	if err != nil {
		m.logger.Warn("reclaim stale jobs", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("reclaimed stale jobs", zap.Int("jobs", n))
	}
}

func (m *Manager) publish(ctx context.Context, event string, result crawler.SweepResult) {
	if m.deps.Publisher == nil {
		return
	}
	id, err := m.deps.Publisher.Publish(ctx, event, result)
	if err != nil {
		m.logger.Warn("publish sweep result", zap.String("event", event), zap.Error(err))
		return
	}
	m.logger.Debug("sweep result published", zap.String("id", id))
}

// ExecuteCrawlJob runs every strategy for src, merges and writes the results
// and records the outcome on a CrawlJob. A failure inside the job, including
// a panic, yields a failed job and a nil error; the error is non-nil only
// when the job itself could not be recorded.
func (m *Manager) ExecuteCrawlJob(ctx context.Context, src crawler.CrawlSource, keyword, academyID string, opts JobOptions) (crawler.CrawlJob, error) {
	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "crawl.job")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.type", string(src.Type)),
		attribute.String("keyword", keyword),
	)

	run, err := m.deps.Tracker.Start(ctx, src.ID, academyID, keyword)
	if err != nil {
		span.RecordError(err)
		return crawler.CrawlJob{}, err
	}

	counters, err := m.collect(ctx, src, keyword, academyID, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("crawl job failed",
			zap.String("source", src.ID),
			zap.String("keyword", keyword),
			zap.Error(err),
		)
		return run.Fail(ctx, err)
	}
	return run.Complete(ctx, counters)
}

func (m *Manager) collect(ctx context.Context, src crawler.CrawlSource, keyword, academyID string, opts JobOptions) (c crawler.JobCounters, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl job panicked: %v", r)
		}
	}()

	plan, err := m.deps.Strategies.For(src.Type)
	if err != nil {
		return c, err
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = m.cfg.MaxResults
	}
	search := crawler.SearchOptions{MaxResults: limit, StartDate: opts.StartDate, EndDate: opts.EndDate}

	found := 0
	batches := make([][]crawler.RawPost, 0, len(plan))
	for _, st := range plan {
		posts, err := st.Search(ctx, src, keyword, search)
		if err != nil {
			return c, fmt.Errorf("%s search: %w", st.Name(), err)
		}
		found += len(posts)
		batches = append(batches, posts)
	}

	var lower []crawler.RawPost
	for _, b := range batches[1:] {
		lower = append(lower, b...)
	}
	capacity := 0
	if src.Type.IsCafe() {
		capacity = limit
	}
	merged := merge.Merge(batches[0], lower, capacity)
	dropped := found - len(merged)

	if len(merged) == 0 && m.cfg.SampleFallback && m.deps.Samples != nil {
		merged = m.deps.Samples.Generate(src, keyword, limit)
		found, dropped = len(merged), 0
		if len(merged) > 0 {
			m.logger.Info("substituting sample posts",
				zap.String("source", src.ID),
				zap.String("keyword", keyword),
				zap.Int("samples", len(merged)),
			)
		}
	}

	tally, err := m.deps.Writer.WriteAll(ctx, merged, src.ID, academyID)
	if err != nil {
		return c, err
	}
	return crawler.JobCounters{
		PostsFound:        found,
		PostsSaved:        tally.Saved,
		DuplicatesSkipped: tally.Duplicates + tally.Updated + dropped,
	}, nil
}

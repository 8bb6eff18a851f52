// Package memory provides in-process implementations of the crawler stores
// and blob store for development runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

// Store implements crawler.Store with maps guarded by a RWMutex. Post URLs
// are unique, mirroring the Postgres unique index.
type Store struct {
	mu        sync.RWMutex
	academies map[string]crawler.Academy
	sources   map[string]crawler.CrawlSource
	posts     map[string]crawler.Post
	postByURL map[string]string
	jobs      map[string]crawler.CrawlJob
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		academies: make(map[string]crawler.Academy),
		sources:   make(map[string]crawler.CrawlSource),
		posts:     make(map[string]crawler.Post),
		postByURL: make(map[string]string),
		jobs:      make(map[string]crawler.CrawlJob),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// ListActiveAcademies returns active academies ordered by name.
func (s *Store) ListActiveAcademies(_ context.Context) ([]crawler.Academy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Academy, 0, len(s.academies))
	for _, a := range s.academies {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertAcademy inserts or updates an academy keyed by slug.
func (s *Store) UpsertAcademy(_ context.Context, a crawler.Academy) (crawler.Academy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.academies {
		if existing.Slug == a.Slug {
			a.ID = id
			a.CreatedAt = existing.CreatedAt
			break
		}
	}
	s.academies[a.ID] = a
	return a, nil
}

// ListActiveSources returns active sources, optionally restricted to types.
func (s *Store) ListActiveSources(_ context.Context, types ...crawler.SourceType) ([]crawler.CrawlSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlSource, 0, len(s.sources))
	for _, src := range s.sources {
		if !src.Active {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, src.Type) {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateSource rewrites a source's identifier, URL and active flag.
func (s *Store) UpdateSource(_ context.Context, src crawler.CrawlSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sources[src.ID]
	if !ok {
		return crawler.ErrNotFound
	}
	existing.SourceID = src.SourceID
	existing.URL = src.URL
	existing.Active = src.Active
	existing.UpdatedAt = src.UpdatedAt
	s.sources[src.ID] = existing
	return nil
}

// UpsertSource inserts or updates a source keyed by (type, source id).
func (s *Store) UpsertSource(_ context.Context, src crawler.CrawlSource) (crawler.CrawlSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.sources {
		if existing.Type == src.Type && existing.SourceID == src.SourceID {
			src.ID = id
			break
		}
	}
	s.sources[src.ID] = src
	return src, nil
}

// Source returns a source by ID.
func (s *Store) Source(id string) (crawler.CrawlSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	return src, ok
}

// FindPostByURL looks a post up by its unique URL.
func (s *Store) FindPostByURL(_ context.Context, url string) (crawler.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.postByURL[url]
	if !ok {
		return crawler.Post{}, crawler.ErrNotFound
	}
	return s.posts[id], nil
}

// InsertPost inserts a new post. A URL collision yields crawler.ErrDuplicate.
func (s *Store) InsertPost(_ context.Context, p crawler.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.postByURL[p.URL]; exists {
		return crawler.ErrDuplicate
	}
	s.posts[p.ID] = p
	s.postByURL[p.URL] = p.ID
	return nil
}

// RaisePostCounts never lowers a stored count.
func (s *Store) RaisePostCounts(_ context.Context, postID string, views, comments int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return crawler.ErrNotFound
	}
	p.ViewCount = max(p.ViewCount, views)
	p.CommentCount = max(p.CommentCount, comments)
	s.posts[postID] = p
	return nil
}

// ListPosts returns posts newest first.
func (s *Store) ListPosts(_ context.Context, f crawler.PostFilter) ([]crawler.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Post
	for _, p := range s.posts {
		if f.AcademyID != "" && p.AcademyID != f.AcademyID {
			continue
		}
		if f.SourceID != "" && p.SourceID != f.SourceID {
			continue
		}
		if f.Since != nil && (p.PostedAt == nil || p.PostedAt.Before(*f.Since)) {
			continue
		}
		if f.Until != nil && (p.PostedAt == nil || p.PostedAt.After(*f.Until)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newerPost(out[i], out[j]) })
	return page(out, f.Offset, f.Limit), nil
}

func newerPost(a, b crawler.Post) bool {
	switch {
	case a.PostedAt != nil && b.PostedAt != nil && !a.PostedAt.Equal(*b.PostedAt):
		return a.PostedAt.After(*b.PostedAt)
	case a.PostedAt != nil && b.PostedAt == nil:
		return true
	case a.PostedAt == nil && b.PostedAt != nil:
		return false
	}
	return a.CollectedAt.After(b.CollectedAt)
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return crawler.ErrDuplicate
	}
	s.jobs[job.ID] = job
	return nil
}

// FinishJob moves a running job to its terminal state.
func (s *Store) FinishJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return crawler.ErrNotFound
	}
	if existing.Status != crawler.JobStatusRunning {
		return crawler.ErrJobFinalized
	}
	existing.Status = job.Status
	existing.PostsFound = job.PostsFound
	existing.PostsSaved = job.PostsSaved
	existing.DuplicatesSkipped = job.DuplicatesSkipped
	existing.Error = job.Error
	existing.CompletedAt = job.CompletedAt
	s.jobs[job.ID] = existing
	return nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(_ context.Context, f crawler.JobFilter) ([]crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.CrawlJob
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.SourceID != "" && j.SourceID != f.SourceID {
			continue
		}
		if f.AcademyID != "" && j.AcademyID != f.AcademyID {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, f.Offset, f.Limit), nil
}

// FailStaleJobs fails running jobs that started before cutoff.
func (s *Store) FailStaleJobs(_ context.Context, cutoff time.Time, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status != crawler.JobStatusRunning || !j.StartedAt.Before(cutoff) {
			continue
		}
		j.Status = crawler.JobStatusFailed
		j.Error = reason
		completed := at
		j.CompletedAt = &completed
		s.jobs[id] = j
		n++
	}
	return n, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

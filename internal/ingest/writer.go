// Package ingest writes candidate posts to the post store, deduplicating on
// the canonical URL and only ever raising stored counts.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/telemetry"
)

const syntheticKeyLen = 32

// KeyHasher derives the synthetic key digest.
type KeyHasher interface {
	HashFields(n int, fields ...string) string
}

// Writer upserts RawPosts.
type Writer struct {
	posts  crawler.PostStore
	ids    crawler.IDGenerator
	hasher KeyHasher
	logger *zap.Logger
}

// NewWriter builds a Writer.
func NewWriter(posts crawler.PostStore, ids crawler.IDGenerator, hasher KeyHasher, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{posts: posts, ids: ids, hasher: hasher, logger: logger.Named("ingest")}
}

// CanonicalURL returns the dedup key for p: its URL, or a synthetic key built
// from the source type, title and raw date when the URL is empty.
func (w *Writer) CanonicalURL(p crawler.RawPost) string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("synthetic://%s/%s", p.SourceType, w.hasher.HashFields(syntheticKeyLen, p.Title, p.PostedAtRaw))
}

// Upsert stores p for the given source and academy. Store failures are logged
// and reported as OutcomeError.
func (w *Writer) Upsert(ctx context.Context, p crawler.RawPost, sourceID, academyID string) crawler.WriteOutcome {
	outcome, err := w.upsert(ctx, p, sourceID, academyID)
	if err != nil {
		w.logger.Error("write post",
			zap.String("source", sourceID),
			zap.String("url", p.URL),
			zap.Error(err),
		)
		outcome = crawler.OutcomeError
	}
	telemetry.ObservePost(string(p.SourceType), string(outcome))
	return outcome
}

func (w *Writer) upsert(ctx context.Context, p crawler.RawPost, sourceID, academyID string) (crawler.WriteOutcome, error) {
	key := w.CanonicalURL(p)
	existing, err := w.posts.FindPostByURL(ctx, key)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return w.insert(ctx, p, key, sourceID, academyID)
	case err != nil:
		return crawler.OutcomeError, fmt.Errorf("find post: %w", err)
	}

	if p.ViewCount <= existing.ViewCount && p.CommentCount <= existing.CommentCount {
		return crawler.OutcomeDuplicate, nil
	}
	if err := w.posts.RaisePostCounts(ctx, existing.ID, p.ViewCount, p.CommentCount); err != nil {
		return crawler.OutcomeError, fmt.Errorf("raise post counts: %w", err)
	}
	return crawler.OutcomeUpdated, nil
}

func (w *Writer) insert(ctx context.Context, p crawler.RawPost, key, sourceID, academyID string) (crawler.WriteOutcome, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return crawler.OutcomeError, fmt.Errorf("generate post id: %w", err)
	}
	author := p.Author
	if author == "" {
		author = crawler.UnknownAuthor
	}
	err = w.posts.InsertPost(ctx, crawler.Post{
		ID:           id,
		SourceID:     sourceID,
		AcademyID:    academyID,
		Keyword:      p.Keyword,
		Title:        p.Title,
		Content:      p.Content,
		Author:       author,
		URL:          key,
		ViewCount:    max(p.ViewCount, 0),
		CommentCount: max(p.CommentCount, 0),
		PostedAt:     p.PostedAt,
		CollectedAt:  p.CollectedAt,
		SourceType:   p.SourceType,
		IsSample:     p.IsSample,
	})
	switch {
	case errors.Is(err, crawler.ErrDuplicate):
		return crawler.OutcomeDuplicate, nil
	case err != nil:
		return crawler.OutcomeError, fmt.Errorf("insert post: %w", err)
	}
	return crawler.OutcomeSaved, nil
}

// Tally counts outcomes over a batch.
type Tally struct {
	Saved      int
	Updated    int
	Duplicates int
	Errors     int
}

// Add records one outcome.
func (t *Tally) Add(o crawler.WriteOutcome) {
	switch o {
	case crawler.OutcomeSaved:
		t.Saved++
	case crawler.OutcomeUpdated:
		t.Updated++
	case crawler.OutcomeDuplicate:
		t.Duplicates++
	default:
		t.Errors++
	}
}

// WriteAll upserts posts in order and tallies the outcomes. It stops early
// only when ctx is done.
func (w *Writer) WriteAll(ctx context.Context, posts []crawler.RawPost, sourceID, academyID string) (Tally, error) {
	var t Tally
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return t, fmt.Errorf("write posts: %w", err)
		}
		t.Add(w.Upsert(ctx, p, sourceID, academyID))
	}
	return t, nil
}

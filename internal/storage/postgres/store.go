// Package postgres provides the Postgres-backed crawler.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool pool
}

var _ crawler.Store = (*Store)(nil)

// New connects to Postgres using cfg and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ListActiveAcademies returns active academies ordered by name.
func (s *Store) ListActiveAcademies(ctx context.Context) ([]crawler.Academy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, slug, keywords, source_types, is_active, created_at
		FROM academies
		WHERE is_active
		ORDER BY name;
	`)
	if err != nil {
		return nil, fmt.Errorf("list academies: %w", err)
	}
	defer rows.Close()

	var out []crawler.Academy
	for rows.Next() {
		var (
			a     crawler.Academy
			types []string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Slug, &a.Keywords, &types, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan academy: %w", err)
		}
		a.SourceTypes = toSourceTypes(types)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate academies: %w", err)
	}
	return out, nil
}

// UpsertAcademy inserts or updates an academy keyed by slug.
func (s *Store) UpsertAcademy(ctx context.Context, a crawler.Academy) (crawler.Academy, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO academies (id, name, slug, keywords, source_types, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name,
			keywords = EXCLUDED.keywords,
			source_types = EXCLUDED.source_types,
			is_active = EXCLUDED.is_active
		RETURNING id, created_at;
	`, a.ID, a.Name, a.Slug, a.Keywords, fromSourceTypes(a.SourceTypes), a.Active, a.CreatedAt).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return crawler.Academy{}, fmt.Errorf("upsert academy: %w", err)
	}
	return a, nil
}

// ListActiveSources returns active sources, optionally restricted to types.
func (s *Store) ListActiveSources(ctx context.Context, types ...crawler.SourceType) ([]crawler.CrawlSource, error) {
	var filter []string
	if len(types) > 0 {
		filter = fromSourceTypes(types)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_type, source_id, name, url, is_active, updated_at
		FROM crawl_sources
		WHERE is_active AND ($1::text[] IS NULL OR source_type = ANY($1))
		ORDER BY source_type, name;
	`, filter)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlSource
	for rows.Next() {
		var src crawler.CrawlSource
		if err := rows.Scan(&src.ID, &src.Type, &src.SourceID, &src.Name, &src.URL, &src.Active, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// UpdateSource rewrites a source's identifier, URL and active flag.
func (s *Store) UpdateSource(ctx context.Context, src crawler.CrawlSource) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_sources
		SET source_id = $2, url = $3, is_active = $4, updated_at = $5
		WHERE id = $1;
	`, src.ID, src.SourceID, src.URL, src.Active, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpsertSource inserts or updates a source keyed by (type, source id).
func (s *Store) UpsertSource(ctx context.Context, src crawler.CrawlSource) (crawler.CrawlSource, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crawl_sources (id, source_type, source_id, name, url, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_type, source_id) DO UPDATE
		SET name = EXCLUDED.name,
			url = EXCLUDED.url,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id;
	`, src.ID, string(src.Type), src.SourceID, src.Name, src.URL, src.Active, src.UpdatedAt).Scan(&src.ID)
	if err != nil {
		return crawler.CrawlSource{}, fmt.Errorf("upsert source: %w", err)
	}
	return src, nil
}

const postColumns = `id, source_id, academy_id, keyword, title, content, author, post_url,
	view_count, comment_count, posted_at, collected_at, source_type, is_sample`

func scanPost(row pgx.Row) (crawler.Post, error) {
	var p crawler.Post
	err := row.Scan(
		&p.ID, &p.SourceID, &p.AcademyID, &p.Keyword, &p.Title, &p.Content, &p.Author, &p.URL,
		&p.ViewCount, &p.CommentCount, &p.PostedAt, &p.CollectedAt, &p.SourceType, &p.IsSample,
	)
	return p, err
}

// FindPostByURL looks a post up by its unique URL.
func (s *Store) FindPostByURL(ctx context.Context, url string) (crawler.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE post_url = $1;`, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Post{}, crawler.ErrNotFound
		}
		return crawler.Post{}, fmt.Errorf("find post: %w", err)
	}
	return p, nil
}

// InsertPost inserts a new post. A URL collision yields crawler.ErrDuplicate.
func (s *Store) InsertPost(ctx context.Context, p crawler.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`,
		p.ID, p.SourceID, p.AcademyID, p.Keyword, p.Title, p.Content, p.Author, p.URL,
		p.ViewCount, p.CommentCount, p.PostedAt, p.CollectedAt, string(p.SourceType), p.IsSample,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return crawler.ErrDuplicate
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// RaisePostCounts never lowers a stored count.
func (s *Store) RaisePostCounts(ctx context.Context, postID string, views, comments int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET view_count = GREATEST(view_count, $2),
			comment_count = GREATEST(comment_count, $3)
		WHERE id = $1;
	`, postID, views, comments)
	if err != nil {
		return fmt.Errorf("raise post counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// ListPosts returns posts newest first.
func (s *Store) ListPosts(ctx context.Context, f crawler.PostFilter) ([]crawler.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE ($1::text IS NULL OR academy_id = $1)
			AND ($2::text IS NULL OR source_id = $2)
			AND ($3::timestamptz IS NULL OR posted_at >= $3)
			AND ($4::timestamptz IS NULL OR posted_at <= $4)
		ORDER BY posted_at DESC NULLS LAST, collected_at DESC
		LIMIT $5 OFFSET $6;
	`, nullString(f.AcademyID), nullString(f.SourceID), f.Since, f.Until, limitOrDefault(f.Limit), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []crawler.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// CreateJob inserts a job record.
func (s *Store) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_jobs (id, source_id, academy_id, keyword, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, job.ID, job.SourceID, job.AcademyID, job.Keyword, string(job.Status), job.StartedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// FinishJob moves a running job to its terminal state.
func (s *Store) FinishJob(ctx context.Context, job crawler.CrawlJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs
		SET status = $2, posts_found = $3, posts_saved = $4, duplicates_skipped = $5,
			error = $6, completed_at = $7
		WHERE id = $1 AND status = 'running';
	`, job.ID, string(job.Status), job.PostsFound, job.PostsSaved, job.DuplicatesSkipped, job.Error, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrJobFinalized
	}
	return nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f crawler.JobFilter) ([]crawler.CrawlJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, academy_id, keyword, status, posts_found, posts_saved,
			duplicates_skipped, error, started_at, completed_at
		FROM crawl_jobs
		WHERE ($1::text IS NULL OR status = $1)
			AND ($2::text IS NULL OR source_id = $2)
			AND ($3::text IS NULL OR academy_id = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5;
	`, nullString(string(f.Status)), nullString(f.SourceID), nullString(f.AcademyID), limitOrDefault(f.Limit), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlJob
	for rows.Next() {
		var j crawler.CrawlJob
		if err := rows.Scan(
			&j.ID, &j.SourceID, &j.AcademyID, &j.Keyword, &j.Status, &j.PostsFound, &j.PostsSaved,
			&j.DuplicatesSkipped, &j.Error, &j.StartedAt, &j.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// FailStaleJobs fails running jobs that started before cutoff.
func (s *Store) FailStaleJobs(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_jobs
		SET status = 'failed', error = $2, completed_at = $3
		WHERE status = 'running' AND started_at < $1;
	`, cutoff, reason, at)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func limitOrDefault(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}

func toSourceTypes(in []string) []crawler.SourceType {
	out := make([]crawler.SourceType, 0, len(in))
	for _, t := range in {
		out = append(out, crawler.SourceType(t))
	}
	return out
}

func fromSourceTypes(in []crawler.SourceType) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, string(t))
	}
	return out
}

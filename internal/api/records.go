package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

const (
	defaultJobLimit  = 50
	maxJobLimit      = 500
	defaultPostLimit = 100
	maxPostLimit     = 500
	recordsTimeout   = 5 * time.Second
	dateLayout       = "2006-01-02"
)

// RecordStore is the read side of the durable store.
type RecordStore interface {
	ListJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error)
	ListPosts(ctx context.Context, filter crawler.PostFilter) ([]crawler.Post, error)
}

// RecordHandler exposes crawl jobs and posts.
type RecordHandler struct {
	store   RecordStore
	loc     *time.Location
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecordHandler wires the store. Date-only filters are read in loc.
func NewRecordHandler(store RecordStore, loc *time.Location, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RecordHandler{store: store, loc: loc, timeout: recordsTimeout, logger: logger}
}

// ListJobs handles GET /v1/jobs?status=&source_id=&academy_id=&limit=&offset=.
func (h *RecordHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	jobs, err := h.store.ListJobs(ctx, crawler.JobFilter{
		Status:    status,
		SourceID:  strings.TrimSpace(q.Get("source_id")),
		AcademyID: strings.TrimSpace(q.Get("academy_id")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.CrawlJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// ListPosts handles GET /v1/posts?academy_id=&source_id=&from=&to=&limit=&offset=.
// from and to accept YYYY-MM-DD or RFC 3339; a date-only to covers the whole day.
func (h *RecordHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPostLimit, maxPostLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	since, err := h.parseTime(q.Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	until, err := h.parseTime(q.Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	if since != nil && until != nil && until.Before(*since) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	posts, err := h.store.ListPosts(ctx, crawler.PostFilter{
		AcademyID: strings.TrimSpace(q.Get("academy_id")),
		SourceID:  strings.TrimSpace(q.Get("source_id")),
		Since:     since,
		Until:     until,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.logger.Error("list posts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	if posts == nil {
		posts = []crawler.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (h *RecordHandler) parseTime(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, h.loc)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = crawler.EndOfDay(t)
	}
	return &t, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "running":
		return crawler.JobStatusRunning, nil
	case "completed", "success":
		return crawler.JobStatusCompleted, nil
	case "failed", "error":
		return crawler.JobStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

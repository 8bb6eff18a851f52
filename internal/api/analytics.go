package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/analytics"
)

// AnalyticsReader is the cached analytics client.
type AnalyticsReader interface {
	Summary(ctx context.Context) json.RawMessage
	AcademyStats(ctx context.Context) json.RawMessage
	Ranking(ctx context.Context, limit int) json.RawMessage
	Today(ctx context.Context) json.RawMessage
	Academies(ctx context.Context) json.RawMessage
	DailyReport(ctx context.Context, date string) json.RawMessage
	CurrentWeek(ctx context.Context) json.RawMessage
	WeeklySummary(ctx context.Context, year, week int) json.RawMessage
	WeeklyRanking(ctx context.Context, year, week, limit int) json.RawMessage
	WeeklyReport(ctx context.Context, year, week int) json.RawMessage
	Health(ctx context.Context) analytics.Health
	CacheStats() analytics.CacheStats
	Clear()
}

// AnalyticsHandler proxies the analytics service.
type AnalyticsHandler struct {
	client AnalyticsReader
	logger *zap.Logger
}

// NewAnalyticsHandler wires the client.
func NewAnalyticsHandler(client AnalyticsReader, logger *zap.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsHandler{client: client, logger: logger}
}

// Routes returns the analytics sub-router.
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/summary", h.raw(func(r *http.Request) json.RawMessage { return h.client.Summary(r.Context()) }))
	r.Get("/academy-stats", h.raw(func(r *http.Request) json.RawMessage { return h.client.AcademyStats(r.Context()) }))
	r.Get("/today", h.raw(func(r *http.Request) json.RawMessage { return h.client.Today(r.Context()) }))
	r.Get("/academies", h.raw(func(r *http.Request) json.RawMessage { return h.client.Academies(r.Context()) }))
	r.Get("/ranking", h.ranking)
	r.Get("/daily", h.daily)
	r.Get("/weekly", h.weekly)
	r.Get("/weekly/summary", h.weeklySummary)
	r.Get("/weekly/ranking", h.weeklyRanking)
	r.Get("/health", h.health)
	r.Get("/cache", h.cacheStats)
	r.Delete("/cache", h.clearCache)
	return r
}

func (h *AnalyticsHandler) raw(fetch func(*http.Request) json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, fetch(r))
	}
}

// respond writes data, or 502 when the upstream gave nothing.
func (h *AnalyticsHandler) respond(w http.ResponseWriter, data json.RawMessage) {
	if data == nil {
		writeError(w, http.StatusBadGateway, "analytics service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *AnalyticsHandler) ranking(w http.ResponseWriter, r *http.Request) {
	limit, ok := optionalInt(w, r, "limit")
	if !ok {
		return
	}
	h.respond(w, h.client.Ranking(r.Context(), limit))
}

func (h *AnalyticsHandler) daily(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date != "" {
		if _, err := time.Parse(dateLayout, date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
	}
	h.respond(w, h.client.DailyReport(r.Context(), date))
}

// weekly returns the report for year and week, or the current week descriptor
// when neither is given.
func (h *AnalyticsHandler) weekly(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("year") == "" && q.Get("week") == "" {
		h.respond(w, h.client.CurrentWeek(r.Context()))
		return
	}
	year, week, ok := yearWeek(w, r)
	if !ok {
		return
	}
	h.respond(w, h.client.WeeklyReport(r.Context(), year, week))
}

func (h *AnalyticsHandler) weeklySummary(w http.ResponseWriter, r *http.Request) {
	year, week, ok := yearWeek(w, r)
	if !ok {
		return
	}
	h.respond(w, h.client.WeeklySummary(r.Context(), year, week))
}

func (h *AnalyticsHandler) weeklyRanking(w http.ResponseWriter, r *http.Request) {
	year, week, ok := yearWeek(w, r)
	if !ok {
		return
	}
	limit, ok := optionalInt(w, r, "limit")
	if !ok {
		return
	}
	h.respond(w, h.client.WeeklyRanking(r.Context(), year, week, limit))
}

func (h *AnalyticsHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.Health(r.Context()))
}

func (h *AnalyticsHandler) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.client.CacheStats())
}

func (h *AnalyticsHandler) clearCache(w http.ResponseWriter, _ *http.Request) {
	h.client.Clear()
	h.logger.Info("analytics cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func optionalInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func yearWeek(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil || year < 2000 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return 0, 0, false
	}
	week, err := strconv.Atoi(q.Get("week"))
	if err != nil || week < 1 || week > 53 {
		writeError(w, http.StatusBadRequest, "invalid week")
		return 0, 0, false
	}
	return year, week, true
}

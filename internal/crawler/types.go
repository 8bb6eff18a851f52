package crawler

import (
	"net/http"
	"slices"
	"time"
)

// SourceType identifies which kind of community a crawl source points at.
type SourceType string

const (
	// SourceNaverCafe crawls a cafe through both the web page and the search API.
	SourceNaverCafe SourceType = "naver_cafe"
	// SourceNaverCafeAPI crawls a cafe through the search API only.
	SourceNaverCafeAPI SourceType = "naver_cafe_api"
	// SourceNaverCafeWeb crawls a cafe through the integrated search page only.
	SourceNaverCafeWeb SourceType = "naver_cafe_web"
	// SourceDCInside crawls a paginated gallery board.
	SourceDCInside SourceType = "dcinside"
)

// SourceTypes lists every supported source type.
var SourceTypes = []SourceType{SourceNaverCafe, SourceNaverCafeAPI, SourceNaverCafeWeb, SourceDCInside}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return slices.Contains(SourceTypes, t)
}

// IsCafe reports whether t targets a Naver cafe.
func (t SourceType) IsCafe() bool {
	return t == SourceNaverCafe || t == SourceNaverCafeAPI || t == SourceNaverCafeWeb
}

// JobStatus enumerates crawl job states.
type JobStatus string

const (
	// JobStatusRunning marks a job that has started and not yet finished.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted marks a job that finished normally.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed marks a job that aborted with an error.
	JobStatusFailed JobStatus = "failed"
)

// WriteOutcome is the result of writing one candidate post.
type WriteOutcome string

const (
	// OutcomeSaved means a new post was inserted.
	OutcomeSaved WriteOutcome = "saved"
	// OutcomeUpdated means an existing post had its counts raised.
	OutcomeUpdated WriteOutcome = "updated"
	// OutcomeDuplicate means the post already existed with counts at least as high.
	OutcomeDuplicate WriteOutcome = "duplicate"
	// OutcomeError means the write failed.
	OutcomeError WriteOutcome = "error"
)

// UnknownAuthor is stored when a listing shows no author.
const UnknownAuthor = "알 수 없음"

// Academy is a tracked institution.
type Academy struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Keywords    []string     `json:"keywords"`
	SourceTypes []SourceType `json:"sourceTypes"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Accepts reports whether the academy should be crawled on sources of type t.
// An academy with no configured source types accepts all of them.
func (a Academy) Accepts(t SourceType) bool {
	if len(a.SourceTypes) == 0 {
		return true
	}
	return slices.Contains(a.SourceTypes, t)
}

// CrawlSource is a crawl target.
type CrawlSource struct {
	ID        string     `json:"id"`
	Type      SourceType `json:"type"`
	SourceID  string     `json:"sourceId"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Active    bool       `json:"active"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// RawPost is an unpersisted candidate produced by a strategy.
type RawPost struct {
	Title         string
	URL           string
	Author        string
	Content       string
	PostedAtRaw   string
	PostedAt      *time.Time
	ViewCount     int
	CommentCount  int
	Keyword       string
	SourceType    SourceType
	CommunityURL  string
	CommunityName string
	CollectedAt   time.Time
	IsSample      bool
}

// Post is the persisted form of a RawPost.
type Post struct {
	ID           string     `json:"id"`
	SourceID     string     `json:"sourceId"`
	AcademyID    string     `json:"academyId"`
	Keyword      string     `json:"keyword"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	Author       string     `json:"author"`
	URL          string     `json:"url"`
	ViewCount    int        `json:"viewCount"`
	CommentCount int        `json:"commentCount"`
	PostedAt     *time.Time `json:"postedAt,omitempty"`
	CollectedAt  time.Time  `json:"collectedAt"`
	SourceType   SourceType `json:"sourceType"`
	IsSample     bool       `json:"isSample"`
}

// CrawlJob records one (source, keyword, academy) execution.
type CrawlJob struct {
	ID                string     `json:"id"`
	SourceID          string     `json:"sourceId"`
	AcademyID         string     `json:"academyId"`
	Keyword           string     `json:"keyword"`
	Status            JobStatus  `json:"status"`
	PostsFound        int        `json:"postsFound"`
	PostsSaved        int        `json:"postsSaved"`
	DuplicatesSkipped int        `json:"duplicatesSkipped"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// JobCounters are the counts recorded on a completed job.
type JobCounters struct {
	PostsFound        int `json:"postsFound"`
	PostsSaved        int `json:"postsSaved"`
	DuplicatesSkipped int `json:"duplicatesSkipped"`
}

// SearchOptions bound a strategy search.
type SearchOptions struct {
	MaxResults int
	StartDate  *time.Time
	EndDate    *time.Time
}

// Contains reports whether t falls inside the window. The end bound covers
// the whole calendar day of EndDate.
func (o SearchOptions) Contains(t time.Time) bool {
	if o.StartDate != nil && t.Before(*o.StartDate) {
		return false
	}
	if o.EndDate != nil && t.After(EndOfDay(*o.EndDate)) {
		return false
	}
	return true
}

// Bounded reports whether either window bound is set.
func (o SearchOptions) Bounded() bool {
	return o.StartDate != nil || o.EndDate != nil
}

// EndOfDay returns the last instant of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AcademyResult summarizes one academy inside a sweep.
type AcademyResult struct {
	Academy         string `json:"academy"`
	TotalJobs       int    `json:"totalJobs"`
	Completed       int    `json:"completed"`
	TotalPostsSaved int    `json:"totalPostsSaved"`
	Error           string `json:"error,omitempty"`
}

// SweepResult summarizes a full sweep or backfill.
type SweepResult struct {
	TotalAcademies int             `json:"totalAcademies"`
	Results        []AcademyResult `json:"results"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	AcademyID string
	SourceID  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status    JobStatus
	SourceID  string
	AcademyID string
	Limit     int
	Offset    int
}

// FetchRequest describes a single fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// WaitSelector is honoured by rendering fetchers only.
	WaitSelector string
	// Pace, when set, is waited on with PaceKey before every retry so a
	// retried request keeps the source's courtesy spacing. The caller gates
	// the first attempt.
	Pace    Limiter
	PaceKey string
}

// FetchResponse captures the fetch result.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

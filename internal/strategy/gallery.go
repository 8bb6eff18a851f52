package strategy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/normalize"
)

// DefaultGalleryPath is assumed when a source URL carries no board path.
const DefaultGalleryPath = "mini/board"

var (
	galleryPathPattern = regexp.MustCompile(`dcinside\.com/(.+?)/lists`)
	galleryIDPattern   = regexp.MustCompile(`[?&]id=([^&#]+)`)
)

// GalleryConfig configures the paginated gallery walk.
type GalleryConfig struct {
	BaseURL  string
	MaxPages int
}

// Gallery walks a gallery's keyword search pages newest first and stops at
// the first row older than the window start.
type Gallery struct {
	cfg       GalleryConfig
	fetcher   crawler.Fetcher
	limiter   crawler.Limiter
	clock     crawler.Clock
	snapshots *Snapshotter
	logger    *zap.Logger
}

// NewGallery builds the gallery strategy. limiter should space requests by
// the courtesy delay.
func NewGallery(
	cfg GalleryConfig,
	fetcher crawler.Fetcher,
	limiter crawler.Limiter,
	clock crawler.Clock,
	snapshots *Snapshotter,
	logger *zap.Logger,
) *Gallery {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gallery{
		cfg:       cfg,
		fetcher:   fetcher,
		limiter:   limiter,
		clock:     clock,
		snapshots: snapshots,
		logger:    logger.Named("strategy.gallery"),
	}
}

// Name implements Strategy.
func (s *Gallery) Name() string { return "gallery" }

// GalleryPath returns the board path of a gallery list URL.
func GalleryPath(u string) string {
	if m := galleryPathPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return DefaultGalleryPath
}

// GalleryID returns the source's gallery identifier, preferring the stored one.
func GalleryID(src crawler.CrawlSource) string {
	if src.SourceID != "" {
		return src.SourceID
	}
	if m := galleryIDPattern.FindStringSubmatch(src.URL); m != nil {
		return m[1]
	}
	return ""
}

// ListURL builds the list URL for a board path and gallery id.
func ListURL(baseURL, path, id string) string {
	return fmt.Sprintf("%s/%s/lists/?id=%s", strings.TrimRight(baseURL, "/"), path, url.QueryEscape(id))
}

// PageURL builds the keyword search URL for one page.
func (s *Gallery) PageURL(src crawler.CrawlSource, keyword string, page int) string {
	return fmt.Sprintf("%s&s_type=search_subject_memo&s_keyword=%s&page=%d",
		ListURL(s.cfg.BaseURL, GalleryPath(src.URL), GalleryID(src)), url.QueryEscape(keyword), page)
}

// Search implements Strategy. A fetch failure ends the walk and keeps what
// earlier pages produced.
func (s *Gallery) Search(ctx context.Context, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) ([]crawler.RawPost, error) {
	log := s.logger.With(zap.String("source", src.ID), zap.String("keyword", keyword))
	var posts []crawler.RawPost
	for page := 1; page <= s.cfg.MaxPages; page++ {
		if err := s.limiter.Wait(ctx, src.ID); err != nil {
			return nil, fmt.Errorf("wait for gallery slot: %w", err)
		}
		resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
			URL:     s.PageURL(src, keyword, page),
			Headers: webHeaders(),
			Pace:    s.limiter,
			PaceKey: src.ID,
		})
		if err != nil {
			if cerr := canceled(ctx); cerr != nil {
				return nil, cerr
			}
			log.Warn("gallery page fetch failed", zap.Int("page", page), zap.Error(err))
			break
		}
		if resp.StatusCode != http.StatusOK {
			log.Warn("gallery page returned non-200", zap.Int("page", page), zap.Int("status", resp.StatusCode))
			break
		}
		s.snapshots.Save(ctx, src, resp.Body)

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			log.Warn("parse gallery page", zap.Int("page", page), zap.Error(err))
			break
		}
		result := s.parsePage(doc, src, keyword, opts)
		posts = append(posts, result.posts...)
		log.Debug("gallery page scanned",
			zap.Int("page", page),
			zap.Int("rows", result.rows),
			zap.Int("kept", len(result.posts)),
		)
		if result.rows == 0 || result.reachedOlder {
			break
		}
	}
	return posts, nil
}

type pageResult struct {
	posts        []crawler.RawPost
	rows         int
	reachedOlder bool
}

// parsePage reads the rows of one list page. Rows are newest first, so the
// first row before the window start ends the scan.
func (s *Gallery) parsePage(doc *goquery.Document, src crawler.CrawlSource, keyword string, opts crawler.SearchOptions) pageResult {
	var out pageResult
	now := s.clock.Now()
	doc.Find(".gall_list .ub-content").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if row.HasClass("ub-notice") || row.Find(".icon_notice").Length() > 0 {
			return true
		}
		link := row.Find(".gall_tit a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		out.rows++

		dateRaw := galleryDate(row.Find(".gall_date").First())
		posted := normalize.ParseDatePtr(dateRaw, now)
		if posted == nil {
			return true
		}
		if opts.StartDate != nil && posted.Before(*opts.StartDate) {
			out.reachedOlder = true
			return false
		}
		if !opts.Contains(*posted) {
			return true
		}

		href, _ := link.Attr("href")
		author := firstText(row, ".gall_writer .nickname, .gall_writer em")
		if author == "" {
			author = crawler.UnknownAuthor
		}
		out.posts = append(out.posts, crawler.RawPost{
			Title:         title,
			URL:           resolveURL(s.cfg.BaseURL, href),
			Author:        author,
			PostedAtRaw:   dateRaw,
			PostedAt:      posted,
			ViewCount:     normalize.ParseCount(firstText(row, ".gall_count")),
			CommentCount:  normalize.ParseCount(firstText(row, ".reply_numbox .reply_num")),
			Keyword:       keyword,
			SourceType:    src.Type,
			CommunityURL:  src.URL,
			CommunityName: src.Name,
			CollectedAt:   now,
		})
		return true
	})
	return out
}

// galleryDate prefers the full timestamp in the title attribute over the
// abbreviated cell text.
func galleryDate(cell *goquery.Selection) string {
	if full, ok := cell.Attr("title"); ok && strings.TrimSpace(full) != "" {
		return strings.TrimSpace(full)
	}
	return strings.TrimSpace(cell.Text())
}

package strategy

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/normalize"
)

const cafeHost = "https://cafe.naver.com"

// domSelectors are the row selectors tried by the DOM fallback. Page markup
// changes without notice, so the one matching the most titled rows wins.
var domSelectors = []string{
	".article-board tbody tr",
	".board-list tbody tr",
	".list-box tr",
	"table tbody tr",
	".search-list tr",
	`[class*="article"] tr`,
	".ArticleItem",
	".list_item",
	"article",
	".result-list > div",
	`[class*="search"] [class*="item"]`,
}

const (
	mobileRowSelector = ".ArticleItem, .list_item, article"

	domTitleSelector    = `a.tit, a[class*="title"], h3 a, .title a, .article-title a, .article`
	domAuthorSelector   = `.name, .writer, [class*="author"], .p-nick a, .td_name`
	domDateSelector     = `.date, .time, [class*="date"], .td_date`
	domViewSelector     = `.view, [class*="view"], .td_view`
	domCommentSelector  = `.cmt, .comment, [class*="comment"], .reply-count`
	articleQueryMarker  = "?art="
	searchBasicNodeType = "searchBasic"
)

// extraction accumulates page results for one search. Posts without a
// parseable date are dropped on this path.
type extraction struct {
	src     crawler.CrawlSource
	keyword string
	cafeID  string
	opts    crawler.SearchOptions
	now     time.Time
	limit   int
	posts   []crawler.RawPost
	seen    map[string]struct{}
}

func (e *extraction) full() bool {
	return len(e.posts) >= e.limit
}

// add applies the origin, date and duplicate filters.
func (e *extraction) add(p crawler.RawPost) {
	if p.Title == "" || e.full() {
		return
	}
	if origin := CafeIDFromURL(p.URL); e.cafeID != "" && origin != "" && origin != e.cafeID {
		return
	}
	if p.PostedAt == nil || !e.opts.Contains(*p.PostedAt) {
		return
	}
	if e.seen == nil {
		e.seen = make(map[string]struct{})
	}
	if _, dup := e.seen[p.URL]; dup {
		return
	}
	e.seen[p.URL] = struct{}{}
	e.posts = append(e.posts, p)
}

// fromPayload collects search result nodes that link to a cafe article.
func (e *extraction) fromPayload(payload any) {
	root := payload
	if m, ok := payload.(map[string]any); ok {
		if body, ok := m["body"]; ok {
			root = body
		}
	}
	walk(root, func(node map[string]any) bool {
		props, ok := node["props"].(map[string]any)
		if !ok {
			return true
		}
		if str(props, "type") != searchBasicNodeType {
			return true
		}
		href := str(props, "titleHref")
		if !strings.Contains(href, "cafe.naver.com") {
			return true
		}
		profile, _ := props["sourceProfile"].(map[string]any)
		dateRaw := str(profile, "createdDate")
		community := str(profile, "titleHref")
		if community == "" {
			community = e.src.URL
		}
		e.add(crawler.RawPost{
			Title:         normalize.StripHTML(str(props, "title")),
			URL:           cleanArticleURL(href),
			Author:        crawler.UnknownAuthor,
			Content:       normalize.StripHTML(str(props, "content")),
			PostedAtRaw:   dateRaw,
			PostedAt:      normalize.ParseDatePtr(dateRaw, e.now),
			Keyword:       e.keyword,
			SourceType:    e.src.Type,
			CommunityURL:  community,
			CommunityName: str(profile, "title"),
			CollectedAt:   e.now,
		})
		return !e.full()
	})
}

// fromDOM reads rows matched by the best row selector.
func (e *extraction) fromDOM(doc *goquery.Document) {
	selector, _ := BestSelector(doc, domSelectors)
	if selector == "" {
		return
	}
	doc.Find(selector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		title := row.Find(domTitleSelector).First()
		href, _ := title.Attr("href")
		dateRaw := firstText(row, domDateSelector)
		author := firstText(row, domAuthorSelector)
		if author == "" {
			author = crawler.UnknownAuthor
		}
		e.add(crawler.RawPost{
			Title:        strings.TrimSpace(title.Text()),
			URL:          resolveURL(cafeHost, href),
			Author:       author,
			PostedAtRaw:  dateRaw,
			PostedAt:     normalize.ParseDatePtr(dateRaw, e.now),
			ViewCount:    normalize.ParseCount(firstText(row, domViewSelector)),
			CommentCount: normalize.ParseCount(firstText(row, domCommentSelector)),
			Keyword:      e.keyword,
			SourceType:   e.src.Type,
			CommunityURL: e.src.URL,
			CollectedAt:  e.now,
		})
		return !e.full()
	})
}

// BestSelector returns the candidate matching the most rows that contain a
// titled link, and that count. Ties keep the earlier candidate.
func BestSelector(doc *goquery.Document, candidates []string) (string, int) {
	best, bestCount := "", 0
	for _, sel := range candidates {
		n := 0
		doc.Find(sel).Each(func(_ int, row *goquery.Selection) {
			if strings.TrimSpace(row.Find(domTitleSelector).First().Text()) != "" {
				n++
			}
		})
		if n > bestCount {
			best, bestCount = sel, n
		}
	}
	return best, bestCount
}

func firstText(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// cleanArticleURL drops the tracking token search links append.
func cleanArticleURL(u string) string {
	if i := strings.Index(u, articleQueryMarker); i >= 0 {
		return u[:i]
	}
	return u
}

// resolveURL makes href absolute against base.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

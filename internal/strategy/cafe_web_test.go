package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/storage/memory"
)

const bootstrapPage = `<html><head>
<script>var x = 1;</script>
<script>
entry.bootstrap(document.getElementById("fdr-1"), {"body":{"props":{"children":[
  {"templateId":"a","props":{"type":"searchBasic","title":"<mark>ABC어학원</mark> 후기","titleHref":"https://cafe.naver.com/m2school/101?art=tok","content":"수업 &amp; 강사","sourceProfile":{"title":"엠투스쿨","titleHref":"https://cafe.naver.com/m2school","createdDate":"2026.02.08."}}},
  {"templateId":"b","props":{"type":"searchBasic","title":"다른 카페 글","titleHref":"https://cafe.naver.com/other/5","sourceProfile":{"createdDate":"2026.02.08."}}},
  {"templateId":"c","props":{"type":"searchBasic","title":"날짜 없음","titleHref":"https://cafe.naver.com/m2school/102","sourceProfile":{}}},
  {"templateId":"d","props":{"type":"searchBasic","title":"블로그","titleHref":"https://blog.naver.com/x/1","sourceProfile":{"createdDate":"2026.02.08."}}},
  {"templateId":"e","props":{"type":"group","children":[
    {"props":{"type":"searchBasic","title":"중첩 글","titleHref":"https://cafe.naver.com/m2school/103","sourceProfile":{"createdDate":"3시간 전"}}}
  ]}},
  {"templateId":"f","props":{"type":"searchBasic","title":"오래된 글","titleHref":"https://cafe.naver.com/m2school/104","sourceProfile":{"createdDate":"2025.12.01."}}}
]}}});
</script></head><body></body></html>`

const domPage = `<html><body>
<ul class="result-list"><div><a class="title" href="/m2school/7">무시</a></div></ul>
<ul>
<li class="list_item"><a class="tit" href="/m2school/201">모바일 글 1</a><span class="name">작성자1</span><span class="date">2026.02.08.</span><span class="view">조회 1,234</span><span class="cmt">[3]</span></li>
<li class="list_item"><a class="tit" href="https://cafe.naver.com/m2school/202">모바일 글 2</a><span class="date">5시간 전</span></li>
<li class="list_item"><span class="date">2026.02.08.</span></li>
</ul></body></html>`

var webSource = crawler.CrawlSource{
	ID: "src-web", Type: crawler.SourceNaverCafeWeb, SourceID: "m2school", URL: "https://cafe.naver.com/m2school",
}

func newTestWeb(fetcher, renderer crawler.Fetcher, snaps *Snapshotter) *CafeWeb {
	return NewCafeWeb(CafeWebConfig{SearchURL: "https://search.test/search.naver", MobileURL: "https://m.cafe.test/"},
		fetcher, renderer, noLimit{}, fixedClock{testNow}, snaps, nil)
}

func TestCafeWebPayloadExtraction(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{handler: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		assert.Contains(t, req.URL, "cafe_url=m2school")
		assert.Contains(t, req.URL, "where=article")
		assert.Equal(t, "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7", req.Headers.Get("Accept-Language"))
		return ok(bootstrapPage)
	}}
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)

	posts, err := newTestWeb(f, nil, nil).Search(context.Background(), webSource, "ABC어학원",
		crawler.SearchOptions{MaxResults: 20, StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, posts, 2)

	first := posts[0]
	assert.Equal(t, "ABC어학원 후기", first.Title)
	assert.Equal(t, "https://cafe.naver.com/m2school/101", first.URL)
	assert.Equal(t, "수업 & 강사", first.Content)
	assert.Equal(t, "엠투스쿨", first.CommunityName)
	assert.Equal(t, "2026.02.08.", first.PostedAtRaw)
	require.NotNil(t, first.PostedAt)
	assert.Equal(t, 8, first.PostedAt.Day())

	assert.Equal(t, "중첩 글", posts[1].Title)
	assert.True(t, testNow.Add(-3*time.Hour).Equal(*posts[1].PostedAt))
}

func TestCafeWebPayloadRespectsLimit(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) { return ok(bootstrapPage) }}
	posts, err := newTestWeb(f, nil, nil).Search(context.Background(), webSource, "kw", crawler.SearchOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestCafeWebDOMFallback(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) { return ok(domPage) }}
	renderer := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{}, errors.New("should not render")
	}}

	posts, err := newTestWeb(f, renderer, nil).Search(context.Background(), webSource, "kw", crawler.SearchOptions{MaxResults: 20})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "https://cafe.naver.com/m2school/201", posts[0].URL)
	assert.Equal(t, "작성자1", posts[0].Author)
	assert.Equal(t, 1234, posts[0].ViewCount)
	assert.Equal(t, 3, posts[0].CommentCount)
	assert.Equal(t, crawler.UnknownAuthor, posts[1].Author)
	assert.Empty(t, renderer.urls())
}

func TestCafeWebRendersMobileWhenPageIsEmpty(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) { return ok("<html><body></body></html>") }}
	renderer := &fakeFetcher{handler: func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		assert.Equal(t, mobileRowSelector, req.WaitSelector)
		return ok(domPage)
	}}

	posts, err := newTestWeb(f, renderer, nil).Search(context.Background(), webSource, "ABC 어학원", crawler.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	require.Len(t, renderer.urls(), 1)
	assert.Equal(t, "https://m.cafe.test/ca-fe/web/cafes/m2school/search/articles?query=ABC+%EC%96%B4%ED%95%99%EC%9B%90", renderer.urls()[0])
}

func TestCafeWebDegradesAndSnapshots(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	snaps := NewSnapshotter(blobs, testHasher{}, fixedClock{testNow}, nil)

	failing := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) { return status(503) }}
	posts, err := newTestWeb(failing, nil, snaps).Search(context.Background(), webSource, "kw", crawler.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, blobs.Paths())

	f := &fakeFetcher{handler: func(crawler.FetchRequest) (crawler.FetchResponse, error) { return ok(bootstrapPage) }}
	_, err = newTestWeb(f, nil, snaps).Search(context.Background(), webSource, "kw", crawler.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"naver_cafe_web/m2school/20260209/digest.html"}, blobs.Paths())
}

func TestBestSelectorPicksMostTitledRows(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(domPage))
	require.NoError(t, err)
	sel, n := BestSelector(doc, domSelectors)
	assert.Equal(t, ".list_item", sel)
	assert.Equal(t, 2, n)

	empty, err := goquery.NewDocumentFromReader(strings.NewReader("<p>nothing</p>"))
	require.NoError(t, err)
	sel, n = BestSelector(empty, domSelectors)
	assert.Empty(t, sel)
	assert.Zero(t, n)
}

func TestWalkStopsEarly(t *testing.T) {
	t.Parallel()

	tree := map[string]any{"a": []any{map[string]any{"n": 1.0}, map[string]any{"n": 2.0}}, "b": map[string]any{"n": 3.0}}
	var seen []float64
	walk(tree, func(node map[string]any) bool {
		if n, ok := node["n"].(float64); ok {
			seen = append(seen, n)
			return n < 2
		}
		return true
	})
	assert.Equal(t, []float64{1, 2}, seen)
}

type testHasher struct{}

func (testHasher) Hash([]byte) (string, error) { return "digest", nil }

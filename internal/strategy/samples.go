package strategy

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

const (
	maxSamples     = 5
	sampleAuthor   = "샘플사용자"
	sampleDaysBack = 30
)

// Samples produces clearly marked placeholder posts for cafe sources when
// every strategy comes back empty.
type Samples struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock crawler.Clock
}

// NewSamples returns a generator seeded from seed.
func NewSamples(clock crawler.Clock, seed uint64) *Samples {
	return &Samples{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), clock: clock}
}

// Generate returns min(limit, 5) sample posts. Non-cafe sources get none.
func (g *Samples) Generate(src crawler.CrawlSource, keyword string, limit int) []crawler.RawPost {
	if !src.Type.IsCafe() {
		return nil
	}
	n := min(limit, maxSamples)
	if n <= 0 {
		return nil
	}
	base := src.URL
	if base == "" {
		base = cafeHost
	}
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]crawler.RawPost, 0, n)
	for i := 1; i <= n; i++ {
		posted := now.AddDate(0, 0, -g.rng.IntN(sampleDaysBack))
		out = append(out, crawler.RawPost{
			Title:         fmt.Sprintf("[샘플] %s 관련 네이버카페 게시글 %d", keyword, i),
			URL:           fmt.Sprintf("%s?sample_%s_%d", base, keyword, i),
			Author:        sampleAuthor,
			Content:       keyword + "에 대한 샘플 게시글입니다.",
			PostedAtRaw:   posted.Format("2006.01.02."),
			PostedAt:      ptr(posted),
			ViewCount:     50 + g.rng.IntN(500),
			CommentCount:  g.rng.IntN(20),
			Keyword:       keyword,
			SourceType:    src.Type,
			CommunityURL:  src.URL,
			CommunityName: CafeID(src),
			CollectedAt:   now,
			IsSample:      true,
		})
	}
	return out
}

func ptr(t time.Time) *time.Time { return &t }

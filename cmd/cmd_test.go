package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/orchestrator"
	"github.com/JakeFAU/academy-insight-crawler/internal/storage/memory"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
)

type fakeSweeps struct {
	backfill *orchestrator.BackfillOptions
}

func (f *fakeSweeps) CrawlAll(context.Context) (crawler.SweepResult, error) {
	return crawler.SweepResult{TotalAcademies: 2, Results: []crawler.AcademyResult{{Academy: "A", TotalJobs: 3, Completed: 3}}}, nil
}

func (f *fakeSweeps) Backfill(_ context.Context, opts orchestrator.BackfillOptions) (crawler.SweepResult, error) {
	f.backfill = &opts
	return crawler.SweepResult{TotalAcademies: 1}, nil
}

func (f *fakeSweeps) DetectGalleries(context.Context) ([]strategy.Detection, error) {
	return []strategy.Detection{{Source: crawler.CrawlSource{SourceID: "gongsi"}, Outcome: strategy.DetectRemapped}}, nil
}

type fakeApp struct {
	sweeps *fakeSweeps
	store  *memory.Store
	closed bool
	ran    bool
}

func (a *fakeApp) Run(context.Context) error {
	a.ran = true
	return nil
}

func (a *fakeApp) Sweeps() Sweeps           { return a.sweeps }
func (a *fakeApp) Store() crawler.Store     { return a.store }
func (a *fakeApp) Logger() *zap.Logger      { return zap.NewNop() }
func (a *fakeApp) Location() *time.Location { return time.UTC }
func (a *fakeApp) Close(context.Context)    { a.closed = true }

// runCommand swaps the app factory, so these tests do not run in parallel.
func runCommand(t *testing.T, args ...string) (*fakeApp, string, error) {
	t.Helper()
	app := &fakeApp{sweeps: &fakeSweeps{}, store: memory.NewStore()}
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return app, out.String(), err
}

func TestSweepPrintsSummary(t *testing.T) {
	app, out, err := runCommand(t, "sweep")
	require.NoError(t, err)
	assert.True(t, app.closed)

	var result crawler.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.TotalAcademies)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 3, result.Results[0].Completed)
}

func TestServeRunsApp(t *testing.T) {
	app, _, err := runCommand(t, "serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
}

func TestBackfillFlags(t *testing.T) {
	app, _, err := runCommand(t, "backfill", "--from", "2026-01-01", "--to", "2026-01-31",
		"--type", "dcinside", "--type", "naver_cafe_api", "--max-results", "50")
	require.NoError(t, err)

	opts := app.sweeps.backfill
	require.NotNil(t, opts)
	assert.Equal(t, []crawler.SourceType{crawler.SourceDCInside, crawler.SourceNaverCafeAPI}, opts.Types)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *opts.StartDate)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), *opts.EndDate)
	assert.Equal(t, 50, opts.MaxResults)
}

func TestBackfillRejectsBadInput(t *testing.T) {
	_, _, err := runCommand(t, "backfill")
	require.Error(t, err)

	_, _, err = runCommand(t, "backfill", "--from", "01/01/2026")
	require.ErrorContains(t, err, "--from")

	_, _, err = runCommand(t, "backfill", "--from", "2026-01-01", "--type", "twitter")
	require.ErrorContains(t, err, "--type")
}

func TestDetectGalleriesPrintsOutcomes(t *testing.T) {
	_, out, err := runCommand(t, "detect-galleries")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "remapped"`)
}

const seedYAML = `
academies:
  - name: 공단기
    slug: gongdangi
    keywords: [공단기, 공무원단기학교]
    source_types: [naver_cafe, dcinside]
  - name: 해커스공무원
    slug: hackers
    active: false
sources:
  - type: naver_cafe
    url: https://cafe.naver.com/gongdream
    name: 공드림
  - type: dcinside
    url: https://gall.dcinside.com/mini/board/lists/?id=gongsisaeng
`

func TestSeedUpsertsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	app, out, err := runCommand(t, "seed", "--file", path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"academies":2,"sources":2}`, out)

	ctx := context.Background()
	seed, err := loadSeed(path)
	require.NoError(t, err)
	_, _, err = applySeed(ctx, app.store, stubIDs{}, time.Now(), seed)
	require.NoError(t, err)

	academies, err := app.store.ListActiveAcademies(ctx)
	require.NoError(t, err)
	require.Len(t, academies, 1)
	assert.Equal(t, "gongdangi", academies[0].Slug)
	assert.Equal(t, []crawler.SourceType{crawler.SourceNaverCafe, crawler.SourceDCInside}, academies[0].SourceTypes)

	sources, err := app.store.ListActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	ids := map[crawler.SourceType]string{}
	for _, s := range sources {
		ids[s.Type] = s.SourceID
	}
	assert.Equal(t, "gongdream", ids[crawler.SourceNaverCafe])
	assert.Equal(t, "gongsisaeng", ids[crawler.SourceDCInside])
}

type stubIDs struct{}

func (stubIDs) NewID() (string, error) { return "fresh-" + time.Now().Format("150405.000000000"), nil }

func TestSeedValidation(t *testing.T) {
	t.Parallel()

	_, err := seedAcademy{Name: "A"}.toAcademy(stubIDs{}, time.Now())
	require.Error(t, err)
	_, err = seedAcademy{Name: "A", Slug: "a", SourceTypes: []string{"band"}}.toAcademy(stubIDs{}, time.Now())
	require.ErrorIs(t, err, strategy.ErrUnknownSourceType)

	a, err := seedAcademy{Name: "A", Slug: "a"}.toAcademy(stubIDs{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, a.Keywords)
	assert.True(t, a.Active)

	_, err = seedSource{Type: "naver_cafe", URL: "https://example.com"}.toSource(stubIDs{}, time.Now())
	require.Error(t, err)

	_, err = loadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read seed file")
}

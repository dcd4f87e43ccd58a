package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rkoval/trendigest/internal/config"
	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/pkg/source"
	"github.com/rkoval/trendigest/pkg/summary"
)

type fakeGen struct {
	calls atomic.Int32
	err   error
}

func (g *fakeGen) Model() string { return "test-model" }
func (g *fakeGen) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return "generated text", nil
}

type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d.UTC()
}

// fakeTrending serves a trending page with n ranked repos for any window.
func fakeTrending(t *testing.T, n int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, `<article class="Box-row">
<h2><a href="/owner/repo%02d">owner/repo%02d</a></h2>
<p>Repo %02d description</p>
<span itemprop="programmingLanguage">Go</span>
<a href="/owner/repo%02d/stargazers">1,000</a>
</article>`, i, i, i, i)
		}
		b.WriteString("</body></html>")
		fmt.Fprint(w, b.String())
	}))
}

// fakeFirebase serves a topstories feed of n childless stories.
func fakeFirebase(t *testing.T, n int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/topstories.json" {
			ids := make([]int64, n)
			for i := range ids {
				ids[i] = int64(1000 + i)
			}
			json.NewEncoder(w).Encode(ids)
			return
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    id,
			"type":  "story",
			"title": fmt.Sprintf("Story %d", id),
			"by":    "author",
			"score": 100,
			"time":  1769900000,
		})
	}))
}

func newTestPipeline(t *testing.T, ghURL, hnURL string, gen summary.Generator) (*Pipeline, *store.SQLiteStore, *config.Config) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cfg.GitHub.BaseURL = ghURL
	cfg.GitHub.DailyFetchLimit = 5
	cfg.GitHub.WeeklyFetchLimit = 5
	cfg.GitHub.MonthlyFetchLimit = 5
	cfg.HackerNews.BaseURL = hnURL
	cfg.HackerNews.FetchWorkers = 4
	cfg.Backfill.DocsDir = filepath.Join(t.TempDir(), "no-docs")

	p := New(cfg, s, gen, nil)
	p.summaries = summary.NewManager(s, gen, cfg.Summary.FreshnessDays, cfg.HackerNews.CommentSampleSize, nil).
		WithHTTPClient(&http.Client{Transport: offlineTransport{}})
	return p, s, cfg
}

func TestRunIngestsAllSources(t *testing.T) {
	gh := fakeTrending(t, 5)
	defer gh.Close()
	hn := fakeFirebase(t, 3)
	defer hn.Close()

	gen := &fakeGen{}
	p, s, _ := newTestPipeline(t, gh.URL, hn.URL, gen)
	ctx := context.Background()
	runDay := day("2026-02-01")

	report, err := p.Run(ctx, runDay)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, window := range source.AllWindows() {
		if report.GHCounts[window] != 5 {
			t.Errorf("%s count: got %d, want 5", window, report.GHCounts[window])
		}
	}
	if report.HNCount != 3 {
		t.Errorf("hn count: got %d, want 3", report.HNCount)
	}
	if len(report.RepoViews) != 5 || len(report.StoryViews) != 3 {
		t.Errorf("views: got %d repos, %d stories", len(report.RepoViews), len(report.StoryViews))
	}

	rv := report.RepoViews[0]
	if rv.Summary != "generated text" || rv.SummaryStale {
		t.Errorf("repo summary: %+v", rv)
	}
	if rv.StreakDays != 1 || rv.SeenBefore {
		t.Errorf("first-day metrics: %+v", rv)
	}
	sv := report.StoryViews[0]
	if sv.Summary != "generated text" {
		t.Errorf("story summary: %+v", sv)
	}
	if sv.DiscussionURL != fmt.Sprintf("https://news.ycombinator.com/item?id=%d", sv.ItemID) {
		t.Errorf("discussion url: %q", sv.DiscussionURL)
	}

	// The run lock is released when the run completes.
	if err := s.AcquireRunLock(ctx); err != nil {
		t.Errorf("lock still held after run: %v", err)
	}
}

func TestRunAbortsWhenDailyWindowEmpty(t *testing.T) {
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer gh.Close()
	hn := fakeFirebase(t, 1)
	defer hn.Close()

	p, s, _ := newTestPipeline(t, gh.URL, hn.URL, &fakeGen{})
	ctx := context.Background()

	if _, err := p.Run(ctx, day("2026-02-01")); err == nil {
		t.Fatal("expected error when the daily window is empty")
	}

	// Abort still releases the lock.
	if err := s.AcquireRunLock(ctx); err != nil {
		t.Errorf("lock still held after abort: %v", err)
	}
}

func TestRunHNFailureIsNonFatal(t *testing.T) {
	gh := fakeTrending(t, 2)
	defer gh.Close()
	hn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hn.Close()

	p, _, _ := newTestPipeline(t, gh.URL, hn.URL, &fakeGen{})

	report, err := p.Run(context.Background(), day("2026-02-01"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.HNCount != 0 {
		t.Errorf("hn count: got %d, want 0", report.HNCount)
	}
	if len(report.RepoViews) != 2 {
		t.Errorf("repo views: got %d, want 2", len(report.RepoViews))
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	gh := fakeTrending(t, 1)
	defer gh.Close()
	hn := fakeFirebase(t, 1)
	defer hn.Close()

	p, s, _ := newTestPipeline(t, gh.URL, hn.URL, &fakeGen{})
	ctx := context.Background()

	if err := s.AcquireRunLock(ctx); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	_, err := p.Run(ctx, day("2026-02-01"))
	if !errors.Is(err, store.ErrRunLockHeld) {
		t.Fatalf("got %v, want ErrRunLockHeld", err)
	}
}

func seedGHRun(t *testing.T, s *store.SQLiteStore, d time.Time, n int) {
	t.Helper()
	repos := make([]source.Repo, n)
	for i := range repos {
		repos[i] = source.Repo{Rank: i + 1, FullName: fmt.Sprintf("owner/repo%02d", i)}
	}
	if _, err := s.CreateOrReplaceGHRun(context.Background(), d, source.WindowDaily, repos, "live"); err != nil {
		t.Fatalf("seed gh run: %v", err)
	}
}

func TestRepoViewsAppliesRenderLimit(t *testing.T) {
	gh := fakeTrending(t, 1)
	defer gh.Close()
	hn := fakeFirebase(t, 1)
	defer hn.Close()

	p, s, cfg := newTestPipeline(t, gh.URL, hn.URL, &fakeGen{})
	cfg.GitHub.DailyRenderLimit = 10
	seedGHRun(t, s, day("2026-02-01"), 25)

	views, err := p.RepoViews(context.Background(), day("2026-02-01"), false)
	if err != nil {
		t.Fatalf("RepoViews failed: %v", err)
	}
	if len(views) != 10 {
		t.Errorf("views: got %d, want 10 (render limit)", len(views))
	}
	// Storage keeps the full run regardless of the render limit.
	entries, err := s.GHEntriesForDay(context.Background(), day("2026-02-01"))
	if err != nil {
		t.Fatalf("GHEntriesForDay failed: %v", err)
	}
	if len(entries) != 25 {
		t.Errorf("stored entries: got %d, want 25", len(entries))
	}
}

func TestRepoViewsStreakAcrossDays(t *testing.T) {
	gh := fakeTrending(t, 1)
	defer gh.Close()
	hn := fakeFirebase(t, 1)
	defer hn.Close()

	p, s, _ := newTestPipeline(t, gh.URL, hn.URL, &fakeGen{})
	seedGHRun(t, s, day("2026-02-01"), 2)
	seedGHRun(t, s, day("2026-02-02"), 1)

	views, err := p.RepoViews(context.Background(), day("2026-02-02"), false)
	if err != nil {
		t.Fatalf("RepoViews failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views: got %d, want 1", len(views))
	}
	v := views[0]
	if v.StreakDays != 2 || !v.SeenBefore {
		t.Errorf("streak metrics: %+v", v)
	}
	if !v.EarliestSeen.Equal(day("2026-02-01")) {
		t.Errorf("earliest seen: %v", v.EarliestSeen)
	}
}

func TestStoryViewsWithoutGenerationUsesCacheOnly(t *testing.T) {
	gh := fakeTrending(t, 1)
	defer gh.Close()
	hn := fakeFirebase(t, 1)
	defer hn.Close()

	gen := &fakeGen{}
	p, s, _ := newTestPipeline(t, gh.URL, hn.URL, gen)
	ctx := context.Background()
	runDay := day("2026-02-01")

	stories := []source.Story{{Rank: 1, ID: 55, Title: "Cached story", URL: "https://example.com/x"}}
	if _, err := s.CreateOrReplaceHNRun(ctx, runDay, stories, "live"); err != nil {
		t.Fatalf("seed hn run: %v", err)
	}
	if err := s.PutHNSummary(ctx, 55, "test-model", summary.HNPromptVersion, "cached story summary", runDay); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	views, err := p.StoryViews(ctx, runDay, false)
	if err != nil {
		t.Fatalf("StoryViews failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views: got %d, want 1", len(views))
	}
	if views[0].Summary != "cached story summary" {
		t.Errorf("summary: got %q", views[0].Summary)
	}
	if views[0].Domain != "example.com" {
		t.Errorf("domain: got %q", views[0].Domain)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("generator ran %d times with generate=false", gen.calls.Load())
	}
}

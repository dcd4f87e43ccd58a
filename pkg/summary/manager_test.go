package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/pkg/source"
)

// fakeGen counts completions and optionally blocks on a gate or fails.
type fakeGen struct {
	calls atomic.Int32
	text  string
	err   error
	gate  chan struct{}
}

func (g *fakeGen) Model() string { return "test-model" }

func (g *fakeGen) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return "", g.err
	}
	if g.text != "" {
		return g.text, nil
	}
	return "generated summary", nil
}

// offlineTransport fails every request so README lookups resolve to "".
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

// newTestManager wires a Manager over a real store with README fetching
// disabled. It seeds one GH repo and one HN story and returns their ids.
func newTestManager(t *testing.T, gen Generator, freshnessDays int) (*Manager, store.Store, int64, store.HNEntry) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	repos := []source.Repo{{Rank: 1, FullName: "owner/repo", Description: "A tool"}}
	if _, err := s.CreateOrReplaceGHRun(ctx, day("2026-02-01"), source.WindowDaily, repos, "live"); err != nil {
		t.Fatalf("seed gh run: %v", err)
	}
	repoID, err := s.GHRepoID(ctx, "owner/repo")
	if err != nil || repoID == 0 {
		t.Fatalf("seed repo id: id=%d err=%v", repoID, err)
	}

	stories := []source.Story{{Rank: 1, ID: 900, Title: "A story", URL: "https://example.com", Author: "alice", Score: 100, CommentCount: 50}}
	if _, err := s.CreateOrReplaceHNRun(ctx, day("2026-02-01"), stories, "live"); err != nil {
		t.Fatalf("seed hn run: %v", err)
	}
	entries, err := s.HNEntriesForDay(ctx, day("2026-02-01"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("seed hn entry: %v", err)
	}

	m := NewManager(s, gen, freshnessDays, 16, nil).
		WithHTTPClient(&http.Client{Transport: offlineTransport{}})
	return m, s, repoID, entries[0]
}

func TestRepoSummaryGeneratesAndCaches(t *testing.T) {
	gen := &fakeGen{text: "fresh summary"}
	m, s, repoID, _ := newTestManager(t, gen, 60)
	ctx := context.Background()
	runDay := day("2026-02-01")

	res, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay)
	if err != nil {
		t.Fatalf("RepoSummary failed: %v", err)
	}
	if res.Text != "fresh summary" || res.Stale {
		t.Errorf("unexpected result: %+v", res)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls: got %d, want 1", gen.calls.Load())
	}

	// The summary is persisted under the generator's model and version.
	latest, err := s.LatestGHSummary(ctx, repoID, "test-model", GHPromptVersion)
	if err != nil || latest == nil {
		t.Fatalf("LatestGHSummary: %+v err=%v", latest, err)
	}
	if latest.Text != "fresh summary" {
		t.Errorf("stored text: got %q", latest.Text)
	}

	// Second request the same day reuses the cache.
	if _, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay); err != nil {
		t.Fatalf("second RepoSummary failed: %v", err)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls after reuse: got %d, want 1", gen.calls.Load())
	}
}

func TestRepoSummaryFreshnessWindow(t *testing.T) {
	const window = 7
	cases := []struct {
		name       string
		ageDays    int
		wantRegens int32
	}{
		{"well inside window", 1, 0},
		{"last fresh day", window - 1, 0},
		{"age equals window", window, 1},
		{"past window", window + 20, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGen{text: "regenerated"}
			m, s, repoID, _ := newTestManager(t, gen, window)
			ctx := context.Background()
			runDay := day("2026-02-01")

			generatedAt := runDay.AddDate(0, 0, -tc.ageDays).Add(10 * time.Hour)
			if err := s.PutGHSummary(ctx, repoID, "test-model", GHPromptVersion, "cached", "", generatedAt); err != nil {
				t.Fatalf("seed summary: %v", err)
			}

			res, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay)
			if err != nil {
				t.Fatalf("RepoSummary failed: %v", err)
			}
			if gen.calls.Load() != tc.wantRegens {
				t.Errorf("generator calls: got %d, want %d", gen.calls.Load(), tc.wantRegens)
			}
			wantText := "cached"
			if tc.wantRegens > 0 {
				wantText = "regenerated"
			}
			if res.Text != wantText {
				t.Errorf("text: got %q, want %q", res.Text, wantText)
			}
		})
	}
}

func TestRepoSummaryFailureKeepsStaleText(t *testing.T) {
	gen := &fakeGen{err: errors.New("model unavailable")}
	m, s, repoID, _ := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	staleAt := runDay.AddDate(0, 0, -30)
	if err := s.PutGHSummary(ctx, repoID, "test-model", GHPromptVersion, "old but usable", "", staleAt); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	res, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay)
	if err != nil {
		t.Fatalf("RepoSummary failed: %v", err)
	}
	if res.Text != "old but usable" || !res.Stale {
		t.Errorf("expected stale carry-over, got %+v", res)
	}

	// The failed attempt must not write a new row.
	latest, err := s.LatestGHSummary(ctx, repoID, "test-model", GHPromptVersion)
	if err != nil || latest == nil {
		t.Fatalf("LatestGHSummary: %v", err)
	}
	if !latest.GeneratedAt.Equal(staleAt) {
		t.Errorf("generation timestamp changed: %v", latest.GeneratedAt)
	}
}

func TestRepoSummaryFailureWithoutHistory(t *testing.T) {
	gen := &fakeGen{err: errors.New("model unavailable")}
	m, _, repoID, _ := newTestManager(t, gen, 7)

	res, err := m.RepoSummary(context.Background(), repoID, "owner/repo", "A tool", day("2026-02-01"))
	if err != nil {
		t.Fatalf("RepoSummary failed: %v", err)
	}
	if res.Text != "" || !res.Stale {
		t.Errorf("expected empty stale result, got %+v", res)
	}
}

func TestRepoSummaryCoalescesConcurrentRequests(t *testing.T) {
	gen := &fakeGen{text: "shared", gate: make(chan struct{})}
	m, _, repoID, _ := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	const callers = 4
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	results := make([]Result, callers)

	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			res, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay)
			if err != nil {
				t.Errorf("RepoSummary failed: %v", err)
			}
			results[i] = res
		}(i)
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond) // let all callers reach the flight
	close(gen.gate)
	done.Wait()

	if got := gen.calls.Load(); got != 1 {
		t.Errorf("generator calls: got %d, want 1 (coalesced)", got)
	}
	for i, res := range results {
		if res.Text != "shared" {
			t.Errorf("caller %d: got %q", i, res.Text)
		}
	}
}

func TestDistinctKeysRegenerateInParallel(t *testing.T) {
	// The generator reports when two completions overlap in time. If keys
	// serialized behind one lock this would never happen.
	overlap := make(chan struct{})
	var active atomic.Int32
	var once sync.Once
	gen := genFunc{
		model: "test-model",
		complete: func(ctx context.Context, prompt string) (string, error) {
			if active.Add(1) == 2 {
				once.Do(func() { close(overlap) })
			}
			defer active.Add(-1)
			select {
			case <-overlap:
			case <-time.After(2 * time.Second):
			}
			return "done", nil
		},
	}

	m, _, repoID, entry := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := m.RepoSummary(ctx, repoID, "owner/repo", "A tool", runDay); err != nil {
			t.Errorf("RepoSummary failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := m.StorySummary(ctx, entry, runDay); err != nil {
			t.Errorf("StorySummary failed: %v", err)
		}
	}()
	wg.Wait()

	select {
	case <-overlap:
	default:
		t.Error("repo and story regenerations never overlapped")
	}
}

// genFunc adapts a closure to the Generator interface.
type genFunc struct {
	model    string
	complete func(ctx context.Context, prompt string) (string, error)
}

func (g genFunc) Model() string { return g.model }
func (g genFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, prompt)
}

func TestStorySummaryGeneratesAndCaches(t *testing.T) {
	gen := &fakeGen{text: "story summary"}
	m, s, _, entry := newTestManager(t, gen, 60)
	ctx := context.Background()
	runDay := day("2026-02-01")

	res, err := m.StorySummary(ctx, entry, runDay)
	if err != nil {
		t.Fatalf("StorySummary failed: %v", err)
	}
	if res.Text != "story summary" || res.Stale {
		t.Errorf("unexpected result: %+v", res)
	}

	latest, err := s.LatestHNSummary(ctx, entry.ItemID, "test-model", HNPromptVersion)
	if err != nil || latest == nil {
		t.Fatalf("LatestHNSummary: %v", err)
	}

	if _, err := m.StorySummary(ctx, entry, runDay); err != nil {
		t.Fatalf("second StorySummary failed: %v", err)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls: got %d, want 1", gen.calls.Load())
	}
}

func sampleOf(n int) []source.Comment {
	out := make([]source.Comment, n)
	for i := range out {
		out[i] = source.Comment{
			ID:      int64(i + 1),
			By:      fmt.Sprintf("user%d", i),
			Depth:   1,
			RootPos: i + 1,
			Text:    "a comment with enough words to matter",
		}
	}
	return out
}

func TestCommentAnalysisSamplesLazily(t *testing.T) {
	gen := &fakeGen{text: "analysis"}
	m, s, _, entry := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	// Fresh cached analysis: the sampler must never run.
	if err := s.PutHNCommentAnalysis(ctx, entry.ItemID, "test-model", CommentAnalysisPromptVersion,
		16, 12, 80, "cached analysis", runDay.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	sampled := false
	res, err := m.CommentAnalysis(ctx, entry, runDay, func(ctx context.Context) (int, []source.Comment, error) {
		sampled = true
		return 80, sampleOf(12), nil
	})
	if err != nil {
		t.Fatalf("CommentAnalysis failed: %v", err)
	}
	if sampled {
		t.Error("sampler ran despite a fresh cached analysis")
	}
	if res.Text != "cached analysis" || res.Sampled != 12 || res.Total != 80 || res.Stale {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCommentAnalysisRegeneratesWhenExpired(t *testing.T) {
	gen := &fakeGen{text: "new analysis"}
	m, s, _, entry := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	if err := s.PutHNCommentAnalysis(ctx, entry.ItemID, "test-model", CommentAnalysisPromptVersion,
		16, 12, 80, "expired analysis", runDay.AddDate(0, 0, -30)); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	res, err := m.CommentAnalysis(ctx, entry, runDay, func(ctx context.Context) (int, []source.Comment, error) {
		return 120, sampleOf(16), nil
	})
	if err != nil {
		t.Fatalf("CommentAnalysis failed: %v", err)
	}
	if res.Text != "new analysis" || res.Sampled != 16 || res.Total != 120 || res.Stale {
		t.Errorf("unexpected result: %+v", res)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("generator calls: got %d, want 1", gen.calls.Load())
	}
}

func TestCommentAnalysisEmptySample(t *testing.T) {
	gen := &fakeGen{text: "should not run"}
	m, _, _, entry := newTestManager(t, gen, 7)

	res, err := m.CommentAnalysis(context.Background(), entry, day("2026-02-01"),
		func(ctx context.Context) (int, []source.Comment, error) {
			return 0, nil, nil
		})
	if err != nil {
		t.Fatalf("CommentAnalysis failed: %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Error("generator ran with an empty sample")
	}
	if res.Text != "" || !res.Stale {
		t.Errorf("expected empty stale result, got %+v", res)
	}
}

func TestCommentAnalysisFailureKeepsStale(t *testing.T) {
	gen := &fakeGen{err: errors.New("model unavailable")}
	m, s, _, entry := newTestManager(t, gen, 7)
	ctx := context.Background()
	runDay := day("2026-02-01")

	if err := s.PutHNCommentAnalysis(ctx, entry.ItemID, "test-model", CommentAnalysisPromptVersion,
		16, 10, 60, "stale analysis", runDay.AddDate(0, 0, -30)); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	res, err := m.CommentAnalysis(ctx, entry, runDay, func(ctx context.Context) (int, []source.Comment, error) {
		return 60, sampleOf(10), nil
	})
	if err != nil {
		t.Fatalf("CommentAnalysis failed: %v", err)
	}
	if res.Text != "stale analysis" || !res.Stale || res.Sampled != 10 || res.Total != 60 {
		t.Errorf("expected stale carry-over, got %+v", res)
	}
}

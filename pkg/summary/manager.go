package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/internal/timeutil"
	"github.com/rkoval/trendigest/pkg/source"
)

// Result is a summary body plus whether it is a stale carry-over from a
// failed regeneration. Stale output is surfaced, not suppressed; the
// renderer labels it.
type Result struct {
	Text  string
	Stale bool
}

// AnalysisResult is a discussion-analysis body with its sample coverage.
type AnalysisResult struct {
	Text    string
	Sampled int
	Total   int
	Stale   bool
}

// SampleFunc lazily produces the comment sample for a story. It is only
// invoked when the cached analysis is missing or expired.
type SampleFunc func(ctx context.Context) (total int, sample []source.Comment, err error)

// Manager decides whether a cached narrative is fresh enough to reuse and
// coalesces concurrent regenerations per cache key. Unrelated keys
// regenerate in parallel.
type Manager struct {
	store         store.Store
	gen           Generator
	freshnessDays int
	sampleSize    int
	readmeClient  *http.Client
	flight        singleflight.Group
	log           *slog.Logger
}

// NewManager creates a cache manager. freshnessDays below 1 falls back to 60.
func NewManager(s store.Store, gen Generator, freshnessDays, sampleSize int, log *slog.Logger) *Manager {
	if freshnessDays < 1 {
		freshnessDays = 60
	}
	if sampleSize < 1 {
		sampleSize = 16
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:         s,
		gen:           gen,
		freshnessDays: freshnessDays,
		sampleSize:    sampleSize,
		readmeClient:  &http.Client{Timeout: 12 * time.Second},
		log:           log,
	}
}

// ModelName exposes the generator's model identifier for cache selection.
func (m *Manager) ModelName() string { return m.gen.Model() }

// WithHTTPClient overrides the client used for README lookups, for callers
// that need a custom transport. Returns the manager for chaining.
func (m *Manager) WithHTTPClient(c *http.Client) *Manager {
	if c != nil {
		m.readmeClient = c
	}
	return m
}

// fresh reports whether a summary generated at generatedAt may be reused on
// runDay. Age equal to the window regenerates.
func (m *Manager) fresh(generatedAt, runDay time.Time) bool {
	return timeutil.DaysBetween(generatedAt, runDay) < m.freshnessDays
}

// RepoSummary returns the cached summary for a repository or regenerates it.
// Generator failure is recoverable: the stale text is returned with
// Stale=true. Store failures are not recoverable and abort the run.
func (m *Manager) RepoSummary(ctx context.Context, repoID int64, fullName, description string, runDay time.Time) (Result, error) {
	key := fmt.Sprintf("gh:%d:%s", repoID, GHPromptVersion)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		latest, err := m.store.LatestGHSummary(ctx, repoID, m.gen.Model(), GHPromptVersion)
		if err != nil {
			return Result{}, err
		}
		if latest != nil && m.fresh(latest.GeneratedAt, runDay) {
			return Result{Text: latest.Text}, nil
		}

		readme := fetchReadme(ctx, m.readmeClient, fullName)
		text, genErr := m.gen.Complete(ctx, repoPrompt(fullName, description, readme))
		if genErr != nil || text == "" {
			if genErr != nil {
				m.log.Warn("repo summary generation failed", "repo", fullName, "error", genErr)
			}
			return staleResult(latest), nil
		}

		readmeHash := ""
		if readme != "" {
			sum := sha256.Sum256([]byte(readme))
			readmeHash = hex.EncodeToString(sum[:])
		}
		if err := m.store.PutGHSummary(ctx, repoID, m.gen.Model(), GHPromptVersion, text, readmeHash, time.Now().UTC()); err != nil {
			return Result{}, err
		}
		return Result{Text: text}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("repo summary %s: %w", fullName, err)
	}
	return v.(Result), nil
}

// StorySummary returns the cached summary for a Hacker News story or
// regenerates it.
func (m *Manager) StorySummary(ctx context.Context, entry store.HNEntry, runDay time.Time) (Result, error) {
	key := fmt.Sprintf("hn:%d:%s", entry.ItemID, HNPromptVersion)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		latest, err := m.store.LatestHNSummary(ctx, entry.ItemID, m.gen.Model(), HNPromptVersion)
		if err != nil {
			return Result{}, err
		}
		if latest != nil && m.fresh(latest.GeneratedAt, runDay) {
			return Result{Text: latest.Text}, nil
		}

		text, genErr := m.gen.Complete(ctx, storyPrompt(
			entry.Title, entry.URL, entry.Author, entry.Score, entry.CommentCount,
			source.CleanHTMLText(entry.Text)))
		if genErr != nil || text == "" {
			if genErr != nil {
				m.log.Warn("story summary generation failed", "item", entry.ItemID, "error", genErr)
			}
			return staleResult(latest), nil
		}

		if err := m.store.PutHNSummary(ctx, entry.ItemID, m.gen.Model(), HNPromptVersion, text, time.Now().UTC()); err != nil {
			return Result{}, err
		}
		return Result{Text: text}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("story summary %d: %w", entry.ItemID, err)
	}
	return v.(Result), nil
}

// CommentAnalysis returns the cached discussion analysis for a story or
// regenerates it from a freshly sampled subtree. The sample function runs
// only on regeneration. A story with no eligible comments yields a zero
// AnalysisResult and no error.
func (m *Manager) CommentAnalysis(ctx context.Context, entry store.HNEntry, runDay time.Time, sampleFn SampleFunc) (AnalysisResult, error) {
	key := fmt.Sprintf("hn-comments:%d:%s:%d", entry.ItemID, CommentAnalysisPromptVersion, m.sampleSize)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		latest, err := m.store.LatestHNCommentAnalysis(ctx, entry.ItemID, m.gen.Model(), CommentAnalysisPromptVersion, m.sampleSize)
		if err != nil {
			return AnalysisResult{}, err
		}
		if latest != nil && m.fresh(latest.GeneratedAt, runDay) {
			return analysisFrom(latest, false), nil
		}

		total, sample, sampleErr := sampleFn(ctx)
		if sampleErr != nil || len(sample) == 0 {
			if sampleErr != nil {
				m.log.Warn("comment sampling failed", "item", entry.ItemID, "error", sampleErr)
			}
			return analysisFrom(latest, true), nil
		}

		url := entry.URL
		if url == "" {
			url = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", entry.ItemID)
		}
		text, genErr := m.gen.Complete(ctx, commentPrompt(entry.Title, url, total, sample))
		if genErr != nil || text == "" {
			if genErr != nil {
				m.log.Warn("comment analysis generation failed", "item", entry.ItemID, "error", genErr)
			}
			return analysisFrom(latest, true), nil
		}

		if err := m.store.PutHNCommentAnalysis(ctx, entry.ItemID, m.gen.Model(), CommentAnalysisPromptVersion,
			m.sampleSize, len(sample), total, text, time.Now().UTC()); err != nil {
			return AnalysisResult{}, err
		}
		return AnalysisResult{Text: text, Sampled: len(sample), Total: total}, nil
	})
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("comment analysis %d: %w", entry.ItemID, err)
	}
	return v.(AnalysisResult), nil
}

func staleResult(latest *store.Summary) Result {
	if latest == nil {
		return Result{Stale: true}
	}
	return Result{Text: latest.Text, Stale: true}
}

func analysisFrom(latest *store.CommentAnalysis, stale bool) AnalysisResult {
	if latest == nil {
		return AnalysisResult{Stale: stale}
	}
	return AnalysisResult{
		Text:    latest.Text,
		Sampled: latest.SampledComments,
		Total:   latest.TotalComments,
		Stale:   stale,
	}
}

// Package digest orchestrates one ingestion run and builds the typed view
// model consumed by the renderer. The renderer is a pure function of these
// views; storage rows never leak past this package.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkoval/trendigest/internal/config"
	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/pkg/backfill"
	"github.com/rkoval/trendigest/pkg/metrics"
	"github.com/rkoval/trendigest/pkg/source"
	"github.com/rkoval/trendigest/pkg/summary"
)

// RepoView is the render-facing row for one trending repository.
type RepoView struct {
	Rank         int       `json:"rank"`
	FullName     string    `json:"full_name"`
	URL          string    `json:"url"`
	Description  string    `json:"description"`
	Language     string    `json:"language"`
	Stars        string    `json:"stars"`
	PeriodStars  string    `json:"period_stars"`
	EarliestSeen time.Time `json:"earliest_seen"`
	StreakDays   int       `json:"streak_days"`
	SeenBefore   bool      `json:"seen_before"`
	Summary      string    `json:"summary"`
	SummaryStale bool      `json:"summary_stale"`
}

// StoryView is the render-facing row for one Hacker News story.
type StoryView struct {
	Rank            int       `json:"rank"`
	ItemID          int64     `json:"item_id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	DiscussionURL   string    `json:"discussion_url"`
	Domain          string    `json:"domain"`
	Author          string    `json:"author"`
	Score           int       `json:"score"`
	CommentCount    int       `json:"comment_count"`
	EarliestSeen    time.Time `json:"earliest_seen"`
	StreakDays      int       `json:"streak_days"`
	SeenBefore      bool      `json:"seen_before"`
	Summary         string    `json:"summary"`
	SummaryStale    bool      `json:"summary_stale"`
	CommentAnalysis string    `json:"comment_analysis"`
	AnalysisSampled int       `json:"comment_analysis_sampled"`
	AnalysisTotal   int       `json:"comment_analysis_total"`
	AnalysisStale   bool      `json:"comment_analysis_stale"`
}

// RunReport summarizes what one run ingested.
type RunReport struct {
	Day        time.Time
	GHCounts   map[source.Window]int
	HNCount    int
	RepoViews  []RepoView
	StoryViews []StoryView
}

// Pipeline wires the adapters, store, metrics, and summary cache into one
// batch run.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	gh        *source.GitHub
	hn        *source.HackerNews
	summaries *summary.Manager
	importer  *backfill.Importer
	log       *slog.Logger
}

// New builds a Pipeline from configuration.
func New(cfg *config.Config, s store.Store, gen summary.Generator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	gh := source.NewGitHub(cfg.GitHub.BaseURL, map[source.Window]int{
		source.WindowDaily:   cfg.GitHub.DailyFetchLimit,
		source.WindowWeekly:  cfg.GitHub.WeeklyFetchLimit,
		source.WindowMonthly: cfg.GitHub.MonthlyFetchLimit,
	})
	hn := source.NewHackerNews(cfg.HackerNews.BaseURL, cfg.HackerNews.MaxItems, cfg.HackerNews.FetchWorkers)
	return &Pipeline{
		cfg:       cfg,
		store:     s,
		gh:        gh,
		hn:        hn,
		summaries: summary.NewManager(s, gen, cfg.Summary.FreshnessDays, cfg.HackerNews.CommentSampleSize, log),
		importer:  backfill.New(s, cfg.Backfill.DocsDir, gen.Model(), log),
		log:       log,
	}
}

// Run executes one full ingestion for the given day: lock, one-time
// backfill, source fetches, transactional run storage, then view building
// with metrics and summaries. Fatal errors abort with no partial save;
// there is no retry within a run.
func (p *Pipeline) Run(ctx context.Context, day time.Time) (*RunReport, error) {
	if err := p.store.AcquireRunLock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.store.ReleaseRunLock(context.WithoutCancel(ctx)); err != nil {
			p.log.Error("release run lock", "error", err)
		}
	}()

	if err := p.importer.Run(ctx); err != nil {
		return nil, fmt.Errorf("backfill: %w", err)
	}

	report := &RunReport{Day: day, GHCounts: make(map[source.Window]int)}

	// Each window is an independent fetch; a failure poisons only that
	// window's run for the day.
	for _, window := range source.AllWindows() {
		repos, err := p.gh.Fetch(ctx, window)
		if err != nil {
			p.log.Error("github fetch failed", "window", window, "error", err)
			repos = nil
		}
		if _, err := p.store.CreateOrReplaceGHRun(ctx, day, window, repos, "live"); err != nil {
			return nil, fmt.Errorf("store gh %s run: %w", window, err)
		}
		report.GHCounts[window] = len(repos)
		p.log.Info("stored github run", "window", window, "repos", len(repos))
	}

	if report.GHCounts[source.WindowDaily] == 0 {
		return nil, fmt.Errorf("daily github fetch returned no repos")
	}

	stories, err := p.hn.TopStories(ctx)
	if err != nil {
		p.log.Error("hackernews fetch failed", "error", err)
		stories = nil
	}
	if _, err := p.store.CreateOrReplaceHNRun(ctx, day, stories, "live"); err != nil {
		return nil, fmt.Errorf("store hn run: %w", err)
	}
	report.HNCount = len(stories)
	p.log.Info("stored hackernews run", "stories", len(stories))

	if report.RepoViews, err = p.RepoViews(ctx, day, true); err != nil {
		return nil, err
	}
	if report.StoryViews, err = p.StoryViews(ctx, day, true); err != nil {
		return nil, err
	}
	return report, nil
}

// RepoViews builds render rows for one stored day. Storage keeps every
// fetched entry; the daily render limit is applied here, not at ingestion.
// With generate=false only already-cached summary text is used.
func (p *Pipeline) RepoViews(ctx context.Context, day time.Time, generate bool) ([]RepoView, error) {
	entries, err := p.store.GHEntriesForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if limit := p.cfg.GitHub.DailyRenderLimit; limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	views := make([]RepoView, 0, len(entries))
	for _, e := range entries {
		dates, err := p.store.GHStreakDates(ctx, e.RepoID, day)
		if err != nil {
			return nil, err
		}
		stats := metrics.Compute(dates, day)

		view := RepoView{
			Rank:         e.Rank,
			FullName:     e.FullName,
			URL:          e.URL,
			Description:  e.Description,
			Language:     e.Language,
			Stars:        e.Stars,
			PeriodStars:  e.PeriodStars,
			EarliestSeen: stats.EarliestSeen,
			StreakDays:   stats.StreakDays,
			SeenBefore:   stats.SeenBefore,
		}

		if generate {
			res, err := p.summaries.RepoSummary(ctx, e.RepoID, e.FullName, e.Description, day)
			if err != nil {
				return nil, err
			}
			view.Summary, view.SummaryStale = res.Text, res.Stale
		} else if latest, err := p.store.LatestGHSummary(ctx, e.RepoID, p.summaries.ModelName(), summary.GHPromptVersion); err != nil {
			return nil, err
		} else if latest != nil {
			view.Summary = latest.Text
		}

		views = append(views, view)
	}
	return views, nil
}

// StoryViews is the Hacker News counterpart of RepoViews.
func (p *Pipeline) StoryViews(ctx context.Context, day time.Time, generate bool) ([]StoryView, error) {
	entries, err := p.store.HNEntriesForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if limit := p.cfg.HackerNews.DailyRenderLimit; limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	bounds := source.CommentBounds{
		MaxNodes:     p.cfg.HackerNews.CommentMaxNodes,
		MaxDepth:     p.cfg.HackerNews.CommentMaxDepth,
		MaxPerBranch: p.cfg.HackerNews.CommentMaxPerBranch,
		MinTextLen:   p.cfg.HackerNews.CommentMinTextLen,
		SampleSize:   p.cfg.HackerNews.CommentSampleSize,
	}

	views := make([]StoryView, 0, len(entries))
	for _, e := range entries {
		dates, err := p.store.HNStreakDates(ctx, e.ItemID, day)
		if err != nil {
			return nil, err
		}
		stats := metrics.Compute(dates, day)

		view := StoryView{
			Rank:          e.Rank,
			ItemID:        e.ItemID,
			Title:         e.Title,
			URL:           e.URL,
			DiscussionURL: fmt.Sprintf("https://news.ycombinator.com/item?id=%d", e.ItemID),
			Domain:        source.Domain(e.URL),
			Author:        e.Author,
			Score:         e.Score,
			CommentCount:  e.CommentCount,
			EarliestSeen:  stats.EarliestSeen,
			StreakDays:    stats.StreakDays,
			SeenBefore:    stats.SeenBefore,
		}

		if generate {
			res, err := p.summaries.StorySummary(ctx, e, day)
			if err != nil {
				return nil, err
			}
			view.Summary, view.SummaryStale = res.Text, res.Stale

			analysis, err := p.summaries.CommentAnalysis(ctx, e, day, func(ctx context.Context) (int, []source.Comment, error) {
				return p.hn.SampleComments(ctx, e.ItemID, e.CommentCount, bounds)
			})
			if err != nil {
				return nil, err
			}
			view.CommentAnalysis = analysis.Text
			view.AnalysisSampled = analysis.Sampled
			view.AnalysisTotal = analysis.Total
			view.AnalysisStale = analysis.Stale
		} else {
			if latest, err := p.store.LatestHNSummary(ctx, e.ItemID, p.summaries.ModelName(), summary.HNPromptVersion); err != nil {
				return nil, err
			} else if latest != nil {
				view.Summary = latest.Text
			}
			if latest, err := p.store.LatestHNCommentAnalysis(ctx, e.ItemID, p.summaries.ModelName(), summary.CommentAnalysisPromptVersion, p.cfg.HackerNews.CommentSampleSize); err != nil {
				return nil, err
			} else if latest != nil {
				view.CommentAnalysis = latest.Text
				view.AnalysisSampled = latest.SampledComments
				view.AnalysisTotal = latest.TotalComments
			}
		}

		views = append(views, view)
	}
	return views, nil
}

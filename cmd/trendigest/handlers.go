package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/rkoval/trendigest/internal/config"
	"github.com/rkoval/trendigest/internal/scheduler"
	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/internal/timeutil"
	"github.com/rkoval/trendigest/pkg/backfill"
	"github.com/rkoval/trendigest/pkg/digest"
	"github.com/rkoval/trendigest/pkg/notify"
	"github.com/rkoval/trendigest/pkg/server"
	"github.com/rkoval/trendigest/pkg/summary"
)

func loadConfig() (*config.Config, error) {
	godotenv.Load()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return timeutil.Today(), nil
	}
	day, err := timeutil.Parse(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return day, nil
}

func newNotifyManager(cfg *config.Config) *notify.Manager {
	var notifiers []notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.SlackWebhookURL))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewManager(notifiers)
}

// ingestOnce runs the pipeline for one day and broadcasts the result to any
// configured notification destinations. Notification failure never fails
// the run.
func ingestOnce(ctx context.Context, cfg *config.Config, pipeline *digest.Pipeline, notifier *notify.Manager, log *slog.Logger, day time.Time) error {
	report, err := pipeline.Run(ctx, day)
	if err != nil {
		return fmt.Errorf("run digest: %w", err)
	}

	log.Info("run complete",
		"day", timeutil.Format(report.Day),
		"gh_daily", report.GHCounts["daily"],
		"gh_weekly", report.GHCounts["weekly"],
		"gh_monthly", report.GHCounts["monthly"],
		"hn", report.HNCount,
	)

	if notifier.HasNotifiers() {
		n := &notify.Notification{
			Day:        timeutil.Format(report.Day),
			RepoCount:  report.GHCounts["daily"],
			StoryCount: report.HNCount,
		}
		for _, v := range report.RepoViews {
			if len(n.Highlights) >= 3 {
				break
			}
			n.Highlights = append(n.Highlights, notify.Link{Title: v.FullName, URL: v.URL, Label: "github"})
		}
		for _, v := range report.StoryViews {
			if len(n.Highlights) >= 5 {
				break
			}
			n.Highlights = append(n.Highlights, notify.Link{Title: v.Title, URL: v.DiscussionURL, Label: "hackernews"})
		}
		if err := notifier.Broadcast(ctx, n); err != nil {
			log.Warn("notification delivery failed", "error", err)
		}
	}
	return nil
}

func runIngest(dayFlag string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	day, err := parseDay(dayFlag)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gen := summary.NewLLMGenerator(cfg.Summary.Provider, cfg.Summary.Model, cfg.Summary.APIKey, cfg.Summary.BaseURL)
	pipeline := digest.New(cfg, db, gen, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return ingestOnce(ctx, cfg, pipeline, newNotifyManager(cfg), log, day)
}

func runSchedule() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gen := summary.NewLLMGenerator(cfg.Summary.Provider, cfg.Summary.Model, cfg.Summary.APIKey, cfg.Summary.BaseURL)
	pipeline := digest.New(cfg, db, gen, log)
	notifier := newNotifyManager(cfg)

	sched, err := scheduler.New(func(ctx context.Context, day time.Time) error {
		return ingestOnce(ctx, cfg, pipeline, notifier, log, day)
	}, cfg.Schedule.AtUTC, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(portFlag int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gen := summary.NewLLMGenerator(cfg.Summary.Provider, cfg.Summary.Model, cfg.Summary.APIKey, cfg.Summary.BaseURL)
	pipeline := digest.New(cfg, db, gen, log)

	port := portFlag
	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.New(db, pipeline, port, log).ListenAndServe(ctx)
}

func runBackfill() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	importer := backfill.New(db, cfg.Backfill.DocsDir, cfg.Summary.Model, log)
	if err := importer.Run(context.Background()); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}

func runExport(dayFlag string, generate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	day, err := parseDay(dayFlag)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	gen := summary.NewLLMGenerator(cfg.Summary.Provider, cfg.Summary.Model, cfg.Summary.APIKey, cfg.Summary.BaseURL)
	pipeline := digest.New(cfg, db, gen, log)

	ctx := context.Background()
	repoViews, err := pipeline.RepoViews(ctx, day, generate)
	if err != nil {
		return fmt.Errorf("build repo views: %w", err)
	}
	storyViews, err := pipeline.StoryViews(ctx, day, generate)
	if err != nil {
		return fmt.Errorf("build story views: %w", err)
	}

	out := struct {
		Day     string             `json:"day"`
		GitHub  []digest.RepoView  `json:"github"`
		Stories []digest.StoryView `json:"hackernews"`
	}{
		Day:     timeutil.Format(day),
		GitHub:  repoViews,
		Stories: storyViews,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runDates() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	ghDates, err := db.GHDailyDates(ctx)
	if err != nil {
		return fmt.Errorf("list gh dates: %w", err)
	}
	hnDates, err := db.HNDailyDates(ctx)
	if err != nil {
		return fmt.Errorf("list hn dates: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tDAYS\tLATEST")
	fmt.Fprintf(w, "github\t%d\t%s\n", len(ghDates), latestOf(ghDates))
	fmt.Fprintf(w, "hackernews\t%d\t%s\n", len(hnDates), latestOf(hnDates))
	return w.Flush()
}

func latestOf(dates []time.Time) string {
	if len(dates) == 0 {
		return "-"
	}
	return timeutil.Format(dates[0])
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.GitHub.DailyFetchLimit != 10 || cfg.GitHub.WeeklyFetchLimit != 25 || cfg.GitHub.MonthlyFetchLimit != 100 {
		t.Errorf("github fetch limits: %+v", cfg.GitHub)
	}
	if cfg.HackerNews.FetchWorkers != 20 {
		t.Errorf("fetch workers: got %d, want 20", cfg.HackerNews.FetchWorkers)
	}
	if cfg.HackerNews.DailyRenderLimit != 10 {
		t.Errorf("hn render limit: got %d, want 10", cfg.HackerNews.DailyRenderLimit)
	}
	if cfg.HackerNews.CommentMaxNodes != 300 || cfg.HackerNews.CommentMaxDepth != 6 ||
		cfg.HackerNews.CommentMaxPerBranch != 4 || cfg.HackerNews.CommentMinTextLen != 40 {
		t.Errorf("comment bounds: %+v", cfg.HackerNews)
	}
	if cfg.HackerNews.CommentSampleSize != 16 {
		t.Errorf("sample size: got %d, want 16", cfg.HackerNews.CommentSampleSize)
	}
	if cfg.Summary.FreshnessDays != DefaultFreshnessDays {
		t.Errorf("freshness: got %d, want %d", cfg.Summary.FreshnessDays, DefaultFreshnessDays)
	}
	if cfg.Summary.Model != "gpt-5-mini" || cfg.Summary.Provider != "openai" {
		t.Errorf("summary defaults: %+v", cfg.Summary)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  path: /var/lib/trendigest.db
github:
  daily_render_limit: 7
summary:
  provider: anthropic
  model: claude-sonnet-4-5
  freshness_days: 14
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/var/lib/trendigest.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.GitHub.DailyRenderLimit != 7 {
		t.Errorf("render limit: got %d, want 7", cfg.GitHub.DailyRenderLimit)
	}
	if cfg.Summary.Provider != "anthropic" || cfg.Summary.FreshnessDays != 14 {
		t.Errorf("summary: %+v", cfg.Summary)
	}
	// Untouched sections keep their defaults.
	if cfg.HackerNews.FetchWorkers != 20 {
		t.Errorf("fetch workers: got %d, want 20", cfg.HackerNews.FetchWorkers)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "./trendigest.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRENDIGEST_DB_PATH", "/tmp/env.db")
	t.Setenv("HN_FETCH_WORKERS", "8")
	t.Setenv("SUMMARY_REFRESH_DAYS", "30")
	t.Setenv("HN_COMMENT_SAMPLE_SIZE", "not-a-number")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.HackerNews.FetchWorkers != 8 {
		t.Errorf("workers: got %d, want 8", cfg.HackerNews.FetchWorkers)
	}
	if cfg.Summary.FreshnessDays != 30 {
		t.Errorf("freshness: got %d, want 30", cfg.Summary.FreshnessDays)
	}
	// A malformed numeric override is ignored.
	if cfg.HackerNews.CommentSampleSize != 16 {
		t.Errorf("sample size: got %d, want 16", cfg.HackerNews.CommentSampleSize)
	}
	// An API key selects its provider.
	if cfg.Summary.Provider != "anthropic" || cfg.Summary.APIKey != "sk-test" {
		t.Errorf("provider selection: %+v", cfg.Summary)
	}
}

func TestLoadNormalizesInvalidValues(t *testing.T) {
	t.Setenv("HN_FETCH_WORKERS", "-3")
	t.Setenv("SUMMARY_REFRESH_DAYS", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HackerNews.FetchWorkers != 1 {
		t.Errorf("workers clamp: got %d, want 1", cfg.HackerNews.FetchWorkers)
	}
	if cfg.Summary.FreshnessDays != DefaultFreshnessDays {
		t.Errorf("freshness fallback: got %d, want %d", cfg.Summary.FreshnessDays, DefaultFreshnessDays)
	}
}

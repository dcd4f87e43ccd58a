package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is built once at process start and
// passed by reference into every component; nothing reads ambient state after
// Load returns.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	GitHub     GitHubConfig     `yaml:"github"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	Summary    SummaryConfig    `yaml:"summary"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Server     ServerConfig     `yaml:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GitHubConfig for the GitHub trending adapter.
type GitHubConfig struct {
	BaseURL           string `yaml:"base_url"`
	DailyFetchLimit   int    `yaml:"daily_fetch_limit"`
	WeeklyFetchLimit  int    `yaml:"weekly_fetch_limit"`
	MonthlyFetchLimit int    `yaml:"monthly_fetch_limit"`
	DailyRenderLimit  int    `yaml:"daily_render_limit"` // 0 means all fetched
}

// HackerNewsConfig for the Hacker News adapter and comment sampler.
type HackerNewsConfig struct {
	BaseURL             string `yaml:"base_url"`
	MaxItems            int    `yaml:"max_items"` // 0 means all IDs from the API
	FetchWorkers        int    `yaml:"fetch_workers"`
	DailyRenderLimit    int    `yaml:"daily_render_limit"` // 0 means unbounded
	CommentSampleSize   int    `yaml:"comment_sample_size"`
	CommentMaxNodes     int    `yaml:"comment_max_nodes"`
	CommentMaxDepth     int    `yaml:"comment_max_depth"`
	CommentMaxPerBranch int    `yaml:"comment_max_per_branch"`
	CommentMinTextLen   int    `yaml:"comment_min_text_len"`
}

// SummaryConfig configures the narrative summary generator and cache.
type SummaryConfig struct {
	Provider      string `yaml:"provider"` // "openai" or "anthropic"
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"` // custom endpoint (optional)
	FreshnessDays int    `yaml:"freshness_days"`
}

// BackfillConfig locates previously published pages for the one-time import.
type BackfillConfig struct {
	DocsDir string `yaml:"docs_dir"`
}

// ServerConfig for the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScheduleConfig for the daily scheduler loop.
type ScheduleConfig struct {
	AtUTC string `yaml:"at_utc"` // "HH:MM"
}

// NotifyConfig holds optional run-completion notification destinations.
// Empty URLs disable the corresponding notifier.
type NotifyConfig struct {
	WebhookURL        string `yaml:"webhook_url"`
	WebhookSecret     string `yaml:"webhook_secret"`
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// LogConfig controls log output format.
type LogConfig struct {
	JSON bool `yaml:"json"`
}

// DefaultFreshnessDays is the summary reuse window. Project docs have said
// both 7 and 60 at different points; 60 is the later revision. Kept as one
// overridable value so a product decision is a one-line change.
const DefaultFreshnessDays = 60

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./trendigest.db"},
		GitHub: GitHubConfig{
			BaseURL:           "https://github.com",
			DailyFetchLimit:   10,
			WeeklyFetchLimit:  25,
			MonthlyFetchLimit: 100,
			DailyRenderLimit:  0,
		},
		HackerNews: HackerNewsConfig{
			BaseURL:             "https://hacker-news.firebaseio.com/v0",
			MaxItems:            0,
			FetchWorkers:        20,
			DailyRenderLimit:    10,
			CommentSampleSize:   16,
			CommentMaxNodes:     300,
			CommentMaxDepth:     6,
			CommentMaxPerBranch: 4,
			CommentMinTextLen:   40,
		},
		Summary: SummaryConfig{
			Provider:      "openai",
			Model:         "gpt-5-mini",
			FreshnessDays: DefaultFreshnessDays,
		},
		Backfill: BackfillConfig{DocsDir: "./docs"},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{AtUTC: "06:00"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.HackerNews.FetchWorkers < 1 {
		cfg.HackerNews.FetchWorkers = 1
	}
	if cfg.Summary.FreshnessDays <= 0 {
		cfg.Summary.FreshnessDays = DefaultFreshnessDays
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRENDIGEST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TRENDIGEST_DOCS_DIR"); v != "" {
		cfg.Backfill.DocsDir = v
	}
	intEnv("GH_DAILY_RENDER_LIMIT", &cfg.GitHub.DailyRenderLimit)
	intEnv("HN_DAILY_RENDER_LIMIT", &cfg.HackerNews.DailyRenderLimit)
	intEnv("HN_MAX_ITEMS", &cfg.HackerNews.MaxItems)
	intEnv("HN_FETCH_WORKERS", &cfg.HackerNews.FetchWorkers)
	intEnv("HN_COMMENT_SAMPLE_SIZE", &cfg.HackerNews.CommentSampleSize)
	intEnv("HN_COMMENT_TRAVERSAL_MAX_NODES", &cfg.HackerNews.CommentMaxNodes)
	intEnv("HN_COMMENT_TRAVERSAL_MAX_DEPTH", &cfg.HackerNews.CommentMaxDepth)
	intEnv("HN_COMMENT_MAX_PER_BRANCH", &cfg.HackerNews.CommentMaxPerBranch)
	intEnv("HN_COMMENT_MIN_TEXT_LEN", &cfg.HackerNews.CommentMinTextLen)
	intEnv("SUMMARY_REFRESH_DAYS", &cfg.Summary.FreshnessDays)

	if v := os.Getenv("TRENDIGEST_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("TRENDIGEST_DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.DiscordWebhookURL = v
	}
	if v := os.Getenv("SUMMARY_MODEL"); v != "" {
		cfg.Summary.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Summary.APIKey = v
		cfg.Summary.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Summary.APIKey = v
		cfg.Summary.Provider = "anthropic"
	}
}

func intEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

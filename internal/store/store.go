package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rkoval/trendigest/internal/timeutil"
	"github.com/rkoval/trendigest/pkg/source"
)

// ErrRunLockHeld is returned when another digest run is already active.
var ErrRunLockHeld = errors.New("another digest run is already active")

// runLockKey is the app_meta key used as the run-in-progress marker.
// A marker older than runLockStale is treated as left over from a crash.
const (
	runLockKey   = "run_lock"
	runLockStale = 6 * time.Hour
)

// BackfillCompletedKey gates the one-time historical page import.
const BackfillCompletedKey = "gh_backfill_completed"

// GHEntry is one ranked repository appearance within a daily run, joined
// with its repo row for rendering.
type GHEntry struct {
	Rank        int    `db:"rank"`
	RepoID      int64  `db:"repo_id"`
	FullName    string `db:"full_name"`
	URL         string `db:"url"`
	Description string `db:"description"`
	Language    string `db:"language"`
	Stars       string `db:"stars_text"`
	PeriodStars string `db:"period_stars_text"`
}

// HNEntry is one ranked story appearance within a daily run, joined with
// its item row.
type HNEntry struct {
	Rank         int          `db:"rank"`
	ItemID       int64        `db:"item_id"`
	Title        string       `db:"title"`
	URL          string       `db:"url"`
	Author       string       `db:"author"`
	Score        int          `db:"score"`
	CommentCount int          `db:"comment_count"`
	ItemTime     sql.NullTime `db:"item_time"`
	Text         string       `db:"text"`
}

// Summary is a cached narrative for one tracked item.
type Summary struct {
	Text        string    `db:"summary_text"`
	ReadmeHash  string    `db:"readme_hash"`
	GeneratedAt time.Time `db:"generated_at"`
}

// CommentAnalysis is a cached discussion analysis for one story.
type CommentAnalysis struct {
	Text            string    `db:"analysis_text"`
	SampledComments int       `db:"sampled_comments"`
	TotalComments   int       `db:"total_comments"`
	GeneratedAt     time.Time `db:"generated_at"`
}

// Store is the persistence interface.
type Store interface {
	CreateOrReplaceGHRun(ctx context.Context, day time.Time, window source.Window, repos []source.Repo, runSource string) (int64, error)
	CreateOrReplaceHNRun(ctx context.Context, day time.Time, stories []source.Story, runSource string) (int64, error)

	GHRepoID(ctx context.Context, fullName string) (int64, error)
	GHEntriesForDay(ctx context.Context, day time.Time) ([]GHEntry, error)
	HNEntriesForDay(ctx context.Context, day time.Time) ([]HNEntry, error)
	GHDailyDates(ctx context.Context) ([]time.Time, error)
	HNDailyDates(ctx context.Context) ([]time.Time, error)
	GHStreakDates(ctx context.Context, repoID int64, upTo time.Time) ([]time.Time, error)
	HNStreakDates(ctx context.Context, itemID int64, upTo time.Time) ([]time.Time, error)

	LatestGHSummary(ctx context.Context, repoID int64, model, promptVersion string) (*Summary, error)
	PutGHSummary(ctx context.Context, repoID int64, model, promptVersion, text, readmeHash string, generatedAt time.Time) error
	GHSummaryExistsForDay(ctx context.Context, repoID int64, model, promptVersion string, day time.Time) (bool, error)
	LatestHNSummary(ctx context.Context, itemID int64, model, promptVersion string) (*Summary, error)
	PutHNSummary(ctx context.Context, itemID int64, model, promptVersion, text string, generatedAt time.Time) error
	LatestHNCommentAnalysis(ctx context.Context, itemID int64, model, promptVersion string, sampleSize int) (*CommentAnalysis, error)
	PutHNCommentAnalysis(ctx context.Context, itemID int64, model, promptVersion string, sampleSize, sampled, total int, text string, generatedAt time.Time) error

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	AcquireRunLock(ctx context.Context) error
	ReleaseRunLock(ctx context.Context) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// validateRanks checks that ranks form a contiguous 1..N sequence.
func validateRanks(ranks []int) error {
	seen := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		if r < 1 || r > len(ranks) || seen[r] {
			return fmt.Errorf("rank sequence is not contiguous 1..%d (bad rank %d)", len(ranks), r)
		}
		seen[r] = true
	}
	return nil
}

// CreateOrReplaceGHRun stores one GitHub run and replaces its entries
// atomically. Re-ingesting the same (day, window) replaces the prior entry
// set rather than creating a duplicate run.
func (s *SQLiteStore) CreateOrReplaceGHRun(ctx context.Context, day time.Time, window source.Window, repos []source.Repo, runSource string) (int64, error) {
	if !window.Valid() {
		return 0, fmt.Errorf("unsupported github window: %s", window)
	}

	ranks := make([]int, len(repos))
	for i := range repos {
		if repos[i].Rank == 0 {
			repos[i].Rank = i + 1
		}
		ranks[i] = repos[i].Rank
	}
	if err := validateRanks(ranks); err != nil {
		return 0, fmt.Errorf("gh run %s/%s: %w", timeutil.Format(day), window, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin gh run tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var runID int64
	err = tx.GetContext(ctx, &runID, `
		INSERT INTO gh_runs (run_date, period, source, fetched_at, repo_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_date, period) DO UPDATE SET
			source = excluded.source,
			fetched_at = excluded.fetched_at,
			repo_count = excluded.repo_count
		RETURNING id
	`, timeutil.Format(day), window, runSource, now, len(repos))
	if err != nil {
		return 0, fmt.Errorf("upsert gh run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM gh_entries WHERE run_id = ?", runID); err != nil {
		return 0, fmt.Errorf("clear gh entries: %w", err)
	}

	for _, repo := range repos {
		name := source.NormalizeText(repo.FullName)
		if name == "" {
			continue
		}
		repoURL := repo.URL
		if repoURL == "" {
			repoURL = "https://github.com/" + name
		}
		desc := source.NormalizeText(repo.Description)
		if desc == "" {
			desc = "No description"
		}
		lang := source.NormalizeText(repo.Language)
		if lang == "" {
			lang = "Unknown"
		}
		stars := source.NormalizeText(repo.Stars)
		if stars == "" {
			stars = "N/A"
		}

		// Placeholder metadata never overwrites a previously known value.
		var repoID int64
		err = tx.GetContext(ctx, &repoID, `
			INSERT INTO gh_repos (full_name, url, description, language, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(full_name) DO UPDATE SET
				url = excluded.url,
				description = CASE WHEN excluded.description <> 'No description'
					THEN excluded.description ELSE gh_repos.description END,
				language = CASE WHEN excluded.language <> 'Unknown'
					THEN excluded.language ELSE gh_repos.language END,
				updated_at = excluded.updated_at
			RETURNING id
		`, name, repoURL, desc, lang, now, now)
		if err != nil {
			return 0, fmt.Errorf("upsert repo %s: %w", name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO gh_entries (run_id, repo_id, rank, stars_text, period_stars_text, description, language)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, repoID, repo.Rank, stars, source.NormalizeText(repo.PeriodStars), desc, lang)
		if err != nil {
			return 0, fmt.Errorf("insert gh entry rank %d: %w", repo.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit gh run: %w", err)
	}
	return runID, nil
}

// CreateOrReplaceHNRun stores one Hacker News run and replaces its entries
// atomically.
func (s *SQLiteStore) CreateOrReplaceHNRun(ctx context.Context, day time.Time, stories []source.Story, runSource string) (int64, error) {
	ranks := make([]int, len(stories))
	for i := range stories {
		if stories[i].Rank == 0 {
			stories[i].Rank = i + 1
		}
		ranks[i] = stories[i].Rank
	}
	if err := validateRanks(ranks); err != nil {
		return 0, fmt.Errorf("hn run %s: %w", timeutil.Format(day), err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin hn run tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var runID int64
	err = tx.GetContext(ctx, &runID, `
		INSERT INTO hn_runs (run_date, feed, source, fetched_at, item_count)
		VALUES (?, 'topstories', ?, ?, ?)
		ON CONFLICT(run_date, feed) DO UPDATE SET
			source = excluded.source,
			fetched_at = excluded.fetched_at,
			item_count = excluded.item_count
		RETURNING id
	`, timeutil.Format(day), runSource, now, len(stories))
	if err != nil {
		return 0, fmt.Errorf("upsert hn run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM hn_entries WHERE run_id = ?", runID); err != nil {
		return 0, fmt.Errorf("clear hn entries: %w", err)
	}

	for _, story := range stories {
		title := source.NormalizeText(story.Title)
		if title == "" {
			title = "Untitled"
		}
		author := source.NormalizeText(story.Author)
		if author == "" {
			author = "unknown"
		}
		itemType := story.Type
		if itemType == "" {
			itemType = "story"
		}
		var itemTime any
		if !story.Time.IsZero() {
			itemTime = story.Time.UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO hn_items (id, title, url, author, score, comment_count, item_time, text, item_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				url = excluded.url,
				author = excluded.author,
				score = excluded.score,
				comment_count = excluded.comment_count,
				item_time = excluded.item_time,
				text = excluded.text,
				item_type = excluded.item_type,
				updated_at = excluded.updated_at
		`, story.ID, title, source.NormalizeText(story.URL), author,
			story.Score, story.CommentCount, itemTime, story.Text, itemType, now, now)
		if err != nil {
			return 0, fmt.Errorf("upsert hn item %d: %w", story.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO hn_entries (run_id, item_id, rank) VALUES (?, ?, ?)
		`, runID, story.ID, story.Rank)
		if err != nil {
			return 0, fmt.Errorf("insert hn entry rank %d: %w", story.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hn run: %w", err)
	}
	return runID, nil
}

// GHRepoID resolves a repository identity to its row id. Returns 0 with no
// error when the repo has never been seen.
func (s *SQLiteStore) GHRepoID(ctx context.Context, fullName string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "SELECT id FROM gh_repos WHERE full_name = ?", fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup repo %s: %w", fullName, err)
	}
	return id, nil
}

func (s *SQLiteStore) GHEntriesForDay(ctx context.Context, day time.Time) ([]GHEntry, error) {
	var entries []GHEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT
			ge.rank,
			ge.repo_id,
			r.full_name,
			r.url,
			COALESCE(NULLIF(ge.description, ''), r.description) AS description,
			COALESCE(NULLIF(ge.language, ''), r.language) AS language,
			ge.stars_text,
			ge.period_stars_text
		FROM gh_entries ge
		JOIN gh_runs gr ON ge.run_id = gr.id
		JOIN gh_repos r ON ge.repo_id = r.id
		WHERE gr.run_date = ? AND gr.period = 'daily'
		ORDER BY ge.rank
	`, timeutil.Format(day))
	if err != nil {
		return nil, fmt.Errorf("list gh entries for %s: %w", timeutil.Format(day), err)
	}
	return entries, nil
}

func (s *SQLiteStore) HNEntriesForDay(ctx context.Context, day time.Time) ([]HNEntry, error) {
	var entries []HNEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT
			he.rank,
			hi.id AS item_id,
			hi.title,
			hi.url,
			hi.author,
			hi.score,
			hi.comment_count,
			hi.item_time,
			hi.text
		FROM hn_entries he
		JOIN hn_runs hr ON he.run_id = hr.id
		JOIN hn_items hi ON he.item_id = hi.id
		WHERE hr.run_date = ? AND hr.feed = 'topstories'
		ORDER BY he.rank
	`, timeutil.Format(day))
	if err != nil {
		return nil, fmt.Errorf("list hn entries for %s: %w", timeutil.Format(day), err)
	}
	return entries, nil
}

func (s *SQLiteStore) GHDailyDates(ctx context.Context) ([]time.Time, error) {
	return s.selectDates(ctx, "SELECT run_date FROM gh_runs WHERE period = 'daily' ORDER BY run_date DESC")
}

func (s *SQLiteStore) HNDailyDates(ctx context.Context) ([]time.Time, error) {
	return s.selectDates(ctx, "SELECT run_date FROM hn_runs WHERE feed = 'topstories' ORDER BY run_date DESC")
}

// GHStreakDates returns the daily-run dates a repo appeared on, up to and
// including upTo, ascending. Weekly and monthly runs never contribute.
func (s *SQLiteStore) GHStreakDates(ctx context.Context, repoID int64, upTo time.Time) ([]time.Time, error) {
	return s.selectDates(ctx, `
		SELECT gr.run_date
		FROM gh_entries ge
		JOIN gh_runs gr ON ge.run_id = gr.id
		WHERE ge.repo_id = ? AND gr.period = 'daily' AND gr.run_date <= ?
		ORDER BY gr.run_date
	`, repoID, timeutil.Format(upTo))
}

// HNStreakDates is the Hacker News equivalent of GHStreakDates.
func (s *SQLiteStore) HNStreakDates(ctx context.Context, itemID int64, upTo time.Time) ([]time.Time, error) {
	return s.selectDates(ctx, `
		SELECT hr.run_date
		FROM hn_entries he
		JOIN hn_runs hr ON he.run_id = hr.id
		WHERE he.item_id = ? AND hr.feed = 'topstories' AND hr.run_date <= ?
		ORDER BY hr.run_date
	`, itemID, timeutil.Format(upTo))
}

func (s *SQLiteStore) selectDates(ctx context.Context, query string, args ...any) ([]time.Time, error) {
	var raw []string
	if err := s.db.SelectContext(ctx, &raw, query, args...); err != nil {
		return nil, fmt.Errorf("select dates: %w", err)
	}
	dates := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		day, err := timeutil.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", r, err)
		}
		dates = append(dates, day)
	}
	return dates, nil
}

func (s *SQLiteStore) LatestGHSummary(ctx context.Context, repoID int64, model, promptVersion string) (*Summary, error) {
	var sum Summary
	err := s.db.GetContext(ctx, &sum, `
		SELECT summary_text, readme_hash, generated_at
		FROM gh_summaries
		WHERE repo_id = ? AND model = ? AND prompt_version = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, repoID, model, promptVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest gh summary for repo %d: %w", repoID, err)
	}
	return &sum, nil
}

func (s *SQLiteStore) PutGHSummary(ctx context.Context, repoID int64, model, promptVersion, text, readmeHash string, generatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gh_summaries (repo_id, model, prompt_version, summary_text, readme_hash, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, repoID, model, promptVersion, text, readmeHash, generatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put gh summary for repo %d: %w", repoID, err)
	}
	return nil
}

// GHSummaryExistsForDay reports whether a summary generated on the given
// calendar day already exists. Used by backfill to stay idempotent.
func (s *SQLiteStore) GHSummaryExistsForDay(ctx context.Context, repoID int64, model, promptVersion string, day time.Time) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM gh_summaries
		WHERE repo_id = ? AND model = ? AND prompt_version = ?
		  AND DATE(generated_at) = ?
	`, repoID, model, promptVersion, timeutil.Format(day))
	if err != nil {
		return false, fmt.Errorf("check gh summary for repo %d: %w", repoID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) LatestHNSummary(ctx context.Context, itemID int64, model, promptVersion string) (*Summary, error) {
	var sum Summary
	err := s.db.GetContext(ctx, &sum, `
		SELECT summary_text, '' AS readme_hash, generated_at
		FROM hn_summaries
		WHERE item_id = ? AND model = ? AND prompt_version = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, itemID, model, promptVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest hn summary for item %d: %w", itemID, err)
	}
	return &sum, nil
}

func (s *SQLiteStore) PutHNSummary(ctx context.Context, itemID int64, model, promptVersion, text string, generatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hn_summaries (item_id, model, prompt_version, summary_text, generated_at)
		VALUES (?, ?, ?, ?, ?)
	`, itemID, model, promptVersion, text, generatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put hn summary for item %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) LatestHNCommentAnalysis(ctx context.Context, itemID int64, model, promptVersion string, sampleSize int) (*CommentAnalysis, error) {
	var ca CommentAnalysis
	err := s.db.GetContext(ctx, &ca, `
		SELECT analysis_text, sampled_comments, total_comments, generated_at
		FROM hn_comment_analyses
		WHERE item_id = ? AND model = ? AND prompt_version = ? AND sample_size = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, itemID, model, promptVersion, sampleSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest comment analysis for item %d: %w", itemID, err)
	}
	return &ca, nil
}

func (s *SQLiteStore) PutHNCommentAnalysis(ctx context.Context, itemID int64, model, promptVersion string, sampleSize, sampled, total int, text string, generatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hn_comment_analyses
			(item_id, model, prompt_version, sample_size, sampled_comments, total_comments, analysis_text, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, itemID, model, promptVersion, sampleSize, sampled, total, text, generatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put comment analysis for item %d: %w", itemID, err)
	}
	return nil
}

// GetMeta reads an app_meta value; missing keys return "".
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM app_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// AcquireRunLock sets the run-in-progress marker. Overlapping invocations
// are rejected with ErrRunLockHeld, not queued. A marker past the staleness
// cutoff is taken over so a crashed run cannot wedge the system forever.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_meta (key, value, updated_at) VALUES (?, '1', ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at
		WHERE app_meta.updated_at < ?
	`, runLockKey, now, now.Add(-runLockStale))
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if n == 0 {
		return ErrRunLockHeld
	}
	return nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM app_meta WHERE key = ?", runLockKey); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

package store

const schema = `
CREATE TABLE IF NOT EXISTS app_meta (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS gh_repos (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    full_name   TEXT NOT NULL UNIQUE,
    url         TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS gh_runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_date   TEXT NOT NULL,
    period     TEXT NOT NULL CHECK (period IN ('daily', 'weekly', 'monthly')),
    source     TEXT NOT NULL DEFAULT 'live',
    fetched_at DATETIME NOT NULL,
    repo_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (run_date, period)
);

CREATE TABLE IF NOT EXISTS gh_entries (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id            INTEGER NOT NULL REFERENCES gh_runs(id) ON DELETE CASCADE,
    repo_id           INTEGER NOT NULL REFERENCES gh_repos(id) ON DELETE CASCADE,
    rank              INTEGER NOT NULL,
    stars_text        TEXT NOT NULL DEFAULT '',
    period_stars_text TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    language          TEXT NOT NULL DEFAULT '',
    UNIQUE (run_id, repo_id),
    UNIQUE (run_id, rank)
);

CREATE TABLE IF NOT EXISTS gh_summaries (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id        INTEGER NOT NULL REFERENCES gh_repos(id) ON DELETE CASCADE,
    model          TEXT NOT NULL,
    prompt_version TEXT NOT NULL,
    summary_text   TEXT NOT NULL,
    readme_hash    TEXT NOT NULL DEFAULT '',
    generated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hn_items (
    id            INTEGER PRIMARY KEY,
    title         TEXT NOT NULL,
    url           TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    score         INTEGER NOT NULL DEFAULT 0,
    comment_count INTEGER NOT NULL DEFAULT 0,
    item_time     DATETIME,
    text          TEXT NOT NULL DEFAULT '',
    item_type     TEXT NOT NULL DEFAULT 'story',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hn_runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_date   TEXT NOT NULL,
    feed       TEXT NOT NULL DEFAULT 'topstories',
    source     TEXT NOT NULL DEFAULT 'live',
    fetched_at DATETIME NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (run_date, feed)
);

CREATE TABLE IF NOT EXISTS hn_entries (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id  INTEGER NOT NULL REFERENCES hn_runs(id) ON DELETE CASCADE,
    item_id INTEGER NOT NULL REFERENCES hn_items(id) ON DELETE CASCADE,
    rank    INTEGER NOT NULL,
    UNIQUE (run_id, item_id),
    UNIQUE (run_id, rank)
);

CREATE TABLE IF NOT EXISTS hn_summaries (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id        INTEGER NOT NULL REFERENCES hn_items(id) ON DELETE CASCADE,
    model          TEXT NOT NULL,
    prompt_version TEXT NOT NULL,
    summary_text   TEXT NOT NULL,
    generated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hn_comment_analyses (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id          INTEGER NOT NULL REFERENCES hn_items(id) ON DELETE CASCADE,
    model            TEXT NOT NULL,
    prompt_version   TEXT NOT NULL,
    sample_size      INTEGER NOT NULL,
    sampled_comments INTEGER NOT NULL,
    total_comments   INTEGER NOT NULL,
    analysis_text    TEXT NOT NULL,
    generated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gh_entries_repo_id ON gh_entries(repo_id);
CREATE INDEX IF NOT EXISTS idx_gh_runs_period_date ON gh_runs(period, run_date);
CREATE INDEX IF NOT EXISTS idx_gh_summaries_repo_generated ON gh_summaries(repo_id, generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_hn_entries_item_id ON hn_entries(item_id);
CREATE INDEX IF NOT EXISTS idx_hn_runs_feed_date ON hn_runs(feed, run_date);
CREATE INDEX IF NOT EXISTS idx_hn_summaries_item_generated ON hn_summaries(item_id, generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_hn_comment_analyses_item_generated ON hn_comment_analyses(item_id, generated_at DESC);
`

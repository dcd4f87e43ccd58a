package source

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Window is the time-scope of a GitHub trending pull.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// AllWindows returns every GitHub window, daily first.
func AllWindows() []Window {
	return []Window{WindowDaily, WindowWeekly, WindowMonthly}
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	switch w {
	case WindowDaily, WindowWeekly, WindowMonthly:
		return true
	}
	return false
}

// Repo is one ranked repository from the GitHub trending page.
// Stars and PeriodStars are display strings as shown on the page.
type Repo struct {
	Rank        int
	FullName    string
	URL         string
	Description string
	Language    string
	Stars       string
	PeriodStars string
}

// Story is one ranked Hacker News story from the topstories feed.
type Story struct {
	Rank         int
	ID           int64
	Title        string
	URL          string
	Author       string
	Score        int
	CommentCount int
	Time         time.Time
	Text         string
	Type         string
}

// DiscussionURL returns the HN discussion page for the story.
func (s Story) DiscussionURL() string {
	return fmt.Sprintf("https://news.ycombinator.com/item?id=%d", s.ID)
}

// NormalizeText collapses all whitespace runs to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Domain extracts the hostname of a URL, without a www. prefix.
func Domain(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSpace(parsed.Host))
	return strings.TrimPrefix(host, "www.")
}

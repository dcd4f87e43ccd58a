// Package notify delivers run-completion notices to configured
// destinations. Delivery is best-effort: a failed notifier never fails the
// run that produced the digest.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Link is one highlighted digest entry included in a notification.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Label string `json:"label"` // "github" or "hackernews"
}

// Notification describes one completed digest run.
type Notification struct {
	Day        string `json:"day"`
	RepoCount  int    `json:"repo_count"`
	StoryCount int    `json:"story_count"`
	Highlights []Link `json:"highlights"`
}

// Title renders the notification headline.
func (n *Notification) Title() string {
	return fmt.Sprintf("Trending digest for %s", n.Day)
}

// Body renders the notification summary line.
func (n *Notification) Body() string {
	return fmt.Sprintf("%d trending repositories and %d Hacker News stories collected.",
		n.RepoCount, n.StoryCount)
}

// Notifier delivers a notification to one destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a notification manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers reports whether at least one destination is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends the notification to every destination and joins any
// failures. A failure at one destination does not stop the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

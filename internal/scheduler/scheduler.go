// Package scheduler runs the daily digest at a fixed UTC wall-clock time.
// One run per calendar day; a run that fails is not retried until the next
// scheduled slot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkoval/trendigest/internal/timeutil"
)

// RunFunc executes one digest run for the given day.
type RunFunc func(ctx context.Context, day time.Time) error

// Scheduler triggers a RunFunc once per day at a configured UTC time.
type Scheduler struct {
	run   RunFunc
	at    string // "HH:MM" UTC
	log   *slog.Logger
	clock func() time.Time
}

// New creates a scheduler. at is "HH:MM" in UTC; empty defaults to "06:00".
func New(run RunFunc, at string, log *slog.Logger) (*Scheduler, error) {
	if at == "" {
		at = "06:00"
	}
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("parse schedule time %q: %w", at, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{run: run, at: at, log: log, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// Run blocks until ctx is cancelled, firing the digest at each daily slot.
// The digest day is the calendar day the slot falls on.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler running", "at_utc", s.at)

	for {
		now := s.clock()
		next := s.nextSlot(now)
		s.log.Info("next digest scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		day := timeutil.Truncate(next)
		s.log.Info("starting scheduled digest", "day", timeutil.Format(day))
		if err := s.run(ctx, day); err != nil {
			s.log.Error("scheduled digest failed", "day", timeutil.Format(day), "error", err)
			continue
		}
		s.log.Info("scheduled digest complete", "day", timeutil.Format(day))
	}
}

// nextSlot returns the next occurrence of the configured wall-clock time
// strictly after now.
func (s *Scheduler) nextSlot(now time.Time) time.Time {
	at, _ := time.Parse("15:04", s.at)
	slot := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
	if !slot.After(now) {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}

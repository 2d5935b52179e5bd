// Package retention purges idle sessions on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// Purger deletes sessions last updated before cutoff.
type Purger interface {
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs a session purge on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	store  Purger
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper schedules a purge of sessions idle for longer than maxAge.
// schedule accepts standard five-field cron specs and descriptors such as
// "@daily".
func NewSweeper(store Purger, schedule string, maxAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", maxAge)
	}
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.PurgeSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("session purge failed", "cutoff", cutoff, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("purged idle sessions", "count", n, "cutoff", cutoff)
	}
}

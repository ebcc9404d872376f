// Package refresh keeps the feed caches warm on a schedule so alert
// listings stay fast even when the upstream feeds are slow.
package refresh

import (
	"context"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"skywatch/internal/feeds"
)

type Runner struct {
	feeds    *feeds.Client
	schedule string
	log      zerolog.Logger

	mu   sync.Mutex
	cron *rcron.Cron
}

// New builds a runner for the given schedule. The schedule accepts the
// standard five-field cron syntax plus @every descriptors.
func New(client *feeds.Client, schedule string, log zerolog.Logger) *Runner {
	return &Runner{feeds: client, schedule: schedule, log: log}
}

// Start registers the refresh job and begins the schedule. The first
// refresh runs immediately so a fresh process does not serve an empty
// cache until the schedule fires.
func (r *Runner) Start(ctx context.Context) error {
	c := rcron.New()
	_, err := c.AddFunc(r.schedule, func() {
		r.runOnce(ctx)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	go r.runOnce(ctx)
	c.Start()
	r.log.Info().Str("schedule", r.schedule).Msg("feed refresh started")

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		r.log.Warn().Msg("feed refresh stop timed out")
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	if err := r.feeds.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("feed refresh failed")
		return
	}
	r.log.Info().Dur("took", time.Since(start)).Msg("feeds refreshed")
}

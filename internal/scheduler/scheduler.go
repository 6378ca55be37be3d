// Package scheduler runs IntakePipe's periodic maintenance on cron schedules.
//
// Its main job is the expiration sweep that purges sessions whose inactivity
// TTL has passed from stores that support bulk purging.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiration sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// sweepTimeout bounds a single purge pass.
const sweepTimeout = time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweeper purges expired sessions.
type Sweeper struct {
	purger store.Purger
}

// NewSweeper creates a sweeper over p.
func NewSweeper(p store.Purger) *Sweeper {
	return &Sweeper{purger: p}
}

// Sweep runs one purge pass and returns the number of sessions removed.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	n, err := w.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Error("Sweeper.Sweep: purge failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("Sweeper.Sweep: purged expired sessions", "count", n)
	} else {
		slog.Debug("Sweeper.Sweep: nothing to purge")
	}
	return n, nil
}

// Schedule registers the sweep on s using expr.
func (w *Sweeper) Schedule(s *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	if err := s.AddJob(expr, func() {
		_, _ = w.Sweep(context.Background())
	}); err != nil {
		slog.Error("Sweeper.Schedule: invalid schedule", "schedule", expr, "error", err)
		return err
	}
	slog.Info("Sweeper.Schedule: expiration sweep scheduled", "schedule", expr)
	return nil
}

// Package aging runs the recurring priority-aging pass. Stale, unpinned,
// unfinished tasks below maximum priority gain a fixed bump each pass, and
// their staleness clock is reset so one stale window yields one bump.
package aging

import (
	"context"
	"log"
	"time"

	"github.com/jvilhena/taskember/internal/db"
	"github.com/jvilhena/taskember/internal/notify"
)

// Config holds the process-wide aging parameters, fixed at startup.
type Config struct {
	// Threshold is how long a task must go without progress before it is
	// considered stale.
	Threshold time.Duration

	// Bump is the number of priority points added per pass.
	Bump int

	// Interval is how often the scheduler wakes. It is independent of
	// Threshold: hourly ticks against a 24h threshold detect staleness
	// with up to an hour of slack, which is accepted.
	Interval time.Duration
}

// DefaultConfig mirrors the reference behavior: 24h threshold, +1 priority,
// hourly ticks.
func DefaultConfig() Config {
	return Config{
		Threshold: 24 * time.Hour,
		Bump:      1,
		Interval:  time.Hour,
	}
}

// Scheduler is an explicitly constructed, explicitly stoppable aging loop.
// Tests drive it through Tick directly instead of a real timer.
type Scheduler struct {
	store  *db.Store
	sink   notify.Sink
	logger *log.Logger
	cfg    Config

	// Now is the clock for threshold computation. Tests override it.
	Now func() time.Time
}

func New(store *db.Store, sink notify.Sink, logger *log.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		store:  store,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		Now:    time.Now,
	}
}

// Run ticks on the configured interval until the context is canceled.
// A failed tick is logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Printf("aging pass failed: %v", err)
			}
		}
	}
}

// Tick performs one aging pass. Eligible tasks get their priority bumped
// (clamped at 100) and their staleness clock reset in one bulk write; a
// single tasksAged event carries every task that was modified. An empty
// selection is a no-op and emits nothing.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.Now()
	threshold := now.Add(-s.cfg.Threshold)

	stale, err := s.store.FindAgeable(ctx, threshold)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, len(stale))
	for i, task := range stale {
		ids[i] = task.ID
	}

	aged, err := s.store.AgeTasks(ctx, ids, s.cfg.Bump, now)
	if err != nil {
		return err
	}
	if len(aged) == 0 {
		return nil
	}

	s.logger.Printf("aged %d stale tasks", len(aged))
	s.sink.Publish(notify.TasksAged, aged)
	return nil
}

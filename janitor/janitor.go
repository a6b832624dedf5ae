// Package janitor purges old final deliveries from the ledger on a cron
// schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger removes final deliveries completed before cutoff.
type Purger interface {
	PurgeDeliveries(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor runs ledger retention in the background.
type Janitor struct {
	purger    Purger
	retention func() time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	schedule string
}

// New creates a janitor. schedule is a standard cron expression or a
// descriptor such as "@daily". retention is read on every run; a
// non-positive value keeps everything.
func New(p Purger, schedule string, retention func() time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		purger:    p,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}
	if err := j.SetSchedule(schedule); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins running purges on schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// SetSchedule replaces the purge schedule. It is safe to call while running.
func (j *Janitor) SetSchedule(schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if schedule == j.schedule && j.entry != 0 {
		return nil
	}

	entry, err := j.cron.AddFunc(schedule, j.run)
	if err != nil {
		return fmt.Errorf("courier: invalid purge schedule %q: %w", schedule, err)
	}
	if j.entry != 0 {
		j.cron.Remove(j.entry)
	}
	j.entry = entry
	j.schedule = schedule
	return nil
}

// RunOnce purges deliveries older than the retention period and returns
// how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	keep := j.retention()
	if keep <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-keep)
	n, err := j.purger.PurgeDeliveries(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("courier: purge deliveries: %w", err)
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "purged old deliveries", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.ErrorContext(ctx, "ledger purge failed", "error", err)
	}
}

package eventlog

import (
	"context"
	"time"

	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/repository"
)

// Retention deletes durable events older than a number of days.
type Retention struct {
	repo     repository.EventRepo
	days     int
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewRetention(repo repository.EventRepo, days int, log *logger.Logger) *Retention {
	if log == nil {
		log = logger.Nop()
	}
	return &Retention{repo: repo, days: days, interval: 24 * time.Hour, log: log, now: time.Now}
}

// RunOnce deletes expired events and returns how many were removed. Zero days keeps everything.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().AddDate(0, 0, -r.days)
	n, err := r.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Infow("events_retention_cleanup", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Run cleans up once at start and then every interval until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warnw("events_retention_failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

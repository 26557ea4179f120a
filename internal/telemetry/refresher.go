package telemetry

import (
	"context"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/metrics"
	"controlling_reservoir/internal/models"
)

// LevelReader is the part of the gateway the refresher needs.
type LevelReader interface {
	ReadLevel(ctx context.Context, reservoirID string) (models.Reading, error)
}

// Refresher periodically samples the gateway and appends each reading to the store.
type Refresher struct {
	reader     LevelReader
	source     *Source
	reservoirs []string
	interval   time.Duration
	timeout    time.Duration
	log        *logger.Logger

	// OnError, when set, is told about every failed sample.
	OnError func(ctx context.Context, reservoirID string, err error)
}

func NewRefresher(reader LevelReader, source *Source, reservoirs []string, interval, timeout time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.Nop()
	}
	return &Refresher{
		reader:     reader,
		source:     source,
		reservoirs: reservoirs,
		interval:   interval,
		timeout:    timeout,
		log:        log,
	}
}

// Run samples immediately, then on every interval until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) error {
	r.RefreshOnce(ctx)

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce samples every reservoir once.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	for _, id := range r.reservoirs {
		if ctx.Err() != nil {
			return
		}
		if err := r.refresh(ctx, id); err != nil {
			metrics.GatewayErrors.WithLabelValues(string(faults.KindOf(err))).Inc()
			r.log.Warnw("telemetry_refresh_failed", "reservoir", id, "err", err)
			if r.OnError != nil {
				r.OnError(ctx, id, err)
			}
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, reservoirID string) error {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	reading, err := r.reader.ReadLevel(rctx, reservoirID)
	if err != nil {
		return err
	}
	return faults.Store("ingest "+reservoirID, r.source.Ingest(ctx, reading))
}

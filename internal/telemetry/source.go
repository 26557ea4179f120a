// Package telemetry serves the latest and recent readings of every reservoir.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/metrics"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL          = 10 * time.Second
	defaultHistorySize  = 50
	defaultStoreTimeout = 5 * time.Second
)

type Config struct {
	TTL          time.Duration
	HistorySize  int
	StoreTimeout time.Duration
}

// Source reads through a short-lived cache to the telemetry store. Concurrent misses for the
// same reservoir share a single store query.
type Source struct {
	store        repository.TelemetryStore
	cache        Cache
	group        singleflight.Group
	ttl          time.Duration
	historySize  int
	storeTimeout time.Duration
	log          *logger.Logger
	now          func() time.Time

	mu     sync.Mutex
	recent map[string][]models.Reading
}

func NewSource(store repository.TelemetryStore, cache Cache, cfg Config, log *logger.Logger) *Source {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Source{
		store:        store,
		cache:        cache,
		ttl:          cfg.TTL,
		historySize:  cfg.HistorySize,
		storeTimeout: cfg.StoreTimeout,
		log:          log,
		now:          time.Now,
		recent:       make(map[string][]models.Reading),
	}
}

// Latest returns the newest reading, from cache while it is fresh.
func (s *Source) Latest(ctx context.Context, reservoirID string) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}
	r, ok, err := s.cache.Get(ctx, reservoirID)
	if err != nil {
		s.log.Debugw("telemetry_cache_get_failed", "reservoir", reservoirID, "err", err)
	}
	if ok {
		metrics.TelemetryReads.WithLabelValues("cache").Inc()
		return r, nil
	}

	v, err, _ := s.group.Do(reservoirID, func() (any, error) {
		sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		r, err := s.store.Latest(sctx, reservoirID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, reservoirID, r, s.ttl); err != nil {
			s.log.Debugw("telemetry_cache_set_failed", "reservoir", reservoirID, "err", err)
		}
		s.remember(r)
		return r, nil
	})
	if err != nil {
		if errors.Is(err, faults.ErrStoreUnavailable) {
			if last, ok := s.lastRemembered(reservoirID); ok {
				metrics.TelemetryReads.WithLabelValues("fallback").Inc()
				s.log.Warnw("telemetry_store_fallback", "reservoir", reservoirID, "err", err)
				return last, nil
			}
		}
		return models.Reading{}, err
	}
	metrics.TelemetryReads.WithLabelValues("store").Inc()
	return v.(models.Reading), nil
}

// History returns readings inside window, oldest first. When the store is unavailable the
// in-memory history is served instead.
func (s *Source) History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error) {
	since := s.now().Add(-window)

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	out, err := s.store.Since(sctx, reservoirID, since, s.historySize)
	if err == nil {
		return out, nil
	}

	fallback := s.rememberedSince(reservoirID, since)
	if len(fallback) == 0 {
		return nil, err
	}
	s.log.Warnw("telemetry_history_fallback", "reservoir", reservoirID, "points", len(fallback), "err", err)
	return fallback, nil
}

// Ingest appends a fresh reading, typically from the gateway, and makes it the cached latest.
func (s *Source) Ingest(ctx context.Context, r models.Reading) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Append(sctx, r); err != nil {
		s.remember(r)
		return err
	}
	s.remember(r)
	s.Invalidate(ctx, r.ReservoirID)
	return nil
}

// RecordActuator appends a copy of the latest row with one actuator switched, then drops the
// cached value so the next read reflects the change.
func (s *Source) RecordActuator(ctx context.Context, reservoirID, actuatorID string, on bool) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	base, err := s.store.Latest(sctx, reservoirID)
	if err != nil {
		last, ok := s.lastRemembered(reservoirID)
		if !ok {
			return fmt.Errorf("record actuator %s: %w", actuatorID, err)
		}
		base = last
	}
	next := base.WithActuator(actuatorID, on, s.now().UTC())
	if err := s.store.Append(sctx, next); err != nil {
		return fmt.Errorf("record actuator %s: %w", actuatorID, err)
	}
	s.remember(next)
	s.Invalidate(ctx, reservoirID)
	return nil
}

// Invalidate drops the cached latest reading of a reservoir.
func (s *Source) Invalidate(ctx context.Context, reservoirID string) {
	if err := s.cache.Delete(ctx, reservoirID); err != nil {
		s.log.Warnw("telemetry_cache_invalidate_failed", "reservoir", reservoirID, "err", err)
	}
}

// remember keeps the last historySize distinct readings per reservoir.
func (s *Source) remember(r models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.recent[r.ReservoirID]
	if n := len(buf); n > 0 && !r.Timestamp.After(buf[n-1].Timestamp) {
		if r.Timestamp.Equal(buf[n-1].Timestamp) {
			buf[n-1] = r
		}
		return
	}
	buf = append(buf, r)
	if len(buf) > s.historySize {
		buf = append(buf[:0:0], buf[len(buf)-s.historySize:]...)
	}
	s.recent[r.ReservoirID] = buf
}

func (s *Source) lastRemembered(reservoirID string) (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.recent[reservoirID]
	if len(buf) == 0 {
		return models.Reading{}, false
	}
	return buf[len(buf)-1], true
}

func (s *Source) rememberedSince(reservoirID string, since time.Time) []models.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reading
	for _, r := range s.recent[reservoirID] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"
)

// EventRing is the in-process view of recent events.
type EventRing interface {
	Query(f models.EventFilter) []models.Event
	Subscribe(buffer int) (<-chan models.Event, func())
}

type EventLogService struct {
	eventRepo repository.EventRepo
	ring      EventRing
	log       *logger.Logger
}

// NewEventLogService serves queries from eventRepo, or only from the ring when eventRepo is nil.
func NewEventLogService(eventRepo repository.EventRepo, ring EventRing, log *logger.Logger) *EventLogService {
	if log == nil {
		log = logger.Nop()
	}
	return &EventLogService{eventRepo: eventRepo, ring: ring, log: log.Named("eventlog")}
}

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errInvalidSource    = errors.New("invalid source: want store or memory")
)

// FilterError is returned by List when the query itself is rejected.
type FilterError struct {
	Err error
}

func (e *FilterError) Error() string { return "invalid filter: " + e.Err.Error() }

func (e *FilterError) Unwrap() error { return e.Err }

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeName trims spaces and lowercases an enum filter value.
func normalizeName(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func normalizeLimit(n int) int {
	switch {
	case n <= 0:
		return defaultEventLimit
	case n > maxEventLimit:
		return maxEventLimit
	}
	return n
}

// normalizeAndValidateFilter turns the raw filter into a store query and validates it.
func normalizeAndValidateFilter(f LogFilter) (models.EventFilter, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return models.EventFilter{}, errInvalidTimeRange
	}

	out := models.EventFilter{
		From:      from,
		To:        to,
		SubjectID: strings.TrimSpace(f.Subject),
		Limit:     normalizeLimit(f.Limit),
	}
	if c := normalizeName(f.Category); c != "" {
		cat, err := models.ParseCategory(c)
		if err != nil {
			return models.EventFilter{}, err
		}
		out.Category = &cat
	}
	if s := normalizeName(f.MinSeverity); s != "" {
		sev, err := models.ParseSeverity(s)
		if err != nil {
			return models.EventFilter{}, err
		}
		out.MinSeverity = sev
	}
	return out, nil
}

// List returns matching events oldest first. A failing store falls back to the ring.
func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.Event, error) {
	q, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, &FilterError{Err: err}
	}

	switch normalizeName(f.Source) {
	case SourceMemory:
		return s.fromRing(q), nil
	case "", SourceStore:
	default:
		return nil, &FilterError{Err: fmt.Errorf("%w: %q", errInvalidSource, f.Source)}
	}

	if s.eventRepo == nil {
		return s.fromRing(q), nil
	}
	events, err := s.eventRepo.List(ctx, q)
	if err != nil {
		if s.ring == nil || ctx.Err() != nil {
			return nil, err
		}
		s.log.Warnw("event_store_list_failed", "err", err)
		return s.fromRing(q), nil
	}
	return events, nil
}

func (s *EventLogService) Subscribe(buffer int) (<-chan models.Event, func()) {
	if s.ring == nil {
		ch := make(chan models.Event)
		close(ch)
		return ch, func() {}
	}
	return s.ring.Subscribe(buffer)
}

func (s *EventLogService) fromRing(q models.EventFilter) []models.Event {
	if s.ring == nil {
		return nil
	}
	return s.ring.Query(q)
}

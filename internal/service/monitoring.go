package service

import (
	"context"
	"fmt"
	"time"

	"controlling_reservoir/internal/decision"
	"controlling_reservoir/internal/models"
)

// ReadingSource is the read side of the telemetry source.
type ReadingSource interface {
	Latest(ctx context.Context, reservoirID string) (models.Reading, error)
	History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error)
}

// ReservoirCatalog lists the reservoirs the automation controls.
type ReservoirCatalog interface {
	Reservoir(id string) (models.Reservoir, bool)
	Reservoirs() []models.Reservoir
}

type MonitoringService struct {
	source   ReadingSource
	catalog  ReservoirCatalog
	learning *decision.Learning
}

func NewMonitoringService(source ReadingSource, catalog ReservoirCatalog, learning *decision.Learning) *MonitoringService {
	if learning == nil {
		learning = decision.NewLearning(0)
	}
	return &MonitoringService{source: source, catalog: catalog, learning: learning}
}

func (s *MonitoringService) Reservoirs() []models.Reservoir {
	return s.catalog.Reservoirs()
}

// Reading returns the latest reading of a configured reservoir.
func (s *MonitoringService) Reading(ctx context.Context, reservoirID string) (models.Reading, error) {
	if _, ok := s.catalog.Reservoir(reservoirID); !ok {
		return models.Reading{}, fmt.Errorf("%w: %q", ErrUnknownReservoir, reservoirID)
	}
	r, err := s.source.Latest(ctx, reservoirID)
	if err != nil {
		return models.Reading{}, err
	}
	r.Timestamp = toUTC(r.Timestamp)
	return r, nil
}

func (s *MonitoringService) History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error) {
	if _, ok := s.catalog.Reservoir(reservoirID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReservoir, reservoirID)
	}
	if window <= 0 {
		window = time.Hour
	}
	return s.source.History(ctx, reservoirID, window)
}

func (s *MonitoringService) Learning(reservoirID string) (LearningReport, error) {
	if _, ok := s.catalog.Reservoir(reservoirID); !ok {
		return LearningReport{}, fmt.Errorf("%w: %q", ErrUnknownReservoir, reservoirID)
	}
	records := s.learning.Records(reservoirID)
	if records == nil {
		records = []models.LearningRecord{}
	}
	return LearningReport{
		Summary: s.learning.Summary(reservoirID),
		Records: records,
	}, nil
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// Package influx stores readings in an InfluxDB 2.x bucket.
package influx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const (
	measurement = "water"
	tagID       = "reservoir"
	fieldLevel  = "level"
	pumpPrefix  = "pump_"
)

// TelemetryStore writes one point per reading: the level plus one 1.0/0.0 field per actuator.
type TelemetryStore struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

var _ repository.TelemetryStore = (*TelemetryStore)(nil)

func NewTelemetryStore(url, token, org, bucket string) *TelemetryStore {
	client := influxdb2.NewClient(url, token)
	return &TelemetryStore{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
		bucket: bucket,
	}
}

func (s *TelemetryStore) Close() {
	s.client.Close()
}

func (s *TelemetryStore) Append(ctx context.Context, r models.Reading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]any{fieldLevel: r.Level}
	for id, on := range r.Actuators {
		v := 0.0
		if on {
			v = 1.0
		}
		fields[pumpPrefix+id] = v
	}
	p := influxdb2.NewPoint(measurement, map[string]string{tagID: r.ReservoirID}, fields, ts.UTC())
	return faults.Store("influx write", s.write.WritePoint(ctx, p))
}

func (s *TelemetryStore) Latest(ctx context.Context, reservoirID string) (models.Reading, error) {
	out, err := s.run(ctx, reservoirID, latestFlux(s.bucket, reservoirID))
	if err != nil {
		return models.Reading{}, err
	}
	if len(out) == 0 {
		return models.Reading{}, faults.New(faults.KindInsufficientData, "influx latest", fmt.Errorf("%w for %q", repository.ErrNoReadings, reservoirID))
	}
	return out[len(out)-1], nil
}

func (s *TelemetryStore) Since(ctx context.Context, reservoirID string, since time.Time, limit int) ([]models.Reading, error) {
	out, err := s.run(ctx, reservoirID, sinceFlux(s.bucket, reservoirID, since))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *TelemetryStore) run(ctx context.Context, reservoirID, flux string) ([]models.Reading, error) {
	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, faults.Store("influx query", err)
	}
	defer res.Close()

	var out []models.Reading
	for res.Next() {
		rec := res.Record()
		out = append(out, readingFromValues(reservoirID, rec.Time(), rec.Values()))
	}
	if err := res.Err(); err != nil {
		return nil, faults.Store("influx query", err)
	}
	return out, nil
}

func latestFlux(bucket, reservoirID string) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)
  |> last()
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		bucket, measurement, tagID, reservoirID)
}

func sinceFlux(bucket, reservoirID string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		bucket, since.UTC().Format(time.RFC3339Nano), measurement, tagID, reservoirID)
}

// readingFromValues turns a pivoted Flux row into a Reading.
func readingFromValues(reservoirID string, ts time.Time, values map[string]any) models.Reading {
	r := models.Reading{
		ReservoirID: reservoirID,
		Timestamp:   ts.UTC(),
		Actuators:   make(map[string]bool),
	}
	for k, v := range values {
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		switch {
		case k == fieldLevel:
			r.Level = f
		case strings.HasPrefix(k, pumpPrefix):
			r.Actuators[strings.TrimPrefix(k, pumpPrefix)] = f >= 0.5
		}
	}
	return r
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/models"
)

// TelemetrySQL stores readings in the append-only "water" table.
// Actuator states are kept as JSON of id -> 1.0/0.0.
type TelemetrySQL struct {
	db     *sql.DB
	driver string
}

func NewTelemetrySQL(db *sql.DB, driver string) *TelemetrySQL {
	return &TelemetrySQL{db: db, driver: driver}
}

var _ TelemetryStore = (*TelemetrySQL)(nil)

const (
	insertReadingSQL = `INSERT INTO water (reservoir_id, measured_at, level, pump_states) VALUES (?, ?, ?, ?)`
	latestReadingSQL = `SELECT reservoir_id, measured_at, level, pump_states FROM water WHERE reservoir_id = ? ORDER BY measured_at DESC, id DESC LIMIT 1`
	readingsSinceSQL = `SELECT reservoir_id, measured_at, level, pump_states FROM water WHERE reservoir_id = ? AND measured_at >= ? ORDER BY measured_at DESC, id DESC LIMIT ?`
)

func (r *TelemetrySQL) Append(ctx context.Context, rd models.Reading) error {
	flags, err := encodePumpStates(rd.Actuators)
	if err != nil {
		return fmt.Errorf("encode pump states: %w", err)
	}
	ts := rd.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = r.db.ExecContext(ctx, rebind(r.driver, insertReadingSQL),
		rd.ReservoirID, timeArg(r.driver, ts), rd.Level, flags)
	return faults.Store("append reading", err)
}

func (r *TelemetrySQL) Latest(ctx context.Context, reservoirID string) (models.Reading, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.driver, latestReadingSQL), reservoirID)
	rd, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reading{}, faults.New(faults.KindInsufficientData, "latest reading", fmt.Errorf("%w for %q", ErrNoReadings, reservoirID))
	}
	if err != nil {
		return models.Reading{}, faults.Store("latest reading", err)
	}
	return rd, nil
}

func (r *TelemetrySQL) Since(ctx context.Context, reservoirID string, since time.Time, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, rebind(r.driver, readingsSinceSQL), reservoirID, timeArg(r.driver, since), limit)
	if err != nil {
		return nil, faults.Store("readings since", err)
	}
	defer rows.Close()

	out := make([]models.Reading, 0, limit)
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, faults.Store("scan reading", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Store("readings since", err)
	}
	// newest first from the query; callers want oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(s rowScanner) (models.Reading, error) {
	var (
		rd    models.Reading
		flags sql.NullString
	)
	if err := s.Scan(&rd.ReservoirID, &rd.Timestamp, &rd.Level, &flags); err != nil {
		return models.Reading{}, err
	}
	rd.Timestamp = rd.Timestamp.UTC()
	rd.Actuators = decodePumpStates(flags.String)
	return rd, nil
}

func encodePumpStates(states map[string]bool) (string, error) {
	flags := make(map[string]float64, len(states))
	for id, on := range states {
		if on {
			flags[id] = 1.0
		} else {
			flags[id] = 0.0
		}
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodePumpStates treats any flag >= 0.5 as running; malformed text yields no states.
func decodePumpStates(s string) map[string]bool {
	out := make(map[string]bool)
	if s == "" {
		return out
	}
	var flags map[string]float64
	if err := json.Unmarshal([]byte(s), &flags); err != nil {
		return out
	}
	for id, v := range flags {
		out[id] = v >= 0.5
	}
	return out
}

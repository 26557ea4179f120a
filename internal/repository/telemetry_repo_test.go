package repository

import (
	"errors"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository/db"

	"github.com/DATA-DOG/go-sqlmock"
)

var readingColumns = []string{"reservoir_id", "measured_at", "level", "pump_states"}

func TestTelemetryAppend_EncodesFlags(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewTelemetrySQL(db, DriverSQLite)

	at := time.Date(2025, 3, 1, 8, 30, 0, 250e6, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(insertReadingSQL)).
		WithArgs("gagok", "2025-03-01 08:30:00.250", 91.5, `{"gagok_pump_a":1,"gagok_pump_b":0}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(ctx(t), models.Reading{
		ReservoirID: "gagok",
		Timestamp:   at,
		Level:       91.5,
		Actuators:   map[string]bool{"gagok_pump_a": true, "gagok_pump_b": false},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestTelemetryLatest(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewTelemetrySQL(db, DriverSQLite)

	at := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(latestReadingSQL)).
		WithArgs("gagok").
		WillReturnRows(sqlmock.NewRows(readingColumns).AddRow("gagok", at, 88.0, `{"gagok_pump_a":1.0,"gagok_pump_b":0.0}`))

	got, err := repo.Latest(ctx(t), "gagok")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Level != 88 || !got.Timestamp.Equal(at) {
		t.Fatalf("unexpected reading %+v", got)
	}
	if !got.Actuators["gagok_pump_a"] || got.Actuators["gagok_pump_b"] {
		t.Fatalf("flags not decoded: %v", got.Actuators)
	}
}

func TestTelemetryLatest_Empty(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewTelemetrySQL(db, DriverSQLite)

	mock.ExpectQuery(regexp.QuoteMeta(latestReadingSQL)).
		WithArgs("sangsa").
		WillReturnRows(sqlmock.NewRows(readingColumns))

	_, err := repo.Latest(ctx(t), "sangsa")
	if !errors.Is(err, ErrNoReadings) || !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("want no readings / insufficient data, got %v", err)
	}
}

func TestTelemetryLatest_DBError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewTelemetrySQL(db, DriverSQLite)

	mock.ExpectQuery(regexp.QuoteMeta(latestReadingSQL)).WillReturnError(errors.New("database is locked"))

	_, err := repo.Latest(ctx(t), "gagok")
	if !errors.Is(err, faults.ErrStoreUnavailable) {
		t.Fatalf("want store unavailable, got %v", err)
	}
}

func TestTelemetrySince_OldestFirst(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewTelemetrySQL(db, DriverPostgres)

	since := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(readingColumns).
		AddRow("gagok", since.Add(10*time.Minute), 82.0, nil).
		AddRow("gagok", since.Add(5*time.Minute), 80.0, "not json")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT reservoir_id, measured_at, level, pump_states FROM water WHERE reservoir_id = $1 AND measured_at >= $2 ORDER BY measured_at DESC, id DESC LIMIT $3`)).
		WithArgs("gagok", since, 50).
		WillReturnRows(rows)

	got, err := repo.Since(ctx(t), "gagok", since, 50)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 || got[0].Level != 80 || got[1].Level != 82 {
		t.Fatalf("want oldest first, got %+v", got)
	}
	if len(got[0].Actuators) != 0 {
		t.Fatalf("malformed flags must decode to no states, got %v", got[0].Actuators)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	if got := rebind(DriverSQLite, q); got != q {
		t.Fatalf("sqlite query must be unchanged, got %q", got)
	}
	if got := rebind(DriverPostgres, q); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("unexpected postgres query %q", got)
	}
}

func TestTelemetrySQLite_RoundTrip(t *testing.T) {
	t.Parallel()

	sqlDB, err := db.InitDB(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer sqlDB.Close()
	repo := NewTelemetrySQL(sqlDB, DriverSQLite)

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := repo.Append(ctx(t), models.Reading{
			ReservoirID: "gagok",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Level:       70 + float64(i),
			Actuators:   map[string]bool{"gagok_pump_a": i == 2, "gagok_pump_b": false},
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	latest, err := repo.Latest(ctx(t), "gagok")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	want := models.Reading{
		ReservoirID: "gagok",
		Timestamp:   base.Add(2 * time.Minute),
		Level:       72,
		Actuators:   map[string]bool{"gagok_pump_a": true, "gagok_pump_b": false},
	}
	if latest.ReservoirID != want.ReservoirID || latest.Level != want.Level || !latest.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("Latest = %+v; want %+v", latest, want)
	}
	if !reflect.DeepEqual(latest.Actuators, want.Actuators) {
		t.Fatalf("actuators = %v; want %v", latest.Actuators, want.Actuators)
	}

	hist, err := repo.Since(ctx(t), "gagok", base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(hist) != 2 || hist[0].Level != 71 || hist[1].Level != 72 {
		t.Fatalf("unexpected history %+v", hist)
	}
}

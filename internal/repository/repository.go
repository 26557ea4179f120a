package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"controlling_reservoir/internal/models"
)

// ErrNoReadings is returned by TelemetryStore.Latest when a reservoir has no rows yet.
var ErrNoReadings = errors.New("no readings stored")

type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// TelemetryStore is the append-only time series of readings.
type TelemetryStore interface {
	Latest(ctx context.Context, reservoirID string) (models.Reading, error)
	// Since returns readings at or after since, oldest first, keeping at most limit of the newest.
	Since(ctx context.Context, reservoirID string, since time.Time, limit int) ([]models.Reading, error)
	Append(ctx context.Context, r models.Reading) error
}

type EventRepo interface {
	Append(ctx context.Context, e models.Event) error
	List(ctx context.Context, f models.EventFilter) ([]models.Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Repository struct {
	Telemetry TelemetryStore
	Events    EventRepo
	Auth      Authorization
}

// NewRepository builds the SQL-backed repositories. driver is "sqlite" or "postgres".
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{
		Telemetry: NewTelemetrySQL(db, driver),
		Events:    NewEventSQL(db, driver),
		Auth:      NewUserRepository(db, driver),
	}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/models"

	"github.com/google/uuid"
)

type EventSQL struct {
	db     *sql.DB
	driver string
}

func NewEventSQL(db *sql.DB, driver string) *EventSQL { return &EventSQL{db: db, driver: driver} }

var _ EventRepo = (*EventSQL)(nil)

const (
	insertEventSQL = `INSERT INTO automation_events (id, occurred_at, session_id, severity, category, subject_id, message, details) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectEventSQL = `SELECT id, occurred_at, session_id, severity, category, subject_id, message, details FROM automation_events`
	deleteEventSQL = `DELETE FROM automation_events WHERE occurred_at < ?`
)

// Append inserts a new event. A missing ID or timestamp is filled in.
func (r *EventSQL) Append(ctx context.Context, e models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var details *string
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			s := string(b)
			details = &s
		}
	}

	_, err := r.db.ExecContext(ctx, rebind(r.driver, insertEventSQL),
		e.ID,
		timeArg(r.driver, e.Timestamp),
		e.SessionID,
		int(e.Severity),
		e.Category.String(),
		e.SubjectID,
		e.Message,
		details,
	)
	return faults.Store("append event", err)
}

// List returns events matching f ordered oldest first. With a limit, the newest matches are kept.
func (r *EventSQL) List(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, timeArg(r.driver, f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, timeArg(r.driver, f.To))
	}
	if f.Category != nil {
		conds = append(conds, "category = ?")
		args = append(args, f.Category.String())
	}
	if s := strings.TrimSpace(f.SubjectID); s != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, s)
	}
	if f.MinSeverity > models.SeverityDebug {
		conds = append(conds, "severity >= ?")
		args = append(args, int(f.MinSeverity))
	}

	q := selectEventSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.Limit > 0 {
		q += " ORDER BY occurred_at DESC LIMIT ?"
		args = append(args, f.Limit)
	} else {
		q += " ORDER BY occurred_at ASC"
	}

	rows, err := r.db.QueryContext(ctx, rebind(r.driver, q), args...)
	if err != nil {
		return nil, faults.Store("list events", err)
	}
	defer rows.Close()

	out := make([]models.Event, 0, 64)
	for rows.Next() {
		var (
			ev       models.Event
			severity int
			category string
			details  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.SessionID, &severity, &category, &ev.SubjectID, &ev.Message, &details); err != nil {
			return nil, faults.Store("scan event", err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.Severity = models.Severity(severity)
		if c, err := models.ParseCategory(category); err == nil {
			ev.Category = c
		}
		if details.Valid && details.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(details.String), &m); err == nil {
				ev.Details = m
			} else {
				ev.Details = map[string]any{"raw": details.String}
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Store("list events", err)
	}
	if f.Limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// DeleteBefore removes events older than cutoff and reports how many went.
func (r *EventSQL) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, rebind(r.driver, deleteEventSQL), timeArg(r.driver, cutoff))
	if err != nil {
		return 0, faults.Store("delete events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, faults.Store("delete events", err)
	}
	return n, nil
}

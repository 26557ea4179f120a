package models

import "time"

// Event is a single append-only log entry.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Category  Category       `json:"category"`
	SubjectID string         `json:"subject_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	SessionID string         `json:"session_id"`
}

// EventFilter selects events from the durable store.
type EventFilter struct {
	From        time.Time // inclusive; zero means no lower bound
	To          time.Time // inclusive; zero means no upper bound
	Category    *Category
	SubjectID   string
	MinSeverity Severity
	Limit       int
}

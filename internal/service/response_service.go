package service

import (
	"time"

	"controlling_reservoir/internal/models"
)

// LogFilter is the raw event query as an operator sends it.
type LogFilter struct {
	From        time.Time // inclusive; zero means no lower bound
	To          time.Time // inclusive; zero means no upper bound
	Category    string    // "", "decision", "action", "alert", ...
	Subject     string
	MinSeverity string // "", "debug", "info", "warning", "error", "critical"
	Limit       int
	Source      string // "" or "store" for the durable store, "memory" for the in-process ring
}

const (
	SourceStore  = "store"
	SourceMemory = "memory"

	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// LearningReport is the outcome history of one reservoir.
type LearningReport struct {
	Summary models.LearningSummary  `json:"summary"`
	Records []models.LearningRecord `json:"records"`
}

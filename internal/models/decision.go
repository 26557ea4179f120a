package models

import "time"

// Trend summarises the slope of the recent history.
type Trend struct {
	Direction    TrendDirection `json:"direction"`
	Slope        float64        `json:"slope_per_min"`
	Confidence   float64        `json:"confidence"`
	Predicted30m float64        `json:"predicted_30m"`
	Predicted60m float64        `json:"predicted_60m"`
	Points       int            `json:"points"`
}

// Decision is produced once per tick and replaced, never edited, by the next one.
type Decision struct {
	ReservoirID      string         `json:"reservoir_id"`
	Action           Action         `json:"action"`
	Targets          []string       `json:"targets"`
	Confidence       float64        `json:"confidence"`
	Urgency          Urgency        `json:"urgency"`
	RiskScore        float64        `json:"risk_score"`
	Rationale        string         `json:"rationale"`
	PredictedOutcome map[string]any `json:"predicted_outcome,omitempty"`
	EffectDelay      time.Duration  `json:"effect_delay"`
	Trend            Trend          `json:"trend"`
	Level            float64        `json:"level"`
	DecidedAt        time.Time      `json:"decided_at"`
}

// Predicted outcome keys.
const (
	OutcomeExpectedReduction = "expected_level_reduction"
	OutcomeTimeToSafe        = "time_to_safe_level_sec"
	OutcomeExpectedLevel     = "expected_level"
)

// LearningRecord captures how a decision played out once its effect delay passed.
type LearningRecord struct {
	ReservoirID     string    `json:"reservoir_id"`
	Action          Action    `json:"action"`
	Urgency         Urgency   `json:"urgency"`
	DecidedAt       time.Time `json:"decided_at"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
	LevelAtDecision float64   `json:"level_at_decision"`
	ExpectedLevel   float64   `json:"expected_level"`
	ActualLevel     float64   `json:"actual_level"`
	Accuracy        float64   `json:"accuracy"`
	Effectiveness   float64   `json:"effectiveness"`
}

// LearningSummary aggregates the learning records of one reservoir.
type LearningSummary struct {
	ReservoirID  string  `json:"reservoir_id"`
	Total        int     `json:"total"`
	Successful   int     `json:"successful"`
	SuccessRate  float64 `json:"success_rate"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}

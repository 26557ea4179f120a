package models

import "time"

// ReservoirStatus is the per-loop part of the automation status.
type ReservoirStatus struct {
	ReservoirID   string    `json:"reservoir_id"`
	Name          string    `json:"name"`
	Running       bool      `json:"running"`
	LastTickAt    time.Time `json:"last_tick_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastDecision  *Decision `json:"last_decision,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	ConfigError   string    `json:"config_error,omitempty"`
	PendingAction *Decision `json:"pending_approval,omitempty"`
}

// AutomationStatus is what the status operator action returns.
type AutomationStatus struct {
	Running          bool              `json:"running"`
	SessionID        string            `json:"session_id"`
	StartedAt        time.Time         `json:"started_at,omitempty"`
	SafetyMode       bool              `json:"safety_mode"`
	GatewayMode      string            `json:"gateway_mode"`
	GatewayConnected bool              `json:"gateway_connected"`
	Reservoirs       []ReservoirStatus `json:"reservoirs"`
	RecentEvents     []Event           `json:"recent_events,omitempty"`
}

// OverrideRequest is a manual actuator command from an operator.
type OverrideRequest struct {
	ReservoirID string        `json:"reservoir_id"`
	ActuatorID  string        `json:"actuator_id"`
	On          bool          `json:"on"`
	Duration    time.Duration `json:"duration,omitempty"`
	Operator    string        `json:"operator,omitempty"`
}

// OverrideResult reports the outcome of a manual override.
type OverrideResult struct {
	ReservoirID string    `json:"reservoir_id"`
	ActuatorID  string    `json:"actuator_id"`
	On          bool      `json:"on"`
	Success     bool      `json:"success"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

package models

import (
	"fmt"
	"time"
)

// Thresholds are water levels in percent; each band must sit above the previous one.
type Thresholds struct {
	Normal    float64 `json:"normal"`
	Warning   float64 `json:"warning"`
	Critical  float64 `json:"critical"`
	Emergency float64 `json:"emergency"`
}

// Scale divides every threshold by factor. A factor above 1 tightens the bands.
func (t Thresholds) Scale(factor float64) Thresholds {
	if factor <= 0 {
		return t
	}
	return Thresholds{
		Normal:    t.Normal / factor,
		Warning:   t.Warning / factor,
		Critical:  t.Critical / factor,
		Emergency: t.Emergency / factor,
	}
}

// Actuator is a pump addressed on the device by its pump number.
type Actuator struct {
	ID   string `json:"id"`
	Pump int    `json:"pump"`
}

// Reservoir is built once from configuration and never mutated.
type Reservoir struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Channel    int        `json:"channel"`
	Actuators  []Actuator `json:"actuators"`
	Thresholds Thresholds `json:"thresholds"`
}

// ActuatorIDs returns the actuator ids in configured order.
func (r Reservoir) ActuatorIDs() []string {
	ids := make([]string, 0, len(r.Actuators))
	for _, a := range r.Actuators {
		ids = append(ids, a.ID)
	}
	return ids
}

// HasActuator reports whether id belongs to the reservoir.
func (r Reservoir) HasActuator(id string) bool {
	for _, a := range r.Actuators {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Validate checks the invariants the control loop relies on.
func (r Reservoir) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("reservoir id is empty")
	}
	if len(r.Actuators) == 0 {
		return fmt.Errorf("reservoir %q has no actuators", r.ID)
	}
	seen := make(map[string]struct{}, len(r.Actuators))
	for _, a := range r.Actuators {
		if a.ID == "" {
			return fmt.Errorf("reservoir %q has an actuator without id", r.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("reservoir %q lists actuator %q twice", r.ID, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	t := r.Thresholds
	if !(t.Normal < t.Warning && t.Warning < t.Critical && t.Critical < t.Emergency) {
		return fmt.Errorf("reservoir %q thresholds must increase normal < warning < critical < emergency", r.ID)
	}
	return nil
}

// Reading is one water level sample with the actuator states seen alongside it.
type Reading struct {
	ReservoirID string          `json:"reservoir_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Level       float64         `json:"level"`
	Actuators   map[string]bool `json:"actuators"`
}

// ActiveActuators returns the ids of running actuators, ordered as in the reservoir.
func (r Reading) ActiveActuators(res Reservoir) []string {
	var out []string
	for _, a := range res.Actuators {
		if r.Actuators[a.ID] {
			out = append(out, a.ID)
		}
	}
	return out
}

// WithActuator returns a copy of the reading with one actuator state replaced.
func (r Reading) WithActuator(id string, on bool, at time.Time) Reading {
	states := make(map[string]bool, len(r.Actuators)+1)
	for k, v := range r.Actuators {
		states[k] = v
	}
	states[id] = on
	r.Actuators = states
	r.Timestamp = at
	return r
}

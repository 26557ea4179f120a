package models

import (
	"fmt"
	"strings"
)

// Severity orders events from Debug to Critical.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (s Severity) String() string { return enumName(severityNames, int(s)) }

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity accepts the upper or lower case name of a severity.
func ParseSeverity(s string) (Severity, error) {
	i, err := parseEnum("severity", severityNames, s)
	return Severity(i), err
}

// Category groups events by the part of the system that produced them.
type Category int

const (
	CategorySystem Category = iota
	CategoryDecision
	CategoryAction
	CategoryAlert
	CategoryError
	CategoryManual
	CategoryEvaluation
	CategoryConfig
)

var categoryNames = []string{"SYSTEM", "DECISION", "ACTION", "ALERT", "ERROR", "MANUAL", "EVALUATION", "CONFIG"}

func (c Category) String() string { return enumName(categoryNames, int(c)) }

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func ParseCategory(s string) (Category, error) {
	i, err := parseEnum("category", categoryNames, s)
	return Category(i), err
}

// Urgency is the ordinal weight of a Decision; it drives the auto-execute policy.
type Urgency int

const (
	UrgencyLow Urgency = iota + 1
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
	UrgencyEmergency
)

var urgencyNames = []string{"", "LOW", "MEDIUM", "HIGH", "CRITICAL", "EMERGENCY"}

func (u Urgency) String() string { return enumName(urgencyNames, int(u)) }

func (u Urgency) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func ParseUrgency(s string) (Urgency, error) {
	i, err := parseEnum("urgency", urgencyNames, s)
	if err == nil && i == 0 {
		return 0, fmt.Errorf("unknown urgency %q", s)
	}
	return Urgency(i), err
}

// Action is what a Decision asks the actuators to do.
type Action int

const (
	ActionMaintain Action = iota
	ActionPumpOn
	ActionPumpOff
	ActionEmergencyAllOn
)

var actionNames = []string{"MAINTAIN", "PUMP_ON", "PUMP_OFF", "EMERGENCY_ALL_ON"}

func (a Action) String() string { return enumName(actionNames, int(a)) }

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	i, err := parseEnum("action", actionNames, string(b))
	if err != nil {
		return err
	}
	*a = Action(i)
	return nil
}

// DesiredState reports the actuator state the action asks for. Maintain has none.
func (a Action) DesiredState() (on bool, ok bool) {
	switch a {
	case ActionPumpOn, ActionEmergencyAllOn:
		return true, true
	case ActionPumpOff:
		return false, true
	default:
		return false, false
	}
}

// TrendDirection classifies the least-squares slope of recent readings.
type TrendDirection int

const (
	TrendUnknown TrendDirection = iota
	TrendStable
	TrendRising
	TrendFalling
)

var trendNames = []string{"unknown", "stable", "rising", "falling"}

func (d TrendDirection) String() string { return enumName(trendNames, int(d)) }

func (d TrendDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *TrendDirection) UnmarshalText(b []byte) error {
	i, err := parseEnum("trend", trendNames, string(b))
	if err != nil {
		return err
	}
	*d = TrendDirection(i)
	return nil
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) || names[i] == "" {
		return fmt.Sprintf("UNKNOWN(%d)", i)
	}
	return names[i]
}

func parseEnum(kind string, names []string, s string) (int, error) {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if n != "" && strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"controlling_reservoir/internal/config"
	"controlling_reservoir/internal/models"
)

// Predicate inspects event details.
type Predicate func(details map[string]any) bool

type Rule struct {
	Name     string
	Field    string
	Match    Predicate
	Sinks    []string
	Cooldown time.Duration
	Disabled bool
}

func (r Rule) targets(sink string) bool {
	if len(r.Sinks) == 0 {
		return true
	}
	for _, s := range r.Sinks {
		if s == sink {
			return true
		}
	}
	return false
}

// Above matches when details[field] is numeric and strictly greater than threshold.
func Above(field string, threshold float64) Predicate {
	return func(details map[string]any) bool {
		v, ok := number(details[field])
		return ok && v > threshold
	}
}

// Equals matches when details[field] is present and prints as value. Booleans and numbers are
// compared by value.
func Equals(field, value string) Predicate {
	return func(details map[string]any) bool {
		v, ok := details[field]
		if !ok || v == nil {
			return false
		}
		switch x := v.(type) {
		case bool:
			b, err := strconv.ParseBool(value)
			return err == nil && x == b
		case string:
			return strings.EqualFold(x, value)
		}
		if n, ok := number(v); ok {
			f, err := strconv.ParseFloat(value, 64)
			return err == nil && n == f
		}
		return fmt.Sprint(v) == value
	}
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

// DefaultRules are used when the configuration lists no rules.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "level_above_critical", Field: "current_level", Match: Above("current_level", 100), Cooldown: 10 * time.Minute},
		{Name: "level_above_emergency", Field: "current_level", Match: Above("current_level", 120), Cooldown: 5 * time.Minute},
		{Name: "actuator_command_failure", Field: "command_failed", Match: Equals("command_failed", "true"), Cooldown: 15 * time.Minute},
		{Name: "gateway_disconnected", Field: "gateway_connected", Match: Equals("gateway_connected", "false"), Cooldown: 30 * time.Minute},
		{Name: "multiple_actuator_failures", Field: "failed_actuators_count", Match: Above("failed_actuators_count", 2), Cooldown: 20 * time.Minute},
	}
}

// RulesFromConfig builds rules from configuration, falling back to DefaultRules.
func RulesFromConfig(cfgs []config.AlertRuleConfig) ([]Rule, error) {
	if len(cfgs) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		r := Rule{Name: c.Name, Field: c.Field, Sinks: c.Sinks, Cooldown: c.Cooldown, Disabled: c.Disabled}
		switch c.When {
		case "above":
			r.Match = Above(c.Field, c.Threshold)
		case "equals":
			r.Match = Equals(c.Field, c.Value)
		default:
			return nil, fmt.Errorf("alert rule %q: unknown condition %q", c.Name, c.When)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

type ruleState struct {
	rule          Rule
	lastTriggered time.Time
}

type alertEngine struct {
	mu    sync.Mutex
	rules []*ruleState
}

func newAlertEngine(rules []Rule) *alertEngine {
	a := &alertEngine{}
	for _, r := range rules {
		if r.Match == nil {
			continue
		}
		a.rules = append(a.rules, &ruleState{rule: r})
	}
	return a
}

// evaluate returns the rules that fire for e and stamps them. A rule's cooldown check and stamp
// happen under one lock, so concurrent events cannot both fire it.
func (a *alertEngine) evaluate(e models.Event, now time.Time) []Rule {
	if len(e.Details) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var fired []Rule
	for _, st := range a.rules {
		if st.rule.Disabled {
			continue
		}
		if !st.lastTriggered.IsZero() && now.Sub(st.lastTriggered) < st.rule.Cooldown {
			continue
		}
		if !st.rule.Match(e.Details) {
			continue
		}
		st.lastTriggered = now
		fired = append(fired, st.rule)
	}
	return fired
}

// RuleStatus is a read-only view of a rule for status output.
type RuleStatus struct {
	Name          string        `json:"name"`
	Cooldown      time.Duration `json:"cooldown"`
	Disabled      bool          `json:"disabled"`
	LastTriggered time.Time     `json:"last_triggered,omitempty"`
}

func (a *alertEngine) status() []RuleStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RuleStatus, 0, len(a.rules))
	for _, st := range a.rules {
		out = append(out, RuleStatus{
			Name:          st.rule.Name,
			Cooldown:      st.rule.Cooldown,
			Disabled:      st.rule.Disabled,
			LastTriggered: st.lastTriggered,
		})
	}
	return out
}

// Rules reports the alert rules and when each last fired.
func (l *Logger) Rules() []RuleStatus {
	return l.alerts.status()
}

// Package decision maps a reservoir reading and its recent history to a pump decision.
package decision

import (
	"fmt"
	"math"
	"time"

	"controlling_reservoir/internal/models"
)

// HourRange is an inclusive range of hours of the day.
type HourRange struct {
	From int
	To   int
}

func (h HourRange) contains(hour int) bool {
	if h.From <= h.To {
		return hour >= h.From && hour <= h.To
	}
	return hour >= h.From || hour <= h.To
}

type Config struct {
	PeakHours  []HourRange
	PeakFactor float64
	LowHours   []HourRange
	LowFactor  float64
	// DeadBand is the slope, per minute, under which the trend counts as stable.
	DeadBand float64
	Location *time.Location
}

// DefaultConfig tightens thresholds by 20% during the morning and evening peaks and relaxes
// them by 20% overnight.
func DefaultConfig() Config {
	return Config{
		PeakHours:  []HourRange{{From: 7, To: 9}, {From: 18, To: 20}},
		PeakFactor: 1.2,
		LowHours:   []HourRange{{From: 0, To: 5}},
		LowFactor:  0.8,
		DeadBand:   0.05,
		Location:   time.Local,
	}
}

// branch holds the fixed parameters of one decision branch.
type branch struct {
	confidence  float64
	reduction   float64
	timeToSafe  time.Duration
	effectDelay time.Duration
}

var (
	emergencyBranch      = branch{confidence: 0.95, reduction: 15, timeToSafe: 900 * time.Second, effectDelay: 60 * time.Second}
	criticalBranch       = branch{confidence: 0.85, reduction: 10, timeToSafe: 1200 * time.Second, effectDelay: 120 * time.Second}
	preemptiveBranch     = branch{confidence: 0.8, reduction: 8, timeToSafe: 1500 * time.Second, effectDelay: 180 * time.Second}
	warningBranch        = branch{confidence: 0.7, reduction: 5, timeToSafe: 1800 * time.Second, effectDelay: 240 * time.Second}
	pumpOffBranch        = branch{confidence: 0.9, effectDelay: 30 * time.Second}
	normalBranch         = branch{confidence: 0.95}
	defaultMaintain      = branch{confidence: 0.6}
	insufficientMaintain = branch{confidence: 0.5}
)

// Engine is stateless; Decide may be called from any goroutine.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.PeakFactor <= 0 {
		cfg.PeakFactor = 1
	}
	if cfg.LowFactor <= 0 {
		cfg.LowFactor = 1
	}
	if cfg.DeadBand < 0 {
		cfg.DeadBand = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{cfg: cfg}
}

// TimeFactor returns the threshold divisor for the hour of at. Low-usage hours win over peak hours.
func (e *Engine) TimeFactor(at time.Time) float64 {
	hour := at.In(e.cfg.Location).Hour()
	for _, h := range e.cfg.LowHours {
		if h.contains(hour) {
			return e.cfg.LowFactor
		}
	}
	for _, h := range e.cfg.PeakHours {
		if h.contains(hour) {
			return e.cfg.PeakFactor
		}
	}
	return 1
}

// Decide never fails: missing or inconsistent input yields a low urgency Maintain decision.
func (e *Engine) Decide(res models.Reservoir, reading models.Reading, history []models.Reading) models.Decision {
	if reason := insufficient(res, reading); reason != "" {
		return models.Decision{
			ReservoirID: res.ID,
			Action:      models.ActionMaintain,
			Targets:     []string{},
			Confidence:  insufficientMaintain.confidence,
			Urgency:     models.UrgencyLow,
			Rationale:   "insufficient data: " + reason,
			Trend:       models.Trend{Direction: models.TrendUnknown},
			Level:       reading.Level,
			DecidedAt:   reading.Timestamp,
		}
	}

	level := reading.Level
	factor := e.TimeFactor(reading.Timestamp)
	th := bands(res.Thresholds, factor)
	tr := computeTrend(level, history, e.cfg.DeadBand)

	d := models.Decision{
		ReservoirID: res.ID,
		RiskScore:   riskScore(level, th),
		Trend:       tr,
		Level:       level,
		DecidedAt:   reading.Timestamp,
	}

	all := res.ActuatorIDs()
	active := reading.ActiveActuators(res)

	idle := len(active) == 0

	switch {
	case level >= th.Emergency,
		tr.Predicted30m >= th.Emergency && !(idle && level < res.Thresholds.Normal):
		e.apply(&d, emergencyBranch, models.ActionEmergencyAllOn, models.UrgencyEmergency, all)
		d.Rationale = fmt.Sprintf("emergency: level %s, predicted %s in 30m, emergency threshold %s",
			num(level), num(tr.Predicted30m), num(th.Emergency))

	case idle && level < res.Thresholds.Normal:
		e.apply(&d, normalBranch, models.ActionMaintain, models.UrgencyLow, nil)
		d.Rationale = fmt.Sprintf("normal: level %s < normal %s, all pumps off", num(level), num(res.Thresholds.Normal))
		d.PredictedOutcome = map[string]any{models.OutcomeExpectedLevel: level}

	case level >= th.Critical:
		n := 1
		if tr.Direction == models.TrendRising || len(active) > 0 {
			n = 2
		}
		e.apply(&d, criticalBranch, models.ActionPumpOn, models.UrgencyCritical, firstN(all, n))
		if tr.Direction == models.TrendRising {
			d.Rationale = fmt.Sprintf("critical and rising: level %s >= critical %s, predicted %s in 30m",
				num(level), num(th.Critical), num(tr.Predicted30m))
		} else {
			d.Rationale = fmt.Sprintf("critical, trend %s: level %s >= critical %s",
				tr.Direction, num(level), num(th.Critical))
		}

	case level >= th.Warning:
		if tr.Direction == models.TrendRising && tr.Predicted30m >= th.Critical {
			e.apply(&d, preemptiveBranch, models.ActionPumpOn, models.UrgencyHigh, firstN(all, 2))
			d.Rationale = fmt.Sprintf("pre-emptive: level %s >= warning %s, predicted %s in 30m crosses critical %s",
				num(level), num(th.Warning), num(tr.Predicted30m), num(th.Critical))
		} else {
			e.apply(&d, warningBranch, models.ActionPumpOn, models.UrgencyMedium, firstN(all, 1))
			d.Rationale = fmt.Sprintf("warning, trend %s: level %s >= warning %s",
				tr.Direction, num(level), num(th.Warning))
		}

	case level < th.Normal && len(active) > 0:
		e.apply(&d, pumpOffBranch, models.ActionPumpOff, models.UrgencyLow, active)
		d.Rationale = fmt.Sprintf("normal: level %s < normal %s, stopping %d running pump(s)",
			num(level), num(th.Normal), len(active))
		d.PredictedOutcome = map[string]any{
			"energy_saved":              true,
			models.OutcomeExpectedLevel: level,
		}

	case level < th.Normal:
		e.apply(&d, normalBranch, models.ActionMaintain, models.UrgencyLow, nil)
		d.Rationale = fmt.Sprintf("normal: level %s < normal %s, all pumps off", num(level), num(th.Normal))
		d.PredictedOutcome = map[string]any{models.OutcomeExpectedLevel: level}

	default:
		e.apply(&d, defaultMaintain, models.ActionMaintain, models.UrgencyLow, nil)
		d.Rationale = fmt.Sprintf("maintain: level %s between normal %s and warning %s",
			num(level), num(th.Normal), num(th.Warning))
		d.PredictedOutcome = map[string]any{models.OutcomeExpectedLevel: level}
	}

	if factor != 1 {
		d.Rationale += fmt.Sprintf(" (time of day factor %s)", num(factor))
	}
	return d
}

func (e *Engine) apply(d *models.Decision, b branch, action models.Action, urgency models.Urgency, targets []string) {
	d.Action = action
	d.Urgency = urgency
	d.Targets = append([]string{}, targets...)
	d.EffectDelay = b.effectDelay
	d.Confidence = round3(b.confidence + (1-b.confidence)*0.5*d.Trend.Confidence)
	if b.reduction > 0 {
		d.PredictedOutcome = map[string]any{
			models.OutcomeExpectedReduction: b.reduction,
			models.OutcomeTimeToSafe:        int(b.timeToSafe / time.Second),
			models.OutcomeExpectedLevel:     math.Max(0, d.Level-b.reduction),
		}
	}
}

func insufficient(res models.Reservoir, r models.Reading) string {
	switch {
	case len(res.Actuators) == 0:
		return "reservoir has no actuators"
	case r.ReservoirID != "" && r.ReservoirID != res.ID:
		return fmt.Sprintf("reading belongs to %q", r.ReservoirID)
	case math.IsNaN(r.Level) || math.IsInf(r.Level, 0):
		return "no water level"
	case r.Timestamp.IsZero():
		return "reading has no timestamp"
	}
	return ""
}

// riskScore grades the level against the adjusted bands.
// bands applies the time of day factor. Relaxing never lifts emergency above the configured level.
func bands(configured models.Thresholds, factor float64) models.Thresholds {
	th := configured.Scale(factor)
	th.Emergency = math.Min(th.Emergency, configured.Emergency)
	return th
}

func riskScore(level float64, th models.Thresholds) float64 {
	switch {
	case level >= th.Emergency:
		return 1.0
	case level >= th.Critical:
		return 0.8
	case level >= th.Warning:
		return 0.6
	case level >= th.Normal:
		return 0.4
	default:
		return 0.2
	}
}

func firstN(ids []string, n int) []string {
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

func num(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

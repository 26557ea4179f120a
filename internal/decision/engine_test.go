package decision

import (
	"math"
	"strings"
	"testing"
	"time"

	"controlling_reservoir/internal/models"
)

var noon = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func gagok() models.Reservoir {
	return models.Reservoir{
		ID:   "gagok",
		Name: "Gagok",
		Actuators: []models.Actuator{
			{ID: "gagok_pump_a", Pump: 1},
			{ID: "gagok_pump_b", Pump: 2},
		},
		Thresholds: models.Thresholds{Normal: 60, Warning: 80, Critical: 100, Emergency: 120},
	}
}

func sangsa() models.Reservoir {
	return models.Reservoir{
		ID: "sangsa",
		Actuators: []models.Actuator{
			{ID: "sangsa_pump_a", Pump: 5},
			{ID: "sangsa_pump_b", Pump: 6},
			{ID: "sangsa_pump_c", Pump: 7},
		},
		Thresholds: models.Thresholds{Normal: 60, Warning: 80, Critical: 100, Emergency: 120},
	}
}

func testEngine() *Engine {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return NewEngine(cfg)
}

func reading(res models.Reservoir, level float64, at time.Time, on ...string) models.Reading {
	states := make(map[string]bool)
	for _, id := range res.ActuatorIDs() {
		states[id] = false
	}
	for _, id := range on {
		states[id] = true
	}
	return models.Reading{ReservoirID: res.ID, Timestamp: at, Level: level, Actuators: states}
}

// series builds n readings ending at end, spaced by step, starting at start and moving by delta.
func series(res models.Reservoir, end time.Time, step time.Duration, start, delta float64, n int) []models.Reading {
	out := make([]models.Reading, 0, n)
	for i := 0; i < n; i++ {
		at := end.Add(-time.Duration(n-1-i) * step)
		out = append(out, reading(res, start+delta*float64(i), at))
	}
	return out
}

func TestDecide_EmergencyTargetsAllActuators(t *testing.T) {
	t.Parallel()

	e := testEngine()
	for _, res := range []models.Reservoir{gagok(), sangsa()} {
		for _, level := range []float64{120, 121.5, 180} {
			d := e.Decide(res, reading(res, level, noon), nil)
			if d.Action != models.ActionEmergencyAllOn {
				t.Fatalf("%s level %v: want EMERGENCY_ALL_ON, got %v", res.ID, level, d.Action)
			}
			if d.Urgency != models.UrgencyEmergency {
				t.Fatalf("%s level %v: want EMERGENCY urgency, got %v", res.ID, level, d.Urgency)
			}
			if strings.Join(d.Targets, ",") != strings.Join(res.ActuatorIDs(), ",") {
				t.Fatalf("%s: targets %v must be every actuator", res.ID, d.Targets)
			}
			if d.RiskScore != 1.0 {
				t.Fatalf("risk score: want 1.0, got %v", d.RiskScore)
			}
		}
	}
}

func TestDecide_BelowNormalAllOffMaintains(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	for _, level := range []float64{0, 20, 59.9} {
		d := e.Decide(res, reading(res, level, noon), series(res, noon, time.Minute, level, 0, 5))
		if d.Action != models.ActionMaintain {
			t.Fatalf("level %v: want MAINTAIN, got %v", level, d.Action)
		}
		if len(d.Targets) != 0 {
			t.Fatalf("level %v: maintain must not target actuators, got %v", level, d.Targets)
		}
		if d.Urgency != models.UrgencyLow {
			t.Fatalf("level %v: want LOW urgency, got %v", level, d.Urgency)
		}
	}
}

func TestDecide_BelowNormalStopsRunningPumps(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := sangsa()
	d := e.Decide(res, reading(res, 40, noon, "sangsa_pump_c", "sangsa_pump_a"), nil)
	if d.Action != models.ActionPumpOff {
		t.Fatalf("want PUMP_OFF, got %v", d.Action)
	}
	if strings.Join(d.Targets, ",") != "sangsa_pump_a,sangsa_pump_c" {
		t.Fatalf("targets must be the running pumps in configured order, got %v", d.Targets)
	}
	if d.Urgency != models.UrgencyLow || d.EffectDelay != 30*time.Second {
		t.Fatalf("unexpected urgency/delay: %v %v", d.Urgency, d.EffectDelay)
	}
}

func TestDecide_GagokRisingAtCritical(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	// Strictly increasing by 2 per 30 s tick, ending just before the current reading.
	hist := series(res, noon.Add(-30*time.Second), 30*time.Second, 87, 2, 9)
	d := e.Decide(res, reading(res, 105, noon), hist)

	if d.Action != models.ActionPumpOn && d.Action != models.ActionEmergencyAllOn {
		t.Fatalf("want PUMP_ON or EMERGENCY_ALL_ON, got %v", d.Action)
	}
	if d.Urgency < models.UrgencyCritical {
		t.Fatalf("want urgency >= CRITICAL, got %v", d.Urgency)
	}
	if !strings.Contains(d.Rationale, "105") {
		t.Fatalf("rationale must cite the level: %q", d.Rationale)
	}
	if d.Trend.Direction != models.TrendRising {
		t.Fatalf("want rising trend, got %v", d.Trend.Direction)
	}
	if math.Abs(d.Trend.Slope-4) > 1e-9 {
		t.Fatalf("want slope 4/min, got %v", d.Trend.Slope)
	}
	// 105 + 4*30 crosses 120, so the extrapolation escalates the decision.
	if d.Action != models.ActionEmergencyAllOn {
		t.Fatalf("30 minute extrapolation %v should escalate, got %v", d.Trend.Predicted30m, d.Action)
	}
}

func TestDecide_CriticalTargetCount(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := sangsa()

	tests := []struct {
		name    string
		hist    []models.Reading
		on      []string
		targets int
	}{
		{name: "stable, nothing running", hist: series(res, noon, time.Minute, 105, 0, 6), targets: 1},
		{name: "slowly rising", hist: series(res, noon, time.Minute, 104, 0.2, 6), targets: 2},
		{name: "falling, one running", hist: series(res, noon, time.Minute, 110, -1, 6), on: []string{"sangsa_pump_b"}, targets: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := e.Decide(res, reading(res, 105, noon, tt.on...), tt.hist)
			if d.Action != models.ActionPumpOn || d.Urgency != models.UrgencyCritical {
				t.Fatalf("want PUMP_ON/CRITICAL, got %v/%v (%s)", d.Action, d.Urgency, d.Rationale)
			}
			if len(d.Targets) != tt.targets {
				t.Fatalf("want %d targets, got %v", tt.targets, d.Targets)
			}
		})
	}
}

func TestDecide_WarningBand(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()

	// Rising 1/min from 85: 30 minute extrapolation reaches 115, past critical.
	d := e.Decide(res, reading(res, 85, noon), series(res, noon, time.Minute, 80, 1, 6))
	if d.Action != models.ActionPumpOn || d.Urgency != models.UrgencyHigh {
		t.Fatalf("pre-emptive: want PUMP_ON/HIGH, got %v/%v", d.Action, d.Urgency)
	}
	if len(d.Targets) != 2 {
		t.Fatalf("pre-emptive should use two pumps, got %v", d.Targets)
	}

	d = e.Decide(res, reading(res, 85, noon), series(res, noon, time.Minute, 85, 0, 6))
	if d.Action != models.ActionPumpOn || d.Urgency != models.UrgencyMedium {
		t.Fatalf("stable: want PUMP_ON/MEDIUM, got %v/%v", d.Action, d.Urgency)
	}
	if strings.Join(d.Targets, ",") != "gagok_pump_a" {
		t.Fatalf("stable warning should use the first pump, got %v", d.Targets)
	}
	if got := d.PredictedOutcome[models.OutcomeExpectedReduction]; got != 5.0 {
		t.Fatalf("expected reduction: want 5, got %v", got)
	}
}

func TestDecide_SinglePointHistory(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	d := e.Decide(res, reading(res, 70, noon), []models.Reading{reading(res, 69, noon.Add(-time.Minute))})

	if d.Trend.Direction != models.TrendUnknown {
		t.Fatalf("want unknown trend, got %v", d.Trend.Direction)
	}
	if d.Trend.Confidence != 0 {
		t.Fatalf("want zero trend confidence, got %v", d.Trend.Confidence)
	}
	if d.Trend.Predicted30m != 70 {
		t.Fatalf("prediction should hold the level, got %v", d.Trend.Predicted30m)
	}
	if d.Action != models.ActionMaintain {
		t.Fatalf("want MAINTAIN, got %v", d.Action)
	}
}

func TestDecide_InsufficientData(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	empty := res
	empty.Actuators = nil

	tests := []struct {
		name string
		res  models.Reservoir
		r    models.Reading
	}{
		{name: "nan level", res: res, r: reading(res, math.NaN(), noon)},
		{name: "other reservoir", res: res, r: reading(sangsa(), 130, noon)},
		{name: "no actuators", res: empty, r: reading(res, 130, noon)},
		{name: "zero reading", res: res, r: models.Reading{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := e.Decide(tt.res, tt.r, nil)
			if d.Action != models.ActionMaintain || d.Urgency != models.UrgencyLow {
				t.Fatalf("want MAINTAIN/LOW, got %v/%v", d.Action, d.Urgency)
			}
			if !strings.Contains(d.Rationale, "insufficient data") {
				t.Fatalf("rationale should note insufficient data: %q", d.Rationale)
			}
		})
	}
}

func TestDecide_TargetsAreReservoirActuators(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := sangsa()
	for level := 0.0; level <= 140; level += 2.5 {
		for _, delta := range []float64{-3, 0, 0.5, 3} {
			d := e.Decide(res, reading(res, level, noon, "sangsa_pump_b"), series(res, noon, time.Minute, level, delta, 5))
			for _, id := range d.Targets {
				if !res.HasActuator(id) {
					t.Fatalf("level %v: target %q is not an actuator of %s", level, id, res.ID)
				}
			}
			if d.Confidence < 0 || d.Confidence > 1 {
				t.Fatalf("confidence out of range: %v", d.Confidence)
			}
		}
	}
}

func TestTimeFactor(t *testing.T) {
	t.Parallel()

	e := testEngine()
	tests := []struct {
		hour int
		want float64
	}{
		{hour: 3, want: 0.8},
		{hour: 8, want: 1.2},
		{hour: 12, want: 1},
		{hour: 19, want: 1.2},
		{hour: 23, want: 1},
	}
	for _, tt := range tests {
		at := time.Date(2024, 5, 1, tt.hour, 30, 0, 0, time.UTC)
		if got := e.TimeFactor(at); got != tt.want {
			t.Fatalf("hour %d: want %v, got %v", tt.hour, tt.want, got)
		}
	}
}

func TestDecide_PeakHoursTightenThresholds(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	peak := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	// 85 is a warning at noon but critical once thresholds are divided by 1.2 (critical 83.3).
	d := e.Decide(res, reading(res, 85, peak), nil)
	if d.Urgency != models.UrgencyCritical {
		t.Fatalf("peak hours: want CRITICAL, got %v (%s)", d.Urgency, d.Rationale)
	}

	// 65 is above normal at noon but below the relaxed normal of 75 overnight.
	night := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	d = e.Decide(res, reading(res, 65, night, "gagok_pump_a"), nil)
	if d.Action != models.ActionPumpOff {
		t.Fatalf("low hours: want PUMP_OFF, got %v (%s)", d.Action, d.Rationale)
	}
}

func TestDecide_EmergencyAtAnyHour(t *testing.T) {
	t.Parallel()

	e := testEngine()
	for _, hour := range []int{2, 8, 12} {
		at := time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
		for _, res := range []models.Reservoir{gagok(), sangsa()} {
			for _, level := range []float64{120, 125, 140} {
				d := e.Decide(res, reading(res, level, at), series(res, at, time.Minute, level, 0, 5))
				if d.Action != models.ActionEmergencyAllOn || d.Urgency != models.UrgencyEmergency {
					t.Fatalf("%02d:00 %s level %v: want EMERGENCY_ALL_ON/EMERGENCY, got %v/%v (%s)",
						hour, res.ID, level, d.Action, d.Urgency, d.Rationale)
				}
				if strings.Join(d.Targets, ",") != strings.Join(res.ActuatorIDs(), ",") {
					t.Fatalf("%02d:00 %s: targets %v must be every actuator", hour, res.ID, d.Targets)
				}
			}
		}
	}
}

func TestDecide_BelowNormalAllOffMaintainsAtAnyHour(t *testing.T) {
	t.Parallel()

	e := testEngine()
	res := gagok()
	tests := []struct {
		name  string
		delta float64
	}{
		{name: "stable", delta: 0},
		{name: "falling", delta: -1},
		// steep enough that the 30 minute extrapolation crosses the emergency level
		{name: "steeply rising", delta: 4},
	}
	for _, hour := range []int{2, 8, 12} {
		at := time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
		for _, tt := range tests {
			for _, level := range []float64{0, 30, 59.9} {
				hist := series(res, at, time.Minute, level-tt.delta*4, tt.delta, 5)
				d := e.Decide(res, reading(res, level, at), hist)
				if d.Action != models.ActionMaintain || len(d.Targets) != 0 {
					t.Fatalf("%02d:00 %s level %v: want MAINTAIN with no targets, got %v %v (%s)",
						hour, tt.name, level, d.Action, d.Targets, d.Rationale)
				}
			}
		}
	}
}

func TestComputeTrend(t *testing.T) {
	t.Parallel()

	res := gagok()
	tests := []struct {
		name string
		hist []models.Reading
		dir  models.TrendDirection
	}{
		{name: "empty", hist: nil, dir: models.TrendUnknown},
		{name: "flat", hist: series(res, noon, time.Minute, 70, 0, 5), dir: models.TrendStable},
		{name: "inside dead band", hist: series(res, noon, time.Minute, 70, 0.01, 5), dir: models.TrendStable},
		{name: "rising", hist: series(res, noon, time.Minute, 70, 0.5, 5), dir: models.TrendRising},
		{name: "falling", hist: series(res, noon, time.Minute, 70, -0.5, 5), dir: models.TrendFalling},
		{name: "same timestamp", hist: []models.Reading{reading(res, 70, noon), reading(res, 75, noon)}, dir: models.TrendStable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := computeTrend(72, tt.hist, 0.05)
			if tr.Direction != tt.dir {
				t.Fatalf("want %v, got %v (slope %v)", tt.dir, tr.Direction, tr.Slope)
			}
			if tr.Confidence < 0 || tr.Confidence > 1 {
				t.Fatalf("confidence out of range: %v", tr.Confidence)
			}
			if tr.Predicted30m < 0 || tr.Predicted60m < 0 {
				t.Fatalf("predictions must not go negative: %+v", tr)
			}
		})
	}
}

func TestComputeTrend_RicherHistoryIsMoreConfident(t *testing.T) {
	t.Parallel()

	res := gagok()
	short := computeTrend(80, series(res, noon, time.Minute, 70, 1, 3), 0.05)
	long := computeTrend(80, series(res, noon, time.Minute, 70, 1, 10), 0.05)
	if !(long.Confidence > short.Confidence) {
		t.Fatalf("want more confidence with more points: short=%v long=%v", short.Confidence, long.Confidence)
	}
	if long.Confidence != 1 {
		t.Fatalf("ten steep points should be fully confident, got %v", long.Confidence)
	}
}

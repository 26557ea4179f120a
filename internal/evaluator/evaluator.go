// Package evaluator re-checks decisions once their effect should be visible and scores them.
package evaluator

import (
	"context"
	"math"
	"sync"
	"time"

	"controlling_reservoir/internal/decision"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/metrics"
	"controlling_reservoir/internal/models"
)

const (
	defaultDelay   = 5 * time.Minute
	defaultTimeout = 5 * time.Second
)

type LevelSource interface {
	Latest(ctx context.Context, reservoirID string) (models.Reading, error)
}

type EventLogger interface {
	Log(ctx context.Context, sev models.Severity, cat models.Category, subject, message string, details map[string]any) models.Event
}

type Recorder interface {
	Record(rec models.LearningRecord)
}

// ReservoirLookup resolves a reservoir id; ok is false when it is no longer configured.
type ReservoirLookup func(id string) (models.Reservoir, bool)

type Config struct {
	Delay   time.Duration
	Timeout time.Duration
}

// Evaluator holds pending evaluations in a delay queue drained by Run.
type Evaluator struct {
	source     LevelSource
	events     EventLogger
	learning   Recorder
	reservoirs ReservoirLookup
	delay      time.Duration
	timeout    time.Duration
	log        *logger.Logger
	now        func() time.Time

	mu    sync.Mutex
	queue jobQueue
	seq   uint64
	wake  chan struct{}
}

func New(source LevelSource, events EventLogger, learning Recorder, reservoirs ReservoirLookup, cfg Config, log *logger.Logger) *Evaluator {
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{
		source:     source,
		events:     events,
		learning:   learning,
		reservoirs: reservoirs,
		delay:      cfg.Delay,
		timeout:    cfg.Timeout,
		log:        log,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Schedule queues d for evaluation after the configured delay. It never blocks.
func (e *Evaluator) Schedule(d models.Decision) {
	e.mu.Lock()
	e.seq++
	e.queue.push(job{decision: d, due: e.now().Add(e.delay), seq: e.seq})
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued evaluations.
func (e *Evaluator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Run evaluates jobs as they fall due until ctx is done. Jobs still queued at that point are dropped.
func (e *Evaluator) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := e.next()
		for _, j := range due {
			if ctx.Err() != nil {
				break
			}
			e.evaluate(ctx, j)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			e.drop()
			return nil
		case <-e.wake:
		case <-timer.C:
		}
	}
}

// next pops every due job and returns how long to wait for the following one.
func (e *Evaluator) next() ([]job, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var due []job
	for {
		j, ok := e.queue.peek()
		if !ok {
			return due, time.Hour
		}
		if j.due.After(now) {
			return due, j.due.Sub(now)
		}
		due = append(due, e.queue.pop())
	}
}

func (e *Evaluator) drop() {
	e.mu.Lock()
	n := e.queue.Len()
	e.queue = nil
	e.mu.Unlock()
	if n > 0 {
		e.log.Debugw("evaluations_abandoned", "count", n)
	}
}

func (e *Evaluator) evaluate(ctx context.Context, j job) {
	d := j.decision
	res, ok := e.reservoirs(d.ReservoirID)
	if !ok {
		e.events.Log(ctx, models.SeverityInfo, models.CategoryEvaluation, d.ReservoirID,
			"evaluation discarded: reservoir no longer configured", map[string]any{"action": d.Action.String()})
		return
	}

	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	reading, err := e.source.Latest(rctx, d.ReservoirID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.events.Log(ctx, models.SeverityInfo, models.CategoryEvaluation, d.ReservoirID,
			"evaluation discarded: telemetry unavailable", map[string]any{"action": d.Action.String(), "error": err.Error()})
		return
	}

	rec := Score(res, d, reading.Level, e.now())
	e.learning.Record(rec)
	metrics.EvaluationEffectiveness.WithLabelValues(d.ReservoirID).Observe(rec.Effectiveness)

	e.events.Log(ctx, models.SeverityInfo, models.CategoryEvaluation, d.ReservoirID, "decision evaluated", map[string]any{
		"action":            d.Action.String(),
		"urgency":           d.Urgency.String(),
		"level_at_decision": rec.LevelAtDecision,
		"expected_level":    rec.ExpectedLevel,
		"actual_level":      rec.ActualLevel,
		"accuracy":          rec.Accuracy,
		"effectiveness":     rec.Effectiveness,
		"success":           rec.Effectiveness > decision.SuccessEffectiveness,
	})
}

// Score compares the level observed after a decision with what the decision predicted.
func Score(res models.Reservoir, d models.Decision, actual float64, at time.Time) models.LearningRecord {
	expected := d.Level
	if v, ok := outcomeFloat(d.PredictedOutcome, models.OutcomeExpectedLevel); ok {
		expected = v
	}
	accuracy := math.Max(0, 1-math.Abs(actual-expected)/math.Max(expected, 1))

	var effectiveness float64
	switch d.Action {
	case models.ActionPumpOn, models.ActionEmergencyAllOn:
		want, _ := outcomeFloat(d.PredictedOutcome, models.OutcomeExpectedReduction)
		if want > 0 {
			effectiveness = clamp01((d.Level - actual) / want)
		}
	case models.ActionPumpOff:
		if actual < res.Thresholds.Warning {
			effectiveness = 1
		}
	default:
		effectiveness = accuracy
	}

	return models.LearningRecord{
		ReservoirID:     d.ReservoirID,
		Action:          d.Action,
		Urgency:         d.Urgency,
		DecidedAt:       d.DecidedAt,
		EvaluatedAt:     at,
		LevelAtDecision: d.Level,
		ExpectedLevel:   expected,
		ActualLevel:     actual,
		Accuracy:        round3(accuracy),
		Effectiveness:   round3(effectiveness),
	}
}

func outcomeFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

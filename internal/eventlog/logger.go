// Package eventlog is the append-only automation event stream. Every event lands in a bounded
// in-memory ring and is fanned out to the configured sinks; alert rules are evaluated on the way.
package eventlog

import (
	"context"
	"sync"
	"time"

	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/metrics"
	"controlling_reservoir/internal/models"

	"github.com/google/uuid"
)

const (
	defaultBufferSize = 1000
	sessionLayout     = "20060102_150405"
)

// NewSessionID names an automation session after its start time.
func NewSessionID(at time.Time) string {
	return "AUTO_" + at.Format(sessionLayout)
}

type Config struct {
	BufferSize int
	SessionID  string
	Rules      []Rule
}

// route is a sink plus whether it only receives alert events.
type route struct {
	sink       Sink
	alertsOnly bool
}

type Logger struct {
	log *logger.Logger
	now func() time.Time

	// writeMu orders timestamp assignment and sink writes.
	writeMu sync.Mutex
	lastTS  time.Time
	routes  []route

	ringMu  sync.RWMutex
	ring    []models.Event
	head    int
	count   int
	session string

	alerts *alertEngine

	subMu  sync.Mutex
	subs   map[int]chan models.Event
	nextID int
}

func New(cfg Config, log *logger.Logger) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if log == nil {
		log = logger.Nop()
	}
	l := &Logger{
		log:     log,
		now:     time.Now,
		ring:    make([]models.Event, cfg.BufferSize),
		session: cfg.SessionID,
		subs:    make(map[int]chan models.Event),
	}
	if l.session == "" {
		l.session = NewSessionID(time.Now())
	}
	l.alerts = newAlertEngine(cfg.Rules)
	return l
}

// AddSink registers a sink for every event.
func (l *Logger) AddSink(s Sink) {
	l.writeMu.Lock()
	l.routes = append(l.routes, route{sink: s})
	l.writeMu.Unlock()
}

// AddAlertSink registers a sink that only receives alert events.
func (l *Logger) AddAlertSink(s Sink) {
	l.writeMu.Lock()
	l.routes = append(l.routes, route{sink: s, alertsOnly: true})
	l.writeMu.Unlock()
}

// SetSession switches the session id stamped on new events.
func (l *Logger) SetSession(id string) {
	l.ringMu.Lock()
	l.session = id
	l.ringMu.Unlock()
}

func (l *Logger) Session() string {
	l.ringMu.RLock()
	defer l.ringMu.RUnlock()
	return l.session
}

// Log records one event and returns it as written. Sink failures go to the process log.
func (l *Logger) Log(ctx context.Context, sev models.Severity, cat models.Category, subject, message string, details map[string]any) models.Event {
	e := l.write(ctx, models.Event{
		Severity:  sev,
		Category:  cat,
		SubjectID: subject,
		Message:   message,
		Details:   details,
	}, nil)

	for _, fired := range l.alerts.evaluate(e, l.now()) {
		l.raise(ctx, fired, e)
	}
	return e
}

func (l *Logger) Info(ctx context.Context, cat models.Category, subject, message string, details map[string]any) models.Event {
	return l.Log(ctx, models.SeverityInfo, cat, subject, message, details)
}

func (l *Logger) Warn(ctx context.Context, cat models.Category, subject, message string, details map[string]any) models.Event {
	return l.Log(ctx, models.SeverityWarning, cat, subject, message, details)
}

func (l *Logger) Error(ctx context.Context, cat models.Category, subject, message string, details map[string]any) models.Event {
	return l.Log(ctx, models.SeverityError, cat, subject, message, details)
}

func (l *Logger) Critical(ctx context.Context, cat models.Category, subject, message string, details map[string]any) models.Event {
	return l.Log(ctx, models.SeverityCritical, cat, subject, message, details)
}

// raise writes the alert for a fired rule. It does not go through rule evaluation again.
func (l *Logger) raise(ctx context.Context, r Rule, source models.Event) {
	metrics.AlertsTotal.WithLabelValues(r.Name).Inc()
	details := map[string]any{
		"rule":              r.Name,
		"original_event_id": source.ID,
		"original_message":  source.Message,
	}
	if r.Field != "" {
		if v, ok := source.Details[r.Field]; ok {
			details[r.Field] = v
		}
	}
	l.write(ctx, models.Event{
		Severity:  models.SeverityCritical,
		Category:  models.CategoryAlert,
		SubjectID: source.SubjectID,
		Message:   "alert " + r.Name + ": " + source.Message,
		Details:   details,
	}, &r)
}

// write stamps e and delivers it. alert is set for rule-generated events; they go to the rule's
// sinks, or every sink when the rule names none.
func (l *Logger) write(ctx context.Context, e models.Event, alert *Rule) models.Event {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	ts := l.now().UTC()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts

	e.ID = uuid.NewString()
	e.Timestamp = ts
	e.SessionID = l.Session()

	l.appendRing(e)
	metrics.EventsTotal.WithLabelValues(e.Severity.String(), e.Category.String()).Inc()

	for _, rt := range l.routes {
		if alert != nil {
			if !alert.targets(rt.sink.Name()) {
				continue
			}
		} else if rt.alertsOnly {
			continue
		}
		if err := rt.sink.Write(ctx, e); err != nil {
			metrics.SinkFailures.WithLabelValues(rt.sink.Name()).Inc()
			l.log.Warnw("event_sink_write_failed", "sink", rt.sink.Name(), "event_id", e.ID, "err", err)
		}
	}
	l.publish(e)
	return e
}

func (l *Logger) appendRing(e models.Event) {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	l.ring[l.head] = e
	l.head = (l.head + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
}

// snapshot returns the buffered events, oldest first.
func (l *Logger) snapshot() []models.Event {
	l.ringMu.RLock()
	defer l.ringMu.RUnlock()
	out := make([]models.Event, 0, l.count)
	start := (l.head - l.count + len(l.ring)) % len(l.ring)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Recent returns up to limit of the newest buffered events at or above minSeverity, oldest first.
func (l *Logger) Recent(limit int, minSeverity models.Severity) []models.Event {
	return lastMatching(l.snapshot(), limit, func(e models.Event) bool {
		return e.Severity >= minSeverity
	})
}

// BySubject returns up to limit of the newest buffered events for one subject, oldest first.
func (l *Logger) BySubject(subject string, limit int) []models.Event {
	return lastMatching(l.snapshot(), limit, func(e models.Event) bool {
		return e.SubjectID == subject
	})
}

// Query applies a store filter to the buffered events.
func (l *Logger) Query(f models.EventFilter) []models.Event {
	return lastMatching(l.snapshot(), f.Limit, func(e models.Event) bool {
		return Matches(e, f)
	})
}

// Matches reports whether e passes f.
func Matches(e models.Event, f models.EventFilter) bool {
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

func lastMatching(events []models.Event, limit int, keep func(models.Event) bool) []models.Event {
	out := make([]models.Event, 0)
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Subscribe streams new events. Slow subscribers miss events rather than block writers.
func (l *Logger) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

func (l *Logger) publish(e models.Event) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

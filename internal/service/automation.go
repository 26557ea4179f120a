package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"controlling_reservoir/internal/cooldown"
	"controlling_reservoir/internal/eventlog"
	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/metrics"
	"controlling_reservoir/internal/models"

	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning   = errors.New("automation is already running")
	ErrNotRunning       = errors.New("automation is not running")
	ErrStopTimeout      = errors.New("automation tasks did not stop in time")
	ErrStillStopping    = errors.New("previous automation tasks are still stopping")
	ErrUnknownReservoir = errors.New("unknown reservoir")
	ErrUnknownActuator  = errors.New("actuator does not belong to reservoir")
	ErrNothingPending   = errors.New("no decision is waiting for approval")
)

const recentStatusEvents = 20

// Gateway is the device side of the control loop.
type Gateway interface {
	Mode() gateway.Mode
	Connect(ctx context.Context, preferredPort string) (gateway.Mode, error)
	SetActuator(ctx context.Context, actuatorID string, on bool, duration time.Duration) (gateway.Ack, error)
}

// Telemetry is what the control loop reads readings from.
type Telemetry interface {
	Latest(ctx context.Context, reservoirID string) (models.Reading, error)
	History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error)
	RecordActuator(ctx context.Context, reservoirID, actuatorID string, on bool) error
	Invalidate(ctx context.Context, reservoirID string)
}

type Decider interface {
	Decide(res models.Reservoir, reading models.Reading, history []models.Reading) models.Decision
}

// Events is the automation event stream.
type Events interface {
	Log(ctx context.Context, sev models.Severity, cat models.Category, subject, message string, details map[string]any) models.Event
	Recent(limit int, minSeverity models.Severity) []models.Event
	SetSession(id string)
	Session() string
}

// Scheduler queues decisions for a delayed outcome check.
type Scheduler interface {
	Schedule(d models.Decision)
}

// Task is a background job that runs until its context is canceled.
type Task interface {
	Run(ctx context.Context) error
}

type AutomationConfig struct {
	Interval          time.Duration
	HistoryWindow     time.Duration
	SafetyMode        bool
	SafetyMinUrgency  models.Urgency
	RelaxedMinUrgency models.Urgency
	StopTimeout       time.Duration
	CommandTimeout    time.Duration
	GatewayPort       string
}

type AutomationDeps struct {
	Reservoirs []models.Reservoir
	Gateway    Gateway
	Telemetry  Telemetry
	Engine     Decider
	Cooldown   *cooldown.Tracker
	Events     Events
	Evaluator  Scheduler
	// Tasks run alongside the control loops while automation is started.
	Tasks []Task
	Log   *logger.Logger
}

// loopState is the per-reservoir part of the status.
type loopState struct {
	res           models.Reservoir
	configErr     error
	running       bool
	lastTick      time.Time
	lastSuccess   time.Time
	lastError     string
	lastDecision  *models.Decision
	pendingAction *models.Decision
}

// AutomationManager runs one control loop per valid reservoir and serves the operator actions.
type AutomationManager struct {
	cfg       AutomationConfig
	gw        Gateway
	telemetry Telemetry
	engine    Decider
	cooldown  *cooldown.Tracker
	events    Events
	evaluator Scheduler
	tasks     []Task
	log       *logger.Logger
	now       func() time.Time

	order []string

	// lifeMu guards start and stop.
	lifeMu    sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu         sync.RWMutex
	safetyMode bool
	states     map[string]*loopState
}

func NewAutomationManager(cfg AutomationConfig, deps AutomationDeps) *AutomationManager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = time.Hour
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.SafetyMinUrgency == 0 {
		cfg.SafetyMinUrgency = models.UrgencyCritical
	}
	if cfg.RelaxedMinUrgency == 0 {
		cfg.RelaxedMinUrgency = models.UrgencyMedium
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	if deps.Cooldown == nil {
		deps.Cooldown = cooldown.New(0)
	}

	m := &AutomationManager{
		cfg:        cfg,
		gw:         deps.Gateway,
		telemetry:  deps.Telemetry,
		engine:     deps.Engine,
		cooldown:   deps.Cooldown,
		events:     deps.Events,
		evaluator:  deps.Evaluator,
		tasks:      deps.Tasks,
		log:        log.Named("automation"),
		now:        time.Now,
		safetyMode: cfg.SafetyMode,
		states:     make(map[string]*loopState, len(deps.Reservoirs)),
	}
	for _, res := range deps.Reservoirs {
		st := &loopState{res: res}
		if err := res.Validate(); err != nil {
			st.configErr = faults.New(faults.KindInvalidConfiguration, "reservoir "+res.ID, err)
		}
		if _, dup := m.states[res.ID]; dup {
			continue
		}
		m.states[res.ID] = st
		m.order = append(m.order, res.ID)
	}
	return m
}

// Reservoir returns a reservoir that has a running control loop configuration.
func (m *AutomationManager) Reservoir(id string) (models.Reservoir, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	if !ok || st.configErr != nil {
		return models.Reservoir{}, false
	}
	return st.res, true
}

// Reservoirs returns every valid reservoir in configured order.
func (m *AutomationManager) Reservoirs() []models.Reservoir {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Reservoir, 0, len(m.order))
	for _, id := range m.order {
		if st := m.states[id]; st.configErr == nil {
			out = append(out, st.res)
		}
	}
	return out
}

// Start launches the control loops and background tasks. The loops outlive ctx; use Stop.
func (m *AutomationManager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	if err := m.awaitPrevious(ctx); err != nil {
		return err
	}

	now := m.now()
	m.events.SetSession(eventlog.NewSessionID(now))
	m.checkGateway(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)

	loops := 0
	for _, res := range m.Reservoirs() {
		res := res
		m.setRunning(res.ID, true)
		loops++
		g.Go(func() error {
			defer m.setRunning(res.ID, false)
			m.loop(gctx, res)
			return nil
		})
	}
	for _, task := range m.tasks {
		task := task
		g.Go(func() error { return task.Run(gctx) })
	}
	m.logConfigErrors(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil {
			m.log.Errorw("automation_task_failed", "err", err)
		}
	}()

	m.running = true
	m.cancel = cancel
	m.done = done
	m.startedAt = now

	m.events.Log(ctx, models.SeverityInfo, models.CategorySystem, "system", "automation started", map[string]any{
		"reservoirs":  loops,
		"interval":    m.cfg.Interval.String(),
		"safety_mode": m.SafetyMode(),
	})
	m.log.Infow("automation_started", "session_id", m.events.Session(), "reservoirs", loops)
	return nil
}

// Stop cancels every task and waits for them, bounded by the stop timeout.
func (m *AutomationManager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.running {
		return ErrNotRunning
	}

	m.cancel()
	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-m.done:
	case <-timer.C:
		err = ErrStopTimeout
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}

	m.running = false
	m.cancel = nil
	uptime := m.now().Sub(m.startedAt)

	sev := models.SeverityInfo
	if err != nil {
		sev = models.SeverityWarning
	}
	m.events.Log(ctx, sev, models.CategorySystem, "system", "automation stopped", map[string]any{
		"uptime_sec": int(uptime / time.Second),
		"clean":      err == nil,
	})
	m.log.Infow("automation_stopped", "uptime", uptime, "err", err)
	return err
}

// awaitPrevious blocks until the tasks of a timed out Stop have returned, bounded by the stop
// timeout, so two loops never drive the same reservoir.
func (m *AutomationManager) awaitPrevious(ctx context.Context) error {
	if m.done == nil {
		return nil
	}
	select {
	case <-m.done:
		m.done = nil
		return nil
	default:
	}

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-m.done:
		m.done = nil
		return nil
	case <-timer.C:
		return ErrStillStopping
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStillStopping, ctx.Err())
	}
}

// Running reports whether Start has been called without a matching Stop.
func (m *AutomationManager) Running() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.running
}

// Status never fails; failures show up as per-reservoir errors.
func (m *AutomationManager) Status(ctx context.Context) models.AutomationStatus {
	m.lifeMu.Lock()
	running, startedAt := m.running, m.startedAt
	m.lifeMu.Unlock()

	mode := gateway.ModeDisconnected
	if m.gw != nil {
		mode = m.gw.Mode()
	}

	st := models.AutomationStatus{
		Running:          running,
		SessionID:        m.events.Session(),
		SafetyMode:       m.SafetyMode(),
		GatewayMode:      mode.String(),
		GatewayConnected: mode == gateway.ModeConnected,
		RecentEvents:     m.events.Recent(recentStatusEvents, models.SeverityInfo),
	}
	if running {
		st.StartedAt = startedAt
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		ls := m.states[id]
		rs := models.ReservoirStatus{
			ReservoirID:   id,
			Name:          ls.res.Name,
			Running:       ls.running,
			LastTickAt:    ls.lastTick,
			LastSuccessAt: ls.lastSuccess,
			LastDecision:  ls.lastDecision,
			LastError:     ls.lastError,
			PendingAction: ls.pendingAction,
		}
		if ls.configErr != nil {
			rs.ConfigError = ls.configErr.Error()
		}
		st.Reservoirs = append(st.Reservoirs, rs)
	}
	return st
}

func (m *AutomationManager) SafetyMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.safetyMode
}

// SetSafetyMode switches the auto-execute cutoff between the safety and relaxed urgencies.
func (m *AutomationManager) SetSafetyMode(ctx context.Context, on bool) {
	m.mu.Lock()
	prev := m.safetyMode
	m.safetyMode = on
	m.mu.Unlock()
	if prev == on {
		return
	}
	state := "disabled"
	if on {
		state = "enabled"
	}
	m.events.Log(ctx, models.SeverityInfo, models.CategoryConfig, "system", "safety mode "+state, map[string]any{
		"safety_mode":      on,
		"auto_min_urgency": m.minAutoUrgency().String(),
	})
}

// ManualOverride switches one actuator on behalf of an operator. Gateway failures are reported in
// the result, not as an error; errors are only returned for unknown targets.
func (m *AutomationManager) ManualOverride(ctx context.Context, req models.OverrideRequest) (models.OverrideResult, error) {
	res, ok := m.Reservoir(req.ReservoirID)
	if !ok {
		return models.OverrideResult{}, fmt.Errorf("%w: %q", ErrUnknownReservoir, req.ReservoirID)
	}
	if !res.HasActuator(req.ActuatorID) {
		return models.OverrideResult{}, fmt.Errorf("%w: %q in %q", ErrUnknownActuator, req.ActuatorID, req.ReservoirID)
	}

	out := models.OverrideResult{ReservoirID: res.ID, ActuatorID: req.ActuatorID, On: req.On}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	ack, err := m.gw.SetActuator(cctx, req.ActuatorID, req.On, req.Duration)
	cancel()
	m.cooldown.Mark(req.ActuatorID)
	out.At = m.now().UTC()

	details := map[string]any{
		"reservoir_id":   res.ID,
		"on":             req.On,
		"operator":       req.Operator,
		"command_failed": err != nil,
	}
	if req.Duration > 0 {
		details["duration_sec"] = int(req.Duration / time.Second)
	}

	if err != nil {
		m.telemetry.Invalidate(ctx, res.ID)
		out.Error = err.Error()
		details["error"] = err.Error()
		details["error_kind"] = string(faults.KindOf(err))
		metrics.DispatchesTotal.WithLabelValues(req.ActuatorID, "failed").Inc()
		m.events.Log(ctx, models.SeverityError, models.CategoryManual, req.ActuatorID, "manual override failed", details)
		return out, nil
	}

	out.Success = true
	out.Response = ack.Response
	details["response"] = ack.Response
	details["simulated"] = ack.Simulated
	metrics.DispatchesTotal.WithLabelValues(req.ActuatorID, "ok").Inc()
	if err := m.telemetry.RecordActuator(ctx, res.ID, req.ActuatorID, req.On); err != nil {
		m.log.Warnw("record_actuator_failed", "reservoir", res.ID, "actuator", req.ActuatorID, "err", err)
		m.telemetry.Invalidate(ctx, res.ID)
	}
	m.events.Log(ctx, models.SeverityInfo, models.CategoryManual, req.ActuatorID, "manual override "+onOff(req.On), details)
	return out, nil
}

// Approve executes the decision held for a reservoir.
func (m *AutomationManager) Approve(ctx context.Context, reservoirID, operator string) (models.Decision, error) {
	res, ok := m.Reservoir(reservoirID)
	if !ok {
		return models.Decision{}, fmt.Errorf("%w: %q", ErrUnknownReservoir, reservoirID)
	}

	m.mu.Lock()
	st := m.states[reservoirID]
	pending := st.pendingAction
	st.pendingAction = nil
	m.mu.Unlock()
	if pending == nil {
		return models.Decision{}, ErrNothingPending
	}

	m.events.Log(ctx, models.SeverityInfo, models.CategoryManual, reservoirID, "held decision approved", map[string]any{
		"action":   pending.Action.String(),
		"urgency":  pending.Urgency.String(),
		"operator": operator,
	})

	rctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	reading, err := m.telemetry.Latest(rctx, reservoirID)
	cancel()
	if err != nil {
		m.reportReadFailure(ctx, res, err)
		return *pending, err
	}
	m.execute(ctx, res, *pending, reading)
	return *pending, nil
}

func (m *AutomationManager) loop(ctx context.Context, res models.Reservoir) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		m.tick(ctx, res)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// tick runs one pass of the control loop. A panic is contained to the tick.
func (m *AutomationManager) tick(ctx context.Context, res models.Reservoir) {
	start := m.now()
	defer func() {
		if r := recover(); r != nil {
			metrics.TicksTotal.WithLabelValues(res.ID, "panic").Inc()
			m.setError(res.ID, fmt.Sprintf("tick panicked: %v", r))
			m.log.Errorw("tick_panicked", "reservoir", res.ID, "panic", r)
			m.events.Log(ctx, models.SeverityCritical, models.CategorySystem, res.ID, "control loop tick panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
		metrics.TickDuration.WithLabelValues(res.ID).Observe(m.now().Sub(start).Seconds())
	}()

	m.mu.Lock()
	m.states[res.ID].lastTick = start
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	reading, err := m.telemetry.Latest(rctx, res.ID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.TicksTotal.WithLabelValues(res.ID, "telemetry_error").Inc()
		m.reportReadFailure(ctx, res, err)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	history, err := m.telemetry.History(hctx, res.ID, m.cfg.HistoryWindow)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warnw("history_unavailable", "reservoir", res.ID, "err", err)
		history = nil
	}
	metrics.WaterLevel.WithLabelValues(res.ID).Set(reading.Level)

	d := m.engine.Decide(res, reading, history)
	metrics.DecisionsTotal.WithLabelValues(res.ID, d.Action.String(), d.Urgency.String()).Inc()

	m.mu.Lock()
	st := m.states[res.ID]
	st.lastDecision = &d
	m.mu.Unlock()

	m.events.Log(ctx, decisionSeverity(d.Urgency), models.CategoryDecision, res.ID, d.Rationale, decisionDetails(d))

	plan := dispatchPlan(d, reading)
	switch {
	case len(plan) == 0:
		m.clearPending(res.ID)
	case !m.autoExecute(d.Urgency):
		m.hold(ctx, res, d, plan)
	default:
		m.clearPending(res.ID)
		if ctx.Err() != nil {
			return
		}
		m.execute(ctx, res, d, reading)
	}

	metrics.TicksTotal.WithLabelValues(res.ID, "ok").Inc()
	m.mu.Lock()
	st.lastSuccess = m.now()
	st.lastError = ""
	m.mu.Unlock()
}

func (m *AutomationManager) reportReadFailure(ctx context.Context, res models.Reservoir, err error) {
	m.setError(res.ID, err.Error())
	details := map[string]any{
		"error":      err.Error(),
		"error_kind": string(faults.KindOf(err)),
	}
	if m.gw != nil {
		details["gateway_connected"] = m.gw.Mode() == gateway.ModeConnected
	}
	m.events.Log(ctx, models.SeverityError, models.CategoryError, res.ID, "telemetry read failed", details)
}

func (m *AutomationManager) hold(ctx context.Context, res models.Reservoir, d models.Decision, plan []string) {
	m.mu.Lock()
	m.states[res.ID].pendingAction = &d
	m.mu.Unlock()
	m.events.Log(ctx, models.SeverityWarning, models.CategoryAlert, res.ID, "decision held for operator approval", map[string]any{
		"action":           d.Action.String(),
		"urgency":          d.Urgency.String(),
		"targets":          plan,
		"auto_min_urgency": m.minAutoUrgency().String(),
		"safety_mode":      m.SafetyMode(),
	})
}

// execute dispatches every target whose state differs from the reading, then schedules the
// outcome check.
func (m *AutomationManager) execute(ctx context.Context, res models.Reservoir, d models.Decision, reading models.Reading) {
	on, _ := d.Action.DesiredState()
	attempted, failed := 0, 0
	var failedIDs []string
	for _, id := range dispatchPlan(d, reading) {
		if ctx.Err() != nil {
			return
		}
		switch m.dispatch(ctx, res, id, on) {
		case dispatchOK:
			attempted++
		case dispatchFailed:
			attempted++
			failed++
			failedIDs = append(failedIDs, id)
		}
	}

	if failed >= 2 {
		m.events.Log(ctx, models.SeverityError, models.CategoryError, res.ID, "multiple actuator commands failed", map[string]any{
			"failed_actuators_count": failed,
			"failed_actuators":       failedIDs,
		})
	}
	if attempted > failed && m.evaluator != nil {
		m.evaluator.Schedule(d)
	}
}

type dispatchResult int

const (
	dispatchOK dispatchResult = iota
	dispatchFailed
	dispatchSuppressed
)

func (m *AutomationManager) dispatch(ctx context.Context, res models.Reservoir, actuatorID string, on bool) dispatchResult {
	if ok, left := m.cooldown.TryAcquire(actuatorID); !ok {
		metrics.DispatchesTotal.WithLabelValues(actuatorID, "cooldown").Inc()
		m.events.Log(ctx, models.SeverityDebug, models.CategoryAction, actuatorID, "command suppressed by cooldown", map[string]any{
			"reservoir_id":  res.ID,
			"on":            on,
			"remaining_sec": int(left / time.Second),
		})
		return dispatchSuppressed
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	ack, err := m.gw.SetActuator(cctx, actuatorID, on, 0)
	cancel()
	m.cooldown.Mark(actuatorID)

	if err != nil {
		metrics.DispatchesTotal.WithLabelValues(actuatorID, "failed").Inc()
		m.telemetry.Invalidate(ctx, res.ID)
		m.events.Log(ctx, models.SeverityError, models.CategoryAction, actuatorID, "actuator command failed", map[string]any{
			"reservoir_id":   res.ID,
			"on":             on,
			"command_failed": true,
			"error":          err.Error(),
			"error_kind":     string(faults.KindOf(err)),
		})
		return dispatchFailed
	}

	metrics.DispatchesTotal.WithLabelValues(actuatorID, "ok").Inc()
	if err := m.telemetry.RecordActuator(ctx, res.ID, actuatorID, on); err != nil {
		m.log.Warnw("record_actuator_failed", "reservoir", res.ID, "actuator", actuatorID, "err", err)
		m.telemetry.Invalidate(ctx, res.ID)
	}
	m.events.Log(ctx, models.SeverityInfo, models.CategoryAction, actuatorID, "actuator switched "+onOff(on), map[string]any{
		"reservoir_id":   res.ID,
		"on":             on,
		"command_failed": false,
		"response":       ack.Response,
		"simulated":      ack.Simulated,
	})
	return dispatchOK
}

// checkGateway connects a disconnected gateway and reports the mode it ends up in.
func (m *AutomationManager) checkGateway(ctx context.Context) {
	if m.gw == nil {
		return
	}
	mode := m.gw.Mode()
	if mode == gateway.ModeDisconnected {
		var err error
		mode, err = m.gw.Connect(ctx, m.cfg.GatewayPort)
		if err != nil {
			m.log.Warnw("gateway_connect_failed", "err", err)
		}
	}
	details := map[string]any{
		"mode":              mode.String(),
		"gateway_connected": mode == gateway.ModeConnected,
	}
	if mode == gateway.ModeConnected {
		m.events.Log(ctx, models.SeverityInfo, models.CategorySystem, "gateway", "gateway connected", details)
		return
	}
	m.events.Log(ctx, models.SeverityWarning, models.CategorySystem, "gateway", "gateway not connected, running in "+mode.String()+" mode", details)
}

func (m *AutomationManager) logConfigErrors(ctx context.Context) {
	m.mu.RLock()
	var bad []*loopState
	for _, id := range m.order {
		if st := m.states[id]; st.configErr != nil {
			bad = append(bad, st)
		}
	}
	m.mu.RUnlock()
	for _, st := range bad {
		m.events.Log(ctx, models.SeverityError, models.CategoryError, st.res.ID, "reservoir not started: invalid configuration", map[string]any{
			"error":      st.configErr.Error(),
			"error_kind": string(faults.KindInvalidConfiguration),
		})
	}
}

func (m *AutomationManager) minAutoUrgency() models.Urgency {
	if m.SafetyMode() {
		return m.cfg.SafetyMinUrgency
	}
	return m.cfg.RelaxedMinUrgency
}

func (m *AutomationManager) autoExecute(u models.Urgency) bool {
	return u >= m.minAutoUrgency()
}

func (m *AutomationManager) clearPending(id string) {
	m.mu.Lock()
	m.states[id].pendingAction = nil
	m.mu.Unlock()
}

func (m *AutomationManager) setRunning(id string, running bool) {
	m.mu.Lock()
	m.states[id].running = running
	m.mu.Unlock()
}

func (m *AutomationManager) setError(id, msg string) {
	m.mu.Lock()
	m.states[id].lastError = msg
	m.mu.Unlock()
}

// dispatchPlan lists the decision's targets whose last known state differs from the requested one.
func dispatchPlan(d models.Decision, reading models.Reading) []string {
	on, ok := d.Action.DesiredState()
	if !ok {
		return nil
	}
	var plan []string
	for _, id := range d.Targets {
		if reading.Actuators[id] != on {
			plan = append(plan, id)
		}
	}
	return plan
}

func decisionSeverity(u models.Urgency) models.Severity {
	switch {
	case u >= models.UrgencyEmergency:
		return models.SeverityCritical
	case u >= models.UrgencyHigh:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func decisionDetails(d models.Decision) map[string]any {
	targets := append([]string(nil), d.Targets...)
	sort.Strings(targets)
	details := map[string]any{
		"action":           d.Action.String(),
		"targets":          targets,
		"urgency":          d.Urgency.String(),
		"confidence":       d.Confidence,
		"risk_score":       d.RiskScore,
		"current_level":    d.Level,
		"trend":            d.Trend.Direction.String(),
		"slope_per_min":    d.Trend.Slope,
		"predicted_30m":    d.Trend.Predicted30m,
		"predicted_60m":    d.Trend.Predicted60m,
		"effect_delay_sec": int(d.EffectDelay / time.Second),
	}
	for k, v := range d.PredictedOutcome {
		details["outcome_"+k] = v
	}
	return details
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

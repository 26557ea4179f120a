package service

import (
	"context"
	"time"

	"controlling_reservoir/internal/config"
	"controlling_reservoir/internal/cooldown"
	"controlling_reservoir/internal/decision"
	"controlling_reservoir/internal/evaluator"
	"controlling_reservoir/internal/eventlog"
	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"
	"controlling_reservoir/internal/telemetry"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
	Operator(accessToken string) (string, error)
	TokenTTL() time.Duration
}

// Automation exposes the operator actions on the control loops.
type Automation interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) models.AutomationStatus
	SetSafetyMode(ctx context.Context, on bool)
	ManualOverride(ctx context.Context, req models.OverrideRequest) (models.OverrideResult, error)
	Approve(ctx context.Context, reservoirID, operator string) (models.Decision, error)
}

// Monitoring exposes read-only reservoir state.
type Monitoring interface {
	Reservoirs() []models.Reservoir
	Reading(ctx context.Context, reservoirID string) (models.Reading, error)
	History(ctx context.Context, reservoirID string, window time.Duration) ([]models.Reading, error)
	Learning(reservoirID string) (LearningReport, error)
}

// EventLog exposes the event history with filtering and a live feed.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.Event, error)
	Subscribe(buffer int) (<-chan models.Event, func())
}

type Service struct {
	Automation
	Monitoring
	EventLog
	Authorization
}

// Deps are the pieces built by main from the configuration.
type Deps struct {
	Repos *repository.Repository
	// Telemetry overrides Repos.Telemetry when the readings live elsewhere.
	Telemetry repository.TelemetryStore
	Cache     telemetry.Cache
	Gateway   *gateway.Device
	Events    *eventlog.Logger
	Log       *logger.Logger
}

// NewService wires the control loop, telemetry, evaluation and query services together.
func NewService(cfg *config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	store := deps.Telemetry
	if store == nil && deps.Repos != nil {
		store = deps.Repos.Telemetry
	}

	reservoirs := make([]models.Reservoir, 0, len(cfg.Reservoirs))
	for _, rc := range cfg.Reservoirs {
		reservoirs = append(reservoirs, rc.Reservoir())
	}

	source := telemetry.NewSource(store, deps.Cache, telemetry.Config{
		TTL:          cfg.Telemetry.CacheTTL,
		HistorySize:  cfg.Telemetry.HistorySize,
		StoreTimeout: cfg.Telemetry.StoreTimeout,
	}, log.Named("telemetry"))
	learning := decision.NewLearning(cfg.Decision.LearningSize)

	safetyMin, _ := models.ParseUrgency(cfg.Automation.SafetyMinUrgency)
	relaxedMin, _ := models.ParseUrgency(cfg.Automation.RelaxedMinUrgency)

	// Tasks are attached after the manager exists; the evaluator needs its reservoir lookup.
	manager := NewAutomationManager(AutomationConfig{
		Interval:          cfg.Automation.Interval,
		HistoryWindow:     cfg.Telemetry.HistoryWindow,
		SafetyMode:        cfg.Automation.SafetyMode,
		SafetyMinUrgency:  safetyMin,
		RelaxedMinUrgency: relaxedMin,
		StopTimeout:       cfg.Automation.StopTimeout,
		CommandTimeout:    cfg.Automation.CommandTimeout,
		GatewayPort:       cfg.Gateway.Port,
	}, AutomationDeps{
		Reservoirs: reservoirs,
		Gateway:    deps.Gateway,
		Telemetry:  source,
		Engine:     decision.NewEngine(decisionConfig(cfg.Decision)),
		Cooldown:   cooldown.New(cfg.Automation.Cooldown),
		Events:     deps.Events,
		Log:        log,
	})

	eval := evaluator.New(source, deps.Events, learning, manager.Reservoir, evaluator.Config{
		Delay:   cfg.Automation.EvaluationDelay,
		Timeout: cfg.Automation.CommandTimeout,
	}, log.Named("evaluator"))
	manager.evaluator = eval
	manager.tasks = append(manager.tasks, eval)

	ids := make([]string, 0, len(reservoirs))
	for _, r := range manager.Reservoirs() {
		ids = append(ids, r.ID)
	}
	refresher := telemetry.NewRefresher(deps.Gateway, source, ids, cfg.Telemetry.RefreshInterval, cfg.Automation.CommandTimeout, log.Named("refresher"))
	refresher.OnError = sampleFailureReporter(deps.Events, deps.Gateway)
	manager.tasks = append(manager.tasks, refresher)

	if deps.Repos != nil && deps.Repos.Events != nil && cfg.Events.RetentionDays > 0 {
		manager.tasks = append(manager.tasks, eventlog.NewRetention(deps.Repos.Events, cfg.Events.RetentionDays, log.Named("retention")))
	}

	var eventRepo repository.EventRepo
	var auth repository.Authorization
	if deps.Repos != nil {
		eventRepo = deps.Repos.Events
		auth = deps.Repos.Auth
	}

	return &Service{
		Automation:    manager,
		Monitoring:    NewMonitoringService(source, manager, learning),
		EventLog:      NewEventLogService(eventRepo, deps.Events, log),
		Authorization: NewAuthService(auth, cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
	}
}

func decisionConfig(c config.DecisionConfig) decision.Config {
	out := decision.DefaultConfig()
	if c.PeakHours != nil {
		out.PeakHours = hourRanges(c.PeakHours)
	}
	if c.LowHours != nil {
		out.LowHours = hourRanges(c.LowHours)
	}
	if c.PeakFactor > 0 {
		out.PeakFactor = c.PeakFactor
	}
	if c.LowFactor > 0 {
		out.LowFactor = c.LowFactor
	}
	out.DeadBand = c.DeadBand
	return out
}

func hourRanges(in []config.HourRange) []decision.HourRange {
	out := make([]decision.HourRange, 0, len(in))
	for _, h := range in {
		out = append(out, decision.HourRange{From: h.From, To: h.To})
	}
	return out
}

// sampleFailureReporter turns failed background samples into Error events. Store failures get
// their own message since the control loop keeps serving the remembered reading.
func sampleFailureReporter(events Events, gw Gateway) func(ctx context.Context, reservoirID string, err error) {
	return func(ctx context.Context, reservoirID string, err error) {
		kind := faults.KindOf(err)
		msg := "gateway sample failed"
		if kind == faults.KindStoreUnavailable {
			msg = "telemetry store write failed"
		}
		events.Log(ctx, models.SeverityError, models.CategoryError, reservoirID, msg, map[string]any{
			"error":             err.Error(),
			"error_kind":        string(kind),
			"gateway_connected": gw.Mode() == gateway.ModeConnected,
		})
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"controlling_reservoir/internal/config"
	"controlling_reservoir/internal/eventlog"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/handlers"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"
	"controlling_reservoir/internal/repository/db"
	"controlling_reservoir/internal/repository/influx"
	"controlling_reservoir/internal/server"
	"controlling_reservoir/internal/service"
	"controlling_reservoir/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout  = 10 * time.Second
	storeSinkTimeout = 5 * time.Second
	mqttQuiesceMs    = 250
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the automation loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	database, err := db.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN)
	if err != nil {
		log.Errorw("failed to open database", "driver", cfg.DB.Driver, "err", err)
		return err
	}
	defer closeDB(database, log)

	repos := repository.NewRepository(database, cfg.DB.Driver)
	store, closeStore := telemetryStore(cfg, repos)
	defer closeStore()
	cache := telemetryCache(cfg, log)

	reservoirs := configuredReservoirs(cfg)
	device := gateway.New(gatewayConfig(cfg, reservoirs), log.Named("gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if mode, err := device.Connect(ctx, cfg.Gateway.Port); err != nil {
		log.Warnw("gateway_connect_failed", "err", err)
	} else {
		log.Infow("gateway_ready", "mode", mode.String(), "port", device.Port())
	}
	defer func() { _ = device.Disconnect() }()

	events, closeSinks, err := eventLogger(cfg, repos, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	services := service.NewService(cfg, service.Deps{
		Repos:     repos,
		Telemetry: store,
		Cache:     cache,
		Gateway:   device,
		Events:    events,
		Log:       log,
	})
	apiHandler := handlers.NewHandler(services, log.Named("http"))

	if cfg.Automation.AutoStart {
		if err := services.Automation.Start(ctx); err != nil {
			log.Errorw("automation_auto_start_failed", "err", err)
		}
	}

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(cancel, srv, services, log)
	return nil
}

func telemetryStore(cfg *config.Config, repos *repository.Repository) (repository.TelemetryStore, func()) {
	if cfg.Telemetry.Backend == "influx" {
		s := influx.NewTelemetryStore(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		return s, s.Close
	}
	return repos.Telemetry, func() {}
}

// telemetryCache returns nil for the in-process cache.
func telemetryCache(cfg *config.Config, log *logger.Logger) telemetry.Cache {
	if cfg.Telemetry.Cache != "redis" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Infow("telemetry_cache", "backend", "redis", "addr", cfg.Redis.Addr)
	return telemetry.NewRedisCache(client)
}

func configuredReservoirs(cfg *config.Config) []models.Reservoir {
	out := make([]models.Reservoir, 0, len(cfg.Reservoirs))
	for _, rc := range cfg.Reservoirs {
		out = append(out, rc.Reservoir())
	}
	return out
}

func gatewayConfig(cfg *config.Config, reservoirs []models.Reservoir) gateway.Config {
	profiles := make(map[string]gateway.SimProfile)
	for _, rc := range cfg.Reservoirs {
		if rc.Sim.Base == 0 && rc.Sim.Amplitude == 0 {
			continue
		}
		profiles[rc.ID] = gateway.SimProfile{
			Base:      rc.Sim.Base,
			Amplitude: rc.Sim.Amplitude,
			Phase:     rc.Sim.Phase,
			Noise:     rc.Sim.Noise,
		}
	}
	return gateway.Config{
		Port:              cfg.Gateway.Port,
		BaudRate:          cfg.Gateway.BaudRate,
		Timeout:           cfg.Gateway.Timeout,
		ReconnectInterval: cfg.Gateway.ReconnectInterval,
		Simulate:          cfg.Gateway.Simulate,
		Seed:              cfg.Gateway.Seed,
		Reservoirs:        reservoirs,
		Profiles:          profiles,
	}
}

// eventLogger builds the event log with every configured sink. The returned func closes them.
func eventLogger(cfg *config.Config, repos *repository.Repository, log *logger.Logger) (*eventlog.Logger, func(), error) {
	rules, err := eventlog.RulesFromConfig(cfg.Alerts.Rules)
	if err != nil {
		return nil, nil, err
	}
	events := eventlog.New(eventlog.Config{BufferSize: cfg.Events.BufferSize, Rules: rules}, log.Named("events"))

	minConsole := models.SeverityInfo
	if s := cfg.Events.ConsoleMinSeverity; s != "" {
		minConsole, _ = models.ParseSeverity(s)
	}
	events.AddSink(eventlog.NewConsoleSink(log.Named("events"), minConsole))
	events.AddSink(eventlog.NewStoreSink(repos.Events, storeSinkTimeout))

	var closers []func()
	if m := cfg.Sinks.MQTT; m.Broker != "" {
		client, err := eventlog.DialMQTT(m.Broker, m.ClientID)
		if err != nil {
			log.Warnw("mqtt_sink_disabled", "broker", m.Broker, "err", err)
		} else {
			events.AddSink(eventlog.NewMQTTSink(client, m.Topic))
			closers = append(closers, func() { client.Disconnect(mqttQuiesceMs) })
		}
	}
	if k := cfg.Sinks.Kafka; len(k.Brokers) > 0 {
		sink := eventlog.NewKafkaSink(eventlog.NewKafkaWriter(k.Brokers, k.Topic))
		events.AddSink(sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				log.Warnw("kafka_sink_close_failed", "err", err)
			}
		})
	}
	if w := cfg.Sinks.Webhook; w.URL != "" {
		events.AddAlertSink(eventlog.NewWebhookSink(w.URL))
	}

	return events, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func closeDB(database *sql.DB, log *logger.Logger) {
	if err := database.Close(); err != nil {
		log.Errorw("failed to close database", "err", err)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := services.Automation.Stop(ctx); err != nil && !errors.Is(err, service.ErrNotRunning) {
		log.Warnw("automation_stop_failed", "err", err)
	}
	cancel()

	// allow in-flight requests to complete
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}

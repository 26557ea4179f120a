// Package config loads the service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"controlling_reservoir/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "RESERVOIR"

type Config struct {
	Port       string            `mapstructure:"port" validate:"required"`
	Log        LogConfig         `mapstructure:"log"`
	DB         DBConfig          `mapstructure:"db"`
	Telemetry  TelemetryConfig   `mapstructure:"telemetry"`
	Influx     InfluxConfig      `mapstructure:"influx"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Gateway    GatewayConfig     `mapstructure:"gateway"`
	Automation AutomationConfig  `mapstructure:"automation"`
	Decision   DecisionConfig    `mapstructure:"decision"`
	Events     EventsConfig      `mapstructure:"events"`
	Alerts     AlertsConfig      `mapstructure:"alerts"`
	Sinks      SinksConfig       `mapstructure:"sinks"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Reservoirs []ReservoirConfig `mapstructure:"reservoirs" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type TelemetryConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=sql influx"`
	Cache           string        `mapstructure:"cache" validate:"oneof=memory redis"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	HistoryWindow   time.Duration `mapstructure:"history_window" validate:"gt=0"`
	HistorySize     int           `mapstructure:"history_size" validate:"gt=1"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GatewayConfig struct {
	Port              string        `mapstructure:"port"`
	BaudRate          int           `mapstructure:"baud_rate" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"gt=0"`
	Simulate          bool          `mapstructure:"simulate"`
	Seed              uint64        `mapstructure:"seed"`
}

type AutomationConfig struct {
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	SafetyMode        bool          `mapstructure:"safety_mode"`
	SafetyMinUrgency  string        `mapstructure:"safety_min_urgency" validate:"oneof=low medium high critical emergency"`
	RelaxedMinUrgency string        `mapstructure:"relaxed_min_urgency" validate:"oneof=low medium high critical emergency"`
	Cooldown          time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	EvaluationDelay   time.Duration `mapstructure:"evaluation_delay" validate:"gt=0"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	AutoStart         bool          `mapstructure:"auto_start"`
}

type HourRange struct {
	From int `mapstructure:"from" validate:"gte=0,lte=23"`
	To   int `mapstructure:"to" validate:"gte=0,lte=23"`
}

type DecisionConfig struct {
	PeakHours    []HourRange `mapstructure:"peak_hours" validate:"dive"`
	PeakFactor   float64     `mapstructure:"peak_factor" validate:"gt=0"`
	LowHours     []HourRange `mapstructure:"low_hours" validate:"dive"`
	LowFactor    float64     `mapstructure:"low_factor" validate:"gt=0"`
	DeadBand     float64     `mapstructure:"dead_band" validate:"gte=0"`
	LearningSize int         `mapstructure:"learning_size" validate:"gt=0"`
}

type EventsConfig struct {
	BufferSize         int    `mapstructure:"buffer_size" validate:"gt=0"`
	RetentionDays      int    `mapstructure:"retention_days" validate:"gte=0"`
	ConsoleMinSeverity string `mapstructure:"console_min_severity"`
}

type AlertRuleConfig struct {
	Name      string        `mapstructure:"name" validate:"required"`
	When      string        `mapstructure:"when" validate:"oneof=above equals"`
	Field     string        `mapstructure:"field" validate:"required"`
	Threshold float64       `mapstructure:"threshold"`
	Value     string        `mapstructure:"value"`
	Cooldown  time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	Sinks     []string      `mapstructure:"sinks"`
	Disabled  bool          `mapstructure:"disabled"`
}

type AlertsConfig struct {
	Rules []AlertRuleConfig `mapstructure:"rules" validate:"dive"`
}

type MQTTSinkConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

type KafkaSinkConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebhookSinkConfig struct {
	URL string `mapstructure:"url"`
}

type SinksConfig struct {
	MQTT    MQTTSinkConfig    `mapstructure:"mqtt"`
	Kafka   KafkaSinkConfig   `mapstructure:"kafka"`
	Webhook WebhookSinkConfig `mapstructure:"webhook"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key" validate:"required"`
	TokenTTL   time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

type ThresholdsConfig struct {
	Normal    float64 `mapstructure:"normal"`
	Warning   float64 `mapstructure:"warning"`
	Critical  float64 `mapstructure:"critical"`
	Emergency float64 `mapstructure:"emergency"`
}

type ActuatorConfig struct {
	ID   string `mapstructure:"id"`
	Pump int    `mapstructure:"pump"`
}

// SimConfig shapes the synthetic level curve used in simulated mode.
type SimConfig struct {
	Base      float64 `mapstructure:"base"`
	Amplitude float64 `mapstructure:"amplitude"`
	Phase     float64 `mapstructure:"phase"`
	Noise     float64 `mapstructure:"noise"`
}

type ReservoirConfig struct {
	ID         string           `mapstructure:"id" validate:"required"`
	Name       string           `mapstructure:"name"`
	Channel    int              `mapstructure:"channel" validate:"gte=0"`
	Actuators  []ActuatorConfig `mapstructure:"actuators"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Sim        SimConfig        `mapstructure:"sim"`
}

// Reservoir converts the config entry to the domain type. Domain validation is left to the caller
// so that one bad reservoir does not prevent the others from running.
func (r ReservoirConfig) Reservoir() models.Reservoir {
	acts := make([]models.Actuator, 0, len(r.Actuators))
	for _, a := range r.Actuators {
		acts = append(acts, models.Actuator{ID: a.ID, Pump: a.Pump})
	}
	name := r.Name
	if name == "" {
		name = r.ID
	}
	return models.Reservoir{
		ID:        r.ID,
		Name:      name,
		Channel:   r.Channel,
		Actuators: acts,
		Thresholds: models.Thresholds{
			Normal:    r.Thresholds.Normal,
			Warning:   r.Thresholds.Warning,
			Critical:  r.Thresholds.Critical,
			Emergency: r.Thresholds.Emergency,
		},
	}
}

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid config")

// Load reads configs/config.yml (or the file at path when set) with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the struct tag rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := models.ParseUrgency(cfg.Automation.SafetyMinUrgency); err != nil {
		return fmt.Errorf("%w: automation.safety_min_urgency: %v", ErrInvalid, err)
	}
	if _, err := models.ParseUrgency(cfg.Automation.RelaxedMinUrgency); err != nil {
		return fmt.Errorf("%w: automation.relaxed_min_urgency: %v", ErrInvalid, err)
	}
	if s := cfg.Events.ConsoleMinSeverity; s != "" {
		if _, err := models.ParseSeverity(s); err != nil {
			return fmt.Errorf("%w: events.console_min_severity: %v", ErrInvalid, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "app.db")

	v.SetDefault("telemetry.backend", "sql")
	v.SetDefault("telemetry.cache", "memory")
	v.SetDefault("telemetry.cache_ttl", 10*time.Second)
	v.SetDefault("telemetry.history_window", 60*time.Minute)
	v.SetDefault("telemetry.history_size", 50)
	v.SetDefault("telemetry.refresh_interval", 15*time.Second)
	v.SetDefault("telemetry.store_timeout", 5*time.Second)

	v.SetDefault("gateway.baud_rate", 115200)
	v.SetDefault("gateway.timeout", 3*time.Second)
	v.SetDefault("gateway.reconnect_interval", 30*time.Second)

	v.SetDefault("automation.interval", 30*time.Second)
	v.SetDefault("automation.safety_mode", true)
	v.SetDefault("automation.safety_min_urgency", "critical")
	v.SetDefault("automation.relaxed_min_urgency", "medium")
	v.SetDefault("automation.cooldown", 5*time.Minute)
	v.SetDefault("automation.evaluation_delay", 5*time.Minute)
	v.SetDefault("automation.stop_timeout", 10*time.Second)
	v.SetDefault("automation.command_timeout", 5*time.Second)
	v.SetDefault("automation.auto_start", true)

	v.SetDefault("decision.peak_factor", 1.2)
	v.SetDefault("decision.low_factor", 0.8)
	v.SetDefault("decision.dead_band", 0.05)
	v.SetDefault("decision.learning_size", 100)

	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.retention_days", 30)
	v.SetDefault("events.console_min_severity", "info")

	v.SetDefault("auth.token_ttl", time.Hour)
}

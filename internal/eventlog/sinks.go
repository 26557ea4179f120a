package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
)

// Sink receives every event written by the Logger, in timestamp order.
type Sink interface {
	Name() string
	Write(ctx context.Context, e models.Event) error
}

// ConsoleSink prints events at or above a minimum severity through the process logger.
type ConsoleSink struct {
	log *logger.Logger
	min models.Severity
}

func NewConsoleSink(log *logger.Logger, min models.Severity) *ConsoleSink {
	if log == nil {
		log = logger.Nop()
	}
	return &ConsoleSink{log: log.Named("events"), min: min}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(_ context.Context, e models.Event) error {
	if e.Severity < s.min {
		return nil
	}
	kv := []any{
		"category", e.Category.String(),
		"subject", e.SubjectID,
		"session_id", e.SessionID,
	}
	for k, v := range e.Details {
		kv = append(kv, k, v)
	}
	switch e.Severity {
	case models.SeverityDebug:
		s.log.Debugw(e.Message, kv...)
	case models.SeverityInfo:
		s.log.Infow(e.Message, kv...)
	case models.SeverityWarning:
		s.log.Warnw(e.Message, kv...)
	default:
		s.log.Errorw(e.Message, kv...)
	}
	return nil
}

// StoreSink appends events to the durable event table.
type StoreSink struct {
	repo    repository.EventRepo
	timeout time.Duration
}

func NewStoreSink(repo repository.EventRepo, timeout time.Duration) *StoreSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StoreSink{repo: repo, timeout: timeout}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, e models.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.repo.Append(ctx, e)
}

// Publisher is the part of mqtt.Client the MQTT sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each event as JSON on <topic>/<subject>/<category>.
type MQTTSink struct {
	client  Publisher
	topic   string
	timeout time.Duration
}

func NewMQTTSink(client Publisher, topic string) *MQTTSink {
	if topic == "" {
		topic = "reservoir/events"
	}
	return &MQTTSink{client: client, topic: strings.TrimSuffix(topic, "/"), timeout: 5 * time.Second}
}

// DialMQTT connects to a broker with auto reconnect enabled.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}
	return client, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(_ context.Context, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := e.SubjectID
	if subject == "" {
		subject = "system"
	}
	topic := s.topic + "/" + subject + "/" + strings.ToLower(e.Category.String())

	token := s.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// MessageWriter is the part of kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each event keyed by subject so one reservoir's events stay in one partition.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func NewKafkaSink(w MessageWriter) *KafkaSink { return &KafkaSink{w: w} }

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.SubjectID),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(e.Severity.String())},
			{Key: "category", Value: []byte(e.Category.String())},
		},
	})
}

func (s *KafkaSink) Close() error { return s.w.Close() }

// WebhookSink POSTs events as JSON to an operator endpoint.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string) *WebhookSink {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Name() string { return "webhook" }

var errWebhookStatus = errors.New("webhook rejected event")

func (s *WebhookSink) Write(ctx context.Context, e models.Event) error {
	resp, err := s.client.R().
		SetContext(context.WithoutCancel(ctx)).
		SetBody(e).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", errWebhookStatus, resp.StatusCode())
	}
	return nil
}

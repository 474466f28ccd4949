package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	TopicSecurityAlert    = "security.alert"
	TopicSecurityLockdown = "security.lockdown"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, topic, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	fullTopic := p.producer.TopicName(topic)
	envelope := eventEnvelope{
		EventID:   eventID,
		EventType: fullTopic,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: fullTopic,
		Value: sarama.ByteEncoder(bytes),
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAlertRaised publishes sessec.security.alert events.
func (p *EventPublisher) PublishAlertRaised(ctx context.Context, event domain.AlertRaisedEvent) error {
	payload := struct {
		AlertID     string         `json:"alert_id"`
		AlertType   string         `json:"alert_type"`
		Severity    string         `json:"severity"`
		UserID      string         `json:"user_id"`
		ThreatScore int            `json:"threat_score"`
		RaisedAt    time.Time      `json:"raised_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		AlertID:     event.AlertID,
		AlertType:   string(event.AlertType),
		Severity:    string(event.Severity),
		UserID:      event.UserID,
		ThreatScore: event.ThreatScore,
		RaisedAt:    event.RaisedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, TopicSecurityAlert, event.UserID, event.RaisedAt, payload)
}

// PublishLockdownTriggered publishes sessec.security.lockdown events.
func (p *EventPublisher) PublishLockdownTriggered(ctx context.Context, event domain.LockdownTriggeredEvent) error {
	payload := struct {
		UserID      string    `json:"user_id"`
		AlertID     string    `json:"alert_id"`
		Reason      string    `json:"reason"`
		TriggeredAt time.Time `json:"triggered_at"`
		ExpiresAt   time.Time `json:"expires_at"`
	}{
		UserID:      event.UserID,
		AlertID:     event.AlertID,
		Reason:      event.Reason,
		TriggeredAt: event.TriggeredAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
	}

	return p.publish(ctx, event.EventID, TopicSecurityLockdown, event.UserID, event.TriggeredAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)

// Package notify implements the fire-and-forget notification collaborator.
// Messages go onto the notification topic; the worker consumes them and
// hands them to an EmailSender.
package notify

import (
	"context"

	"lumina-order-service/internal/broker"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/util"

	"go.uber.org/zap"
)

// KafkaNotifier publishes notification events. Callers treat Send failures
// as log-and-continue; delivery is never load-bearing for a transition.
type KafkaNotifier struct {
	publisher *broker.EventPublisher
}

// NewKafkaNotifier creates a notifier over the event publisher.
func NewKafkaNotifier(publisher *broker.EventPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

// Send enqueues one notification.
func (n *KafkaNotifier) Send(ctx context.Context, to, template string, payload map[string]string) error {
	return n.publisher.PublishNotification(ctx, to, template, payload)
}

// EmailSender delivers a rendered notification to a recipient.
type EmailSender interface {
	Send(ctx context.Context, event *models.NotificationEvent) error
}

// LogSender is the default EmailSender for deployments without an outbound
// mail integration: it records the notification and succeeds.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender() *LogSender {
	return &LogSender{logger: util.GetLogger()}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, event *models.NotificationEvent) error {
	s.logger.Info("Notification delivered",
		zap.String("to", event.To),
		zap.String("template", event.Template),
		zap.Any("context", event.Context))
	return nil
}

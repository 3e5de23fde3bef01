package worker

import (
	"context"
	"log"

	"lumina-order-service/internal/broker"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/notify"
	"lumina-order-service/internal/util"
)

// NotificationWorker consumes the notification topic and delivers each
// message through the configured sender. Delivery failures are logged by
// the consumer loop and the message is skipped; notifications are
// best-effort end to end.
type NotificationWorker struct {
	consumer *broker.Consumer
	handler  *broker.NotificationHandler
}

// NewNotificationWorker creates a notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender notify.EmailSender) *NotificationWorker {
	handler := broker.NewNotificationHandler(func(ctx context.Context, event *models.NotificationEvent) error {
		if err := sender.Send(ctx, event); err != nil {
			util.NotificationsTotal.WithLabelValues("delivery_error").Inc()
			return err
		}
		util.NotificationsTotal.WithLabelValues("delivered").Inc()
		return nil
	})

	return &NotificationWorker{
		consumer: consumer,
		handler:  handler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

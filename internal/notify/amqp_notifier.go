package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPNotifier publishes reminder messages to a durable RabbitMQ queue with
// publisher confirms, so an acked ScheduleReminder is actually on disk.
type AMQPNotifier struct {
	ch       *amqp.Channel
	queue    string
	log      *zap.Logger
	confirms chan amqp.Confirmation
	mu       sync.Mutex
}

func NewAMQPNotifier(conn *amqp.Connection, queue string, log *zap.Logger) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPNotifier{
		ch:       ch,
		queue:    queue,
		log:      log,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (n *AMQPNotifier) ScheduleReminder(ctx context.Context, appointmentID uuid.UUID, startsAt time.Time, lead time.Duration) error {
	msg := ReminderMessage{
		AppointmentID: appointmentID.String(),
		StartsAt:      startsAt,
		RemindAt:      startsAt.Add(-lead),
		EnqueuedAt:    time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	if err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish reminder: %w", err)
	}

	select {
	case confirmed := <-n.confirms:
		if !confirmed.Ack {
			return fmt.Errorf("publish reminder: broker nacked message")
		}
	case <-ctx.Done():
		return fmt.Errorf("publish reminder: %w", ctx.Err())
	}

	n.log.Info("reminder scheduled",
		zap.String("appointment_id", msg.AppointmentID),
		zap.Time("remind_at", msg.RemindAt),
	)
	return nil
}

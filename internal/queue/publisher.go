// Package queue publishes booking lifecycle events to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirinyoku/cinego/internal/domain"
)

// Publisher dials the broker per message. Confirmations are rare compared to
// reads, so no connection is kept open between them.
type Publisher struct {
	url    string
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(url string, logger *slog.Logger) *Publisher {
	return &Publisher{url: url, logger: logger, now: time.Now}
}

// BookingConfirmed publishes a persistent message to the booking.confirmed queue.
func (p *Publisher) BookingConfirmed(ctx context.Context, b domain.Booking, st domain.Showtime) error {
	const op = "queue.Publisher.BookingConfirmed"

	body, err := json.Marshal(NewBookingConfirmedEvent(b, st, p.now()))
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := p.publish(ctx, BookingConfirmedQueue, body); err != nil {
		p.logger.Warn("rabbitmq publish failed", "queue", BookingConfirmedQueue, "booking_id", b.ID, "err", err)
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	return ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now().UTC(),
			Body:         body,
		},
	)
}

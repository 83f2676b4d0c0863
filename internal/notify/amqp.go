package notify

import (
	"alcyxob/video-app/internal/logging"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// AMQPPublisher mirrors every emitted event onto a topic exchange so other
// services can follow video lifecycles. Failures are logged and dropped.
type AMQPPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// ExportedEvent is the message body published for each event.
type ExportedEvent struct {
	UserID     string    `json:"userId"`
	Event      string    `json:"event"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewAMQPPublisher opens a channel on conn and declares a durable topic
// exchange.
func NewAMQPPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logging.WithComponent(logger, "amqp"),
	}, nil
}

// Emit publishes a persistent JSON message routed by RoutingKey(event).
func (p *AMQPPublisher) Emit(userID, event string, payload any) {
	body, err := json.Marshal(ExportedEvent{
		UserID:     userID,
		Event:      event,
		Data:       payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("failed to marshal exported event", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(event),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Warn("failed to publish event", "event", event, "error", err)
	}
}

// Close closes the channel; the connection is left to the caller.
func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}

// RoutingKey maps "video:completed" to "video.completed".
func RoutingKey(event string) string {
	return strings.ReplaceAll(event, ":", ".")
}

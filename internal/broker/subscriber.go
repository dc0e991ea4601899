package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

// EventHandler receives decoded promotion events
type EventHandler func(ctx context.Context, evt models.PromotionEvent) error

// Subscriber follows promotion events through a private, auto-deleted queue
type Subscriber struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewSubscriber(url, exchange string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// one unacked event at a time keeps delivery order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Subscriber{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// BindingKey selects events of one collection, or all of them for ""
func BindingKey(collection string) string {
	if collection == "" {
		return "paysync.#"
	}
	return fmt.Sprintf("paysync.%s.*", collection)
}

// Listen consumes until ctx is done. Malformed events are dropped; handler
// failures are rejected without requeue so a bad handler cannot spin.
func (s *Subscriber) Listen(ctx context.Context, bindingKey string, handle EventHandler) error {
	q, err := s.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := s.channel.QueueBind(q.Name, bindingKey, s.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := s.channel.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	s.logger.Info("Watching promotion events", "queue", q.Name, "binding_key", bindingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			s.deliver(ctx, d, handle)
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, d amqp.Delivery, handle EventHandler) {
	evt, err := decodeEvent(d.Body)
	if err != nil {
		s.logger.Error("Failed to decode promotion event", "message_id", d.MessageId, "error", err)
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		_ = d.Nack(false, false)
		return
	}

	if err := handle(ctx, evt); err != nil {
		s.logger.Error("Event handler failed", "event_id", evt.EventID, "error", err)
		metrics.EventsReceived.WithLabelValues("failed").Inc()
		_ = d.Nack(false, false)
		return
	}

	metrics.EventsReceived.WithLabelValues("handled").Inc()
	if err := d.Ack(false); err != nil {
		s.logger.Error("Failed to Ack event", "event_id", evt.EventID, "error", err)
	}
}

func decodeEvent(body []byte) (models.PromotionEvent, error) {
	var evt models.PromotionEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, err
	}
	if evt.Collection == "" || evt.Key == "" {
		return evt, fmt.Errorf("event without collection or key")
	}
	return evt, nil
}

// Close terminates the channel and connection
func (s *Subscriber) Close() {
	s.logger.Info("Shutting down event subscriber")
	s.channel.Close()
	s.conn.Close()
}

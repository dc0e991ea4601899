package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

const confirmTimeout = 10 * time.Second

// Publisher announces promoted documents on a topic exchange with publisher
// confirms enabled. It satisfies promotion.EventPublisher.
type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPublisher dials the broker, declares the exchange and switches the channel to confirm mode
func NewPublisher(url, exchange string, l *slog.Logger) (*Publisher, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		c.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	p := newPublisher(exchange, l)
	p.conn = c
	p.channel = ch
	p.conn.NotifyClose(p.connClosed)
	p.channel.NotifyClose(p.chanClosed)
	p.setHealthy(true)

	go p.monitor()
	l.Info("Connected to RabbitMQ, promotion events enabled", "exchange", exchange)
	return p, nil
}

func newPublisher(exchange string, l *slog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		exchange:   exchange,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare topic exchange %s: %w", exchange, err)
	}
	return nil
}

func (p *Publisher) monitor() {
	select {
	case err := <-p.connClosed:
		p.setHealthy(false)
		p.logger.Warn("RabbitMQ connection closed", "error", err)
	case err := <-p.chanClosed:
		p.setHealthy(false)
		p.logger.Warn("RabbitMQ channel closed", "error", err)
	case <-p.ctx.Done():
	}
}

func (p *Publisher) setHealthy(ok bool) {
	p.healthy.Store(ok)
	if ok {
		metrics.BrokerHealthy.Set(1)
	} else {
		metrics.BrokerHealthy.Set(0)
	}
}

// Publish sends evt and blocks until the broker confirms it
func (p *Publisher) Publish(ctx context.Context, evt models.PromotionEvent) error {
	start := time.Now()
	status := "acked"
	defer func() {
		metrics.EventsPublished.WithLabelValues(evt.Collection, status).Inc()
		metrics.PublishDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if !p.IsHealthy() {
		status = "offline"
		return fmt.Errorf("broker connection is closed")
	}

	msg, err := publishing(evt, start)
	if err != nil {
		status = "error"
		return err
	}

	l := p.logger.With("event_id", msg.MessageId, "routing_key", evt.RoutingKey())

	deferred, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, evt.RoutingKey(), false, false, msg)
	if err != nil {
		status = "error"
		l.Error("failed to publish promotion event", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		status = "canceled"
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			status = "nacked"
			return fmt.Errorf("RabbitMQ NACK received: event %s not persisted", msg.MessageId)
		}
		return nil
	case <-time.After(confirmTimeout):
		status = "timeout"
		return fmt.Errorf("publisher confirm timeout")
	}
}

// publishing builds the AMQP message for evt, filling in the event id and time
func publishing(evt models.PromotionEvent, now time.Time) (amqp.Publishing, error) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now.UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to serialize event: %w", err)
	}
	return amqp.Publishing{
		Headers: amqp.Table{
			"run_id":     evt.RunID,
			"collection": evt.Collection,
		},
		MessageId:    evt.EventID,
		Timestamp:    evt.OccurredAt,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}, nil
}

// Close shuts the channel and connection down once
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Info("Terminating RabbitMQ publisher")
		p.cancel()
		if p.channel != nil {
			p.channel.Close()
		}
		if p.conn != nil {
			p.conn.Close()
		}
		p.setHealthy(false)
	})
	return nil
}

// IsHealthy returns true while the connection and channel are open
func (p *Publisher) IsHealthy() bool {
	return p.healthy.Load()
}

// Package amqp is the optional fire-and-forget run-event publisher
// (§11.2 of SPEC_FULL), grounded on the teacher's
// shared/infrastructure/queue/rabbitmq.go adapter.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/1kimnet/geo-ingest/internal/observability"
	"github.com/1kimnet/geo-ingest/internal/summary"
)

// Config holds the three notify settings carried on config.GlobalSettings.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher satisfies summary.Notifier by publishing every event to a
// RabbitMQ exchange. Publish failures are logged and counted, never
// returned: a summary Notifier must not be able to fail a run.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cfg     Config
	logger  observability.Logger
	metrics observability.Metrics
}

// New dials cfg.URL and opens one channel, matching the teacher's
// connect-then-open-channel sequence.
func New(cfg Config, logger observability.Logger, metrics observability.Metrics) (*Publisher, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp notifier: dial failed: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp notifier: channel open failed: %w", err)
	}

	if cfg.Exchange != "" {
		if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("amqp notifier: exchange declare failed: %w", err)
		}
	}

	return &Publisher{conn: conn, channel: channel, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Publish implements summary.Notifier. It never blocks the caller beyond
// a short publish timeout and swallows its own errors after logging.
func (p *Publisher) Publish(event summary.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("amqp notifier: failed to marshal event", "sourceId", event.SourceID, "error", err.Error())
		return
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.cfg.Exchange,
		p.routingKey(event),
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   event.Timestamp,
		},
	)
	if err != nil {
		p.logger.Warn("amqp notifier: publish failed", "sourceId", event.SourceID, "error", err.Error())
		p.metrics.IncrementCounter("amqp_notify_errors_total", map[string]string{"phase": string(event.Phase)})
		return
	}

	p.metrics.IncrementCounter("amqp_notify_published_total", map[string]string{"phase": string(event.Phase)})
}

func (p *Publisher) routingKey(event summary.Event) string {
	if p.cfg.RoutingKey != "" {
		return p.cfg.RoutingKey
	}
	return "ingest." + string(event.Phase)
}

// Close releases the channel and connection. Safe to call once during
// process shutdown.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

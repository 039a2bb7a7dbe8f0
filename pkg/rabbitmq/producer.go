/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * The affiliate-service publishes exactly one event per finished sync run,
 * carrying the aggregate outcome counts for downstream consumers.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

const (
	eventsExchange          = "coinatlas.events"
	syncCompletedRoutingKey = "affiliate.sync.completed"
)

// SyncCompletedEvent is the payload published after each sync run.
type SyncCompletedEvent struct {
	RunID      string    `json:"run_id"`
	Program    string    `json:"program"`
	Total      int       `json:"total"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

// PublishSyncCompleted publishes the run summary to the events exchange.
// A nil producer is safe to call; the event is simply skipped.
func (p *EventProducer) PublishSyncCompleted(ctx context.Context, run *domain.SyncRun) error {
	if p == nil {
		return nil
	}

	event := SyncCompletedEvent{
		RunID:      run.ID.String(),
		Program:    run.Program,
		Total:      run.Total,
		Updated:    run.Updated,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		DurationMS: run.DurationMS,
		FinishedAt: run.FinishedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, eventsExchange, syncCompletedRoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return err
	}

	p.logger.Info("published sync completion event", "run_id", event.RunID, "routing_key", syncCompletedRoutingKey)
	return nil
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"itinerary_pipeline/internal/domain"
)

// RabbitMQ broadcasts pipeline events (records awaiting review, finished
// exports) to downstream consumers such as the review dashboard.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// Event is the wire format for pipeline notifications.
type Event struct {
	Type        string              `json:"type"`
	OccurredAt  time.Time           `json:"occurred_at"`
	ItineraryID int64               `json:"itinerary_id,omitempty"`
	Title       string              `json:"title,omitempty"`
	Status      domain.ReviewStatus `json:"status,omitempty"`
	ExportID    int64               `json:"export_id,omitempty"`
	FileName    string              `json:"file_name,omitempty"`
	RecordCount int                 `json:"record_count,omitempty"`
}

const (
	eventPendingReview   = "itinerary.pending_review"
	eventReviewRefreshed = "itinerary.reprocessed"
	eventExportCompleted = "export.completed"
)

// PendingReview announces a new or re-extracted record awaiting review.
func (r *RabbitMQ) PendingReview(ctx context.Context, itinerary *domain.ProcessedItinerary, created bool) error {
	eventType := eventReviewRefreshed
	if created {
		eventType = eventPendingReview
	}

	return r.publish(ctx, Event{
		Type:        eventType,
		OccurredAt:  time.Now().UTC(),
		ItineraryID: itinerary.ID,
		Title:       itinerary.Title,
		Status:      itinerary.Status,
	})
}

// ExportCompleted announces a finished export and its manifest.
func (r *RabbitMQ) ExportCompleted(ctx context.Context, export *domain.TrainingExport) error {
	return r.publish(ctx, Event{
		Type:        eventExportCompleted,
		OccurredAt:  time.Now().UTC(),
		ExportID:    export.ID,
		FileName:    export.FileName,
		RecordCount: export.RecordCount,
	})
}

func (r *RabbitMQ) publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	r.logger.Debug("published event", "type", event.Type)
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

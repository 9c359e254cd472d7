//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"itinerary_pipeline/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PendingReviewCreated() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-pending",
		RoutingKey: "test-routing-key-pending",
		QueueName:  "test-queue-pending",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	itinerary := &domain.ProcessedItinerary{
		ID:     5,
		Title:  "7 Day Lemosho Route",
		Status: domain.StatusPendingReview,
	}

	err = pub.PendingReview(s.ctx, itinerary, true)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	var received Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("itinerary.pending_review", received.Type)
	s.Equal(int64(5), received.ItineraryID)
	s.Equal("7 Day Lemosho Route", received.Title)
	s.Equal(domain.StatusPendingReview, received.Status)
	s.False(received.OccurredAt.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PendingReviewReprocessed() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-reprocessed",
		RoutingKey: "test-routing-key-reprocessed",
		QueueName:  "test-queue-reprocessed",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	itinerary := &domain.ProcessedItinerary{
		ID:     6,
		Title:  "Serengeti Safari",
		Status: domain.StatusPendingReview,
	}

	err = pub.PendingReview(s.ctx, itinerary, false)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	var received Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("itinerary.reprocessed", received.Type)
	s.Equal(int64(6), received.ItineraryID)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_ExportCompleted() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-export",
		RoutingKey: "test-routing-key-export",
		QueueName:  "test-queue-export",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	export := &domain.TrainingExport{
		ID:          11,
		FileName:    "training_data_20240315_120000.jsonl",
		RecordCount: 42,
		Format:      "jsonl",
	}

	err = pub.ExportCompleted(s.ctx, export)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received Event
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("export.completed", received.Type)
	s.Equal(int64(11), received.ExportID)
	s.Equal("training_data_20240315_120000.jsonl", received.FileName)
	s.Equal(42, received.RecordCount)
	s.Zero(received.ItineraryID)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}

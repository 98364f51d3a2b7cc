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

	"vc_metrics/internal/domain"
	"vc_metrics/testdata/utils"
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

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishCreated() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-created",
		RoutingKey: "test-routing-key-created",
		QueueName:  "test-queue-created",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	article := &domain.Article{
		ID:          2317921,
		URL:         "https://vc.ru/marketing/2317921-zapret-reklamy",
		Title:       utils.Ptr("Запрет рекламы"),
		Cost:        utils.Ptr(1500.0),
		Counters:    domain.Counters{Views: utils.Ptr[int64](3000), Hits: nil},
		LastUpdated: now,
		CreatedAt:   now,
	}
	event := domain.NewArticleEvent(domain.ActionCreated, article.ID, article)

	err = pub.Publish(s.ctx, event)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(string(domain.ActionCreated), msg.Type)
	s.Equal(event.ID.String(), msg.MessageId)
	s.Equal("test-routing-key-created.created", msg.RoutingKey)

	var received domain.ArticleEvent
	err = json.Unmarshal(msg.Body, &received)
	s.Require().NoError(err)
	s.Equal(domain.ActionCreated, received.Action)
	s.Equal(int64(2317921), received.ArticleID)
	s.Require().NotNil(received.Article)
	s.Equal("Запрет рекламы", *received.Article.Title)
	s.Equal(int64(3000), *received.Article.Views)
	s.Nil(received.Article.Hits)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishDeleted() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-deleted",
		RoutingKey: "test-routing-key-deleted",
		QueueName:  "test-queue-deleted",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.NewArticleEvent(domain.ActionDeleted, 42, nil))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received domain.ArticleEvent
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(domain.ActionDeleted, received.Action)
	s.Equal(int64(42), received.ArticleID)
	s.Nil(received.Article)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_RoutesByAction() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-actions",
		RoutingKey: "articles",
		QueueName:  "test-queue-deletions",
		Actions:    []domain.EventAction{domain.ActionDeleted},
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	s.Require().NoError(pub.Publish(s.ctx, domain.NewArticleEvent(domain.ActionRefreshed, 1, &domain.Article{ID: 1})))
	s.Require().NoError(pub.Publish(s.ctx, domain.NewArticleEvent(domain.ActionDeleted, 2, nil)))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)
	s.Equal("articles.deleted", msg.RoutingKey)
	s.Equal(string(domain.ActionDeleted), msg.Type)

	var received domain.ArticleEvent
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(int64(2), received.ArticleID)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, domain.NewArticleEvent(domain.ActionRefreshed, 7, &domain.Article{ID: 7}))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
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
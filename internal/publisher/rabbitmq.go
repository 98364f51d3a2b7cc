package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"vc_metrics/internal/domain"
)

const exchangeKind = "topic"

// RabbitMQ publishes article events to a topic exchange. Each event is routed
// as "<routing key>.<action>", e.g. "articles.refreshed".
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
	// Actions limits which events reach QueueName. Empty binds every action.
	Actions []domain.EventAction
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

	bindings, err := declareTopology(ch, cfg)
	if err != nil {
		return nil, errors.Join(err, ch.Close(), conn.Close())
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"bindings", bindings,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.With("component", "publisher"),
	}, nil
}

// declareTopology declares the durable exchange and, when a queue is
// configured, binds it to the requested actions.
func declareTopology(ch *amqp.Channel, cfg Config) ([]string, error) {
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if cfg.QueueName == "" {
		return nil, nil
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	bindings := bindingKeys(cfg.RoutingKey, cfg.Actions)
	for _, key := range bindings {
		if err := ch.QueueBind(q.Name, key, cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue to %q: %w", key, err)
		}
	}

	return bindings, nil
}

func bindingKeys(prefix string, actions []domain.EventAction) []string {
	if len(actions) == 0 {
		return []string{prefix + ".*"}
	}
	keys := make([]string, 0, len(actions))
	for _, action := range actions {
		keys = append(keys, routingKeyFor(prefix, action))
	}
	return keys
}

func routingKeyFor(prefix string, action domain.EventAction) string {
	return prefix + "." + string(action)
}

// Publish sends the event as a persistent JSON message. The action is also
// carried in the message type.
func (r *RabbitMQ) Publish(ctx context.Context, event domain.ArticleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := routingKeyFor(r.routingKey, event.Action)
	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    event.ID.String(),
			Type:         string(event.Action),
			Body:         body,
			Timestamp:    event.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", key, err)
	}

	r.logger.Debug("published event",
		"article_id", event.ArticleID,
		"routing_key", key,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}

// Package amqp publishes persisted line items to a RabbitMQ exchange so that
// downstream consumers can build their own views of the data.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the body of one published submission.
type Message struct {
	SubmissionID uuid.UUID                 `json:"submission_id"`
	User         string                    `json:"user"`
	PublishedAt  time.Time                 `json:"published_at"`
	Items        []entity.ExpandedLineItem `json:"items"`
}

type Publisher struct {
	name       string
	exchange   string
	routingKey string
	conn       interface{ Close() error }
	ch         channel
	logger     *slog.Logger
}

// Dial connects to url and declares a durable direct exchange.
func Dial(url, exchange, routingKey, name string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newPublisher(ch, conn, exchange, routingKey, name, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch channel, conn interface{ Close() error }, exchange, routingKey, name string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "amqp"
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	return &Publisher{
		name:       name,
		exchange:   exchange,
		routingKey: routingKey,
		conn:       conn,
		ch:         ch,
		logger:     logger,
	}, nil
}

func (p *Publisher) Name() string { return p.name }

// EnsureUser has nothing to look up: the broker keeps no user table, so the
// identity is the id.
func (p *Publisher) EnsureUser(_ context.Context, identity string) (entity.UserAccount, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return entity.UserAccount{}, common.NewAppError("AMQP_ERROR", "identity is required", common.ErrInvalidInput)
	}
	return entity.UserAccount{ID: identity, Identity: identity}, nil
}

// AppendLineItems publishes all items of one submission as a single
// persistent message.
func (p *Publisher) AppendLineItems(ctx context.Context, user entity.UserAccount, items []entity.ExpandedLineItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{
		SubmissionID: items[0].SubmissionID,
		User:         user.Identity,
		PublishedAt:  time.Now().UTC(),
		Items:        items,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = p.ch.Publish(p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.SubmissionID.String(),
		Timestamp:    msg.PublishedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("amqp.published",
		"sink", p.name,
		"exchange", p.exchange,
		"routing_key", p.routingKey,
		"submission_id", msg.SubmissionID,
		"items", len(items),
		"bytes", len(body),
	)
	return nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

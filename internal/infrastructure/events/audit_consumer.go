package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AuditConsumer struct {
	consumer Consumer
	repo     domain.AuditRepository
	logger   logging.Logger
}

func NewAuditConsumer(consumer Consumer, repo domain.AuditRepository, logger logging.Logger) *AuditConsumer {
	return &AuditConsumer{consumer: consumer, repo: repo, logger: logger}
}

func (c *AuditConsumer) Listen(ctx context.Context) error {
	return c.consumer.ConsumeMessages(ctx, contracts.AuditQueue, func(ctx context.Context, msg amqp.Delivery) error {
		return c.Handle(ctx, msg.Body)
	})
}

// Handle writes the lifecycle event carried by body to the audit log.
// Undecodable bodies are fatal; repository failures are retried by the
// broker.
func (c *AuditConsumer) Handle(ctx context.Context, body []byte) error {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return malformed("decode audit message", err)
	}

	var event domain.Event
	if err := json.Unmarshal(message.Data, &event); err != nil {
		return malformed("decode audit event", err)
	}

	entry, ok := domain.NewLifecycleLog(event)
	if !ok {
		c.logger.Debug(logging.MongoDB, logging.Insert, "ignoring non lifecycle event", map[logging.ExtraKey]any{
			logging.RoomID: event.RoomID,
		})
		return nil
	}

	if err := c.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func malformed(op string, err error) error {
	return domain.NewCommandError(domain.Malformed, op, "", fmt.Errorf("%w: %v", domain.ErrMalformedCommand, err))
}

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/messaging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterConsumer drains the dead-letter queue into the audit log.
// Nothing is ever requeued from here.
type DeadLetterConsumer struct {
	consumer Consumer
	repo     domain.AuditRepository
	logger   logging.Logger
	now      func() time.Time
}

func NewDeadLetterConsumer(consumer Consumer, repo domain.AuditRepository, logger logging.Logger) *DeadLetterConsumer {
	return &DeadLetterConsumer{consumer: consumer, repo: repo, logger: logger, now: time.Now}
}

func (c *DeadLetterConsumer) Listen(ctx context.Context) error {
	return c.consumer.ConsumeMessages(ctx, contracts.DeadLetterQueue, func(ctx context.Context, msg amqp.Delivery) error {
		c.Handle(ctx, msg.Body, msg.Headers)
		return nil
	})
}

func (c *DeadLetterConsumer) Handle(ctx context.Context, body []byte, headers amqp.Table) {
	death, _ := messaging.LastDeath(headers)

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		env = domain.Envelope{}
	}

	label := string(env.CommandType)
	if label == "" {
		label = "unknown"
	}
	metrics.DeadLetters.WithLabelValues(label).Inc()

	extra := map[logging.ExtraKey]any{
		logging.CommandType: label,
		logging.RoomID:      env.RoomID,
		logging.Identity:    env.SenderIdentity,
		logging.Queue:       death.Queue,
		"Reason":            death.Reason,
	}
	c.logger.Warn(logging.RabbitMQ, logging.DeadLetter, "command dead-lettered", extra)

	entry := domain.NewDeadLetterLog(env, death.Queue, death.Reason, death.Count, c.now())
	if len(env.Payload) == 0 && len(body) > 0 {
		entry.Metadata["payload"] = string(body)
	}
	if err := c.repo.Log(ctx, entry); err != nil {
		extra[logging.ErrorMessage] = err.Error()
		c.logger.Error(logging.MongoDB, logging.Insert, "failed to audit dead letter", extra)
	}
}

package events

import (
	"context"
	"encoding/json"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/messaging"
)

// Publisher is the publishing half of messaging.RabbitMQ.
type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, body []byte) error
}

// Consumer is the consuming half of messaging.RabbitMQ.
type Consumer interface {
	ConsumeMessages(ctx context.Context, queue string, handler messaging.MessageHandler) error
}

// LifecyclePublisher forwards every event to the wrapped notifier and
// additionally queues room lifecycle events (create, join, leave) for the
// audit log. Lifecycle events are audited from the room topic, where each
// stored row is announced once.
type LifecyclePublisher struct {
	next      fanout.Notifier
	publisher Publisher
	logger    logging.Logger
}

var _ fanout.Notifier = (*LifecyclePublisher)(nil)

func NewLifecyclePublisher(next fanout.Notifier, publisher Publisher, logger logging.Logger) *LifecyclePublisher {
	return &LifecyclePublisher{next: next, publisher: publisher, logger: logger}
}

func (p *LifecyclePublisher) PublishToRoom(ctx context.Context, roomID string, e domain.Event) {
	p.next.PublishToRoom(ctx, roomID, e)

	if _, ok := domain.AuditTypeOf(e.Type); !ok {
		return
	}
	if e.RoomID == "" {
		e.RoomID = roomID
	}
	if err := p.publish(ctx, e); err != nil {
		p.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to queue lifecycle event", map[logging.ExtraKey]any{
			logging.RoomID:       e.RoomID,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (p *LifecyclePublisher) PublishPublic(ctx context.Context, e domain.Event) {
	p.next.PublishPublic(ctx, e)
}

func (p *LifecyclePublisher) publish(ctx context.Context, e domain.Event) error {
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}

	body, err := json.Marshal(contracts.AmqpMessage{
		ActorID: e.Actor,
		Data:    eventJSON,
	})
	if err != nil {
		return err
	}
	return p.publisher.PublishMessage(ctx, contracts.AuditQueue, body)
}

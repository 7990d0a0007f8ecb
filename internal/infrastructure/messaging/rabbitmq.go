package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

type Config struct {
	URI string
	// DeliveryLimit is the quorum queue redelivery budget after which a
	// requeued command is dead-lettered.
	DeliveryLimit int
	Prefetch      int
}

type RabbitMQ struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
	cfg     Config
	logger  logging.Logger

	// amqp channels must not be shared by concurrent publishers.
	pubMu sync.Mutex
	wg    sync.WaitGroup
}

// MessageHandler processes one delivery. The returned error decides how the
// delivery is settled, see settle.
type MessageHandler func(ctx context.Context, msg amqp.Delivery) error

func NewRabbitMQ(cfg Config, logger logging.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	rmq := &RabbitMQ{
		conn:    conn,
		Channel: ch,
		cfg:     cfg,
		logger:  logger,
	}

	go rmq.watchClose()

	return rmq, nil
}

func (r *RabbitMQ) watchClose() {
	closed := r.conn.NotifyClose(make(chan *amqp.Error, 1))
	if err, ok := <-closed; ok && err != nil {
		r.logger.Error(logging.RabbitMQ, logging.Disconnect, "connection closed by broker", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	r.wg.Wait()
}

// Ping reports an error once the broker connection is gone.
func (r *RabbitMQ) Ping(context.Context) error {
	if r.conn == nil || r.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// SetupTopology declares the command exchange, one quorum queue per command
// type plus the audit queue, and the dead-letter exchange with its queue.
func (r *RabbitMQ) SetupTopology() error {
	for _, exchange := range []string{contracts.CommandExchange, contracts.DeadLetterExchange} {
		if err := r.Channel.ExchangeDeclare(
			exchange, // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	queues := append(contracts.CommandQueues(), contracts.AuditQueue)
	for _, queue := range queues {
		if err := r.declareAndBindQueue(queue, []string{queue}, contracts.CommandExchange, QueueArgs(r.cfg.DeliveryLimit)); err != nil {
			return err
		}
	}

	return r.declareAndBindQueue(contracts.DeadLetterQueue, []string{contracts.DeadLetterQueue}, contracts.DeadLetterExchange, nil)
}

// QueueArgs are the arguments of every work queue: quorum type, dead
// lettering to the DLX and, when positive, a broker side delivery limit.
func QueueArgs(deliveryLimit int) amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    contracts.DeadLetterExchange,
		"x-dead-letter-routing-key": contracts.DeadLetterQueue,
	}
	if deliveryLimit > 0 {
		args["x-delivery-limit"] = deliveryLimit
	}
	return args
}

func (r *RabbitMQ) declareAndBindQueue(queueName string, routingKeys []string, exchange string, args amqp.Table) error {
	q, err := r.Channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	for _, key := range routingKeys {
		if err := r.Channel.QueueBind(
			q.Name,   // queue name
			key,      // routing key
			exchange, // exchange
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", queueName, err)
		}
	}

	return nil
}

// PublishMessage publishes a persistent JSON message on the command
// exchange. The trace context of ctx travels in the message headers.
func (r *RabbitMQ) PublishMessage(ctx context.Context, routingKey string, body []byte) error {
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	err := r.Channel.PublishWithContext(ctx,
		contracts.CommandExchange, // exchange
		routingKey,                // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// PublishCommand routes env to the queue of its command type.
func (r *RabbitMQ) PublishCommand(ctx context.Context, env domain.Envelope) error {
	queue, ok := contracts.QueueFor(env.CommandType)
	if !ok {
		return domain.NewCommandError(domain.Malformed, "publish", env.RoomID,
			fmt.Errorf("%w: no queue for %q", domain.ErrMalformedCommand, env.CommandType))
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return r.PublishMessage(ctx, queue, body)
}

// ConsumeMessages starts a consumer on queue with its own channel and
// prefetch window. Deliveries are handled one at a time until ctx is
// cancelled or the channel closes.
func (r *RabbitMQ) ConsumeMessages(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel for %s: %w", queue, err)
	}

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	r.logger.Info(logging.RabbitMQ, logging.Consume, "consumer started", map[logging.ExtraKey]any{
		logging.Queue: queue,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn(logging.RabbitMQ, logging.Consume, "delivery channel closed", map[logging.ExtraKey]any{
						logging.Queue: queue,
					})
					return
				}
				r.dispatch(ctx, queue, msg, handler)
			}
		}
	}()

	return nil
}

func (r *RabbitMQ) dispatch(ctx context.Context, queue string, msg amqp.Delivery, handler MessageHandler) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(msg.Headers))

	handleErr := handler(msgCtx, msg)
	outcome, err := settle(msg, handleErr)
	if err != nil {
		r.logger.Error(logging.RabbitMQ, logging.Consume, "failed to settle delivery", map[logging.ExtraKey]any{
			logging.Queue:        queue,
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	if handleErr != nil {
		r.logger.Debug(logging.RabbitMQ, logging.Consume, "delivery "+outcome, map[logging.ExtraKey]any{
			logging.Queue:        queue,
			logging.ErrorMessage: handleErr.Error(),
		})
	}
}

// settle acknowledges a handled delivery, rejects fatal failures without
// requeue so they reach the dead-letter exchange, and requeues the rest.
func settle(msg amqp.Delivery, handleErr error) (string, error) {
	switch {
	case handleErr == nil:
		return "acked", msg.Ack(false)
	case domain.IsFatal(handleErr):
		return "dead-lettered", msg.Nack(false, false)
	default:
		return "requeued", msg.Nack(false, true)
	}
}

type amqpHeaderCarrier amqp.Table

func (c amqpHeaderCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c amqpHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

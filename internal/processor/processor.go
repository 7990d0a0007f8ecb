// Package processor applies queued room commands to the room store.
//
// Every command runs as one store transaction. Events produced by a command
// are held back until the transaction commits and are then handed to the
// notifier. Failures are classified so the queue consumer knows whether to
// ack, requeue or dead-letter the delivery.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HistoryLimit   int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		HistoryLimit:   100,
	}
}

type Processor struct {
	store     domain.RoomStore
	directory domain.Directory
	blobs     storage.BlobStore
	notifier  fanout.Notifier
	logger    logging.Logger
	cfg       Config
	now       func() time.Time
	tracer    trace.Tracer
}

type Option func(*Processor)

// WithClock replaces time.Now for message and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(
	store domain.RoomStore,
	directory domain.Directory,
	blobs storage.BlobStore,
	notifier fanout.Notifier,
	logger logging.Logger,
	cfg Config,
	opts ...Option,
) *Processor {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	p := &Processor{
		store:     store,
		directory: directory,
		blobs:     blobs,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		tracer:    otel.Tracer("parley/processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// outbox collects the events of one command attempt.
type outbox struct {
	items []outgoing
}

type outgoing struct {
	public bool
	roomID string
	event  domain.Event
}

func (o *outbox) room(roomID string, e domain.Event) {
	o.items = append(o.items, outgoing{roomID: roomID, event: e})
}

func (o *outbox) public(e domain.Event) {
	o.items = append(o.items, outgoing{public: true, event: e})
}

func (p *Processor) flush(ctx context.Context, out *outbox) {
	for _, item := range out.items {
		if item.public {
			p.notifier.PublishPublic(ctx, item.event)
			continue
		}
		p.notifier.PublishToRoom(ctx, item.roomID, item.event)
	}
}

// command is one attempt at applying an envelope. It may be called again
// after a retryable failure, always with a fresh outbox.
type command func(ctx context.Context, out *outbox) error

// HandleMessage decodes a queue delivery body and applies it.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) error {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.NewCommandError(domain.Malformed, "decode envelope", "",
			fmt.Errorf("%w: %v", domain.ErrMalformedCommand, err))
	}
	return p.Handle(ctx, env)
}

// Handle applies env. A nil return means the delivery can be acknowledged:
// either the command was applied or it violated a domain rule and the
// sender was told with an ERROR event. Fatal errors must be dead-lettered,
// anything else requeued.
func (p *Processor) Handle(ctx context.Context, env domain.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "processor.Handle", trace.WithAttributes(
		attribute.String("command.type", string(env.CommandType)),
		attribute.String("room.id", env.RoomID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.CommandDuration.WithLabelValues(string(env.CommandType)).Observe(time.Since(start).Seconds())
	}()

	err := p.handle(ctx, env)
	outcome := "applied"

	switch {
	case err == nil:
	case isViolation(err):
		outcome = "violation"
		p.reportViolation(ctx, env, err)
		err = nil
	case domain.IsFatal(err):
		outcome = "fatal"
		p.logger.Error(logging.Processor, logging.Rejected, "fatal command error", commandExtra(env, err))
	default:
		outcome = "requeued"
		p.logger.Warn(logging.Processor, logging.Retry, "command failed, requeueing", commandExtra(env, err))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.CommandsProcessed.WithLabelValues(string(env.CommandType), outcome).Inc()
	return err
}

func (p *Processor) handle(ctx context.Context, env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	cmd, err := p.decode(env)
	if err != nil {
		return err
	}

	out, err := p.retry(ctx, env, cmd)
	if err != nil {
		return err
	}

	p.flush(ctx, out)
	p.logger.Debug(logging.Processor, logging.Command, "command applied", commandExtra(env, nil))
	return nil
}

func (p *Processor) decode(env domain.Envelope) (command, error) {
	switch env.CommandType {
	case domain.CommandCreate:
		var payload domain.CreateRoomPayload
		if err := env.Decode(&payload); err != nil {
			return nil, err
		}
		if err := env.CheckSender(payload.Creator); err != nil {
			return nil, err
		}
		return p.createRoom(env, payload)
	case domain.CommandJoin, domain.CommandLeave, domain.CommandOut:
		var payload domain.MemberPayload
		if err := env.Decode(&payload); err != nil {
			return nil, err
		}
		if err := env.CheckSender(payload.Sender); err != nil {
			return nil, err
		}
		switch env.CommandType {
		case domain.CommandJoin:
			return p.joinRoom(env), nil
		case domain.CommandLeave:
			return p.leaveRoom(env), nil
		}
		return p.outRoom(env), nil
	case domain.CommandInvite:
		var payload domain.InvitePayload
		if err := env.Decode(&payload); err != nil {
			return nil, err
		}
		if err := env.CheckSender(payload.Inviter); err != nil {
			return nil, err
		}
		return p.inviteRoom(env, payload), nil
	case domain.CommandSend:
		var payload domain.SendPayload
		if err := env.Decode(&payload); err != nil {
			return nil, err
		}
		if err := env.CheckSender(payload.Sender); err != nil {
			return nil, err
		}
		return p.sendMessage(env, payload)
	}
	return nil, domain.NewCommandError(domain.Malformed, "decode", env.RoomID,
		fmt.Errorf("%w: unknown command type %q", domain.ErrMalformedCommand, env.CommandType))
}

// retry runs cmd until it succeeds, fails for good, or the retry budget
// is spent. Only NotFoundTransient and StoreUnavailable are retried.
func (p *Processor) retry(ctx context.Context, env domain.Envelope, cmd command) (*outbox, error) {
	op := string(env.CommandType)

	expBackoff := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		expBackoff.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		expBackoff.MaxInterval = p.cfg.MaxBackoff
	}

	operation := func() (*outbox, error) {
		out := &outbox{}
		if err := cmd(ctx, out); err != nil {
			err = classify(op, env.RoomID, err)
			if !domain.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(max(p.cfg.MaxRetries, 0))+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.CommandRetries.WithLabelValues(op).Inc()
			extra := commandExtra(env, err)
			extra["backoff"] = next.String()
			p.logger.Debug(logging.Processor, logging.Retry, "retrying command", extra)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, classify(op, env.RoomID, err)
	}
	return out, nil
}

func (p *Processor) reportViolation(ctx context.Context, env domain.Envelope, err error) {
	p.logger.Info(logging.Processor, logging.Rejected, "command rejected", commandExtra(env, err))
	p.notifier.PublishToRoom(ctx, env.RoomID, domain.NewErrorEvent(env.SenderIdentity, env.RoomID, violationMessage(err), p.now()))
}

// classify maps store and collaborator errors onto command error kinds.
func classify(op, roomID string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *domain.CommandError
	if errors.As(err, &cerr) {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return domain.NewCommandError(domain.NotFoundTransient, op, roomID, err)
	case errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrRoomAlreadyExists),
		errors.Is(err, domain.ErrNotMember),
		errors.Is(err, domain.ErrAlreadyMember):
		return domain.NewCommandError(domain.DomainViolation, op, roomID, err)
	case errors.Is(err, domain.ErrMalformedCommand):
		return domain.NewCommandError(domain.Malformed, op, roomID, err)
	}
	return domain.NewCommandError(domain.StoreUnavailable, op, roomID, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
}

func violation(op, roomID string, err error) error {
	return domain.NewCommandError(domain.DomainViolation, op, roomID, err)
}

func isViolation(err error) bool {
	kind, ok := domain.KindOf(err)
	return ok && kind == domain.DomainViolation
}

func violationMessage(err error) string {
	var cerr *domain.CommandError
	if errors.As(err, &cerr) && cerr.Err != nil {
		return cerr.Err.Error()
	}
	return err.Error()
}

func commandExtra(env domain.Envelope, err error) map[logging.ExtraKey]any {
	extra := map[logging.ExtraKey]any{
		logging.CommandType: string(env.CommandType),
		logging.RoomID:      env.RoomID,
		logging.Identity:    env.SenderIdentity,
	}
	if err != nil {
		extra[logging.ErrorMessage] = err.Error()
	}
	return extra
}

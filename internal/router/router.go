// Package router takes room commands from live connections, checks that the
// caller acts for itself and hands the command to the durable queue of its
// type. Routing is fire-and-forget: the outcome of a command reaches the
// caller as a fan-out event, never as a return value.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/ratelimiter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher enqueues an envelope on the queue bound to its command type.
type Publisher interface {
	PublishCommand(ctx context.Context, env domain.Envelope) error
}

// Command is what a client submits. The sender identity comes from the
// authenticated connection, not from the client.
type Command struct {
	CommandType domain.CommandType `json:"commandType"`
	RoomID      string             `json:"roomId"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
}

type Router struct {
	publisher Publisher
	notifier  fanout.Notifier
	limiter   ratelimiter.Limiter
	rooms     domain.RoomReader
	logger    logging.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

type Option func(*Router)

// WithLimiter throttles commands per caller identity.
func WithLimiter(l ratelimiter.Limiter) Option {
	return func(r *Router) { r.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func New(publisher Publisher, notifier fanout.Notifier, rooms domain.RoomReader, logger logging.Logger, opts ...Option) *Router {
	r := &Router{
		publisher: publisher,
		notifier:  notifier,
		rooms:     rooms,
		logger:    logger,
		now:       time.Now,
		tracer:    otel.Tracer("parley/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route validates cmd on behalf of caller and enqueues it. Malformed
// commands and commands declaring another sender are refused with a fatal
// error; the caller is told on the room topic whenever a room is known.
func (r *Router) Route(ctx context.Context, caller string, cmd Command) error {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("command.type", string(cmd.CommandType)),
		attribute.String("room.id", cmd.RoomID),
	))
	defer span.End()

	env := domain.Envelope{
		SenderIdentity: caller,
		CommandType:    cmd.CommandType,
		RoomID:         cmd.RoomID,
		Payload:        cmd.Payload,
	}

	err := r.route(ctx, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Router) route(ctx context.Context, env domain.Envelope) error {
	typ := string(env.CommandType)

	if err := r.validate(env); err != nil {
		metrics.CommandsRouted.WithLabelValues(typ, "rejected").Inc()
		r.refuse(ctx, env, err)
		return err
	}

	if r.limiter != nil {
		if ok, retryAfter := r.limiter.Allow(ctx, env.SenderIdentity); !ok {
			metrics.RateLimitHits.WithLabelValues("command").Inc()
			metrics.CommandsRouted.WithLabelValues(typ, "rate_limited").Inc()
			err := fmt.Errorf("%w: retry in %s", domain.ErrRateLimited, retryAfter.Round(time.Millisecond))
			r.refuse(ctx, env, err)
			return err
		}
	}

	if err := r.publisher.PublishCommand(ctx, env); err != nil {
		metrics.CommandsRouted.WithLabelValues(typ, "failed").Inc()
		err = domain.NewCommandError(domain.StoreUnavailable, "route "+typ, env.RoomID, err)
		r.refuse(ctx, env, errors.New("command could not be queued, try again"))
		r.logger.Error(logging.RabbitMQ, logging.Publish, "failed to enqueue command", extra(env, err))
		return err
	}

	metrics.CommandsRouted.WithLabelValues(typ, "queued").Inc()
	r.logger.Debug(logging.RabbitMQ, logging.Publish, "command queued", extra(env, nil))
	return nil
}

func (r *Router) validate(env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	declared, err := env.DeclaredSender()
	if err != nil {
		return err
	}
	return env.CheckSender(declared)
}

// refuse reports err to the caller on the room topic. Without a room id
// there is no topic to report on and the error is only logged.
func (r *Router) refuse(ctx context.Context, env domain.Envelope, err error) {
	r.logger.Warn(logging.Validation, logging.Rejected, "command refused", extra(env, err))
	if env.RoomID == "" {
		return
	}
	r.notifier.PublishToRoom(ctx, env.RoomID, domain.NewErrorEvent(env.SenderIdentity, env.RoomID, message(err), r.now()))
}

// SweepDisconnect enqueues an OUT command for every room in which identity
// is still ACTIVE, so unread counters keep growing while it is offline.
func (r *Router) SweepDisconnect(ctx context.Context, identity string) error {
	rooms, err := domain.ActiveRooms(ctx, r.rooms, identity)
	if err != nil {
		return fmt.Errorf("list active rooms of %s: %w", identity, err)
	}

	var errs []error
	for _, roomID := range rooms {
		env, err := domain.NewEnvelope(identity, domain.CommandOut, roomID, domain.MemberPayload{Sender: identity})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.publisher.PublishCommand(ctx, env); err != nil {
			metrics.CommandsRouted.WithLabelValues(string(domain.CommandOut), "failed").Inc()
			errs = append(errs, fmt.Errorf("enqueue OUT for room %s: %w", roomID, err))
			continue
		}
		metrics.CommandsRouted.WithLabelValues(string(domain.CommandOut), "queued").Inc()
	}

	if len(rooms) > 0 {
		r.logger.Debug(logging.Presence, logging.Disconnect, "swept active rooms", map[logging.ExtraKey]any{
			logging.Identity: identity,
			"rooms":          len(rooms),
		})
	}
	return errors.Join(errs...)
}

func message(err error) string {
	var cerr *domain.CommandError
	if errors.As(err, &cerr) && cerr.Err != nil {
		return cerr.Err.Error()
	}
	return err.Error()
}

func extra(env domain.Envelope, err error) map[logging.ExtraKey]any {
	e := map[logging.ExtraKey]any{
		logging.CommandType: string(env.CommandType),
		logging.RoomID:      env.RoomID,
		logging.Identity:    env.SenderIdentity,
	}
	if err != nil {
		e[logging.ErrorMessage] = err.Error()
	}
	return e
}

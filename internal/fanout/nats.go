package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	roomSubjectPrefix = "parley.room."
	publicSubject     = "parley.public"
)

// relayFrame is what travels over NATS. The destination is carried in the
// body because room ids are not guaranteed to be valid subject tokens.
type relayFrame struct {
	Destination string       `json:"destination"`
	Event       domain.Event `json:"event"`
}

type natsHeaderCarrier nats.Header

func (c natsHeaderCarrier) Get(key string) string { return nats.Header(c).Get(key) }
func (c natsHeaderCarrier) Set(key, value string) { nats.Header(c).Set(key, value) }
func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = natsHeaderCarrier{}

// NATSRelay shares fan-out between instances. Every instance publishes to
// NATS and delivers what it receives from NATS to its own subscribers,
// including its own publications.
type NATSRelay struct {
	nc     *nats.Conn
	local  Deliverer
	logger logging.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ Notifier = (*NATSRelay)(nil)

func NewNATSRelay(nc *nats.Conn, local Deliverer, logger logging.Logger) *NATSRelay {
	return &NATSRelay{nc: nc, local: local, logger: logger}
}

func (r *NATSRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subject := range []string{roomSubjectPrefix + ">", publicSubject} {
		sub, err := r.nc.Subscribe(subject, r.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	r.logger.Info(logging.NATS, logging.Startup, "fan-out relay subscribed", map[logging.ExtraKey]any{
		"url": r.nc.ConnectedUrl(),
	})
	return nil
}

func (r *NATSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func (r *NATSRelay) PublishToRoom(ctx context.Context, roomID string, e domain.Event) {
	metrics.EventsPublished.WithLabelValues("room", string(e.Type)).Inc()
	r.publish(ctx, roomSubject(roomID), relayFrame{Destination: RoomDestination(roomID), Event: e})
}

func (r *NATSRelay) PublishPublic(ctx context.Context, e domain.Event) {
	metrics.EventsPublished.WithLabelValues("public", string(e.Type)).Inc()
	r.publish(ctx, publicSubject, relayFrame{Destination: PublicDestination, Event: e})
}

func (r *NATSRelay) publish(ctx context.Context, subject string, frame relayFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error(logging.Fanout, logging.Publish, "failed to encode relay frame", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	header := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier(header))

	msg := &nats.Msg{Subject: subject, Data: data, Header: header}
	if err := r.nc.PublishMsg(msg); err != nil {
		r.logger.Warn(logging.Fanout, logging.Publish, "relay publish failed", map[logging.ExtraKey]any{
			logging.Destination:  frame.Destination,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	var frame relayFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		r.logger.Warn(logging.Fanout, logging.Consume, "invalid relay frame", map[logging.ExtraKey]any{
			"subject":            msg.Subject,
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	if frame.Destination == "" {
		return
	}
	r.local.Deliver(frame.Destination, frame.Event)
}

// roomSubject maps a room id onto a single subject token.
func roomSubject(roomID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, roomID)
	return roomSubjectPrefix + token
}

// Package fanout delivers room and presence events to subscribers.
// Delivery is best effort: there are no retries and nothing is stored, a
// subscriber that is not connected misses the event.
package fanout

import (
	"context"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
)

const (
	PublicDestination     = "/sub/chat/public"
	roomDestinationPrefix = "/sub/chat/"
)

func RoomDestination(roomID string) string {
	return roomDestinationPrefix + roomID
}

type Notifier interface {
	PublishToRoom(ctx context.Context, roomID string, e domain.Event)
	PublishPublic(ctx context.Context, e domain.Event)
}

// Deliverer hands an event to the local subscribers of a destination.
type Deliverer interface {
	Deliver(destination string, e domain.Event)
}

// Local is a Notifier for a single instance.
type Local struct {
	deliverer Deliverer
}

var _ Notifier = (*Local)(nil)

func NewLocal(d Deliverer) *Local {
	return &Local{deliverer: d}
}

func (l *Local) PublishToRoom(_ context.Context, roomID string, e domain.Event) {
	metrics.EventsPublished.WithLabelValues("room", string(e.Type)).Inc()
	l.deliverer.Deliver(RoomDestination(roomID), e)
}

func (l *Local) PublishPublic(_ context.Context, e domain.Event) {
	metrics.EventsPublished.WithLabelValues("public", string(e.Type)).Inc()
	l.deliverer.Deliver(PublicDestination, e)
}

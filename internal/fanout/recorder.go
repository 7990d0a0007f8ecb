package fanout

import (
	"context"
	"sync"

	"github.com/hilthontt/parley/internal/domain"
)

type Recorded struct {
	Destination string
	Event       domain.Event
}

// Recorder captures everything published through it. It serves as both a
// Notifier and a Deliverer in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

var (
	_ Notifier  = (*Recorder)(nil)
	_ Deliverer = (*Recorder)(nil)
)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PublishToRoom(_ context.Context, roomID string, e domain.Event) {
	r.Deliver(RoomDestination(roomID), e)
}

func (r *Recorder) PublishPublic(_ context.Context, e domain.Event) {
	r.Deliver(PublicDestination, e)
}

func (r *Recorder) Deliver(destination string, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, Recorded{Destination: destination, Event: e})
	r.mu.Unlock()
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Of returns the recorded events of the given type.
func (r *Recorder) Of(typ domain.EventType) []Recorded {
	var out []Recorded
	for _, rec := range r.Events() {
		if rec.Event.Type == typ {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

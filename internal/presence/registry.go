// Package presence tracks which users hold a live connection and what they
// are subscribed to. State lives in process memory only.
package presence

import (
	"sort"
	"sync"

	"github.com/hilthontt/parley/internal/infrastructure/logging"
)

type State int

const (
	Connected State = iota + 1
	Disconnected
	Subscribed
	Unsubscribed
	Duplicate
	NotConnected
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Subscribed:
		return "SUBSCRIBED"
	case Unsubscribed:
		return "UNSUBSCRIBED"
	case Duplicate:
		return "DUPLICATE"
	case NotConnected:
		return "NOT_CONNECTED"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

type session struct {
	connID string

	mu            sync.Mutex
	subscriptions map[string]string // subscription id -> destination
	gone          bool
}

// Registry is safe for concurrent use. The session map is guarded by one
// RWMutex and each session's subscriptions by that session's own mutex, so
// subscribe traffic for different users never contends.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	logger logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

func (r *Registry) RegisterUser(identity, connID string) State {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Closed
	}
	if _, exists := r.sessions[identity]; exists {
		r.mu.Unlock()
		r.warn(logging.Connect, "duplicate connect", identity, nil)
		return Duplicate
	}
	r.sessions[identity] = &session{
		connID:        connID,
		subscriptions: make(map[string]string),
	}
	r.mu.Unlock()

	r.logger.Debug(logging.Presence, logging.Connect, "user connected", map[logging.ExtraKey]any{
		logging.Identity:     identity,
		logging.ConnectionID: connID,
	})
	return Connected
}

func (r *Registry) RemoveUser(identity string) State {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Closed
	}
	s, exists := r.sessions[identity]
	if !exists {
		r.mu.Unlock()
		r.warn(logging.Disconnect, "disconnect of unknown user", identity, nil)
		return Duplicate
	}
	delete(r.sessions, identity)
	r.mu.Unlock()

	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()

	r.logger.Debug(logging.Presence, logging.Disconnect, "user disconnected", map[logging.ExtraKey]any{
		logging.Identity: identity,
	})
	return Disconnected
}

func (r *Registry) AddSubscription(identity, subID, destination string) State {
	s, state := r.lookup(identity)
	if s == nil {
		r.warn(logging.Subscribe, "subscribe from unknown user", identity, map[logging.ExtraKey]any{
			logging.SubscriptionID: subID,
			logging.Destination:    destination,
		})
		return state
	}

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return NotConnected
	}
	if _, exists := s.subscriptions[subID]; exists {
		s.mu.Unlock()
		r.warn(logging.Subscribe, "duplicate subscription", identity, map[logging.ExtraKey]any{
			logging.SubscriptionID: subID,
		})
		return Duplicate
	}
	s.subscriptions[subID] = destination
	s.mu.Unlock()

	return Subscribed
}

func (r *Registry) RemoveSubscription(identity, subID string) State {
	s, state := r.lookup(identity)
	if s == nil {
		r.warn(logging.Unsubscribe, "unsubscribe from unknown user", identity, map[logging.ExtraKey]any{
			logging.SubscriptionID: subID,
		})
		return state
	}

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return NotConnected
	}
	if _, exists := s.subscriptions[subID]; !exists {
		s.mu.Unlock()
		r.warn(logging.Unsubscribe, "unsubscribe of unknown subscription", identity, map[logging.ExtraKey]any{
			logging.SubscriptionID: subID,
		})
		return Duplicate
	}
	delete(s.subscriptions, subID)
	s.mu.Unlock()

	return Unsubscribed
}

func (r *Registry) IsConnected(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sessions[identity]
	return exists
}

// AllConnected returns the connected identities, sorted.
func (r *Registry) AllConnected() []string {
	r.mu.RLock()
	identities := make([]string, 0, len(r.sessions))
	for identity := range r.sessions {
		identities = append(identities, identity)
	}
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectionID returns the connection that registered identity.
func (r *Registry) ConnectionID(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.sessions[identity]
	if !exists {
		return "", false
	}
	return s.connID, true
}

// Subscriptions returns a copy of identity's subscription map.
func (r *Registry) Subscriptions(identity string) map[string]string {
	s, _ := r.lookup(identity)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.subscriptions))
	for id, dest := range s.subscriptions {
		out[id] = dest
	}
	return out
}

// Close drops every session and returns the identities that were connected.
// Any later mutation returns Closed.
func (r *Registry) Close() []string {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	identities := make([]string, 0, len(sessions))
	for identity, s := range sessions {
		s.mu.Lock()
		s.gone = true
		s.mu.Unlock()
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	r.logger.Info(logging.Presence, logging.Shutdown, "presence registry closed", map[logging.ExtraKey]any{
		"dropped": len(identities),
	})
	return identities
}

func (r *Registry) lookup(identity string) (*session, State) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, Closed
	}
	s, exists := r.sessions[identity]
	if !exists {
		return nil, NotConnected
	}
	return s, 0
}

func (r *Registry) warn(sub logging.SubCategory, msg, identity string, extra map[logging.ExtraKey]any) {
	if extra == nil {
		extra = make(map[logging.ExtraKey]any, 1)
	}
	extra[logging.Identity] = identity
	r.logger.Warn(logging.Presence, sub, msg, extra)
}

package domain

import "time"

type EventType string

const (
	EventConnect    EventType = "CONNECT"
	EventDisconnect EventType = "DISCONNECT"
	EventActive     EventType = "ACTIVE"
	EventInactive   EventType = "INACTIVE"
	EventCreate     EventType = "CREATE"
	EventJoin       EventType = "JOIN"
	EventChat       EventType = "CHAT"
	EventImage      EventType = "IMAGE"
	EventLeave      EventType = "LEAVE"
	EventError      EventType = "ERROR"
)

// Event is what subscribers receive.
type Event struct {
	Type      EventType `json:"type"`
	Actor     string    `json:"actorIdentity"`
	RoomID    string    `json:"roomId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewEvent(typ EventType, actor, roomID string, now time.Time) Event {
	return Event{Type: typ, Actor: actor, RoomID: roomID, CreatedAt: now}
}

func NewErrorEvent(actor, roomID, message string, now time.Time) Event {
	return Event{Type: EventError, Actor: actor, RoomID: roomID, Content: message, CreatedAt: now}
}

// EventFromMessage maps a stored message onto the event announcing it.
func EventFromMessage(m *Message) Event {
	e := Event{Actor: m.Sender, RoomID: m.RoomID, Content: m.Content, CreatedAt: m.CreatedAt}
	switch m.Type {
	case MessageCreate:
		e.Type = EventCreate
	case MessageJoin:
		e.Type = EventJoin
	case MessageChat:
		e.Type = EventChat
	case MessageImage:
		e.Type = EventImage
		e.Image = m.ImageRef
	case MessageLeave:
		e.Type = EventLeave
	case MessageInactive:
		e.Type = EventInactive
	}
	return e
}

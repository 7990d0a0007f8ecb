package domain

import (
	"time"
)

type MessageType string

const (
	MessageCreate   MessageType = "CREATE"
	MessageJoin     MessageType = "JOIN"
	MessageChat     MessageType = "CHAT"
	MessageImage    MessageType = "IMAGE"
	MessageLeave    MessageType = "LEAVE"
	MessageInactive MessageType = "INACTIVE"
)

// Sendable reports whether a client may send a message of this type.
func (t MessageType) Sendable() bool {
	return t == MessageChat || t == MessageImage
}

// Message is an immutable row of the room event log. Seq is assigned by the
// store on append and orders rows by recency.
type Message struct {
	Seq       int64       `json:"seq"`
	RoomID    string      `json:"roomId"`
	Sender    string      `json:"sender"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content,omitempty"`
	ImageRef  string      `json:"imageRef,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

func NewMessage(roomID, sender string, typ MessageType, now time.Time) *Message {
	return &Message{
		RoomID:    roomID,
		Sender:    sender,
		Type:      typ,
		CreatedAt: now,
	}
}

// HistoryEntry is a message returned by a history fetch, with the image
// bytes inlined as base64.
type HistoryEntry struct {
	Message
	Image string `json:"image,omitempty"`
}

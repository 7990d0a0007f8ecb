package domain

import "context"

// RoomReader holds the read primitives of the room store. Lookups that find
// nothing return ErrRoomNotFound or ErrNotMember; message lookups return a
// nil message instead.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// FindPrivateRoom returns the valid PRIVATE room between a and b.
	FindPrivateRoom(ctx context.Context, a, b string) (*Room, error)

	GetParticipant(ctx context.Context, roomID, identity string) (*Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]Participant, error)
	CountParticipants(ctx context.Context, roomID string) (int, error)
	ListParticipations(ctx context.Context, identity string) ([]Participation, error)

	// LatestMessage is the most recent row for (room, sender).
	LatestMessage(ctx context.Context, roomID, sender string) (*Message, error)
	// LatestMessageOfType is the first row of type typ for (room, sender)
	// in recency order.
	LatestMessageOfType(ctx context.Context, roomID, sender string, typ MessageType) (*Message, error)
	// ListMessagesFrom returns up to limit rows with Seq >= fromSeq, oldest
	// first.
	ListMessagesFrom(ctx context.Context, roomID string, fromSeq int64, limit int) ([]Message, error)
}

// RoomTx is a unit of work. Nothing written through it is visible to other
// readers until the surrounding InTx returns nil.
type RoomTx interface {
	RoomReader

	CreateRoom(ctx context.Context, room *Room) error
	InvalidateRoom(ctx context.Context, roomID string) error

	AddParticipant(ctx context.Context, p *Participant) error
	RemoveParticipant(ctx context.Context, roomID, identity string) error
	ResetUnread(ctx context.Context, roomID, identity string) error
	IncrementUnread(ctx context.Context, roomID, identity string) error

	// AppendMessage assigns m.Seq. It fails with ErrRoomClosed when the
	// room is no longer valid.
	AppendMessage(ctx context.Context, m *Message) error
	DeleteMessages(ctx context.Context, roomID, sender string, typ MessageType) (int, error)
}

type RoomStore interface {
	RoomReader
	InTx(ctx context.Context, fn func(tx RoomTx) error) error
}

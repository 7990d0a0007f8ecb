package domain

import (
	"strings"
	"time"
)

// DefaultRoomTitle is used when a room is created without a title.
const DefaultRoomTitle = "UnTitled Room"

type RoomKind string

const (
	RoomAll     RoomKind = "ALL"
	RoomGroup   RoomKind = "GROUP"
	RoomPrivate RoomKind = "PRIVATE"
)

func (k RoomKind) Valid() bool {
	switch k {
	case RoomAll, RoomGroup, RoomPrivate:
		return true
	}
	return false
}

type Room struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Creator string   `json:"creator"`
	Kind    RoomKind `json:"kind"`
	// Peer is the other party of a PRIVATE room.
	Peer      string    `json:"peer,omitempty"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewRoom(id, title, creator string, kind RoomKind, peer string, now time.Time) *Room {
	if strings.TrimSpace(title) == "" {
		title = DefaultRoomTitle
	}
	if kind != RoomPrivate {
		peer = ""
	}
	return &Room{
		ID:        id,
		Title:     title,
		Creator:   creator,
		Kind:      kind,
		Peer:      peer,
		Valid:     true,
		CreatedAt: now,
	}
}

// SelfJoinAllowed reports whether identity may join without an invitation.
func (r *Room) SelfJoinAllowed(identity string) bool {
	switch r.Kind {
	case RoomAll:
		return true
	case RoomPrivate:
		return identity == r.Creator || identity == r.Peer
	}
	return false
}

// Between reports whether the room is the private room of a and b.
func (r *Room) Between(a, b string) bool {
	if r.Kind != RoomPrivate {
		return false
	}
	return (r.Creator == a && r.Peer == b) || (r.Creator == b && r.Peer == a)
}

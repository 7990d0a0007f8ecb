package domain

import "time"

// Participant is the membership row of Identity in RoomID. Its existence is
// the only membership signal.
type Participant struct {
	RoomID   string    `json:"roomId"`
	Identity string    `json:"identity"`
	Unread   int       `json:"unread"`
	JoinedAt time.Time `json:"joinedAt"`
}

func NewParticipant(roomID, identity string, now time.Time) *Participant {
	return &Participant{
		RoomID:   roomID,
		Identity: identity,
		JoinedAt: now,
	}
}

// Participation is a room as seen from one of its participants.
type Participation struct {
	Room   Room `json:"room"`
	Unread int  `json:"unread"`
}

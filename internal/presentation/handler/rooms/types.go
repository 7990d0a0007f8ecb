package rooms

import (
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

type createRoomRequest struct {
	RoomID       string          `json:"roomId"`
	Title        string          `json:"title"`
	Kind         domain.RoomKind `json:"kind"`
	Participants []string        `json:"participants"`
}

type inviteRequest struct {
	Targets []string `json:"targets"`
}

type participantResponse struct {
	Identity string    `json:"identity"`
	Unread   int       `json:"unread"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"online"`
}

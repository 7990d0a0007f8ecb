package postgres

import (
	"testing"
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

func TestModelConversions(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	room := domain.NewRoom("r1", "standup", "alice", domain.RoomPrivate, "bob", now)
	if got := toRoomModel(room).toDomain(); got != *room {
		t.Errorf("room = %+v, want %+v", got, *room)
	}

	p := domain.Participant{RoomID: "r1", Identity: "bob", Unread: 3, JoinedAt: now}
	if got := toParticipantModel(&p).toDomain(); got != p {
		t.Errorf("participant = %+v, want %+v", got, p)
	}

	m := domain.NewMessage("r1", "alice", domain.MessageImage, now)
	m.ImageRef = "ab12.png"
	row := toMessageModel(m)
	if row.Seq != 0 {
		t.Errorf("seq %d set before insert", row.Seq)
	}
	row.Seq = 42
	got := row.toDomain()
	if got.Seq != 42 || got.Type != domain.MessageImage || got.ImageRef != "ab12.png" || got.Sender != "alice" {
		t.Errorf("message = %+v", got)
	}
}

func TestTableNames(t *testing.T) {
	names := map[string]string{
		roomModel{}.TableName():        "rooms",
		participantModel{}.TableName(): "participants",
		messageModel{}.TableName():     "messages",
		memberModel{}.TableName():      "members",
	}
	for got, want := range names {
		if got != want {
			t.Errorf("table %q, want %q", got, want)
		}
	}
}

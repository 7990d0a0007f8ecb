package postgres

import (
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

type roomModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:255;not null"`
	Creator   string `gorm:"size:128;not null;index:idx_rooms_private,priority:2"`
	Kind      string `gorm:"size:16;not null;index:idx_rooms_private,priority:1"`
	Peer      string `gorm:"size:128;index:idx_rooms_private,priority:3"`
	Valid     bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (roomModel) TableName() string { return "rooms" }

type participantModel struct {
	RoomID   string `gorm:"primaryKey;size:64"`
	Identity string `gorm:"primaryKey;size:128;index"`
	Unread   int    `gorm:"not null;default:0"`
	JoinedAt time.Time
}

func (participantModel) TableName() string { return "participants" }

// messageModel rows are never updated. Seq doubles as the recency order.
type messageModel struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	RoomID    string `gorm:"size:64;not null;index:idx_messages_room_sender,priority:1"`
	Sender    string `gorm:"size:128;not null;index:idx_messages_room_sender,priority:2"`
	Type      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	ImageRef  string `gorm:"size:128"`
	CreatedAt time.Time
}

func (messageModel) TableName() string { return "messages" }

type memberModel struct {
	Identity     string `gorm:"primaryKey;size:128"`
	Role         string `gorm:"size:16;not null;default:MEMBER"`
	Organisation string `gorm:"size:128;index"`
}

func (memberModel) TableName() string { return "members" }

func toRoomModel(r *domain.Room) roomModel {
	return roomModel{
		ID:        r.ID,
		Title:     r.Title,
		Creator:   r.Creator,
		Kind:      string(r.Kind),
		Peer:      r.Peer,
		Valid:     r.Valid,
		CreatedAt: r.CreatedAt,
	}
}

func (m roomModel) toDomain() domain.Room {
	return domain.Room{
		ID:        m.ID,
		Title:     m.Title,
		Creator:   m.Creator,
		Kind:      domain.RoomKind(m.Kind),
		Peer:      m.Peer,
		Valid:     m.Valid,
		CreatedAt: m.CreatedAt,
	}
}

func toParticipantModel(p *domain.Participant) participantModel {
	return participantModel{
		RoomID:   p.RoomID,
		Identity: p.Identity,
		Unread:   p.Unread,
		JoinedAt: p.JoinedAt,
	}
}

func (m participantModel) toDomain() domain.Participant {
	return domain.Participant{
		RoomID:   m.RoomID,
		Identity: m.Identity,
		Unread:   m.Unread,
		JoinedAt: m.JoinedAt,
	}
}

func toMessageModel(m *domain.Message) messageModel {
	return messageModel{
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Type:      string(m.Type),
		Content:   m.Content,
		ImageRef:  m.ImageRef,
		CreatedAt: m.CreatedAt,
	}
}

func (m messageModel) toDomain() domain.Message {
	return domain.Message{
		Seq:       m.Seq,
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Type:      domain.MessageType(m.Type),
		Content:   m.Content,
		ImageRef:  m.ImageRef,
		CreatedAt: m.CreatedAt,
	}
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	AuditRoomCreated  AuditEventType = "room_created"
	AuditMemberJoined AuditEventType = "member_joined"
	AuditMemberLeft   AuditEventType = "member_left"
	AuditDeadLetter   AuditEventType = "command_dead_lettered"
)

type AuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	RoomID    string         `bson:"room_id" json:"roomId"`
	EventType AuditEventType `bson:"event_type" json:"eventType"`
	Actor     string         `bson:"actor,omitempty" json:"actorIdentity,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

type AuditRepository interface {
	Log(ctx context.Context, log *AuditLog) error
	GetByRoomID(ctx context.Context, roomID string, limit int) ([]AuditLog, error)
	GetByEventType(ctx context.Context, eventType AuditEventType, from, to time.Time) ([]AuditLog, error)
	DeleteOlderThan(ctx context.Context, before time.Time) error
	EnsureIndexes(ctx context.Context) error
}

// AuditTypeOf maps a room lifecycle event onto its audit type.
func AuditTypeOf(t EventType) (AuditEventType, bool) {
	switch t {
	case EventCreate:
		return AuditRoomCreated, true
	case EventJoin:
		return AuditMemberJoined, true
	case EventLeave:
		return AuditMemberLeft, true
	}
	return "", false
}

func NewLifecycleLog(e Event) (*AuditLog, bool) {
	typ, ok := AuditTypeOf(e.Type)
	if !ok {
		return nil, false
	}
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &AuditLog{
		ID:        uuid.NewString(),
		RoomID:    e.RoomID,
		EventType: typ,
		Actor:     e.Actor,
		Timestamp: ts,
	}, true
}

func NewDeadLetterLog(env Envelope, queue, reason string, count int64, now time.Time) *AuditLog {
	return &AuditLog{
		ID:        uuid.NewString(),
		RoomID:    env.RoomID,
		EventType: AuditDeadLetter,
		Actor:     env.SenderIdentity,
		Timestamp: now,
		Metadata: map[string]any{
			"command_type": string(env.CommandType),
			"queue":        queue,
			"reason":       reason,
			"count":        count,
			"payload":      string(env.Payload),
		},
	}
}

package domain

import (
	"context"
	"errors"
)

type Status int

const (
	StatusNotMember Status = iota
	StatusActive
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	}
	return "NOT_MEMBER"
}

// ProjectStatus derives the status of a user in a room from whether a
// participant row exists and from the user's latest message in that room.
// It is the only place status is computed; nothing stores it.
func ProjectStatus(participant *Participant, latest *Message) Status {
	if participant == nil {
		return StatusNotMember
	}
	if latest != nil && latest.Type == MessageInactive {
		return StatusInactive
	}
	return StatusActive
}

// StatusOf projects the status of identity in roomID from r.
func StatusOf(ctx context.Context, r RoomReader, roomID, identity string) (Status, error) {
	participant, err := r.GetParticipant(ctx, roomID, identity)
	if errors.Is(err, ErrNotMember) {
		return StatusNotMember, nil
	}
	if err != nil {
		return StatusNotMember, err
	}
	latest, err := r.LatestMessage(ctx, roomID, identity)
	if err != nil {
		return StatusNotMember, err
	}
	return ProjectStatus(participant, latest), nil
}

// ActiveRooms lists the rooms in which identity is currently ACTIVE.
func ActiveRooms(ctx context.Context, r RoomReader, identity string) ([]string, error) {
	participations, err := r.ListParticipations(ctx, identity)
	if err != nil {
		return nil, err
	}

	var rooms []string
	for _, p := range participations {
		status, err := StatusOf(ctx, r, p.Room.ID, identity)
		if err != nil {
			return nil, err
		}
		if status == StatusActive {
			rooms = append(rooms, p.Room.ID)
		}
	}
	return rooms, nil
}

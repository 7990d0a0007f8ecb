package processor

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
)

// ActivateRoom marks identity as viewing roomID: INACTIVE rows are removed
// and the unread counter is reset. Calling it repeatedly is harmless.
func (p *Processor) ActivateRoom(ctx context.Context, roomID, identity string) error {
	ctx, span := p.tracer.Start(ctx, "processor.ActivateRoom")
	defer span.End()

	out := &outbox{}
	err := p.store.InTx(ctx, func(tx domain.RoomTx) error {
		if _, err := tx.GetRoom(ctx, roomID); err != nil {
			return err
		}
		if _, err := tx.GetParticipant(ctx, roomID, identity); err != nil {
			return err
		}
		return p.activate(ctx, tx, roomID, identity, out)
	})
	if err != nil {
		return classify("activate", roomID, err)
	}

	p.flush(ctx, out)
	return nil
}

// History activates roomID for identity and returns what it has posted
// since identity last joined, oldest first.
func (p *Processor) History(ctx context.Context, roomID, identity string) ([]domain.HistoryEntry, error) {
	if err := p.ActivateRoom(ctx, roomID, identity); err != nil {
		return nil, err
	}

	var from int64
	join, err := p.store.LatestMessageOfType(ctx, roomID, identity, domain.MessageJoin)
	if err != nil {
		return nil, classify("history", roomID, err)
	}
	if join != nil {
		from = join.Seq
	}

	messages, err := p.store.ListMessagesFrom(ctx, roomID, from, p.cfg.HistoryLimit)
	if err != nil {
		return nil, classify("history", roomID, err)
	}

	entries := make([]domain.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entry := domain.HistoryEntry{Message: m}
		if m.Type == domain.MessageImage && m.ImageRef != "" {
			data, err := p.blobs.Fetch(ctx, m.ImageRef)
			if err != nil {
				p.logger.Warn(logging.Processor, logging.Select, "image missing from blob store", map[logging.ExtraKey]any{
					logging.RoomID:       roomID,
					"imageRef":           m.ImageRef,
					logging.ErrorMessage: err.Error(),
				})
			} else {
				entry.Image = base64.StdEncoding.EncodeToString(data)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *Processor) Participations(ctx context.Context, identity string) ([]domain.Participation, error) {
	participations, err := p.store.ListParticipations(ctx, identity)
	if err != nil {
		return nil, classify("participations", "", err)
	}
	return participations, nil
}

// Participants lists roomID's members. Only members may ask.
func (p *Processor) Participants(ctx context.Context, roomID, identity string) ([]domain.Participant, error) {
	if _, err := p.store.GetParticipant(ctx, roomID, identity); err != nil {
		if errors.Is(err, domain.ErrNotMember) {
			if _, rerr := p.store.GetRoom(ctx, roomID); errors.Is(rerr, domain.ErrRoomNotFound) {
				err = rerr
			}
		}
		return nil, classify("participants", roomID, err)
	}
	participants, err := p.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, classify("participants", roomID, err)
	}
	return participants, nil
}

package processor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/storage"
)

func (p *Processor) createRoom(env domain.Envelope, payload domain.CreateRoomPayload) (command, error) {
	const op = "create"
	creator := env.SenderIdentity

	if !payload.Kind.Valid() {
		return nil, domain.NewCommandError(domain.Malformed, op, env.RoomID,
			fmt.Errorf("%w: unknown room kind %q", domain.ErrMalformedCommand, payload.Kind))
	}
	participants := uniqueExcept(payload.Participants, creator)

	return func(ctx context.Context, out *outbox) error {
		members := participants
		switch payload.Kind {
		case domain.RoomGroup:
			if len(members) == 0 {
				return violation(op, env.RoomID, domain.ErrInsufficientParticipants)
			}
		case domain.RoomPrivate:
			if len(members) != 1 {
				return violation(op, env.RoomID, domain.ErrInvalidPeer)
			}
		case domain.RoomAll:
			role, err := p.directory.Role(ctx, creator)
			if err != nil {
				return fmt.Errorf("lookup role: %w", err)
			}
			if role != domain.RoleAdmin {
				return violation(op, env.RoomID, domain.ErrInsufficientRole)
			}
			colleagues, err := p.directory.Colleagues(ctx, creator)
			if err != nil {
				return fmt.Errorf("lookup colleagues: %w", err)
			}
			members = uniqueExcept(append(colleagues, participants...), creator)
		}

		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			if payload.Kind == domain.RoomPrivate {
				existing, err := tx.FindPrivateRoom(ctx, creator, members[0])
				switch {
				case err == nil:
					return p.reusePrivateRoom(ctx, tx, out, existing, creator)
				case !errors.Is(err, domain.ErrRoomNotFound):
					return err
				}
			}

			now := p.now()
			room := domain.NewRoom(env.RoomID, payload.Title, creator, payload.Kind, firstOrEmpty(members), now)
			if err := tx.CreateRoom(ctx, room); err != nil {
				return err
			}
			if err := p.append(ctx, tx, room.ID, creator, domain.MessageCreate, out); err != nil {
				return err
			}
			if err := p.join(ctx, tx, room.ID, creator, out); err != nil {
				return err
			}
			for _, identity := range members {
				if err := p.join(ctx, tx, room.ID, identity, out); err != nil {
					return err
				}
				if err := p.markInactive(ctx, tx, room.ID, identity); err != nil {
					return err
				}
			}

			created := domain.NewEvent(domain.EventCreate, creator, room.ID, now)
			created.Content = room.Title
			out.public(created)
			return nil
		})
	}, nil
}

// reusePrivateRoom brings creator back into the private room they already
// share with the peer instead of opening a second one.
func (p *Processor) reusePrivateRoom(ctx context.Context, tx domain.RoomTx, out *outbox, room *domain.Room, creator string) error {
	if _, err := tx.GetParticipant(ctx, room.ID, creator); errors.Is(err, domain.ErrNotMember) {
		if err := p.join(ctx, tx, room.ID, creator, out); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return p.activate(ctx, tx, room.ID, creator, out)
}

func (p *Processor) joinRoom(env domain.Envelope) command {
	const op = "join"
	identity := env.SenderIdentity

	return func(ctx context.Context, out *outbox) error {
		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			room, err := tx.GetRoom(ctx, env.RoomID)
			if err != nil {
				return err
			}
			if !room.Valid {
				return violation(op, room.ID, domain.ErrRoomClosed)
			}

			_, err = tx.GetParticipant(ctx, room.ID, identity)
			switch {
			case err == nil:
				return p.activate(ctx, tx, room.ID, identity, out)
			case !errors.Is(err, domain.ErrNotMember):
				return err
			}

			if !room.SelfJoinAllowed(identity) {
				return violation(op, room.ID, domain.ErrJoinForbidden)
			}
			return p.join(ctx, tx, room.ID, identity, out)
		})
	}
}

func (p *Processor) inviteRoom(env domain.Envelope, payload domain.InvitePayload) command {
	const op = "invite"
	inviter := env.SenderIdentity
	targets := uniqueExcept(payload.Targets, "")

	return func(ctx context.Context, out *outbox) error {
		if len(targets) == 0 {
			return violation(op, env.RoomID, domain.ErrNoTargets)
		}

		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			room, err := tx.GetRoom(ctx, env.RoomID)
			if err != nil {
				return err
			}
			if !room.Valid {
				return violation(op, room.ID, domain.ErrRoomClosed)
			}
			if _, err := tx.GetParticipant(ctx, room.ID, inviter); err != nil {
				return err
			}

			for _, target := range targets {
				_, err := tx.GetParticipant(ctx, room.ID, target)
				if err == nil {
					out.room(room.ID, domain.NewErrorEvent(inviter, room.ID,
						fmt.Sprintf("%s: %s", target, domain.ErrAlreadyMember), p.now()))
					continue
				}
				if !errors.Is(err, domain.ErrNotMember) {
					return err
				}
				if err := p.join(ctx, tx, room.ID, target, out); err != nil {
					return err
				}
				if err := p.markInactive(ctx, tx, room.ID, target); err != nil {
					return err
				}
				out.public(domain.NewEvent(domain.EventJoin, target, room.ID, p.now()))
			}
			return nil
		})
	}
}

func (p *Processor) sendMessage(env domain.Envelope, payload domain.SendPayload) (command, error) {
	const op = "send"
	sender := env.SenderIdentity

	var image []byte
	switch payload.Type {
	case domain.MessageChat:
		if strings.TrimSpace(payload.Content) == "" {
			return nil, domain.NewCommandError(domain.Malformed, op, env.RoomID,
				fmt.Errorf("%w: empty chat message", domain.ErrMalformedCommand))
		}
	case domain.MessageImage:
		if payload.Image == nil || payload.Image.Data == "" {
			return nil, domain.NewCommandError(domain.Malformed, op, env.RoomID,
				fmt.Errorf("%w: image message without image", domain.ErrMalformedCommand))
		}
		data, err := base64.StdEncoding.DecodeString(payload.Image.Data)
		if err != nil {
			return nil, domain.NewCommandError(domain.Malformed, op, env.RoomID,
				fmt.Errorf("%w: image data: %v", domain.ErrMalformedCommand, err))
		}
		image = data
	default:
		return nil, domain.NewCommandError(domain.Malformed, op, env.RoomID,
			fmt.Errorf("%w: message type %q cannot be sent", domain.ErrMalformedCommand, payload.Type))
	}

	return func(ctx context.Context, out *outbox) error {
		var ref string
		if payload.Type == domain.MessageImage {
			// Reject before touching the blob store so refused senders
			// leave nothing behind. The transaction checks again.
			if err := p.checkCanSend(ctx, p.store, env.RoomID, sender); err != nil {
				return err
			}
			saved, err := p.blobs.Save(ctx, payload.Image.Name, image)
			switch {
			case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrFileTooLarge):
				return violation(op, env.RoomID, err)
			case err != nil:
				return fmt.Errorf("save image: %w", err)
			}
			ref = saved
		}

		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			if err := p.checkCanSend(ctx, tx, env.RoomID, sender); err != nil {
				return err
			}
			room, err := tx.GetRoom(ctx, env.RoomID)
			if err != nil {
				return err
			}

			m := domain.NewMessage(room.ID, sender, payload.Type, p.now())
			m.Content = payload.Content
			m.ImageRef = ref
			if err := tx.AppendMessage(ctx, m); err != nil {
				return err
			}

			participants, err := tx.ListParticipants(ctx, room.ID)
			if err != nil {
				return err
			}
			for _, other := range participants {
				if other.Identity == sender {
					continue
				}
				latest, err := tx.LatestMessage(ctx, room.ID, other.Identity)
				if err != nil {
					return err
				}
				if domain.ProjectStatus(&other, latest) != domain.StatusInactive {
					continue
				}
				if err := tx.IncrementUnread(ctx, room.ID, other.Identity); err != nil {
					return err
				}
			}

			event := domain.EventFromMessage(m)
			out.room(room.ID, event)
			if room.Kind != domain.RoomPrivate || len(participants) > 1 {
				out.public(event)
			}
			return nil
		})
	}, nil
}

func (p *Processor) checkCanSend(ctx context.Context, r domain.RoomReader, roomID, sender string) error {
	const op = "send"
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Valid {
		return violation(op, roomID, domain.ErrRoomClosed)
	}
	status, err := domain.StatusOf(ctx, r, roomID, sender)
	if err != nil {
		return err
	}
	switch status {
	case domain.StatusNotMember:
		return violation(op, roomID, domain.ErrNotMember)
	case domain.StatusInactive:
		return violation(op, roomID, domain.ErrInactive)
	}
	return nil
}

func (p *Processor) outRoom(env domain.Envelope) command {
	const op = "out"
	identity := env.SenderIdentity

	return func(ctx context.Context, out *outbox) error {
		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			if _, err := tx.GetRoom(ctx, env.RoomID); err != nil {
				return err
			}
			status, err := domain.StatusOf(ctx, tx, env.RoomID, identity)
			if err != nil {
				return err
			}
			switch status {
			case domain.StatusNotMember:
				return violation(op, env.RoomID, domain.ErrNotMember)
			case domain.StatusInactive:
				return violation(op, env.RoomID, domain.ErrAlreadyInactive)
			}
			if err := p.markInactive(ctx, tx, env.RoomID, identity); err != nil {
				return err
			}
			out.public(domain.NewEvent(domain.EventInactive, identity, env.RoomID, p.now()))
			return nil
		})
	}
}

func (p *Processor) leaveRoom(env domain.Envelope) command {
	const op = "leave"
	identity := env.SenderIdentity

	return func(ctx context.Context, out *outbox) error {
		return p.store.InTx(ctx, func(tx domain.RoomTx) error {
			if _, err := tx.GetRoom(ctx, env.RoomID); err != nil {
				return err
			}
			if _, err := tx.GetParticipant(ctx, env.RoomID, identity); err != nil {
				if errors.Is(err, domain.ErrNotMember) {
					return violation(op, env.RoomID, err)
				}
				return err
			}

			if err := tx.RemoveParticipant(ctx, env.RoomID, identity); err != nil {
				return err
			}
			// LEAVE is written before the room can be closed; a closed
			// room accepts no messages.
			if err := p.append(ctx, tx, env.RoomID, identity, domain.MessageLeave, out); err != nil {
				return err
			}

			remaining, err := tx.CountParticipants(ctx, env.RoomID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := tx.InvalidateRoom(ctx, env.RoomID); err != nil {
					return err
				}
			}

			out.public(domain.NewEvent(domain.EventLeave, identity, env.RoomID, p.now()))
			return nil
		})
	}
}

// join adds identity to roomID and records the JOIN.
func (p *Processor) join(ctx context.Context, tx domain.RoomTx, roomID, identity string, out *outbox) error {
	if err := tx.AddParticipant(ctx, domain.NewParticipant(roomID, identity, p.now())); err != nil {
		return err
	}
	return p.append(ctx, tx, roomID, identity, domain.MessageJoin, out)
}

func (p *Processor) markInactive(ctx context.Context, tx domain.RoomTx, roomID, identity string) error {
	return tx.AppendMessage(ctx, domain.NewMessage(roomID, identity, domain.MessageInactive, p.now()))
}

// append writes a message and announces it on the room topic.
func (p *Processor) append(ctx context.Context, tx domain.RoomTx, roomID, sender string, typ domain.MessageType, out *outbox) error {
	m := domain.NewMessage(roomID, sender, typ, p.now())
	if err := tx.AppendMessage(ctx, m); err != nil {
		return err
	}
	out.room(roomID, domain.EventFromMessage(m))
	return nil
}

// activate clears identity's INACTIVE rows and unread counter in roomID.
// Running it on an already active participant changes nothing but the
// announcement.
func (p *Processor) activate(ctx context.Context, tx domain.RoomTx, roomID, identity string, out *outbox) error {
	if _, err := tx.DeleteMessages(ctx, roomID, identity, domain.MessageInactive); err != nil {
		return err
	}
	if err := tx.ResetUnread(ctx, roomID, identity); err != nil {
		return err
	}
	out.public(domain.NewEvent(domain.EventActive, identity, roomID, p.now()))
	return nil
}

func uniqueExcept(ids []string, except string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == except {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func firstOrEmpty(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

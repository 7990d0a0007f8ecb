// Package memory is an in-process RoomStore used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hilthontt/parley/internal/domain"
)

type state struct {
	rooms        map[string]domain.Room
	participants map[string]map[string]domain.Participant // room -> identity
	messages     map[string][]domain.Message              // room -> rows in seq order
	seq          int64
}

func newState() *state {
	return &state{
		rooms:        make(map[string]domain.Room),
		participants: make(map[string]map[string]domain.Participant),
		messages:     make(map[string][]domain.Message),
	}
}

func (s *state) clone() *state {
	c := &state{
		rooms:        make(map[string]domain.Room, len(s.rooms)),
		participants: make(map[string]map[string]domain.Participant, len(s.participants)),
		messages:     make(map[string][]domain.Message, len(s.messages)),
		seq:          s.seq,
	}
	for id, room := range s.rooms {
		c.rooms[id] = room
	}
	for roomID, members := range s.participants {
		m := make(map[string]domain.Participant, len(members))
		for identity, p := range members {
			m[identity] = p
		}
		c.participants[roomID] = m
	}
	for roomID, rows := range s.messages {
		c.messages[roomID] = append([]domain.Message(nil), rows...)
	}
	return c
}

// Store keeps committed state behind an RWMutex. Transactions run one at a
// time against a private copy that replaces the committed state on success.
type Store struct {
	mu        sync.RWMutex
	committed *state

	txMu sync.Mutex
}

var _ domain.RoomStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{committed: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.RoomTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(&tx{reader: reader{st: work}}); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

// view returns the committed snapshot. Committed state is replaced, never
// mutated, so the snapshot stays consistent after the lock is released.
func (s *Store) view() reader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{st: s.committed}
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.view().GetRoom(ctx, roomID)
}

func (s *Store) FindPrivateRoom(ctx context.Context, a, b string) (*domain.Room, error) {
	return s.view().FindPrivateRoom(ctx, a, b)
}

func (s *Store) GetParticipant(ctx context.Context, roomID, identity string) (*domain.Participant, error) {
	return s.view().GetParticipant(ctx, roomID, identity)
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return s.view().ListParticipants(ctx, roomID)
}

func (s *Store) CountParticipants(ctx context.Context, roomID string) (int, error) {
	return s.view().CountParticipants(ctx, roomID)
}

func (s *Store) ListParticipations(ctx context.Context, identity string) ([]domain.Participation, error) {
	return s.view().ListParticipations(ctx, identity)
}

func (s *Store) LatestMessage(ctx context.Context, roomID, sender string) (*domain.Message, error) {
	return s.view().LatestMessage(ctx, roomID, sender)
}

func (s *Store) LatestMessageOfType(ctx context.Context, roomID, sender string, typ domain.MessageType) (*domain.Message, error) {
	return s.view().LatestMessageOfType(ctx, roomID, sender, typ)
}

func (s *Store) ListMessagesFrom(ctx context.Context, roomID string, fromSeq int64, limit int) ([]domain.Message, error) {
	return s.view().ListMessagesFrom(ctx, roomID, fromSeq, limit)
}

type reader struct {
	st *state
}

func (r reader) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	room, exists := r.st.rooms[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (r reader) FindPrivateRoom(_ context.Context, a, b string) (*domain.Room, error) {
	var found *domain.Room
	for _, room := range r.st.rooms {
		if !room.Valid || !room.Between(a, b) {
			continue
		}
		if found == nil || room.CreatedAt.Before(found.CreatedAt) {
			room := room
			found = &room
		}
	}
	if found == nil {
		return nil, domain.ErrRoomNotFound
	}
	return found, nil
}

func (r reader) GetParticipant(_ context.Context, roomID, identity string) (*domain.Participant, error) {
	p, exists := r.st.participants[roomID][identity]
	if !exists {
		return nil, domain.ErrNotMember
	}
	return &p, nil
}

func (r reader) ListParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	members := r.st.participants[roomID]
	out := make([]domain.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r reader) CountParticipants(_ context.Context, roomID string) (int, error) {
	return len(r.st.participants[roomID]), nil
}

func (r reader) ListParticipations(_ context.Context, identity string) ([]domain.Participation, error) {
	var out []domain.Participation
	for roomID, members := range r.st.participants {
		p, exists := members[identity]
		if !exists {
			continue
		}
		out = append(out, domain.Participation{Room: r.st.rooms[roomID], Unread: p.Unread})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Room.CreatedAt.After(out[j].Room.CreatedAt)
	})
	return out, nil
}

func (r reader) LatestMessage(_ context.Context, roomID, sender string) (*domain.Message, error) {
	rows := r.st.messages[roomID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Sender == sender {
			m := rows[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (r reader) LatestMessageOfType(_ context.Context, roomID, sender string, typ domain.MessageType) (*domain.Message, error) {
	rows := r.st.messages[roomID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Sender == sender && rows[i].Type == typ {
			m := rows[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (r reader) ListMessagesFrom(_ context.Context, roomID string, fromSeq int64, limit int) ([]domain.Message, error) {
	rows := r.st.messages[roomID]
	start := sort.Search(len(rows), func(i int) bool { return rows[i].Seq >= fromSeq })

	out := make([]domain.Message, 0)
	for i := start; i < len(rows); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, rows[i])
	}
	return out, nil
}

type tx struct {
	reader
}

func (t *tx) CreateRoom(_ context.Context, room *domain.Room) error {
	if room == nil || room.ID == "" {
		return domain.ErrMalformedCommand
	}
	if _, exists := t.st.rooms[room.ID]; exists {
		return domain.ErrRoomAlreadyExists
	}
	t.st.rooms[room.ID] = *room
	return nil
}

func (t *tx) InvalidateRoom(_ context.Context, roomID string) error {
	room, exists := t.st.rooms[roomID]
	if !exists {
		return domain.ErrRoomNotFound
	}
	room.Valid = false
	t.st.rooms[roomID] = room
	return nil
}

func (t *tx) AddParticipant(_ context.Context, p *domain.Participant) error {
	if _, exists := t.st.rooms[p.RoomID]; !exists {
		return domain.ErrRoomNotFound
	}
	members := t.st.participants[p.RoomID]
	if members == nil {
		members = make(map[string]domain.Participant)
		t.st.participants[p.RoomID] = members
	}
	if _, exists := members[p.Identity]; exists {
		return domain.ErrAlreadyMember
	}
	members[p.Identity] = *p
	return nil
}

func (t *tx) RemoveParticipant(_ context.Context, roomID, identity string) error {
	members := t.st.participants[roomID]
	if _, exists := members[identity]; !exists {
		return domain.ErrNotMember
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(t.st.participants, roomID)
	}
	return nil
}

func (t *tx) ResetUnread(_ context.Context, roomID, identity string) error {
	return t.updateParticipant(roomID, identity, func(p *domain.Participant) { p.Unread = 0 })
}

func (t *tx) IncrementUnread(_ context.Context, roomID, identity string) error {
	return t.updateParticipant(roomID, identity, func(p *domain.Participant) { p.Unread++ })
}

func (t *tx) updateParticipant(roomID, identity string, fn func(p *domain.Participant)) error {
	p, exists := t.st.participants[roomID][identity]
	if !exists {
		return domain.ErrNotMember
	}
	fn(&p)
	t.st.participants[roomID][identity] = p
	return nil
}

func (t *tx) AppendMessage(_ context.Context, m *domain.Message) error {
	room, exists := t.st.rooms[m.RoomID]
	if !exists {
		return domain.ErrRoomNotFound
	}
	if !room.Valid {
		return domain.ErrRoomClosed
	}
	t.st.seq++
	m.Seq = t.st.seq
	t.st.messages[m.RoomID] = append(t.st.messages[m.RoomID], *m)
	return nil
}

func (t *tx) DeleteMessages(_ context.Context, roomID, sender string, typ domain.MessageType) (int, error) {
	rows := t.st.messages[roomID]
	kept := rows[:0:0]
	removed := 0
	for _, m := range rows {
		if m.Sender == sender && m.Type == typ {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	if removed > 0 {
		t.st.messages[roomID] = kept
	}
	return removed, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/parley/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a domain.RoomStore over postgres. Every InTx call is one SQL
// transaction.
type Store struct {
	reader
}

var _ domain.RoomStore = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{reader{db: db}}
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.RoomTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{reader{db: gtx}})
	})
}

type reader struct {
	db *gorm.DB
}

func (r reader) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var m roomModel
	if err := r.db.WithContext(ctx).Take(&m, "id = ?", roomID).Error; err != nil {
		return nil, notFound(err, domain.ErrRoomNotFound)
	}
	room := m.toDomain()
	return &room, nil
}

func (r reader) FindPrivateRoom(ctx context.Context, a, b string) (*domain.Room, error) {
	var m roomModel
	err := r.db.WithContext(ctx).
		Where("kind = ? AND valid = ?", string(domain.RoomPrivate), true).
		Where("(creator = ? AND peer = ?) OR (creator = ? AND peer = ?)", a, b, b, a).
		Order("created_at ASC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err, domain.ErrRoomNotFound)
	}
	room := m.toDomain()
	return &room, nil
}

func (r reader) GetParticipant(ctx context.Context, roomID, identity string) (*domain.Participant, error) {
	var m participantModel
	if err := r.db.WithContext(ctx).Take(&m, "room_id = ? AND identity = ?", roomID, identity).Error; err != nil {
		return nil, notFound(err, domain.ErrNotMember)
	}
	p := m.toDomain()
	return &p, nil
}

func (r reader) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var rows []participantModel
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC, identity ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Participant, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r reader) CountParticipants(ctx context.Context, roomID string) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&participantModel{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r reader) ListParticipations(ctx context.Context, identity string) ([]domain.Participation, error) {
	var rows []struct {
		roomModel
		Unread int
	}
	err := r.db.WithContext(ctx).
		Table("participants AS p").
		Select("r.id, r.title, r.creator, r.kind, r.peer, r.valid, r.created_at, p.unread").
		Joins("JOIN rooms AS r ON r.id = p.room_id").
		Where("p.identity = ?", identity).
		Order("r.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Participation, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Participation{Room: row.roomModel.toDomain(), Unread: row.Unread})
	}
	return out, nil
}

func (r reader) LatestMessage(ctx context.Context, roomID, sender string) (*domain.Message, error) {
	return r.latest(r.db.WithContext(ctx).Where("room_id = ? AND sender = ?", roomID, sender))
}

func (r reader) LatestMessageOfType(ctx context.Context, roomID, sender string, typ domain.MessageType) (*domain.Message, error) {
	return r.latest(r.db.WithContext(ctx).Where("room_id = ? AND sender = ? AND type = ?", roomID, sender, string(typ)))
}

func (r reader) latest(q *gorm.DB) (*domain.Message, error) {
	var m messageModel
	err := q.Order("seq DESC").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg := m.toDomain()
	return &msg, nil
}

func (r reader) ListMessagesFrom(ctx context.Context, roomID string, fromSeq int64, limit int) ([]domain.Message, error) {
	q := r.db.WithContext(ctx).
		Where("room_id = ? AND seq >= ?", roomID, fromSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

type tx struct {
	reader
}

func (t *tx) CreateRoom(ctx context.Context, room *domain.Room) error {
	m := toRoomModel(room)
	err := t.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrRoomAlreadyExists
	}
	return err
}

func (t *tx) InvalidateRoom(ctx context.Context, roomID string) error {
	res := t.db.WithContext(ctx).Model(&roomModel{}).Where("id = ?", roomID).Update("valid", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (t *tx) AddParticipant(ctx context.Context, p *domain.Participant) error {
	if _, err := t.GetRoom(ctx, p.RoomID); err != nil {
		return err
	}

	m := toParticipantModel(p)
	err := t.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadyMember
	}
	return err
}

func (t *tx) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	res := t.db.WithContext(ctx).Where("room_id = ? AND identity = ?", roomID, identity).Delete(&participantModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotMember
	}
	return nil
}

func (t *tx) ResetUnread(ctx context.Context, roomID, identity string) error {
	return t.updateUnread(ctx, roomID, identity, 0)
}

func (t *tx) IncrementUnread(ctx context.Context, roomID, identity string) error {
	return t.updateUnread(ctx, roomID, identity, gorm.Expr("unread + 1"))
}

func (t *tx) updateUnread(ctx context.Context, roomID, identity string, value any) error {
	res := t.db.WithContext(ctx).Model(&participantModel{}).
		Where("room_id = ? AND identity = ?", roomID, identity).
		UpdateColumn("unread", value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotMember
	}
	return nil
}

// AppendMessage share-locks the room row so a concurrent invalidation
// either happens before the insert (and the insert fails) or waits for it.
func (t *tx) AppendMessage(ctx context.Context, m *domain.Message) error {
	var room roomModel
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Take(&room, "id = ?", m.RoomID).Error
	if err != nil {
		return notFound(err, domain.ErrRoomNotFound)
	}
	if !room.Valid {
		return domain.ErrRoomClosed
	}

	row := toMessageModel(m)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.Seq = row.Seq
	return nil
}

func (t *tx) DeleteMessages(ctx context.Context, roomID, sender string, typ domain.MessageType) (int, error) {
	res := t.db.WithContext(ctx).
		Where("room_id = ? AND sender = ? AND type = ?", roomID, sender, string(typ)).
		Delete(&messageModel{})
	return int(res.RowsAffected), res.Error
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

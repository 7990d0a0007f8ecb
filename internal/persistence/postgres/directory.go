package postgres

import (
	"context"
	"errors"

	"github.com/hilthontt/parley/internal/domain"
	"gorm.io/gorm"
)

// Directory reads roles and organisations from the members table.
type Directory struct {
	db *gorm.DB
}

var _ domain.Directory = (*Directory)(nil)

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Role reports MEMBER for identities without a members row.
func (d *Directory) Role(ctx context.Context, identity string) (domain.Role, error) {
	var m memberModel
	err := d.db.WithContext(ctx).Take(&m, "identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RoleMember, nil
	}
	if err != nil {
		return "", err
	}
	return domain.Role(m.Role), nil
}

func (d *Directory) Colleagues(ctx context.Context, identity string) ([]string, error) {
	org := d.db.Model(&memberModel{}).Select("organisation").Where("identity = ?", identity)

	var identities []string
	err := d.db.WithContext(ctx).Model(&memberModel{}).
		Where("organisation IN (?) AND identity <> ?", org, identity).
		Order("identity ASC").
		Pluck("identity", &identities).Error
	if err != nil {
		return nil, err
	}
	return identities, nil
}

// Upsert records identity's role and organisation.
func (d *Directory) Upsert(ctx context.Context, identity string, role domain.Role, organisation string) error {
	m := memberModel{Identity: identity, Role: string(role), Organisation: organisation}
	return d.db.WithContext(ctx).Save(&m).Error
}

package domain

import "context"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Directory answers who a user is in the organisation.
type Directory interface {
	Role(ctx context.Context, identity string) (Role, error)
	// Colleagues returns every member sharing identity's organisation,
	// identity excluded.
	Colleagues(ctx context.Context, identity string) ([]string, error)
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hilthontt/parley/internal/domain"
)

type member struct {
	role         domain.Role
	organisation string
}

// Directory is a static member directory. Members of the same organisation
// are colleagues.
type Directory struct {
	mu      sync.RWMutex
	members map[string]member
}

var _ domain.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{members: make(map[string]member)}
}

func (d *Directory) Add(identity string, role domain.Role, organisation string) *Directory {
	d.mu.Lock()
	d.members[identity] = member{role: role, organisation: organisation}
	d.mu.Unlock()
	return d
}

// Role reports MEMBER for identities the directory does not know.
func (d *Directory) Role(_ context.Context, identity string) (domain.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, exists := d.members[identity]
	if !exists {
		return domain.RoleMember, nil
	}
	return m.role, nil
}

func (d *Directory) Colleagues(_ context.Context, identity string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	self, exists := d.members[identity]
	if !exists {
		return nil, nil
	}
	var out []string
	for id, m := range d.members {
		if id != identity && m.organisation == self.organisation {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

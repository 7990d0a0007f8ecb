package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

// AuditLog keeps audit entries in memory for development and tests.
type AuditLog struct {
	mu   sync.RWMutex
	logs []domain.AuditLog
}

var _ domain.AuditRepository = (*AuditLog)(nil)

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Log(_ context.Context, log *domain.AuditLog) error {
	a.mu.Lock()
	a.logs = append(a.logs, *log)
	a.mu.Unlock()
	return nil
}

func (a *AuditLog) GetByRoomID(_ context.Context, roomID string, limit int) ([]domain.AuditLog, error) {
	return a.filter(limit, func(l domain.AuditLog) bool { return l.RoomID == roomID }), nil
}

func (a *AuditLog) GetByEventType(_ context.Context, eventType domain.AuditEventType, from, to time.Time) ([]domain.AuditLog, error) {
	return a.filter(0, func(l domain.AuditLog) bool {
		return l.EventType == eventType && !l.Timestamp.Before(from) && !l.Timestamp.After(to)
	}), nil
}

func (a *AuditLog) DeleteOlderThan(_ context.Context, before time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.logs[:0]
	for _, l := range a.logs {
		if !l.Timestamp.Before(before) {
			kept = append(kept, l)
		}
	}
	a.logs = kept
	return nil
}

func (a *AuditLog) EnsureIndexes(context.Context) error { return nil }

// filter returns matching entries newest first.
func (a *AuditLog) filter(limit int, match func(domain.AuditLog) bool) []domain.AuditLog {
	a.mu.RLock()
	out := []domain.AuditLog{}
	for _, l := range a.logs {
		if match(l) {
			out = append(out, l)
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

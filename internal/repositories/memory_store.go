package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/models"
)

// MemoryBackend keeps every tenant's data in process. Used by tests and by
// STORE_DRIVER=memory for local runs.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]map[uuid.UUID]*models.AuditSession
	activity map[string][]models.ActivityLog
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]map[uuid.UUID]*models.AuditSession),
		activity: make(map[string][]models.ActivityLog),
	}
}

// Handle returns a handle bound to tenantID. Handles share the backend.
func (b *MemoryBackend) Handle(tenantID string) StoreHandle {
	return &memoryHandle{tenantID: tenantID, backend: b}
}

type memoryHandle struct {
	tenantID string
	backend  *MemoryBackend
}

func (h *memoryHandle) TenantID() string { return h.tenantID }
func (h *memoryHandle) Sessions() SessionStore { return &memorySessionStore{h} }
func (h *memoryHandle) Activity() ActivityStore { return &memoryActivityStore{h} }

type memorySessionStore struct{ h *memoryHandle }

func (r *memorySessionStore) tenantSessions() map[uuid.UUID]*models.AuditSession {
	b := r.h.backend
	m, ok := b.sessions[r.h.tenantID]
	if !ok {
		m = make(map[uuid.UUID]*models.AuditSession)
		b.sessions[r.h.tenantID] = m
	}
	return m
}

func (r *memorySessionStore) Insert(_ context.Context, s *models.AuditSession) error {
	b := r.h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	m := r.tenantSessions()
	for _, existing := range m {
		if existing.Reference == s.Reference {
			return ErrDuplicateReference
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.TenantID = r.h.tenantID
	m[s.ID] = s.Clone()
	return nil
}

func (r *memorySessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.AuditSession, error) {
	b := r.h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.sessions[r.h.tenantID][id]
	if !ok {
		return nil, apperr.NotFound("audit session", id.String())
	}
	return s.Clone(), nil
}

func (r *memorySessionStore) Update(_ context.Context, s *models.AuditSession, expectedVersion int) error {
	b := r.h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.sessions[r.h.tenantID][s.ID]
	if !ok {
		return apperr.NotFound("audit session", s.ID.String())
	}
	if current.Version != expectedVersion {
		return apperr.Conflict("audit session", s.ID.String())
	}
	s.Version = expectedVersion + 1
	s.TenantID = r.h.tenantID
	b.sessions[r.h.tenantID][s.ID] = s.Clone()
	return nil
}

func (r *memorySessionStore) List(_ context.Context, f SessionFilter) ([]models.AuditSession, int64, error) {
	f = f.Normalize()
	b := r.h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	var search string
	if f.Search != nil {
		search = strings.ToLower(*f.Search)
	}

	var matched []models.AuditSession
	for _, s := range b.sessions[r.h.tenantID] {
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.Type != nil && s.Type != *f.Type {
			continue
		}
		if f.StoreID != nil && s.StoreID != *f.StoreID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Name), search) {
			continue
		}
		matched = append(matched, *s.Clone())
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ci, cj := matched[i].Timeline.CreatedAt, matched[j].Timeline.CreatedAt
		if ci.Equal(cj) {
			return matched[i].Reference > matched[j].Reference
		}
		return ci.After(cj)
	})

	total := int64(len(matched))
	start := f.Offset()
	if start >= len(matched) {
		return []models.AuditSession{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

type memoryActivityStore struct{ h *memoryHandle }

func (r *memoryActivityStore) Log(_ context.Context, entry models.ActivityLog) error {
	b := r.h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.TenantID = r.h.tenantID
	b.activity[r.h.tenantID] = append(b.activity[r.h.tenantID], entry)
	return nil
}

func (r *memoryActivityStore) ListBySession(_ context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ActivityLog, error) {
	limit, offset = normalizeActivityPage(limit, offset)
	b := r.h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	var logs []models.ActivityLog
	all := b.activity[r.h.tenantID]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].SessionID == sessionID {
			logs = append(logs, all[i])
		}
	}
	if offset >= len(logs) {
		return []models.ActivityLog{}, nil
	}
	logs = logs[offset:]
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/models"
)

// ErrDuplicateReference is returned by Insert when (tenant, reference) is taken.
var ErrDuplicateReference = errors.New("audit session reference already exists")

// SessionStore persists audit sessions of exactly one tenant.
type SessionStore interface {
	Insert(ctx context.Context, s *models.AuditSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditSession, error)
	// Update saves s only if the stored version still equals expectedVersion,
	// then bumps s.Version. A stale version yields *apperr.ConflictError.
	Update(ctx context.Context, s *models.AuditSession, expectedVersion int) error
	List(ctx context.Context, f SessionFilter) ([]models.AuditSession, int64, error)
}

type ActivityStore interface {
	Log(ctx context.Context, entry models.ActivityLog) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ActivityLog, error)
}

// StoreHandle is the tenant-bound capability every service operation runs
// against. Handles are produced by a tenant resolver, never built by services.
type StoreHandle interface {
	TenantID() string
	Sessions() SessionStore
	Activity() ActivityStore
}

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
	activityLimit    = 50
)

type SessionFilter struct {
	Status  *string
	Type    *string
	StoreID *string
	Search  *string // case-insensitive substring of name
	Page    int
	Limit   int
}

// Normalize applies the paging defaults: limit 25 capped at 100, page floored at 1.
func (f SessionFilter) Normalize() SessionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Page < 1 {
		f.Page = 1
	}
	return f
}

func (f SessionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func normalizeActivityPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = activityLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

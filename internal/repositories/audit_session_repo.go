package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/models"
)

// PostgresBackend shares one pool across tenants. Every statement issued by
// its handles filters on tenant_id.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Handle(tenantID string) StoreHandle {
	return &pgHandle{tenantID: tenantID, pool: b.pool}
}

type pgHandle struct {
	tenantID string
	pool     *pgxpool.Pool
}

func (h *pgHandle) TenantID() string { return h.tenantID }

func (h *pgHandle) Sessions() SessionStore {
	return &AuditSessionRepo{pool: h.pool, tenantID: h.tenantID}
}

func (h *pgHandle) Activity() ActivityStore {
	return &ActivityRepo{pool: h.pool, tenantID: h.tenantID}
}

type AuditSessionRepo struct {
	pool     *pgxpool.Pool
	tenantID string
}

const sessionColumns = `
	id, tenant_id, name, reference, status, type, store_id, scheduled_for, due_date, instructions,
	counters, entries, attachments, created_at, started_at, completed_at, cancelled_at,
	created_by, updated_by, version, updated_at`

func scanSession(row pgx.Row) (*models.AuditSession, error) {
	var s models.AuditSession
	var countersBytes, entriesBytes, attachmentsBytes []byte
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Reference, &s.Status, &s.Type, &s.StoreID,
		&s.ScheduledFor, &s.DueDate, &s.Instructions,
		&countersBytes, &entriesBytes, &attachmentsBytes,
		&s.Timeline.CreatedAt, &s.Timeline.StartedAt, &s.Timeline.CompletedAt, &s.Timeline.CancelledAt,
		&s.CreatedBy, &s.UpdatedBy, &s.Version, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(countersBytes, &s.Counters); err != nil {
		return nil, fmt.Errorf("decode counters: %w", err)
	}
	if err := json.Unmarshal(entriesBytes, &s.Entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	if err := json.Unmarshal(attachmentsBytes, &s.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return &s, nil
}

func marshalCollections(s *models.AuditSession) (counters, entries, attachments []byte, err error) {
	if counters, err = json.Marshal(nonNil(s.Counters)); err != nil {
		return
	}
	if entries, err = json.Marshal(nonNil(s.Entries)); err != nil {
		return
	}
	attachments, err = json.Marshal(nonNil(s.Attachments))
	return
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func (r *AuditSessionRepo) Insert(ctx context.Context, s *models.AuditSession) error {
	countersBytes, entriesBytes, attachmentsBytes, err := marshalCollections(s)
	if err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.TenantID = r.tenantID

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_sessions (id, tenant_id, name, reference, status, type, store_id, scheduled_for, due_date,
		                            instructions, counters, entries, attachments, created_at, started_at, completed_at,
		                            cancelled_at, created_by, updated_by, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, s.ID, r.tenantID, s.Name, s.Reference, s.Status, s.Type, s.StoreID, s.ScheduledFor, s.DueDate,
		s.Instructions, countersBytes, entriesBytes, attachmentsBytes, s.Timeline.CreatedAt, s.Timeline.StartedAt,
		s.Timeline.CompletedAt, s.Timeline.CancelledAt, s.CreatedBy, s.UpdatedBy, s.Version, s.UpdatedAt)
	if isUniqueViolation(err, "audit_sessions_tenant_reference_key") {
		return ErrDuplicateReference
	}
	return err
}

func (r *AuditSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM audit_sessions WHERE tenant_id = $1 AND id = $2`, r.tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("audit session", id.String())
	}
	return s, err
}

func (r *AuditSessionRepo) Update(ctx context.Context, s *models.AuditSession, expectedVersion int) error {
	countersBytes, entriesBytes, attachmentsBytes, err := marshalCollections(s)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_sessions SET
			name = $1, status = $2, type = $3, store_id = $4, scheduled_for = $5, due_date = $6, instructions = $7,
			counters = $8, entries = $9, attachments = $10, started_at = $11, completed_at = $12, cancelled_at = $13,
			updated_by = $14, updated_at = $15, version = version + 1
		WHERE tenant_id = $16 AND id = $17 AND version = $18
	`, s.Name, s.Status, s.Type, s.StoreID, s.ScheduledFor, s.DueDate, s.Instructions,
		countersBytes, entriesBytes, attachmentsBytes, s.Timeline.StartedAt, s.Timeline.CompletedAt, s.Timeline.CancelledAt,
		s.UpdatedBy, s.UpdatedAt, r.tenantID, s.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM audit_sessions WHERE tenant_id = $1 AND id = $2)`, r.tenantID, s.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("audit session", s.ID.String())
		}
		return apperr.Conflict("audit session", s.ID.String())
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *AuditSessionRepo) List(ctx context.Context, f SessionFilter) ([]models.AuditSession, int64, error) {
	f = f.Normalize()

	args := []any{r.tenantID}
	argIdx := 2
	where := []string{"tenant_id = $1"}

	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *f.Type)
		argIdx++
	}
	if f.StoreID != nil {
		where = append(where, fmt.Sprintf("store_id = $%d", argIdx))
		args = append(args, *f.StoreID)
		argIdx++
	}
	if f.Search != nil && *f.Search != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(*f.Search)+"%")
		argIdx++
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_sessions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sessionColumns + ` FROM audit_sessions` + clause +
		fmt.Sprintf(" ORDER BY created_at DESC, reference DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := []models.AuditSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// TotalPages is ceil(total/limit), zero when there are no records.
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total == 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(limit)))
}

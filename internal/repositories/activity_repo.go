package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/retail-backoffice/inventory-audit/internal/models"
)

type ActivityRepo struct {
	pool     *pgxpool.Pool
	tenantID string
}

func (r *ActivityRepo) Log(ctx context.Context, entry models.ActivityLog) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_session_activity (tenant_id, session_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, r.tenantID, entry.SessionID, entry.ActorUserID, entry.Action, meta)
	return err
}

func (r *ActivityRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ActivityLog, error) {
	limit, offset = normalizeActivityPage(limit, offset)
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, session_id, actor_user_id, action, meta, created_at
		FROM audit_session_activity WHERE tenant_id = $1 AND session_id = $2
		ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4
	`, r.tenantID, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var l models.ActivityLog
		var meta []byte
		if err := rows.Scan(&l.ID, &l.TenantID, &l.SessionID, &l.ActorUserID, &l.Action, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Meta); err != nil {
				return nil, fmt.Errorf("decode activity meta: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

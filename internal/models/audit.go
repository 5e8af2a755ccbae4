package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity actions
const (
	ActivitySessionCreated   = "audit_session_created"
	ActivitySessionUpdated   = "audit_session_updated"
	ActivityCountsRecorded   = "audit_session_counts_recorded"
	ActivityAttachmentAdded  = "audit_session_attachment_added"
	ActivityStatusChangedFmt = "audit_session_status_%s_to_%s"
)

// ActivityLog is one line of a session's activity trail.
type ActivityLog struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    string         `json:"tenant_id"`
	SessionID   uuid.UUID      `json:"session_id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

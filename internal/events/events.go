package events

import "context"

// Channel carrying every audit session event, for all tenants.
const AuditSessionChannel = "events:audit_session"

// Event types
const (
	EventSessionCreated       = "audit_session_created"
	EventSessionUpdated       = "audit_session_updated"
	EventSessionStatusChanged = "audit_session_status_changed"
	EventCountsRecorded       = "audit_session_counts_recorded"
	EventAttachmentAdded      = "audit_session_attachment_added"
)

// Event payloads always carry "tenant_id" so consumers can scope delivery.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (e Event) TenantID() string {
	id, _ := e.Payload["tenant_id"].(string)
	return id
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Package notify forwards audit session status changes to an external
// notification webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/events"
	"go.uber.org/zap"
)

// Notification is the body POSTed to the webhook.
type Notification struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Reference string `json:"reference"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ActorID   string `json:"actor_user_id"`
	Reason    string `json:"reason,omitempty"`
	Text      string `json:"text"`
}

type Forwarder struct {
	webhookURL string
	httpClient *http.Client
	log        *zap.Logger
}

func NewForwarder(webhookURL string, log *zap.Logger) *Forwarder {
	return &Forwarder{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Handle forwards status change events and ignores everything else.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) {
	n, ok := FromEvent(event)
	if !ok {
		return
	}
	if err := f.send(ctx, n); err != nil {
		f.log.Warn("failed to forward notification",
			zap.String("tenant_id", n.TenantID),
			zap.String("session_id", n.SessionID),
			zap.Error(err),
		)
		return
	}
	f.log.Info("notification forwarded",
		zap.String("tenant_id", n.TenantID),
		zap.String("reference", n.Reference),
		zap.String("new_status", n.NewStatus),
	)
}

// FromEvent builds a notification from a status change event.
func FromEvent(event events.Event) (Notification, bool) {
	if event.Type != events.EventSessionStatusChanged {
		return Notification{}, false
	}
	str := func(key string) string {
		v, _ := event.Payload[key].(string)
		return v
	}
	n := Notification{
		TenantID:  event.TenantID(),
		SessionID: str("session_id"),
		Reference: str("reference"),
		OldStatus: str("old_status"),
		NewStatus: str("new_status"),
		ActorID:   str("updated_by"),
		Reason:    str("reason"),
	}
	if n.TenantID == "" || n.NewStatus == "" {
		return Notification{}, false
	}
	n.Text = fmt.Sprintf("Audit %s moved from %s to %s", n.Reference, n.OldStatus, n.NewStatus)
	return n, true
}

func (f *Forwarder) send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

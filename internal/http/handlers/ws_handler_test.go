package handlers

import (
	"testing"

	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHubRegistersPerTenant(t *testing.T) {
	hub := NewWSHub(&config.Config{}, events.NewLocalBus(), zap.NewNop())
	a1, a2, b := &wsClient{}, &wsClient{}, &wsClient{}

	hub.register("acme", a1)
	hub.register("acme", a2)
	hub.register("globex", b)
	assert.Equal(t, 2, hub.Connections("acme"))
	assert.Equal(t, 1, hub.Connections("globex"))

	hub.unregister("acme", a1)
	assert.Equal(t, 1, hub.Connections("acme"))
	hub.unregister("globex", b)
	assert.Equal(t, 0, hub.Connections("globex"))
}

// Clients hold no socket here, so any write to them would panic: the broadcast
// must not touch clients of another tenant, nor anyone for tenantless events.
func TestBroadcastSkipsOtherTenants(t *testing.T) {
	hub := NewWSHub(&config.Config{}, events.NewLocalBus(), zap.NewNop())
	hub.register("globex", &wsClient{})

	assert.NotPanics(t, func() {
		hub.broadcast(events.Event{Type: events.EventSessionCreated, Payload: map[string]any{"tenant_id": "acme"}})
		hub.broadcast(events.Event{Type: events.EventSessionCreated, Payload: map[string]any{}})
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 500, statusFor(assert.AnError))
}

package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusDeliversByStream(t *testing.T) {
	bus := NewLocalBus()
	var got []Event
	require.NoError(t, bus.Subscribe(context.Background(), AuditSessionChannel, func(e Event) {
		got = append(got, e)
	}))

	ev := Event{Type: EventSessionCreated, Payload: map[string]any{"tenant_id": "acme"}}
	require.NoError(t, bus.Publish(context.Background(), AuditSessionChannel, ev))
	require.NoError(t, bus.Publish(context.Background(), "events:other", ev))

	require.Len(t, got, 1)
	assert.Equal(t, "acme", got[0].TenantID())
}

func TestEventTenantIDMissing(t *testing.T) {
	assert.Empty(t, Event{Type: EventSessionUpdated}.TenantID())
}

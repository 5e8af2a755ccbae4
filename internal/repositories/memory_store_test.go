package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, store SessionStore, name, status string, created time.Time) *models.AuditSession {
	t.Helper()
	expected := decimal.NewFromInt(1)
	s, err := models.NewSession("ignored", models.NewAuditSession{
		Name:    name,
		StoreID: "store-1",
		Entries: []models.EntryInput{{ProductID: "P1", ExpectedQty: &expected}},
	}, "u-1", created)
	require.NoError(t, err)
	s.Status = status
	s.Reference = models.GenerateReference(created)
	require.NoError(t, store.Insert(context.Background(), s))
	return s
}

func TestSessionFilterNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        SessionFilter
		wantPage  int
		wantLimit int
	}{
		{"defaults", SessionFilter{}, 1, 25},
		{"cap", SessionFilter{Page: 3, Limit: 500}, 3, 100},
		{"floor", SessionFilter{Page: -4, Limit: 10}, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.wantPage, got.Page)
			assert.Equal(t, tt.wantLimit, got.Limit)
		})
	}
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 25))
	assert.Equal(t, 1, TotalPages(25, 25))
	assert.Equal(t, 2, TotalPages(26, 25))
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	backend := NewMemoryBackend()
	a := backend.Handle("tenant-a").Sessions()
	b := backend.Handle("tenant-b").Sessions()
	ctx := context.Background()

	s := seedSession(t, a, "count", models.AuditSessionStatusDraft, time.Now())
	assert.Equal(t, "tenant-a", s.TenantID)

	_, err := b.GetByID(ctx, s.ID)
	assert.True(t, apperr.IsNotFound(err))

	list, total, err := b.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestMemoryStoreDuplicateReference(t *testing.T) {
	backend := NewMemoryBackend()
	store := backend.Handle("tenant-a").Sessions()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSession(t, store, "one", models.AuditSessionStatusDraft, at)

	expected := decimal.NewFromInt(1)
	dup, err := models.NewSession("tenant-a", models.NewAuditSession{
		Name: "two", StoreID: "s", Entries: []models.EntryInput{{ProductID: "P", ExpectedQty: &expected}},
	}, "u", at)
	require.NoError(t, err)
	dup.Reference = models.GenerateReference(at)
	assert.ErrorIs(t, store.Insert(context.Background(), dup), ErrDuplicateReference)

	// Same reference under another tenant is fine.
	other := backend.Handle("tenant-b").Sessions()
	dup.ID = uuid.Nil
	assert.NoError(t, other.Insert(context.Background(), dup))
}

func TestMemoryStoreVersionCheck(t *testing.T) {
	store := NewMemoryBackend().Handle("tenant-a").Sessions()
	ctx := context.Background()
	s := seedSession(t, store, "count", models.AuditSessionStatusDraft, time.Now())

	first, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	second, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)

	first.Name = "first"
	require.NoError(t, store.Update(ctx, first, first.Version))
	assert.Equal(t, 2, first.Version)

	second.Name = "second"
	err = store.Update(ctx, second, second.Version)
	assert.True(t, apperr.IsConflict(err))

	stored, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Name)
}

func TestMemoryStoreListFiltersAndOrder(t *testing.T) {
	store := NewMemoryBackend().Handle("tenant-a").Sessions()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	seedSession(t, store, "Backroom Q1", models.AuditSessionStatusDraft, base)
	seedSession(t, store, "Front shelves", models.AuditSessionStatusCounting, base.Add(time.Hour))
	seedSession(t, store, "backroom Q2", models.AuditSessionStatusCounting, base.Add(2*time.Hour))

	all, total, err := store.List(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "backroom Q2", all[0].Name)
	assert.Equal(t, "Backroom Q1", all[2].Name)

	search := "BACKROOM"
	found, total, err := store.List(ctx, SessionFilter{Search: &search})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, found, 2)

	status := models.AuditSessionStatusCounting
	counting, _, err := store.List(ctx, SessionFilter{Status: &status, Search: &search})
	require.NoError(t, err)
	require.Len(t, counting, 1)
	assert.Equal(t, "backroom Q2", counting[0].Name)

	page2, total, err := store.List(ctx, SessionFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page2, 1)
	assert.Equal(t, "Backroom Q1", page2[0].Name)
}

func TestMemoryActivityNewestFirst(t *testing.T) {
	handle := NewMemoryBackend().Handle("tenant-a")
	ctx := context.Background()
	sessionID := uuid.New()

	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, handle.Activity().Log(ctx, models.ActivityLog{SessionID: sessionID, Action: action}))
	}
	require.NoError(t, handle.Activity().Log(ctx, models.ActivityLog{SessionID: uuid.New(), Action: "other"}))

	logs, err := handle.Activity().ListBySession(ctx, sessionID, 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Action)
	assert.Equal(t, "b", logs[1].Action)
}

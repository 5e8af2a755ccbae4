package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"github.com/retail-backoffice/inventory-audit/internal/tenant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *AuditSessionService
	backend *repositories.MemoryBackend
	pub     *recordingPublisher
	clock   *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := repositories.NewMemoryBackend()
	pub := &recordingPublisher{}
	clock := &fixedClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	resolver := tenant.NewCachedResolver(backend, 10, time.Minute, zap.NewNop())
	svc := NewAuditSessionService(resolver, pub, nil, zap.NewNop()).WithClock(clock.Now)
	return &fixture{svc: svc, backend: backend, pub: pub, clock: clock}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func twoProductSession() models.NewAuditSession {
	return models.NewAuditSession{
		Name:    "Aisle 4",
		StoreID: "store-1",
		Entries: []models.EntryInput{
			{ProductID: "P1", ExpectedQty: dec("10")},
			{ProductID: "P2", ExpectedQty: dec("5")},
		},
	}
}

func TestCreateSessionDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "manager-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuditSessionStatusDraft, s.Status)
	assert.True(t, strings.HasPrefix(s.Reference, "AUD-"))
	assert.Equal(t, "acme", s.TenantID)
	assert.Equal(t, 1, s.Version)
	for _, e := range s.Entries {
		assert.Equal(t, models.EntryStatusPending, e.Status)
	}
	assert.Equal(t, []string{events.EventSessionCreated}, f.pub.types())

	activity, err := f.svc.ListActivity(ctx, "acme", s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, models.ActivitySessionCreated, activity[0].Action)
	assert.Equal(t, "manager-1", activity[0].ActorUserID)
}

func TestCreateSessionRequiresEntries(t *testing.T) {
	f := newFixture(t)
	in := twoProductSession()
	in.Entries = nil

	_, err := f.svc.CreateSession(context.Background(), "acme", in, "manager-1")
	assert.True(t, apperr.IsBadRequest(err))
	assert.Empty(t, f.pub.types())
}

func TestCreateSessionReferenceCollisionRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)

	assert.NotEqual(t, first.Reference, second.Reference)

	// Another tenant may reuse the same reference.
	other, err := f.svc.CreateSession(ctx, "globex", twoProductSession(), "m")
	require.NoError(t, err)
	assert.Equal(t, first.Reference, other.Reference)
}

func TestCountingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "manager-1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	s, err = f.svc.StartCounting(ctx, "acme", s.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusCounting, s.Status)
	require.NotNil(t, s.Timeline.StartedAt)
	startedAt := *s.Timeline.StartedAt

	res, err := f.svc.RecordCounts(ctx, "acme", s.ID, []models.CountInput{
		{ProductID: "P1", CountedQty: decimal.NewFromInt(8)},
	}, "counter-1")
	require.NoError(t, err)
	assert.Empty(t, res.Unmatched)

	p1, p2 := res.Session.Entries[0], res.Session.Entries[1]
	assert.True(t, p1.Variance.Equal(decimal.NewFromInt(-2)))
	assert.Equal(t, models.EntryStatusNeedsReview, p1.Status)
	assert.Equal(t, models.EntryStatusPending, p2.Status)
	assert.Equal(t, "counter-1", res.Session.UpdatedBy)
	assert.Equal(t, "manager-1", res.Session.CreatedBy)

	res, err = f.svc.RecordCounts(ctx, "acme", s.ID, []models.CountInput{
		{ProductID: "P2", CountedQty: decimal.RequireFromString("5.01")},
	}, "counter-1")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCounted, res.Session.Entries[1].Status)

	f.clock.Advance(time.Hour)
	s, err = f.svc.MoveToReview(ctx, "acme", s.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusReview, s.Status)
	assert.Equal(t, startedAt, *s.Timeline.StartedAt)

	s, err = f.svc.CompleteSession(ctx, "acme", s.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusCompleted, s.Status)
	assert.NotNil(t, s.Timeline.CompletedAt)

	assert.Equal(t, []string{
		events.EventSessionCreated,
		events.EventSessionStatusChanged,
		events.EventCountsRecorded,
		events.EventCountsRecorded,
		events.EventSessionStatusChanged,
		events.EventSessionStatusChanged,
	}, f.pub.types())

	activity, err := f.svc.ListActivity(ctx, "acme", s.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, "audit_session_status_review_to_completed", activity[0].Action)
}

func TestIllegalTransitionsNameAllowedStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)
	_, err = f.svc.StartCounting(ctx, "acme", s.ID, "m")
	require.NoError(t, err)

	_, err = f.svc.CancelSession(ctx, "acme", s.ID, nil, "m")
	require.Error(t, err)
	assert.True(t, apperr.IsBadRequest(err))
	assert.Contains(t, err.Error(), "draft, scheduled")

	_, err = f.svc.CompleteSession(ctx, "acme", s.ID, "m")
	assert.True(t, apperr.IsBadRequest(err))

	_, err = f.svc.UpdateSession(ctx, "acme", s.ID, models.AuditSessionUpdate{}, "m")
	assert.True(t, apperr.IsBadRequest(err))

	stored, err := f.svc.GetSession(ctx, "acme", s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusCounting, stored.Status)
}

func TestCancelScheduledWithReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := twoProductSession()
	at := f.clock.Now().Add(48 * time.Hour)
	in.ScheduledFor = &at
	s, err := f.svc.CreateSession(ctx, "acme", in, "m")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusScheduled, s.Status)

	reason := "store closed"
	s, err = f.svc.CancelSession(ctx, "acme", s.ID, &reason, "m")
	require.NoError(t, err)
	assert.Equal(t, models.AuditSessionStatusCancelled, s.Status)
	require.NotNil(t, s.Instructions)
	assert.Equal(t, "store closed", *s.Instructions)
	assert.NotNil(t, s.Timeline.CancelledAt)

	_, err = f.svc.StartCounting(ctx, "acme", s.ID, "m")
	assert.True(t, apperr.IsBadRequest(err))
}

func TestUpdateSessionReplacesEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)

	updated, err := f.svc.UpdateSession(ctx, "acme", s.ID, models.AuditSessionUpdate{
		Entries: []models.EntryInput{{ProductID: "P7", ExpectedQty: dec("1.5")}},
	}, "editor")
	require.NoError(t, err)
	require.Len(t, updated.Entries, 1)
	assert.Equal(t, "P7", updated.Entries[0].ProductID)
	assert.Equal(t, "editor", updated.UpdatedBy)
	assert.Equal(t, 2, updated.Version)

	_, err = f.svc.UpdateSession(ctx, "acme", s.ID, models.AuditSessionUpdate{Entries: []models.EntryInput{}}, "editor")
	assert.True(t, apperr.IsBadRequest(err))
}

func TestRecordCountsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)

	_, err = f.svc.RecordCounts(ctx, "acme", s.ID, []models.CountInput{{ProductID: "P1", CountedQty: decimal.NewFromInt(1)}}, "c")
	assert.True(t, apperr.IsBadRequest(err), "recording in draft must fail")

	_, err = f.svc.StartCounting(ctx, "acme", s.ID, "m")
	require.NoError(t, err)

	_, err = f.svc.RecordCounts(ctx, "acme", s.ID, nil, "c")
	assert.True(t, apperr.IsBadRequest(err))

	res, err := f.svc.RecordCounts(ctx, "acme", s.ID, []models.CountInput{{ProductID: "NOPE", CountedQty: decimal.NewFromInt(1)}}, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"NOPE"}, res.Unmatched)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)

	_, err = f.svc.GetSession(ctx, "globex", s.ID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.StartCounting(ctx, "globex", s.ID, "m")
	assert.True(t, apperr.IsNotFound(err))

	page, err := f.svc.ListSessions(ctx, "globex", repositories.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Zero(t, page.Pagination.Total)
}

func TestListSessionsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	page, err := f.svc.ListSessions(ctx, "acme", repositories.SessionFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Pagination.Limit)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.Len(t, page.Records, 30)
	assert.True(t, page.Records[0].Timeline.CreatedAt.After(page.Records[29].Timeline.CreatedAt))

	page, err = f.svc.ListSessions(ctx, "acme", repositories.SessionFilter{Page: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 25, page.Pagination.Limit)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.EqualValues(t, 30, page.Pagination.Total)
	assert.Len(t, page.Records, 25)

	bad := "finished"
	_, err = f.svc.ListSessions(ctx, "acme", repositories.SessionFilter{Status: &bad})
	assert.True(t, apperr.IsBadRequest(err))
}

func TestAddAttachmentAnyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateSession(ctx, "acme", twoProductSession(), "m")
	require.NoError(t, err)
	_, err = f.svc.CancelSession(ctx, "acme", s.ID, nil, "m")
	require.NoError(t, err)

	s, err = f.svc.AddAttachment(ctx, "acme", s.ID, models.AttachmentInput{Name: "shelf.jpg", URL: "https://files/shelf.jpg"}, "c")
	require.NoError(t, err)
	require.Len(t, s.Attachments, 1)
	assert.Equal(t, "c", s.Attachments[0].UploadedBy)
	assert.Equal(t, f.clock.Now(), s.Attachments[0].UploadedAt)
}

// racingSessions lets a competing writer save between the service's load and
// its save, once.
type racingSessions struct {
	repositories.SessionStore
	once sync.Once
	race func()
}

func (r *racingSessions) Update(ctx context.Context, s *models.AuditSession, expectedVersion int) error {
	r.once.Do(r.race)
	return r.SessionStore.Update(ctx, s, expectedVersion)
}

type racingHandle struct {
	repositories.StoreHandle
	sessions *racingSessions
}

func (h *racingHandle) Sessions() repositories.SessionStore { return h.sessions }

type handleResolver struct{ h repositories.StoreHandle }

func (r handleResolver) Resolve(context.Context, string) (repositories.StoreHandle, error) {
	return r.h, nil
}

func TestRecordCountsReappliesAfterConflict(t *testing.T) {
	backend := repositories.NewMemoryBackend()
	base := backend.Handle("acme")
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	seed, err := models.NewSession("acme", twoProductSession(), "m", now)
	require.NoError(t, err)
	seed.ID = uuid.New()
	seed.Reference = models.GenerateReference(now)
	require.NoError(t, seed.StartCounting("m", now))
	require.NoError(t, base.Sessions().Insert(ctx, seed))

	racing := &racingSessions{SessionStore: base.Sessions()}
	racing.race = func() {
		other, err := base.Sessions().GetByID(ctx, seed.ID)
		require.NoError(t, err)
		v := other.Version
		_, err = other.RecordCounts([]models.CountInput{{ProductID: "P2", CountedQty: decimal.NewFromInt(5)}}, "counter-b", now)
		require.NoError(t, err)
		require.NoError(t, base.Sessions().Update(ctx, other, v))
	}

	svc := NewAuditSessionService(handleResolver{&racingHandle{StoreHandle: base, sessions: racing}}, &recordingPublisher{}, nil, zap.NewNop()).
		WithClock(func() time.Time { return now })

	res, err := svc.RecordCounts(ctx, "acme", seed.ID, []models.CountInput{{ProductID: "P1", CountedQty: decimal.NewFromInt(10)}}, "counter-a")
	require.NoError(t, err)

	stored, err := base.Sessions().GetByID(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCounted, stored.Entries[0].Status, "P1 from counter-a")
	assert.Equal(t, models.EntryStatusCounted, stored.Entries[1].Status, "P2 from counter-b survives")
	assert.Equal(t, "counter-b", *stored.Entries[1].LastCountedBy)
	assert.Equal(t, stored.Version, res.Session.Version)
}

func TestTransitionConflictSurfaces(t *testing.T) {
	backend := repositories.NewMemoryBackend()
	base := backend.Handle("acme")
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	seed, err := models.NewSession("acme", twoProductSession(), "m", now)
	require.NoError(t, err)
	seed.ID = uuid.New()
	seed.Reference = models.GenerateReference(now)
	require.NoError(t, base.Sessions().Insert(ctx, seed))

	racing := &racingSessions{SessionStore: base.Sessions()}
	racing.race = func() {
		other, _ := base.Sessions().GetByID(ctx, seed.ID)
		v := other.Version
		name := "renamed elsewhere"
		require.NoError(t, other.ApplyUpdate(models.AuditSessionUpdate{Name: &name}, "x", now))
		require.NoError(t, base.Sessions().Update(ctx, other, v))
	}
	svc := NewAuditSessionService(handleResolver{&racingHandle{StoreHandle: base, sessions: racing}}, &recordingPublisher{}, nil, zap.NewNop())

	_, err = svc.StartCounting(ctx, "acme", seed.ID, "m")
	assert.True(t, apperr.IsConflict(err))
}

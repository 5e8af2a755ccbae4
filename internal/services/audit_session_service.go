package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	"github.com/retail-backoffice/inventory-audit/internal/export"
	"github.com/retail-backoffice/inventory-audit/internal/locks"
	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"github.com/retail-backoffice/inventory-audit/internal/tenant"
	"go.uber.org/zap"
)

const (
	// maxReferenceAttempts bounds retries after a (tenant, reference) collision.
	maxReferenceAttempts = 5
	// maxCountAttempts bounds reload-and-reapply rounds when recordCounts
	// loses a version race.
	maxCountAttempts = 5
)

type AuditSessionService struct {
	resolver  tenant.Resolver
	publisher events.Publisher
	locker    locks.SessionLocker
	log       *zap.Logger
	now       func() time.Time
}

func NewAuditSessionService(
	resolver tenant.Resolver,
	publisher events.Publisher,
	locker locks.SessionLocker,
	log *zap.Logger,
) *AuditSessionService {
	if locker == nil {
		locker = locks.NoopLocker{}
	}
	return &AuditSessionService{
		resolver:  resolver,
		publisher: publisher,
		locker:    locker,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests use it to pin timestamps.
func (s *AuditSessionService) WithClock(now func() time.Time) *AuditSessionService {
	s.now = now
	return s
}

type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

type SessionPage struct {
	Records    []models.AuditSession `json:"records"`
	Pagination Pagination            `json:"pagination"`
}

type RecordCountsResult struct {
	Session   *models.AuditSession
	Unmatched []string
}

func (s *AuditSessionService) ListSessions(ctx context.Context, tenantID string, f repositories.SessionFilter) (*SessionPage, error) {
	if f.Status != nil && !models.IsValidAuditSessionStatus(*f.Status) {
		return nil, apperr.BadRequest("invalid status filter %q", *f.Status)
	}
	if f.Type != nil && !models.IsValidAuditSessionType(*f.Type) {
		return nil, apperr.BadRequest("invalid type filter %q", *f.Type)
	}

	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	f = f.Normalize()
	records, total, err := h.Sessions().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list audit sessions: %w", err)
	}
	return &SessionPage{
		Records: records,
		Pagination: Pagination{
			Total:      total,
			Page:       f.Page,
			Limit:      f.Limit,
			TotalPages: repositories.TotalPages(total, f.Limit),
		},
	}, nil
}

func (s *AuditSessionService) GetSession(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditSession, error) {
	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return h.Sessions().GetByID(ctx, id)
}

func (s *AuditSessionService) CreateSession(ctx context.Context, tenantID string, in models.NewAuditSession, userID string) (*models.AuditSession, error) {
	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session, err := models.NewSession(tenantID, in, userID, now)
	if err != nil {
		return nil, err
	}
	session.ID = uuid.New()

	for attempt := 0; ; attempt++ {
		session.Reference = models.GenerateReference(now.Add(time.Duration(attempt) * time.Millisecond))
		err = h.Sessions().Insert(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, repositories.ErrDuplicateReference) || attempt+1 >= maxReferenceAttempts {
			return nil, fmt.Errorf("create audit session: %w", err)
		}
		s.log.Debug("audit session reference collision, retrying",
			zap.String("tenant_id", tenantID), zap.String("reference", session.Reference))
	}

	s.logActivity(ctx, h, session, userID, models.ActivitySessionCreated, map[string]any{
		"reference": session.Reference,
		"status":    session.Status,
		"entries":   len(session.Entries),
	})
	s.publish(ctx, events.EventSessionCreated, session, nil)
	return session, nil
}

func (s *AuditSessionService) UpdateSession(ctx context.Context, tenantID string, id uuid.UUID, u models.AuditSessionUpdate, userID string) (*models.AuditSession, error) {
	session, h, _, err := s.mutate(ctx, tenantID, id, func(sess *models.AuditSession, now time.Time) error {
		return sess.ApplyUpdate(u, userID, now)
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"entries_replaced": u.Entries != nil, "counters_replaced": u.Counters != nil}
	s.logActivity(ctx, h, session, userID, models.ActivitySessionUpdated, meta)
	s.publish(ctx, events.EventSessionUpdated, session, meta)
	return session, nil
}

func (s *AuditSessionService) StartCounting(ctx context.Context, tenantID string, id uuid.UUID, userID string) (*models.AuditSession, error) {
	return s.transition(ctx, tenantID, id, userID, nil, func(sess *models.AuditSession, now time.Time) error {
		return sess.StartCounting(userID, now)
	})
}

func (s *AuditSessionService) MoveToReview(ctx context.Context, tenantID string, id uuid.UUID, userID string) (*models.AuditSession, error) {
	return s.transition(ctx, tenantID, id, userID, nil, func(sess *models.AuditSession, now time.Time) error {
		return sess.MoveToReview(userID, now)
	})
}

func (s *AuditSessionService) CompleteSession(ctx context.Context, tenantID string, id uuid.UUID, userID string) (*models.AuditSession, error) {
	return s.transition(ctx, tenantID, id, userID, nil, func(sess *models.AuditSession, now time.Time) error {
		return sess.Complete(userID, now)
	})
}

func (s *AuditSessionService) CancelSession(ctx context.Context, tenantID string, id uuid.UUID, reason *string, userID string) (*models.AuditSession, error) {
	var meta map[string]any
	if reason != nil && *reason != "" {
		meta = map[string]any{"reason": *reason}
	}
	return s.transition(ctx, tenantID, id, userID, meta, func(sess *models.AuditSession, now time.Time) error {
		return sess.Cancel(reason, userID, now)
	})
}

// RecordCounts applies counts with per-product upsert semantics: when another
// writer saved first, the session is reloaded and only the submitted products
// are reapplied, so concurrent counters working disjoint products never erase
// each other's entries.
func (s *AuditSessionService) RecordCounts(ctx context.Context, tenantID string, id uuid.UUID, counts []models.CountInput, userID string) (*RecordCountsResult, error) {
	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	release := s.locker.Lock(ctx, tenantID, id.String())
	defer release()

	var unmatched []string
	var session *models.AuditSession
	for attempt := 1; ; attempt++ {
		session, err = h.Sessions().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := session.Version
		unmatched, err = session.RecordCounts(counts, userID, s.now())
		if err != nil {
			return nil, err
		}
		err = h.Sessions().Update(ctx, session, expected)
		if err == nil {
			break
		}
		if !apperr.IsConflict(err) || attempt >= maxCountAttempts {
			return nil, err
		}
		s.log.Warn("record counts lost a version race, reapplying",
			zap.String("tenant_id", tenantID), zap.String("session_id", id.String()), zap.Int("attempt", attempt))
	}

	if len(unmatched) > 0 {
		s.log.Warn("counts submitted for products not in session",
			zap.String("session_id", id.String()), zap.Strings("product_ids", unmatched))
	}

	productIDs := make([]string, 0, len(counts))
	for _, c := range counts {
		productIDs = append(productIDs, c.ProductID)
	}
	meta := map[string]any{"product_ids": productIDs}
	if len(unmatched) > 0 {
		meta["unmatched"] = unmatched
	}
	s.logActivity(ctx, h, session, userID, models.ActivityCountsRecorded, meta)

	summary := session.Summary()
	s.publish(ctx, events.EventCountsRecorded, session, map[string]any{
		"product_ids":  productIDs,
		"pending":      summary.Pending,
		"counted":      summary.Counted,
		"needs_review": summary.NeedsReview,
	})
	return &RecordCountsResult{Session: session, Unmatched: unmatched}, nil
}

func (s *AuditSessionService) AddAttachment(ctx context.Context, tenantID string, id uuid.UUID, in models.AttachmentInput, userID string) (*models.AuditSession, error) {
	session, h, _, err := s.mutate(ctx, tenantID, id, func(sess *models.AuditSession, now time.Time) error {
		return sess.AddAttachment(in, userID, now)
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"name": in.Name, "url": in.URL}
	s.logActivity(ctx, h, session, userID, models.ActivityAttachmentAdded, meta)
	s.publish(ctx, events.EventAttachmentAdded, session, meta)
	return session, nil
}

func (s *AuditSessionService) ListActivity(ctx context.Context, tenantID string, id uuid.UUID, limit, offset int) ([]models.ActivityLog, error) {
	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := h.Sessions().GetByID(ctx, id); err != nil {
		return nil, err
	}
	return h.Activity().ListBySession(ctx, id, limit, offset)
}

// ExportVariance renders the session's variance workbook and the file name to
// offer it under.
func (s *AuditSessionService) ExportVariance(ctx context.Context, tenantID string, id uuid.UUID) ([]byte, string, error) {
	session, err := s.GetSession(ctx, tenantID, id)
	if err != nil {
		return nil, "", err
	}
	data, err := export.VarianceWorkbook(session)
	if err != nil {
		return nil, "", fmt.Errorf("render variance workbook: %w", err)
	}
	return data, export.Filename(session), nil
}

// transition runs a status-changing operation, then logs and publishes the
// old and new status.
func (s *AuditSessionService) transition(
	ctx context.Context,
	tenantID string,
	id uuid.UUID,
	userID string,
	extra map[string]any,
	apply func(*models.AuditSession, time.Time) error,
) (*models.AuditSession, error) {
	session, h, oldStatus, err := s.mutate(ctx, tenantID, id, apply)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"old_status": oldStatus, "new_status": session.Status}
	for k, v := range extra {
		meta[k] = v
	}
	s.log.Info("audit session status changed",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", id.String()),
		zap.String("old_status", oldStatus),
		zap.String("new_status", session.Status),
	)
	s.logActivity(ctx, h, session, userID, fmt.Sprintf(models.ActivityStatusChangedFmt, oldStatus, session.Status), meta)
	s.publish(ctx, events.EventSessionStatusChanged, session, meta)
	return session, nil
}

// mutate loads, applies and saves with a version check. A lost race surfaces
// as *apperr.ConflictError.
func (s *AuditSessionService) mutate(
	ctx context.Context,
	tenantID string,
	id uuid.UUID,
	apply func(*models.AuditSession, time.Time) error,
) (*models.AuditSession, repositories.StoreHandle, string, error) {
	h, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, nil, "", err
	}
	release := s.locker.Lock(ctx, tenantID, id.String())
	defer release()

	session, err := h.Sessions().GetByID(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	oldStatus := session.Status
	expected := session.Version

	if err := apply(session, s.now()); err != nil {
		return nil, nil, "", err
	}
	if err := h.Sessions().Update(ctx, session, expected); err != nil {
		if apperr.IsConflict(err) {
			s.log.Warn("audit session save lost a version race",
				zap.String("tenant_id", tenantID),
				zap.String("session_id", id.String()),
				zap.Int("expected_version", expected),
			)
		}
		return nil, nil, "", err
	}
	return session, h, oldStatus, nil
}

func (s *AuditSessionService) logActivity(ctx context.Context, h repositories.StoreHandle, session *models.AuditSession, userID, action string, meta map[string]any) {
	err := h.Activity().Log(ctx, models.ActivityLog{
		SessionID:   session.ID,
		ActorUserID: userID,
		Action:      action,
		Meta:        meta,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.log.Warn("failed to write activity log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuditSessionService) publish(ctx context.Context, eventType string, session *models.AuditSession, extra map[string]any) {
	payload := map[string]any{
		"tenant_id":  session.TenantID,
		"session_id": session.ID.String(),
		"reference":  session.Reference,
		"status":     session.Status,
		"store_id":   session.StoreID,
		"updated_by": session.UpdatedBy,
	}
	for k, v := range extra {
		payload[k] = v
	}
	_ = s.publisher.Publish(ctx, events.AuditSessionChannel, events.Event{Type: eventType, Payload: payload})
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/shopspring/decimal"
)

// Audit session statuses
const (
	AuditSessionStatusDraft     = "draft"
	AuditSessionStatusScheduled = "scheduled"
	AuditSessionStatusCounting  = "counting"
	AuditSessionStatusReview    = "review"
	AuditSessionStatusCompleted = "completed"
	AuditSessionStatusCancelled = "cancelled"
)

// Audit session types. Descriptive only, they never change lifecycle rules.
const (
	AuditSessionTypeCycle = "cycle"
	AuditSessionTypeBlind = "blind"
	AuditSessionTypeFull  = "full"
)

// Counter statuses
const (
	CounterStatusPending  = "pending"
	CounterStatusActive   = "active"
	CounterStatusComplete = "complete"
)

// Lifecycle operations
const (
	SessionOpUpdate        = "update"
	SessionOpStartCounting = "start_counting"
	SessionOpRecordCounts  = "record_counts"
	SessionOpMoveToReview  = "move_to_review"
	SessionOpComplete      = "complete"
	SessionOpCancel        = "cancel"
)

var AllAuditSessionStatuses = []string{
	AuditSessionStatusDraft,
	AuditSessionStatusScheduled,
	AuditSessionStatusCounting,
	AuditSessionStatusReview,
	AuditSessionStatusCompleted,
	AuditSessionStatusCancelled,
}

var AllAuditSessionTypes = []string{
	AuditSessionTypeCycle,
	AuditSessionTypeBlind,
	AuditSessionTypeFull,
}

// Legal source states: operation -> []status
var SessionOperationSources = map[string][]string{
	SessionOpUpdate:        {AuditSessionStatusDraft, AuditSessionStatusScheduled},
	SessionOpStartCounting: {AuditSessionStatusDraft, AuditSessionStatusScheduled},
	SessionOpRecordCounts:  {AuditSessionStatusCounting},
	SessionOpMoveToReview:  {AuditSessionStatusCounting},
	SessionOpComplete:      {AuditSessionStatusReview},
	SessionOpCancel:        {AuditSessionStatusDraft, AuditSessionStatusScheduled},
}

// CanApply reports whether op may run while the session is in status.
func CanApply(op, status string) bool {
	for _, s := range SessionOperationSources[op] {
		if s == status {
			return true
		}
	}
	return false
}

// CheckOperation returns a BadRequestError listing the allowed source states
// when op is not legal from status.
func CheckOperation(op, status string) error {
	if CanApply(op, status) {
		return nil
	}
	allowed := SessionOperationSources[op]
	return apperr.BadRequest("cannot %s audit session in status %q: allowed states are %s",
		strings.ReplaceAll(op, "_", " "), status, strings.Join(allowed, ", "))
}

func IsValidAuditSessionType(t string) bool {
	for _, v := range AllAuditSessionTypes {
		if v == t {
			return true
		}
	}
	return false
}

func IsValidAuditSessionStatus(s string) bool {
	for _, v := range AllAuditSessionStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == AuditSessionStatusCompleted || status == AuditSessionStatusCancelled
}

type Counter struct {
	UserID string  `json:"user_id"`
	Role   *string `json:"role,omitempty"`
	Status string  `json:"status"`
}

type Attachment struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
	UploadedBy string    `json:"uploaded_by"`
}

// Timeline fields are each written once, by the transition that owns them.
type Timeline struct {
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type AuditSession struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Name         string       `json:"name"`
	Reference    string       `json:"reference"`
	Status       string       `json:"status"`
	Type         string       `json:"type"`
	StoreID      string       `json:"store_id"`
	ScheduledFor *time.Time   `json:"scheduled_for,omitempty"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Instructions *string      `json:"instructions,omitempty"`
	Counters     []Counter    `json:"counters"`
	Entries      []AuditEntry `json:"entries"`
	Attachments  []Attachment `json:"attachments"`
	Timeline     Timeline     `json:"timeline"`
	CreatedBy    string       `json:"created_by"`
	UpdatedBy    string       `json:"updated_by"`
	Version      int          `json:"version"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type CounterInput struct {
	UserID string  `json:"user_id"`
	Role   *string `json:"role,omitempty"`
	Status string  `json:"status,omitempty"`
}

type AttachmentInput struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type NewAuditSession struct {
	Name         string
	Type         string
	StoreID      string
	ScheduledFor *time.Time
	DueDate      *time.Time
	Instructions *string
	Counters     []CounterInput
	Entries      []EntryInput
	Attachments  []AttachmentInput
}

// AuditSessionUpdate carries only the fields the caller supplied. A nil
// pointer or nil slice leaves the stored value untouched.
type AuditSessionUpdate struct {
	Name         *string
	Type         *string
	StoreID      *string
	ScheduledFor *time.Time
	DueDate      *time.Time
	Instructions *string
	Counters     []CounterInput
	Entries      []EntryInput
}

// NewSession builds a session in draft, or scheduled when ScheduledFor is set.
// ID and Reference are assigned by the caller.
func NewSession(tenantID string, in NewAuditSession, createdBy string, now time.Time) (*AuditSession, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.BadRequest("name is required")
	}
	if strings.TrimSpace(in.StoreID) == "" {
		return nil, apperr.BadRequest("store_id is required")
	}
	sessionType := in.Type
	if sessionType == "" {
		sessionType = AuditSessionTypeCycle
	}
	if !IsValidAuditSessionType(sessionType) {
		return nil, apperr.BadRequest("invalid audit session type %q, must be one of: %s", sessionType, strings.Join(AllAuditSessionTypes, ", "))
	}

	entries, err := BuildEntries(in.Entries)
	if err != nil {
		return nil, err
	}
	counters, err := buildCounters(in.Counters)
	if err != nil {
		return nil, err
	}

	status := AuditSessionStatusDraft
	if in.ScheduledFor != nil {
		status = AuditSessionStatusScheduled
	}

	s := &AuditSession{
		TenantID:     tenantID,
		Name:         strings.TrimSpace(in.Name),
		Status:       status,
		Type:         sessionType,
		StoreID:      in.StoreID,
		ScheduledFor: in.ScheduledFor,
		DueDate:      in.DueDate,
		Instructions: in.Instructions,
		Counters:     counters,
		Entries:      entries,
		Attachments:  []Attachment{},
		Timeline:     Timeline{CreatedAt: now},
		CreatedBy:    createdBy,
		UpdatedBy:    createdBy,
		Version:      1,
		UpdatedAt:    now,
	}
	for _, a := range in.Attachments {
		if err := s.appendAttachment(a, createdBy, now); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildCounters(inputs []CounterInput) ([]Counter, error) {
	counters := make([]Counter, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.UserID) == "" {
			return nil, apperr.BadRequest("counters[%d]: user_id is required", i)
		}
		status := in.Status
		if status == "" {
			status = CounterStatusPending
		}
		if status != CounterStatusPending && status != CounterStatusActive && status != CounterStatusComplete {
			return nil, apperr.BadRequest("counters[%d]: invalid status %q", i, status)
		}
		counters = append(counters, Counter{UserID: in.UserID, Role: in.Role, Status: status})
	}
	return counters, nil
}

func (s *AuditSession) touch(by string, now time.Time) {
	s.UpdatedBy = by
	s.UpdatedAt = now
}

// ApplyUpdate replaces the supplied planning fields. Supplied entries are
// rebuilt from scratch, discarding any counts already entered.
func (s *AuditSession) ApplyUpdate(u AuditSessionUpdate, by string, now time.Time) error {
	if err := CheckOperation(SessionOpUpdate, s.Status); err != nil {
		return err
	}

	// Validate everything before mutating so a rejected update leaves s intact.
	var entries []AuditEntry
	if u.Entries != nil {
		built, err := BuildEntries(u.Entries)
		if err != nil {
			return err
		}
		entries = built
	}
	var counters []Counter
	if u.Counters != nil {
		built, err := buildCounters(u.Counters)
		if err != nil {
			return err
		}
		counters = built
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return apperr.BadRequest("name cannot be empty")
	}
	if u.StoreID != nil && strings.TrimSpace(*u.StoreID) == "" {
		return apperr.BadRequest("store_id cannot be empty")
	}
	if u.Type != nil && !IsValidAuditSessionType(*u.Type) {
		return apperr.BadRequest("invalid audit session type %q, must be one of: %s", *u.Type, strings.Join(AllAuditSessionTypes, ", "))
	}

	if u.Name != nil {
		s.Name = strings.TrimSpace(*u.Name)
	}
	if u.Type != nil {
		s.Type = *u.Type
	}
	if u.StoreID != nil {
		s.StoreID = *u.StoreID
	}
	if u.ScheduledFor != nil {
		s.ScheduledFor = u.ScheduledFor
	}
	if u.DueDate != nil {
		s.DueDate = u.DueDate
	}
	if u.Instructions != nil {
		s.Instructions = u.Instructions
	}
	if counters != nil {
		s.Counters = counters
	}
	if entries != nil {
		s.Entries = entries
	}
	s.touch(by, now)
	return nil
}

func (s *AuditSession) StartCounting(by string, now time.Time) error {
	if err := CheckOperation(SessionOpStartCounting, s.Status); err != nil {
		return err
	}
	s.Status = AuditSessionStatusCounting
	if s.Timeline.StartedAt == nil {
		s.Timeline.StartedAt = &now
	}
	for i := range s.Counters {
		if s.Counters[i].Status != CounterStatusComplete {
			s.Counters[i].Status = CounterStatusActive
		}
	}
	s.touch(by, now)
	return nil
}

// RecordCounts applies counts to the matching entries only. It returns the
// submitted product ids that matched no entry.
func (s *AuditSession) RecordCounts(counts []CountInput, by string, now time.Time) ([]string, error) {
	if err := CheckOperation(SessionOpRecordCounts, s.Status); err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, apperr.BadRequest("at least one count is required")
	}
	entries, unmatched := ApplyCounts(s.Entries, counts, by, now)
	s.Entries = entries
	s.touch(by, now)
	return unmatched, nil
}

func (s *AuditSession) MoveToReview(by string, now time.Time) error {
	if err := CheckOperation(SessionOpMoveToReview, s.Status); err != nil {
		return err
	}
	s.Status = AuditSessionStatusReview
	s.touch(by, now)
	return nil
}

func (s *AuditSession) Complete(by string, now time.Time) error {
	if err := CheckOperation(SessionOpComplete, s.Status); err != nil {
		return err
	}
	s.Status = AuditSessionStatusCompleted
	if s.Timeline.CompletedAt == nil {
		s.Timeline.CompletedAt = &now
	}
	s.touch(by, now)
	return nil
}

// Cancel moves the session to cancelled. Any supplied reason other than the
// empty string replaces the instructions verbatim.
func (s *AuditSession) Cancel(reason *string, by string, now time.Time) error {
	if err := CheckOperation(SessionOpCancel, s.Status); err != nil {
		return err
	}
	s.Status = AuditSessionStatusCancelled
	if s.Timeline.CancelledAt == nil {
		s.Timeline.CancelledAt = &now
	}
	if reason != nil && *reason != "" {
		r := *reason
		s.Instructions = &r
	}
	s.touch(by, now)
	return nil
}

// AddAttachment appends to the attachment list. Allowed in every status.
func (s *AuditSession) AddAttachment(in AttachmentInput, by string, now time.Time) error {
	if err := s.appendAttachment(in, by, now); err != nil {
		return err
	}
	s.touch(by, now)
	return nil
}

func (s *AuditSession) appendAttachment(in AttachmentInput, by string, now time.Time) error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.URL) == "" {
		return apperr.BadRequest("attachment name and url are required")
	}
	s.Attachments = append(s.Attachments, Attachment{
		Name:       in.Name,
		URL:        in.URL,
		UploadedAt: now,
		UploadedBy: by,
	})
	return nil
}

type SessionSummary struct {
	TotalEntries int             `json:"total_entries"`
	Pending      int             `json:"pending"`
	Counted      int             `json:"counted"`
	NeedsReview  int             `json:"needs_review"`
	NetVariance  decimal.Decimal `json:"net_variance"`
}

func (s *AuditSession) Summary() SessionSummary {
	sum := SessionSummary{TotalEntries: len(s.Entries), NetVariance: decimal.Zero}
	for _, e := range s.Entries {
		switch e.Status {
		case EntryStatusPending:
			sum.Pending++
		case EntryStatusCounted:
			sum.Counted++
		case EntryStatusNeedsReview:
			sum.NeedsReview++
		}
		if e.Variance != nil {
			sum.NetVariance = sum.NetVariance.Add(*e.Variance)
		}
	}
	return sum
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *AuditSession) Clone() *AuditSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Counters = append([]Counter(nil), s.Counters...)
	c.Entries = append([]AuditEntry(nil), s.Entries...)
	c.Attachments = append([]Attachment(nil), s.Attachments...)
	if c.Counters == nil {
		c.Counters = []Counter{}
	}
	if c.Attachments == nil {
		c.Attachments = []Attachment{}
	}
	return &c
}

type StoreSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type ProductSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	SKU  string `json:"sku,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// AuditSessionView embeds AuditSession and adds display data resolved from
// master data, so list responses avoid N+1 lookups on the client.
type AuditSessionView struct {
	AuditSession
	Summary  SessionSummary            `json:"summary"`
	Store    *StoreSummary             `json:"store,omitempty"`
	Users    map[string]UserSummary    `json:"users,omitempty"`
	Products map[string]ProductSummary `json:"products,omitempty"`
}

func NewAuditSessionView(s *AuditSession) AuditSessionView {
	return AuditSessionView{AuditSession: *s, Summary: s.Summary()}
}

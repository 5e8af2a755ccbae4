package dto

import (
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/shopspring/decimal"
)

type CounterRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	Role   *string `json:"role,omitempty"`
	Status string  `json:"status,omitempty" validate:"omitempty,oneof=pending active complete"`
}

type EntryRequest struct {
	ProductID   string           `json:"product_id" validate:"required"`
	SKU         string           `json:"sku"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	ExpectedQty *decimal.Decimal `json:"expected_qty" validate:"required"`
}

type AttachmentRequest struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
}

type CreateAuditSessionRequest struct {
	Name         string              `json:"name" validate:"required,max=200"`
	Type         string              `json:"type,omitempty" validate:"omitempty,oneof=cycle blind full"`
	StoreID      string              `json:"store_id" validate:"required"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	DueDate      *time.Time          `json:"due_date,omitempty"`
	Instructions *string             `json:"instructions,omitempty"`
	Counters     []CounterRequest    `json:"counters,omitempty" validate:"omitempty,dive"`
	Entries      []EntryRequest      `json:"entries" validate:"required,min=1,dive"`
	Attachments  []AttachmentRequest `json:"attachments,omitempty" validate:"omitempty,dive"`
}

// UpdateAuditSessionRequest: absent fields are left untouched. An explicit
// empty entries list is rejected by the model.
type UpdateAuditSessionRequest struct {
	Name         *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Type         *string          `json:"type,omitempty" validate:"omitempty,oneof=cycle blind full"`
	StoreID      *string          `json:"store_id,omitempty"`
	ScheduledFor *time.Time       `json:"scheduled_for,omitempty"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	Instructions *string          `json:"instructions,omitempty"`
	Counters     []CounterRequest `json:"counters,omitempty" validate:"omitempty,dive"`
	Entries      []EntryRequest   `json:"entries,omitempty" validate:"omitempty,dive"`
}

type CountRequest struct {
	ProductID  string           `json:"product_id" validate:"required"`
	CountedQty *decimal.Decimal `json:"counted_qty" validate:"required"`
	Notes      *string          `json:"notes,omitempty"`
}

type RecordCountsRequest struct {
	Counts []CountRequest `json:"counts" validate:"required,min=1,dive"`
}

type CancelAuditSessionRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (r CreateAuditSessionRequest) ToModel() models.NewAuditSession {
	attachments := make([]models.AttachmentInput, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		attachments = append(attachments, models.AttachmentInput{Name: a.Name, URL: a.URL})
	}
	return models.NewAuditSession{
		Name:         r.Name,
		Type:         r.Type,
		StoreID:      r.StoreID,
		ScheduledFor: r.ScheduledFor,
		DueDate:      r.DueDate,
		Instructions: r.Instructions,
		Counters:     toCounterInputs(r.Counters),
		Entries:      toEntryInputs(r.Entries),
		Attachments:  attachments,
	}
}

func (r UpdateAuditSessionRequest) ToModel() models.AuditSessionUpdate {
	return models.AuditSessionUpdate{
		Name:         r.Name,
		Type:         r.Type,
		StoreID:      r.StoreID,
		ScheduledFor: r.ScheduledFor,
		DueDate:      r.DueDate,
		Instructions: r.Instructions,
		Counters:     toCounterInputs(r.Counters),
		Entries:      toEntryInputs(r.Entries),
	}
}

func (r RecordCountsRequest) ToModel() []models.CountInput {
	counts := make([]models.CountInput, 0, len(r.Counts))
	for _, c := range r.Counts {
		counts = append(counts, models.CountInput{ProductID: c.ProductID, CountedQty: *c.CountedQty, Notes: c.Notes})
	}
	return counts
}

// nil in, nil out: the update path relies on nil meaning "not supplied".
func toEntryInputs(in []EntryRequest) []models.EntryInput {
	if in == nil {
		return nil
	}
	out := make([]models.EntryInput, 0, len(in))
	for _, e := range in {
		out = append(out, models.EntryInput{
			ProductID:   e.ProductID,
			SKU:         e.SKU,
			Name:        e.Name,
			Category:    e.Category,
			ExpectedQty: e.ExpectedQty,
		})
	}
	return out
}

func toCounterInputs(in []CounterRequest) []models.CounterInput {
	if in == nil {
		return nil
	}
	out := make([]models.CounterInput, 0, len(in))
	for _, c := range in {
		out = append(out, models.CounterInput{UserID: c.UserID, Role: c.Role, Status: c.Status})
	}
	return out
}

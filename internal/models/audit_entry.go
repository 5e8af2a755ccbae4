package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/shopspring/decimal"
)

// Entry statuses
const (
	EntryStatusPending     = "pending"
	EntryStatusCounted     = "counted"
	EntryStatusNeedsReview = "needs_review"
)

// VarianceTolerance absorbs rounding noise from scales and unit conversion.
// A variance whose magnitude is at most this value still counts as a match.
var VarianceTolerance = decimal.RequireFromString("0.01")

// AuditEntry is one product line of a session. SKU, Name and Category are a
// snapshot taken when the entry is built and are not re-synced later.
type AuditEntry struct {
	ProductID     string           `json:"product_id"`
	SKU           string           `json:"sku"`
	Name          string           `json:"name"`
	Category      string           `json:"category"`
	ExpectedQty   decimal.Decimal  `json:"expected_qty"`
	CountedQty    *decimal.Decimal `json:"counted_qty,omitempty"`
	Variance      *decimal.Decimal `json:"variance,omitempty"`
	Status        string           `json:"status"`
	Notes         *string          `json:"notes,omitempty"`
	LastCountedBy *string          `json:"last_counted_by,omitempty"`
	LastCountedAt *time.Time       `json:"last_counted_at,omitempty"`
}

type EntryInput struct {
	ProductID   string
	SKU         string
	Name        string
	Category    string
	ExpectedQty *decimal.Decimal
}

type CountInput struct {
	ProductID  string
	CountedQty decimal.Decimal
	Notes      *string
}

// BuildEntries turns the inputs into pending entries. Duplicate product ids
// are kept as separate lines (the same product may sit in several bins).
func BuildEntries(inputs []EntryInput) ([]AuditEntry, error) {
	if len(inputs) == 0 {
		return nil, apperr.BadRequest("at least one entry is required")
	}
	entries := make([]AuditEntry, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.ProductID) == "" {
			return nil, apperr.BadRequest("entries[%d]: product_id is required", i)
		}
		if in.ExpectedQty == nil {
			return nil, apperr.BadRequest("entries[%d]: expected_qty is required", i)
		}
		entries = append(entries, AuditEntry{
			ProductID:   in.ProductID,
			SKU:         in.SKU,
			Name:        in.Name,
			Category:    in.Category,
			ExpectedQty: *in.ExpectedQty,
			Status:      EntryStatusPending,
		})
	}
	return entries, nil
}

// ClassifyVariance maps a variance to counted or needs_review.
func ClassifyVariance(variance decimal.Decimal) string {
	if variance.IsZero() {
		return EntryStatusCounted
	}
	if variance.Abs().LessThanOrEqual(VarianceTolerance) {
		return EntryStatusCounted
	}
	return EntryStatusNeedsReview
}

// RecordCount stores a count and recomputes variance and status.
func (e *AuditEntry) RecordCount(counted decimal.Decimal, notes *string, by string, at time.Time) {
	variance := counted.Sub(e.ExpectedQty)
	countedBy := by
	countedAt := at

	e.CountedQty = &counted
	e.Variance = &variance
	e.Status = ClassifyVariance(variance)
	e.Notes = notes
	e.LastCountedBy = &countedBy
	e.LastCountedAt = &countedAt
}

// ApplyCounts returns a copy of entries with every entry whose product is in
// counts updated. Entries not mentioned are returned unchanged. When the same
// product is submitted twice the last submission wins.
func ApplyCounts(entries []AuditEntry, counts []CountInput, by string, at time.Time) ([]AuditEntry, []string) {
	lookup := make(map[string]CountInput, len(counts))
	for _, c := range counts {
		lookup[c.ProductID] = c
	}

	matched := make(map[string]bool, len(lookup))
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	for i := range out {
		c, ok := lookup[out[i].ProductID]
		if !ok {
			continue
		}
		out[i].RecordCount(c.CountedQty, c.Notes, by, at)
		matched[c.ProductID] = true
	}

	var unmatched []string
	for _, c := range counts {
		if !matched[c.ProductID] {
			unmatched = append(unmatched, c.ProductID)
			matched[c.ProductID] = true
		}
	}
	return out, unmatched
}

// GenerateReference returns "AUD-" followed by the upper-cased base36 form of
// now in milliseconds. Uniqueness is enforced by storage, not here.
func GenerateReference(now time.Time) string {
	return "AUD-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
}

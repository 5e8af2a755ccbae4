package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/shopspring/decimal"
)

func TestClassifyVariance(t *testing.T) {
	tests := []struct {
		variance string
		expected string
	}{
		{"0", EntryStatusCounted},
		{"0.01", EntryStatusCounted},
		{"-0.01", EntryStatusCounted},
		{"0.005", EntryStatusCounted},
		{"0.011", EntryStatusNeedsReview},
		{"-0.011", EntryStatusNeedsReview},
		{"-2", EntryStatusNeedsReview},
		{"150", EntryStatusNeedsReview},
	}

	for _, tt := range tests {
		t.Run(tt.variance, func(t *testing.T) {
			got := ClassifyVariance(decimal.RequireFromString(tt.variance))
			if got != tt.expected {
				t.Errorf("ClassifyVariance(%s) = %q, want %q", tt.variance, got, tt.expected)
			}
		})
	}
}

func TestRecordCountExactVariance(t *testing.T) {
	e := AuditEntry{ProductID: "P1", ExpectedQty: decimal.RequireFromString("0.3"), Status: EntryStatusPending}
	e.RecordCount(decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2")), nil, "counter", testNow)

	if !e.Variance.IsZero() {
		t.Errorf("variance = %s, want exact zero", e.Variance)
	}
	if e.Status != EntryStatusCounted {
		t.Errorf("status = %q", e.Status)
	}
	if e.LastCountedBy == nil || *e.LastCountedBy != "counter" {
		t.Errorf("last_counted_by = %v", e.LastCountedBy)
	}
	if e.LastCountedAt == nil || !e.LastCountedAt.Equal(testNow) {
		t.Errorf("last_counted_at = %v", e.LastCountedAt)
	}
}

func TestApplyCountsPartial(t *testing.T) {
	entries, err := BuildEntries([]EntryInput{
		{ProductID: "P1", ExpectedQty: qty("10")},
		{ProductID: "P2", ExpectedQty: qty("5")},
	})
	if err != nil {
		t.Fatalf("BuildEntries: %v", err)
	}

	out, unmatched := ApplyCounts(entries, []CountInput{{ProductID: "P1", CountedQty: decimal.NewFromInt(8)}}, "c", testNow)

	if len(unmatched) != 0 {
		t.Errorf("unmatched = %v", unmatched)
	}
	if out[0].Status != EntryStatusNeedsReview || !out[0].Variance.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("P1 = %+v", out[0])
	}
	if out[1].Status != EntryStatusPending || out[1].CountedQty != nil {
		t.Errorf("P2 should stay pending, got %+v", out[1])
	}
	if entries[0].Status != EntryStatusPending {
		t.Error("ApplyCounts mutated its input")
	}
}

func TestApplyCountsLastSubmissionWins(t *testing.T) {
	entries, _ := BuildEntries([]EntryInput{{ProductID: "P1", ExpectedQty: qty("4")}})
	out, _ := ApplyCounts(entries, []CountInput{
		{ProductID: "P1", CountedQty: decimal.NewFromInt(1)},
		{ProductID: "P1", CountedQty: decimal.NewFromInt(4)},
	}, "c", testNow)

	if !out[0].CountedQty.Equal(decimal.NewFromInt(4)) || out[0].Status != EntryStatusCounted {
		t.Errorf("entry = %+v", out[0])
	}
}

func TestApplyCountsUnknownProduct(t *testing.T) {
	entries, _ := BuildEntries([]EntryInput{{ProductID: "P1", ExpectedQty: qty("4")}})
	out, unmatched := ApplyCounts(entries, []CountInput{
		{ProductID: "ZZ", CountedQty: decimal.NewFromInt(1)},
		{ProductID: "ZZ", CountedQty: decimal.NewFromInt(2)},
	}, "c", testNow)

	if len(unmatched) != 1 || unmatched[0] != "ZZ" {
		t.Errorf("unmatched = %v, want [ZZ]", unmatched)
	}
	if out[0].Status != EntryStatusPending {
		t.Errorf("P1 should be untouched, got %q", out[0].Status)
	}
}

func TestApplyCountsDuplicateProductLines(t *testing.T) {
	entries, err := BuildEntries([]EntryInput{
		{ProductID: "P1", ExpectedQty: qty("4")},
		{ProductID: "P1", ExpectedQty: qty("6")},
	})
	if err != nil {
		t.Fatalf("duplicates should be accepted: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d", len(entries))
	}

	out, _ := ApplyCounts(entries, []CountInput{{ProductID: "P1", CountedQty: decimal.NewFromInt(6)}}, "c", testNow)
	if out[0].Status != EntryStatusNeedsReview || out[1].Status != EntryStatusCounted {
		t.Errorf("statuses = %q, %q", out[0].Status, out[1].Status)
	}
}

func TestBuildEntriesEmpty(t *testing.T) {
	if _, err := BuildEntries(nil); !apperr.IsBadRequest(err) {
		t.Errorf("expected BadRequestError, got %v", err)
	}
}

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference(testNow)
	if !regexp.MustCompile(`^AUD-[0-9A-Z]+$`).MatchString(ref) {
		t.Errorf("reference %q has unexpected format", ref)
	}
	if ref == GenerateReference(testNow.Add(time.Millisecond)) {
		t.Error("references one millisecond apart should differ")
	}
}

func TestSummary(t *testing.T) {
	s := newTestSession(t, false)
	if err := s.StartCounting("m", testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordCounts([]CountInput{{ProductID: "P1", CountedQty: decimal.RequireFromString("7.5")}}, "c", testNow); err != nil {
		t.Fatal(err)
	}

	sum := s.Summary()
	if sum.TotalEntries != 2 || sum.Pending != 1 || sum.NeedsReview != 1 || sum.Counted != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if !sum.NetVariance.Equal(decimal.RequireFromString("-2.5")) {
		t.Errorf("net variance = %s", sum.NetVariance)
	}
}

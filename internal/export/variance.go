// Package export renders audit sessions into spreadsheet reports.
package export

import (
	"fmt"

	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	EntriesSheet = "Entries"
	SummarySheet = "Summary"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var entryHeadings = []any{"SKU", "Product ID", "Name", "Category", "Expected", "Counted", "Variance", "Status", "Notes", "Counted By"}

// Filename is the attachment name offered for a session's workbook.
func Filename(s *models.AuditSession) string {
	return fmt.Sprintf("%s-variance.xlsx", s.Reference)
}

// VarianceWorkbook builds a workbook with one row per entry and a summary sheet.
func VarianceWorkbook(s *models.AuditSession) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", EntriesSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(EntriesSheet, "A1", &entryHeadings); err != nil {
		return nil, err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(EntriesSheet, 1, 1, style)
	}

	for i, e := range s.Entries {
		row := []any{
			e.SKU,
			e.ProductID,
			e.Name,
			e.Category,
			e.ExpectedQty.InexactFloat64(),
			optionalNumber(e.CountedQty),
			optionalNumber(e.Variance),
			e.Status,
			deref(e.Notes),
			deref(e.LastCountedBy),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(EntriesSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(EntriesSheet, "A", "D", 18)
	_ = f.SetPanes(EntriesSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}
	sum := s.Summary()
	rows := [][]any{
		{"Reference", s.Reference},
		{"Name", s.Name},
		{"Store", s.StoreID},
		{"Status", s.Status},
		{"Entries", sum.TotalEntries},
		{"Counted", sum.Counted},
		{"Needs review", sum.NeedsReview},
		{"Pending", sum.Pending},
		{"Net variance", sum.NetVariance.InexactFloat64()},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &r); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(SummarySheet, "A", "B", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optionalNumber(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

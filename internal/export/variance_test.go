package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestVarianceWorkbook(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ten, five := decimal.NewFromInt(10), decimal.NewFromInt(5)
	s, err := models.NewSession("acme", models.NewAuditSession{
		Name:    "May count",
		StoreID: "store-1",
		Entries: []models.EntryInput{
			{ProductID: "P1", SKU: "SKU-1", Name: "Widget", ExpectedQty: &ten},
			{ProductID: "P2", SKU: "SKU-2", Name: "Gadget", ExpectedQty: &five},
		},
	}, "u-1", now)
	require.NoError(t, err)
	s.Reference = "AUD-TEST"
	require.NoError(t, s.StartCounting("u-1", now))
	_, err = s.RecordCounts([]models.CountInput{{ProductID: "P1", CountedQty: decimal.NewFromInt(8)}}, "u-2", now)
	require.NoError(t, err)

	data, err := VarianceWorkbook(s)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(EntriesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "SKU", rows[0][0])
	assert.Equal(t, "SKU-1", rows[1][0])
	assert.Equal(t, "-2", rows[1][6])
	assert.Equal(t, models.EntryStatusNeedsReview, rows[1][7])
	assert.Equal(t, models.EntryStatusPending, rows[2][7])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Reference", "AUD-TEST"}, summary[0])
	assert.Equal(t, []string{"Needs review", "1"}, summary[6])

	assert.Equal(t, "AUD-TEST-variance.xlsx", Filename(s))
}

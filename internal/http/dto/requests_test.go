package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateKeepsAbsentEntriesNil(t *testing.T) {
	var req UpdateAuditSessionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Backroom"}`), &req))
	u := req.ToModel()
	assert.Nil(t, u.Entries)
	assert.Nil(t, u.Counters)
	assert.Equal(t, "Backroom", *u.Name)
}

func TestUpdateKeepsExplicitEmptyEntries(t *testing.T) {
	var req UpdateAuditSessionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"entries":[]}`), &req))
	u := req.ToModel()
	assert.NotNil(t, u.Entries)
	assert.Empty(t, u.Entries)
}

func TestQuantitiesAcceptNumbersAndStrings(t *testing.T) {
	var req RecordCountsRequest
	require.NoError(t, json.Unmarshal([]byte(`{"counts":[{"product_id":"a","counted_qty":1.25},{"product_id":"b","counted_qty":"3"}]}`), &req))
	require.Nil(t, Validate(req))
	counts := req.ToModel()
	assert.Equal(t, "1.25", counts[0].CountedQty.String())
	assert.Equal(t, "3", counts[1].CountedQty.String())
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	req := RecordCountsRequest{Counts: []CountRequest{{ProductID: "a"}}}
	fields := Validate(req)
	assert.Equal(t, map[string]string{"counts[0].counted_qty": "required"}, fields)
}

func TestValidateAttachmentURL(t *testing.T) {
	assert.Equal(t, map[string]string{"url": "url"}, Validate(AttachmentRequest{Name: "photo", URL: "not a url"}))
	assert.Nil(t, Validate(AttachmentRequest{Name: "photo", URL: "https://cdn.example.com/a.jpg"}))
}

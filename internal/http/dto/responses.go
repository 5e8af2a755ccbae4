package dto

type ErrorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ListResponse struct {
	OK         bool `json:"ok"`
	Data       any  `json:"data"`
	Pagination any  `json:"pagination"`
}

type RecordCountsResponse struct {
	Session   any      `json:"session"`
	Unmatched []string `json:"unmatched_product_ids,omitempty"`
}

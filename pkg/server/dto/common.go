package dto

// ErrorResponse is the body of every non-2xx reply. Error is a stable
// machine-readable code such as "invalid_request" or "embedding_unavailable".
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

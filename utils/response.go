package utils

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope every donation and admin endpoint returns.
// Data carries the payload (donation record, checkout parameters, listing
// page) and is omitted for plain acknowledgements such as the webhook ack.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes an APIResponse with the given status code.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetStringValue returns the value of a nullable string pointer, or the
// empty string if nil. Used for the optional payment id on donation rows.
func GetStringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

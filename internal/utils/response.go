package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

// APIResponse is the envelope of every JSON reply of the lottery API.
// Code is a stable machine-readable reason (for example "ticket_failed")
// that clients can branch on instead of parsing Message.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Code      string      `json:"code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now().UTC(),
	}
}

// RejectedResponse reports a refused operation with its reason code.
func RejectedResponse(message, code string, data interface{}) APIResponse {
	resp := ErrorResponse(message, code)
	resp.Code = code
	resp.Data = data
	return resp
}

// WriteJSON sends resp with the given status.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(resp)
}

// Package common holds the shared response envelope and error types used by
// every handler in the promotion engine. Voucher rejections, rate limits, and
// health probes all render through the same shape.
package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload inside the envelope. Code carries machine
// codes such as VOUCHER_NOT_FOUND or RATE_LIMITED; Message is the localized
// text shown to the shopper.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

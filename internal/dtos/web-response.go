// Package dtos holds the generic REST response envelope; the chat wire
// payloads live in dtos/chat_dto.
package dtos

// Response is the body shape of every REST endpoint: exactly one of Data or
// Errors is populated, and RequestID ties the body to the request log line.
type Response[T any] struct {
	Message   string         `json:"message"`
	Data      T              `json:"data"`
	RequestID string         `json:"request_id,omitempty"`
	Errors    *ErrorResponse `json:"errors,omitempty"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

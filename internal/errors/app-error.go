package app_error

import (
	"encoding/json"
	"net/http"
)

// Kind classifies an error for callers that need to branch on failure
// semantics rather than HTTP status codes (the websocket layer, the
// client transport).
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindStorage    Kind = "storage"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

type AppError struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e AppError) Error() string {
	return e.Message
}

func (e AppError) JSON(w http.ResponseWriter) error {
	return json.NewEncoder(w).Encode(e)
}

func NewAppError(code int, kind Kind, msg, field string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: msg,
		Field:   field,
	}
}

func Auth(msg string) *AppError {
	return NewAppError(http.StatusUnauthorized, KindAuth, msg, "")
}

func Validation(msg, field string) *AppError {
	return NewAppError(http.StatusBadRequest, KindValidation, msg, field)
}

func Forbidden(msg, field string) *AppError {
	return NewAppError(http.StatusForbidden, KindValidation, msg, field)
}

func Storage(msg, field string) *AppError {
	return NewAppError(http.StatusInternalServerError, KindStorage, msg, field)
}

func NotFound(msg, field string) *AppError {
	return NewAppError(http.StatusNotFound, KindNotFound, msg, field)
}

func Conflict(msg, field string) *AppError {
	return NewAppError(http.StatusConflict, KindConflict, msg, field)
}

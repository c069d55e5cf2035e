package domain

import (
	"fmt"
	"strings"
)

// FieldError names a rejected field of a request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

// RequestError rejects a malformed request without touching session state.
type RequestError struct {
	Message string
	Fields  []FieldError
}

// NewRequestError builds a request error with an optional list of field errors.
func NewRequestError(message string, fields ...FieldError) *RequestError {
	return &RequestError{Message: message, Fields: fields}
}

func (e *RequestError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field.Field, field.Message))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

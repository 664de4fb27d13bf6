// Package apperr содержит таксономию ошибок, общую для реестра схем, записей и API.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок полей
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrUniqueViolation = "unique_violation"
	ErrNotFound        = "not_found"
	ErrReadOnly        = "readonly_field"
	ErrUnknownField    = "unknown_field"
	ErrSchemaInvalid   = "schema_invalid"
)

func Field(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError — некорректный ввод, клиент должен исправить запрос (400).
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func Invalid(msg string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: msg, Fields: fields}
}

// NotFoundError — неизвестный entity_type или entity_id (404).
type NotFoundError struct {
	Kind string // "entity type", "record", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func NotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// ConflictError — нарушение уникальности handle (409).
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(field, msg string) *ConflictError {
	return &ConflictError{Field: field, Message: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

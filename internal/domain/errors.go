package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TriageError represents a standardized error response
type TriageError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *TriageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrValidation         = "VALIDATION_ERROR"
	ErrClassifierTimeout  = "CLASSIFIER_TIMEOUT"
	ErrClassifierFault    = "CLASSIFIER_FAULT"
	ErrEnrichmentFault    = "ENRICHMENT_FAULT"
	ErrStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Sentinel errors shared across the pipeline layers.
var (
	ErrCircuitOpen        = errors.New("classifier circuit open")
	ErrModelNotLoaded     = errors.New("classifier model not loaded")
	ErrEnrichmentDisabled = errors.New("enrichment disabled")
	ErrStoreFailure       = errors.New("idempotency store unavailable")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Rule    string      `json:"rule"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// RejectionError is returned by the orchestrator when the validator rejects a
// record. It lists every violated check.
type RejectionError struct {
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Violations     []*ValidationError `json:"violations"`
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("vitals rejected (%d violations): %s", len(e.Violations), strings.Join(parts, "; "))
}

// HasViolation reports whether field failed the named rule.
func (e *RejectionError) HasViolation(field, rule string) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Rule == rule {
			return true
		}
	}
	return false
}

// NewTriageError creates a new TriageError with timestamp
func NewTriageError(code, message, details, requestID string) *TriageError {
	return &TriageError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, rule, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Rule:    rule,
		Message: message,
		Value:   value,
	}
}

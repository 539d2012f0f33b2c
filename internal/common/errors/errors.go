// Package errors provides standardized error handling for the automation engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Contact-flow errors
	ErrCodeLeadNotFound         ErrorCode = "LEAD_NOT_FOUND"
	ErrCodeActionTargetNotFound ErrorCode = "ACTION_TARGET_NOT_FOUND"
	ErrCodeRejectedByRemote     ErrorCode = "REJECTED_BY_REMOTE"
	ErrCodeConfirmationTimeout  ErrorCode = "CONFIRMATION_TIMEOUT"
	ErrCodeAborted              ErrorCode = "ABORTED"

	// Scraping / extraction errors
	ErrCodeExtractionEmpty  ErrorCode = "EXTRACTION_EMPTY"
	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"

	// Configuration errors
	ErrCodeConfigNotReady ErrorCode = "CONFIG_NOT_READY"
	ErrCodeRulesInvalid   ErrorCode = "RULES_INVALID"

	// Session-terminal errors
	ErrCodeBalanceExhausted ErrorCode = "BALANCE_EXHAUSTED"

	// Storage errors
	ErrCodeStoreReadFailed  ErrorCode = "STORE_READ_FAILED"
	ErrCodeStoreWriteFailed ErrorCode = "STORE_WRITE_FAILED"
)

// Category classifies how the scheduler reacts to a failure.
type Category string

const (
	CategoryTransient       Category = "transient"        // retried on the next natural cycle
	CategoryTerminalPerLead Category = "terminal_lead"    // lead permanently skipped
	CategoryConfigNotReady  Category = "config_not_ready" // cycle deferred until config loads
	CategorySessionTerminal Category = "session_terminal" // triggers the suspension controller
	CategoryAborted         Category = "aborted"          // operator-initiated, not an error
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

func New(code ErrorCode, message string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Retryable: GetErrorCategory(code) == CategoryTransient,
		Timestamp: time.Now().UTC(),
	}
}

func Wrap(code ErrorCode, message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: GetErrorCategory(code) == CategoryTransient,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification Helpers
// ==========================

var categories = map[ErrorCode]Category{
	ErrCodeLeadNotFound:         CategoryTransient,
	ErrCodeActionTargetNotFound: CategoryTransient,
	ErrCodeConfirmationTimeout:  CategoryTransient,
	ErrCodeExtractionEmpty:      CategoryTransient,
	ErrCodeExtractionFailed:     CategoryTransient,
	ErrCodeStoreReadFailed:      CategoryTransient,
	ErrCodeStoreWriteFailed:     CategoryTransient,
	ErrCodeRejectedByRemote:     CategoryTerminalPerLead,
	ErrCodeConfigNotReady:       CategoryConfigNotReady,
	ErrCodeRulesInvalid:         CategoryConfigNotReady,
	ErrCodeBalanceExhausted:     CategorySessionTerminal,
	ErrCodeAborted:              CategoryAborted,
}

// GetErrorCategory returns the scheduler-facing category for a code.
// Unknown codes default to transient so nothing ever crashes the session.
func GetErrorCategory(code ErrorCode) Category {
	if cat, ok := categories[code]; ok {
		return cat
	}
	return CategoryTransient
}

// Categorize normalizes any error into a StandardError and returns its category.
func Categorize(err error) (*StandardError, Category) {
	stdErr := Normalize(err)
	return stdErr, GetErrorCategory(stdErr.Code)
}

// Normalize ensures we always have a StandardError
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

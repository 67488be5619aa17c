package models

import "time"

// ErrorType classifies a row-level import failure
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeReference  ErrorType = "reference"
	ErrorTypeDuplicate  ErrorType = "duplicate"
	ErrorTypeFormat     ErrorType = "format"
	ErrorTypeRequired   ErrorType = "required"
	ErrorTypeSystem     ErrorType = "system"
)

// HardBlockers are the error types that must be resolved (not skipped) before
// a batch may commit or a session may complete.
var HardBlockers = map[ErrorType]bool{
	ErrorTypeRequired:   true,
	ErrorTypeValidation: true,
}

// Skippable reports whether an error of this type may be explicitly skipped
// by the operator without blocking completion
func (t ErrorType) Skippable() bool {
	switch t {
	case ErrorTypeReference, ErrorTypeDuplicate, ErrorTypeFormat:
		return true
	}
	return false
}

// Severity grades an import error for operator triage
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorStatus tracks the remediation state of a queued error
type ErrorStatus string

const (
	ErrorStatusOpen     ErrorStatus = "open"
	ErrorStatusSkipped  ErrorStatus = "skipped"
	ErrorStatusReviewed ErrorStatus = "reviewed"
)

// ImportError is one row-level failure produced by a validate-or-commit pass.
// SourceData preserves the raw row verbatim; SourceRowNumber is 1-based and
// stable across retries.
type ImportError struct {
	ID              string      `json:"id" db:"id"`
	SessionID       string      `json:"session_id" db:"session_id"`
	EntityType      EntityType  `json:"entity_type" db:"entity_type"`
	SourceRowNumber int         `json:"source_row_number" db:"source_row_number"`
	SourceData      Row         `json:"source_data" db:"-"`
	ErrorMessage    string      `json:"error_message" db:"error_message"`
	ErrorType       ErrorType   `json:"error_type" db:"error_type"`
	Field           string      `json:"field,omitempty" db:"field"`
	SuggestedFix    string      `json:"suggested_fix,omitempty" db:"suggested_fix"`
	CanRetry        bool        `json:"can_retry" db:"can_retry"`
	Severity        Severity    `json:"severity" db:"severity"`
	Status          ErrorStatus `json:"status" db:"status"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// SuggestedFixes is the static, rule-based guidance per error type. It is
// advisory only and never auto-mutates data.
var SuggestedFixes = map[ErrorType]string{
	ErrorTypeRequired:   "fill in the missing value or map a source column to this field",
	ErrorTypeValidation: "remove the duplicate column mapping before re-validating",
	ErrorTypeFormat:     "correct the value to match the field's expected format",
	ErrorTypeReference:  "import the referenced record first, then retry",
	ErrorTypeDuplicate:  "skip or update existing",
	ErrorTypeSystem:     "retry; contact support if the error persists",
}

// DefaultSeverity grades an error type when no rule overrides it
func DefaultSeverity(t ErrorType) Severity {
	switch t {
	case ErrorTypeRequired, ErrorTypeValidation:
		return SeverityHigh
	case ErrorTypeSystem:
		return SeverityCritical
	case ErrorTypeReference:
		return SeverityMedium
	case ErrorTypeFormat:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ErrorFilter narrows an error-queue query. Zero values match everything.
type ErrorFilter struct {
	EntityType EntityType  `json:"entity_type,omitempty"`
	ErrorType  ErrorType   `json:"error_type,omitempty"`
	Severity   Severity    `json:"severity,omitempty"`
	Status     ErrorStatus `json:"status,omitempty"`
	TextSearch string      `json:"text_search,omitempty"`
}

// BulkActionType names an operator bulk remediation
type BulkActionType string

const (
	BulkSkipAll         BulkActionType = "skip_all"
	BulkRetryAllFixable BulkActionType = "retry_all_fixable"
	BulkMarkReviewed    BulkActionType = "mark_reviewed"
)

// BulkSummary reports a bulk action per-row: successes are never rolled back
// because other rows failed.
type BulkSummary struct {
	Matched   int `json:"matched"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

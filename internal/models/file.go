package models

import (
	"fmt"
	"time"
)

// Row is one source row keyed by header. Raw values stay strings until a
// mapping resolves a target field's declared type.
type Row map[string]string

// UploadedFile is one parsed source file. Immutable once parsed; re-uploading
// replaces it rather than mutating it.
type UploadedFile struct {
	ID                string         `json:"file_id" db:"id"`
	SessionID         string         `json:"session_id" db:"session_id"`
	FileName          string         `json:"file_name" db:"file_name"`
	OriginalFileName  string         `json:"original_file_name" db:"original_file_name"`
	FileSizeBytes     int64          `json:"file_size_bytes" db:"file_size_bytes"`
	EntityType        EntityType     `json:"entity_type" db:"entity_type"`
	Headers           []string       `json:"headers" db:"-"`
	TotalRecords      int            `json:"total_records" db:"total_records"`
	PreviewRows       []Row          `json:"preview_rows" db:"-"`
	SuggestedMappings map[string]int `json:"suggested_mappings" db:"-"`
	Rows              []Row          `json:"-" db:"-"`
	UploadedAt        time.Time      `json:"uploaded_at" db:"uploaded_at"`
}

// ParseError is a file-level failure that blocks the mapping stage. When a
// delegated parse returns non-tabular content (an HTML error page instead of
// rows) RawResponse preserves the first bytes so the operator can see what
// actually came back.
type ParseError struct {
	FileName    string `json:"file_name"`
	Reason      string `json:"reason"`
	RawResponse string `json:"raw_response,omitempty"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.FileName, e.Reason)
}

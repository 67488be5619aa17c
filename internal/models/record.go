package models

// MappedRecord is one validated row expressed in target-schema fields, ready
// for the commit sink. Values are post-transformation.
type MappedRecord struct {
	EntityType      EntityType        `json:"entity_type"`
	SourceRowNumber int               `json:"source_row_number"`
	Fields          map[string]string `json:"fields"`
}

// CommitResult is the per-record outcome from the commit sink. The sink never
// silently drops a record: every submitted record gets exactly one result.
type CommitResult struct {
	SourceRowNumber int    `json:"source_row_number"`
	RecordID        string `json:"record_id,omitempty"`
	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// BatchResult aggregates one entity type's commit pass
type BatchResult struct {
	EntityType EntityType     `json:"entity_type"`
	Total      int            `json:"total"`
	Committed  int            `json:"committed"`
	Failed     int            `json:"failed"`
	Results    []CommitResult `json:"results,omitempty"`
}

package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a migration run
type SessionStatus string

const (
	SessionStatusCreated    SessionStatus = "created"
	SessionStatusUploading  SessionStatus = "uploading"
	SessionStatusMapping    SessionStatus = "mapping"
	SessionStatusValidating SessionStatus = "validating"
	SessionStatusImporting  SessionStatus = "importing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// sessionTransitions defines the legal state machine edges. The
// validating→mapping back-edge fires when a mapping is edited after a
// validation pass; prior results are discarded, not merged.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCreated:    {SessionStatusUploading, SessionStatusCancelled},
	SessionStatusUploading:  {SessionStatusUploading, SessionStatusMapping, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusMapping:    {SessionStatusUploading, SessionStatusMapping, SessionStatusValidating, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusValidating: {SessionStatusMapping, SessionStatusValidating, SessionStatusImporting, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusImporting:  {SessionStatusImporting, SessionStatusValidating, SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled},
}

// ImportSession is one migration run for a firm. It is the sole unit of
// transactional isolation: all mapping edits and validation passes are scoped
// to a session.
type ImportSession struct {
	ID               string        `json:"session_id" db:"id"`
	FirmID           string        `json:"firm_id" db:"firm_id"`
	Status           SessionStatus `json:"status" db:"status"`
	EntityTypes      []EntityType  `json:"entity_types" db:"-"`
	CommittedBatches []EntityType  `json:"committed_batches,omitempty" db:"-"`
	SkippedCount     int           `json:"skipped_count" db:"skipped_count"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// CanTransition reports whether moving to the target status is a legal edge
func (s *ImportSession) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the target status or fails with
// ErrInvalidTransition
func (s *ImportSession) Transition(to SessionStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}

// HasEntity reports whether the entity type is part of this migration run
func (s *ImportSession) HasEntity(entity EntityType) bool {
	for _, et := range s.EntityTypes {
		if et == entity {
			return true
		}
	}
	return false
}

// HasCommittedBatch reports whether a batch for the entity type has been
// committed in this session
func (s *ImportSession) HasCommittedBatch(entity EntityType) bool {
	for _, et := range s.CommittedBatches {
		if et == entity {
			return true
		}
	}
	return false
}

// AuditEvent is one entry in the session's compliance trail
type AuditEvent struct {
	ID         int64      `json:"id" db:"id"`
	SessionID  string     `json:"session_id" db:"session_id"`
	Event      string     `json:"event" db:"event"`
	EntityType EntityType `json:"entity_type,omitempty" db:"entity_type"`
	Detail     string     `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Audit event names recorded against the session trail
const (
	AuditSessionCreated   = "session_created"
	AuditFileUploaded     = "file_uploaded"
	AuditMappingsUpdated  = "mappings_updated"
	AuditValidationRun    = "validation_run"
	AuditBatchCommitted   = "batch_committed"
	AuditErrorSkipped     = "error_skipped"
	AuditErrorResolved    = "error_resolved"
	AuditSessionCompleted = "session_completed"
	AuditSessionCancelled = "session_cancelled"
	AuditSessionFailed    = "session_failed"
)

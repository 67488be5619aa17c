package models

import "errors"

// Sentinel errors shared across the pipeline stages
var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrMappingConflict   = errors.New("mapping version conflict")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrCommitBlocked     = errors.New("commit blocked by unresolved errors")
	ErrDependencyPending = errors.New("referenced entity type has no committed batch")
	ErrErrorNotFound     = errors.New("import error not found")
)
